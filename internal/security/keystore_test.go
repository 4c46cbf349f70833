package security

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "keys.json")
}

func TestKeystoreSetAndGet(t *testing.T) {
	ks, err := OpenKeystore(testPath(t), "correct horse battery staple", 0)
	require.NoError(t, err)

	require.NoError(t, ks.SetAPIKey("anthropic", "sk-ant-secret"))
	assert.Equal(t, "sk-ant-secret", ks.GetAPIKey("anthropic", ""))
	assert.Equal(t, "sk-ant-secret", ks.GetAPIKey("anthropic", "claude-sonnet"))
}

func TestKeystoreModelOverride(t *testing.T) {
	ks, err := OpenKeystore(testPath(t), "pass", 0)
	require.NoError(t, err)

	require.NoError(t, ks.SetAPIKey("openai", "provider-wide"))
	require.NoError(t, ks.SetAPIKey("openai/gpt-4o", "model-specific"))

	assert.Equal(t, "model-specific", ks.GetAPIKey("openai", "gpt-4o"))
	assert.Equal(t, "provider-wide", ks.GetAPIKey("openai", "gpt-4o-mini"))
}

func TestKeystoreMissingKeyIsEmpty(t *testing.T) {
	ks, err := OpenKeystore(testPath(t), "pass", 0)
	require.NoError(t, err)
	assert.Empty(t, ks.GetAPIKey("nowhere", ""))
}

func TestKeystorePersistsAcrossReopen(t *testing.T) {
	path := testPath(t)

	ks, err := OpenKeystore(path, "pass", 0)
	require.NoError(t, err)
	require.NoError(t, ks.SetAPIKey("gemini", "AIza-secret"))

	reopened, err := OpenKeystore(path, "pass", 0)
	require.NoError(t, err)
	assert.Equal(t, "AIza-secret", reopened.GetAPIKey("gemini", ""))
}

func TestKeystoreWrongPassphraseYieldsEmpty(t *testing.T) {
	path := testPath(t)

	ks, err := OpenKeystore(path, "right", 0)
	require.NoError(t, err)
	require.NoError(t, ks.SetAPIKey("anthropic", "sk-secret"))

	wrong, err := OpenKeystore(path, "wrong", 0)
	require.NoError(t, err)
	assert.Empty(t, wrong.GetAPIKey("anthropic", ""), "undecryptable key reads as absent, surfacing as auth failure")
}

func TestKeystoreCiphertextOnDisk(t *testing.T) {
	path := testPath(t)
	ks, err := OpenKeystore(path, "pass", 0)
	require.NoError(t, err)
	require.NoError(t, ks.SetAPIKey("anthropic", "sk-very-secret-value"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-very-secret-value")

	var file keystoreFile
	require.NoError(t, json.Unmarshal(raw, &file))
	assert.True(t, strings.HasPrefix(file.Keys["anthropic"], encPrefix))
}

func TestKeystorePlaintextPassthrough(t *testing.T) {
	path := testPath(t)
	ks, err := OpenKeystore(path, "pass", 0)
	require.NoError(t, err)

	// Hand-edited plaintext entries keep working.
	ks.mu.Lock()
	ks.keys["local"] = "not-encrypted"
	ks.mu.Unlock()

	assert.Equal(t, "not-encrypted", ks.GetAPIKey("local", ""))
}

func TestKeystoreDelete(t *testing.T) {
	ks, err := OpenKeystore(testPath(t), "pass", 0)
	require.NoError(t, err)

	require.NoError(t, ks.SetAPIKey("openrouter", "sk-or"))
	require.NoError(t, ks.DeleteAPIKey("openrouter"))
	assert.Empty(t, ks.GetAPIKey("openrouter", ""))

	require.NoError(t, ks.DeleteAPIKey("openrouter"), "deleting an absent key is a no-op")
}

func TestKeystoreCacheServesWithinTTL(t *testing.T) {
	ks, err := OpenKeystore(testPath(t), "pass", time.Hour)
	require.NoError(t, err)
	require.NoError(t, ks.SetAPIKey("anthropic", "sk-1"))

	require.Equal(t, "sk-1", ks.GetAPIKey("anthropic", ""))

	// Break the stored ciphertext; the cached plaintext still serves.
	ks.mu.Lock()
	ks.keys["anthropic"] = "enc:garbage"
	ks.mu.Unlock()

	assert.Equal(t, "sk-1", ks.GetAPIKey("anthropic", ""))
}

func TestKeystoreZeroize(t *testing.T) {
	ks, err := OpenKeystore(testPath(t), "pass", 0)
	require.NoError(t, err)
	require.NoError(t, ks.SetAPIKey("anthropic", "sk-1"))
	require.Equal(t, "sk-1", ks.GetAPIKey("anthropic", ""))

	ks.Zeroize()
	assert.Empty(t, ks.GetAPIKey("anthropic", ""), "zeroized keystore cannot decrypt")
}

func TestKeystoreEmptyPassphrase(t *testing.T) {
	_, err := OpenKeystore(testPath(t), "", 0)
	assert.Error(t, err)
}

func TestKeystoreCorruptFile(t *testing.T) {
	path := testPath(t)
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := OpenKeystore(path, "pass", 0)
	assert.Error(t, err)
}
