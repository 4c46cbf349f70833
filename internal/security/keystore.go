// Package security stores provider API keys encrypted at rest.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"

	"parley/internal/domain"
)

const (
	encPrefix = "enc:"
	saltSize  = 16

	// defaultCacheTTL bounds how long a decrypted key is served from memory
	// before it is decrypted again.
	defaultCacheTTL = 5 * time.Minute
)

// keystoreFile is the on-disk shape: a salt and encrypted values keyed by
// provider name.
type keystoreFile struct {
	Salt string            `json:"salt"`
	Keys map[string]string `json:"keys"`
}

type cachedKey struct {
	value     string
	expiresAt time.Time
}

// Keystore holds provider API keys encrypted with AES-256-GCM under a key
// derived from a passphrase via Argon2id. The derived key and the salt live
// only in memory; the file carries ciphertext.
//
// Keystore implements domain.CredentialSource: an empty result means no
// usable credential, which the coordinator surfaces as an auth failure.
type Keystore struct {
	path string
	ttl  time.Duration

	mu    sync.RWMutex
	key   []byte // 32 bytes
	salt  []byte
	keys  map[string]string // provider -> "enc:..." ciphertext
	cache map[string]cachedKey
}

// Compile-time interface check.
var _ domain.CredentialSource = (*Keystore)(nil)

// OpenKeystore loads (or initializes) the keystore at path using passphrase.
// A zero cacheTTL uses the default.
func OpenKeystore(path, passphrase string, cacheTTL time.Duration) (*Keystore, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("open keystore: %w", domain.NewDomainError("Keystore", domain.ErrDecryption, "passphrase must not be empty"))
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}

	ks := &Keystore{
		path:  path,
		ttl:   cacheTTL,
		keys:  make(map[string]string),
		cache: make(map[string]cachedKey),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		ks.salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, ks.salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read keystore: %w", err)
	default:
		var file keystoreFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse keystore: %w", err)
		}
		ks.salt, err = base64.StdEncoding.DecodeString(file.Salt)
		if err != nil || len(ks.salt) != saltSize {
			return nil, domain.NewDomainError("Keystore", domain.ErrDecryption, "corrupt salt")
		}
		if file.Keys != nil {
			ks.keys = file.Keys
		}
	}

	ks.key = deriveKey(passphrase, ks.salt)
	return ks, nil
}

// GetAPIKey implements domain.CredentialSource. The model parameter selects a
// model-specific override ("provider/model") when one is stored, falling back
// to the provider-wide key. Returns "" when no key is stored or the
// passphrase cannot decrypt it.
func (ks *Keystore) GetAPIKey(provider, model string) string {
	if model != "" {
		if key := ks.lookup(provider + "/" + model); key != "" {
			return key
		}
	}
	return ks.lookup(provider)
}

func (ks *Keystore) lookup(name string) string {
	now := time.Now()

	ks.mu.RLock()
	if entry, ok := ks.cache[name]; ok && now.Before(entry.expiresAt) {
		ks.mu.RUnlock()
		return entry.value
	}
	ciphertext, ok := ks.keys[name]
	ks.mu.RUnlock()
	if !ok {
		return ""
	}

	plaintext, err := ks.decrypt(ciphertext)
	if err != nil {
		return ""
	}

	ks.mu.Lock()
	ks.cache[name] = cachedKey{value: plaintext, expiresAt: now.Add(ks.ttl)}
	ks.mu.Unlock()
	return plaintext
}

// SetAPIKey encrypts and stores a key under name (a provider, or
// "provider/model" for a model-specific override) and saves the file.
func (ks *Keystore) SetAPIKey(name, value string) error {
	ciphertext, err := ks.encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}

	ks.mu.Lock()
	ks.keys[name] = ciphertext
	delete(ks.cache, name)
	ks.mu.Unlock()

	return ks.save()
}

// DeleteAPIKey removes a stored key. Deleting an absent key is a no-op.
func (ks *Keystore) DeleteAPIKey(name string) error {
	ks.mu.Lock()
	delete(ks.keys, name)
	delete(ks.cache, name)
	ks.mu.Unlock()

	return ks.save()
}

// Providers lists the names that have a stored key.
func (ks *Keystore) Providers() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	names := make([]string, 0, len(ks.keys))
	for name := range ks.keys {
		names = append(names, name)
	}
	return names
}

// Zeroize clears the derived key and the plaintext cache. Call on shutdown.
func (ks *Keystore) Zeroize() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	for i := range ks.key {
		ks.key[i] = 0
	}
	ks.cache = make(map[string]cachedKey)
}

func (ks *Keystore) save() error {
	ks.mu.RLock()
	file := keystoreFile{
		Salt: base64.StdEncoding.EncodeToString(ks.salt),
		Keys: make(map[string]string, len(ks.keys)),
	}
	for name, v := range ks.keys {
		file.Keys[name] = v
	}
	ks.mu.RUnlock()

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keystore: %w", err)
	}
	if dir := filepath.Dir(ks.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create keystore dir: %w", err)
		}
	}
	// Keys only; the file itself is ciphertext but still mode 0600.
	if err := os.WriteFile(ks.path, data, 0o600); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	return nil
}

// encrypt returns "enc:" + base64(nonce + ciphertext).
func (ks *Keystore) encrypt(plaintext string) (string, error) {
	gcm, err := ks.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// decrypt reverses encrypt. Input without the "enc:" prefix is returned
// as-is, so hand-edited plaintext entries keep working.
func (ks *Keystore) decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, encPrefix) {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, encPrefix))
	if err != nil {
		return "", domain.NewDomainError("Keystore", domain.ErrDecryption, "base64 decode")
	}

	gcm, err := ks.gcm()
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", domain.NewDomainError("Keystore", domain.ErrDecryption, "ciphertext too short")
	}

	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", domain.NewDomainError("Keystore", domain.ErrDecryption, "gcm open")
	}
	return string(plaintext), nil
}

func (ks *Keystore) gcm() (cipher.AEAD, error) {
	ks.mu.RLock()
	key := make([]byte, len(ks.key))
	copy(key, ks.key)
	ks.mu.RUnlock()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// deriveKey uses Argon2id to derive a 32-byte key.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}
