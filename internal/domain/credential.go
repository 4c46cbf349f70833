package domain

// CredentialSource resolves API credentials for providers. Implementations
// are expected to cache lookups with an expiry; the streaming core treats an
// empty result as an auth failure.
type CredentialSource interface {
	// GetAPIKey returns the credential for the provider, optionally
	// specialized per model. Returns "" when no credential is available.
	GetAPIKey(provider, model string) string
}

// StaticCredentials is a CredentialSource backed by a fixed map, keyed by
// provider name. Used for config-supplied keys and in tests.
type StaticCredentials map[string]string

// GetAPIKey implements CredentialSource.
func (s StaticCredentials) GetAPIKey(provider, _ string) string {
	return s[provider]
}
