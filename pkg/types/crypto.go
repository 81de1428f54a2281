package types

// EncryptedPayload wraps age-encrypted data for storage in config or the
// shared store. Used for provider API keys consumed by the model router.
type EncryptedPayload struct {
	Version    int    `json:"version" yaml:"version"`
	Recipient  string `json:"recipient,omitempty" yaml:"recipient,omitempty"` // Public key hint
	Ciphertext string `json:"ciphertext" yaml:"ciphertext"`                   // base64-encoded
}
