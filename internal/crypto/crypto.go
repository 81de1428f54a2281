// Package crypto handles the age identity used to keep provider API keys
// encrypted at rest. Keys live in configuration only in encrypted form and
// are decrypted in memory when a provider client needs them.
package crypto

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"github.com/newsroom-ai/newsroom/pkg/types"
)

const payloadVersion = 1

// GenerateIdentity creates a new age identity and writes it to path with
// owner-only permissions. Fails if the file already exists.
func GenerateIdentity(path string) (*age.X25519Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("identity file already exists: %s", path)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create identity dir: %w", err)
		}
	}

	content := fmt.Sprintf("# public key: %s\n%s\n", identity.Recipient(), identity)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return nil, fmt.Errorf("failed to write identity: %w", err)
	}

	return identity, nil
}

// LoadIdentity reads an age identity file, skipping comment lines.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("failed to parse identity: %w", err)
		}
		return identity, nil
	}

	return nil, fmt.Errorf("no identity found in %s", path)
}

// Encrypt seals plaintext to the recipient.
func Encrypt(recipient *age.X25519Recipient, plaintext []byte) (*types.EncryptedPayload, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to start encryption: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize encryption: %w", err)
	}

	return &types.EncryptedPayload{
		Version:    payloadVersion,
		Recipient:  recipient.String(),
		Ciphertext: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Decrypt opens a payload with the identity.
func Decrypt(identity age.Identity, payload *types.EncryptedPayload) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read plaintext: %w", err)
	}
	return plaintext, nil
}

// EncryptString seals a string and returns the base64 ciphertext, the form
// stored in configuration files.
func EncryptString(recipient *age.X25519Recipient, plaintext string) (string, error) {
	payload, err := Encrypt(recipient, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return payload.Ciphertext, nil
}

// DecryptString opens a base64 ciphertext produced by EncryptString.
func DecryptString(identity age.Identity, ciphertext string) (string, error) {
	plaintext, err := Decrypt(identity, &types.EncryptedPayload{
		Version:    payloadVersion,
		Ciphertext: ciphertext,
	})
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
