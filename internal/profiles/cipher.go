package profiles

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Cipher encrypts and decrypts profile payloads at rest. The default
// implementation derives per-purpose subkeys from a 32-byte master key via
// HKDF-SHA256 and seals with AES-256-GCM.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	EncryptString(plaintext string) (string, error)
	DecryptString(encoded string) (string, error)
}

// AESGCMCipher is the default Cipher, keyed by a 32-byte master key loaded
// or generated by KeyStore.
type AESGCMCipher struct {
	key []byte
}

func NewAESGCMCipher(key []byte) (*AESGCMCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("profiles: master key must be 32 bytes, got %d", len(key))
	}
	return &AESGCMCipher{key: key}, nil
}

// DeriveKey returns a purpose-scoped, deterministic subkey of length bytes
// derived from the master key via HKDF-SHA256.
func (c *AESGCMCipher) DeriveKey(purpose string, length int) ([]byte, error) {
	if c == nil || len(c.key) == 0 {
		return nil, fmt.Errorf("profiles: cipher has no key")
	}
	if length <= 0 {
		return nil, fmt.Errorf("profiles: invalid derive length %d", length)
	}
	if purpose == "" {
		return nil, fmt.Errorf("profiles: derive purpose must not be empty")
	}
	r := hkdf.New(newSHA256, c.key, nil, []byte(purpose))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("profiles: derive key: %w", err)
	}
	return out, nil
}

func (c *AESGCMCipher) gcm() (cipher.AEAD, error) {
	if len(c.key) != 32 {
		return nil, fmt.Errorf("profiles: invalid key length %d", len(c.key))
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (c *AESGCMCipher) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("profiles: read nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *AESGCMCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	ns := gcm.NonceSize()
	if len(ciphertext) < ns {
		return nil, fmt.Errorf("profiles: ciphertext too short")
	}
	nonce, sealed := ciphertext[:ns], ciphertext[ns:]
	return gcm.Open(nil, nonce, sealed, nil)
}

func (c *AESGCMCipher) EncryptString(plaintext string) (string, error) {
	b, err := c.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func (c *AESGCMCipher) DecryptString(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("profiles: invalid base64: %w", err)
	}
	b, err := c.Decrypt(raw)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
