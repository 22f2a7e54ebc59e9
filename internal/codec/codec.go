// Package codec turns short identifiers into opaque, URL-safe tokens.
//
// Tokens are XChaCha20-Poly1305 ciphertexts under a process-wide key that is
// persisted to disk, so tokens issued before a restart stay decryptable.
// The codec hides what a token refers to; it is not an access control
// mechanism on its own.
package codec

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length of the symmetric key in bytes.
const KeySize = chacha20poly1305.KeySize

var tokenEncoding = base64.RawURLEncoding

// Codec encrypts and decrypts payloads. It is safe for concurrent use.
type Codec struct {
	key []byte
}

// New returns a Codec using key, which must be KeySize bytes.
func New(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("codec key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Codec{key: k}, nil
}

// Encrypt seals payload under a fresh random nonce. Encrypting the same
// payload twice yields different tokens.
func (c *Codec) Encrypt(payload []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(payload)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, payload, nil)
	return tokenEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt. Malformed, truncated or
// tampered tokens report ok=false; Decrypt never returns an error.
func (c *Codec) Decrypt(token string) (payload []byte, ok bool) {
	raw, err := tokenEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return nil, false
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, false
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, false
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

// GenerateKey returns a new random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// LoadOrCreateKey reads the key stored at path, creating the file with a new
// key when it does not exist. created reports whether a key was generated.
//
// The file is created with O_EXCL: if another process creates it first, the
// winner's key is read instead of overwriting it.
func LoadOrCreateKey(path string) (key []byte, created bool, err error) {
	key, err = readKeyFile(path)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	key, err = GenerateKey()
	if err != nil {
		return nil, false, err
	}
	if err := writeKeyFile(path, key); err != nil {
		if errors.Is(err, fs.ErrExist) {
			key, err = readKeyFile(path)
			return key, false, err
		}
		return nil, false, err
	}
	return key, true, nil
}

// Load opens the key file at path (creating it if needed) and returns a
// Codec for it.
func Load(path string) (*Codec, bool, error) {
	key, created, err := LoadOrCreateKey(path)
	if err != nil {
		return nil, false, err
	}
	c, err := New(key)
	if err != nil {
		return nil, false, err
	}
	return c, created, nil
}

func readKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := base64.URLEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode key file %s: %w", path, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key file %s holds %d bytes, want %d", path, len(key), KeySize)
	}
	return key, nil
}

func writeKeyFile(path string, key []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(base64.URLEncoding.EncodeToString(key) + "\n"); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
