package vault

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/quantumlife/planner/internal/storage"
)

// Key derivation parameters (Argon2id)
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	keyLen       = 32
	saltLen      = 32
)

// Algorithm is recorded next to sealed data.
const Algorithm = "argon2id+xchacha20poly1305"

// ErrWrongPassphrase means sealed data could not be opened.
var ErrWrongPassphrase = errors.New("vault: wrong passphrase or corrupted data")

// Sealer encrypts records at rest with a passphrase-derived key
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from passphrase and salt.
func NewSealer(passphrase string, salt []byte) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("vault: empty passphrase")
	}
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keyLen)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// OpenSealer returns the sealer for this database, creating the salt on
// first use. An empty passphrase returns nil: records stay in plaintext.
func OpenSealer(ctx context.Context, records storage.Records, passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, nil
	}

	encoded, ok, err := records.Get(ctx, storage.KeyVaultSalt)
	if err != nil {
		return nil, fmt.Errorf("load salt: %w", err)
	}

	var salt []byte
	if ok {
		salt, err = base64.StdEncoding.DecodeString(string(encoded))
		if err != nil {
			return nil, fmt.Errorf("failed to decode salt: %w", err)
		}
	} else {
		salt = make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		m := storage.Put(storage.KeyVaultSalt, []byte(base64.StdEncoding.EncodeToString(salt)))
		if err := records.Apply(ctx, m); err != nil {
			return nil, fmt.Errorf("store salt: %w", err)
		}
	}

	return NewSealer(passphrase, salt)
}

// Seal encrypts plaintext; the nonce is prepended to the ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	if len(data) < s.aead.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	nonce, ciphertext := data[:s.aead.NonceSize()], data[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}
