package apikeys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	keySize = 32
	ivSize  = 16

	devKey = "dev-only-key-not-for-production!!"
)

var (
	ErrKeyRequired = errors.New("apikeys: ENCRYPTION_KEY is required in production")
	ErrKeyTooShort = errors.New("apikeys: ENCRYPTION_KEY must be at least 32 characters")
	ErrCorrupt     = errors.New("apikeys: sealed key is corrupt")
)

// Sealed is an AES-256-GCM ciphertext split into its stored columns, hex encoded.
type Sealed struct {
	Encrypted string `json:"api_key_encrypted"`
	IV        string `json:"encryption_iv"`
	AuthTag   string `json:"encryption_auth_tag"`
}

// Sealer encrypts provider API keys at rest.
type Sealer struct {
	aead   cipher.AEAD
	rand   io.Reader
	devKey bool
}

// NewSealer uses the first 32 bytes of secret. An empty secret falls back to
// a fixed development key unless production is set.
func NewSealer(secret string, production bool) (*Sealer, error) {
	dev := false
	if secret == "" {
		if production {
			return nil, ErrKeyRequired
		}
		secret, dev = devKey, true
	}
	if len(secret) < keySize {
		return nil, ErrKeyTooShort
	}
	block, err := aes.NewCipher([]byte(secret[:keySize]))
	if err != nil {
		return nil, fmt.Errorf("apikeys: cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("apikeys: gcm: %w", err)
	}
	return &Sealer{aead: aead, rand: rand.Reader, devKey: dev}, nil
}

// UsingDevKey reports whether the development fallback key is in use.
func (s *Sealer) UsingDevKey() bool { return s.devKey }

func (s *Sealer) Seal(plaintext string) (Sealed, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(s.rand, iv); err != nil {
		return Sealed{}, fmt.Errorf("apikeys: iv: %w", err)
	}
	out := s.aead.Seal(nil, iv, []byte(plaintext), nil)
	tagAt := len(out) - s.aead.Overhead()
	return Sealed{
		Encrypted: hex.EncodeToString(out[:tagAt]),
		IV:        hex.EncodeToString(iv),
		AuthTag:   hex.EncodeToString(out[tagAt:]),
	}, nil
}

func (s *Sealer) Open(k Sealed) (string, error) {
	ct, err := hex.DecodeString(k.Encrypted)
	if err != nil {
		return "", ErrCorrupt
	}
	iv, err := hex.DecodeString(k.IV)
	if err != nil || len(iv) != ivSize {
		return "", ErrCorrupt
	}
	tag, err := hex.DecodeString(k.AuthTag)
	if err != nil || len(tag) != s.aead.Overhead() {
		return "", ErrCorrupt
	}
	plain, err := s.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrCorrupt
	}
	return string(plain), nil
}
