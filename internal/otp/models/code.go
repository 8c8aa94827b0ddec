package models

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

const hashInfo = "commonvote otp code v1"

// GenerateCode returns a uniformly random decimal code of the given length,
// left-padded with zeros.
func GenerateCode(length int) (string, error) {
	if length < 1 || length > 18 {
		return "", fmt.Errorf("code length out of range: %d", length)
	}
	upper := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}

// CodeHasher binds codes to their challenge key with an HMAC whose key is
// derived from the configured secret.
type CodeHasher struct {
	key []byte
}

// NewCodeHasher derives the HMAC key from secret. An empty secret yields a
// random per-process key, so stored challenges do not survive a restart.
func NewCodeHasher(secret []byte) (*CodeHasher, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate hash secret: %w", err)
		}
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hashInfo)), key); err != nil {
		return nil, fmt.Errorf("derive hash key: %w", err)
	}
	return &CodeHasher{key: key}, nil
}

func (h *CodeHasher) Hash(key ChallengeKey, code string) []byte {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(key.String()))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return mac.Sum(nil)
}

// Matches compares in constant time.
func (h *CodeHasher) Matches(c *Challenge, code string) bool {
	return hmac.Equal(c.CodeHash, h.Hash(c.Key(), code))
}
