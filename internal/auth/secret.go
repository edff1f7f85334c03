package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
)

const (
	RefreshSecretBytes = 64
	CSRFSecretBytes    = 32
)

// SecretGenerator returns nBytes of cryptographically secure randomness,
// URL-safe encoded.
type SecretGenerator func(nBytes int) (string, error)

func GenerateRawToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		return "", errors.New("secret length must be positive")
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hasher turns a presented secret into its storable lookup digest.
type Hasher struct {
	pepper []byte
}

func NewHasher(pepper []byte) (*Hasher, error) {
	if len(pepper) == 0 {
		return nil, errors.New("hasher pepper is empty")
	}
	p := make([]byte, len(pepper))
	copy(p, pepper)
	return &Hasher{pepper: p}, nil
}

// Hash returns hex(HMAC-SHA256(pepper, secret)).
func (h *Hasher) Hash(secret string) string {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyDoubleSubmit checks the anti-forgery value carried by the cookie
// against the one echoed in the request header.
func VerifyDoubleSubmit(cookieValue, headerValue string) error {
	if cookieValue == "" || headerValue == "" {
		return domainauth.ErrAntiForgery
	}
	if subtle.ConstantTimeCompare([]byte(cookieValue), []byte(headerValue)) != 1 {
		return domainauth.ErrAntiForgery
	}
	return nil
}
