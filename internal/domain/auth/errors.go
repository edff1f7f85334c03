package auth

import "errors"

var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpiredCredential = errors.New("expired credential")
	ErrReusedCredential  = errors.New("reused credential")
	ErrAntiForgery       = errors.New("anti-forgery token mismatch")
	ErrWeakSigningKey    = errors.New("signing key is too short")
	ErrNotFound          = errors.New("not found")
)

// IsCredentialFailure reports whether err must be surfaced to callers as the
// uniform "invalid credentials" response.
func IsCredentialFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrExpiredCredential) ||
		errors.Is(err, ErrReusedCredential)
}
