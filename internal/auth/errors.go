package auth

import "errors"

// Credential validation errors.
var (
	ErrMissingCredential = errors.New("missing auth credential")
	ErrInvalidToken      = errors.New("invalid or expired token")
	ErrIdentityMismatch  = errors.New("token subject does not match claimed user")
)
