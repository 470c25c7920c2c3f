package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidToken covers bad signature, wrong algorithm, wrong issuer and expiry.
	ErrInvalidToken = errors.New("auth: invalid token")
)
