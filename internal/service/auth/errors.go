package auth

import "errors"

var (
	// ErrInvalidToken covers malformed tokens, bad signatures and
	// unexpected signing methods.
	ErrInvalidToken = errors.New("invalid authentication token")

	ErrExpiredToken = errors.New("authentication token has expired")

	// ErrTokenNotYetValid is returned while the nbf claim is in the future.
	ErrTokenNotYetValid = errors.New("authentication token not yet valid")

	ErrMissingSubject = errors.New("token subject is required")
)
