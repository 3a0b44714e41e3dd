package domain

import "errors"

var (
	// ErrValidation is wrapped with the specific reason a submission,
	// job or document was rejected.
	ErrValidation = errors.New("validation failed")

	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidJobStatus rejects status strings outside the four
	// lifecycle states.
	ErrInvalidJobStatus = errors.New("invalid job status")
)
