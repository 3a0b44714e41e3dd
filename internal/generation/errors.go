package generation

import (
	"context"
	"errors"
)

// Generator failures. Every one is retried within the attempt budget,
// except ErrContentBlocked when the retry policy fails fast on rejections.
var (
	ErrGenerationFailed = errors.New("failed to generate subsection content")

	// ErrInvalidResponse means the model answered with unparsable content.
	ErrInvalidResponse = errors.New("invalid response from language model")

	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure covers rate limits, timeouts and 5xx responses.
	ErrTransientFailure = errors.New("transient error during content generation")

	ErrInvalidConfig = errors.New("invalid generator configuration")
)

// IsRejection reports whether err is a permanent refusal by the backend.
func IsRejection(err error) bool {
	return errors.Is(err, ErrContentBlocked)
}

// IsTransient reports whether err is likely to clear on retry: a transient
// backend failure or a per-call deadline.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientFailure) || errors.Is(err, context.DeadlineExceeded)
}
