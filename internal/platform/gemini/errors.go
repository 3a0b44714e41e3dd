package gemini

import "errors"

// ErrEmptySubsection rejects a request before any API call is made.
var ErrEmptySubsection = errors.New("subsection title cannot be empty")
