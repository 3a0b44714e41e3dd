package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// MaxRequestBytes bounds request bodies. A submission of 200 modules with
// long outlines stays well under it.
const MaxRequestBytes = 32 << 20

// ErrBodyTooLarge is returned by DecodeJSON for bodies over MaxRequestBytes.
var ErrBodyTooLarge = errors.New("request body too large")

var validate = validator.New()

// DecodeJSON decodes a single JSON value from the request body into v.
// Trailing data after the value is rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ErrBodyTooLarge
		}
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected data after JSON body")
	}
	return nil
}

// ValidateRequest runs v's own Validate method when it has one, and the
// struct tag validator otherwise.
func ValidateRequest(v interface{}) error {
	if s, ok := v.(interface{ Validate() error }); ok {
		return s.Validate()
	}
	return validate.Struct(v)
}
