package transfer

import (
	"errors"
	"fmt"
)

// ErrMissingValue is returned when a value read for an enumerated key
// comes back empty.
var ErrMissingValue = errors.New("missing value")

// MissingValueError names the key whose value was empty.
type MissingValueError struct {
	Key string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("missing value for key %q", e.Key)
}

func (e *MissingValueError) Unwrap() error { return ErrMissingValue }
