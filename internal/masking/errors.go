package masking

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates an empty or blank payload.
	ErrInvalidInput = errors.New("payload cannot be null or empty")

	// ErrParse indicates the payload could not be parsed as its detected format.
	ErrParse = errors.New("payload parse failed")
)

// ParseError wraps the underlying parser failure for a payload format.
type ParseError struct {
	Format PayloadType
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("error masking %s payload: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrParse) match any ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}
