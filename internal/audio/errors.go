package audio

import (
	"errors"
	"fmt"

	"github.com/satriahrh/arunika/listener/domain/entities"
)

// ErrConversionFailed is matched by every AudioError
var ErrConversionFailed = errors.New("audio conversion failed")

// AudioError reports why one chunk could not be normalized
type AudioError struct {
	Format entities.AudioFormat
	Reason string
	Err    error
}

func (e *AudioError) Error() string {
	msg := fmt.Sprintf("%s: %s (%s)", ErrConversionFailed, e.Reason, e.Format.Encoding)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AudioError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConversionFailed) hold regardless of the cause
func (e *AudioError) Is(target error) bool {
	return target == ErrConversionFailed
}

func conversionError(format entities.AudioFormat, reason string, err error) error {
	return &AudioError{Format: format, Reason: reason, Err: err}
}
