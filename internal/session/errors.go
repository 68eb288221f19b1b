package session

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineConstruction rejects a start; the session stays Idle
	ErrEngineConstruction = errors.New("recognition engine construction failed")
	// ErrEngineFailure invalidates the current engine; the session returns to Idle
	ErrEngineFailure = errors.New("recognition engine failed")
	// ErrMalformedFrame covers bad JSON, unknown types and undecodable payloads
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrDuplicateSession rejects only the new connection
	ErrDuplicateSession = errors.New("session already registered")
	// ErrSessionClosed is returned for submissions after teardown began
	ErrSessionClosed = errors.New("session closed")

	errNilEngine = errors.New("factory returned nil engine")
)

// Engine failure stages, also used as metric labels
const (
	StageConstruct = "construct"
	StageAccept    = "accept"
	StageFlush     = "flush"
)

// EngineError wraps a backend error with the stage it happened in
type EngineError struct {
	Stage string
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Stage, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) Is(target error) bool {
	switch target {
	case ErrEngineConstruction:
		return e.Stage == StageConstruct
	case ErrEngineFailure:
		return e.Stage != StageConstruct
	}
	return false
}
