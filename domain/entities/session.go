package entities

import (
	"errors"
	"time"
)

// SessionState represents the lifecycle state of a recognition session
type SessionState int32

const (
	SessionStateIdle SessionState = iota
	SessionStateRecording
	SessionStateClosing
	SessionStateClosed
)

// String returns the lowercase name used in logs and the admin API
func (s SessionState) String() string {
	switch s {
	case SessionStateIdle:
		return "idle"
	case SessionStateRecording:
		return "recording"
	case SessionStateClosing:
		return "closing"
	case SessionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText lets the state appear by name in JSON
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reports whether no further frames may be processed
func (s SessionState) IsTerminal() bool {
	return s == SessionStateClosed
}

// SessionInfo is a point-in-time view of a session, safe to hand out of the registry
type SessionInfo struct {
	ID         string       `json:"id"`
	State      SessionState `json:"state"`
	RemoteAddr string       `json:"remote_addr,omitempty"`
	Format     AudioFormat  `json:"format"`
	CreatedAt  time.Time    `json:"created_at"`
	Finals     int          `json:"finals"`
}

// Validate validates the snapshot data
func (s *SessionInfo) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.State < SessionStateIdle || s.State > SessionStateClosed {
		return errors.New("invalid session state")
	}
	return nil
}
