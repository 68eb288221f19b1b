package session

import "github.com/satriahrh/arunika/listener/domain/entities"

// CommandType identifies an inbound client command
type CommandType string

const (
	CommandStart CommandType = "start"
	CommandAudio CommandType = "audio"
	CommandStop  CommandType = "stop"
	// CommandInvalid carries a frame the gateway could not decode
	CommandInvalid CommandType = "invalid"
)

// Command is a decoded inbound frame
type Command struct {
	Type CommandType
	// Format is set when the frame carried explicit format fields
	Format *entities.AudioFormat
	// Audio is already transport-decoded
	Audio []byte
	Err   error
}

// EventType identifies an outbound frame
type EventType string

const (
	EventReady   EventType = "ready"
	EventStarted EventType = "started"
	EventPartial EventType = "partial"
	EventFinal   EventType = "final"
	EventError   EventType = "error"
	EventNotice  EventType = "notice"
)

// Event is an outbound frame, produced in processing order
type Event struct {
	Type    EventType
	Text    string
	Message string
}

// Emitter delivers events to the owning client. Send must not block
// indefinitely and must be safe for concurrent use.
type Emitter interface {
	Send(Event) error
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(Event) error

// Send implements Emitter
func (f EmitterFunc) Send(ev Event) error { return f(ev) }

// TranscriptRecorder receives every emitted final. Record must not block.
type TranscriptRecorder interface {
	Record(t *entities.Transcript)
}
