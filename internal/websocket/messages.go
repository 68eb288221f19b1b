package websocket

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/satriahrh/arunika/listener/domain/entities"
	"github.com/satriahrh/arunika/listener/internal/session"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Inbound message types
const (
	MessageTypeStart MessageType = "start"
	MessageTypeAudio MessageType = "audio"
	MessageTypeStop  MessageType = "stop"
)

// Outbound message types
const (
	MessageTypeReady   MessageType = "ready"
	MessageTypeStarted MessageType = "started"
	MessageTypePartial MessageType = "partial"
	MessageTypeFinal   MessageType = "final"
	MessageTypeError   MessageType = "error"
	MessageTypeNotice  MessageType = "notice"
)

// InboundMessage is a control or audio frame from the client
type InboundMessage struct {
	Type MessageType `json:"type"`
	// Data is base64 audio, only for audio frames
	Data       string `json:"data,omitempty"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// OutboundMessage is a result or status frame sent to the client
type OutboundMessage struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ProtocolError describes a frame that could not be decoded
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", session.ErrMalformedFrame, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", session.ErrMalformedFrame, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool {
	return target == session.ErrMalformedFrame
}

// MessageValidator decodes inbound frames into session commands
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage decodes a text frame
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (session.Command, error) {
	var msg InboundMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return session.Command{}, &ProtocolError{Reason: "invalid JSON format", Err: err}
		}
		return session.Command{}, &ProtocolError{Reason: "invalid frame fields", Err: err}
	}

	switch msg.Type {
	case MessageTypeStart:
		return session.Command{Type: session.CommandStart, Format: msg.format()}, nil

	case MessageTypeAudio:
		data, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			return session.Command{}, &ProtocolError{Reason: "audio data is not valid base64", Err: err}
		}
		return session.Command{Type: session.CommandAudio, Audio: data, Format: msg.format()}, nil

	case MessageTypeStop:
		return session.Command{Type: session.CommandStop}, nil

	case "":
		return session.Command{}, &ProtocolError{Reason: "message missing type field"}

	default:
		return session.Command{}, &ProtocolError{Reason: fmt.Sprintf("unsupported message type: %s", msg.Type)}
	}
}

// BinaryAudio wraps a binary frame as audio in the session's negotiated format
func (v *MessageValidator) BinaryAudio(data []byte) session.Command {
	return session.Command{Type: session.CommandAudio, Audio: data}
}

func (m *InboundMessage) format() *entities.AudioFormat {
	if m.Format == "" && m.SampleRate == 0 && m.Channels == 0 {
		return nil
	}
	return &entities.AudioFormat{
		Encoding:   m.Format,
		SampleRate: m.SampleRate,
		Channels:   m.Channels,
	}
}

// EncodeEvent renders a session event as a JSON text frame
func EncodeEvent(ev session.Event) ([]byte, error) {
	return json.Marshal(OutboundMessage{
		Type:    MessageType(ev.Type),
		Text:    ev.Text,
		Message: ev.Message,
	})
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(message string) *OutboundMessage {
	return &OutboundMessage{
		Type:    MessageTypeError,
		Message: message,
	}
}
