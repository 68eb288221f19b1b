package websocket

import (
	"errors"
	"testing"

	"github.com/satriahrh/arunika/listener/internal/session"
)

func TestMessageValidator_ValidateMessage(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name     string
		message  string
		wantType session.CommandType
		wantErr  bool
	}{
		{name: "start", message: `{"type":"start"}`, wantType: session.CommandStart},
		{name: "stop", message: `{"type":"stop"}`, wantType: session.CommandStop},
		{name: "audio", message: `{"type":"audio","data":"SGVsbG8="}`, wantType: session.CommandAudio},
		{name: "audio without data", message: `{"type":"audio"}`, wantType: session.CommandAudio},
		{name: "invalid json", message: `{invalid json}`, wantErr: true},
		{name: "missing type", message: `{"data":"SGVsbG8="}`, wantErr: true},
		{name: "unknown type", message: `{"type":"listening_start"}`, wantErr: true},
		{name: "wrong field type", message: `{"type":"start","sample_rate":"fast"}`, wantErr: true},
		{name: "bad base64", message: `{"type":"audio","data":"not base64!"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := validator.ValidateMessage([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, session.ErrMalformedFrame) {
					t.Errorf("Expected ErrMalformedFrame, got %v", err)
				}
				var protoErr *ProtocolError
				if !errors.As(err, &protoErr) {
					t.Errorf("Expected *ProtocolError, got %T", err)
				}
				return
			}
			if cmd.Type != tt.wantType {
				t.Errorf("Expected command %s, got %s", tt.wantType, cmd.Type)
			}
		})
	}
}

func TestMessageValidator_AudioPayload(t *testing.T) {
	validator := NewMessageValidator()

	cmd, err := validator.ValidateMessage([]byte(`{"type":"audio","data":"SGVsbG8=","format":"webm"}`))
	if err != nil {
		t.Fatalf("ValidateMessage() error = %v", err)
	}
	if string(cmd.Audio) != "Hello" {
		t.Errorf("Expected decoded payload 'Hello', got %q", cmd.Audio)
	}
	if cmd.Format == nil || cmd.Format.Encoding != "webm" {
		t.Errorf("Expected per-chunk format webm, got %+v", cmd.Format)
	}
}

func TestMessageValidator_StartFormat(t *testing.T) {
	validator := NewMessageValidator()

	cmd, err := validator.ValidateMessage([]byte(`{"type":"start"}`))
	if err != nil {
		t.Fatalf("ValidateMessage() error = %v", err)
	}
	if cmd.Format != nil {
		t.Errorf("Expected no format for bare start, got %+v", cmd.Format)
	}

	cmd, err = validator.ValidateMessage([]byte(`{"type":"start","format":"pcm","sample_rate":48000,"channels":2}`))
	if err != nil {
		t.Fatalf("ValidateMessage() error = %v", err)
	}
	if cmd.Format == nil || cmd.Format.SampleRate != 48000 || cmd.Format.Channels != 2 {
		t.Errorf("Expected 48000 Hz stereo, got %+v", cmd.Format)
	}
}

func TestMessageValidator_BinaryAudio(t *testing.T) {
	cmd := NewMessageValidator().BinaryAudio([]byte{1, 2})
	if cmd.Type != session.CommandAudio || len(cmd.Audio) != 2 || cmd.Format != nil {
		t.Errorf("Unexpected command: %+v", cmd)
	}
}

func TestEncodeEvent(t *testing.T) {
	tests := []struct {
		event session.Event
		want  string
	}{
		{session.Event{Type: session.EventReady}, `{"type":"ready"}`},
		{session.Event{Type: session.EventPartial, Text: "hel"}, `{"type":"partial","text":"hel"}`},
		{session.Event{Type: session.EventError, Message: "not recording"}, `{"type":"error","message":"not recording"}`},
	}

	for _, tt := range tests {
		got, err := EncodeEvent(tt.event)
		if err != nil {
			t.Fatalf("EncodeEvent() error = %v", err)
		}
		if string(got) != tt.want {
			t.Errorf("Expected %s, got %s", tt.want, got)
		}
	}
}

func TestCreateErrorMessage(t *testing.T) {
	errorMsg := CreateErrorMessage("Test error message")

	if errorMsg.Type != MessageTypeError {
		t.Errorf("Expected type %s, got %s", MessageTypeError, errorMsg.Type)
	}
	if errorMsg.Message != "Test error message" {
		t.Errorf("Expected message %s, got %s", "Test error message", errorMsg.Message)
	}
}
