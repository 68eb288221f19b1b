package api

import (
	"time"

	"github.com/satriahrh/arunika/listener/domain/entities"
)

// TokenRequest represents the request payload for issuing a token
type TokenRequest struct {
	ClientID  string `json:"client_id"`
	Role      string `json:"role,omitempty"`
	IssuerKey string `json:"issuer_key"`
}

// TokenResponse represents the response payload for an issued token
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ClientID  string    `json:"client_id"`
	Role      string    `json:"role"`
}

// HealthResponse is returned by /health
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Sessions int    `json:"sessions"`
}

// SessionsResponse lists active sessions
type SessionsResponse struct {
	Sessions []entities.SessionInfo `json:"sessions"`
}

// TranscriptsResponse lists stored finals for one session
type TranscriptsResponse struct {
	SessionID   string                 `json:"session_id"`
	Transcripts []*entities.Transcript `json:"transcripts"`
}

// BroadcastRequest carries the notice text
type BroadcastRequest struct {
	Message string `json:"message"`
}

// BroadcastResponse reports how many sessions received the notice
type BroadcastResponse struct {
	Delivered int `json:"delivered"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
