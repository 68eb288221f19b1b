package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/entities"
	"github.com/satriahrh/arunika/listener/internal/auth"
	"github.com/satriahrh/arunika/listener/internal/metrics"
	"github.com/satriahrh/arunika/listener/internal/session"
	"github.com/satriahrh/arunika/listener/internal/websocket"
	"github.com/satriahrh/arunika/listener/usecase"
)

const (
	claimsKey         = "claims"
	maxTranscriptList = 1000
)

// TranscriptLister reads stored transcripts
type TranscriptLister interface {
	List(ctx context.Context, sessionID string, limit int) ([]*entities.Transcript, error)
}

// Dependencies are the services the routes call into. Transcripts, Synthesis
// and Metrics are optional and disable their endpoints when nil; a nil Auth
// leaves every route open.
type Dependencies struct {
	ServiceName string
	Gateway     *websocket.Gateway
	Registry    *session.Registry
	Transcripts TranscriptLister
	Synthesis   *usecase.SynthesisService
	Auth        *auth.Manager
	IssuerKey   string
	Metrics     *metrics.Metrics
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	if deps.ServiceName == "" {
		deps.ServiceName = "listener"
	}
	h := &handlers{deps: deps, logger: logger}

	e.GET("/health", h.health)

	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	anyRole := h.requireRole(auth.RoleClient, auth.RoleAdmin)
	adminOnly := h.requireRole(auth.RoleAdmin)

	// WebSocket endpoint, JWT protected when auth is enabled
	e.GET("/ws", deps.Gateway.HandleWebSocket, anyRole)

	v1 := e.Group("/api/v1")
	v1.POST("/auth/token", h.issueToken)
	v1.POST("/tts", h.synthesize, anyRole)
	v1.GET("/sessions", h.listSessions, adminOnly)
	v1.GET("/sessions/:id/transcripts", h.listTranscripts, adminOnly)
	v1.POST("/broadcast", h.broadcast, adminOnly)
}

type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

func (h *handlers) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Service:  h.deps.ServiceName,
		Sessions: h.deps.Registry.Len(),
	})
}

// requireRole validates the bearer token when auth is enabled
func (h *handlers) requireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if h.deps.Auth == nil {
				return next(c)
			}

			token := auth.TokenFromRequest(c.Request())
			if token == "" {
				h.logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required in Authorization header or token query parameter",
				})
			}

			claims, err := h.deps.Auth.ValidateToken(token)
			if err != nil {
				h.logger.Warn("Request rejected: invalid token", zap.String("path", c.Path()), zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}

			for _, role := range roles {
				if claims.Role == role {
					c.Set(claimsKey, claims)
					return next(c)
				}
			}

			h.logger.Warn("Request rejected: invalid role",
				zap.String("path", c.Path()),
				zap.String("role", claims.Role))
			return c.JSON(http.StatusForbidden, ErrorResponse{
				Error:   "invalid_role",
				Message: "Token role is not allowed for this endpoint",
			})
		}
	}
}

func (h *handlers) issueToken(c echo.Context) error {
	if h.deps.Auth == nil || h.deps.IssuerKey == "" {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "auth_disabled",
			Message: "Token issuing is not enabled",
		})
	}

	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.ClientID == "" || req.IssuerKey == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "client_id and issuer_key are required",
		})
	}
	if subtle.ConstantTimeCompare([]byte(req.IssuerKey), []byte(h.deps.IssuerKey)) != 1 {
		h.logger.Warn("Token request rejected", zap.String("clientID", req.ClientID))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid issuer key",
		})
	}
	if req.Role == "" {
		req.Role = auth.RoleClient
	}

	token, expiresAt, err := h.deps.Auth.GenerateToken(req.ClientID, req.Role)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "token_generation_failed",
			Message: err.Error(),
		})
	}

	h.logger.Info("Token issued",
		zap.String("clientID", req.ClientID),
		zap.String("role", req.Role))

	return c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		ClientID:  req.ClientID,
		Role:      req.Role,
	})
}

func (h *handlers) synthesize(c echo.Context) error {
	if h.deps.Synthesis == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "tts_disabled",
			Message: "Speech synthesis is not enabled",
		})
	}

	var req usecase.SynthesisRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	audio, err := h.deps.Synthesis.Synthesize(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidSynthesis) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: err.Error(),
			})
		}
		h.logger.Error("Synthesis failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "synthesis_failed",
			Message: "Failed to synthesize speech",
		})
	}

	return c.Blob(http.StatusOK, "audio/wav", audio)
}

func (h *handlers) listSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, SessionsResponse{Sessions: h.deps.Registry.Snapshot()})
}

func (h *handlers) listTranscripts(c echo.Context) error {
	if h.deps.Transcripts == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "history_disabled",
			Message: "Transcript history is not enabled",
		})
	}

	sessionID := c.Param("id")
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxTranscriptList {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be between 1 and 1000",
			})
		}
		limit = parsed
	}

	transcripts, err := h.deps.Transcripts.List(c.Request().Context(), sessionID, limit)
	if err != nil {
		if errors.Is(err, usecase.ErrHistoryDisabled) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "history_disabled",
				Message: "Transcript history is not enabled",
			})
		}
		h.logger.Error("Failed to list transcripts", zap.String("sessionID", sessionID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to list transcripts",
		})
	}
	if transcripts == nil {
		transcripts = []*entities.Transcript{}
	}

	return c.JSON(http.StatusOK, TranscriptsResponse{
		SessionID:   sessionID,
		Transcripts: transcripts,
	})
}

func (h *handlers) broadcast(c echo.Context) error {
	var req BroadcastRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "message is required",
		})
	}

	delivered := h.deps.Registry.Broadcast(message)
	h.logger.Info("Broadcast delivered", zap.Int("delivered", delivered))
	return c.JSON(http.StatusOK, BroadcastResponse{Delivered: delivered})
}
