package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/repositories"
	"github.com/satriahrh/arunika/listener/internal/audio"
	"github.com/satriahrh/arunika/listener/internal/metrics"
	"github.com/satriahrh/arunika/listener/internal/session"
)

// greetingEngine reports "hello" for every chunk and "hello world" on flush
type greetingEngine struct{}

func (greetingEngine) AcceptAudio(pcm []byte) (repositories.EngineResult, error) {
	return repositories.EngineResult{Text: "hello"}, nil
}

func (greetingEngine) FlushFinal() (string, error) { return "hello world", nil }

func (greetingEngine) Close() error { return nil }

func setupTestGateway(t *testing.T, cfg Config) (*Gateway, *session.Registry, string) {
	t.Helper()
	logger := zap.NewNop()

	normalizer, err := audio.NewNormalizer(audio.Config{DecoderCommand: "/nonexistent/ffmpeg", TempDir: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("Failed to create normalizer: %v", err)
	}
	registry := session.NewRegistry(session.Options{
		Normalizer: normalizer,
		Engines: repositories.EngineFactoryFunc(func(ctx context.Context, sampleRate int) (repositories.RecognitionEngine, error) {
			return greetingEngine{}, nil
		}),
		Metrics: metrics.New(),
		Logger:  logger,
	})
	gateway := NewGateway(registry, cfg, logger)

	e := echo.New()
	e.GET("/ws", gateway.HandleWebSocket)
	server := httptest.NewServer(e)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		gateway.Shutdown(ctx)
		server.Close()
	})

	return gateway, registry, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket connection failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendJSON(t *testing.T, ws *websocket.Conn, v interface{}) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn, want MessageType) OutboundMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read %s frame: %v", want, err)
	}
	var msg OutboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal frame %s: %v", data, err)
	}
	if msg.Type != want {
		t.Fatalf("Expected %s frame, got %s (%s)", want, msg.Type, data)
	}
	return msg
}

func waitForSessions(t *testing.T, registry *session.Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Len() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d sessions, got %d", want, registry.Len())
}

func TestGateway_StartAudioStop(t *testing.T) {
	_, registry, url := setupTestGateway(t, Config{})
	ws := dial(t, url)

	sendJSON(t, ws, map[string]string{"type": "start"})
	if msg := readFrame(t, ws, MessageTypeReady); msg.Message == "" {
		t.Error("Expected ready frame to carry a message")
	}
	readFrame(t, ws, MessageTypeStarted)

	sendJSON(t, ws, map[string]string{"type": "audio", "data": base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0})})
	if msg := readFrame(t, ws, MessageTypePartial); msg.Text != "hello" {
		t.Errorf("Expected partial 'hello', got %q", msg.Text)
	}

	sendJSON(t, ws, map[string]string{"type": "stop"})
	if msg := readFrame(t, ws, MessageTypeFinal); msg.Text != "hello world" {
		t.Errorf("Expected final 'hello world', got %q", msg.Text)
	}

	if registry.Len() != 1 {
		t.Errorf("Expected 1 registered session, got %d", registry.Len())
	}
}

func TestGateway_BinaryAudio(t *testing.T) {
	_, _, url := setupTestGateway(t, Config{})
	ws := dial(t, url)

	sendJSON(t, ws, map[string]string{"type": "start"})
	readFrame(t, ws, MessageTypeReady)
	readFrame(t, ws, MessageTypeStarted)

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{1, 0, 2, 0}); err != nil {
		t.Fatalf("Failed to write binary frame: %v", err)
	}
	readFrame(t, ws, MessageTypePartial)
}

func TestGateway_MalformedFrameKeepsConnection(t *testing.T) {
	_, _, url := setupTestGateway(t, Config{})
	ws := dial(t, url)

	for _, frame := range []string{`{invalid json}`, `{"type":"dance"}`, `{"type":"audio","data":"%%%"}`} {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("Failed to write frame: %v", err)
		}
		msg := readFrame(t, ws, MessageTypeError)
		if !strings.Contains(msg.Message, "malformed frame") {
			t.Errorf("Expected malformed frame message for %s, got %q", frame, msg.Message)
		}
	}

	sendJSON(t, ws, map[string]string{"type": "start"})
	readFrame(t, ws, MessageTypeReady)
	readFrame(t, ws, MessageTypeStarted)
}

func TestGateway_AudioBeforeStart(t *testing.T) {
	_, _, url := setupTestGateway(t, Config{})
	ws := dial(t, url)

	sendJSON(t, ws, map[string]string{"type": "audio", "data": "AQACAA=="})
	if msg := readFrame(t, ws, MessageTypeError); msg.Message != "audio received before start" {
		t.Errorf("Expected rejection, got %q", msg.Message)
	}
}

func TestGateway_DisconnectUnregisters(t *testing.T) {
	_, registry, url := setupTestGateway(t, Config{})

	first := dial(t, url)
	second := dial(t, url)
	waitForSessions(t, registry, 2)

	sendJSON(t, second, map[string]string{"type": "start"})
	readFrame(t, second, MessageTypeReady)
	readFrame(t, second, MessageTypeStarted)

	first.Close()
	waitForSessions(t, registry, 1)

	sendJSON(t, second, map[string]string{"type": "audio", "data": "AQACAA=="})
	readFrame(t, second, MessageTypePartial)
}

func TestGateway_IdleTimeout(t *testing.T) {
	_, registry, url := setupTestGateway(t, Config{IdleTimeout: 100 * time.Millisecond})
	ws := dial(t, url)

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal close after idle timeout, got %v", err)
	}
	waitForSessions(t, registry, 0)
}

func TestGateway_Broadcast(t *testing.T) {
	_, registry, url := setupTestGateway(t, Config{})
	ws := dial(t, url)

	sendJSON(t, ws, map[string]string{"type": "start"})
	readFrame(t, ws, MessageTypeReady)
	readFrame(t, ws, MessageTypeStarted)

	if n := registry.Broadcast("server restarting"); n != 1 {
		t.Errorf("Expected 1 delivery, got %d", n)
	}
	if msg := readFrame(t, ws, MessageTypeNotice); msg.Message != "server restarting" {
		t.Errorf("Expected notice message, got %q", msg.Message)
	}
}

func TestGateway_Shutdown(t *testing.T) {
	gateway, registry, url := setupTestGateway(t, Config{})
	dial(t, url)
	dial(t, url)
	waitForSessions(t, registry, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := gateway.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if registry.Len() != 0 {
		t.Errorf("Expected all sessions removed, got %d", registry.Len())
	}
}
