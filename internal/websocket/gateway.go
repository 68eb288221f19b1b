package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	defaultMaxMessageSize = 512 * 1024 // 512KB for audio chunks

	defaultSendBuffer = 256
)

var errSlowConsumer = errors.New("client send buffer full")

// Config tunes per-connection limits
type Config struct {
	SendBuffer     int
	MaxMessageSize int64
	// IdleTimeout closes connections that send no frames; zero disables it
	IdleTimeout time.Duration
}

// Gateway accepts WebSocket connections and binds each one to a session
type Gateway struct {
	registry  *session.Registry
	validator *MessageValidator
	upgrader  websocket.Upgrader
	cfg       Config
	logger    *zap.Logger

	mu      sync.Mutex
	clients map[string]*Client
	wg      sync.WaitGroup
}

// NewGateway creates a new WebSocket gateway
func NewGateway(registry *session.Registry, cfg Config, logger *zap.Logger) *Gateway {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	return &Gateway{
		registry:  registry,
		validator: NewMessageValidator(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Client is a middleman between the websocket connection and its session.
type Client struct {
	gateway *Gateway

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	id      string
	session *session.Session
	logger  *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	lastActivity atomic.Int64
}

// HandleWebSocket upgrades the request and serves the connection until it closes
func (g *Gateway) HandleWebSocket(c echo.Context) error {
	conn, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		g.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		gateway: g,
		conn:    conn,
		send:    make(chan []byte, g.cfg.SendBuffer),
		id:      uuid.NewString(),
		ctx:     ctx,
		cancel:  cancel,
	}
	client.logger = g.logger.With(zap.String("sessionID", client.id))
	client.touch()

	s, err := g.registry.Register(client.id, c.RealIP(), client)
	if err != nil {
		client.logger.Error("Failed to register session", zap.Error(err))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(CreateErrorMessage(err.Error()))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session rejected"))
		client.close()
		return nil
	}
	client.session = s
	g.track(client)

	client.logger.Info("WebSocket connected", zap.String("remoteAddr", c.RealIP()))

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	g.wg.Add(2)
	go client.writePump()
	go client.readPump()

	return nil
}

func (g *Gateway) track(c *Client) {
	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()
}

func (g *Gateway) untrack(c *Client) {
	g.mu.Lock()
	delete(g.clients, c.id)
	g.mu.Unlock()
}

// Shutdown closes every open connection and waits for their sessions to be
// torn down, or for ctx to expire
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	for _, c := range g.clients {
		c.close()
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send implements session.Emitter. It blocks for at most writeWait; a client
// that cannot keep up for that long is disconnected.
func (c *Client) Send(ev session.Event) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return err
	}

	select {
	case <-c.ctx.Done():
		return session.ErrSessionClosed
	default:
	}

	timer := time.NewTimer(writeWait)
	defer timer.Stop()

	select {
	case c.send <- payload:
		return nil
	case <-c.ctx.Done():
		return session.ErrSessionClosed
	case <-timer.C:
		c.logger.Warn("Client too slow, closing connection")
		c.close()
		return errSlowConsumer
	}
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close()
	})
}

// readPump pumps messages from the websocket connection to the session.
func (c *Client) readPump() {
	defer c.gateway.wg.Done()
	defer func() {
		c.close()
		c.gateway.registry.Unregister(c.id)
		c.gateway.untrack(c)
		c.logger.Info("WebSocket disconnected")
	}()

	c.conn.SetReadLimit(c.gateway.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var cmd session.Command
		switch messageType {
		case websocket.TextMessage:
			cmd, err = c.gateway.validator.ValidateMessage(message)
			if err != nil {
				c.logger.Debug("Rejected malformed frame", zap.Error(err))
				cmd = session.Command{Type: session.CommandInvalid, Err: err}
			}
		case websocket.BinaryMessage:
			cmd = c.gateway.validator.BinaryAudio(message)
		default:
			continue
		}

		if err := c.session.Submit(c.ctx, cmd); err != nil {
			return
		}
	}
}

// writePump pumps messages from the session to the websocket connection.
func (c *Client) writePump() {
	defer c.gateway.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	var idleCheck <-chan time.Time
	if c.gateway.cfg.IdleTimeout > 0 {
		idleTicker := time.NewTicker(idleCheckPeriod(c.gateway.cfg.IdleTimeout))
		defer idleTicker.Stop()
		idleCheck = idleTicker.C
	}
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-idleCheck:
			if c.idleFor() >= c.gateway.cfg.IdleTimeout {
				c.logger.Info("Closing idle connection", zap.Duration("idle", c.idleFor()))
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "idle timeout"))
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func idleCheckPeriod(timeout time.Duration) time.Duration {
	period := timeout / 4
	if period < 10*time.Millisecond {
		period = 10 * time.Millisecond
	}
	if period > time.Second {
		period = time.Second
	}
	return period
}
