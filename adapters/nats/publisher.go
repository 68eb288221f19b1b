// Package nats fans final transcripts out over a NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/entities"
	"github.com/satriahrh/arunika/listener/domain/repositories"
)

// DefaultSubject carries one JSON transcript per message
const DefaultSubject = "listener.transcript.final"

// Publisher publishes transcripts with core NATS (at-most-once)
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

var _ repositories.TranscriptPublisher = (*Publisher)(nil)

// Connect dials url and returns a publisher bound to subject
func Connect(url, subject string, logger *zap.Logger) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("no NATS url configured")
	}
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url,
		nats.Name("listener"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	logger.Info("Connected to NATS", zap.String("url", url), zap.String("subject", subject))
	return &Publisher{conn: conn, subject: subject, logger: logger}, nil
}

// Publish implements repositories.TranscriptPublisher
func (p *Publisher) Publish(ctx context.Context, transcript *entities.Transcript) error {
	if transcript == nil {
		return errors.New("transcript cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	msg := &nats.Msg{
		Subject: p.subject,
		Data:    payload,
		Header:  nats.Header{},
	}
	msg.Header.Set("Listener-Session", transcript.SessionID)
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish transcript: %w", err)
	}
	return nil
}

// Healthy reports whether the connection is currently up
func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Close drains pending publishes and closes the connection
func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	p.logger.Info("Closing NATS connection")
	err := p.conn.Drain()
	switch {
	case err == nil, errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrConnectionDraining):
		return nil
	default:
		p.conn.Close()
		return err
	}
}
