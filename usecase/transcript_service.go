package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/entities"
	"github.com/satriahrh/arunika/listener/domain/repositories"
	"github.com/satriahrh/arunika/listener/internal/metrics"
)

// ErrHistoryDisabled is returned by List when no repository is configured
var ErrHistoryDisabled = errors.New("transcript history is disabled")

const (
	defaultTranscriptQueue   = 256
	defaultTranscriptTimeout = 5 * time.Second
)

// TranscriptServiceOptions tunes the recording worker
type TranscriptServiceOptions struct {
	QueueSize int
	Timeout   time.Duration
	Metrics   *metrics.Metrics
}

// TranscriptService records final transcripts off the session worker path.
// Either the repository or the publisher may be nil.
type TranscriptService struct {
	repo      repositories.TranscriptRepository
	publisher repositories.TranscriptPublisher
	metrics   *metrics.Metrics
	timeout   time.Duration
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *entities.Transcript
	done   chan struct{}
}

// NewTranscriptService creates the service and starts its worker
func NewTranscriptService(
	repo repositories.TranscriptRepository,
	publisher repositories.TranscriptPublisher,
	opts TranscriptServiceOptions,
	logger *zap.Logger,
) *TranscriptService {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultTranscriptQueue
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTranscriptTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	s := &TranscriptService{
		repo:      repo,
		publisher: publisher,
		metrics:   opts.Metrics,
		timeout:   opts.Timeout,
		logger:    logger,
		queue:     make(chan *entities.Transcript, opts.QueueSize),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

// Record implements session.TranscriptRecorder. It never blocks; when the
// queue is full the transcript is dropped.
func (s *TranscriptService) Record(t *entities.Transcript) {
	if t == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Debug("Transcript recorded after close", zap.String("sessionID", t.SessionID))
		return
	}

	select {
	case s.queue <- t:
	default:
		s.metrics.TranscriptsDropped.Inc()
		s.logger.Warn("Transcript queue full, dropping transcript",
			zap.String("sessionID", t.SessionID),
			zap.String("kind", string(t.Kind)))
	}
}

func (s *TranscriptService) run() {
	defer close(s.done)
	for t := range s.queue {
		s.persist(t)
		s.publish(t)
	}
}

func (s *TranscriptService) persist(t *entities.Transcript) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.repo.Append(ctx, t); err != nil {
		s.logger.Error("Failed to store transcript",
			zap.String("sessionID", t.SessionID),
			zap.Error(err))
	}
}

func (s *TranscriptService) publish(t *entities.Transcript) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, t); err != nil {
		s.logger.Error("Failed to publish transcript",
			zap.String("sessionID", t.SessionID),
			zap.Error(err))
	}
}

// List returns stored transcripts for a session, oldest first
func (s *TranscriptService) List(ctx context.Context, sessionID string, limit int) ([]*entities.Transcript, error) {
	if s.repo == nil {
		return nil, ErrHistoryDisabled
	}
	return s.repo.ListBySession(ctx, sessionID, limit)
}

// Close stops accepting transcripts and waits for the queue to drain, then
// closes the publisher and repository
func (s *TranscriptService) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("Transcript queue not drained before shutdown", zap.Int("pending", len(s.queue)))
		return ctx.Err()
	}

	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.repo != nil {
		errs = append(errs, s.repo.Close(ctx))
	}
	return errors.Join(errs...)
}
