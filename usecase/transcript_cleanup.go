package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/repositories"
)

// TranscriptCleanupService prunes transcripts past their retention window
type TranscriptCleanupService struct {
	repo         repositories.TranscriptRepository
	retention    time.Duration
	interval     time.Duration
	initialDelay time.Duration
	now          func() time.Time
	logger       *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTranscriptCleanupService creates a new cleanup service. It runs every 30
// minutes, starting one minute after Start.
func NewTranscriptCleanupService(repo repositories.TranscriptRepository, retention time.Duration, logger *zap.Logger) *TranscriptCleanupService {
	return &TranscriptCleanupService{
		repo:         repo,
		retention:    retention,
		interval:     30 * time.Minute,
		initialDelay: time.Minute,
		now:          time.Now,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *TranscriptCleanupService) Start() {
	s.wg.Add(1)
	go s.cleanupLoop()
	s.logger.Info("Transcript cleanup service started", zap.Duration("retention", s.retention))
}

// Stop gracefully stops the cleanup service
func (s *TranscriptCleanupService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		s.logger.Info("Transcript cleanup service stopped")
	})
}

func (s *TranscriptCleanupService) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	initialTimer := time.NewTimer(s.initialDelay)
	defer initialTimer.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-initialTimer.C:
			s.runCleanup()
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// runCleanup deletes everything older than the retention window
func (s *TranscriptCleanupService) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := s.now().Add(-s.retention)
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to prune transcripts", zap.Error(err))
		return
	}

	s.logger.Info("Transcript cleanup completed",
		zap.Int64("deleted", deleted),
		zap.Time("cutoff", cutoff))
}
