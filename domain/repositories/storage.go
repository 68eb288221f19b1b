package repositories

import (
	"context"
	"time"

	"github.com/satriahrh/arunika/listener/domain/entities"
)

// TranscriptRepository defines data access methods for final transcripts
type TranscriptRepository interface {
	Append(ctx context.Context, transcript *entities.Transcript) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*entities.Transcript, error)
	// DeleteOlderThan removes transcripts created before cutoff and returns how many went away
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Close(ctx context.Context) error
}

// TranscriptPublisher fans final transcripts out to other processes
type TranscriptPublisher interface {
	Publish(ctx context.Context, transcript *entities.Transcript) error
	Close() error
}
