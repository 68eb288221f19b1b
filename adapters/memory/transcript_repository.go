package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/satriahrh/arunika/listener/domain/entities"
	"github.com/satriahrh/arunika/listener/domain/repositories"
)

const defaultListLimit = 100

// TranscriptRepository keeps transcripts in process memory. History is lost on
// restart.
type TranscriptRepository struct {
	mu       sync.RWMutex
	sessions map[string][]*entities.Transcript // session_id -> transcripts, oldest first
	ids      map[string]struct{}
}

// NewTranscriptRepository creates an empty in-memory transcript repository
func NewTranscriptRepository() *TranscriptRepository {
	return &TranscriptRepository{
		sessions: make(map[string][]*entities.Transcript),
		ids:      make(map[string]struct{}),
	}
}

var _ repositories.TranscriptRepository = (*TranscriptRepository)(nil)

// Append implements repositories.TranscriptRepository
func (m *TranscriptRepository) Append(ctx context.Context, transcript *entities.Transcript) error {
	if transcript == nil {
		return errors.New("transcript cannot be nil")
	}
	if err := transcript.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ids[transcript.ID]; exists && transcript.ID != "" {
		return errors.New("transcript already exists")
	}

	stored := *transcript
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	list := append(m.sessions[stored.SessionID], &stored)
	// Keep ascending order even when writers hand us slightly out-of-order timestamps
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	m.sessions[stored.SessionID] = list
	if stored.ID != "" {
		m.ids[stored.ID] = struct{}{}
	}
	return nil
}

// ListBySession implements repositories.TranscriptRepository
func (m *TranscriptRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*entities.Transcript, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.sessions[sessionID]
	if len(list) > limit {
		list = list[:limit]
	}
	result := make([]*entities.Transcript, 0, len(list))
	for _, t := range list {
		copied := *t
		result = append(result, &copied)
	}
	return result, nil
}

// DeleteOlderThan implements repositories.TranscriptRepository
func (m *TranscriptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for sessionID, list := range m.sessions {
		kept := list[:0]
		for _, t := range list {
			if t.CreatedAt.Before(cutoff) {
				delete(m.ids, t.ID)
				deleted++
				continue
			}
			kept = append(kept, t)
		}
		if len(kept) == 0 {
			delete(m.sessions, sessionID)
		} else {
			m.sessions[sessionID] = kept
		}
	}
	return deleted, nil
}

// Close implements repositories.TranscriptRepository
func (m *TranscriptRepository) Close(ctx context.Context) error {
	return nil
}
