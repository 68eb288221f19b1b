package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/entities"
	"github.com/satriahrh/arunika/listener/internal/metrics"
)

// Registry maps connection ids to live sessions
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRegistry creates an empty registry. Options are handed to every session it creates.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Register creates and starts a session for a new connection
func (r *Registry) Register(connID, remoteAddr string, emitter Emitter) (*Session, error) {
	r.mu.Lock()
	if _, exists := r.sessions[connID]; exists {
		r.mu.Unlock()
		r.logger.Warn("Rejected duplicate session", zap.String("sessionID", connID), zap.String("remoteAddr", remoteAddr))
		return nil, ErrDuplicateSession
	}
	s := newSession(connID, remoteAddr, emitter, r.opts)
	r.sessions[connID] = s
	total := len(r.sessions)
	r.mu.Unlock()

	s.start()
	r.metrics.SessionsOpened.Inc()
	r.metrics.ActiveSessions.Inc()
	r.logger.Info("Session registered",
		zap.String("sessionID", connID),
		zap.String("remoteAddr", remoteAddr),
		zap.Int("totalSessions", total))
	return s, nil
}

// Unregister removes and tears down a session. Unknown ids are ignored.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	s, ok := r.sessions[connID]
	if ok {
		delete(r.sessions, connID)
	}
	total := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}

	s.Close()
	r.metrics.ActiveSessions.Dec()
	r.metrics.SessionsClosed.Inc()
	r.metrics.SessionDuration.Observe(time.Since(s.createdAt).Seconds())
	r.logger.Info("Session unregistered",
		zap.String("sessionID", connID),
		zap.Int("totalSessions", total))
}

// Get returns the session for a connection id
func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	return s, ok
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) list() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Snapshot returns session metadata ordered by creation time
func (r *Registry) Snapshot() []entities.SessionInfo {
	sessions := r.list()
	infos := make([]entities.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Broadcast sends a notice to every recording session and returns the
// number of successful deliveries. Failing recipients are skipped.
func (r *Registry) Broadcast(message string) int {
	var (
		wg        sync.WaitGroup
		delivered atomic.Int64
	)
	for _, s := range r.list() {
		if s.State() != entities.SessionStateRecording {
			continue
		}
		wg.Add(1)
		// each recipient gets its own sender so a stalled socket only delays itself
		go func(s *Session) {
			defer wg.Done()
			if err := s.Notify(message); err != nil {
				r.logger.Warn("Broadcast delivery failed", zap.String("sessionID", s.ID()), zap.Error(err))
				return
			}
			delivered.Add(1)
		}(s)
	}
	wg.Wait()
	r.metrics.BroadcastDeliveries.Add(float64(delivered.Load()))
	return int(delivered.Load())
}

// CloseAll tears down every session, used on shutdown
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.Unregister(id)
		}(id)
	}
	wg.Wait()
}
