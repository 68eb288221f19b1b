package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/entities"
	"github.com/satriahrh/arunika/listener/domain/repositories"
	"github.com/satriahrh/arunika/listener/internal/audio"
	"github.com/satriahrh/arunika/listener/internal/metrics"
)

// scriptedEngine replays results in order and reports flushText on flush
type scriptedEngine struct {
	mu        sync.Mutex
	results   []repositories.EngineResult
	flushText string
	acceptErr error
	// when set, FlushFinal signals flushing and waits for flushGate
	flushing  chan struct{}
	flushGate chan struct{}
	accepted  int
	flushes   int
	closed    bool
}

func (e *scriptedEngine) AcceptAudio(pcm []byte) (repositories.EngineResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acceptErr != nil {
		return repositories.EngineResult{}, e.acceptErr
	}
	e.accepted++
	if len(e.results) == 0 {
		return repositories.EngineResult{}, nil
	}
	r := e.results[0]
	e.results = e.results[1:]
	return r, nil
}

func (e *scriptedEngine) FlushFinal() (string, error) {
	if e.flushGate != nil {
		close(e.flushing)
		<-e.flushGate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushes++
	return e.flushText, nil
}

func (e *scriptedEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *scriptedEngine) snapshot() (accepted, flushes int, closed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accepted, e.flushes, e.closed
}

// engineQueue hands out prepared engines, one per start
type engineQueue struct {
	mu      sync.Mutex
	engines []*scriptedEngine
	fail    int
	built   []*scriptedEngine
}

func (q *engineQueue) NewEngine(ctx context.Context, sampleRate int) (repositories.RecognitionEngine, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if sampleRate != entities.CanonicalSampleRate {
		return nil, errors.New("unexpected sample rate")
	}
	if q.fail > 0 {
		q.fail--
		return nil, errors.New("model not loaded")
	}
	var e *scriptedEngine
	if len(q.engines) > 0 {
		e = q.engines[0]
		q.engines = q.engines[1:]
	} else {
		e = &scriptedEngine{}
	}
	q.built = append(q.built, e)
	return e, nil
}

type captureEmitter struct {
	events chan Event
	fail   bool
}

func newCaptureEmitter() *captureEmitter {
	return &captureEmitter{events: make(chan Event, 64)}
}

func (c *captureEmitter) Send(ev Event) error {
	if c.fail {
		return errors.New("send buffer full")
	}
	c.events <- ev
	return nil
}

func (c *captureEmitter) expect(t *testing.T, typ EventType) Event {
	t.Helper()
	select {
	case ev := <-c.events:
		if ev.Type != typ {
			t.Fatalf("Expected %s event, got %s (%+v)", typ, ev.Type, ev)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %s event", typ)
	}
	return Event{}
}

func (c *captureEmitter) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-c.events:
		t.Fatalf("Expected no event, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

type memoryRecorder struct {
	mu          sync.Mutex
	transcripts []*entities.Transcript
}

func (r *memoryRecorder) Record(t *entities.Transcript) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, t)
}

func (r *memoryRecorder) all() []*entities.Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entities.Transcript(nil), r.transcripts...)
}

func newTestRegistry(t *testing.T, engines repositories.EngineFactory, recorder TranscriptRecorder) *Registry {
	t.Helper()
	normalizer, err := audio.NewNormalizer(audio.Config{
		DecoderCommand: "/nonexistent/ffmpeg",
		Timeout:        time.Second,
		TempDir:        t.TempDir(),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create normalizer: %v", err)
	}
	r := NewRegistry(Options{
		Normalizer: normalizer,
		Engines:    engines,
		Recorder:   recorder,
		Metrics:    metrics.New(),
		Logger:     zap.NewNop(),
		QueueSize:  16,
	})
	t.Cleanup(r.CloseAll)
	return r
}

func submit(t *testing.T, s *Session, cmd Command) {
	t.Helper()
	if err := s.Submit(context.Background(), cmd); err != nil {
		t.Fatalf("Failed to submit %s: %v", cmd.Type, err)
	}
}

var pcmChunk = []byte{0x01, 0x00, 0x02, 0x00}

func waitAccepted(t *testing.T, e *scriptedEngine, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if accepted, _, _ := e.snapshot(); accepted >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected engine to accept %d chunks", want)
}
