package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/entities"
	"github.com/satriahrh/arunika/listener/domain/repositories"
	"github.com/satriahrh/arunika/listener/internal/audio"
	"github.com/satriahrh/arunika/listener/internal/metrics"
)

const (
	defaultQueueSize = 64
	readyMessage     = "STT ready for audio"
	startedMessage   = "Recording started"
)

// Normalizer converts inbound payloads to canonical PCM
type Normalizer interface {
	Normalize(ctx context.Context, raw []byte, format entities.AudioFormat) ([]byte, audio.Path, error)
}

// Options carries the collaborators shared by every session
type Options struct {
	Normalizer Normalizer
	Engines    repositories.EngineFactory
	Recorder   TranscriptRecorder
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	QueueSize  int
}

// Session is the per-connection recognition state machine. All decoding
// happens on a single worker goroutine, so chunks of one session are
// processed strictly in arrival order.
type Session struct {
	id         string
	remoteAddr string
	createdAt  time.Time

	emitter    Emitter
	normalizer Normalizer
	engines    repositories.EngineFactory
	recorder   TranscriptRecorder
	metrics    *metrics.Metrics
	logger     *zap.Logger

	state  atomic.Int32
	finals atomic.Int64
	inbox  chan Command
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once

	// owned by the worker
	engine      *EngineHandle
	lastPartial string
	format      atomic.Pointer[entities.AudioFormat]
}

func newSession(id, remoteAddr string, emitter Emitter, opts Options) *Session {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		remoteAddr: remoteAddr,
		createdAt:  time.Now(),
		emitter:    emitter,
		normalizer: opts.Normalizer,
		engines:    opts.Engines,
		recorder:   opts.Recorder,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With(zap.String("sessionID", id)),
		inbox:      make(chan Command, queueSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	canonical := entities.CanonicalFormat()
	s.format.Store(&canonical)
	s.state.Store(int32(entities.SessionStateIdle))
	return s
}

// ID returns the connection identifier
func (s *Session) ID() string { return s.id }

// State returns the last published state
func (s *Session) State() entities.SessionState {
	return entities.SessionState(s.state.Load())
}

// Info returns a snapshot for the admin API
func (s *Session) Info() entities.SessionInfo {
	return entities.SessionInfo{
		ID:         s.id,
		State:      s.State(),
		RemoteAddr: s.remoteAddr,
		Format:     *s.format.Load(),
		CreatedAt:  s.createdAt,
		Finals:     int(s.finals.Load()),
	}
}

// Done is closed once the session is fully torn down
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) setState(state entities.SessionState) {
	s.state.Store(int32(state))
}

// setLiveState moves between idle and recording unless Close has already
// claimed the session.
func (s *Session) setLiveState(state entities.SessionState) {
	for {
		cur := s.state.Load()
		if st := entities.SessionState(cur); st == entities.SessionStateClosing || st == entities.SessionStateClosed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(state)) {
			return
		}
	}
}

// Submit queues a command for the worker. It blocks while the queue is full.
func (s *Session) Submit(ctx context.Context, cmd Command) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}

	select {
	case s.inbox <- cmd:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify sends a notice directly to the client, bypassing the worker queue
func (s *Session) Notify(message string) error {
	if s.State().IsTerminal() {
		return ErrSessionClosed
	}
	return s.emitter.Send(Event{Type: EventNotice, Message: message})
}

func (s *Session) start() {
	go s.run()
}

func (s *Session) run() {
	defer close(s.done)
	defer s.teardown()

	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.inbox:
			s.handle(cmd)
		}
	}
}

// Close interrupts in-flight work and tears the session down once; it waits
// for teardown to finish.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.setState(entities.SessionStateClosing)
		s.cancel()
	})
	<-s.done
}

func (s *Session) teardown() {
	s.setState(entities.SessionStateClosing)
	if s.engine != nil {
		if text := s.engine.Flush(); text != "" {
			s.record(text, entities.TranscriptKindFlush)
		}
		s.engine.Release()
		s.engine = nil
	}
	s.lastPartial = ""
	s.setState(entities.SessionStateClosed)
	s.logger.Debug("Session torn down", zap.Int64("finals", s.finals.Load()))
}

func (s *Session) handle(cmd Command) {
	s.metrics.FramesReceived.WithLabelValues(string(cmd.Type)).Inc()

	switch cmd.Type {
	case CommandStart:
		s.handleStart(cmd)
	case CommandAudio:
		s.handleAudio(cmd)
	case CommandStop:
		s.handleStop()
	default:
		err := cmd.Err
		if err == nil {
			err = ErrMalformedFrame
		}
		s.reject("malformed", err.Error())
	}
}

func (s *Session) handleStart(cmd Command) {
	format := entities.CanonicalFormat()
	if cmd.Format != nil {
		format = cmd.Format.Normalized()
		if err := format.Validate(); err != nil {
			s.reject("invalid_format", "invalid audio format: "+err.Error())
			return
		}
	}

	if s.engine != nil {
		s.logger.Debug("Restarting recognition, discarding current engine")
		s.releaseEngine()
	}
	s.lastPartial = ""
	s.format.Store(&format)

	engine, err := NewEngineHandle(context.WithoutCancel(s.ctx), s.engines, s.logger)
	if err != nil {
		s.metrics.EngineFailures.WithLabelValues(StageConstruct).Inc()
		s.logger.Error("Failed to construct recognition engine", zap.Error(err))
		s.reject("engine_construction", err.Error())
		return
	}
	s.engine = engine
	s.setLiveState(entities.SessionStateRecording)

	s.logger.Info("Recording started", zap.String("format", format.Encoding), zap.Int("sampleRate", format.SampleRate))
	s.emit(Event{Type: EventReady, Message: readyMessage})
	s.emit(Event{Type: EventStarted, Message: startedMessage})
}

func (s *Session) handleAudio(cmd Command) {
	if s.engine == nil {
		s.reject("not_recording", "audio received before start")
		return
	}

	format := *s.format.Load()
	if cmd.Format != nil {
		format = *cmd.Format
	}

	started := time.Now()
	pcm, path, err := s.normalizer.Normalize(s.ctx, cmd.Audio, format)
	s.metrics.NormalizeDuration.WithLabelValues(string(path)).Observe(time.Since(started).Seconds())
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.metrics.NormalizeFailures.Inc()
		s.logger.Warn("Failed to normalize audio chunk", zap.Int("size", len(cmd.Audio)), zap.Error(err))
		s.reject("conversion_failed", err.Error())
		return
	}
	if len(pcm) == 0 {
		return
	}

	outcome, err := s.engine.AcceptAudio(pcm)
	if err != nil {
		s.metrics.EngineFailures.WithLabelValues(StageAccept).Inc()
		s.logger.Error("Recognition engine failed, returning to idle", zap.Error(err))
		s.releaseEngine()
		s.reject("engine_failure", err.Error())
		return
	}

	switch outcome.Kind {
	case entities.OutcomeFinal:
		s.lastPartial = ""
		s.emitFinal(outcome.Text, entities.TranscriptKindSegment)
	case entities.OutcomePartial:
		text := strings.TrimSpace(outcome.Text)
		if text == "" || text == s.lastPartial {
			return
		}
		s.lastPartial = text
		s.emit(Event{Type: EventPartial, Text: text})
	}
}

func (s *Session) handleStop() {
	if s.engine == nil {
		s.reject("not_recording", "not recording")
		return
	}

	text := s.engine.Flush()
	s.releaseEngine()
	s.emitFinal(text, entities.TranscriptKindStop)
	s.logger.Info("Recording stopped")
}

func (s *Session) releaseEngine() {
	if s.engine != nil {
		s.engine.Release()
		s.engine = nil
	}
	s.lastPartial = ""
	s.setLiveState(entities.SessionStateIdle)
}

func (s *Session) emitFinal(text string, kind entities.TranscriptKind) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.emit(Event{Type: EventFinal, Text: text})
	s.record(text, kind)
}

func (s *Session) record(text string, kind entities.TranscriptKind) {
	s.finals.Add(1)
	if s.recorder == nil {
		return
	}
	s.recorder.Record(&entities.Transcript{
		ID:        uuid.NewString(),
		SessionID: s.id,
		Text:      text,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *Session) reject(reason, message string) {
	s.metrics.FramesRejected.WithLabelValues(reason).Inc()
	s.emit(Event{Type: EventError, Message: message})
}

func (s *Session) emit(ev Event) {
	if err := s.emitter.Send(ev); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return
		}
		s.logger.Debug("Failed to emit event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	s.metrics.ResultsEmitted.WithLabelValues(string(ev.Type)).Inc()
}
