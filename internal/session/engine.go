package session

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/entities"
	"github.com/satriahrh/arunika/listener/domain/repositories"
)

// EngineHandle owns one recognition engine for the duration of a recording.
// It is used only from its session's worker goroutine.
type EngineHandle struct {
	engine   repositories.RecognitionEngine
	cancel   context.CancelFunc
	logger   *zap.Logger
	flushed  bool
	released bool
}

// NewEngineHandle constructs an engine bound to the canonical sample rate.
// The engine context lives until Release.
func NewEngineHandle(ctx context.Context, factory repositories.EngineFactory, logger *zap.Logger) (*EngineHandle, error) {
	ctx, cancel := context.WithCancel(ctx)
	engine, err := factory.NewEngine(ctx, entities.CanonicalSampleRate)
	if err != nil {
		cancel()
		return nil, &EngineError{Stage: StageConstruct, Err: err}
	}
	if engine == nil {
		cancel()
		return nil, &EngineError{Stage: StageConstruct, Err: errNilEngine}
	}
	return &EngineHandle{engine: engine, cancel: cancel, logger: logger}, nil
}

// AcceptAudio feeds one canonical chunk and translates the engine's report
func (h *EngineHandle) AcceptAudio(pcm []byte) (entities.DecodeOutcome, error) {
	if h.released {
		return entities.NoSpeech(), &EngineError{Stage: StageAccept, Err: ErrSessionClosed}
	}
	h.flushed = false

	result, err := h.engine.AcceptAudio(pcm)
	if err != nil {
		return entities.NoSpeech(), &EngineError{Stage: StageAccept, Err: err}
	}

	text := strings.TrimSpace(result.Text)
	switch {
	case text == "":
		return entities.NoSpeech(), nil
	case result.IsFinal:
		return entities.FinalSegment(text), nil
	default:
		return entities.Partial(text), nil
	}
}

// Flush forces out the remaining final. A second call without new audio returns "".
func (h *EngineHandle) Flush() string {
	if h.flushed || h.released {
		return ""
	}
	h.flushed = true

	text, err := h.engine.FlushFinal()
	if err != nil {
		h.logger.Warn("Failed to flush recognition engine", zap.Error(&EngineError{Stage: StageFlush, Err: err}))
		return ""
	}
	return strings.TrimSpace(text)
}

// Release closes the engine; later calls are no-ops
func (h *EngineHandle) Release() {
	if h.released {
		return
	}
	h.released = true
	if err := h.engine.Close(); err != nil {
		h.logger.Debug("Recognition engine close returned error", zap.Error(err))
	}
	h.cancel()
}
