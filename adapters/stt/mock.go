package stt

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/repositories"
)

// bytes of canonical PCM per revealed word, 100ms at 16 kHz
const mockBytesPerWord = 3200

var defaultMockPhrases = []string{
	"halo arunika apa kabar",
	"saya ingin bercerita tentang hari ini",
	"terima kasih sudah mendengarkan",
}

// MockEngineFactory builds deterministic engines that reveal a scripted
// phrase word by word as audio accumulates
type MockEngineFactory struct {
	logger  *zap.Logger
	phrases []string

	mu       sync.Mutex
	failNext int
}

// NewMockEngineFactory creates a mock factory; nil phrases use the built-in script
func NewMockEngineFactory(phrases []string, logger *zap.Logger) *MockEngineFactory {
	if len(phrases) == 0 {
		phrases = defaultMockPhrases
	}
	return &MockEngineFactory{logger: logger, phrases: phrases}
}

// FailNext makes the next n NewEngine calls return an error
func (f *MockEngineFactory) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
}

// NewEngine implements repositories.EngineFactory
func (f *MockEngineFactory) NewEngine(ctx context.Context, sampleRate int) (repositories.RecognitionEngine, error) {
	f.mu.Lock()
	fail := f.failNext > 0
	if fail {
		f.failNext--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("mock model unavailable")
	}

	f.logger.Debug("Initializing mock recognition engine", zap.Int("sampleRate", sampleRate))
	return &MockEngine{phrases: f.phrases, logger: f.logger}, nil
}

// MockEngine is a scripted recognition engine
type MockEngine struct {
	logger   *zap.Logger
	phrases  []string
	phrase   int
	buffered int
	closed   bool
}

func (m *MockEngine) words() []string {
	return strings.Fields(m.phrases[m.phrase%len(m.phrases)])
}

func (m *MockEngine) revealed() string {
	words := m.words()
	n := m.buffered / mockBytesPerWord
	if n > len(words) {
		n = len(words)
	}
	return strings.Join(words[:n], " ")
}

// AcceptAudio reveals one word per 100ms of audio and finalizes the phrase
// once every word is out
func (m *MockEngine) AcceptAudio(pcm []byte) (repositories.EngineResult, error) {
	if m.closed {
		return repositories.EngineResult{}, errors.New("mock engine closed")
	}
	m.buffered += len(pcm)

	words := m.words()
	if m.buffered/mockBytesPerWord > len(words) {
		text := strings.Join(words, " ")
		m.phrase++
		m.buffered = 0
		return repositories.EngineResult{IsFinal: true, Text: text}, nil
	}
	return repositories.EngineResult{Text: m.revealed()}, nil
}

// FlushFinal returns the words revealed so far
func (m *MockEngine) FlushFinal() (string, error) {
	text := m.revealed()
	if text != "" {
		m.phrase++
	}
	m.buffered = 0
	m.logger.Debug("Ending mock recognition", zap.String("result", text))
	return text, nil
}

// Close implements repositories.RecognitionEngine
func (m *MockEngine) Close() error {
	m.closed = true
	return nil
}
