package tts

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/repositories"
)

const mockSampleRate = 22050

// MockTTS returns silence whose length follows the text and length scale
type MockTTS struct {
	logger *zap.Logger
}

var _ repositories.TextToSpeech = (*MockTTS)(nil)

// NewMockTTS creates a mock synthesizer
func NewMockTTS(logger *zap.Logger) *MockTTS {
	return &MockTTS{logger: logger}
}

// Synthesize implements repositories.TextToSpeech
func (m *MockTTS) Synthesize(ctx context.Context, text string, opts repositories.SynthesisOptions) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scale := opts.LengthScale
	if scale <= 0 {
		scale = 1
	}
	// roughly 60ms of audio per character
	samples := int(float64(len(text)) * 0.06 * mockSampleRate * scale)
	m.logger.Debug("Synthesizing mock audio", zap.Int("textLength", len(text)), zap.Int("samples", samples))
	return EncodeWAV(make([]byte, samples*2), mockSampleRate, 1)
}
