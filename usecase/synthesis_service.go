package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/repositories"
)

// DefaultSynthesisText is spoken when a request carries no text
const DefaultSynthesisText = "Hello, this is a local Piper TTS test."

const maxScale = 10.0

// ErrInvalidSynthesis marks requests rejected before reaching a backend
var ErrInvalidSynthesis = errors.New("invalid synthesis request")

// SynthesisRequest carries the optional voice controls; nil means default
type SynthesisRequest struct {
	Text        string   `json:"text"`
	LengthScale *float64 `json:"length_scale,omitempty"`
	NoiseScale  *float64 `json:"noise_scale,omitempty"`
	NoiseWidth  *float64 `json:"noise_w,omitempty"`
}

// DefaultSynthesisOptions are the piper defaults
func DefaultSynthesisOptions() repositories.SynthesisOptions {
	return repositories.SynthesisOptions{
		LengthScale: 1.0,
		NoiseScale:  0.667,
		NoiseWidth:  0.8,
	}
}

// SynthesisService validates requests and delegates to a TTS backend
type SynthesisService struct {
	tts    repositories.TextToSpeech
	logger *zap.Logger
}

// NewSynthesisService creates a new synthesis service
func NewSynthesisService(tts repositories.TextToSpeech, logger *zap.Logger) *SynthesisService {
	return &SynthesisService{tts: tts, logger: logger}
}

// Synthesize returns a WAV rendering of req.Text
func (s *SynthesisService) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = DefaultSynthesisText
	}

	opts := DefaultSynthesisOptions()
	for _, p := range []struct {
		name  string
		value *float64
		dst   *float64
	}{
		{"length_scale", req.LengthScale, &opts.LengthScale},
		{"noise_scale", req.NoiseScale, &opts.NoiseScale},
		{"noise_w", req.NoiseWidth, &opts.NoiseWidth},
	} {
		if p.value == nil {
			continue
		}
		if *p.value <= 0 || *p.value > maxScale {
			return nil, fmt.Errorf("%w: %s must be in (0, %g]", ErrInvalidSynthesis, p.name, maxScale)
		}
		*p.dst = *p.value
	}

	s.logger.Info("Synthesizing speech",
		zap.Int("chars", len(text)),
		zap.Float64("lengthScale", opts.LengthScale))

	audio, err := s.tts.Synthesize(ctx, text, opts)
	if err != nil {
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}
	return audio, nil
}
