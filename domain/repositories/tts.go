package repositories

import "context"

// SynthesisOptions are the piper-style voice controls
type SynthesisOptions struct {
	LengthScale float64 `json:"length_scale"`
	NoiseScale  float64 `json:"noise_scale"`
	NoiseWidth  float64 `json:"noise_w"`
}

// TextToSpeech is a stateless request/response synthesis boundary
type TextToSpeech interface {
	// Synthesize renders text and returns a complete WAV file
	Synthesize(ctx context.Context, text string, opts SynthesisOptions) ([]byte, error)
}
