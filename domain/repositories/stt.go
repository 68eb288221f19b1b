package repositories

import "context"

// EngineResult is what an engine reports for one accepted buffer
type EngineResult struct {
	IsFinal bool   `json:"final"`
	Text    string `json:"text"`
}

// RecognitionEngine is one stateful decoder instance. Implementations are not
// reentrant; callers must serialize every method call.
type RecognitionEngine interface {
	// AcceptAudio feeds canonical PCM and reports the current hypothesis
	AcceptAudio(pcm []byte) (EngineResult, error)
	// FlushFinal forces out whatever final transcript remains buffered
	FlushFinal() (string, error)
	// Close releases the decoder
	Close() error
}

// EngineFactory constructs engine instances bound to a sample rate. The model
// behind the factory is loaded once and shared read-only across engines.
type EngineFactory interface {
	NewEngine(ctx context.Context, sampleRate int) (RecognitionEngine, error)
}

// EngineFactoryFunc adapts a function to EngineFactory
type EngineFactoryFunc func(ctx context.Context, sampleRate int) (RecognitionEngine, error)

// NewEngine implements EngineFactory
func (f EngineFactoryFunc) NewEngine(ctx context.Context, sampleRate int) (RecognitionEngine, error) {
	return f(ctx, sampleRate)
}
