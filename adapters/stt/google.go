package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/repositories"
)

const googleFlushTimeout = 10 * time.Second

// GoogleEngineFactory opens one Cloud Speech streaming call per engine over a
// shared client
type GoogleEngineFactory struct {
	client   *speech.Client
	language string
	logger   *zap.Logger
}

// NewGoogleEngineFactory creates the shared speech client using application default credentials
func NewGoogleEngineFactory(ctx context.Context, language string, logger *zap.Logger) (*GoogleEngineFactory, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleEngineFactory{client: client, language: language, logger: logger}, nil
}

// Close releases the shared client
func (f *GoogleEngineFactory) Close() error {
	return f.client.Close()
}

// NewEngine implements repositories.EngineFactory
func (f *GoogleEngineFactory) NewEngine(ctx context.Context, sampleRate int) (repositories.RecognitionEngine, error) {
	ctx, cancel := context.WithCancel(ctx)

	stream, err := f.client.StreamingRecognize(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	// Send initial configuration
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: int32(sampleRate),
					LanguageCode:    f.language,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		cancel()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	e := &GoogleEngine{
		stream: stream,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: f.logger,
	}
	go e.receiveResults()
	return e, nil
}

// recognitionStream is the part of the generated client the engine uses
type recognitionStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// GoogleEngine adapts a streaming call to the accept/flush protocol. A
// background receiver records the latest interim hypothesis and any
// finalized segments; AcceptAudio reports whichever is newest.
type GoogleEngine struct {
	stream recognitionStream
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger

	mu      sync.Mutex
	interim string
	finals  []string
	err     error
	sent    bool
}

func (g *GoogleEngine) receiveResults() {
	defer close(g.done)

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			// Stream ended normally
			return
		}
		if err != nil {
			g.mu.Lock()
			g.err = fmt.Errorf("failed to receive response: %w", err)
			g.mu.Unlock()
			return
		}

		g.record(resp)
	}
}

func (g *GoogleEngine) record(resp *speechpb.StreamingRecognizeResponse) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var interim []string
	for _, result := range resp.GetResults() {
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		// Take the best alternative
		transcript := strings.TrimSpace(result.GetAlternatives()[0].GetTranscript())
		if result.GetIsFinal() {
			if transcript != "" {
				g.finals = append(g.finals, transcript)
			}
			g.interim = ""
			continue
		}
		interim = append(interim, transcript)
	}
	if len(interim) > 0 {
		g.interim = strings.TrimSpace(strings.Join(interim, " "))
	}
}

func (g *GoogleEngine) takeFinals() string {
	text := strings.Join(g.finals, " ")
	g.finals = nil
	return text
}

// AcceptAudio implements repositories.RecognitionEngine
func (g *GoogleEngine) AcceptAudio(pcm []byte) (repositories.EngineResult, error) {
	g.mu.Lock()
	err := g.err
	g.mu.Unlock()
	if err != nil {
		return repositories.EngineResult{}, err
	}

	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: pcm,
		},
	}); err != nil {
		return repositories.EngineResult{}, fmt.Errorf("failed to send audio data: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = true
	if len(g.finals) > 0 {
		return repositories.EngineResult{IsFinal: true, Text: g.takeFinals()}, nil
	}
	return repositories.EngineResult{Text: g.interim}, nil
}

// FlushFinal half-closes the stream and waits for the trailing final
func (g *GoogleEngine) FlushFinal() (string, error) {
	g.mu.Lock()
	sent := g.sent
	g.mu.Unlock()
	if !sent {
		return "", nil
	}

	// Close the send stream to signal end of audio
	if err := g.stream.CloseSend(); err != nil {
		return "", fmt.Errorf("failed to close send stream: %w", err)
	}

	select {
	case <-g.done:
	case <-time.After(googleFlushTimeout):
		return "", errors.New("timed out waiting for final result")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = false
	text := g.takeFinals()
	if text == "" {
		text = g.interim
	}
	g.interim = ""
	if text == "" && g.err != nil {
		return "", g.err
	}
	return text, nil
}

// Close cancels the streaming call
func (g *GoogleEngine) Close() error {
	g.cancel()
	return nil
}
