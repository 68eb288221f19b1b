package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/repositories"
)

const defaultPiperTimeout = 30 * time.Second

// PiperConfig configures the piper binary and voice model
type PiperConfig struct {
	Command     string
	ModelPath   string
	ModelConfig string
	Timeout     time.Duration
	TempDir     string
}

// PiperTTS runs one piper process per request. Text goes in on stdin and
// the WAV is read back from a scratch file.
type PiperTTS struct {
	command     []string
	modelPath   string
	modelConfig string
	timeout     time.Duration
	tempDir     string
	logger      *zap.Logger
}

var _ repositories.TextToSpeech = (*PiperTTS)(nil)

// NewPiperTTS validates the configuration; the binary and model are only checked on use
func NewPiperTTS(cfg PiperConfig, logger *zap.Logger) (*PiperTTS, error) {
	args, err := shellwords.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse piper command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("piper command is empty")
	}
	if cfg.ModelPath == "" {
		return nil, errors.New("piper model path is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPiperTimeout
	}
	return &PiperTTS{
		command:     args,
		modelPath:   cfg.ModelPath,
		modelConfig: cfg.ModelConfig,
		timeout:     timeout,
		tempDir:     cfg.TempDir,
		logger:      logger,
	}, nil
}

// Synthesize implements repositories.TextToSpeech
func (p *PiperTTS) Synthesize(ctx context.Context, text string, opts repositories.SynthesisOptions) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	dir, err := os.MkdirTemp(p.tempDir, "listener_tts_*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)
	output := filepath.Join(dir, "speech.wav")

	args := append([]string{}, p.command[1:]...)
	args = append(args, "--model", p.modelPath)
	if p.modelConfig != "" {
		args = append(args, "--config", p.modelConfig)
	}
	args = append(args,
		"--length_scale", formatScale(opts.LengthScale),
		"--noise_scale", formatScale(opts.NoiseScale),
		"--noise_w", formatScale(opts.NoiseWidth),
		"--output_file", output,
	)

	cmd := exec.CommandContext(ctx, p.command[0], args...)
	cmd.WaitDelay = time.Second
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("piper did not finish: %w", ctxErr)
		}
		return nil, fmt.Errorf("piper failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("read piper output: %w", err)
	}
	if !wav.NewDecoder(bytes.NewReader(data)).IsValidFile() {
		return nil, errors.New("piper output is not a valid wav file")
	}

	p.logger.Info("Synthesized speech",
		zap.Int("textLength", len(text)),
		zap.Int("audioSize", len(data)),
		zap.Duration("elapsed", time.Since(started)))
	return data, nil
}

func formatScale(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
