// Package audio converts inbound audio payloads into the canonical PCM stream
// (16 kHz, mono, signed 16-bit little-endian) that recognition engines accept.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
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

	"github.com/satriahrh/arunika/listener/domain/entities"
)

const (
	defaultDecodeTimeout = 5 * time.Second
	// grace period for the decoder's pipes after it has been killed
	waitDelay = 500 * time.Millisecond
)

// Path names the conversion route a chunk took, for metrics
type Path string

const (
	PathCanonical Path = "canonical"
	PathWAV       Path = "wav"
	PathDecoder   Path = "decoder"
)

// Config configures the external decoder
type Config struct {
	// DecoderCommand is an ffmpeg-compatible command line
	DecoderCommand string
	Timeout        time.Duration
	TempDir        string
}

// Normalizer is stateless per call and safe for concurrent use
type Normalizer struct {
	decoder []string
	timeout time.Duration
	tempDir string
	logger  *zap.Logger
}

// NewNormalizer parses the decoder command; the binary itself is only looked up on use
func NewNormalizer(cfg Config, logger *zap.Logger) (*Normalizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.DecoderCommand)
	if err != nil {
		return nil, fmt.Errorf("parse decoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("decoder command is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultDecodeTimeout
	}
	return &Normalizer{
		decoder: args,
		timeout: timeout,
		tempDir: cfg.TempDir,
		logger:  logger,
	}, nil
}

// Normalize converts one chunk. Canonical PCM is returned as-is without copying.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte, format entities.AudioFormat) ([]byte, Path, error) {
	format = format.Normalized()
	if err := format.Validate(); err != nil {
		return nil, PathCanonical, conversionError(format, "invalid format", err)
	}
	if len(raw) == 0 {
		return raw, PathCanonical, nil
	}

	if format.IsCanonical() {
		if len(raw)%2 != 0 {
			return nil, PathCanonical, conversionError(format, "pcm payload not aligned to 16-bit samples", nil)
		}
		return raw, PathCanonical, nil
	}

	if format.Encoding == entities.EncodingWAV {
		pcm, ok, err := canonicalWAV(raw)
		if err != nil {
			return nil, PathWAV, conversionError(format, "corrupt wav", err)
		}
		if ok {
			return pcm, PathWAV, nil
		}
	}

	pcm, err := n.decode(ctx, raw, format)
	return pcm, PathDecoder, err
}

// canonicalWAV extracts sample data when the container already holds canonical PCM.
// ok is false when the WAV is valid but needs resampling or downmixing.
func canonicalWAV(raw []byte) ([]byte, bool, error) {
	dec := wav.NewDecoder(bytes.NewReader(raw))
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return nil, false, err
		}
		return nil, false, errors.New("not a valid wav file")
	}
	if dec.WavAudioFormat != 1 || dec.BitDepth != entities.CanonicalBitDepth ||
		int(dec.SampleRate) != entities.CanonicalSampleRate || int(dec.NumChans) != entities.CanonicalChannels {
		return nil, false, nil
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, false, fmt.Errorf("read wav samples: %w", err)
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(sample)))
	}
	return pcm, true, nil
}

// decode runs the external decoder with a bounded lifetime. The scratch
// directory is removed on every return path, including timeouts and crashes.
func (n *Normalizer) decode(ctx context.Context, raw []byte, format entities.AudioFormat) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	dir, err := os.MkdirTemp(n.tempDir, "listener_audio_*")
	if err != nil {
		return nil, conversionError(format, "create scratch dir", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input."+format.Encoding)
	if err := os.WriteFile(input, raw, 0o600); err != nil {
		return nil, conversionError(format, "write scratch input", err)
	}

	args := append([]string{}, n.decoder[1:]...)
	args = append(args, "-nostdin", "-loglevel", "error")
	if format.Encoding == entities.EncodingPCM {
		args = append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(format.SampleRate),
			"-ac", strconv.Itoa(format.Channels),
		)
	}
	args = append(args,
		"-i", input,
		"-ar", strconv.Itoa(entities.CanonicalSampleRate),
		"-ac", strconv.Itoa(entities.CanonicalChannels),
		"-f", "s16le",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, n.decoder[0], args...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		reason := "decoder cancelled"
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			reason = fmt.Sprintf("decoder timed out after %s", n.timeout)
		}
		return nil, conversionError(format, reason, ctxErr)
	}
	if runErr != nil {
		n.logger.Debug("Audio decoder failed",
			zap.String("encoding", format.Encoding),
			zap.Int("size", len(raw)),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
			zap.Error(runErr))
		return nil, conversionError(format, "decoder failed", fmt.Errorf("%w: %s", runErr, strings.TrimSpace(stderr.String())))
	}

	pcm := stdout.Bytes()
	if len(pcm) == 0 {
		return nil, conversionError(format, "decoder produced no audio", nil)
	}
	if len(pcm)%2 != 0 {
		return nil, conversionError(format, "decoder output not aligned to 16-bit samples", nil)
	}

	n.logger.Debug("Decoded audio chunk",
		zap.String("encoding", format.Encoding),
		zap.Int("inputSize", len(raw)),
		zap.Int("outputSize", len(pcm)),
		zap.Duration("elapsed", time.Since(started)))
	return pcm, nil
}
