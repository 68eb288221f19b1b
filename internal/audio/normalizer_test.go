package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/entities"
)

func newTestNormalizer(t *testing.T, command string, timeout time.Duration) (*Normalizer, string) {
	t.Helper()
	tmp := t.TempDir()
	n, err := NewNormalizer(Config{DecoderCommand: command, Timeout: timeout, TempDir: tmp}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create normalizer: %v", err)
	}
	return n, tmp
}

// writeScript installs a fake decoder and returns its path
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "decoder.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return path
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected scratch dir to be empty, found %d entries", len(entries))
	}
}

func buildWAV(t *testing.T, sampleRate, channels int, samples []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create wav: %v", err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Failed to write samples: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Failed to close encoder: %v", err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read wav: %v", err)
	}
	return data
}

func TestNewNormalizer_InvalidCommand(t *testing.T) {
	if _, err := NewNormalizer(Config{DecoderCommand: ""}, zap.NewNop()); err == nil {
		t.Error("Expected error for empty decoder command")
	}
	if _, err := NewNormalizer(Config{DecoderCommand: `ffmpeg "unterminated`}, zap.NewNop()); err == nil {
		t.Error("Expected error for unterminated quote")
	}
}

func TestNormalize_CanonicalPassthrough(t *testing.T) {
	n, _ := newTestNormalizer(t, "/nonexistent/ffmpeg", time.Second)
	raw := []byte{0x01, 0x00, 0xff, 0x7f}

	for _, format := range []entities.AudioFormat{
		{},
		{Encoding: "pcm"},
		{Encoding: "s16le", SampleRate: 16000, Channels: 1},
	} {
		pcm, path, err := n.Normalize(context.Background(), raw, format)
		if err != nil {
			t.Fatalf("Expected no error for %+v, got %v", format, err)
		}
		if path != PathCanonical {
			t.Errorf("Expected path %s, got %s", PathCanonical, path)
		}
		if &pcm[0] != &raw[0] {
			t.Error("Expected canonical PCM to be returned without copying")
		}
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	n, _ := newTestNormalizer(t, "/nonexistent/ffmpeg", time.Second)

	pcm, _, err := n.Normalize(context.Background(), nil, entities.AudioFormat{Encoding: "webm"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(pcm) != 0 {
		t.Errorf("Expected empty chunk, got %d bytes", len(pcm))
	}
}

func TestNormalize_OddLengthRejected(t *testing.T) {
	n, _ := newTestNormalizer(t, "/nonexistent/ffmpeg", time.Second)

	_, _, err := n.Normalize(context.Background(), []byte{1, 2, 3}, entities.CanonicalFormat())
	if !errors.Is(err, ErrConversionFailed) {
		t.Fatalf("Expected ErrConversionFailed, got %v", err)
	}
	var audioErr *AudioError
	if !errors.As(err, &audioErr) {
		t.Fatal("Expected *AudioError")
	}
	if audioErr.Format.Encoding != entities.EncodingPCM {
		t.Errorf("Expected encoding pcm, got %s", audioErr.Format.Encoding)
	}
}

func TestNormalize_InvalidFormat(t *testing.T) {
	n, _ := newTestNormalizer(t, "/nonexistent/ffmpeg", time.Second)

	_, _, err := n.Normalize(context.Background(), []byte{1, 2}, entities.AudioFormat{Encoding: "../etc"})
	if !errors.Is(err, ErrConversionFailed) {
		t.Errorf("Expected ErrConversionFailed, got %v", err)
	}
}

func TestNormalize_CanonicalWAV(t *testing.T) {
	n, tmp := newTestNormalizer(t, "/nonexistent/ffmpeg", time.Second)
	raw := buildWAV(t, 16000, 1, []int{1, -2, 300, -32768})

	pcm, path, err := n.Normalize(context.Background(), raw, entities.AudioFormat{Encoding: "wav"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if path != PathWAV {
		t.Errorf("Expected path %s, got %s", PathWAV, path)
	}
	expected := []byte{0x01, 0x00, 0xfe, 0xff, 0x2c, 0x01, 0x00, 0x80}
	if string(pcm) != string(expected) {
		t.Errorf("Expected %v, got %v", expected, pcm)
	}
	assertScratchEmpty(t, tmp)
}

func TestNormalize_NonCanonicalWAVUsesDecoder(t *testing.T) {
	script := writeScript(t, `printf 'ABCD'`)
	n, tmp := newTestNormalizer(t, script, 5*time.Second)
	raw := buildWAV(t, 44100, 2, []int{1, 1, 2, 2})

	pcm, path, err := n.Normalize(context.Background(), raw, entities.AudioFormat{Encoding: "wav"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if path != PathDecoder {
		t.Errorf("Expected path %s, got %s", PathDecoder, path)
	}
	if string(pcm) != "ABCD" {
		t.Errorf("Expected decoder output, got %q", pcm)
	}
	assertScratchEmpty(t, tmp)
}

func TestNormalize_DecoderReceivesInputFile(t *testing.T) {
	// echoes the file passed after -i
	script := writeScript(t, `while [ $# -gt 0 ]; do
  if [ "$1" = "-i" ]; then cat "$2"; exit 0; fi
  shift
done
exit 2`)
	n, tmp := newTestNormalizer(t, script, 5*time.Second)
	raw := []byte("OggS-fake-page!!")

	pcm, _, err := n.Normalize(context.Background(), raw, entities.AudioFormat{Encoding: "ogg"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(pcm) != string(raw) {
		t.Errorf("Expected %q, got %q", raw, pcm)
	}
	assertScratchEmpty(t, tmp)
}

func TestNormalize_ResamplesRawPCM(t *testing.T) {
	// prints the -ar value given before -i, padded to whole samples
	script := writeScript(t, `while [ $# -gt 0 ]; do
  if [ "$1" = "-ar" ]; then printf '%s0' "$2"; exit 0; fi
  shift
done
exit 2`)
	n, _ := newTestNormalizer(t, script, 5*time.Second)

	pcm, path, err := n.Normalize(context.Background(), []byte{0, 0, 0, 0}, entities.AudioFormat{Encoding: "pcm", SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if path != PathDecoder {
		t.Errorf("Expected path %s, got %s", PathDecoder, path)
	}
	if string(pcm) != "480000" {
		t.Errorf("Expected source rate passed to decoder, got %q", pcm)
	}
}

func TestNormalize_DecoderFailures(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"non-zero exit", `echo "Invalid data found when processing input" >&2; exit 1`},
		{"empty output", `exit 0`},
		{"odd output", `printf 'ABC'`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, tmp := newTestNormalizer(t, writeScript(t, tt.script), 5*time.Second)

			_, _, err := n.Normalize(context.Background(), []byte("garbage"), entities.AudioFormat{Encoding: "webm"})
			if !errors.Is(err, ErrConversionFailed) {
				t.Errorf("Expected ErrConversionFailed, got %v", err)
			}
			assertScratchEmpty(t, tmp)
		})
	}
}

func TestNormalize_MissingDecoder(t *testing.T) {
	n, tmp := newTestNormalizer(t, "/nonexistent/ffmpeg -hide_banner", time.Second)

	_, _, err := n.Normalize(context.Background(), []byte("garbage"), entities.AudioFormat{Encoding: "mp3"})
	if !errors.Is(err, ErrConversionFailed) {
		t.Errorf("Expected ErrConversionFailed, got %v", err)
	}
	assertScratchEmpty(t, tmp)
}

func TestNormalize_Timeout(t *testing.T) {
	n, tmp := newTestNormalizer(t, writeScript(t, `exec sleep 10`), 200*time.Millisecond)

	started := time.Now()
	_, _, err := n.Normalize(context.Background(), []byte("garbage"), entities.AudioFormat{Encoding: "webm"})
	if !errors.Is(err, ErrConversionFailed) {
		t.Fatalf("Expected ErrConversionFailed, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded cause, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Errorf("Expected decoder to be killed promptly, took %s", elapsed)
	}
	assertScratchEmpty(t, tmp)
}

func TestNormalize_ParentCancellation(t *testing.T) {
	n, tmp := newTestNormalizer(t, writeScript(t, `exec sleep 10`), 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, _, err := n.Normalize(ctx, []byte("garbage"), entities.AudioFormat{Encoding: "webm"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled cause, got %v", err)
	}
	assertScratchEmpty(t, tmp)
}
