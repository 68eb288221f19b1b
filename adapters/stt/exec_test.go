package stt

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

// TestExecHelperProcess is not a real test. It is the decoder helper that
// the exec engine tests launch by re-running the test binary.
func TestExecHelperProcess(t *testing.T) {
	if os.Getenv("LISTENER_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	mode := os.Getenv("LISTENER_HELPER_MODE")
	if mode == "fail" {
		fmt.Fprintln(os.Stderr, "failed to load model")
		os.Exit(1)
	}
	fmt.Println(`{"ready":true}`)
	if mode == "deaf" {
		// reports ready, then never reads stdin
		time.Sleep(time.Minute)
		return
	}

	total := 0
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var req execRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			fmt.Println(`{"error":"bad request"}`)
			continue
		}
		if mode == "hang" {
			time.Sleep(time.Minute)
		}
		switch req.Op {
		case "accept":
			total += len(req.Audio)
			if total >= 8 {
				fmt.Printf("{\"final\":true,\"text\":\"heard %d bytes\"}\n", total)
				total = 0
				continue
			}
			fmt.Printf("{\"final\":false,\"text\":\"hearing %d\"}\n", total)
		case "flush":
			fmt.Printf("{\"final\":true,\"text\":\"flushed %d\"}\n", total)
			total = 0
		}
	}
}

func newHelperFactory(t *testing.T, mode string, timeout time.Duration) *ExecEngineFactory {
	t.Helper()
	t.Setenv("LISTENER_WANT_HELPER_PROCESS", "1")
	t.Setenv("LISTENER_HELPER_MODE", mode)

	command := fmt.Sprintf("%q -test.run=TestExecHelperProcess --", os.Args[0])
	f, err := NewExecEngineFactory(command, "/models/vosk-small", timeout, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create factory: %v", err)
	}
	return f
}

func TestNewExecEngineFactory_InvalidCommand(t *testing.T) {
	if _, err := NewExecEngineFactory("", "", 0, zap.NewNop()); err == nil {
		t.Error("Expected error for empty command")
	}
	if _, err := NewExecEngineFactory(`vosk-helper "unterminated`, "", 0, zap.NewNop()); err == nil {
		t.Error("Expected error for unterminated quote")
	}
}

func TestExecEngine_AcceptAndFlush(t *testing.T) {
	f := newHelperFactory(t, "", 10*time.Second)

	engine, err := f.NewEngine(context.Background(), 16000)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer engine.Close()

	res, err := engine.AcceptAudio([]byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("AcceptAudio failed: %v", err)
	}
	if res.IsFinal || res.Text != "hearing 4" {
		t.Errorf("Expected partial 'hearing 4', got %+v", res)
	}

	res, err = engine.AcceptAudio([]byte{5, 6, 7, 8})
	if err != nil {
		t.Fatalf("AcceptAudio failed: %v", err)
	}
	if !res.IsFinal || res.Text != "heard 8 bytes" {
		t.Errorf("Expected final 'heard 8 bytes', got %+v", res)
	}

	engine.AcceptAudio([]byte{1, 2})
	text, err := engine.FlushFinal()
	if err != nil {
		t.Fatalf("FlushFinal failed: %v", err)
	}
	if text != "flushed 2" {
		t.Errorf("Expected 'flushed 2', got %q", text)
	}
}

func TestExecEngine_ConstructionFailure(t *testing.T) {
	f := newHelperFactory(t, "fail", 5*time.Second)

	if _, err := f.NewEngine(context.Background(), 16000); err == nil {
		t.Error("Expected construction to fail when the helper exits")
	}
}

func TestExecEngine_MissingBinary(t *testing.T) {
	f, err := NewExecEngineFactory("/nonexistent/vosk-helper", "", time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create factory: %v", err)
	}
	if _, err := f.NewEngine(context.Background(), 16000); err == nil {
		t.Error("Expected construction to fail for missing binary")
	}
}

func TestExecEngine_Timeout(t *testing.T) {
	f := newHelperFactory(t, "hang", 200*time.Millisecond)

	engine, err := f.NewEngine(context.Background(), 16000)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer engine.Close()

	_, err = engine.AcceptAudio([]byte{1, 2})
	if err == nil || !strings.Contains(err.Error(), "did not answer") {
		t.Errorf("Expected timeout error, got %v", err)
	}
}

func TestExecEngine_WriteTimeout(t *testing.T) {
	f := newHelperFactory(t, "deaf", 300*time.Millisecond)

	engine, err := f.NewEngine(context.Background(), 16000)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	// far larger than a pipe buffer once base64 encoded
	chunk := make([]byte, 400*1024)
	result := make(chan error, 1)
	go func() {
		_, err := engine.AcceptAudio(chunk)
		result <- err
	}()

	select {
	case err := <-result:
		if err == nil || !strings.Contains(err.Error(), "did not read input") {
			t.Errorf("Expected write timeout error, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("AcceptAudio still blocked after 3s with a 300ms engine timeout")
	}

	if _, err := engine.FlushFinal(); err == nil {
		t.Error("Expected FlushFinal after a write timeout to fail")
	}

	closed := make(chan struct{})
	go func() {
		engine.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Close blocked after the helper was killed")
	}
}

func TestExecEngine_CloseIdempotent(t *testing.T) {
	f := newHelperFactory(t, "", 5*time.Second)

	engine, err := f.NewEngine(context.Background(), 16000)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Errorf("Expected clean close, got %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Errorf("Expected second close to be a no-op, got %v", err)
	}
	if _, err := engine.AcceptAudio([]byte{1, 2}); err == nil {
		t.Error("Expected AcceptAudio after close to fail")
	}
}
