package stt

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	"github.com/satriahrh/arunika/listener/domain/repositories"
)

const defaultExecTimeout = 10 * time.Second

// ExecEngineFactory runs one decoder helper process per engine. The helper
// speaks newline-delimited JSON: it prints {"ready":true} once its model is
// loaded, then answers each {"op":"accept","audio":"<b64>"} or {"op":"flush"}
// request with one {"final":bool,"text":string} line.
type ExecEngineFactory struct {
	command   []string
	modelPath string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewExecEngineFactory parses the helper command line
func NewExecEngineFactory(command, modelPath string, timeout time.Duration, logger *zap.Logger) (*ExecEngineFactory, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("engine command is empty")
	}
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return &ExecEngineFactory{command: args, modelPath: modelPath, timeout: timeout, logger: logger}, nil
}

type execRequest struct {
	Op    string `json:"op"`
	Audio []byte `json:"audio,omitempty"`
}

type execResponse struct {
	repositories.EngineResult
	Ready bool   `json:"ready,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewEngine starts a helper and waits for its ready line
func (f *ExecEngineFactory) NewEngine(ctx context.Context, sampleRate int) (repositories.RecognitionEngine, error) {
	ctx, cancel := context.WithCancel(ctx)

	args := append([]string{}, f.command[1:]...)
	if f.modelPath != "" {
		args = append(args, "--model", f.modelPath)
	}
	args = append(args, "--sample-rate", strconv.Itoa(sampleRate))

	cmd := exec.CommandContext(ctx, f.command[0], args...)
	cmd.WaitDelay = time.Second
	stderr := &zapio.Writer{Log: f.logger.With(zap.String("component", "engine-helper")), Level: zap.DebugLevel}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("engine stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start engine helper: %w", err)
	}

	e := &ExecEngine{
		cmd:       cmd,
		stdin:     stdin,
		encoder:   json.NewEncoder(stdin),
		responses: make(chan execResponse),
		exited:    make(chan struct{}),
		timeout:   f.timeout,
		cancel:    cancel,
		stderr:    stderr,
		logger:    f.logger,
	}
	go e.readResponses(stdout)

	ready, err := e.await()
	if err == nil && !ready.Ready {
		err = errors.New("engine helper did not report ready")
	}
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("engine helper handshake: %w", err)
	}

	f.logger.Debug("Engine helper started", zap.Int("pid", cmd.Process.Pid), zap.Int("sampleRate", sampleRate))
	return e, nil
}

// ExecEngine is a live helper process. Calls must be serialized.
type ExecEngine struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	encoder   *json.Encoder
	responses chan execResponse
	exited    chan struct{}
	timeout   time.Duration
	cancel    context.CancelFunc
	stderr    *zapio.Writer
	logger    *zap.Logger

	// set once a write timed out; the helper is dead from then on
	broken error

	closeOnce sync.Once
}

func (e *ExecEngine) readResponses(stdout io.Reader) {
	defer close(e.exited)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var resp execResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			e.logger.Warn("Discarding unparseable engine output", zap.ByteString("line", scanner.Bytes()), zap.Error(err))
			continue
		}
		select {
		case e.responses <- resp:
		case <-time.After(e.timeout):
			e.logger.Warn("Discarding unrequested engine output")
		}
	}
}

// await blocks for the next response, killing the helper on timeout
func (e *ExecEngine) await() (execResponse, error) {
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case resp := <-e.responses:
		if resp.Error != "" {
			return resp, errors.New(resp.Error)
		}
		return resp, nil
	case <-e.exited:
		return execResponse{}, errors.New("engine helper exited")
	case <-timer.C:
		e.cancel()
		return execResponse{}, fmt.Errorf("engine helper did not answer within %s", e.timeout)
	}
}

// roundTrip writes one request and waits for its answer. The write shares the
// engine timeout: a helper that stops reading stdin is killed, which breaks
// the pipe and releases the writer.
func (e *ExecEngine) roundTrip(req execRequest) (execResponse, error) {
	if e.broken != nil {
		return execResponse{}, e.broken
	}

	written := make(chan error, 1)
	go func() { written <- e.encoder.Encode(req) }()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case err := <-written:
		if err != nil {
			return execResponse{}, fmt.Errorf("write engine request: %w", err)
		}
	case <-timer.C:
		e.cancel()
		// the pending write may still hold the encoder
		e.broken = fmt.Errorf("engine helper did not read input within %s", e.timeout)
		return execResponse{}, e.broken
	}
	return e.await()
}

// AcceptAudio implements repositories.RecognitionEngine
func (e *ExecEngine) AcceptAudio(pcm []byte) (repositories.EngineResult, error) {
	resp, err := e.roundTrip(execRequest{Op: "accept", Audio: pcm})
	if err != nil {
		return repositories.EngineResult{}, err
	}
	return resp.EngineResult, nil
}

// FlushFinal implements repositories.RecognitionEngine
func (e *ExecEngine) FlushFinal() (string, error) {
	resp, err := e.roundTrip(execRequest{Op: "flush"})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Close ends the helper: stdin is closed first so a well-behaved helper can
// exit on its own, then the process is killed
func (e *ExecEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.stdin.Close()
		select {
		case <-e.exited:
		case <-time.After(500 * time.Millisecond):
		}
		e.cancel()
		if waitErr := e.cmd.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
			var exitErr *exec.ExitError
			if !errors.As(waitErr, &exitErr) {
				err = waitErr
			}
		}
		e.stderr.Close()
	})
	return err
}
