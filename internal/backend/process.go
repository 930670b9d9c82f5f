package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/wardenhq/warden/internal/protocol"
)

// ProcessRunner wraps a subprocess backend emitting line-delimited JSON on
// stdout and accepting JSON input on stdin.
type ProcessRunner struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	events chan protocol.NativeEvent

	mu      sync.Mutex
	stopped bool
	err     error
	done    chan struct{}
}

// StartProcess launches the command in dir and begins decoding its stdout.
func StartProcess(ctx context.Context, dir, name string, args ...string) (*ProcessRunner, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	r := &ProcessRunner{
		cmd:    cmd,
		stdin:  stdin,
		events: make(chan protocol.NativeEvent, 64),
		done:   make(chan struct{}),
	}
	go r.readLoop(stdout)
	return r, nil
}

func (r *ProcessRunner) readLoop(stdout io.Reader) {
	defer close(r.events)
	defer close(r.done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.events <- protocol.DecodeNativeEvent(line)
	}

	waitErr := r.cmd.Wait()
	r.mu.Lock()
	if !r.stopped && waitErr != nil {
		r.err = waitErr
	}
	r.mu.Unlock()
}

// Events returns the decoded native event stream.
func (r *ProcessRunner) Events() <-chan protocol.NativeEvent {
	return r.events
}

// Send writes one user input record to the backend's stdin.
func (r *ProcessRunner) Send(ctx context.Context, text string) error {
	payload := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	data = append(data, '\n')
	if _, err := r.stdin.Write(data); err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	return nil
}

// Stop terminates the process. Events is closed once the reader drains.
func (r *ProcessRunner) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	_ = r.stdin.Close()
	if r.cmd.Process != nil {
		return r.cmd.Process.Kill()
	}
	return nil
}

// Err reports the terminal process error after Events closes.
func (r *ProcessRunner) Err() error {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
