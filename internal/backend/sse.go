package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/wardenhq/warden/internal/protocol"
)

// SSERunner is a connection to a server-style backend (opencode) that
// emits structured events over server-sent events and accepts input via a
// prompt endpoint.
type SSERunner struct {
	baseURL   string
	sessionID string
	client    *http.Client
	cancel    context.CancelFunc
	events    chan protocol.NativeEvent

	mu      sync.Mutex
	stopped bool
	err     error
	done    chan struct{}
}

// ConnectSSE subscribes to the backend's event stream for one session.
func ConnectSSE(ctx context.Context, baseURL, sessionID string) (*SSERunner, error) {
	ctx, cancel := context.WithCancel(ctx)

	url := fmt.Sprintf("%s/event?session=%s", strings.TrimRight(baseURL, "/"), sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe events: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("subscribe events: status %d", resp.StatusCode)
	}

	r := &SSERunner{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sessionID: sessionID,
		client:    client,
		cancel:    cancel,
		events:    make(chan protocol.NativeEvent, 64),
		done:      make(chan struct{}),
	}
	go r.readLoop(resp)
	return r, nil
}

func (r *SSERunner) readLoop(resp *http.Response) {
	defer close(r.events)
	defer close(r.done)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(dataLines) == 0 {
				continue
			}
			payload := strings.Join(dataLines, "\n")
			dataLines = dataLines[:0]
			r.events <- protocol.DecodeNativeEvent(payload)
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
		}
	}

	if err := scanner.Err(); err != nil {
		r.mu.Lock()
		if !r.stopped {
			r.err = err
		}
		r.mu.Unlock()
	}
}

// Events returns the decoded SSE event stream.
func (r *SSERunner) Events() <-chan protocol.NativeEvent {
	return r.events
}

// Send posts user input to the backend's prompt endpoint.
func (r *SSERunner) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]any{
		"parts": []map[string]any{{"type": "text", "text": text}},
	})
	if err != nil {
		return fmt.Errorf("marshal prompt: %w", err)
	}
	url := fmt.Sprintf("%s/session/%s/message", r.baseURL, r.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post prompt: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post prompt: status %d", resp.StatusCode)
	}
	return nil
}

// Stop cancels the event subscription.
func (r *SSERunner) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	return nil
}

// Err reports the terminal stream error after Events closes.
func (r *SSERunner) Err() error {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
