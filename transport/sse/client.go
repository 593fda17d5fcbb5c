// Package sse implements the push transport over server-sent events.
package sse

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/namewise/runwatch-go/transport"
)

const maxLineBytes = 1 << 20

type config struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
}

type Option func(*config)

func WithAPIKey(apiKey string) Option {
	return func(c *config) { c.apiKey = strings.TrimSpace(apiKey) }
}

func WithUserAgent(ua string) Option {
	return func(c *config) { c.userAgent = ua }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *config) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// NewFactory returns a transport factory that opens one SSE stream per run
// against GET {base}/v1/runs/{id}/events.
func NewFactory(baseURL string, opts ...Option) (transport.Factory, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("sse base url is required")
	}
	cfg := config{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "runwatch-go",
		// No overall timeout: the stream is long-lived by design.
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(runID string, cb transport.Callbacks) transport.Transport {
		return &stream{cfg: cfg, runID: runID, cb: cb}
	}, nil
}

type stream struct {
	cfg   config
	runID string
	cb    transport.Callbacks

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

func (s *stream) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()
	go s.run(runCtx)
}

func (s *stream) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *stream) run(ctx context.Context) {
	endpoint := fmt.Sprintf("%s/v1/runs/%s/events", s.cfg.baseURL, url.PathEscape(s.runID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		s.emitError(fmt.Errorf("failed to create stream request: %w", err))
		return
	}
	req.Header.Set("accept", "text/event-stream")
	req.Header.Set("cache-control", "no-cache")
	req.Header.Set("user-agent", s.cfg.userAgent)
	if s.cfg.apiKey != "" {
		req.Header.Set("authorization", "Bearer "+s.cfg.apiKey)
	}

	resp, err := s.cfg.httpClient.Do(req)
	if err != nil {
		s.emitError(fmt.Errorf("stream connect failed: %w", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.emitError(fmt.Errorf("stream rejected with status %d", resp.StatusCode))
		return
	}
	s.emitOpen()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var eventName string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventName != "" && len(data) > 0 {
				s.emitEvent(eventName, []byte(strings.Join(data, "\n")))
			}
			eventName = ""
			data = data[:0]
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive.
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if ctx.Err() != nil {
		return
	}
	if err := scanner.Err(); err != nil {
		s.emitError(fmt.Errorf("stream read failed: %w", err))
		return
	}
	s.emitError(fmt.Errorf("stream closed by server"))
}

func (s *stream) emitOpen() {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped && s.cb.OnOpen != nil {
		s.cb.OnOpen()
	}
}

func (s *stream) emitEvent(name string, data []byte) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped && s.cb.OnEvent != nil {
		s.cb.OnEvent(name, data)
	}
}

func (s *stream) emitError(err error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped && s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}
