// Package ws implements the push transport over a websocket connection.
// Servers that multiplex run events over a socket send JSON frames of the
// form {"event": "<name>", "data": {...}}.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/namewise/runwatch-go/transport"
)

type config struct {
	baseURL   string
	apiKey    string
	userAgent string
	dialer    *websocket.Dialer
}

type Option func(*config)

func WithAPIKey(apiKey string) Option {
	return func(c *config) { c.apiKey = strings.TrimSpace(apiKey) }
}

func WithUserAgent(ua string) Option {
	return func(c *config) { c.userAgent = ua }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *config) {
		if d != nil {
			c.dialer = d
		}
	}
}

// NewFactory returns a transport factory that dials one websocket per run
// against {base}/v1/runs/{id}/events/ws, with http(s) schemes rewritten to
// ws(s).
func NewFactory(baseURL string, opts ...Option) (transport.Factory, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("websocket base url is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported websocket scheme %q", u.Scheme)
	}
	cfg := config{
		baseURL:   u.String(),
		userAgent: "runwatch-go",
		dialer:    websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(runID string, cb transport.Callbacks) transport.Transport {
		return &socket{cfg: cfg, runID: runID, cb: cb}
	}, nil
}

// frame is one multiplexed event on the socket.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type socket struct {
	cfg   config
	runID string
	cb    transport.Callbacks

	mu      sync.Mutex
	cancel  context.CancelFunc
	conn    *websocket.Conn
	stopped bool
}

func (s *socket) Start(ctx context.Context) {
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

func (s *socket) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	conn := s.conn
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *socket) run(ctx context.Context) {
	endpoint := fmt.Sprintf("%s/v1/runs/%s/events/ws", s.cfg.baseURL, url.PathEscape(s.runID))
	header := http.Header{}
	header.Set("user-agent", s.cfg.userAgent)
	if s.cfg.apiKey != "" {
		header.Set("authorization", "Bearer "+s.cfg.apiKey)
	}

	conn, _, err := s.cfg.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		s.emitError(fmt.Errorf("websocket dial failed: %w", err))
		return
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	s.emitOpen()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emitError(fmt.Errorf("stream closed by server"))
			} else {
				s.emitError(fmt.Errorf("websocket read failed: %w", err))
			}
			return
		}
		var f frame
		if err := json.Unmarshal(payload, &f); err != nil || f.Event == "" {
			// Frames we cannot decode are dropped rather than fatal; the
			// server may interleave pings or future message types.
			continue
		}
		s.emitEvent(f.Event, f.Data)
	}
}

func (s *socket) emitOpen() {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped && s.cb.OnOpen != nil {
		s.cb.OnOpen()
	}
}

func (s *socket) emitEvent(name string, data []byte) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped && s.cb.OnEvent != nil {
		s.cb.OnEvent(name, data)
	}
}

func (s *socket) emitError(err error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped && s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}
