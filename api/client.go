// Package api is the REST client for the run service: authoritative
// run-status fetches, candidate queries, and the two mutation endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/namewise/runwatch-go/event"
	"github.com/namewise/runwatch-go/types"
)

const defaultBaseURL = "https://api.namewise.dev"

// Error is a typed transport/status error from the run service.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(baseURL) != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithAPIKey(apiKey string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(apiKey) }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		baseURL:   defaultBaseURL,
		userAgent: "runwatch-go",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured service root, for transports that share it.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchRunStatus returns the full authoritative snapshot for a run. It is
// both the initial seed and the polling/refetch source.
func (c *Client) FetchRunStatus(ctx context.Context, runID string) (*types.RunSnapshot, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/runs/%s/status", url.PathEscape(runID)), nil)
	if err != nil {
		return nil, err
	}
	ev, err := event.Parse(event.NameSnapshot, body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode run status: %w", err)
	}
	return ev.(*event.Snapshot).Snap, nil
}

// ListQuery selects one page of a run's candidate list.
type ListQuery struct {
	Page   int
	Filter string
	Sort   string
}

// ListCandidates fetches one page of a run's name candidates.
func (c *Client) ListCandidates(ctx context.Context, runID string, query ListQuery) ([]*types.Candidate, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	values := url.Values{}
	if query.Page > 0 {
		values.Set("page", strconv.Itoa(query.Page))
	}
	if query.Filter != "" {
		values.Set("filter", query.Filter)
	}
	if query.Sort != "" {
		values.Set("sort", query.Sort)
	}
	path := fmt.Sprintf("/v1/runs/%s/candidates", url.PathEscape(runID))
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Candidates []*types.Candidate `json:"candidates"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode candidate list: %w", err)
	}
	return out.Candidates, nil
}

// CandidatePatch is a partial field update. Nil fields are left untouched.
type CandidatePatch struct {
	Name        *string `json:"name,omitempty"`
	Notes       *string `json:"notes,omitempty"`
	Shortlisted *bool   `json:"shortlisted,omitempty"`
}

// PatchCandidate applies a partial update and returns the confirmed entity.
func (c *Client) PatchCandidate(ctx context.Context, candidateID string, patch CandidatePatch) (*types.Candidate, error) {
	if strings.TrimSpace(candidateID) == "" {
		return nil, fmt.Errorf("candidate id is required")
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal candidate patch: %w", err)
	}
	body, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/v1/candidates/%s", url.PathEscape(candidateID)), raw)
	if err != nil {
		return nil, err
	}
	var out types.Candidate
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode confirmed candidate: %w", err)
	}
	return &out, nil
}

// TriggerClearance kicks off clearance checks for a run's candidates. The
// action is fire-and-forget; results arrive as out-of-band push updates.
func (c *Client) TriggerClearance(ctx context.Context, runID string) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/runs/%s/clearance", url.PathEscape(runID)), nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("user-agent", c.userAgent)
	if payload != nil {
		req.Header.Set("content-type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}
