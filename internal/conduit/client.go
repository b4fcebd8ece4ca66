package conduit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/calsync/internal/xpod"
)

// Path is the endpoint every pod serves.
const Path = "/conduit"

// Client sends messages over HTTP.
//
// Thread-safety: Client is safe for concurrent use.
type Client struct {
	pod    string
	secret []byte
	peers  map[string]string // pod id -> base URL
	http   *http.Client
	now    func() time.Time
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client. The default has a 30s timeout.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client for the pod named pod. peers maps the ids of
// the other pods to their base URLs.
func NewClient(pod string, secret []byte, peers map[string]string, opts ...ClientOption) *Client {
	c := &Client{
		pod:    pod,
		secret: secret,
		peers:  peers,
		http:   &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts m to pod and decodes the response envelope.
func (c *Client) Send(ctx context.Context, pod string, m xpod.Message) (*xpod.Response, error) {
	base, ok := c.peers[pod]
	if !ok {
		return nil, fmt.Errorf("unknown pod %q", pod)
	}
	body, err := xpod.Encode(m)
	if err != nil {
		return nil, err
	}
	token, err := SignToken(c.secret, c.pod, c.now())
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+Path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post to %s: %w", pod, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("conduit request",
		"pod", pod,
		"action", m.ActionName(),
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("pod %s answered %d: %s", pod, resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out xpod.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", pod, err)
	}
	return &out, nil
}
