package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	v1 "farmgate/pkg/api/v1"
	"farmgate/pkg/logger"

	"go.uber.org/zap"
)

var ErrStreamReset = errors.New("change stream history lost, resync required")

// StatusError reports a non-2xx answer from the server.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("farmgate %s: unexpected status %d", e.Path, e.Code)
}

// Client talks to a farmgate server. It doubles as the flag store's remote
// source when configuration lives on another instance.
type Client struct {
	addr       string
	token      string
	httpClient *http.Client
	// streamClient has no timeout, the stream is long lived
	streamClient *http.Client

	heartbeatTimeout time.Duration
	minBackoff       time.Duration
	maxBackoff       time.Duration

	mu      sync.RWMutex
	lastRev int64
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient = &http.Client{Timeout: d} }
}

// WithHeartbeatTimeout sets how long the stream may stay silent before the
// client reconnects. The server pings well inside this window.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(c *Client) { c.heartbeatTimeout = d }
}

func New(addr string, opts ...Option) *Client {
	c := &Client{
		addr:             strings.TrimRight(addr, "/"),
		httpClient:       &http.Client{Timeout: 5 * time.Second},
		streamClient:     &http.Client{Timeout: 0},
		heartbeatTimeout: 75 * time.Second,
		minBackoff:       time.Second,
		maxBackoff:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchFeatures reads GET /config/features. Anything but a 2xx JSON object of
// booleans is an error.
func (c *Client) FetchFeatures(ctx context.Context) (map[string]bool, error) {
	var out map[string]bool
	if err := c.getJSON(ctx, "/config/features", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Navigation(ctx context.Context) (*v1.NavigationResponse, error) {
	var out v1.NavigationResponse
	if err := c.getJSON(ctx, "/v1/navigation", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.addr+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, res.Body)
		return &StatusError{Path: path, Code: res.StatusCode}
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// LastRevision is the newest change revision seen on the stream.
func (c *Client) LastRevision() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRev
}

// WatchChanges follows GET /v1/stream/flags until ctx is done, reconnecting
// with backoff and resuming from the last seen revision. onReset runs when
// the server can no longer replay what was missed.
func (c *Client) WatchChanges(ctx context.Context, onChange func(v1.Change), onReset func()) {
	backoff := c.minBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.streamOnce(ctx, onChange)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, ErrStreamReset):
			logger.Warn("received reset event, resyncing")
			c.mu.Lock()
			c.lastRev = 0
			c.mu.Unlock()
			if onReset != nil {
				onReset()
			}
			backoff = c.minBackoff
			continue
		case err != nil:
			logger.Warn("change stream disconnected", zap.Error(err))
		}

		jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff + jitter):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, onChange func(v1.Change)) error {
	reqCtx, reqCancel := context.WithCancel(ctx)
	defer reqCancel()

	url := fmt.Sprintf("%s/v1/stream/flags?last_rev=%d", c.addr, c.LastRevision())
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.streamClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return &StatusError{Path: "/v1/stream/flags", Code: res.StatusCode}
	}

	// watchdog for heartbeats
	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())
	go func() {
		ticker := time.NewTicker(c.heartbeatTimeout / 5)
		defer ticker.Stop()
		for {
			select {
			case <-reqCtx.Done():
				return
			case <-ticker.C:
				if time.Since(time.Unix(0, lastActivity.Load())) > c.heartbeatTimeout {
					logger.Warn("stream heartbeat timeout, reconnecting")
					reqCancel()
					return
				}
			}
		}
	}()

	scanner := bufio.NewScanner(res.Body)
	var eventType string
	var data bytes.Buffer
	for scanner.Scan() {
		lastActivity.Store(time.Now().UnixNano())
		line := scanner.Text()

		if line == "" {
			switch eventType {
			case "reset":
				return ErrStreamReset
			case "ping":
			default:
				if data.Len() > 0 {
					var msg v1.Change
					if err := json.Unmarshal(data.Bytes(), &msg); err != nil {
						logger.Error("failed to unmarshal flag change", zap.Error(err))
					} else {
						c.handleChange(msg, onChange)
					}
				}
			}
			eventType = ""
			data.Reset()
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			// multiple data lines are joined by newline
			if data.Len() > 0 {
				data.WriteString("\n")
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (c *Client) handleChange(msg v1.Change, onChange func(v1.Change)) {
	c.mu.Lock()
	if msg.Revision <= c.lastRev {
		c.mu.Unlock()
		logger.Debug("stale revision received", zap.Int64("msg_rev", msg.Revision))
		return
	}
	c.lastRev = msg.Revision
	c.mu.Unlock()

	logger.Info("flag change received",
		zap.String("key", msg.Key),
		zap.Bool("enabled", msg.Enabled),
		zap.Int64("rev", msg.Revision))
	if onChange != nil {
		onChange(msg)
	}
}
