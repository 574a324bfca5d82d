// Package device is the HTTP client for the Whisplay IM bridge device:
// a long-poll GET for inbound messages and a POST for outbound replies.
package device

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

	"whisplayim/internal/domain"
)

const (
	// DefaultWaitSec is the long-poll wait used when the account sets none.
	DefaultWaitSec = 30

	// pollGrace is added on top of the wait duration so the device can
	// answer a full-length long poll before the request deadline fires.
	pollGrace = 5 * time.Second

	sendTimeout = 30 * time.Second
)

// NormalizeBaseURL canonicalizes a configured device address: schemeless
// addresses get an http:// prefix and a single trailing slash is stripped.
// An empty or whitespace-only address returns ErrNoAddress.
func NormalizeBaseURL(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return "", ErrNoAddress
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimSuffix(addr, "/"), nil
}

// Client talks to one device. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	waitSec int
	emoji   string
	client  *http.Client
	logger  *slog.Logger
}

// Config assembles a Client. HTTPClient is injectable for tests; when nil a
// plain client is used and every request is bounded by a per-call context
// deadline instead of a client-wide timeout (long polls outlive any single
// sensible global timeout).
type Config struct {
	Account    domain.Account
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	base, err := NormalizeBaseURL(cfg.Account.BaseURL)
	if err != nil {
		return nil, err
	}
	waitSec := cfg.Account.WaitSec
	if waitSec <= 0 {
		waitSec = DefaultWaitSec
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Account.Token),
		waitSec: waitSec,
		emoji:   cfg.Account.Emoji,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
	}, nil
}

// BaseURL returns the normalized device address.
func (c *Client) BaseURL() string { return c.baseURL }

// Poll issues one bounded long poll and returns the decoded payload.
// A nil map with nil error means the device had nothing to say. Network
// failures and non-2xx statuses come back as *TransportError; unparseable
// bodies as *DecodeError.
func (c *Client) Poll(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.waitSec)*time.Second+pollGrace)
	defer cancel()

	url := fmt.Sprintf("%s/whisplay-im/poll?waitSec=%d", c.baseURL, c.waitSec)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("build poll request: %w", err)
	}
	c.setHeaders(req)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	payload, err := decodePayload(body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("device poll completed", "url", c.baseURL, "empty", payload == nil)
	return payload, nil
}

// Send posts one reply to the device. The account's emoji, when configured,
// rides along on every reply; an empty emoji is omitted from the body.
func (c *Client) Send(ctx context.Context, reply string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	payload := sendRequest{Reply: reply, Emoji: c.emoji}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/whisplay-im/send", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	c.setHeaders(req)

	if _, err := c.do(req); err != nil {
		return err
	}
	c.logger.Debug("device send completed", "url", c.baseURL, "reply_len", len(reply))
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// do executes the request and returns the response body, mapping failures
// into the transport error taxonomy.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if readErr != nil {
		return nil, &TransportError{Err: readErr}
	}
	return body, nil
}

// decodePayload applies the tolerant decode ladder: empty body means no
// message, a JSON object passes through, any other JSON value is wrapped
// under "data", and non-JSON text is a DecodeError.
func decodePayload(body []byte) (map[string]any, error) {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"data": v}, nil
}

// --- Device wire payload types ---

type sendRequest struct {
	Reply string `json:"reply"`
	Emoji string `json:"emoji,omitempty"`
}
