package pipeline

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

const defaultWebhookTimeout = 30 * time.Second

// Webhook forwards each inbound message to a remote HTTP service. The
// service answers with either a "replies" array of payload objects or a
// single scalar "reply" string; an empty response body means no reply.
type Webhook struct {
	url    string
	token  string
	client *http.Client
	logger *slog.Logger
}

type WebhookConfig struct {
	URL        string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultWebhookTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:    cfg.URL,
		token:  cfg.Token,
		client: client,
		logger: logger,
	}
}

func (w *Webhook) Reply(ctx context.Context, msg domain.InboundMessage) ([]domain.ReplyPayload, error) {
	body := webhookRequest{
		Account:   msg.Account,
		Peer:      msg.Peer,
		Text:      msg.Text,
		ID:        msg.ID,
		Timestamp: msg.Timestamp,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}

	var parsed webhookResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode webhook response: %w", err)
	}

	replies := parsed.Replies
	if len(replies) == 0 && strings.TrimSpace(parsed.Reply) != "" {
		replies = []domain.ReplyPayload{{Text: parsed.Reply}}
	}
	w.logger.Debug("webhook replied", "peer", msg.Peer, "replies", len(replies))
	return replies, nil
}

// webhookRequest is the JSON body posted per inbound message.
type webhookRequest struct {
	Account   string `json:"account,omitempty"`
	Peer      string `json:"peer"`
	Text      string `json:"text"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type webhookResponse struct {
	Reply   string                `json:"reply,omitempty"`
	Replies []domain.ReplyPayload `json:"replies,omitempty"`
}
