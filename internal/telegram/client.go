// Package telegram sends notifications through the raw Bot API.
// Delivery is best-effort everywhere in this service: a failed send is
// logged and counted, never surfaced as a policy outcome.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/embyguard/emby-guard/internal/metrics"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Message is a single outbound sendMessage call.
type Message struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
	ThreadID  int    `json:"message_thread_id,omitempty"`
	ReplyTo   int    `json:"reply_to_message_id,omitempty"`
}

// Sender is the notification surface the gateway, pipeline, and notifier use.
type Sender interface {
	// SendMessage delivers a message and returns the created message id.
	SendMessage(ctx context.Context, msg Message) (int, error)
	// ForwardMessage forwards an existing message to another chat.
	ForwardMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) error
	// DeleteMessage removes a message, e.g. a consumed check-in prompt.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

type client struct {
	token string
	base  string
	http  *http.Client
	log   zerolog.Logger
}

// NewClient constructs a Bot API Sender. The token may be empty; calls then
// fail and the callers' best-effort handling applies.
func NewClient(token string, timeout time.Duration, log zerolog.Logger) Sender {
	return &client{
		token: token,
		base:  "https://api.telegram.org",
		http:  &http.Client{Timeout: timeout},
		log:   log,
	}
}

// APIError is a Bot API rejection (ok=false in the response envelope).
// Unlike a transport failure, it is deterministic for the request that
// produced it; callers should not retry.
type APIError struct {
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Description)
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int `json:"message_id"`
	} `json:"result"`
}

func (c *client) SendMessage(ctx context.Context, msg Message) (int, error) {
	resp, err := c.call(ctx, "sendMessage", msg)
	if err != nil {
		return 0, err
	}
	return resp.Result.MessageID, nil
}

func (c *client) ForwardMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) error {
	_, err := c.call(ctx, "forwardMessage", map[string]any{
		"chat_id":      toChatID,
		"from_chat_id": fromChatID,
		"message_id":   messageID,
	})
	return err
}

func (c *client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	return err
}

func (c *client) call(ctx context.Context, method string, payload any) (*apiResponse, error) {
	if c.token == "" {
		return nil, fmt.Errorf("telegram %s: bot token not configured", method)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", method, err)
	}

	url := c.base + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		metrics.APICalls.WithLabelValues("telegram", method, "error").Inc()
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	statusLabel := fmt.Sprintf("%dxx", resp.StatusCode/100)
	metrics.APICalls.WithLabelValues("telegram", method, statusLabel).Inc()
	metrics.APIDuration.WithLabelValues("telegram", method).Observe(elapsed.Seconds())

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("telegram %s: read response: %w", method, err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("telegram %s: %w", method,
			&APIError{StatusCode: resp.StatusCode, Description: parsed.Description})
	}
	return &parsed, nil
}
