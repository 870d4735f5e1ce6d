package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MitudruDutta/MediRep-AI-sub001/internal/reliability"
)

const (
	maxReplyBodyBytes = 1 << 20
	retryBackoffBase  = 250 * time.Millisecond
	retryBackoffCap   = 2 * time.Second
)

// Client is an HTTP JSON adapter for a dialogue backend. One request per
// committed turn; a single retry on transient failures so a blip does not
// cost the user their utterance.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient builds a client for the backend at url. timeout bounds the whole
// request including body read.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type replyEnvelope struct {
	ReplyText string `json:"reply_text"`
	Reply     string `json:"reply"`
	Response  string `json:"response"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

func (e replyEnvelope) text() string {
	for _, s := range []string{e.ReplyText, e.Reply, e.Response, e.Text} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// SendTurn posts the utterance and returns the backend's reply. Transient
// failures (timeouts, 429, 5xx) are retried once with backoff; a context
// cancel aborts immediately.
func (c *Client) SendTurn(ctx context.Context, req TurnRequest) (TurnReply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return TurnReply{}, fmt.Errorf("dialogue: encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return TurnReply{}, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, retryBackoffBase, retryBackoffCap)):
			}
		}

		reply, retryable, err := c.sendOnce(ctx, payload)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return TurnReply{}, lastErr
}

func (c *Client) sendOnce(ctx context.Context, payload []byte) (TurnReply, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return TurnReply{}, false, fmt.Errorf("dialogue: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return TurnReply{}, reliability.IsTransient(err), fmt.Errorf("dialogue: send turn: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBodyBytes))
	if err != nil {
		return TurnReply{}, true, fmt.Errorf("dialogue: read reply: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		retryable := reliability.IsRetryableHTTPStatus(resp.StatusCode)
		return TurnReply{}, retryable, fmt.Errorf("dialogue: backend returned %d: %s", resp.StatusCode, truncateForError(body))
	}

	var env replyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return TurnReply{}, false, fmt.Errorf("dialogue: decode reply: %w", err)
	}
	text := env.text()
	if text == "" {
		return TurnReply{}, false, fmt.Errorf("dialogue: reply had no text")
	}
	return TurnReply{ReplyText: text, SessionID: env.SessionID}, false, nil
}

func truncateForError(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
