package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultWebhookTimeout  = 5 * time.Second // per attempt
	defaultWebhookAttempts = 3
)

// WebhookSender POSTs JSON payloads with bounded retry. Transport
// errors and 5xx responses retry with exponential backoff; 4xx fails
// fast since resending the same body cannot help.
type WebhookSender struct {
	client   *http.Client
	attempts int
	backoff  time.Duration // doubled between attempts
}

func NewWebhookSender(timeout time.Duration, attempts int) *WebhookSender {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	if attempts <= 0 {
		attempts = defaultWebhookAttempts
	}
	return &WebhookSender{
		client:   &http.Client{Timeout: timeout},
		attempts: attempts,
		backoff:  time.Second,
	}
}

func (s *WebhookSender) Send(ctx context.Context, url string, headers map[string]string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(s.backoff << (attempt - 2)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("webhook: %w", err)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("webhook: HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr
		}
	}
	return lastErr
}
