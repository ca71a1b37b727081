package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookTransport posts messages as JSON to a carrier gateway.
type WebhookTransport struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewWebhookTransport creates a webhook transport for url. A non-empty token
// is sent as a bearer token.
func NewWebhookTransport(url, token string, timeout time.Duration) *WebhookTransport {
	return &WebhookTransport{
		url:   url,
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send implements Transport. Network failures, 429 and 5xx responses are
// transient; other non-2xx responses are terminal.
func (t *WebhookTransport) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return Terminal(fmt.Errorf("encoding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return Terminal(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.JobID)
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	apiErr := fmt.Errorf("carrier error (status %d): %s", resp.StatusCode, bytes.TrimSpace(detail))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Transient(apiErr)
	}
	return Terminal(apiErr)
}
