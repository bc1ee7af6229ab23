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

const defaultWebhookTimeout = 15 * time.Second

// WebhookNotifier posts each message as JSON to the practice's email/SMS
// gateway. The gateway renders the template named by Kind.
type WebhookNotifier struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

// NewWebhookNotifier returns a notifier posting to url with apiKey in the
// Authorization header.
func NewWebhookNotifier(url, apiKey string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:        url,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: defaultWebhookTimeout},
	}
}

// Send posts msg. Any status other than 2xx is an error. Does not log the token.
func (w *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	if w.URL == "" {
		return fmt.Errorf("notify: webhook url not configured")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.ID)
	if w.APIKey != "" {
		req.Header.Set("Authorization", w.APIKey)
	}
	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: gateway status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

func (*WebhookNotifier) Close() error { return nil }
