package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier POSTs each alert as JSON to a URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier for url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: newHTTPClient()}
}

// Send stamps unset alerts with the current time; timestamps go out in UTC.
func (w *WebhookNotifier) Send(ctx context.Context, a Alert) error {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	a.At = a.At.UTC()
	if err := postJSON(ctx, w.client, w.url, a); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}
