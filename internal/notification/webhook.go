package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// webhookPayload is the JSON body POSTed to the endpoint.
type webhookPayload struct {
	Level   string            `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	TS      string            `json:"ts"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// WebhookNotifier POSTs alerts as JSON to one HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier builds a notifier for the given endpoint URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookPayload{
		Level:   string(alert.Level),
		Title:   alert.Title,
		Message: alert.Message,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Fields:  alert.Fields,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook: endpoint returned %d", resp.StatusCode)
	}

	log.Printf("[webhook] alert sent: %s", alert.Title)
	return nil
}
