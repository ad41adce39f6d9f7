package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/savannacommerce/pool-engine/internal/model"
)

// WebhookSender delivers pool events as JSON POSTs to a configured URL.
type WebhookSender struct {
	url    string
	client *http.Client
}

// NewWebhookSender creates a WebhookSender for the given URL with a default
// 10-second HTTP timeout.
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Event         string    `json:"event"`
	PoolID        string    `json:"pool_id"`
	ParticipantID string    `json:"participant_id,omitempty"`
	At            time.Time `json:"at"`
}

// Send posts the event to the webhook URL.
func (w *WebhookSender) Send(ctx context.Context, event model.PoolEvent, poolID, participantID string) error {
	body, err := json.Marshal(webhookPayload{
		Event:         string(event),
		PoolID:        poolID,
		ParticipantID: participantID,
		At:            time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string {
	return "webhook"
}
