package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HTTPOrderClient creates orders through an external order service over
// HTTP. Network failures and 5xx responses are marked transient so the
// coordinator retries them; 4xx responses are permanent.
type HTTPOrderClient struct {
	url    string
	client *http.Client
}

// NewHTTPOrderClient creates a client posting to the given order service
// endpoint.
func NewHTTPOrderClient(url string) *HTTPOrderClient {
	return &HTTPOrderClient{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type orderRequest struct {
	ParticipantID string `json:"participant_id"`
	ProductID     string `json:"product_id"`
	Quantity      int64  `json:"quantity"`
	UnitPrice     string `json:"unit_price"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
}

// CreateOrder implements OrderCreator.
func (c *HTTPOrderClient) CreateOrder(ctx context.Context, participantID, productID string, quantity int64, unitPrice decimal.Decimal) (string, error) {
	payload, err := json.Marshal(orderRequest{
		ParticipantID: participantID,
		ProductID:     productID,
		Quantity:      quantity,
		UnitPrice:     unitPrice.String(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", MarkTransient(fmt.Errorf("order service request: %w", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out orderResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return "", fmt.Errorf("decode order response: %w", err)
		}
		if out.OrderID == "" {
			return "", fmt.Errorf("order service returned empty order_id")
		}
		return out.OrderID, nil
	case resp.StatusCode >= 500:
		return "", MarkTransient(fmt.Errorf("order service returned %d: %s", resp.StatusCode, string(body)))
	default:
		return "", fmt.Errorf("order service rejected order (%d): %s", resp.StatusCode, string(body))
	}
}

// StubOrderCreator fabricates order IDs locally. Used when no order service
// is configured, so the engine can run end to end in development.
type StubOrderCreator struct {
	Logger *slog.Logger
}

// CreateOrder implements OrderCreator.
func (s *StubOrderCreator) CreateOrder(_ context.Context, participantID, productID string, quantity int64, unitPrice decimal.Decimal) (string, error) {
	id := uuid.New().String()
	if s.Logger != nil {
		s.Logger.Info("stub order created",
			"order_id", id,
			"participant", participantID,
			"product", productID,
			"quantity", quantity,
			"unit_price", unitPrice.String(),
		)
	}
	return id, nil
}
