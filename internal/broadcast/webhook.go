package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"mediaindex/internal/domain"
)

// WebhookSender delivers broadcast payloads by POSTing them to an external
// endpoint, one request per recipient. The endpoint decides how to reach the
// recipient; this side only classifies the response.
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookEnvelope struct {
	RecipientID int64           `json:"recipientId"`
	Payload     json.RawMessage `json:"payload"`
}

func (s *WebhookSender) Send(ctx context.Context, recipientID int64, payload []byte) error {
	body, err := json.Marshal(webhookEnvelope{RecipientID: recipientID, Payload: payload})
	if err != nil {
		return &domain.DeliveryError{Kind: domain.FailureTransport, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return &domain.DeliveryError{Kind: domain.FailureTransport, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.DeliveryError{Kind: domain.FailureTimeout, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusForbidden:
		return &domain.DeliveryError{Kind: domain.FailureBlocked, Err: fmt.Errorf("endpoint returned %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return &domain.DeliveryError{Kind: domain.FailureDeleted, Err: fmt.Errorf("endpoint returned %d", resp.StatusCode)}
	default:
		return &domain.DeliveryError{Kind: domain.FailureTransport, Err: fmt.Errorf("endpoint returned %d", resp.StatusCode)}
	}
}

// LogSender is the fallback transport when no delivery endpoint is
// configured. Every send succeeds and is only logged.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(_ context.Context, recipientID int64, payload []byte) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("broadcast delivery (dry run)",
		slog.Int64("recipientId", recipientID),
		slog.Int("payloadBytes", len(payload)),
	)
	return nil
}
