// Package monetization forwards donations to the external payment processor before they are recorded.
package monetization

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/models"
)

// ErrDeclined is returned when the processor answers but refuses the donation.
var ErrDeclined = errors.New("donation declined")

// Sink accepts or rejects a donation. A nil error means the funds were captured.
type Sink interface {
	Submit(ctx context.Context, d *models.Donation) error
}

// AcceptAll approves every donation. Used when no webhook is configured.
type AcceptAll struct{}

func (AcceptAll) Submit(context.Context, *models.Donation) error { return nil }

// WebhookSink POSTs each donation as JSON to a processor endpoint. Any 2xx is acceptance.
type WebhookSink struct {
	url    string
	secret string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookSink creates a sink posting to url. secret, if set, is sent as X-Live-Signature.
func NewWebhookSink(url, secret string, timeout time.Duration, logger *zap.Logger) *WebhookSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookSink{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type webhookBody struct {
	DonationID  string  `json:"donation_id"`
	StreamID    string  `json:"stream_id"`
	DonorUserID string  `json:"donor_user_id"`
	HostUserID  string  `json:"host_user_id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
}

// Submit sends d and maps the processor's answer to nil, ErrDeclined or a transport error.
func (s *WebhookSink) Submit(ctx context.Context, d *models.Donation) error {
	body, err := json.Marshal(webhookBody{
		DonationID:  d.ID,
		StreamID:    d.StreamID,
		DonorUserID: d.DonorUserID,
		HostUserID:  d.HostUserID,
		Amount:      d.Amount,
		Currency:    d.Currency,
	})
	if err != nil {
		return fmt.Errorf("marshal donation: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", d.ID)
	if s.secret != "" {
		req.Header.Set("X-Live-Signature", s.secret)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post donation: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		s.logger.Info("donation declined", zap.String("donation_id", d.ID), zap.Int("status", resp.StatusCode))
		return ErrDeclined
	default:
		return fmt.Errorf("processor status: %d", resp.StatusCode)
	}
}

// New returns a WebhookSink when url is set, AcceptAll otherwise.
func New(url, secret string, timeout time.Duration, logger *zap.Logger) Sink {
	if url == "" {
		return AcceptAll{}
	}
	return NewWebhookSink(url, secret, timeout, logger)
}
