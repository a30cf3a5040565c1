package realtime

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/models"
)

type donationRequest struct {
	streamRef
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Message  *string `json:"message"`
}

type donationPayload struct {
	DonationID string              `json:"donation_id"`
	StreamID   string              `json:"stream_id"`
	Donor      models.UserSnapshot `json:"donor"`
	Amount     float64             `json:"amount"`
	Currency   string              `json:"currency"`
	Message    *string             `json:"message"`
	SentAt     time.Time           `json:"sent_at"`
}

// donation validates under the room lock, calls the monetization sink and the store outside it,
// then notifies the host, the room and the donor in that order. The sink and store calls are
// detached from the session so a captured payment is always recorded.
func (h *Hub) donation(ctx context.Context, s *Session, data json.RawMessage) error {
	var req donationRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Message != nil {
		msg := strings.TrimSpace(*req.Message)
		if utf8.RuneCountInString(msg) > h.opts.ChatMaxLength {
			return badRequest("donation message is too long")
		}
		if msg == "" {
			req.Message = nil
		} else {
			req.Message = &msg
		}
	}

	r, err := h.liveRoom(ctx, req.StreamID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return newError(CodeStreamEnded, "stream has ended")
	case !r.stream.Features.DonationsEnabled:
		r.mu.Unlock()
		return newError(CodeDonationsDisabled, "donations are disabled for this stream")
	case !r.member(s):
		r.mu.Unlock()
		return badRequest("join the stream first")
	case r.isHostUser(s.UserID()):
		r.mu.Unlock()
		return badRequest("hosts cannot donate to their own stream")
	}
	hostID := r.hostUserID()
	r.mu.Unlock()

	// Amounts are charged in cents, so anything that rounds to zero is rejected before the sink sees it.
	amount := math.Round(req.Amount*100) / 100
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return badRequest("amount must be at least 0.01")
	}
	if _, ok := h.currencies[currency]; !ok {
		return badRequest("unsupported currency: " + currency)
	}

	d := &models.Donation{
		ID:          uuid.NewString(),
		StreamID:    req.StreamID,
		DonorUserID: s.UserID(),
		HostUserID:  hostID,
		Amount:      amount,
		Currency:    currency,
		Message:     req.Message,
		SentAt:      h.now(),
	}
	detached := context.WithoutCancel(ctx)

	sinkCtx, cancelSink := context.WithTimeout(detached, h.opts.SinkTimeout)
	err = h.sink.Submit(sinkCtx, d)
	cancelSink()
	if err != nil {
		h.logger.Info("donation rejected by sink", zap.String("stream_id", d.StreamID), zap.String("donation_id", d.ID), zap.Error(err))
		return newError(CodePaymentFailed, "payment failed")
	}

	storeCtx, cancelStore := h.storeCtx(detached)
	err = h.store.RecordDonation(storeCtx, d)
	cancelStore()
	if err != nil {
		h.logger.Error("donation captured but not recorded",
			zap.String("stream_id", d.StreamID), zap.String("donation_id", d.ID), zap.Error(err))
		return storeErr(err)
	}
	h.metrics.IncDonation(d.Currency)

	payload := donationPayload{
		DonationID: d.ID,
		StreamID:   d.StreamID,
		Donor:      s.User,
		Amount:     d.Amount,
		Currency:   d.Currency,
		Message:    d.Message,
		SentAt:     d.SentAt,
	}
	r.mu.Lock()
	if !r.closed {
		if r.host != nil {
			h.send(r.host, EventDonationReceived, payload)
		}
		h.broadcastLocked(r, EventDonation, payload, s)
	}
	r.mu.Unlock()
	h.send(s, EventDonationSent, payload)
	h.publish(d.StreamID, EventDonation, payload)
	return nil
}
