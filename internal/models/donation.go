package models

import "time"

// Donation is an append-only ledger entry recorded after the monetization sink accepted it.
type Donation struct {
	ID          string    `json:"donation_id"`
	StreamID    string    `json:"stream_id"`
	DonorUserID string    `json:"donor_user_id"`
	HostUserID  string    `json:"host_user_id"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	Message     *string   `json:"message"`
	SentAt      time.Time `json:"sent_at"`
}
