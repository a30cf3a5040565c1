package models

import "time"

// Chat is the group chat paired 1:1 with a stream.
type Chat struct {
	ID            string    `json:"chat_id"`
	StreamID      string    `json:"stream_id"`
	IsGroup       bool      `json:"is_group"`
	GroupName     string    `json:"group_name"`
	LastMessageID string    `json:"last_message_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ChatMessage is an append-only stream chat line. Deletion only sets Deleted.
type ChatMessage struct {
	ID           string    `json:"message_id"`
	ChatID       string    `json:"chat_id"`
	StreamID     string    `json:"stream_id"`
	SenderUserID string    `json:"sender_user_id"`
	Content      string    `json:"content"`
	ReplyTo      *string   `json:"reply_to"`
	SentAt       time.Time `json:"sent_at"`
	Deleted      bool      `json:"deleted"`
}

// ReactionAggregate is the sampled persistence of reactions: one row per emoji per window.
type ReactionAggregate struct {
	StreamID    string    `json:"stream_id"`
	Emoji       string    `json:"emoji"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}
