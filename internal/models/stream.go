package models

import (
	"time"
)

// StreamStatus is the lifecycle state of a stream: created -> live -> ended.
type StreamStatus string

const (
	StreamStatusCreated StreamStatus = "created"
	StreamStatusLive    StreamStatus = "live"
	StreamStatusEnded   StreamStatus = "ended"
)

// StreamType controls who may join a stream's room.
type StreamType string

const (
	StreamTypePublic          StreamType = "public"
	StreamTypePrivate         StreamType = "private"
	StreamTypeSubscribersOnly StreamType = "subscribers_only"
)

// Valid reports whether t is one of the known stream types.
func (t StreamType) Valid() bool {
	switch t {
	case StreamTypePublic, StreamTypePrivate, StreamTypeSubscribersOnly:
		return true
	}
	return false
}

// StreamFeatures are the per-stream feature flags checked by the chat, reaction and donation pipelines.
type StreamFeatures struct {
	ChatEnabled         bool `json:"chat_enabled"`
	ReactionsEnabled    bool `json:"reactions_enabled"`
	DonationsEnabled    bool `json:"donations_enabled"`
	ModerationEnabled   bool `json:"moderation_enabled"`
	ScreenShareEnabled  bool `json:"screen_share_enabled"`
	RecordingEnabled    bool `json:"recording_enabled"`
	SubscribersOnlyChat bool `json:"subscribers_only_chat"`
}

// DefaultStreamFeatures is used when create_stream omits features.
func DefaultStreamFeatures() StreamFeatures {
	return StreamFeatures{
		ChatEnabled:       true,
		ReactionsEnabled:  true,
		DonationsEnabled:  true,
		ModerationEnabled: true,
	}
}

// StreamQuality describes the host's advertised encoding; the core does not inspect media.
type StreamQuality struct {
	Resolution string `json:"resolution,omitempty"`
	Bitrate    int    `json:"bitrate,omitempty"`
	FPS        int    `json:"fps,omitempty"`
	Codec      string `json:"codec,omitempty"`
}

// Stream is the durable record of a broadcast.
type Stream struct {
	ID             string         `json:"stream_id"`
	HostUserID     string         `json:"host_user_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Category       string         `json:"category"`
	Type           StreamType     `json:"stream_type"`
	Features       StreamFeatures `json:"features"`
	Quality        StreamQuality  `json:"quality"`
	Tags           []string       `json:"tags"`
	ScheduledFor   *time.Time     `json:"scheduled_for,omitempty"`
	Status         StreamStatus   `json:"status"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
	CurrentViewers int            `json:"current_viewers"`
	PeakViewers    int            `json:"peak_viewers"`
	UniqueViewers  int            `json:"unique_viewers"`
	TotalEarnings  float64        `json:"total_earnings"`
	RoomID         string         `json:"room_id"`
	StreamKeyHash  string         `json:"-"`
	ChatID         string         `json:"chat_id"`
	TranscriptKey  string         `json:"transcript_key,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Clone returns a copy that shares no slices or pointers with s.
func (s *Stream) Clone() *Stream {
	if s == nil {
		return nil
	}
	c := *s
	c.Tags = append([]string(nil), s.Tags...)
	if s.ScheduledFor != nil {
		t := *s.ScheduledFor
		c.ScheduledFor = &t
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// FeaturesPatch carries optional feature flag changes; nil fields are left untouched.
type FeaturesPatch struct {
	ChatEnabled         *bool `json:"chat_enabled,omitempty"`
	ReactionsEnabled    *bool `json:"reactions_enabled,omitempty"`
	DonationsEnabled    *bool `json:"donations_enabled,omitempty"`
	ModerationEnabled   *bool `json:"moderation_enabled,omitempty"`
	ScreenShareEnabled  *bool `json:"screen_share_enabled,omitempty"`
	RecordingEnabled    *bool `json:"recording_enabled,omitempty"`
	SubscribersOnlyChat *bool `json:"subscribers_only_chat,omitempty"`
}

// StreamPatch is the metadata update accepted by update_stream.
type StreamPatch struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Category    *string        `json:"category,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Features    *FeaturesPatch `json:"features,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p StreamPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil && p.Tags == nil && p.Features == nil
}

// Apply mutates s with every non-nil field of p.
func (p StreamPatch) Apply(s *Stream) {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.Category != nil {
		s.Category = *p.Category
	}
	if p.Tags != nil {
		s.Tags = append([]string(nil), p.Tags...)
	}
	if f := p.Features; f != nil {
		setBool(&s.Features.ChatEnabled, f.ChatEnabled)
		setBool(&s.Features.ReactionsEnabled, f.ReactionsEnabled)
		setBool(&s.Features.DonationsEnabled, f.DonationsEnabled)
		setBool(&s.Features.ModerationEnabled, f.ModerationEnabled)
		setBool(&s.Features.ScreenShareEnabled, f.ScreenShareEnabled)
		setBool(&s.Features.RecordingEnabled, f.RecordingEnabled)
		setBool(&s.Features.SubscribersOnlyChat, f.SubscribersOnlyChat)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
