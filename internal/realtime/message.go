package realtime

import (
	"encoding/json"
)

// Frame is the wire envelope in both directions: {"type": "...", "data": {...}}.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound events.
const (
	EventAuth              = "auth"
	EventPing              = "ping"
	EventCreateStream      = "create_stream"
	EventStartStream       = "start_stream"
	EventEndStream         = "end_stream"
	EventUpdateStream      = "update_stream"
	EventResumeStream      = "resume_stream"
	EventJoinStream        = "join_stream"
	EventLeaveStream       = "leave_stream"
	EventOffer             = "offer"
	EventAnswer            = "answer"
	EventICECandidate      = "ice_candidate"
	EventChatMessage       = "stream_chat_message"
	EventChatTyping        = "stream_chat_typing"
	EventReaction          = "stream_reaction"
	EventDonation          = "stream_donation"
	EventBanUser           = "ban_user"
	EventUnbanUser         = "unban_user"
	EventTimeoutUser       = "timeout_user"
	EventDeleteChatMessage = "delete_chat_message"
	EventAddModerator      = "add_moderator"
	EventRemoveModerator   = "remove_moderator"
	EventAddCohost         = "add_cohost"
	EventRemoveCohost      = "remove_cohost"
)

// Outbound events. Chat, typing, reaction, donation and ice_candidate reuse the inbound names.
const (
	EventConnected         = "connected"
	EventPong              = "pong"
	EventStreamCreated     = "stream_created"
	EventStreamStarted     = "stream_started"
	EventStreamEnded       = "stream_ended"
	EventStreamUpdated     = "stream_updated"
	EventStreamResumed     = "stream_resumed"
	EventStreamJoined      = "stream_joined"
	EventStreamLeft        = "stream_left"
	EventViewerJoined      = "viewer_joined"
	EventViewerLeft        = "viewer_left"
	EventViewerCountUpdate = "viewer_count_update"
	EventWebRTCOffer       = "webrtc_offer"
	EventWebRTCAnswer      = "webrtc_answer"
	EventMessageDeleted    = "message_deleted"
	EventUserTimedOut      = "user_timed_out"
	EventUserBanned        = "user_banned"
	EventUserUnbanned      = "user_unbanned"
	EventBannedFromStream  = "banned_from_stream"
	EventModeratorAdded    = "moderator_added"
	EventModeratorRemoved  = "moderator_removed"
	EventCohostAdded       = "cohost_added"
	EventCohostRemoved     = "cohost_removed"
	EventDonationReceived  = "donation_received"
	EventDonationSent      = "donation_sent"
	EventStreamError       = "stream_error"
	EventNewLiveStream     = "new_live_stream"
)

// encodeFrame marshals one outbound frame. Payloads are built from our own types, so failure is a bug.
func encodeFrame(typ string, payload interface{}) []byte {
	var data json.RawMessage
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			b, _ = json.Marshal(map[string]string{"error": "encode: " + err.Error()})
		}
		data = b
	}
	b, _ := json.Marshal(Frame{Type: typ, Data: data})
	return b
}

// decodeData unmarshals a frame's data into v. Missing data decodes as an empty object.
func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return badRequest("malformed data: " + err.Error())
	}
	return nil
}

// streamRef is embedded by every inbound payload that targets one stream.
type streamRef struct {
	StreamID string `json:"stream_id"`
}

func (r streamRef) validate() error {
	if r.StreamID == "" {
		return badRequest("stream_id is required")
	}
	return nil
}
