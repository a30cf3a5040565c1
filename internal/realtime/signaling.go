package realtime

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v3"
)

type signalRequest struct {
	streamRef
	TargetUserID string          `json:"target_user_id"`
	SDP          json.RawMessage `json:"sdp"`
	Candidate    json.RawMessage `json:"candidate"`
}

type sdpPayload struct {
	StreamID   string          `json:"stream_id"`
	FromUserID string          `json:"from_user_id"`
	Type       string          `json:"type"`
	SDP        json.RawMessage `json:"sdp"`
}

type icePayload struct {
	StreamID   string          `json:"stream_id"`
	FromUserID string          `json:"from_user_id"`
	Candidate  json.RawMessage `json:"candidate"`
}

// signal relays offer, answer and ice_candidate frames between two sessions of the same room.
// Payloads are passed through untouched. An offer without a target goes to every other member.
func (h *Hub) signal(ctx context.Context, s *Session, event string, data json.RawMessage) error {
	var req signalRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	var (
		outEvent string
		payload  interface{}
	)
	switch event {
	case EventOffer, EventAnswer:
		if len(req.SDP) == 0 {
			return badRequest("sdp is required")
		}
		typ, out := webrtc.SDPTypeOffer, EventWebRTCOffer
		if event == EventAnswer {
			typ, out = webrtc.SDPTypeAnswer, EventWebRTCAnswer
		}
		outEvent = out
		payload = sdpPayload{StreamID: req.StreamID, FromUserID: s.UserID(), Type: typ.String(), SDP: req.SDP}
	default:
		if len(req.Candidate) == 0 {
			return badRequest("candidate is required")
		}
		outEvent = EventICECandidate
		payload = icePayload{StreamID: req.StreamID, FromUserID: s.UserID(), Candidate: req.Candidate}
	}
	if req.TargetUserID == "" && event != EventOffer {
		return badRequest("target_user_id is required")
	}

	r, err := h.liveRoom(ctx, req.StreamID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return newError(CodeStreamEnded, "stream has ended")
	}
	if !r.member(s) {
		return badRequest("join the stream first")
	}

	if req.TargetUserID == "" {
		h.broadcastLocked(r, outEvent, payload, s)
		return nil
	}
	targets := r.sessionsOf(req.TargetUserID)
	if len(targets) == 0 || req.TargetUserID == s.UserID() {
		return newError(CodePeerUnavailable, "peer is not in the stream")
	}
	b := encodeFrame(outEvent, payload)
	for _, t := range targets {
		h.deliver(t, b)
	}
	return nil
}
