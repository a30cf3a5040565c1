package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignaling_OfferAnswerICE(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connect("host")
	alice := h.connect("alice")
	bob := h.connect("bob")
	id := h.live(host, nil)
	h.join(alice, id)
	h.join(bob, id)

	h.send(host, EventOffer, map[string]interface{}{"stream_id": id, "target_user_id": "alice", "sdp": map[string]string{"type": "offer", "sdp": "v=0"}})
	offer := decode[sdpPayload](t, recv(t, alice, EventWebRTCOffer))
	assert.Equal(t, "host", offer.FromUserID)
	assert.Equal(t, "offer", offer.Type)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(offer.SDP))

	h.send(alice, EventAnswer, map[string]interface{}{"stream_id": id, "target_user_id": "host", "sdp": map[string]string{"type": "answer", "sdp": "v=0"}})
	answer := decode[sdpPayload](t, recv(t, host, EventWebRTCAnswer))
	assert.Equal(t, "alice", answer.FromUserID)
	assert.Equal(t, "answer", answer.Type)

	h.send(alice, EventICECandidate, map[string]interface{}{"stream_id": id, "target_user_id": "host", "candidate": map[string]string{"candidate": "candidate:1 1 UDP 1 10.0.0.1 9 typ host"}})
	ice := decode[icePayload](t, recv(t, host, EventICECandidate))
	assert.Equal(t, "alice", ice.FromUserID)
	assert.Contains(t, string(ice.Candidate), "10.0.0.1")
}

func TestSignaling_BroadcastOffer(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connect("host")
	alice := h.connect("alice")
	bob := h.connect("bob")
	id := h.live(host, nil)
	h.join(alice, id)
	h.join(bob, id)

	h.send(host, EventOffer, map[string]interface{}{"stream_id": id, "sdp": "v=0"})
	recv(t, alice, EventWebRTCOffer)
	recv(t, bob, EventWebRTCOffer)
}

func TestSignaling_Errors(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connect("host")
	alice := h.connect("alice")
	outsider := h.connect("outsider")
	id := h.live(host, nil)
	h.join(alice, id)

	h.send(alice, EventOffer, map[string]interface{}{"stream_id": id, "target_user_id": "host"})
	assert.Equal(t, CodeBadRequest, recvError(t, alice), "missing sdp")

	h.send(alice, EventAnswer, map[string]interface{}{"stream_id": id, "sdp": "v=0"})
	assert.Equal(t, CodeBadRequest, recvError(t, alice), "answer needs a target")

	h.send(alice, EventICECandidate, map[string]interface{}{"stream_id": id, "target_user_id": "ghost", "candidate": "c"})
	assert.Equal(t, CodePeerUnavailable, recvError(t, alice))

	h.send(alice, EventOffer, map[string]interface{}{"stream_id": id, "target_user_id": "alice", "sdp": "v=0"})
	assert.Equal(t, CodePeerUnavailable, recvError(t, alice))

	h.send(outsider, EventOffer, map[string]interface{}{"stream_id": id, "target_user_id": "host", "sdp": "v=0"})
	assert.Equal(t, CodeBadRequest, recvError(t, outsider))
}
