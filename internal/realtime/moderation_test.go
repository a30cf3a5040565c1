package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeration_Ban(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connect("host")
	alice := h.connect("alice")
	troll := h.connect("troll")
	id := h.live(host, nil)
	h.join(alice, id)
	h.join(troll, id)

	h.send(alice, EventBanUser, map[string]string{"stream_id": id, "user_id": "troll"})
	assert.Equal(t, CodeNotModerator, recvError(t, alice))

	h.send(host, EventBanUser, map[string]string{"stream_id": id, "user_id": "troll"})
	banned := decode[moderationPayload](t, recv(t, troll, EventBannedFromStream))
	assert.Equal(t, "host", banned.By)
	recv(t, host, EventUserBanned)
	assert.Equal(t, "troll", decode[viewerPayload](t, recv(t, alice, EventViewerLeft)).User.UserID)
	seen := decode[moderationPayload](t, recv(t, alice, EventUserBanned))
	assert.Equal(t, "troll", seen.UserID)
	expectNone(t, troll, EventUserBanned, 30*time.Millisecond)
	assert.Empty(t, troll.Rooms())
	assert.False(t, troll.closed(), "a ban removes the user from the room, not from the platform")

	h.send(troll, EventJoinStream, streamRef{StreamID: id})
	assert.Equal(t, CodeBanned, recvError(t, troll))

	h.send(host, EventUnbanUser, map[string]string{"stream_id": id, "user_id": "troll"})
	recv(t, host, EventUserUnbanned)
	h.join(troll, id)
}

func TestModeration_TargetRules(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connect("host")
	mod := h.connect("mod")
	mod2 := h.connect("mod2")
	id := h.live(host, nil)
	h.join(mod, id)
	h.join(mod2, id)

	h.send(host, EventAddModerator, map[string]string{"stream_id": id, "user_id": "mod"})
	assert.Equal(t, "mod", decode[moderationPayload](t, recv(t, mod2, EventModeratorAdded)).UserID)
	h.send(host, EventAddModerator, map[string]string{"stream_id": id, "user_id": "mod2"})
	recv(t, mod, EventModeratorAdded)

	h.send(mod, EventBanUser, map[string]string{"stream_id": id, "user_id": "host"})
	assert.Equal(t, CodeBadRequest, recvError(t, mod))

	h.send(mod, EventBanUser, map[string]string{"stream_id": id, "user_id": "mod2"})
	assert.Equal(t, CodeNotOwner, recvError(t, mod))

	h.send(mod, EventAddModerator, map[string]string{"stream_id": id, "user_id": "mod"})
	assert.Equal(t, CodeNotOwner, recvError(t, mod))

	h.send(host, EventRemoveModerator, map[string]string{"stream_id": id, "user_id": "mod"})
	recv(t, mod, EventModeratorRemoved)
	h.send(mod, EventTimeoutUser, map[string]interface{}{"stream_id": id, "user_id": "mod2", "duration": 30})
	assert.Equal(t, CodeNotModerator, recvError(t, mod))
}

func TestModeration_DelegatesNeedModerationEnabled(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connect("host")
	mod := h.connect("mod")
	alice := h.connect("alice")
	id := h.live(host, map[string]interface{}{"features": map[string]bool{"moderation_enabled": false}})
	h.join(mod, id)
	h.join(alice, id)

	h.send(host, EventAddCohost, map[string]string{"stream_id": id, "user_id": "mod"})
	recv(t, mod, EventCohostAdded)
	h.send(mod, EventTimeoutUser, map[string]interface{}{"stream_id": id, "user_id": "alice", "duration": 30})
	assert.Equal(t, CodeNotModerator, recvError(t, mod))

	h.send(host, EventTimeoutUser, map[string]interface{}{"stream_id": id, "user_id": "alice", "duration": 30})
	recv(t, alice, EventUserTimedOut)
}

func TestModeration_Timeout(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connect("host")
	alice := h.connect("alice")
	bob := h.connect("bob")
	id := h.live(host, nil)
	h.join(alice, id)
	h.join(bob, id)

	h.send(host, EventTimeoutUser, map[string]interface{}{"stream_id": id, "user_id": "alice", "duration": 0})
	assert.Equal(t, CodeBadRequest, recvError(t, host))
	h.send(host, EventTimeoutUser, map[string]interface{}{"stream_id": id, "user_id": "alice", "duration": 90000})
	assert.Equal(t, CodeBadRequest, recvError(t, host))

	h.send(host, EventTimeoutUser, map[string]interface{}{"stream_id": id, "user_id": "alice", "duration": 60})
	to := decode[timedOutPayload](t, recv(t, bob, EventUserTimedOut))
	assert.Equal(t, "alice", to.UserID)
	assert.Equal(t, float64(60), to.Duration)
	assert.WithinDuration(t, time.Now().Add(time.Minute), to.ExpiresAt, 5*time.Second)
	recv(t, alice, EventUserTimedOut)

	h.send(alice, EventChatMessage, map[string]string{"stream_id": id, "message": "let me talk"})
	assert.Equal(t, CodeChatForbidden, recvError(t, alice))

	// Reactions are not gated by timeouts.
	h.send(alice, EventReaction, map[string]string{"stream_id": id, "emoji": "😢"})
	recv(t, bob, EventReaction)
}

func TestModeration_TimeoutExpires(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	h := newHarness(t, nil, func(o *Options) { o.Now = func() time.Time { return clock() } })
	host := h.connect("host")
	alice := h.connect("alice")
	id := h.live(host, nil)
	h.join(alice, id)

	h.send(host, EventTimeoutUser, map[string]interface{}{"stream_id": id, "user_id": "alice", "duration": 5})
	recv(t, alice, EventUserTimedOut)

	later := now.Add(6 * time.Second)
	clock = func() time.Time { return later }
	h.send(alice, EventChatMessage, map[string]string{"stream_id": id, "message": "back"})
	recv(t, host, EventChatMessage)
}

func TestModeration_DeleteMessage(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connect("host")
	alice := h.connect("alice")
	id := h.live(host, nil)
	h.join(alice, id)

	h.send(alice, EventChatMessage, map[string]string{"stream_id": id, "message": "oops"})
	msg := decode[chatPayload](t, recv(t, host, EventChatMessage))

	h.send(alice, EventDeleteChatMessage, map[string]string{"stream_id": id, "message_id": msg.MessageID})
	assert.Equal(t, CodeNotModerator, recvError(t, alice))

	h.send(host, EventDeleteChatMessage, map[string]string{"stream_id": id, "message_id": "nope"})
	assert.Equal(t, CodeBadRequest, recvError(t, host))

	h.send(host, EventDeleteChatMessage, map[string]string{"stream_id": id, "message_id": msg.MessageID})
	deleted := decode[map[string]string](t, recv(t, alice, EventMessageDeleted))
	assert.Equal(t, msg.MessageID, deleted["message_id"])
	recv(t, host, EventMessageDeleted)

	msgs, err := h.store.ListChatMessages(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestModeration_BannedCannotBePromoted(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connect("host")
	id := h.live(host, nil)

	h.send(host, EventBanUser, map[string]string{"stream_id": id, "user_id": "eve"})
	recv(t, host, EventUserBanned)
	h.send(host, EventAddModerator, map[string]string{"stream_id": id, "user_id": "eve"})
	assert.Equal(t, CodeBanned, recvError(t, host))
}
