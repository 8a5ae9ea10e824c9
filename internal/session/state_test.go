package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversekit/chat-gateway/internal/store"
)

func msg(msgType, text string) store.Message {
	return store.Message{Type: msgType, Text: text}
}

func TestSelectConversation_ReplacesRestoredWholesale(t *testing.T) {
	st := New("tab-1", "contact-1")

	historyA := []store.Message{msg("user", "a1"), msg("bot", "a2")}
	st = SelectConversation(st, "conv-a", historyA)
	assert.Equal(t, "conv-a", st.ActiveConversationID)
	assert.Equal(t, historyA, st.Restored)
	assert.EqualValues(t, 1, st.Epoch)

	// Switching to B mid-stream of A: only B's history survives, and the
	// epoch bump tells the client to drop A's live buffer wholesale.
	historyB := []store.Message{msg("user", "b1")}
	st = SelectConversation(st, "conv-b", historyB)
	assert.Equal(t, "conv-b", st.ActiveConversationID)
	assert.Equal(t, historyB, st.Restored)
	assert.EqualValues(t, 2, st.Epoch)

	for _, m := range st.Restored {
		assert.NotContains(t, m.Text, "a", "no residual message from conversation A")
	}
}

func TestSelectConversation_EmptyHistoryIsNotFresh(t *testing.T) {
	st := New("tab-1", "contact-1")
	st = SelectConversation(st, "conv-a", nil)

	require.NotNil(t, st.Restored, "restored history is empty, not absent")
	assert.Empty(t, st.Restored)
}

func TestNewConversation_Resets(t *testing.T) {
	st := New("tab-1", "contact-1")
	st = SelectConversation(st, "conv-a", []store.Message{msg("user", "a1")})

	st = NewConversation(st)
	assert.Empty(t, st.ActiveConversationID)
	assert.Nil(t, st.Restored)
	assert.EqualValues(t, 2, st.Epoch)
}

func TestDeleteConversation(t *testing.T) {
	t.Run("deleting the active conversation behaves like new", func(t *testing.T) {
		st := New("tab-1", "contact-1")
		st = SelectConversation(st, "conv-a", []store.Message{msg("user", "a1")})

		st = DeleteConversation(st, "conv-a")
		assert.Empty(t, st.ActiveConversationID)
		assert.Nil(t, st.Restored)
		assert.EqualValues(t, 2, st.Epoch)
	})

	t.Run("deleting another conversation is a no-op", func(t *testing.T) {
		st := New("tab-1", "contact-1")
		st = SelectConversation(st, "conv-a", []store.Message{msg("user", "a1")})

		before := st
		st = DeleteConversation(st, "conv-b")
		assert.Equal(t, before.ActiveConversationID, st.ActiveConversationID)
		assert.Equal(t, before.Restored, st.Restored)
		assert.Equal(t, before.Epoch, st.Epoch)
	})
}

func TestAdoptConversation_KeepsEpoch(t *testing.T) {
	st := New("tab-1", "contact-1")
	st = NewConversation(st)
	epoch := st.Epoch

	// The first turn of a fresh conversation announces the id; adopting it
	// must not invalidate the live streaming state of that very turn.
	st = AdoptConversation(st, "conv-new")
	assert.Equal(t, "conv-new", st.ActiveConversationID)
	assert.Equal(t, epoch, st.Epoch)
}

func TestTurnMessages_Order(t *testing.T) {
	st := New("tab-1", "contact-1")
	st = SelectConversation(st, "conv-a", []store.Message{
		msg("user", "restored question"),
		msg("bot", "restored answer"),
	})

	live := []store.Message{
		msg("user", "live question"),
		msg("bot", "live answer"),
		msg("user", "new question"),
	}

	out := TurnMessages(st, live)
	require.Len(t, out, 5)
	assert.Equal(t, "restored question", out[0].Text)
	assert.Equal(t, "restored answer", out[1].Text)
	assert.Equal(t, "new question", out[4].Text)
}

func TestTurnMessages_DoesNotAliasRestored(t *testing.T) {
	st := New("tab-1", "contact-1")
	st = SelectConversation(st, "conv-a", []store.Message{msg("user", "r1")})

	out := TurnMessages(st, []store.Message{msg("user", "new")})
	out[0].Text = "mutated"

	assert.Equal(t, "r1", st.Restored[0].Text, "restored buffer is never mutated in place")
}
