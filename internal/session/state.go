package session

import (
	"time"

	"github.com/conversekit/chat-gateway/internal/store"
)

// State is the per-client session: which bot is selected, which
// conversation is active, and the restored history buffer for it. All
// transitions are pure functions of (state, event) so they can be tested
// without any transport or rendering environment.
//
// Restored is nil for a fresh conversation with no history loaded. The
// buffer is never mutated in place by live streaming; it is only replaced
// wholesale on an epoch change, which is what prevents a message from
// appearing both in the restored buffer and in live streaming state after a
// conversation switch.
type State struct {
	ID                   string          `json:"id"`
	ContactID            string          `json:"contact_id"`
	SelectedBotID        string          `json:"selected_bot_id"`
	ActiveConversationID string          `json:"active_conversation_id"`
	Restored             []store.Message `json:"restored"`
	// Epoch increments on every conversation switch. Clients discard live
	// streaming state wholesale whenever the epoch they hold is stale.
	Epoch     int64     `json:"epoch"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns a fresh session for a contact.
func New(id, contactID string) State {
	now := time.Now().UTC()
	return State{
		ID:        id,
		ContactID: contactID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SelectConversation switches the session to an existing conversation whose
// messages have already been fetched. Live state from the previous
// conversation is invalidated by the epoch bump, never merged.
func SelectConversation(st State, conversationID string, messages []store.Message) State {
	if messages == nil {
		messages = []store.Message{}
	}
	st.ActiveConversationID = conversationID
	st.Restored = messages
	st.Epoch++
	st.UpdatedAt = time.Now().UTC()
	return st
}

// NewConversation resets the session to a fresh conversation.
func NewConversation(st State) State {
	st.ActiveConversationID = ""
	st.Restored = nil
	st.Epoch++
	st.UpdatedAt = time.Now().UTC()
	return st
}

// DeleteConversation records the deletion of a conversation. Deleting the
// active one behaves exactly like NewConversation; deleting any other
// conversation leaves the session untouched.
func DeleteConversation(st State, conversationID string) State {
	if conversationID != st.ActiveConversationID {
		return st
	}
	return NewConversation(st)
}

// SelectBot changes the bot used for subsequent turns.
func SelectBot(st State, botID string) State {
	st.SelectedBotID = botID
	st.UpdatedAt = time.Now().UTC()
	return st
}

// AdoptConversation records the conversation id announced by the first turn
// of a fresh conversation, so subsequent turns in this epoch resume it
// instead of creating another one. No epoch bump: live state stays valid.
func AdoptConversation(st State, conversationID string) State {
	st.ActiveConversationID = conversationID
	st.UpdatedAt = time.Now().UTC()
	return st
}

// TurnMessages builds the outgoing message list for a turn: the restored
// history, then the client's live messages, in order. The caller appends
// its new user message as the last live entry.
func TurnMessages(st State, live []store.Message) []store.Message {
	out := make([]store.Message, 0, len(st.Restored)+len(live))
	out = append(out, st.Restored...)
	out = append(out, live...)
	return out
}
