package store

import "time"

// Message types as persisted by the conversation store. Consumer-facing
// views only ever expose user and bot messages; call/result pairs are the
// function-calling round trips and context entries are platform-internal.
const (
	MessageTypeUser    = "user"
	MessageTypeBot     = "bot"
	MessageTypeCall    = "call"
	MessageTypeResult  = "result"
	MessageTypeContext = "context"
)

// Contact is the remote-store record for a unique end user, keyed by a
// derived fingerprint rather than by any directly identifying attribute.
type Contact struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Bot is an available agent configuration. Read-only from the gateway's
// perspective; Backstory and Model are only populated in local mode where
// the completion runs in-process.
type Bot struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Backstory   string `json:"backstory,omitempty"`
	Model       string `json:"model,omitempty"`
}

// Conversation is a persisted, ordered sequence of messages associated with
// exactly one contact and optionally one bot.
type Conversation struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ContactID   string    `json:"contact_id"`
	BotID       string    `json:"bot_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message is a single entry in a conversation. Append-only; the store's
// ordering is creation order.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// EnsureContactParams is the idempotent upsert payload: one contact per
// fingerprint, email/name refreshed on every call.
type EnsureContactParams struct {
	Fingerprint string `json:"fingerprint"`
	Email       string `json:"email"`
	Name        string `json:"name"`
}

type CreateConversationParams struct {
	ContactID string `json:"contactId"`
	BotID     string `json:"botId,omitempty"`
}

type UpdateConversationParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ListConversationsParams struct {
	Order string `json:"order"`
	Take  int    `json:"take"`
}

type CreateMessageParams struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
