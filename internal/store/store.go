package store

import (
	"context"
	"encoding/json"
)

// Store is the boundary interface over the remote conversation store. Any
// concrete binding (hosted platform, local SQLite) implements exactly these
// operations; everything above it is binding-agnostic.
type Store interface {
	// EnsureContact is an idempotent upsert: repeated calls for the same
	// fingerprint resolve to the same contact id.
	EnsureContact(ctx context.Context, params EnsureContactParams) (string, error)

	ListBots(ctx context.Context) ([]Bot, error)

	CreateConversation(ctx context.Context, params CreateConversationParams) (string, error)
	UpdateConversation(ctx context.Context, conversationID string, params UpdateConversationParams) error
	DeleteConversation(ctx context.Context, conversationID string) error
	ListConversations(ctx context.Context, contactID string, params ListConversationsParams) ([]Conversation, error)

	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	CreateMessage(ctx context.Context, conversationID string, params CreateMessageParams) (string, error)
}

// Event is an item emitted while a turn streams: model tokens, finalized
// messages, and out-of-band conversation lifecycle notifications.
type Event struct {
	Type string `json:"type"` // "token" | "message" | "conversation"
	Data any    `json:"data"`
}

// TokenData carries an incremental chunk of bot output.
type TokenData struct {
	Text string `json:"text"`
}

// ConversationData is the payload of a "conversation" event. Name and
// Description are only set on the end-of-turn event.
type ConversationData struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// EventSink receives streamed events in order. Returning an error aborts
// the stream.
type EventSink func(Event) error

// Function is a capability offered to the model for the duration of one
// turn. The handler runs gateway-side; its return value is serialized back
// to the model as the call result.
type Function struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, args json.RawMessage) (any, error)
}

// CompleteRequest describes one streaming turn. Either BotID names a bot
// whose full configuration lives server-side, or Backstory+Model configure
// an inline persona. Messages is the full history for the turn; the call is
// stateless on the wire.
type CompleteRequest struct {
	BotID     string
	Backstory string
	Model     string
	ContactID string
	Messages  []Message
	Functions []Function
}

// Completer executes the streaming turn-completion call. Events are pushed
// to the sink as they arrive; the returned slice is the final message set
// for the turn (the request messages plus whatever the turn appended),
// which the orchestrator reconciles against the client-submitted history.
// On mid-stream failure the partial final set is returned alongside the
// error so an aborted turn can still be persisted.
type Completer interface {
	StreamComplete(ctx context.Context, req CompleteRequest, sink EventSink) ([]Message, error)
}
