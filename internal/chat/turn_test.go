package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversekit/chat-gateway/internal/auth"
	"github.com/conversekit/chat-gateway/internal/logger"
	"github.com/conversekit/chat-gateway/internal/store"
)

// mockStore records every boundary call so tests can assert on exact call
// counts and ordering.
type mockStore struct {
	mu sync.Mutex

	contacts map[string]string // fingerprint -> id
	bots     []store.Bot

	createConversationCalls int
	conversations           map[string]store.Conversation
	messages                map[string][]store.Message
	updates                 map[string]store.UpdateConversationParams

	listBotsErr      error
	createMessageErr error
	updateErr        error
}

func newMockStore() *mockStore {
	return &mockStore{
		contacts:      make(map[string]string),
		conversations: make(map[string]store.Conversation),
		messages:      make(map[string][]store.Message),
		updates:       make(map[string]store.UpdateConversationParams),
	}
}

func (m *mockStore) EnsureContact(ctx context.Context, params store.EnsureContactParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.contacts[params.Fingerprint]; ok {
		return id, nil
	}
	id := uuid.NewString()
	m.contacts[params.Fingerprint] = id
	return id, nil
}

func (m *mockStore) ListBots(ctx context.Context) ([]store.Bot, error) {
	if m.listBotsErr != nil {
		return nil, m.listBotsErr
	}
	return m.bots, nil
}

func (m *mockStore) CreateConversation(ctx context.Context, params store.CreateConversationParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createConversationCalls++
	id := uuid.NewString()
	m.conversations[id] = store.Conversation{ID: id, ContactID: params.ContactID, BotID: params.BotID}
	return id, nil
}

func (m *mockStore) UpdateConversation(ctx context.Context, conversationID string, params store.UpdateConversationParams) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[conversationID] = params
	return nil
}

func (m *mockStore) DeleteConversation(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[conversationID]; !ok {
		return store.ErrNotFound
	}
	delete(m.conversations, conversationID)
	delete(m.messages, conversationID)
	return nil
}

func (m *mockStore) ListConversations(ctx context.Context, contactID string, params store.ListConversationsParams) ([]store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Conversation
	for _, conv := range m.conversations {
		if conv.ContactID == contactID {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (m *mockStore) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Message(nil), m.messages[conversationID]...), nil
}

func (m *mockStore) CreateMessage(ctx context.Context, conversationID string, params store.CreateMessageParams) (string, error) {
	if m.createMessageErr != nil {
		return "", m.createMessageErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.messages[conversationID] = append(m.messages[conversationID], store.Message{
		ID:   id,
		Type: params.Type,
		Text: params.Text,
	})
	return id, nil
}

// mockCompleter appends a scripted set of messages to whatever it is sent.
type mockCompleter struct {
	appends  []store.Message
	err      error
	requests []store.CompleteRequest
}

func (m *mockCompleter) StreamComplete(ctx context.Context, req store.CompleteRequest, sink store.EventSink) ([]store.Message, error) {
	m.requests = append(m.requests, req)
	final := append([]store.Message(nil), req.Messages...)
	for _, msg := range m.appends {
		final = append(final, msg)
		if err := sink(store.Event{Type: "message", Data: msg}); err != nil {
			return final, err
		}
	}
	return final, m.err
}

func newTestService(st store.Store, c store.Completer, allowed []string) *Service {
	return NewService(st, c, allowed, logger.NewNop())
}

func user() *auth.User {
	return &auth.User{Email: "alice@example.com", Name: "Alice"}
}

func collectEvents(events *[]store.Event) store.EventSink {
	return func(e store.Event) error {
		*events = append(*events, e)
		return nil
	}
}

func TestStreamTurn_PersistsTurnSuffix(t *testing.T) {
	tests := []struct {
		name      string
		appends   []store.Message
		wantTypes []string
	}{
		{
			name:      "single bot reply",
			appends:   []store.Message{{Type: store.MessageTypeBot, Text: "hi there"}},
			wantTypes: []string{"user", "bot"},
		},
		{
			name: "function round trip inserts extra messages",
			appends: []store.Message{
				{Type: store.MessageTypeCall, Text: `{"name":"getCurrentTime"}`},
				{Type: store.MessageTypeResult, Text: `{"time":"2026-01-01T00:00:00Z"}`},
				{Type: store.MessageTypeBot, Text: "it is new year"},
			},
			wantTypes: []string{"user", "call", "result", "bot"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockStore()
			completer := &mockCompleter{appends: tt.appends}
			svc := newTestService(mock, completer, nil)

			sent := []store.Message{
				{Type: store.MessageTypeUser, Text: "first question"},
				{Type: store.MessageTypeBot, Text: "first answer"},
				{Type: store.MessageTypeUser, Text: "second question"},
			}

			var events []store.Event
			err := svc.StreamTurn(context.Background(), user(), TurnRequest{
				ContactID: "contact-1",
				Messages:  sent,
			}, collectEvents(&events))
			require.NoError(t, err)

			require.Len(t, mock.messages, 1)
			var persisted []store.Message
			for _, msgs := range mock.messages {
				persisted = msgs
			}

			// The suffix starts at the just-added user message: it is counted
			// once on each side of the boundary, so it lands in the store
			// exactly once and the prior history is never re-persisted.
			var types []string
			for _, msg := range persisted {
				types = append(types, msg.Type)
			}
			assert.Equal(t, tt.wantTypes, types)
			assert.Equal(t, "second question", persisted[0].Text)
		})
	}
}

func TestStreamTurn_ConversationCreatedExactlyOnce(t *testing.T) {
	mock := newMockStore()
	completer := &mockCompleter{appends: []store.Message{{Type: store.MessageTypeBot, Text: "reply"}}}
	svc := newTestService(mock, completer, nil)

	var adopted string
	sink := func(e store.Event) error {
		if e.Type == "conversation" {
			adopted = e.Data.(store.ConversationData).ID
		}
		return nil
	}

	// Turn 1: no conversation id yet.
	err := svc.StreamTurn(context.Background(), user(), TurnRequest{
		ContactID: "contact-1",
		Messages:  []store.Message{{Type: store.MessageTypeUser, Text: "hello"}},
	}, sink)
	require.NoError(t, err)
	require.NotEmpty(t, adopted)

	// Turn 2: resumes the adopted id.
	err = svc.StreamTurn(context.Background(), user(), TurnRequest{
		ContactID:      "contact-1",
		ConversationID: adopted,
		Messages: []store.Message{
			{Type: store.MessageTypeUser, Text: "hello"},
			{Type: store.MessageTypeBot, Text: "reply"},
			{Type: store.MessageTypeUser, Text: "and another"},
		},
	}, sink)
	require.NoError(t, err)

	assert.Equal(t, 1, mock.createConversationCalls)
}

func TestStreamTurn_ConversationEventPrecedesOutput(t *testing.T) {
	mock := newMockStore()
	completer := &mockCompleter{appends: []store.Message{{Type: store.MessageTypeBot, Text: "reply"}}}
	svc := newTestService(mock, completer, nil)

	var events []store.Event
	err := svc.StreamTurn(context.Background(), user(), TurnRequest{
		ContactID: "contact-1",
		Messages:  []store.Message{{Type: store.MessageTypeUser, Text: "hello"}},
	}, collectEvents(&events))
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, "conversation", events[0].Type)
	data := events[0].Data.(store.ConversationData)
	assert.NotEmpty(t, data.ID)
	assert.Empty(t, data.Name, "begin-of-turn event carries the id only")

	// The end-of-turn event carries the derived label.
	last := events[len(events)-1]
	require.Equal(t, "conversation", last.Type)
	assert.Equal(t, "hello", last.Data.(store.ConversationData).Name)
}

func TestStreamTurn_EphemeralWithoutContact(t *testing.T) {
	mock := newMockStore()
	completer := &mockCompleter{appends: []store.Message{{Type: store.MessageTypeBot, Text: "reply"}}}
	svc := newTestService(mock, completer, nil)

	var events []store.Event
	err := svc.StreamTurn(context.Background(), user(), TurnRequest{
		Messages: []store.Message{{Type: store.MessageTypeUser, Text: "hello"}},
	}, collectEvents(&events))
	require.NoError(t, err)

	assert.Zero(t, mock.createConversationCalls)
	assert.Empty(t, mock.messages)
	for _, e := range events {
		assert.NotEqual(t, "conversation", e.Type)
	}
}

func TestStreamTurn_Unauthorized(t *testing.T) {
	mock := newMockStore()
	svc := newTestService(mock, &mockCompleter{}, nil)

	err := svc.StreamTurn(context.Background(), nil, TurnRequest{
		ContactID: "contact-1",
		Messages:  []store.Message{{Type: store.MessageTypeUser, Text: "hello"}},
	}, func(store.Event) error { return nil })

	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.Zero(t, mock.createConversationCalls, "no remote call before auth check")
}

func TestStreamTurn_LabelUpdateFailureTolerated(t *testing.T) {
	mock := newMockStore()
	mock.updateErr = errors.New("label service down")
	completer := &mockCompleter{appends: []store.Message{{Type: store.MessageTypeBot, Text: "reply"}}}
	svc := newTestService(mock, completer, nil)

	err := svc.StreamTurn(context.Background(), user(), TurnRequest{
		ContactID: "contact-1",
		Messages:  []store.Message{{Type: store.MessageTypeUser, Text: "hello"}},
	}, func(store.Event) error { return nil })

	require.NoError(t, err, "messages persisted, stale label is acceptable")
	for _, msgs := range mock.messages {
		assert.Len(t, msgs, 2)
	}
}

func TestStreamTurn_MessagePersistFailurePropagates(t *testing.T) {
	mock := newMockStore()
	mock.createMessageErr = errors.New("store unavailable")
	completer := &mockCompleter{appends: []store.Message{{Type: store.MessageTypeBot, Text: "reply"}}}
	svc := newTestService(mock, completer, nil)

	err := svc.StreamTurn(context.Background(), user(), TurnRequest{
		ContactID: "contact-1",
		Messages:  []store.Message{{Type: store.MessageTypeUser, Text: "hello"}},
	}, func(store.Event) error { return nil })

	assert.ErrorContains(t, err, "store unavailable")
}

func TestStreamTurn_AbortedStreamStillPersists(t *testing.T) {
	mock := newMockStore()
	completer := &mockCompleter{
		appends: []store.Message{{Type: store.MessageTypeBot, Text: "partial ans"}},
		err:     context.Canceled,
	}
	svc := newTestService(mock, completer, nil)

	err := svc.StreamTurn(context.Background(), user(), TurnRequest{
		ContactID: "contact-1",
		Messages:  []store.Message{{Type: store.MessageTypeUser, Text: "hello"}},
	}, func(store.Event) error { return nil })

	assert.ErrorIs(t, err, context.Canceled)

	// The user's message and the partial reply survive the abort.
	require.Len(t, mock.messages, 1)
	for _, msgs := range mock.messages {
		require.Len(t, msgs, 2)
		assert.Equal(t, "hello", msgs[0].Text)
		assert.Equal(t, "partial ans", msgs[1].Text)
	}
}

func TestStreamTurn_FallbackPersona(t *testing.T) {
	mock := newMockStore()
	completer := &mockCompleter{appends: []store.Message{{Type: store.MessageTypeBot, Text: "reply"}}}
	svc := newTestService(mock, completer, nil)

	err := svc.StreamTurn(context.Background(), user(), TurnRequest{
		ContactID: "contact-1",
		Messages:  []store.Message{{Type: store.MessageTypeUser, Text: "hello"}},
	}, func(store.Event) error { return nil })
	require.NoError(t, err)

	require.Len(t, completer.requests, 1)
	req := completer.requests[0]
	assert.Empty(t, req.BotID)
	assert.Contains(t, req.Backstory, "The current user is Alice.")
	assert.Equal(t, fallbackModel, req.Model)

	require.Len(t, req.Functions, 1)
	assert.Equal(t, "getCurrentTime", req.Functions[0].Name)
}

func TestStreamTurn_NamedBotSkipsBackstory(t *testing.T) {
	mock := newMockStore()
	completer := &mockCompleter{appends: []store.Message{{Type: store.MessageTypeBot, Text: "reply"}}}
	svc := newTestService(mock, completer, nil)

	err := svc.StreamTurn(context.Background(), user(), TurnRequest{
		BotID:     "bot-1",
		ContactID: "contact-1",
		Messages:  []store.Message{{Type: store.MessageTypeUser, Text: "hello"}},
	}, func(store.Event) error { return nil })
	require.NoError(t, err)

	require.Len(t, completer.requests, 1)
	assert.Equal(t, "bot-1", completer.requests[0].BotID)
	assert.Empty(t, completer.requests[0].Backstory)
}
