package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conversekit/chat-gateway/internal/auth"
	"github.com/conversekit/chat-gateway/internal/store"
)

// TurnRequest is one round of user input. Messages carries the full history
// for the turn (restored + live + the new user message); the wire protocol
// is stateless, reconciliation happens at end of turn.
type TurnRequest struct {
	BotID          string
	ContactID      string
	ConversationID string
	Messages       []store.Message
}

// turnHandle carries the state resolved at begin-of-turn through to the
// persistence phase.
type turnHandle struct {
	conversationID string
	sentCount      int
}

// beginTurn resolves the conversation for a turn. Without a contact the
// turn is ephemeral: nothing is created and nothing will be persisted. With
// a contact and no conversation id a conversation is created exactly once;
// its id is announced to the caller before any model output so the client
// can adopt it even if streaming later fails.
func (s *Service) beginTurn(ctx context.Context, req TurnRequest) (*turnHandle, *store.Event, error) {
	handle := &turnHandle{sentCount: len(req.Messages)}

	if req.ContactID == "" {
		return handle, nil, nil
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		id, err := s.store.CreateConversation(ctx, store.CreateConversationParams{
			ContactID: req.ContactID,
			BotID:     req.BotID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		conversationID = id
	}
	handle.conversationID = conversationID

	return handle, &store.Event{
		Type: "conversation",
		Data: store.ConversationData{ID: conversationID},
	}, nil
}

// endTurn reconciles the final message set against what the client sent and
// persists the difference. The new messages are the suffix beyond
// len(sent)-1: the just-added user message is counted once on each side, so
// the suffix starts at it and it is persisted exactly once. Message
// persistence errors propagate; a failed label update is tolerated since
// the messages are already individually valid.
func (s *Service) endTurn(ctx context.Context, handle *turnHandle, final []store.Message) (*store.Event, error) {
	if handle.conversationID == "" {
		return nil, nil
	}

	newMessages := newMessageBoundary(handle.sentCount, final)
	if len(newMessages) == 0 {
		return nil, nil
	}

	for _, msg := range newMessages {
		if _, err := s.store.CreateMessage(ctx, handle.conversationID, store.CreateMessageParams{
			Type: msg.Type,
			Text: msg.Text,
		}); err != nil {
			return nil, fmt.Errorf("failed to persist message: %w", err)
		}
	}

	name, description := deriveLabel(final)
	if err := s.store.UpdateConversation(ctx, handle.conversationID, store.UpdateConversationParams{
		Name:        name,
		Description: description,
	}); err != nil {
		s.log.Warn("conversation label update failed", "conversation_id", handle.conversationID, "error", err)
	}

	return &store.Event{
		Type: "conversation",
		Data: store.ConversationData{ID: handle.conversationID, Name: name, Description: description},
	}, nil
}

// newMessageBoundary computes the messages a turn added. Assumes the
// completion backend never removes or reorders prior messages and that
// exactly one user message was appended client-side before the call; the
// offset arithmetic is only valid under those two conditions.
func newMessageBoundary(sentCount int, final []store.Message) []store.Message {
	start := sentCount - 1
	if start < 0 {
		start = 0
	}
	if start >= len(final) {
		return nil
	}
	return final[start:]
}

// StreamTurn runs the full turn protocol: resolve, stream, persist. Events
// (tokens, messages, conversation notifications) are pushed to the sink in
// order. If the stream is aborted mid-turn, persistence still runs against
// the partial message set delivered before the abort so the user's sent
// message is not silently lost.
func (s *Service) StreamTurn(ctx context.Context, user *auth.User, req TurnRequest, sink store.EventSink) error {
	if err := requireUser(user); err != nil {
		return err
	}

	handle, event, err := s.beginTurn(ctx, req)
	if err != nil {
		return err
	}
	if event != nil {
		if err := sink(*event); err != nil {
			return err
		}
	}

	creq := store.CompleteRequest{
		ContactID: req.ContactID,
		Messages:  req.Messages,
		Functions: turnFunctions(),
	}
	if req.BotID != "" {
		// The platform holds the bot's full configuration; nothing else to
		// send.
		creq.BotID = req.BotID
	} else {
		creq.Backstory = fallbackBackstory(user)
		creq.Model = fallbackModel
	}

	final, streamErr := s.completer.StreamComplete(ctx, creq, sink)

	// Persistence must survive client aborts; detach from the request
	// context but keep its values.
	endEvent, endErr := s.endTurn(context.WithoutCancel(ctx), handle, final)
	if endEvent != nil && streamErr == nil {
		if err := sink(*endEvent); err != nil {
			return err
		}
	}

	if streamErr != nil {
		if endErr != nil {
			s.log.Warn("persisting aborted turn failed", "conversation_id", handle.conversationID, "error", endErr)
		}
		return streamErr
	}
	return endErr
}

func fallbackBackstory(user *auth.User) string {
	name := "a user"
	if user.Name != "" {
		name = user.Name
	}
	return fmt.Sprintf("You are a helpful AI assistant. You are friendly, concise, and knowledgeable. "+
		"You help users with their questions and tasks. The current user is %s.", name)
}

// turnFunctions returns the capabilities offered to the model on every
// turn.
func turnFunctions() []store.Function {
	return []store.Function{
		{
			Name:        "getCurrentTime",
			Description: "Gets the current date and time",
			Parameters:  map[string]any{},
			Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
				return map[string]any{"time": time.Now().UTC().Format(time.RFC3339)}, nil
			},
		},
	}
}
