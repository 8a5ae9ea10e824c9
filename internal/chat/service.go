package chat

import (
	"context"
	"fmt"

	"github.com/conversekit/chat-gateway/internal/auth"
	"github.com/conversekit/chat-gateway/internal/identity"
	"github.com/conversekit/chat-gateway/internal/logger"
	"github.com/conversekit/chat-gateway/internal/store"
)

const (
	// fallbackModel is the fixed model used when no bot is selected and the
	// turn runs on an inline persona instead of a server-side bot config.
	fallbackModel = "gpt-4o"

	listConversationsTake = 50
)

// Service orchestrates conversation turns against the store and completer
// bindings. It owns contact resolution, bot listing, conversation lifecycle
// and the begin/stream/end turn protocol.
type Service struct {
	store         store.Store
	completer     store.Completer
	resolver      *identity.Resolver
	allowedBotIDs []string
	log           *logger.Logger
}

func NewService(s store.Store, c store.Completer, allowedBotIDs []string, log *logger.Logger) *Service {
	return &Service{
		store:         s,
		completer:     c,
		resolver:      identity.NewResolver(s),
		allowedBotIDs: allowedBotIDs,
		log:           log,
	}
}

func requireUser(user *auth.User) error {
	if user == nil || user.Email == "" {
		return auth.ErrUnauthorized
	}
	return nil
}

// EnsureContact resolves (and lazily creates) the contact record for the
// authenticated user.
func (s *Service) EnsureContact(ctx context.Context, user *auth.User) (string, error) {
	if err := requireUser(user); err != nil {
		return "", err
	}
	return s.resolver.EnsureContact(ctx, user)
}

// ListBots returns the bots exposed to clients. When an allow-list is
// configured only those bots are returned; bots without a name get a
// placeholder.
func (s *Service) ListBots(ctx context.Context, user *auth.User) ([]store.Bot, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	bots, err := s.store.ListBots(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}

	allowed := make(map[string]bool, len(s.allowedBotIDs))
	for _, id := range s.allowedBotIDs {
		allowed[id] = true
	}

	out := make([]store.Bot, 0, len(bots))
	for _, bot := range bots {
		if len(allowed) > 0 && !allowed[bot.ID] {
			continue
		}
		if bot.Name == "" {
			bot.Name = "Unnamed Bot"
		}
		out = append(out, store.Bot{ID: bot.ID, Name: bot.Name, Description: bot.Description})
	}
	return out, nil
}

// ListConversations returns a contact's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, user *auth.User, contactID string) ([]store.Conversation, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	items, err := s.store.ListConversations(ctx, contactID, store.ListConversationsParams{
		Order: "desc",
		Take:  listConversationsTake,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return items, nil
}

// ConversationMessages fetches the messages of an existing conversation,
// filtered to the user/bot types the client renders. Timestamps are
// normalized to UTC so the client sees one canonical form.
func (s *Service) ConversationMessages(ctx context.Context, user *auth.User, conversationID string) ([]store.Message, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	items, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	out := make([]store.Message, 0, len(items))
	for _, msg := range items {
		if msg.Type != store.MessageTypeUser && msg.Type != store.MessageTypeBot {
			continue
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		out = append(out, msg)
	}
	return out, nil
}

// DeleteConversation removes a conversation from the store. Terminal: no
// further turns may reference the id.
func (s *Service) DeleteConversation(ctx context.Context, user *auth.User, conversationID string) error {
	if err := requireUser(user); err != nil {
		return err
	}
	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}
