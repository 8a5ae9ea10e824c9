package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/conversekit/chat-gateway/internal/auth"
	"github.com/conversekit/chat-gateway/internal/chat"
	"github.com/conversekit/chat-gateway/internal/logger"
	"github.com/conversekit/chat-gateway/internal/session"
	"github.com/conversekit/chat-gateway/internal/store"
)

type contextKey string

const userContextKey contextKey = "user"

// sessionHeader carries the opaque per-tab session id. The session itself
// lives server-side in the session store.
const sessionHeader = "X-Session-ID"

type APIHandler struct {
	chatService *chat.Service
	sessions    session.Store
	log         *logger.Logger
}

func NewAPIHandler(cs *chat.Service, sessions session.Store, log *logger.Logger) *APIHandler {
	return &APIHandler{chatService: cs, sessions: sessions, log: log}
}

// JWTAuthMiddleware validates the bearer token issued by the identity
// provider and stores the asserted user on the request context.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		user, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) *auth.User {
	user, _ := r.Context().Value(userContextKey).(*auth.User)
	return user
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("failed to encode response", "error", err)
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	default:
		h.log.Error(fallback, "path", r.URL.Path, "error", err)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}

// sessionState loads the session named by the request header, creating it
// (and ensuring the contact) when absent.
func (h *APIHandler) sessionState(r *http.Request) (session.State, error) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		return session.State{}, errors.New("missing " + sessionHeader + " header")
	}

	st, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		return session.State{}, err
	}
	if st != nil {
		return *st, nil
	}

	contactID, err := h.chatService.EnsureContact(r.Context(), userFrom(r))
	if err != nil {
		return session.State{}, err
	}

	fresh := session.New(sessionID, contactID)
	if err := h.sessions.Put(r.Context(), fresh); err != nil {
		return session.State{}, err
	}
	return fresh, nil
}

func (h *APIHandler) saveSession(r *http.Request, st session.State) error {
	// Persist outside the request's cancellation scope: a client that
	// disconnects mid-turn must still observe the transition next time.
	return h.sessions.Put(context.WithoutCancel(r.Context()), st)
}

// EnsureContactHandler resolves (and lazily creates) the caller's contact.
func (h *APIHandler) EnsureContactHandler(w http.ResponseWriter, r *http.Request) {
	id, err := h.chatService.EnsureContact(r.Context(), userFrom(r))
	if err != nil {
		h.writeError(w, r, err, "Failed to ensure contact")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// ListBotsHandler returns the bots exposed to this deployment.
func (h *APIHandler) ListBotsHandler(w http.ResponseWriter, r *http.Request) {
	bots, err := h.chatService.ListBots(r.Context(), userFrom(r))
	if err != nil {
		h.writeError(w, r, err, "Failed to list bots")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": bots})
}

// GetSessionHandler returns (creating if needed) the caller's session.
func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.sessionState(r)
	if err != nil {
		h.writeError(w, r, err, "Failed to resolve session")
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

type selectBotRequest struct {
	BotID string `json:"bot_id"`
}

// SelectBotHandler changes the bot used for subsequent turns.
func (h *APIHandler) SelectBotHandler(w http.ResponseWriter, r *http.Request) {
	var req selectBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	st, err := h.sessionState(r)
	if err != nil {
		h.writeError(w, r, err, "Failed to resolve session")
		return
	}

	st = session.SelectBot(st, req.BotID)
	if err := h.saveSession(r, st); err != nil {
		h.writeError(w, r, err, "Failed to save session")
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// NewConversationHandler resets the session to a fresh conversation.
func (h *APIHandler) NewConversationHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.sessionState(r)
	if err != nil {
		h.writeError(w, r, err, "Failed to resolve session")
		return
	}

	st = session.NewConversation(st)
	if err := h.saveSession(r, st); err != nil {
		h.writeError(w, r, err, "Failed to save session")
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// SelectConversationHandler switches the session to an existing
// conversation, loading its restored history.
func (h *APIHandler) SelectConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	st, err := h.sessionState(r)
	if err != nil {
		h.writeError(w, r, err, "Failed to resolve session")
		return
	}

	messages, err := h.chatService.ConversationMessages(r.Context(), userFrom(r), conversationID)
	if err != nil {
		h.writeError(w, r, err, "Failed to load conversation")
		return
	}

	st = session.SelectConversation(st, conversationID, messages)
	if err := h.saveSession(r, st); err != nil {
		h.writeError(w, r, err, "Failed to save session")
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// ListConversationsHandler lists the session contact's conversations for
// the sidebar, most recent first.
func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.sessionState(r)
	if err != nil {
		h.writeError(w, r, err, "Failed to resolve session")
		return
	}

	conversations, err := h.chatService.ListConversations(r.Context(), userFrom(r), st.ContactID)
	if err != nil {
		h.writeError(w, r, err, "Failed to list conversations")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": conversations})
}

// ConversationMessagesHandler fetches a conversation transcript without
// touching session state.
func (h *APIHandler) ConversationMessagesHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	messages, err := h.chatService.ConversationMessages(r.Context(), userFrom(r), conversationID)
	if err != nil {
		h.writeError(w, r, err, "Failed to list messages")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": messages})
}

// DeleteConversationHandler removes a conversation. Deleting the active
// conversation resets the session to a fresh one.
func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	st, err := h.sessionState(r)
	if err != nil {
		h.writeError(w, r, err, "Failed to resolve session")
		return
	}

	if err := h.chatService.DeleteConversation(r.Context(), userFrom(r), conversationID); err != nil {
		h.writeError(w, r, err, "Failed to delete conversation")
		return
	}

	st = session.DeleteConversation(st, conversationID)
	if err := h.saveSession(r, st); err != nil {
		h.writeError(w, r, err, "Failed to save session")
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}
