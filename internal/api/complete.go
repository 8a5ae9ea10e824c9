package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/conversekit/chat-gateway/internal/chat"
	"github.com/conversekit/chat-gateway/internal/session"
	"github.com/conversekit/chat-gateway/internal/store"
)

type completeRequest struct {
	// Messages is the client's live buffer plus the new user message. The
	// restored history is held server-side and prepended here, so the model
	// sees the full conversation without the client resending it.
	Messages []store.Message `json:"messages"`
}

// CompleteHandler runs one conversation turn and streams the result as
// server-sent events: token, message and conversation events, plus a final
// error event if the turn fails mid-stream.
func (h *APIHandler) CompleteHandler(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 || req.Messages[len(req.Messages)-1].Type != store.MessageTypeUser {
		http.Error(w, "Request must end with a user message", http.StatusBadRequest)
		return
	}

	st, err := h.sessionState(r)
	if err != nil {
		h.writeError(w, r, err, "Failed to resolve session")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	turn := chat.TurnRequest{
		BotID:          st.SelectedBotID,
		ContactID:      st.ContactID,
		ConversationID: st.ActiveConversationID,
		Messages:       session.TurnMessages(st, req.Messages),
	}

	sink := func(event store.Event) error {
		// Adopt a freshly created conversation the moment it is announced,
		// so the id survives even if streaming fails afterwards.
		if event.Type == "conversation" {
			if data, ok := event.Data.(store.ConversationData); ok && st.ActiveConversationID == "" {
				st = session.AdoptConversation(st, data.ID)
				if err := h.saveSession(r, st); err != nil {
					h.log.Error("failed to save session after adoption", "session_id", st.ID, "error", err)
				}
			}
		}
		return writeSSE(w, flusher, event.Type, event.Data)
	}

	if err := h.chatService.StreamTurn(r.Context(), userFrom(r), turn, sink); err != nil {
		h.log.Error("turn failed", "session_id", st.ID, "conversation_id", st.ActiveConversationID, "error", err)
		_ = writeSSE(w, flusher, "error", map[string]string{"message": "The turn could not be completed."})
		return
	}

	_ = writeSSE(w, flusher, "done", map[string]int64{"epoch": st.Epoch})
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
