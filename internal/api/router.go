package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/contact/ensure", apiHandler.EnsureContactHandler)
			r.Get("/bots", apiHandler.ListBotsHandler)

			// Session routes
			r.Get("/session", apiHandler.GetSessionHandler)
			r.Post("/session/bot", apiHandler.SelectBotHandler)
			r.Post("/session/new", apiHandler.NewConversationHandler)
			r.Post("/session/conversations/{conversationID}/select", apiHandler.SelectConversationHandler)

			// Conversation routes
			r.Get("/conversations", apiHandler.ListConversationsHandler)
			r.Get("/conversations/{conversationID}/messages", apiHandler.ConversationMessagesHandler)
			r.Delete("/conversations/{conversationID}", apiHandler.DeleteConversationHandler)

			// Turn completion (SSE)
			r.Post("/complete", apiHandler.CompleteHandler)
		})
	})

	return r
}
