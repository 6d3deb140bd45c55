// Package api provides HTTP handlers for the school information API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/schoolinfo/internal/backend"
	"github.com/ashureev/schoolinfo/internal/config"
	"github.com/ashureev/schoolinfo/internal/conversation"
	"github.com/ashureev/schoolinfo/internal/identity"
	"github.com/ashureev/schoolinfo/internal/middleware"
	"github.com/ashureev/schoolinfo/internal/query"
	"github.com/ashureev/schoolinfo/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// Dispatcher is the backend capability the handlers need.
type Dispatcher interface {
	Dispatch(ctx context.Context, req query.Request) backend.Outcome
	Transport() string
}

// Handler serves the conversation and operational endpoints.
type Handler struct {
	registry   *conversation.Registry
	dispatcher Dispatcher
	repo       store.Repository
	cfg        *config.Config
}

// NewHandler creates a new Handler with its dependencies.
func NewHandler(reg *conversation.Registry, d Dispatcher, repo store.Repository, cfg *config.Config) *Handler {
	return &Handler{
		registry:   reg,
		dispatcher: d,
		repo:       repo,
		cfg:        cfg,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/health", h.Health)
		r.Post("/query", h.Query)
		// Operational records are only served to operators.
		if h.cfg.AdminToken != "" {
			r.With(middleware.RequireBearer(h.cfg.AdminToken)).Get("/dispatches", h.ListDispatches)
		}
		r.Route("/conversation", func(r chi.Router) {
			r.Get("/", h.GetConversation)
			r.Post("/messages", h.PostMessage)
			r.Post("/reset", h.ResetConversation)
		})
	})
}

// conversationFor returns the caller's conversation.
func (h *Handler) conversationFor(r *http.Request) *conversation.Conversation {
	ctx := r.Context()
	return h.registry.Get(identity.UserIDFromContext(ctx), identity.SessionIDFromContext(ctx))
}

// traceContext detaches the dispatch from the request lifetime and tags it
// with the request and conversation identifiers.
func traceContext(r *http.Request, conversationKey string) context.Context {
	return backend.ContextWithTrace(context.WithoutCancel(r.Context()), backend.Trace{
		ConversationKey: conversationKey,
		RequestID:       chiMiddleware.GetReqID(r.Context()),
	})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
