package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/ashureev/schoolinfo/internal/backend"
	"github.com/ashureev/schoolinfo/internal/conversation"
	"github.com/ashureev/schoolinfo/internal/domain"
	"github.com/ashureev/schoolinfo/internal/identity"
	"github.com/coder/websocket"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Frame types.
const (
	frameSnapshot = "snapshot"
	frameError    = "error"
	framePong     = "pong"
)

// clientMessage is sent by the browser.
type clientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// serverFrame is sent to the browser.
type serverFrame struct {
	Type  string                 `json:"type"`
	State *conversation.Snapshot `json:"state,omitempty"`
	Error string                 `json:"error,omitempty"`
}

// WebSocketHandler streams a conversation and accepts submit/reset commands.
type WebSocketHandler struct {
	registry       *conversation.Registry
	sm             *SessionManager
	allowedOrigins []string
	isDev          bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(reg *conversation.Registry, sm *SessionManager, allowedOrigins []string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		registry:       reg,
		sm:             sm,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	ref := domain.ConversationRef(conversation.Key(userID, sessionID))
	slog.Info("WebSocket connection request", "conversation_ref", ref, "remote_addr", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	// Cancelled last so the close handshake below runs on a live connection.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "conversation_ref", ref)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "conversation_ref", ref)
		}
	}()

	h.sm.Register(userID, sessionID, ws)
	defer h.sm.Unregister(userID, sessionID, ws)

	conv := h.registry.Get(userID, sessionID)
	updates, unsubscribe := conv.Subscribe()
	defer unsubscribe()

	reqID := chiMiddleware.GetReqID(r.Context())
	go func() {
		defer cancel()
		h.inputLoop(ctx, ws, conv, reqID)
	}()

	h.outputLoop(ctx, ws, updates)
	slog.Info("Conversation stream ended", "conversation_ref", ref)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

// outputLoop forwards snapshots until the subscription or connection ends.
func (h *WebSocketHandler) outputLoop(ctx context.Context, ws *websocket.Conn, updates <-chan conversation.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, serverFrame{Type: frameSnapshot, State: &snap}); err != nil {
				if ctx.Err() == nil {
					slog.Debug("WebSocket write error", "error", err)
				}
				return
			}
		}
	}
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, conv *conversation.Conversation, reqID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed", "conversation_ref", conv.Ref())
			} else {
				slog.Warn("WebSocket read error", "error", err, "conversation_ref", conv.Ref())
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = writeJSON(ctx, ws, serverFrame{Type: frameError, Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "submit":
			// Submit blocks for the whole exchange; progress reaches the
			// client through the subscription.
			go h.submit(ctx, ws, conv, msg.Text, reqID)
		case "reset":
			conv.Reset()
		case "ping":
			if err := writeJSON(ctx, ws, serverFrame{Type: framePong}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		default:
			_ = writeJSON(ctx, ws, serverFrame{Type: frameError, Error: "unknown message type"})
		}
	}
}

func (h *WebSocketHandler) submit(ctx context.Context, ws *websocket.Conn, conv *conversation.Conversation, text, reqID string) {
	dispatchCtx := backend.ContextWithTrace(context.WithoutCancel(ctx), backend.Trace{
		ConversationKey: conv.Key(),
		RequestID:       reqID,
	})

	_, err := conv.Submit(dispatchCtx, text)
	var reason string
	switch {
	case err == nil, errors.Is(err, conversation.ErrDiscarded):
		return
	case errors.Is(err, conversation.ErrEmptyInput):
		reason = "message text is required"
	case errors.Is(err, conversation.ErrInFlight):
		reason = "a request is already in flight"
	default:
		reason = "failed to submit message"
	}
	if ctx.Err() == nil {
		_ = writeJSON(ctx, ws, serverFrame{Type: frameError, Error: reason})
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
