package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/schoolinfo/internal/conversation"
	"github.com/ashureev/schoolinfo/internal/domain"
)

// messageRequest is the body of POST /api/conversation/messages.
type messageRequest struct {
	Text string `json:"text"`
}

// messageResponse is the snapshot after a submission plus its reply.
type messageResponse struct {
	conversation.Snapshot
	Reply     *domain.Message `json:"reply,omitempty"`
	Discarded bool            `json:"discarded,omitempty"`
}

// GetConversation returns the caller's conversation.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.conversationFor(r).Snapshot())
}

// PostMessage submits one user message and waits for the assistant reply.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv := h.conversationFor(r)
	reply, err := conv.Submit(traceContext(r, conv.Key()), req.Text)
	switch {
	case errors.Is(err, conversation.ErrEmptyInput):
		Error(w, http.StatusBadRequest, "message text is required")
		return
	case errors.Is(err, conversation.ErrInFlight):
		Error(w, http.StatusConflict, "a request is already in flight")
		return
	case errors.Is(err, conversation.ErrDiscarded):
		slog.Info("Reply discarded after reset", "conversation_ref", conv.Ref())
		JSON(w, http.StatusOK, messageResponse{Snapshot: conv.Snapshot(), Discarded: true})
		return
	case err != nil:
		slog.Error("Submit failed", "error", err, "conversation_ref", conv.Ref())
		Error(w, http.StatusInternalServerError, "failed to submit message")
		return
	}

	JSON(w, http.StatusOK, messageResponse{Snapshot: conv.Snapshot(), Reply: reply})
}

// ResetConversation starts the caller's conversation over.
func (h *Handler) ResetConversation(w http.ResponseWriter, r *http.Request) {
	conv := h.conversationFor(r)
	snap := conv.Reset()
	slog.Info("Conversation reset", "conversation_ref", conv.Ref())
	JSON(w, http.StatusOK, snap)
}
