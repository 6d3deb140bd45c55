package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/schoolinfo/internal/domain"
	"github.com/ashureev/schoolinfo/internal/store"
)

const (
	healthTimeout = 2 * time.Second
	countsWindow  = 24 * time.Hour
)

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"transport":                h.dispatcher.Transport(),
		"welcome":                  domain.WelcomeText,
		"conversation_ttl_seconds": int64(h.cfg.ConversationTTL.Seconds()),
	})
}

// Health reports database connectivity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	body := map[string]any{
		"status":        "ok",
		"database":      "ok",
		"transport":     h.dispatcher.Transport(),
		"conversations": h.registry.Len(),
	}
	if err := h.repo.Ping(ctx); err != nil {
		slog.Warn("Health check failed", "error", err)
		body["status"] = "degraded"
		body["database"] = err.Error()
		JSON(w, http.StatusServiceUnavailable, body)
		return
	}
	JSON(w, http.StatusOK, body)
}

// ListDispatches returns recent dispatch records and per-outcome counts for
// the last day.
func (h *Handler) ListDispatches(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	ctx := r.Context()
	records, err := h.repo.RecentDispatches(ctx, limit)
	if err != nil {
		slog.Error("Failed to list dispatches", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list dispatches")
		return
	}
	counts, err := h.repo.OutcomeCounts(ctx, time.Now().Add(-countsWindow))
	if err != nil {
		slog.Error("Failed to count dispatch outcomes", "error", err)
		Error(w, http.StatusInternalServerError, "failed to count dispatches")
		return
	}
	if records == nil {
		records = []*domain.DispatchRecord{}
	}

	JSON(w, http.StatusOK, map[string]any{
		"dispatches": records,
		"counts":     counts,
	})
}
