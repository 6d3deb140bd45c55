package api

import (
	"net/http"

	"github.com/ashureev/schoolinfo/internal/backend"
	"github.com/ashureev/schoolinfo/internal/query"
)

// Query forwards an already structured request to the backend, for clients
// that classify on their own. The reply is normalized the same way as in a
// conversation.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := query.ParseIntent(string(req.Type)); err != nil {
		Error(w, http.StatusBadRequest, "Invalid query type")
		return
	}

	out := h.dispatcher.Dispatch(traceContext(r, ""), req)
	if !backend.Succeeded(out) {
		Error(w, http.StatusBadGateway, backend.Normalize(out))
		return
	}
	JSON(w, http.StatusOK, map[string]string{"response": out.Text})
}
