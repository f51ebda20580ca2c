package api

import (
	"net/http"

	"github.com/odyssey-erp/ledger/internal/platform/httpx"
)

func (h *Handler) performThreeWayMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.services.Match.PerformThreeWayMatch(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMatchView(result))
}
