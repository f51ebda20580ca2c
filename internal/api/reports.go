package api

import (
	"net/http"

	"github.com/odyssey-erp/ledger/internal/platform/httpx"
	"github.com/odyssey-erp/ledger/internal/reports"
	"github.com/odyssey-erp/ledger/internal/shared"
)

type trialBalanceResponse struct {
	reports.TrialBalance
	Balanced bool `json:"balanced"`
}

func (h *Handler) period(r *http.Request) (reports.Period, error) {
	q := r.URL.Query()
	from, err := parseDate(q.Get("from"), "from")
	if err != nil {
		return reports.Period{}, err
	}
	to, err := parseDate(q.Get("to"), "to")
	if err != nil {
		return reports.Period{}, err
	}
	return reports.Period{From: from, To: to, OrganizationID: shared.OrganizationFromContext(r.Context())}, nil
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	p, err := h.period(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tb, err := h.services.Reports.TrialBalance(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, trialBalanceResponse{TrialBalance: tb, Balanced: tb.Balanced()})
}

func (h *Handler) profitAndLoss(w http.ResponseWriter, r *http.Request) {
	p, err := h.period(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pl, err := h.services.Reports.ProfitAndLoss(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pl)
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	p, err := h.period(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bs, err := h.services.Reports.BalanceSheet(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bs)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	asOf := h.now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		var err error
		if asOf, err = parseDate(raw, "as_of"); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	report, err := h.services.Reports.Aging(r.Context(), asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAgingView(report))
}
