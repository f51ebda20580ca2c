package api

import (
	"net/http"

	"github.com/odyssey-erp/ledger/internal/corptax"
	"github.com/odyssey-erp/ledger/internal/platform/httpx"
	"github.com/odyssey-erp/ledger/internal/shared"
)

type accrueRequest struct {
	Country       string `json:"country" validate:"required,min=2,max=3,alpha"`
	PeriodStart   string `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd     string `json:"period_end" validate:"required,datetime=2006-01-02"`
	AllowOverride bool   `json:"allow_override"`
}

func (h *Handler) accrueCorporateTax(w http.ResponseWriter, r *http.Request) {
	var req accrueRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	start, err := parseDate(req.PeriodStart, "period_start")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	end, err := parseDate(req.PeriodEnd, "period_end")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filing, err := h.services.CorpTax.Accrue(r.Context(), corptax.AccrueInput{
		Country:        req.Country,
		PeriodStart:    start,
		PeriodEnd:      end,
		OrganizationID: shared.OrganizationFromContext(r.Context()),
		AllowOverride:  req.AllowOverride,
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toFilingView(filing))
}

func (h *Handler) getFiling(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filing, err := h.services.CorpTax.GetFiling(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toFilingView(filing))
}

func (h *Handler) fileCorporateTax(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filing, err := h.services.CorpTax.File(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toFilingView(filing))
}

func (h *Handler) reverseCorporateTaxFiling(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filing, err := h.services.CorpTax.ReverseFiling(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toFilingView(filing))
}
