package api

import (
	"net/http"
	"strings"

	"github.com/odyssey-erp/ledger/internal/fx"
	"github.com/odyssey-erp/ledger/internal/platform/httpx"
	"github.com/odyssey-erp/ledger/internal/shared"
)

type rateResponse struct {
	From string `json:"from"`
	To   string `json:"to"`
	Date string `json:"date"`
	Type string `json:"type"`
	Rate string `json:"rate"`
}

type convertRequest struct {
	Amount string `json:"amount" validate:"required,numeric"`
	From   string `json:"from" validate:"required,len=3,alpha"`
	To     string `json:"to" validate:"required,len=3,alpha"`
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Type   string `json:"type" validate:"omitempty,oneof=SPOT AVERAGE FIXED CLOSING"`
}

type convertResponse struct {
	Amount    string `json:"amount"`
	Converted string `json:"converted"`
	From      string `json:"from"`
	To        string `json:"to"`
}

type upsertRateRequest struct {
	From   string `json:"from" validate:"required,len=3,alpha"`
	To     string `json:"to" validate:"required,len=3,alpha"`
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Type   string `json:"type" validate:"required,oneof=SPOT AVERAGE FIXED CLOSING"`
	Rate   string `json:"rate" validate:"required,numeric"`
	Source string `json:"source" validate:"max=64"`
}

func rateType(raw string) fx.RateType {
	if raw == "" {
		return fx.RateSpot
	}
	return fx.RateType(strings.ToUpper(raw))
}

func (h *Handler) getExchangeRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := strings.ToUpper(q.Get("from")), strings.ToUpper(q.Get("to"))
	if from == "" || to == "" {
		h.fail(w, r, shared.Invalid("from and to are required"))
		return
	}
	date, err := parseDate(q.Get("date"), "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	typ := rateType(q.Get("type"))
	if !typ.Valid() {
		h.fail(w, r, shared.Invalid("unknown rate type %q", q.Get("type")))
		return
	}
	rate, err := h.services.FX.GetRate(r.Context(), from, to, date, typ)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rateResponse{From: from, To: to, Date: date.Format(dateLayout), Type: string(typ), Rate: rate.String()})
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	amt, err := parseAmount(req.Amount, "amount")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	from, to := strings.ToUpper(req.From), strings.ToUpper(req.To)
	converted, err := h.services.FX.Convert(r.Context(), amt, from, to, date, rateType(req.Type))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, convertResponse{Amount: amt.String(), Converted: amount(converted), From: from, To: to})
}

func (h *Handler) upsertExchangeRate(w http.ResponseWriter, r *http.Request) {
	var req upsertRateRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rate, err := parseAmount(req.Rate, "rate")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	saved, err := h.services.FX.UpsertRate(r.Context(), fx.ExchangeRate{
		From:     strings.ToUpper(req.From),
		To:       strings.ToUpper(req.To),
		RateDate: date,
		Rate:     rate,
		Type:     rateType(req.Type),
		Source:   req.Source,
		IsActive: true,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rateResponse{
		From: saved.From,
		To:   saved.To,
		Date: saved.RateDate.Format(dateLayout),
		Type: string(saved.Type),
		Rate: saved.Rate.String(),
	})
}
