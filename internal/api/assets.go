package api

import (
	"net/http"

	"github.com/odyssey-erp/ledger/internal/assets"
	"github.com/odyssey-erp/ledger/internal/platform/httpx"
	"github.com/odyssey-erp/ledger/internal/shared"
)

type depreciationRequest struct {
	Period string `json:"period" validate:"required,datetime=2006-01"`
}

type capitalizeRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type disposeRequest struct {
	Date              string `json:"date" validate:"required,datetime=2006-01-02"`
	Proceeds          string `json:"proceeds" validate:"omitempty,numeric"`
	DisposalCosts     string `json:"disposal_costs" validate:"omitempty,numeric"`
	ProceedsAccountID int64  `json:"proceeds_account_id" validate:"omitempty,gt=0"`
}

type generateResponse struct {
	Created int `json:"created"`
}

func (h *Handler) getAsset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	asset, err := h.services.Assets.GetAsset(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAssetView(asset))
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows, err := h.services.Assets.Schedule(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toScheduleView(rows))
}

func (h *Handler) generateDepreciationSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.services.Assets.GenerateSchedule(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, generateResponse{Created: created})
}

func (h *Handler) postMonthlyDepreciation(w http.ResponseWriter, r *http.Request) {
	var req depreciationRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := parseDate(req.Period+"-01", "period")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.services.Assets.PostMonthlyDepreciation(r.Context(), period, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) capitalizeAsset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req capitalizeRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date := h.now()
	if req.Date != "" {
		if date, err = parseDate(req.Date, "date"); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	asset, err := h.services.Assets.Capitalize(r.Context(), assets.CapitalizeInput{
		AssetID: id,
		Date:    date,
		ActorID: shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAssetView(asset))
}

func (h *Handler) disposeAsset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req disposeRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	proceeds, err := parseAmount(req.Proceeds, "proceeds")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	costs, err := parseAmount(req.DisposalCosts, "disposal_costs")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	asset, err := h.services.Assets.Dispose(r.Context(), assets.DisposeInput{
		AssetID:           id,
		Date:              date,
		Proceeds:          proceeds,
		DisposalCosts:     costs,
		ProceedsAccountID: req.ProceedsAccountID,
		ActorID:           shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAssetView(asset))
}
