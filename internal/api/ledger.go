package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/ledger/internal/ledger"
	"github.com/odyssey-erp/ledger/internal/platform/httpx"
	"github.com/odyssey-erp/ledger/internal/posting"
	"github.com/odyssey-erp/ledger/internal/shared"
)

type reverseRequest struct {
	Memo string `json:"memo" validate:"max=255"`
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type postDocumentResponse struct {
	Journal       journalView `json:"journal"`
	Created       bool        `json:"created"`
	InvoiceClosed bool        `json:"invoice_closed"`
}

func (h *Handler) getJournal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.services.Journals.GetJournal(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toJournalView(entry))
}

func (h *Handler) reverseJournal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reverseRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	target, err := parseOptionalDate(req.Date, "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.services.Journals.ReverseJournal(r.Context(), ledger.ReverseInput{
		EntryID:    id,
		ActorID:    shared.ActorFromContext(r.Context()),
		Memo:       req.Memo,
		TargetDate: target,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toJournalView(entry))
}

func (h *Handler) postDocument(w http.ResponseWriter, r *http.Request) {
	kind := posting.DocumentKind(strings.ToUpper(chi.URLParam(r, "kind")))
	if !kind.Valid() {
		h.fail(w, r, shared.Invalid("unknown document kind %q", chi.URLParam(r, "kind")))
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.services.Posting.PostDocument(r.Context(), posting.DocumentRef{Kind: kind, ID: id})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, postDocumentResponse{
		Journal:       toJournalView(result.Entry),
		Created:       result.Created,
		InvoiceClosed: result.InvoiceClosed,
	})
}

func (h *Handler) reversePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reverseRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.services.Posting.ReversePayment(r.Context(), id, req.Memo)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toJournalView(entry))
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reverseRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.services.Posting.CancelInvoice(r.Context(), id, req.Memo)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entry == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.JSON(w, http.StatusOK, toJournalView(*entry))
}
