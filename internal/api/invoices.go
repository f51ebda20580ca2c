package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/invoices"
	"github.com/odyssey-erp/ledger/internal/platform/httpx"
	"github.com/odyssey-erp/ledger/internal/shared"
)

type itemRequest struct {
	Description string `json:"description" validate:"required,max=255"`
	Quantity    string `json:"quantity" validate:"required,numeric"`
	UnitPrice   string `json:"unit_price" validate:"required,numeric"`
	TaxRate     string `json:"tax_rate" validate:"omitempty,numeric"`
}

type createInvoiceRequest struct {
	Side           string        `json:"side" validate:"required,oneof=AR AP"`
	Number         string        `json:"number" validate:"max=64"`
	CounterpartyID int64         `json:"counterparty_id" validate:"required,gt=0"`
	Currency       string        `json:"currency" validate:"required,len=3,alpha"`
	ExchangeRate   string        `json:"exchange_rate" validate:"omitempty,numeric"`
	Date           string        `json:"date" validate:"required,datetime=2006-01-02"`
	DueDate        string        `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	GRNID          *int64        `json:"grn_id" validate:"omitempty,gt=0"`
	POID           *int64        `json:"po_id" validate:"omitempty,gt=0"`
	Items          []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type rejectRequest struct {
	Note string `json:"note" validate:"max=500"`
}

type paymentRequest struct {
	Number        string `json:"number" validate:"max=64"`
	Date          string `json:"date" validate:"required,datetime=2006-01-02"`
	Amount        string `json:"amount" validate:"required,numeric"`
	Currency      string `json:"currency" validate:"omitempty,len=3,alpha"`
	ExchangeRate  string `json:"exchange_rate" validate:"omitempty,numeric"`
	BankAccountID int64  `json:"bank_account_id" validate:"required,gt=0"`
}

type itemView struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	TaxRate     string `json:"tax_rate"`
	Total       string `json:"total"`
}

type invoiceView struct {
	ID             int64      `json:"id"`
	Side           string     `json:"side"`
	Number         string     `json:"number"`
	CounterpartyID int64      `json:"counterparty_id"`
	Currency       string     `json:"currency"`
	Date           string     `json:"date"`
	DueDate        string     `json:"due_date"`
	ApprovalStatus string     `json:"approval_status"`
	PaymentStatus  string     `json:"payment_status"`
	Posted         bool       `json:"posted"`
	Cancelled      bool       `json:"cancelled"`
	GLJournalID    *int64     `json:"gl_journal_id,omitempty"`
	Subtotal       string     `json:"subtotal"`
	TaxAmount      string     `json:"tax_amount"`
	Total          string     `json:"total"`
	Match          *matchView `json:"match,omitempty"`
	Items          []itemView `json:"items"`
}

type paymentView struct {
	ID                int64  `json:"id"`
	Side              string `json:"side"`
	Number            string `json:"number"`
	InvoiceID         int64  `json:"invoice_id"`
	Date              string `json:"date"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	InvoiceAmount     string `json:"invoice_amount"`
	BankAccountID     int64  `json:"bank_account_id"`
	GLJournalID       *int64 `json:"gl_journal_id,omitempty"`
	ReversalJournalID *int64 `json:"reversal_journal_id,omitempty"`
}

func toInvoiceView(inv invoices.Invoice) invoiceView {
	v := invoiceView{
		ID:             inv.ID,
		Side:           string(inv.Side),
		Number:         inv.Number,
		CounterpartyID: inv.CounterpartyID,
		Currency:       inv.Currency,
		Date:           inv.Date.Format(dateLayout),
		DueDate:        inv.DueDate.Format(dateLayout),
		ApprovalStatus: string(inv.ApprovalStatus),
		PaymentStatus:  string(inv.PaymentStatus),
		Posted:         inv.IsPosted,
		Cancelled:      inv.IsCancelled,
		GLJournalID:    inv.GLJournalID,
		Subtotal:       amount(inv.Subtotal),
		TaxAmount:      amount(inv.TaxAmount),
		Total:          amount(inv.Total),
		Items:          make([]itemView, 0, len(inv.Items)),
	}
	if inv.Match.Status != "" {
		m := toMatchView(inv.Match)
		v.Match = &m
	}
	for _, it := range inv.Items {
		v.Items = append(v.Items, itemView{
			ID:          it.ID,
			Description: it.Description,
			Quantity:    it.Quantity.String(),
			UnitPrice:   it.UnitPrice.String(),
			TaxRate:     it.TaxRate.String(),
			Total:       amount(it.Total()),
		})
	}
	return v
}

func toPaymentView(p invoices.Payment) paymentView {
	return paymentView{
		ID:                p.ID,
		Side:              string(p.Side),
		Number:            p.Number,
		InvoiceID:         p.InvoiceID,
		Date:              p.Date.Format(dateLayout),
		Amount:            amount(p.Amount),
		Currency:          p.Currency,
		InvoiceAmount:     amount(p.InvoiceAmount),
		BankAccountID:     p.BankAccountID,
		GLJournalID:       p.GLJournalID,
		ReversalJournalID: p.ReversalJournalID,
	}
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	input.OrganizationID = shared.OrganizationFromContext(r.Context())
	input.CreatedBy = shared.ActorFromContext(r.Context())
	inv, err := h.services.Invoices.CreateInvoice(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toInvoiceView(inv))
}

func (req createInvoiceRequest) toInput() (invoices.CreateInput, error) {
	date, err := parseDate(req.Date, "date")
	if err != nil {
		return invoices.CreateInput{}, err
	}
	var due time.Time
	if req.DueDate != "" {
		if due, err = parseDate(req.DueDate, "due_date"); err != nil {
			return invoices.CreateInput{}, err
		}
	}
	rate, err := parseAmount(req.ExchangeRate, "exchange_rate")
	if err != nil {
		return invoices.CreateInput{}, err
	}
	items := make([]invoices.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		qty, err := decimal.NewFromString(it.Quantity)
		if err != nil {
			return invoices.CreateInput{}, shared.Invalid("quantity must be a decimal")
		}
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return invoices.CreateInput{}, shared.Invalid("unit_price must be a decimal")
		}
		taxRate, err := parseAmount(it.TaxRate, "tax_rate")
		if err != nil {
			return invoices.CreateInput{}, err
		}
		items = append(items, invoices.ItemInput{Description: it.Description, Quantity: qty, UnitPrice: price, TaxRate: taxRate})
	}
	return invoices.CreateInput{
		Side:           invoices.Side(req.Side),
		Number:         req.Number,
		CounterpartyID: req.CounterpartyID,
		Currency:       req.Currency,
		ExchangeRate:   rate,
		Date:           date,
		DueDate:        due,
		GRNID:          req.GRNID,
		POID:           req.POID,
		Items:          items,
	}, nil
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.services.Invoices.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceView(inv))
}

// transitionInvoice runs one approval step and responds with the updated invoice.
func (h *Handler) transitionInvoice(apply func(svc InvoiceService, r *http.Request, id, actorID int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if err := apply(h.services.Invoices, r, id, shared.ActorFromContext(r.Context())); err != nil {
			h.fail(w, r, err)
			return
		}
		inv, err := h.services.Invoices.GetInvoice(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toInvoiceView(inv))
	}
}

func (h *Handler) rejectInvoice(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.transitionInvoice(func(svc InvoiceService, r *http.Request, id, actorID int64) error {
		return svc.Reject(r.Context(), id, actorID, req.Note)
	})(w, r)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req paymentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amt, err := parseAmount(req.Amount, "amount")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rate, err := parseAmount(req.ExchangeRate, "exchange_rate")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	payment, err := h.services.Invoices.RecordPayment(r.Context(), invoices.PaymentInput{
		InvoiceID:     id,
		Number:        req.Number,
		Date:          date,
		Amount:        amt,
		Currency:      req.Currency,
		ExchangeRate:  rate,
		BankAccountID: req.BankAccountID,
		CreatedBy:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPaymentView(payment))
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	payment, err := h.services.Invoices.GetPayment(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPaymentView(payment))
}
