// Package api exposes the ledger operations as JSON endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/assets"
	"github.com/odyssey-erp/ledger/internal/corptax"
	"github.com/odyssey-erp/ledger/internal/fx"
	"github.com/odyssey-erp/ledger/internal/invoices"
	"github.com/odyssey-erp/ledger/internal/ledger"
	"github.com/odyssey-erp/ledger/internal/platform/httpx"
	"github.com/odyssey-erp/ledger/internal/posting"
	"github.com/odyssey-erp/ledger/internal/reports"
	"github.com/odyssey-erp/ledger/internal/shared"
)

const dateLayout = "2006-01-02"

// JournalService reads and reverses journal entries.
type JournalService interface {
	GetJournal(ctx context.Context, id int64) (ledger.JournalEntry, error)
	ReverseJournal(ctx context.Context, input ledger.ReverseInput) (ledger.JournalEntry, error)
}

// InvoiceService manages AR/AP documents up to posting.
type InvoiceService interface {
	CreateInvoice(ctx context.Context, input invoices.CreateInput) (invoices.Invoice, error)
	GetInvoice(ctx context.Context, id int64) (invoices.Invoice, error)
	Submit(ctx context.Context, id, actorID int64) error
	Approve(ctx context.Context, id, actorID int64) error
	Reject(ctx context.Context, id, actorID int64, note string) error
	RecordPayment(ctx context.Context, input invoices.PaymentInput) (invoices.Payment, error)
	GetPayment(ctx context.Context, id int64) (invoices.Payment, error)
}

// PostingService posts sub-ledger documents.
type PostingService interface {
	PostDocument(ctx context.Context, ref posting.DocumentRef) (posting.Result, error)
	ReversePayment(ctx context.Context, paymentID int64, memo string) (ledger.JournalEntry, error)
	CancelInvoice(ctx context.Context, invoiceID int64, memo string) (*ledger.JournalEntry, error)
}

// CorpTaxService drives corporate tax filings.
type CorpTaxService interface {
	Accrue(ctx context.Context, in corptax.AccrueInput) (corptax.Filing, error)
	File(ctx context.Context, id int64) (corptax.Filing, error)
	ReverseFiling(ctx context.Context, id, actorID int64) (corptax.Filing, error)
	GetFiling(ctx context.Context, id int64) (corptax.Filing, error)
}

// AssetService runs the depreciation engine.
type AssetService interface {
	GetAsset(ctx context.Context, id int64) (assets.Asset, error)
	Schedule(ctx context.Context, assetID int64) ([]assets.ScheduleRow, error)
	GenerateSchedule(ctx context.Context, assetID int64) (int, error)
	PostMonthlyDepreciation(ctx context.Context, period time.Time, actorID int64) (assets.BatchResult, error)
	Capitalize(ctx context.Context, in assets.CapitalizeInput) (assets.Asset, error)
	Dispose(ctx context.Context, in assets.DisposeInput) (assets.Asset, error)
}

// MatchService runs the 3-way match.
type MatchService interface {
	PerformThreeWayMatch(ctx context.Context, invoiceID int64) (invoices.MatchResult, error)
}

// FXService quotes and converts currencies.
type FXService interface {
	GetRate(ctx context.Context, from, to string, date time.Time, typ fx.RateType) (decimal.Decimal, error)
	Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time, typ fx.RateType) (decimal.Decimal, error)
	UpsertRate(ctx context.Context, rate fx.ExchangeRate) (fx.ExchangeRate, error)
}

// ReportService builds read-side reports.
type ReportService interface {
	TrialBalance(ctx context.Context, p reports.Period) (reports.TrialBalance, error)
	ProfitAndLoss(ctx context.Context, p reports.Period) (reports.ProfitAndLoss, error)
	BalanceSheet(ctx context.Context, p reports.Period) (reports.BalanceSheet, error)
	Aging(ctx context.Context, asOf time.Time) (reports.AgingReport, error)
}

// Services groups the handler dependencies. Nil services leave their routes unmounted.
type Services struct {
	Journals JournalService
	Invoices InvoiceService
	Posting  PostingService
	CorpTax  CorpTaxService
	Assets   AssetService
	Match    MatchService
	FX       FXService
	Reports  ReportService
}

// Handler wires the JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	services  Services
	validator *validator.Validate
	now       func() time.Time
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, services Services) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, services: services, validator: validator.New(), now: time.Now}
}

// MountRoutes registers every mounted service under r.
func (h *Handler) MountRoutes(r chi.Router) {
	if h.services.Journals != nil {
		r.Get("/journals/{id}", h.getJournal)
		r.Post("/journals/{id}/reverse", h.reverseJournal)
	}
	if h.services.Invoices != nil {
		r.Post("/invoices", h.createInvoice)
		r.Get("/invoices/{id}", h.getInvoice)
		r.Post("/invoices/{id}/submit", h.transitionInvoice(func(svc InvoiceService, r *http.Request, id, actorID int64) error {
			return svc.Submit(r.Context(), id, actorID)
		}))
		r.Post("/invoices/{id}/approve", h.transitionInvoice(func(svc InvoiceService, r *http.Request, id, actorID int64) error {
			return svc.Approve(r.Context(), id, actorID)
		}))
		r.Post("/invoices/{id}/reject", h.rejectInvoice)
		r.Post("/invoices/{id}/payments", h.recordPayment)
		r.Get("/payments/{id}", h.getPayment)
	}
	if h.services.Posting != nil {
		r.Post("/documents/{kind}/{id}/post", h.postDocument)
		r.Post("/payments/{id}/reverse", h.reversePayment)
		r.Post("/invoices/{id}/cancel", h.cancelInvoice)
	}
	if h.services.CorpTax != nil {
		r.Route("/corptax/filings", func(r chi.Router) {
			r.Post("/", h.accrueCorporateTax)
			r.Get("/{id}", h.getFiling)
			r.Post("/{id}/file", h.fileCorporateTax)
			r.Post("/{id}/reverse", h.reverseCorporateTaxFiling)
		})
	}
	if h.services.Assets != nil {
		r.Route("/assets", func(r chi.Router) {
			r.Post("/depreciation", h.postMonthlyDepreciation)
			r.Get("/{id}", h.getAsset)
			r.Get("/{id}/schedule", h.getSchedule)
			r.Post("/{id}/schedule", h.generateDepreciationSchedule)
			r.Post("/{id}/capitalize", h.capitalizeAsset)
			r.Post("/{id}/dispose", h.disposeAsset)
		})
	}
	if h.services.Match != nil {
		r.Post("/invoices/{id}/match", h.performThreeWayMatch)
	}
	if h.services.FX != nil {
		r.Route("/fx", func(r chi.Router) {
			r.Get("/rates", h.getExchangeRate)
			r.Put("/rates", h.upsertExchangeRate)
			r.Post("/convert", h.convert)
		})
	}
	if h.services.Reports != nil {
		r.Route("/reports", func(r chi.Router) {
			r.Get("/trial-balance", h.trialBalance)
			r.Get("/profit-and-loss", h.profitAndLoss)
			r.Get("/balance-sheet", h.balanceSheet)
			r.Get("/aging", h.aging)
		})
	}
}

// decode reads and validates a JSON body.
func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return shared.Invalid("%s", strings.Join(msgs, "; "))
		}
		return shared.Invalid("%v", err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrNotFound) &&
		!errors.Is(err, shared.ErrStateConflict) && !errors.Is(err, httpx.ErrMalformedBody) {
		h.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Invalid("id must be a positive integer")
	}
	return id, nil
}

func parseDate(raw, field string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, shared.Invalid("%s must be YYYY-MM-DD", field)
	}
	return t, nil
}

func parseOptionalDate(raw, field string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := parseDate(raw, field)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseAmount(raw, field string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, shared.Invalid("%s must be a decimal", field)
	}
	return d, nil
}
