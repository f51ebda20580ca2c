package posting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/fx"
	"github.com/odyssey-erp/ledger/internal/invoices"
	"github.com/odyssey-erp/ledger/internal/ledger"
	"github.com/odyssey-erp/ledger/internal/money"
	"github.com/odyssey-erp/ledger/internal/shared"
)

// Tx groups the repositories bound to one transaction.
type Tx struct {
	Invoices invoices.TxRepository
	Ledger   ledger.TxRepository
}

// RepositoryPort opens transactions spanning invoices and ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// RateProvider resolves exchange rates into the base currency.
type RateProvider interface {
	GetRate(ctx context.Context, from, to string, date time.Time, typ fx.RateType) (decimal.Decimal, error)
	BaseCurrency(ctx context.Context) (fx.Currency, error)
}

// AuditPort records posting events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Engine posts invoices and payments into the general ledger.
type Engine struct {
	repo     RepositoryPort
	rates    RateProvider
	accounts AccountTable
	locker   *RedisLocker
	audit    AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises the engine.
type Option func(*Engine)

// WithLocker enables the Redis advisory document lock.
func WithLocker(l *RedisLocker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithAudit records successful postings.
func WithAudit(a AuditPort) Option {
	return func(e *Engine) { e.audit = a }
}

// WithAccountTable overrides the mapping keys.
func WithAccountTable(t AccountTable) Option {
	return func(e *Engine) { e.accounts = t }
}

// WithClock overrides the clock for testing.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs the posting engine.
func NewEngine(repo RepositoryPort, rates RateProvider, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		repo:     repo,
		rates:    rates,
		accounts: DefaultAccountTable(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PostDocument posts ref once. When the document already carries a journal
// the existing entry is returned with Created false.
func (e *Engine) PostDocument(ctx context.Context, ref DocumentRef) (Result, error) {
	if !ref.Kind.Valid() || ref.ID == 0 {
		return Result{}, shared.Invalid("posting: unknown document %s/%d", ref.Kind, ref.ID)
	}
	release, err := e.locker.Acquire(ctx, shared.DocumentLockKey(string(ref.Kind), ref.ID))
	if err != nil {
		return Result{}, err
	}
	defer release()

	var res Result
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if ref.Kind.IsPayment() {
			res, err = e.postPayment(ctx, tx, ref)
		} else {
			res, err = e.postInvoice(ctx, tx, ref)
		}
		return err
	})
	if err != nil {
		e.logger.Warn("post document failed", slog.String("kind", string(ref.Kind)), slog.Int64("id", ref.ID), slog.Any("error", err))
		return Result{}, err
	}
	if res.Created {
		e.record(ctx, shared.AuditDocumentPost, ref, res.Entry.ID)
		e.logger.Info("document posted", slog.String("kind", string(ref.Kind)), slog.Int64("id", ref.ID), slog.Int64("journal_id", res.Entry.ID))
	}
	return res, nil
}

func (e *Engine) postInvoice(ctx context.Context, tx Tx, ref DocumentRef) (Result, error) {
	inv, err := tx.Invoices.GetInvoiceForUpdate(ctx, ref.ID)
	if err != nil {
		return Result{}, err
	}
	if inv.Side != ref.Kind.Side() {
		return Result{}, shared.Invalid("posting: invoice %d is %s, not %s", inv.ID, inv.Side, ref.Kind)
	}
	if inv.GLJournalID != nil {
		return existing(ctx, tx, *inv.GLJournalID)
	}
	if inv.IsCancelled {
		return Result{}, shared.WithState(invoices.ErrInvoiceCancelled, string(inv.ApprovalStatus))
	}
	if inv.ApprovalStatus != invoices.ApprovalApproved {
		return Result{}, shared.WithState(ErrNotApproved, string(inv.ApprovalStatus))
	}
	base, err := e.rates.BaseCurrency(ctx)
	if err != nil {
		return Result{}, err
	}
	rate, err := e.rateFor(ctx, inv.Currency, base.Code, inv.Date, inv.ExchangeRate)
	if err != nil {
		return Result{}, err
	}
	total := money.Quantize2(inv.Total.Mul(rate))
	subtotal := money.Quantize2(inv.Subtotal.Mul(rate))
	tax := total.Sub(subtotal)

	var lines []ledger.PostingLineInput
	if inv.Side == invoices.SideAR {
		receivable, revenue, taxOut, err := e.resolve3(ctx, tx.Ledger, e.accounts.Receivable, e.accounts.Revenue, e.accounts.TaxOutput)
		if err != nil {
			return Result{}, err
		}
		lines = AppendLine(lines, receivable, total, decimal.Zero)
		lines = AppendLine(lines, revenue, decimal.Zero, subtotal)
		lines = AppendLine(lines, taxOut, decimal.Zero, tax)
	} else {
		expense, taxIn, payable, err := e.resolve3(ctx, tx.Ledger, e.accounts.Expense, e.accounts.TaxInput, e.accounts.Payable)
		if err != nil {
			return Result{}, err
		}
		lines = AppendLine(lines, expense, subtotal, decimal.Zero)
		lines = AppendLine(lines, taxIn, tax, decimal.Zero)
		lines = AppendLine(lines, payable, decimal.Zero, total)
	}
	entry, err := ledger.Post(ctx, tx.Ledger, ledger.PostingInput{
		Date:           inv.Date,
		Currency:       base.Code,
		SourceModule:   string(ref.Kind),
		SourceID:       ref.SourceID(),
		Memo:           fmt.Sprintf("%s invoice %s", inv.Side, inv.Number),
		OrganizationID: inv.OrganizationID,
		ActorID:        shared.ActorFromContext(ctx),
		Lines:          lines,
	})
	if err != nil {
		return Result{}, err
	}
	if err := tx.Invoices.MarkInvoicePosted(ctx, inv.ID, entry.ID); err != nil {
		return Result{}, err
	}
	return Result{Entry: entry, Created: true}, nil
}

func (e *Engine) postPayment(ctx context.Context, tx Tx, ref DocumentRef) (Result, error) {
	p, err := tx.Invoices.GetPaymentForUpdate(ctx, ref.ID)
	if err != nil {
		return Result{}, err
	}
	if p.Side != ref.Kind.Side() {
		return Result{}, shared.Invalid("posting: payment %d is %s, not %s", p.ID, p.Side, ref.Kind)
	}
	if p.GLJournalID != nil {
		return existing(ctx, tx, *p.GLJournalID)
	}
	inv, err := tx.Invoices.GetInvoiceForUpdate(ctx, p.InvoiceID)
	if err != nil {
		return Result{}, err
	}
	if !inv.IsPosted || inv.GLJournalID == nil {
		return Result{}, shared.WithState(invoices.ErrInvoiceNotPosted, string(inv.ApprovalStatus))
	}
	applied, err := p.SettledAmount(inv.Currency)
	if err != nil {
		return Result{}, err
	}
	base, err := e.rates.BaseCurrency(ctx)
	if err != nil {
		return Result{}, err
	}
	invoiceRate, err := e.rateFor(ctx, inv.Currency, base.Code, inv.Date, inv.ExchangeRate)
	if err != nil {
		return Result{}, err
	}
	payCurrency := p.Currency
	if payCurrency == "" {
		payCurrency = inv.Currency
	}
	paymentRate, err := e.rateFor(ctx, payCurrency, base.Code, p.Date, p.ExchangeRate)
	if err != nil {
		return Result{}, err
	}
	carried := money.Quantize2(applied.Mul(invoiceRate))
	settled := money.Quantize2(p.Amount.Mul(paymentRate))
	lines, err := e.paymentLines(ctx, tx.Ledger, inv.Side, p.BankAccountID, carried, settled)
	if err != nil {
		return Result{}, err
	}
	entry, err := ledger.Post(ctx, tx.Ledger, ledger.PostingInput{
		Date:           p.Date,
		Currency:       base.Code,
		SourceModule:   string(ref.Kind),
		SourceID:       ref.SourceID(),
		Memo:           fmt.Sprintf("%s payment %s for invoice %s", p.Side, p.Number, inv.Number),
		OrganizationID: inv.OrganizationID,
		ActorID:        shared.ActorFromContext(ctx),
		Lines:          lines,
	})
	if err != nil {
		return Result{}, err
	}
	if err := tx.Invoices.MarkPaymentPosted(ctx, p.ID, entry.ID); err != nil {
		return Result{}, err
	}
	closed, err := invoices.Allocate(ctx, tx.Invoices, p, e.now())
	if err != nil {
		return Result{}, err
	}
	return Result{Entry: entry, Created: true, InvoiceClosed: closed}, nil
}

// paymentLines builds the bank and control account legs. carried is the
// settled amount at the invoice rate, settled at the payment rate; their
// difference is the realized FX result.
func (e *Engine) paymentLines(ctx context.Context, tx ledger.TxRepository, side invoices.Side, bankID int64, carried, settled decimal.Decimal) ([]ledger.PostingLineInput, error) {
	diff := settled.Sub(carried)
	var lines []ledger.PostingLineInput
	if side == invoices.SideAR {
		receivable, err := Resolve(ctx, tx, e.accounts.Receivable)
		if err != nil {
			return nil, err
		}
		lines = AppendLine(lines, bankID, settled, decimal.Zero)
		lines = AppendLine(lines, receivable, decimal.Zero, carried)
		switch diff.Sign() {
		case 1:
			gain, err := Resolve(ctx, tx, e.accounts.RealizedGain)
			if err != nil {
				return nil, err
			}
			lines = AppendLine(lines, gain, decimal.Zero, diff)
		case -1:
			loss, err := Resolve(ctx, tx, e.accounts.RealizedLoss)
			if err != nil {
				return nil, err
			}
			lines = AppendLine(lines, loss, diff.Neg(), decimal.Zero)
		}
		return lines, nil
	}
	payable, err := Resolve(ctx, tx, e.accounts.Payable)
	if err != nil {
		return nil, err
	}
	lines = AppendLine(lines, payable, carried, decimal.Zero)
	lines = AppendLine(lines, bankID, decimal.Zero, settled)
	switch diff.Sign() {
	case 1:
		loss, err := Resolve(ctx, tx, e.accounts.RealizedLoss)
		if err != nil {
			return nil, err
		}
		lines = AppendLine(lines, loss, diff, decimal.Zero)
	case -1:
		gain, err := Resolve(ctx, tx, e.accounts.RealizedGain)
		if err != nil {
			return nil, err
		}
		lines = AppendLine(lines, gain, decimal.Zero, diff.Neg())
	}
	return lines, nil
}

// ReversePayment reverses a posted payment journal and removes its allocation.
func (e *Engine) ReversePayment(ctx context.Context, paymentID int64, memo string) (ledger.JournalEntry, error) {
	var reversal ledger.JournalEntry
	kind := KindARPayment
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.Invoices.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Side == invoices.SideAP {
			kind = KindAPPayment
		}
		if !p.Posted() {
			state := "UNPOSTED"
			if p.ReversalJournalID != nil {
				state = "REVERSED"
			}
			return shared.WithState(ErrPaymentNotPosted, state)
		}
		reversal, err = ledger.Reverse(ctx, tx.Ledger, ledger.ReverseInput{
			EntryID: *p.GLJournalID,
			ActorID: shared.ActorFromContext(ctx),
			Memo:    memo,
		})
		if err != nil {
			return err
		}
		if err := tx.Invoices.MarkPaymentReversed(ctx, p.ID, reversal.ID); err != nil {
			return err
		}
		return invoices.Unallocate(ctx, tx.Invoices, p, e.now())
	})
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	e.record(ctx, shared.AuditPaymentReverse, DocumentRef{Kind: kind, ID: paymentID}, reversal.ID)
	return reversal, nil
}

// CancelInvoice cancels an invoice. A posted invoice is undone by reversing
// its journal and may not have payments applied.
func (e *Engine) CancelInvoice(ctx context.Context, invoiceID int64, memo string) (*ledger.JournalEntry, error) {
	var reversal *ledger.JournalEntry
	kind := KindARInvoice
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		inv, err := tx.Invoices.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Side == invoices.SideAP {
			kind = KindAPInvoice
		}
		if inv.IsCancelled {
			return shared.WithState(invoices.ErrInvoiceCancelled, "CANCELLED")
		}
		if inv.GLJournalID != nil {
			allocated, err := tx.Invoices.SumAllocations(ctx, inv.ID)
			if err != nil {
				return err
			}
			if allocated.IsPositive() {
				return shared.WithState(invoices.ErrHasAllocations, string(inv.PaymentStatus))
			}
			entry, err := ledger.Reverse(ctx, tx.Ledger, ledger.ReverseInput{
				EntryID: *inv.GLJournalID,
				ActorID: shared.ActorFromContext(ctx),
				Memo:    memo,
			})
			if err != nil {
				return err
			}
			reversal = &entry
		}
		return tx.Invoices.MarkInvoiceCancelled(ctx, inv.ID)
	})
	if err != nil {
		return nil, err
	}
	if reversal != nil {
		e.record(ctx, shared.AuditInvoiceCancel, DocumentRef{Kind: kind, ID: invoiceID}, reversal.ID)
	}
	return reversal, nil
}

func (e *Engine) rateFor(ctx context.Context, from, base string, date time.Time, explicit decimal.Decimal) (decimal.Decimal, error) {
	if from == base {
		return decimal.NewFromInt(1), nil
	}
	if explicit.IsPositive() {
		return explicit, nil
	}
	return e.rates.GetRate(ctx, from, base, date, fx.RateSpot)
}

func (e *Engine) resolve3(ctx context.Context, tx ledger.TxRepository, a, b, c MappingKey) (int64, int64, int64, error) {
	ids := make([]int64, 3)
	for i, key := range []MappingKey{a, b, c} {
		id, err := Resolve(ctx, tx, key)
		if err != nil {
			return 0, 0, 0, err
		}
		ids[i] = id
	}
	return ids[0], ids[1], ids[2], nil
}

func (e *Engine) record(ctx context.Context, action shared.AuditAction, ref DocumentRef, journalID int64) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   string(ref.Kind),
		EntityID: ref.ID,
		Meta:     map[string]any{"journal_id": journalID},
		At:       e.now(),
	}); err != nil {
		e.logger.Warn("audit record failed", slog.String("action", string(action)), slog.Any("error", err))
	}
}

func existing(ctx context.Context, tx Tx, journalID int64) (Result, error) {
	entry, lines, err := tx.Ledger.GetJournalWithLines(ctx, journalID)
	if err != nil {
		return Result{}, err
	}
	entry.Lines = lines
	return Result{Entry: entry, Created: false}, nil
}

// Resolve returns the account mapped to key within tx.
func Resolve(ctx context.Context, tx ledger.TxRepository, key MappingKey) (int64, error) {
	return tx.ResolveMapping(ctx, key.Module, key.Key)
}

// AppendLine adds a leg to lines, skipping zero amounts.
func AppendLine(lines []ledger.PostingLineInput, accountID int64, debit, credit decimal.Decimal) []ledger.PostingLineInput {
	if debit.IsZero() && credit.IsZero() {
		return lines
	}
	return append(lines, ledger.PostingLineInput{AccountID: accountID, Debit: debit, Credit: credit})
}
