package corptax

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/fx"
	"github.com/odyssey-erp/ledger/internal/ledger"
	"github.com/odyssey-erp/ledger/internal/money"
	"github.com/odyssey-erp/ledger/internal/posting"
	"github.com/odyssey-erp/ledger/internal/shared"
)

const sourceModule = "CORPTAX"

// TxRepository persists filings inside a transaction.
type TxRepository interface {
	// ListFilingsForUpdate returns every filing of the period, newest first.
	ListFilingsForUpdate(ctx context.Context, country string, start, end time.Time, orgID *int64) ([]Filing, error)
	GetFilingForUpdate(ctx context.Context, id int64) (Filing, error)
	InsertFiling(ctx context.Context, f Filing) (Filing, error)
	UpdateFiling(ctx context.Context, f Filing) error
}

// Tx groups the repositories bound to one transaction.
type Tx struct {
	Filings TxRepository
	Ledger  ledger.TxRepository
}

// RepositoryPort opens transactions.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	GetFiling(ctx context.Context, id int64) (Filing, error)
}

// RateLookup resolves the statutory rate, in percent, valid for a period.
type RateLookup interface {
	RateFor(ctx context.Context, country string, start, end time.Time) (decimal.Decimal, error)
}

// CurrencySource yields the reporting currency of the accrual journal.
type CurrencySource interface {
	BaseCurrency(ctx context.Context) (fx.Currency, error)
}

// Accounts names the account mappings for the accrual journal.
type Accounts struct {
	TaxExpense posting.MappingKey
	TaxPayable posting.MappingKey
}

// DefaultAccounts returns the seeded mapping keys.
func DefaultAccounts() Accounts {
	return Accounts{
		TaxExpense: posting.MappingKey{Module: "CORPTAX", Key: "corptax.expense"},
		TaxPayable: posting.MappingKey{Module: "CORPTAX", Key: "corptax.payable"},
	}
}

// Service drives the filing state machine.
type Service struct {
	repo     RepositoryPort
	rates    RateLookup
	currency CurrencySource
	policy   Policy
	accounts Accounts
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the service.
func NewService(repo RepositoryPort, rates RateLookup, currency CurrencySource, policy Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, rates: rates, currency: currency, policy: policy, accounts: DefaultAccounts(), logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Accrue computes tax on the period's posted profit and books the accrual.
func (s *Service) Accrue(ctx context.Context, in AccrueInput) (Filing, error) {
	country := strings.ToUpper(strings.TrimSpace(in.Country))
	if len(country) < 2 || len(country) > 3 {
		return Filing{}, shared.Invalid("corptax: country code required")
	}
	if in.PeriodStart.IsZero() || in.PeriodEnd.IsZero() || in.PeriodEnd.Before(in.PeriodStart) {
		return Filing{}, shared.Invalid("corptax: invalid period")
	}
	var filing Filing
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		existing, err := tx.Filings.ListFilingsForUpdate(ctx, country, in.PeriodStart, in.PeriodEnd, in.OrganizationID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			if !in.AllowOverride {
				return shared.WithState(ErrDuplicateFiling, string(existing[0].Status))
			}
			for _, prior := range existing {
				if !prior.Live() {
					continue
				}
				if err := s.supersede(ctx, tx, prior, in.ActorID); err != nil {
					return err
				}
			}
		}

		lines, err := tx.Ledger.ListPostedLines(ctx, ledger.LineFilter{
			From:           in.PeriodStart,
			To:             in.PeriodEnd,
			Types:          []ledger.AccountType{ledger.AccountTypeIncome, ledger.AccountTypeExpense},
			OrganizationID: in.OrganizationID,
		})
		if err != nil {
			return err
		}
		income, expense := decimal.Zero, decimal.Zero
		for _, l := range lines {
			switch l.AccountType {
			case ledger.AccountTypeIncome:
				income = income.Add(l.Credit).Sub(l.Debit)
			case ledger.AccountTypeExpense:
				expense = expense.Add(l.Debit).Sub(l.Credit)
			}
		}
		profit := income.Sub(expense)
		rate, err := s.rates.RateFor(ctx, country, in.PeriodStart, in.PeriodEnd)
		if err != nil {
			return err
		}
		tax := decimal.Zero
		if profit.IsPositive() {
			tax = money.Quantize2(profit.Mul(money.Pct(rate)))
		}

		filing, err = tx.Filings.InsertFiling(ctx, Filing{
			Country:        country,
			PeriodStart:    in.PeriodStart,
			PeriodEnd:      in.PeriodEnd,
			OrganizationID: in.OrganizationID,
			Status:         StatusAccrued,
			Income:         income,
			Expense:        expense,
			Profit:         profit,
			TaxRate:        rate,
			TaxAmount:      tax,
			CreatedBy:      in.ActorID,
			CreatedAt:      s.now(),
		})
		if err != nil {
			return err
		}
		if !tax.IsPositive() {
			return nil
		}
		base, err := s.currency.BaseCurrency(ctx)
		if err != nil {
			return err
		}
		expenseAcct, err := posting.Resolve(ctx, tx.Ledger, s.accounts.TaxExpense)
		if err != nil {
			return err
		}
		payableAcct, err := posting.Resolve(ctx, tx.Ledger, s.accounts.TaxPayable)
		if err != nil {
			return err
		}
		entry, err := ledger.Post(ctx, tx.Ledger, ledger.PostingInput{
			Date:           in.PeriodEnd,
			Currency:       base.Code,
			SourceModule:   sourceModule,
			SourceID:       uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("CORPTAX:%d", filing.ID))),
			Memo:           fmt.Sprintf("Corporate tax %s %s..%s", country, in.PeriodStart.Format("2006-01-02"), in.PeriodEnd.Format("2006-01-02")),
			OrganizationID: in.OrganizationID,
			ActorID:        in.ActorID,
			Lines: []ledger.PostingLineInput{
				{AccountID: expenseAcct, Debit: tax},
				{AccountID: payableAcct, Credit: tax},
			},
		})
		if err != nil {
			return err
		}
		filing.AccrualJournalID = &entry.ID
		return tx.Filings.UpdateFiling(ctx, filing)
	})
	if err != nil {
		return Filing{}, err
	}
	s.logger.Info("corporate tax accrued",
		slog.Int64("filing_id", filing.ID),
		slog.String("country", filing.Country),
		slog.String("profit", filing.Profit.StringFixed(2)),
		slog.String("tax", filing.TaxAmount.StringFixed(2)))
	return filing, nil
}

// File marks an accrued filing as filed with the authority.
func (s *Service) File(ctx context.Context, id int64) (Filing, error) {
	var filing Filing
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		f, err := tx.Filings.GetFilingForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if f.Status != StatusAccrued {
			return shared.WithState(ErrInvalidTransition, string(f.Status))
		}
		now := s.now()
		f.Status = StatusFiled
		f.FiledAt = &now
		if err := tx.Filings.UpdateFiling(ctx, f); err != nil {
			return err
		}
		filing = f
		return nil
	})
	return filing, err
}

// ReverseFiling reverses the accrual journal and marks the filing REVERSED.
func (s *Service) ReverseFiling(ctx context.Context, id, actorID int64) (Filing, error) {
	var filing Filing
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		f, err := tx.Filings.GetFilingForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.reverse(ctx, tx, f, actorID); err != nil {
			return err
		}
		filing, err = tx.Filings.GetFilingForUpdate(ctx, id)
		return err
	})
	return filing, err
}

// GetFiling loads a filing.
func (s *Service) GetFiling(ctx context.Context, id int64) (Filing, error) {
	return s.repo.GetFiling(ctx, id)
}

// supersede retires a live filing ahead of a recomputation. A filing that
// accrued nothing has no journal to reverse and is only marked REVERSED.
func (s *Service) supersede(ctx context.Context, tx Tx, f Filing, actorID int64) error {
	if f.AccrualJournalID != nil {
		return s.reverse(ctx, tx, f, actorID)
	}
	if f.Status == StatusFiled && s.policy.LockFiled {
		return shared.WithState(ErrCannotReverse, "FILED/LOCKED")
	}
	now := s.now()
	f.Status = StatusReversed
	f.ReversedAt = &now
	return tx.Filings.UpdateFiling(ctx, f)
}

func (s *Service) reverse(ctx context.Context, tx Tx, f Filing, actorID int64) error {
	switch {
	case f.Status == StatusReversed || f.ReversalJournalID != nil:
		return shared.WithState(ErrCannotReverse, string(f.Status))
	case f.Status == StatusFiled && s.policy.LockFiled:
		return shared.WithState(ErrCannotReverse, "FILED/LOCKED")
	case f.AccrualJournalID == nil:
		return shared.WithState(ErrCannotReverse, string(f.Status)+"/NO_ACCRUAL")
	}
	entry, err := ledger.Reverse(ctx, tx.Ledger, ledger.ReverseInput{
		EntryID: *f.AccrualJournalID,
		ActorID: actorID,
		Memo:    fmt.Sprintf("corporate tax filing %d reversed", f.ID),
	})
	if err != nil {
		return err
	}
	now := s.now()
	f.Status = StatusReversed
	f.ReversalJournalID = &entry.ID
	f.ReversedAt = &now
	return tx.Filings.UpdateFiling(ctx, f)
}
