package reports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/ledger/internal/invoices"
	"github.com/odyssey-erp/ledger/internal/ledger"
	"github.com/odyssey-erp/ledger/internal/shared"
)

// LedgerSource reads posted ledger data outside write transactions.
type LedgerSource interface {
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
	PostedLines(ctx context.Context, filter ledger.LineFilter) ([]ledger.PostedLine, error)
}

// BalanceSource lists open sub-ledger balances.
type BalanceSource interface {
	ListBalances(ctx context.Context, side invoices.Side) ([]invoices.Balance, error)
}

// Service assembles read-side reports.
type Service struct {
	ledger   LedgerSource
	balances BalanceSource
}

// NewService constructs the report service.
func NewService(ledger LedgerSource, balances BalanceSource) *Service {
	return &Service{ledger: ledger, balances: balances}
}

// Period bounds a report. OrganizationID narrows to one entity.
type Period struct {
	From           time.Time
	To             time.Time
	OrganizationID *int64
}

// Balances returns per-account opening balance and period movement.
func (s *Service) Balances(ctx context.Context, p Period) ([]AccountBalance, error) {
	if p.To.IsZero() || (!p.From.IsZero() && p.To.Before(p.From)) {
		return nil, shared.Invalid("reports: invalid period")
	}
	var (
		accounts []ledger.Account
		opening  []ledger.PostedLine
		movement []ledger.PostedLine
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		accounts, err = s.ledger.ListAccounts(ctx)
		return err
	})
	if !p.From.IsZero() {
		g.Go(func() error {
			var err error
			opening, err = s.ledger.PostedLines(ctx, ledger.LineFilter{To: p.From.AddDate(0, 0, -1), OrganizationID: p.OrganizationID})
			return err
		})
	}
	g.Go(func() error {
		var err error
		movement, err = s.ledger.PostedLines(ctx, ledger.LineFilter{From: p.From, To: p.To, OrganizationID: p.OrganizationID})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[int64]*AccountBalance, len(accounts))
	out := make([]*AccountBalance, 0, len(accounts))
	for _, acc := range accounts {
		if acc.Node != ledger.NodeChild {
			continue
		}
		row := &AccountBalance{AccountID: acc.ID, Code: acc.Code, Name: acc.Name, Type: acc.Type,
			Opening: decimal.Zero, Debit: decimal.Zero, Credit: decimal.Zero}
		byID[acc.ID] = row
		out = append(out, row)
	}
	for _, l := range opening {
		if row, ok := byID[l.AccountID]; ok {
			row.Opening = row.Opening.Add(l.Debit).Sub(l.Credit)
		}
	}
	for _, l := range movement {
		if row, ok := byID[l.AccountID]; ok {
			row.Debit = row.Debit.Add(l.Debit)
			row.Credit = row.Credit.Add(l.Credit)
		}
	}
	result := make([]AccountBalance, 0, len(out))
	for _, row := range out {
		if row.Opening.IsZero() && row.Debit.IsZero() && row.Credit.IsZero() {
			continue
		}
		result = append(result, *row)
	}
	return result, nil
}

// TrialBalance builds the grouped trial balance for the period.
func (s *Service) TrialBalance(ctx context.Context, p Period) (TrialBalance, error) {
	balances, err := s.Balances(ctx, p)
	if err != nil {
		return TrialBalance{}, err
	}
	return BuildTrialBalance(balances), nil
}

// ProfitAndLoss builds the income statement for the period.
func (s *Service) ProfitAndLoss(ctx context.Context, p Period) (ProfitAndLoss, error) {
	balances, err := s.Balances(ctx, p)
	if err != nil {
		return ProfitAndLoss{}, err
	}
	return BuildProfitAndLoss(balances), nil
}

// BalanceSheet builds the statement of position as of p.To.
func (s *Service) BalanceSheet(ctx context.Context, p Period) (BalanceSheet, error) {
	balances, err := s.Balances(ctx, Period{To: p.To, OrganizationID: p.OrganizationID})
	if err != nil {
		return BalanceSheet{}, err
	}
	return BuildBalanceSheet(balances), nil
}

// AgingReport holds receivable and payable aging side by side.
type AgingReport struct {
	AsOf       time.Time            `json:"as_of"`
	Receivable invoices.AgingBucket `json:"receivable"`
	Payable    invoices.AgingBucket `json:"payable"`
}

// Aging buckets outstanding AR and AP balances as of asOf.
func (s *Service) Aging(ctx context.Context, asOf time.Time) (AgingReport, error) {
	report := AgingReport{AsOf: asOf}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		balances, err := s.balances.ListBalances(ctx, invoices.SideAR)
		if err != nil {
			return err
		}
		report.Receivable = invoices.BucketBalances(balances, asOf)
		return nil
	})
	g.Go(func() error {
		balances, err := s.balances.ListBalances(ctx, invoices.SideAP)
		if err != nil {
			return err
		}
		report.Payable = invoices.BucketBalances(balances, asOf)
		return nil
	})
	if err := g.Wait(); err != nil {
		return AgingReport{}, err
	}
	return report, nil
}
