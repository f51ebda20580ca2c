package corptax

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/ledger"
	"github.com/odyssey-erp/ledger/internal/platform/db"
)

const filingColumns = `id, country_code, period_start, period_end, organization_id, status, income, expense, profit,
tax_rate, tax_amount, accrual_journal_id, reversal_journal_id, filed_at, reversed_at, created_by, created_at`

// PgRepository persists filings and tax rates.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// WithTx binds filing and ledger persistence to one transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, Tx{Filings: &txRepository{q: tx}, Ledger: ledger.NewTxRepository(tx)})
	})
}

func (r *PgRepository) GetFiling(ctx context.Context, id int64) (Filing, error) {
	return getFiling(ctx, r.pool, id, false)
}

// RateFor returns the rate whose validity window covers the whole period.
func (r *PgRepository) RateFor(ctx context.Context, country string, start, end time.Time) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT rate FROM corporate_tax_rates
WHERE country_code=$1 AND valid_from <= $2 AND (valid_to IS NULL OR valid_to >= $3)
ORDER BY valid_from DESC LIMIT 1`, country, start, end).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrTaxRateNotFound
	}
	return rate, err
}

type txRepository struct {
	q db.Querier
}

func (r *txRepository) ListFilingsForUpdate(ctx context.Context, country string, start, end time.Time, orgID *int64) ([]Filing, error) {
	rows, err := r.q.Query(ctx, `SELECT `+filingColumns+` FROM corporate_tax_filings
WHERE country_code=$1 AND period_start=$2 AND period_end=$3 AND organization_id IS NOT DISTINCT FROM $4
ORDER BY id DESC FOR UPDATE`, country, start, end, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Filing
	for rows.Next() {
		f, err := scanFiling(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *txRepository) GetFilingForUpdate(ctx context.Context, id int64) (Filing, error) {
	return getFiling(ctx, r.q, id, true)
}

func (r *txRepository) InsertFiling(ctx context.Context, f Filing) (Filing, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO corporate_tax_filings (country_code, period_start, period_end, organization_id,
status, income, expense, profit, tax_rate, tax_amount, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		f.Country, f.PeriodStart, f.PeriodEnd, f.OrganizationID, string(f.Status), f.Income, f.Expense, f.Profit,
		f.TaxRate, f.TaxAmount, f.CreatedBy, f.CreatedAt).Scan(&f.ID)
	if db.IsUniqueViolation(err, "uq_corptax_filings") {
		return Filing{}, ErrDuplicateFiling
	}
	return f, err
}

func (r *txRepository) UpdateFiling(ctx context.Context, f Filing) error {
	tag, err := r.q.Exec(ctx, `UPDATE corporate_tax_filings SET status=$2, accrual_journal_id=$3, reversal_journal_id=$4,
filed_at=$5, reversed_at=$6 WHERE id=$1`, f.ID, string(f.Status), f.AccrualJournalID, f.ReversalJournalID, f.FiledAt, f.ReversedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFilingNotFound
	}
	return nil
}

func getFiling(ctx context.Context, q db.Querier, id int64, lock bool) (Filing, error) {
	sql := `SELECT ` + filingColumns + ` FROM corporate_tax_filings WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	f, err := scanFiling(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Filing{}, ErrFilingNotFound
	}
	return f, err
}

func scanFiling(row pgx.Row) (Filing, error) {
	var f Filing
	var status string
	err := row.Scan(&f.ID, &f.Country, &f.PeriodStart, &f.PeriodEnd, &f.OrganizationID, &status, &f.Income, &f.Expense,
		&f.Profit, &f.TaxRate, &f.TaxAmount, &f.AccrualJournalID, &f.ReversalJournalID, &f.FiledAt, &f.ReversedAt,
		&f.CreatedBy, &f.CreatedAt)
	f.Status = Status(status)
	return f, err
}
