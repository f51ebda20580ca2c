package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/platform/db"
)

const invoiceColumns = `id, side, number, counterparty_id, currency, exchange_rate, date, due_date, is_posted, is_cancelled,
approval_status, payment_status, gl_journal_id, subtotal, tax_amount, total, paid_at, grn_id, po_id, organization_id,
COALESCE(three_way_match_status, ''), match_variance_amount, match_variance_notes, match_performed_at, created_by, created_at, updated_at`

const paymentColumns = `id, side, number, invoice_id, date, amount, currency, invoice_amount, exchange_rate, bank_account_id,
gl_journal_id, reversal_journal_id, reconciled, created_by, created_at`

// PgRepository persists invoices and payments.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

func (r *PgRepository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return getInvoice(ctx, r.pool, id, false)
}

func (r *PgRepository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return getPayment(ctx, r.pool, id, false)
}

func (r *PgRepository) ListBalances(ctx context.Context, side Side) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.side, i.number, i.counterparty_id, i.due_date, i.total, COALESCE(SUM(a.amount), 0)
FROM invoices i
LEFT JOIN payment_allocations a ON a.invoice_id = i.id
WHERE i.side=$1 AND i.is_posted AND NOT i.is_cancelled
GROUP BY i.id
ORDER BY i.due_date, i.id`, string(side))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.InvoiceID, &b.Side, &b.Number, &b.CounterpartyID, &b.DueDate, &b.Total, &b.Paid); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type txRepository struct {
	q db.Querier
}

// NewTxRepository binds invoice persistence to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{q: tx}
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	return getInvoice(ctx, r.q, id, true)
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO invoices (side, number, counterparty_id, currency, exchange_rate, date, due_date,
approval_status, payment_status, subtotal, tax_amount, total, grn_id, po_id, organization_id, created_by, created_at, updated_at)
VALUES ($1, COALESCE(NULLIF($2,''), $1 || '-' || lpad(nextval('invoice_number_seq')::text, 6, '0')),
$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)
RETURNING id, number`,
		string(inv.Side), inv.Number, inv.CounterpartyID, inv.Currency, inv.ExchangeRate, inv.Date, inv.DueDate,
		string(inv.ApprovalStatus), string(inv.PaymentStatus), inv.Subtotal, inv.TaxAmount, inv.Total,
		inv.GRNID, inv.POID, inv.OrganizationID, inv.CreatedBy, inv.CreatedAt).Scan(&inv.ID, &inv.Number)
	if err != nil {
		return Invoice{}, err
	}
	inv.UpdatedAt = inv.CreatedAt
	if err := r.insertItems(ctx, &inv); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func (r *txRepository) insertItems(ctx context.Context, inv *Invoice) error {
	for idx := range inv.Items {
		item := &inv.Items[idx]
		item.InvoiceID = inv.ID
		if err := r.q.QueryRow(ctx, `INSERT INTO invoice_items (invoice_id, line_no, description, quantity, unit_price, tax_rate)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, inv.ID, idx+1, item.Description, item.Quantity, item.UnitPrice, item.TaxRate).Scan(&item.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) ReplaceInvoice(ctx context.Context, inv Invoice) error {
	_, err := r.q.Exec(ctx, `UPDATE invoices SET currency=$2, exchange_rate=$3, date=$4, due_date=$5,
subtotal=$6, tax_amount=$7, total=$8, updated_at=$9 WHERE id=$1`,
		inv.ID, inv.Currency, inv.ExchangeRate, inv.Date, inv.DueDate, inv.Subtotal, inv.TaxAmount, inv.Total, inv.UpdatedAt)
	if err != nil {
		return err
	}
	if _, err := r.q.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id=$1`, inv.ID); err != nil {
		return err
	}
	return r.insertItems(ctx, &inv)
}

func (r *txRepository) DeleteInvoice(ctx context.Context, id int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM invoices WHERE id=$1 AND NOT is_posted`, id)
	return err
}

func (r *txRepository) UpdateApproval(ctx context.Context, id int64, status ApprovalStatus) error {
	return r.exec(ctx, ErrInvoiceNotFound, `UPDATE invoices SET approval_status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
}

func (r *txRepository) MarkInvoicePosted(ctx context.Context, id, journalID int64) error {
	return r.exec(ctx, ErrInvoiceNotFound, `UPDATE invoices SET is_posted=true, gl_journal_id=$2, updated_at=NOW() WHERE id=$1`, id, journalID)
}

func (r *txRepository) MarkInvoiceCancelled(ctx context.Context, id int64) error {
	return r.exec(ctx, ErrInvoiceNotFound, `UPDATE invoices SET is_cancelled=true, updated_at=NOW() WHERE id=$1`, id)
}

func (r *txRepository) UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus, paidAt *time.Time) error {
	return r.exec(ctx, ErrInvoiceNotFound, `UPDATE invoices SET payment_status=$2, paid_at=$3, updated_at=NOW() WHERE id=$1`, id, string(status), paidAt)
}

func (r *txRepository) SaveMatchResult(ctx context.Context, id int64, result MatchResult) error {
	return r.exec(ctx, ErrInvoiceNotFound, `UPDATE invoices SET three_way_match_status=$2, match_variance_amount=$3, match_variance_notes=$4,
match_performed_at=$5, updated_at=NOW() WHERE id=$1`, id, string(result.Status), result.VarianceAmount, result.Notes, result.PerformedAt)
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO payments (side, number, invoice_id, date, amount, currency, invoice_amount, exchange_rate, bank_account_id, created_by, created_at)
VALUES ($1, COALESCE(NULLIF($2,''), $1 || '-PAY-' || lpad(nextval('payment_number_seq')::text, 6, '0')), $3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id, number`,
		string(p.Side), p.Number, p.InvoiceID, p.Date, p.Amount, p.Currency, p.InvoiceAmount, p.ExchangeRate, p.BankAccountID, p.CreatedBy, p.CreatedAt).
		Scan(&p.ID, &p.Number)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (r *txRepository) GetPaymentForUpdate(ctx context.Context, id int64) (Payment, error) {
	return getPayment(ctx, r.q, id, true)
}

func (r *txRepository) MarkPaymentPosted(ctx context.Context, id, journalID int64) error {
	return r.exec(ctx, ErrPaymentNotFound, `UPDATE payments SET gl_journal_id=$2 WHERE id=$1`, id, journalID)
}

func (r *txRepository) MarkPaymentReversed(ctx context.Context, id, journalID int64) error {
	return r.exec(ctx, ErrPaymentNotFound, `UPDATE payments SET reversal_journal_id=$2 WHERE id=$1`, id, journalID)
}

func (r *txRepository) InsertAllocation(ctx context.Context, a Allocation) (Allocation, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO payment_allocations (payment_id, invoice_id, amount, created_at)
VALUES ($1,$2,$3,$4) RETURNING id`, a.PaymentID, a.InvoiceID, a.Amount, a.CreatedAt).Scan(&a.ID)
	if err != nil {
		return Allocation{}, err
	}
	return a, nil
}

func (r *txRepository) DeleteAllocations(ctx context.Context, paymentID int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM payment_allocations WHERE payment_id=$1`, paymentID)
	return err
}

func (r *txRepository) SumAllocations(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payment_allocations WHERE invoice_id=$1`, invoiceID).Scan(&sum)
	return sum, err
}

func (r *txRepository) exec(ctx context.Context, notFound error, sql string, args ...any) error {
	cmd, err := r.q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

func getInvoice(ctx context.Context, q db.Querier, id int64, lock bool) (Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	var inv Invoice
	var matchStatus string
	var notes *string
	err := q.QueryRow(ctx, query, id).Scan(&inv.ID, &inv.Side, &inv.Number, &inv.CounterpartyID, &inv.Currency, &inv.ExchangeRate,
		&inv.Date, &inv.DueDate, &inv.IsPosted, &inv.IsCancelled, &inv.ApprovalStatus, &inv.PaymentStatus, &inv.GLJournalID,
		&inv.Subtotal, &inv.TaxAmount, &inv.Total, &inv.PaidAt, &inv.GRNID, &inv.POID, &inv.OrganizationID,
		&matchStatus, &inv.Match.VarianceAmount, &notes, &inv.Match.PerformedAt, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	inv.Match.Status = MatchStatus(matchStatus)
	if notes != nil {
		inv.Match.Notes = *notes
	}
	rows, err := q.Query(ctx, `SELECT id, invoice_id, description, quantity, unit_price, tax_rate
FROM invoice_items WHERE invoice_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Description, &it.Quantity, &it.UnitPrice, &it.TaxRate); err != nil {
			return Invoice{}, err
		}
		inv.Items = append(inv.Items, it)
	}
	return inv, rows.Err()
}

func getPayment(ctx context.Context, q db.Querier, id int64, lock bool) (Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	var p Payment
	err := q.QueryRow(ctx, query, id).Scan(&p.ID, &p.Side, &p.Number, &p.InvoiceID, &p.Date, &p.Amount, &p.Currency,
		&p.InvoiceAmount, &p.ExchangeRate, &p.BankAccountID, &p.GLJournalID, &p.ReversalJournalID, &p.Reconciled, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	return p, nil
}
