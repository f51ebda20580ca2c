package assets

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledger/internal/ledger"
	"github.com/odyssey-erp/ledger/internal/platform/db"
)

const assetColumns = `id, code, name, category_id, acquisition_cost, salvage_value, useful_life_years, depreciation_method,
depreciation_start_date, status, total_depreciation, net_book_value, last_depreciation_date, asset_account_id,
accumulated_depreciation_account_id, depreciation_expense_account_id, capitalization_journal_id, disposal_journal_id,
organization_id, source_type, source_document_id, source_line_id, created_at, updated_at`

const scheduleColumns = `asset_id, period_date, depreciation_amount, accumulated_depreciation, net_book_value, is_posted, journal_id`

// PgRepository persists assets and depreciation schedules.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// WithTx binds asset and ledger persistence to one transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, Tx{Assets: &txRepository{q: tx}, Ledger: ledger.NewTxRepository(tx)})
	})
}

func (r *PgRepository) GetAsset(ctx context.Context, id int64) (Asset, error) {
	return getAsset(ctx, r.pool, id, false)
}

func (r *PgRepository) ListSchedule(ctx context.Context, assetID int64) ([]ScheduleRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM depreciation_schedules WHERE asset_id=$1 ORDER BY period_date`, assetID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func (r *PgRepository) ListAssetsDue(ctx context.Context, period time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT s.asset_id FROM depreciation_schedules s
JOIN fixed_assets a ON a.id = s.asset_id
WHERE a.status='CAPITALIZED' AND NOT s.is_posted AND date_trunc('month', s.period_date) = date_trunc('month', $1::date)
ORDER BY s.asset_id`, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type txRepository struct {
	q db.Querier
}

func (r *txRepository) InsertAsset(ctx context.Context, a Asset) (Asset, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO fixed_assets (code, name, category_id, acquisition_cost, salvage_value,
useful_life_years, depreciation_method, depreciation_start_date, status, total_depreciation, net_book_value,
asset_account_id, accumulated_depreciation_account_id, depreciation_expense_account_id, organization_id,
source_type, source_document_id, source_line_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20) RETURNING id`,
		a.Code, a.Name, a.CategoryID, a.AcquisitionCost, a.SalvageValue, a.UsefulLifeYears, string(a.Method),
		a.DepreciationStartDate, string(a.Status), a.TotalDepreciation, a.NetBookValue, a.AssetAccountID,
		a.AccumulatedDepreciationAccount, a.DepreciationExpenseAccount, a.OrganizationID, string(a.SourceType),
		a.SourceDocumentID, a.SourceLineID, a.CreatedAt, a.UpdatedAt).Scan(&a.ID)
	if db.IsUniqueViolation(err, "uq_asset_sources") {
		return Asset{}, ErrDuplicateSource
	}
	return a, err
}

func (r *txRepository) GetAssetForUpdate(ctx context.Context, id int64) (Asset, error) {
	return getAsset(ctx, r.q, id, true)
}

func (r *txRepository) UpdateAsset(ctx context.Context, a Asset) error {
	tag, err := r.q.Exec(ctx, `UPDATE fixed_assets SET acquisition_cost=$2, salvage_value=$3, useful_life_years=$4,
depreciation_start_date=$5, status=$6, total_depreciation=$7, net_book_value=$8, last_depreciation_date=$9,
capitalization_journal_id=$10, disposal_journal_id=$11, updated_at=$12 WHERE id=$1`,
		a.ID, a.AcquisitionCost, a.SalvageValue, a.UsefulLifeYears, a.DepreciationStartDate, string(a.Status),
		a.TotalDepreciation, a.NetBookValue, a.LastDepreciationDate, a.CapitalizationJournalID, a.DisposalJournalID, a.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAssetNotFound
	}
	return nil
}

func (r *txRepository) InsertScheduleRows(ctx context.Context, rows []ScheduleRow) (int, error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`INSERT INTO depreciation_schedules (`+scheduleColumns+`)
VALUES ($1,$2,$3,$4,$5,FALSE,NULL)
ON CONFLICT ON CONSTRAINT uq_depreciation_schedule DO NOTHING`,
			row.AssetID, row.PeriodDate, row.Amount, row.Accumulated, row.NetBook)
	}
	results := r.q.SendBatch(ctx, batch)
	defer results.Close()
	created := 0
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			return created, err
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

func (r *txRepository) ListUnpostedRows(ctx context.Context, assetID int64, period time.Time) ([]ScheduleRow, error) {
	rows, err := r.q.Query(ctx, `SELECT `+scheduleColumns+` FROM depreciation_schedules
WHERE asset_id=$1 AND NOT is_posted AND date_trunc('month', period_date) = date_trunc('month', $2::date)
ORDER BY period_date FOR UPDATE`, assetID, period)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func (r *txRepository) MarkRowPosted(ctx context.Context, assetID int64, period time.Time, journalID int64) error {
	_, err := r.q.Exec(ctx, `UPDATE depreciation_schedules SET is_posted=TRUE, journal_id=$3
WHERE asset_id=$1 AND period_date=$2`, assetID, period, journalID)
	return err
}

func (r *txRepository) DeleteUnpostedRows(ctx context.Context, assetID int64, after time.Time) error {
	_, err := r.q.Exec(ctx, `DELETE FROM depreciation_schedules WHERE asset_id=$1 AND NOT is_posted AND period_date >= $2`, assetID, after)
	return err
}

func getAsset(ctx context.Context, q db.Querier, id int64, lock bool) (Asset, error) {
	sql := `SELECT ` + assetColumns + ` FROM fixed_assets WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var a Asset
	var method, status, source string
	err := q.QueryRow(ctx, sql, id).Scan(&a.ID, &a.Code, &a.Name, &a.CategoryID, &a.AcquisitionCost, &a.SalvageValue,
		&a.UsefulLifeYears, &method, &a.DepreciationStartDate, &status, &a.TotalDepreciation, &a.NetBookValue,
		&a.LastDepreciationDate, &a.AssetAccountID, &a.AccumulatedDepreciationAccount, &a.DepreciationExpenseAccount,
		&a.CapitalizationJournalID, &a.DisposalJournalID, &a.OrganizationID, &source, &a.SourceDocumentID,
		&a.SourceLineID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Asset{}, ErrAssetNotFound
	}
	if err != nil {
		return Asset{}, err
	}
	a.Method, a.Status, a.SourceType = Method(method), Status(status), SourceType(source)
	return a, nil
}

func collectRows(rows pgx.Rows) ([]ScheduleRow, error) {
	defer rows.Close()
	var out []ScheduleRow
	for rows.Next() {
		var row ScheduleRow
		if err := rows.Scan(&row.AssetID, &row.PeriodDate, &row.Amount, &row.Accumulated, &row.NetBook, &row.IsPosted, &row.JournalID); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
