package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/platform/db"
)

const (
	constraintJournalSource    = "uq_journal_source"
	constraintJournalReversals = "uq_journal_reversals"
)

// Repository persists ledger entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	q db.Querier
}

// NewTxRepository binds ledger persistence to an open transaction so other
// modules can post journals atomically with their own writes.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{q: tx}
}

func (r *txRepository) GetAccounts(ctx context.Context, ids []int64) (map[int64]Account, error) {
	rows, err := r.q.Query(ctx, `SELECT id, code, name, type, node, parent_id, is_active FROM accounts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Account, len(ids))
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.Node, &a.ParentID, &a.IsActive); err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (r *txRepository) ListSegmentTypes(ctx context.Context) ([]SegmentType, error) {
	rows, err := r.q.Query(ctx, `SELECT id, code, required, active FROM segment_types ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SegmentType
	for rows.Next() {
		var t SegmentType
		if err := rows.Scan(&t.ID, &t.Code, &t.Required, &t.Active); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *txRepository) GetSegmentValues(ctx context.Context, ids []int64) (map[int64]SegmentValue, error) {
	rows, err := r.q.Query(ctx, `SELECT id, segment_type_id, code, is_leaf FROM segment_values WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]SegmentValue, len(ids))
	for rows.Next() {
		var v SegmentValue
		if err := rows.Scan(&v.ID, &v.TypeID, &v.Code, &v.IsLeaf); err != nil {
			return nil, err
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}

func (r *txRepository) ResolveMapping(ctx context.Context, module, key string) (int64, error) {
	return resolveMapping(ctx, r.q, module, key)
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, in PostingInput) (JournalEntry, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO journal_entries (date, currency, memo, posted, organization_id, source_module, source_id, reversal_of, posted_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, number, created_at`,
		in.Date, in.Currency, in.Memo, !in.Draft, in.OrganizationID, in.SourceModule, in.SourceID, in.ReversalOf, nullInt(in.ActorID))
	entry := JournalEntry{
		Date:           in.Date,
		Currency:       in.Currency,
		Memo:           in.Memo,
		Posted:         !in.Draft,
		OrganizationID: in.OrganizationID,
		SourceModule:   in.SourceModule,
		SourceID:       in.SourceID,
		ReversalOf:     in.ReversalOf,
	}
	if err := row.Scan(&entry.ID, &entry.Number, &entry.CreatedAt); err != nil {
		switch {
		case db.IsUniqueViolation(err, constraintJournalReversals):
			return JournalEntry{}, ErrAlreadyReversed
		case db.IsUniqueViolation(err, constraintJournalSource):
			return JournalEntry{}, ErrSourceAlreadyLinked
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []PostingLineInput) ([]JournalLine, error) {
	out := make([]JournalLine, 0, len(lines))
	for idx, line := range lines {
		var id int64
		if err := r.q.QueryRow(ctx, `INSERT INTO journal_lines (je_id, line_no, account_id, debit, credit)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, entryID, idx+1, line.AccountID, line.Debit, line.Credit).Scan(&id); err != nil {
			return nil, err
		}
		for pos, tag := range line.Segments {
			if _, err := r.q.Exec(ctx, `INSERT INTO journal_line_segments (line_id, position, segment_type_id, segment_value_id)
VALUES ($1,$2,$3,$4)`, id, pos+1, tag.TypeID, tag.ValueID); err != nil {
				return nil, err
			}
		}
		out = append(out, JournalLine{
			ID:        id,
			EntryID:   entryID,
			AccountID: line.AccountID,
			Debit:     line.Debit,
			Credit:    line.Credit,
			Segments:  line.Segments,
		})
	}
	return out, nil
}

func (r *txRepository) GetJournalWithLines(ctx context.Context, entryID int64) (JournalEntry, []JournalLine, error) {
	var entry JournalEntry
	err := r.q.QueryRow(ctx, `SELECT id, number, date, currency, memo, posted, organization_id, source_module, source_id, reversal_of, created_at
FROM journal_entries WHERE id=$1 FOR UPDATE`, entryID).
		Scan(&entry.ID, &entry.Number, &entry.Date, &entry.Currency, &entry.Memo, &entry.Posted, &entry.OrganizationID, &entry.SourceModule, &entry.SourceID, &entry.ReversalOf, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, nil, ErrJournalNotFound
		}
		return JournalEntry{}, nil, err
	}
	rows, err := r.q.Query(ctx, `SELECT id, je_id, account_id, debit, credit FROM journal_lines WHERE je_id=$1 ORDER BY line_no ASC`, entryID)
	if err != nil {
		return JournalEntry{}, nil, err
	}
	var lines []JournalLine
	index := make(map[int64]int)
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Debit, &line.Credit); err != nil {
			rows.Close()
			return JournalEntry{}, nil, err
		}
		index[line.ID] = len(lines)
		lines = append(lines, line)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return JournalEntry{}, nil, err
	}
	segRows, err := r.q.Query(ctx, `SELECT s.line_id, s.segment_type_id, s.segment_value_id
FROM journal_line_segments s JOIN journal_lines l ON l.id = s.line_id
WHERE l.je_id=$1 ORDER BY s.line_id, s.position`, entryID)
	if err != nil {
		return JournalEntry{}, nil, err
	}
	defer segRows.Close()
	for segRows.Next() {
		var lineID int64
		var tag SegmentTag
		if err := segRows.Scan(&lineID, &tag.TypeID, &tag.ValueID); err != nil {
			return JournalEntry{}, nil, err
		}
		if i, ok := index[lineID]; ok {
			lines[i].Segments = append(lines[i].Segments, tag)
		}
	}
	return entry, lines, segRows.Err()
}

func (r *txRepository) FindReversal(ctx context.Context, entryID int64) (int64, bool, error) {
	var id int64
	err := r.q.QueryRow(ctx, `SELECT id FROM journal_entries WHERE reversal_of=$1`, entryID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

func (r *txRepository) DeleteUnpostedEntry(ctx context.Context, entryID int64) error {
	cmd, err := r.q.Exec(ctx, `DELETE FROM journal_entries WHERE id=$1 AND posted=false`, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyPosted
	}
	return nil
}

func (r *txRepository) ListPostedLines(ctx context.Context, filter LineFilter) ([]PostedLine, error) {
	types := make([]string, 0, len(filter.Types))
	for _, t := range filter.Types {
		types = append(types, string(t))
	}
	rows, err := r.q.Query(ctx, `SELECT e.id, e.date, l.account_id, a.type, l.debit, l.credit
FROM journal_lines l
JOIN journal_entries e ON e.id = l.je_id
JOIN accounts a ON a.id = l.account_id
WHERE e.posted AND e.date BETWEEN $1 AND $2
  AND (cardinality($3::text[]) = 0 OR a.type = ANY($3))
  AND ($4::bigint IS NULL OR e.organization_id = $4)
ORDER BY e.date, e.id, l.line_no`, filter.From, filter.To, types, filter.OrganizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PostedLine
	for rows.Next() {
		var pl PostedLine
		if err := rows.Scan(&pl.EntryID, &pl.Date, &pl.AccountID, &pl.AccountType, &pl.Debit, &pl.Credit); err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, rows.Err()
}

// ListAccounts returns the chart of accounts ordered by code.
func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, type, node, parent_id, is_active FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.Node, &a.ParentID, &a.IsActive); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PostedLines lists posted lines outside any write transaction.
func (r *Repository) PostedLines(ctx context.Context, filter LineFilter) ([]PostedLine, error) {
	return (&txRepository{q: r.pool}).ListPostedLines(ctx, filter)
}

// UnbalancedEntry reports an entry whose persisted lines do not balance.
type UnbalancedEntry struct {
	EntryID int64
	Number  int64
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

// UnbalancedEntries scans posted entries for balance violations within one snapshot.
func (r *Repository) UnbalancedEntries(ctx context.Context) ([]UnbalancedEntry, error) {
	var out []UnbalancedEntry
	err := db.WithReadOnlyTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT e.id, e.number, COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM journal_entries e LEFT JOIN journal_lines l ON l.je_id = e.id
WHERE e.posted
GROUP BY e.id, e.number
HAVING COALESCE(SUM(l.debit),0) <> COALESCE(SUM(l.credit),0)
ORDER BY e.number`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var u UnbalancedEntry
			if err := rows.Scan(&u.EntryID, &u.Number, &u.Debit, &u.Credit); err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	return out, err
}

// GetAccountMapping resolves an account mapping for the specified key.
func (r *Repository) GetAccountMapping(ctx context.Context, module, key string) (int64, error) {
	return resolveMapping(ctx, r.pool, module, key)
}

func resolveMapping(ctx context.Context, q db.Querier, module, key string) (int64, error) {
	if module == "" || key == "" {
		return 0, errors.New("ledger: module and key required")
	}
	normalized := strings.ToUpper(module)
	var accountID int64
	err := q.QueryRow(ctx, `SELECT account_id FROM account_mappings WHERE module=$1 AND key=$2`, normalized, key).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s/%s", ErrMappingNotFound, normalized, key)
		}
		return 0, err
	}
	return accountID, nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
