package procurement

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledger/internal/invoices"
	"github.com/odyssey-erp/ledger/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, Tx{Documents: &documents{q: tx}, Invoices: invoices.NewTxRepository(tx)})
	})
}

type documents struct {
	q db.Querier
}

func (d *documents) CreatePO(ctx context.Context, po PurchaseOrder, lines []POLine) (int64, error) {
	var id int64
	err := d.q.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, status, currency, expected_date, note)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, po.Number, po.SupplierID, string(po.Status), po.Currency, po.ExpectedDate, po.Note).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, l := range lines {
		if _, err := d.q.Exec(ctx, `INSERT INTO po_lines (po_id, ref, description, qty, price) VALUES ($1,$2,$3,$4,$5)`,
			id, l.Ref, l.Description, l.Qty, l.Price); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (d *documents) CreateGRN(ctx context.Context, grn GoodsReceipt, lines []GRNLine) (int64, error) {
	var id int64
	err := d.q.QueryRow(ctx, `INSERT INTO goods_receipts (number, po_id, supplier_id, status, received_at, note)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, grn.Number, grn.POID, grn.SupplierID, string(grn.Status), grn.ReceivedAt, grn.Note).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, l := range lines {
		if _, err := d.q.Exec(ctx, `INSERT INTO grn_lines (grn_id, description, qty_received, po_line_ref) VALUES ($1,$2,$3,NULLIF($4,''))`,
			id, l.Description, l.QtyReceived, l.POLineRef); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// GetPO returns purchase order and lines.
func (d *documents) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	var po PurchaseOrder
	var status string
	err := d.q.QueryRow(ctx, `SELECT id, number, supplier_id, status, currency, expected_date, note FROM purchase_orders WHERE id=$1`, id).
		Scan(&po.ID, &po.Number, &po.SupplierID, &status, &po.Currency, &po.ExpectedDate, &po.Note)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	po.Status = POStatus(status)
	rows, err := d.q.Query(ctx, `SELECT id, po_id, ref, description, qty, price FROM po_lines WHERE po_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var l POLine
		if err := rows.Scan(&l.ID, &l.POID, &l.Ref, &l.Description, &l.Qty, &l.Price); err != nil {
			return PurchaseOrder{}, nil, err
		}
		lines = append(lines, l)
	}
	return po, lines, rows.Err()
}

// GetGRN returns goods receipt and lines.
func (d *documents) GetGRN(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error) {
	var grn GoodsReceipt
	var status string
	err := d.q.QueryRow(ctx, `SELECT id, number, po_id, supplier_id, status, received_at, note FROM goods_receipts WHERE id=$1`, id).
		Scan(&grn.ID, &grn.Number, &grn.POID, &grn.SupplierID, &status, &grn.ReceivedAt, &grn.Note)
	if errors.Is(err, pgx.ErrNoRows) {
		return GoodsReceipt{}, nil, ErrNotFound
	}
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	grn.Status = GRNStatus(status)
	rows, err := d.q.Query(ctx, `SELECT id, grn_id, description, qty_received, COALESCE(po_line_ref, '') FROM grn_lines WHERE grn_id=$1 ORDER BY id`, id)
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	defer rows.Close()
	var lines []GRNLine
	for rows.Next() {
		var l GRNLine
		if err := rows.Scan(&l.ID, &l.GRNID, &l.Description, &l.QtyReceived, &l.POLineRef); err != nil {
			return GoodsReceipt{}, nil, err
		}
		lines = append(lines, l)
	}
	return grn, lines, rows.Err()
}
