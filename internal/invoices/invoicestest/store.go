// Package invoicestest provides an in-memory invoice store for tests.
package invoicestest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/invoices"
)

// Store implements invoices.Repository and invoices.TxRepository in memory.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	invoices    map[int64]invoices.Invoice
	payments    map[int64]invoices.Payment
	allocations map[int64]invoices.Allocation
	nextInvoice int64
	nextItem    int64
	nextPayment int64
	nextAlloc   int64
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		invoices:    make(map[int64]invoices.Invoice),
		payments:    make(map[int64]invoices.Payment),
		allocations: make(map[int64]invoices.Allocation),
	}
}

// WithTx serialises fn and restores the previous state when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, invoices.TxRepository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	restore := s.Checkpoint()
	if err := fn(ctx, s); err != nil {
		restore()
		return err
	}
	return nil
}

// Checkpoint snapshots the store; calling the returned func rolls back to it.
func (s *Store) Checkpoint() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := make(map[int64]invoices.Invoice, len(s.invoices))
	for k, v := range s.invoices {
		v.Items = append([]invoices.Item(nil), v.Items...)
		inv[k] = v
	}
	pay := make(map[int64]invoices.Payment, len(s.payments))
	for k, v := range s.payments {
		pay[k] = v
	}
	alloc := make(map[int64]invoices.Allocation, len(s.allocations))
	for k, v := range s.allocations {
		alloc[k] = v
	}
	ni, nit, np, na := s.nextInvoice, s.nextItem, s.nextPayment, s.nextAlloc
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.invoices, s.payments, s.allocations = inv, pay, alloc
		s.nextInvoice, s.nextItem, s.nextPayment, s.nextAlloc = ni, nit, np, na
	}
}

// Put stores inv directly, bypassing the service, and returns it with ids set.
func (s *Store) Put(inv invoices.Invoice) invoices.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == 0 {
		s.nextInvoice++
		inv.ID = s.nextInvoice
	} else if inv.ID > s.nextInvoice {
		s.nextInvoice = inv.ID
	}
	if inv.Number == "" {
		inv.Number = fmt.Sprintf("%s-%06d", inv.Side, inv.ID)
	}
	for i := range inv.Items {
		if inv.Items[i].ID == 0 {
			s.nextItem++
			inv.Items[i].ID = s.nextItem
		}
		inv.Items[i].InvoiceID = inv.ID
	}
	s.invoices[inv.ID] = inv
	return inv
}

// Allocations returns allocations for an invoice ordered by id.
func (s *Store) Allocations(invoiceID int64) []invoices.Allocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []invoices.Allocation
	for _, a := range s.allocations {
		if a.InvoiceID == invoiceID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) GetInvoice(ctx context.Context, id int64) (invoices.Invoice, error) {
	return s.GetInvoiceForUpdate(ctx, id)
}

func (s *Store) GetPayment(ctx context.Context, id int64) (invoices.Payment, error) {
	return s.GetPaymentForUpdate(ctx, id)
}

func (s *Store) ListBalances(_ context.Context, side invoices.Side) ([]invoices.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []invoices.Balance
	for _, inv := range s.invoices {
		if inv.Side != side || !inv.IsPosted || inv.IsCancelled {
			continue
		}
		out = append(out, invoices.Balance{
			InvoiceID:      inv.ID,
			Side:           inv.Side,
			Number:         inv.Number,
			CounterpartyID: inv.CounterpartyID,
			DueDate:        inv.DueDate,
			Total:          inv.Total,
			Paid:           s.sumLocked(inv.ID),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceID < out[j].InvoiceID })
	return out, nil
}

func (s *Store) GetInvoiceForUpdate(_ context.Context, id int64) (invoices.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return invoices.Invoice{}, invoices.ErrInvoiceNotFound
	}
	inv.Items = append([]invoices.Item(nil), inv.Items...)
	return inv, nil
}

func (s *Store) InsertInvoice(_ context.Context, inv invoices.Invoice) (invoices.Invoice, error) {
	return s.Put(inv), nil
}

func (s *Store) ReplaceInvoice(_ context.Context, inv invoices.Invoice) error {
	s.mu.Lock()
	_, ok := s.invoices[inv.ID]
	s.mu.Unlock()
	if !ok {
		return invoices.ErrInvoiceNotFound
	}
	s.Put(inv)
	return nil
}

func (s *Store) DeleteInvoice(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.invoices, id)
	return nil
}

func (s *Store) update(id int64, fn func(*invoices.Invoice)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return invoices.ErrInvoiceNotFound
	}
	fn(&inv)
	s.invoices[id] = inv
	return nil
}

func (s *Store) UpdateApproval(_ context.Context, id int64, status invoices.ApprovalStatus) error {
	return s.update(id, func(inv *invoices.Invoice) { inv.ApprovalStatus = status })
}

func (s *Store) MarkInvoicePosted(_ context.Context, id, journalID int64) error {
	return s.update(id, func(inv *invoices.Invoice) {
		inv.IsPosted = true
		inv.GLJournalID = &journalID
	})
}

func (s *Store) MarkInvoiceCancelled(_ context.Context, id int64) error {
	return s.update(id, func(inv *invoices.Invoice) { inv.IsCancelled = true })
}

func (s *Store) UpdatePaymentStatus(_ context.Context, id int64, status invoices.PaymentStatus, paidAt *time.Time) error {
	return s.update(id, func(inv *invoices.Invoice) {
		inv.PaymentStatus = status
		inv.PaidAt = paidAt
	})
}

func (s *Store) SaveMatchResult(_ context.Context, id int64, result invoices.MatchResult) error {
	return s.update(id, func(inv *invoices.Invoice) { inv.Match = result })
}

func (s *Store) InsertPayment(_ context.Context, p invoices.Payment) (invoices.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPayment++
	p.ID = s.nextPayment
	if p.Number == "" {
		p.Number = fmt.Sprintf("%s-PAY-%06d", p.Side, p.ID)
	}
	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) GetPaymentForUpdate(_ context.Context, id int64) (invoices.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return invoices.Payment{}, invoices.ErrPaymentNotFound
	}
	return p, nil
}

func (s *Store) updatePayment(id int64, fn func(*invoices.Payment)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return invoices.ErrPaymentNotFound
	}
	fn(&p)
	s.payments[id] = p
	return nil
}

func (s *Store) MarkPaymentPosted(_ context.Context, id, journalID int64) error {
	return s.updatePayment(id, func(p *invoices.Payment) { p.GLJournalID = &journalID })
}

func (s *Store) MarkPaymentReversed(_ context.Context, id, journalID int64) error {
	return s.updatePayment(id, func(p *invoices.Payment) { p.ReversalJournalID = &journalID })
}

func (s *Store) InsertAllocation(_ context.Context, a invoices.Allocation) (invoices.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAlloc++
	a.ID = s.nextAlloc
	s.allocations[a.ID] = a
	return a, nil
}

func (s *Store) DeleteAllocations(_ context.Context, paymentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.allocations {
		if a.PaymentID == paymentID {
			delete(s.allocations, id)
		}
	}
	return nil
}

func (s *Store) SumAllocations(_ context.Context, invoiceID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sumLocked(invoiceID), nil
}

func (s *Store) sumLocked(invoiceID int64) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range s.allocations {
		if a.InvoiceID == invoiceID {
			sum = sum.Add(a.Amount)
		}
	}
	return sum
}
