// Package posting turns approved sub-ledger documents into balanced journal
// entries, at most once per document.
package posting

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/ledger/internal/invoices"
	"github.com/odyssey-erp/ledger/internal/ledger"
	"github.com/odyssey-erp/ledger/internal/shared"
)

// DocumentKind enumerates postable documents.
type DocumentKind string

const (
	KindARInvoice DocumentKind = "AR_INVOICE"
	KindAPInvoice DocumentKind = "AP_INVOICE"
	KindARPayment DocumentKind = "AR_PAYMENT"
	KindAPPayment DocumentKind = "AP_PAYMENT"
)

// Side returns the sub-ledger side of the document kind.
func (k DocumentKind) Side() invoices.Side {
	if k == KindAPInvoice || k == KindAPPayment {
		return invoices.SideAP
	}
	return invoices.SideAR
}

// IsPayment reports whether the kind is a payment.
func (k DocumentKind) IsPayment() bool {
	return k == KindARPayment || k == KindAPPayment
}

// Valid reports whether k is known.
func (k DocumentKind) Valid() bool {
	switch k {
	case KindARInvoice, KindAPInvoice, KindARPayment, KindAPPayment:
		return true
	}
	return false
}

// DocumentRef identifies the document to post.
type DocumentRef struct {
	Kind DocumentKind
	ID   int64
}

// SourceID is the deterministic journal source id of the document.
func (r DocumentRef) SourceID() uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d", r.Kind, r.ID)))
}

// Result reports the journal produced or found for a document.
type Result struct {
	Entry   ledger.JournalEntry
	Created bool
	// InvoiceClosed is set when a payment posting moved the invoice to PAID.
	InvoiceClosed bool
}

// MappingKey addresses an account mapping row.
type MappingKey struct {
	Module string
	Key    string
}

// AccountTable names the account mappings used for each posting role. The
// accounts themselves are configuration data resolved per transaction.
type AccountTable struct {
	Receivable   MappingKey
	Revenue      MappingKey
	TaxOutput    MappingKey
	Payable      MappingKey
	Expense      MappingKey
	TaxInput     MappingKey
	RealizedGain MappingKey
	RealizedLoss MappingKey
}

// DefaultAccountTable returns the mapping keys seeded with the chart.
func DefaultAccountTable() AccountTable {
	return AccountTable{
		Receivable:   MappingKey{"AR", "ar.receivable"},
		Revenue:      MappingKey{"AR", "ar.revenue"},
		TaxOutput:    MappingKey{"AR", "ar.tax_output"},
		Payable:      MappingKey{"AP", "ap.payable"},
		Expense:      MappingKey{"AP", "ap.expense"},
		TaxInput:     MappingKey{"AP", "ap.tax_input"},
		RealizedGain: MappingKey{"FX", "fx.realized_gain"},
		RealizedLoss: MappingKey{"FX", "fx.realized_loss"},
	}
}

var (
	// ErrNotApproved rejects posting an invoice that is not APPROVED.
	ErrNotApproved = shared.NewError(shared.ErrStateConflict, "NOT_APPROVED", "posting: invoice is not approved")
	// ErrPaymentNotPosted rejects reversing a payment without a live journal.
	ErrPaymentNotPosted = shared.NewError(shared.ErrStateConflict, "PAYMENT_NOT_POSTED", "posting: payment has no posted journal")
	// ErrDocumentLocked is returned when another worker holds the document lock.
	ErrDocumentLocked = shared.NewError(shared.ErrStateConflict, "DOCUMENT_LOCKED", "posting: document is being posted elsewhere")
)
