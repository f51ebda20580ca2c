package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/money"
	"github.com/odyssey-erp/ledger/internal/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeIncome    AccountType = "INCOME"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// NodeKind distinguishes structural chart nodes from postable leaves.
type NodeKind string

const (
	NodeParent    NodeKind = "PARENT"
	NodeSubParent NodeKind = "SUB_PARENT"
	NodeChild     NodeKind = "CHILD"
)

// Account models a chart of accounts node.
type Account struct {
	ID       int64
	Code     string
	Name     string
	Type     AccountType
	Node     NodeKind
	ParentID *int64
	IsActive bool
}

// Postable reports whether lines may target the account.
func (a Account) Postable() bool {
	return a.Node == NodeChild && a.IsActive
}

// SegmentType is a chart dimension such as department or project.
type SegmentType struct {
	ID       int64
	Code     string
	Required bool
	Active   bool
}

// SegmentValue is one value of a segment type.
type SegmentValue struct {
	ID     int64
	TypeID int64
	Code   string
	IsLeaf bool
}

// SegmentTag attaches a segment value to a journal line.
type SegmentTag struct {
	TypeID  int64
	ValueID int64
}

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID             int64
	Number         int64
	Date           time.Time
	Currency       string
	Memo           string
	Posted         bool
	OrganizationID *int64
	SourceModule   string
	SourceID       uuid.UUID
	ReversalOf     *int64
	CreatedAt      time.Time
	Lines          []JournalLine
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID        int64
	EntryID   int64
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Segments  []SegmentTag
}

// PostedLine is a read model of a posted line joined to its account and entry date.
type PostedLine struct {
	EntryID     int64
	Date        time.Time
	AccountID   int64
	AccountType AccountType
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// PostingLineInput describes a journal line for posting request.
type PostingLineInput struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Segments  []SegmentTag
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	Date           time.Time
	Currency       string
	SourceModule   string
	SourceID       uuid.UUID
	Memo           string
	OrganizationID *int64
	ReversalOf     *int64
	Draft          bool
	ActorID        int64
	Lines          []PostingLineInput

	// mirrored marks a reversal whose lines were validated when the
	// original posted.
	mirrored bool
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	EntryID    int64
	ActorID    int64
	Memo       string
	TargetDate *time.Time
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = shared.NewError(shared.ErrValidation, "UNBALANCED", "ledger: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = shared.NewError(shared.ErrValidation, "TOO_FEW_LINES", "ledger: journal requires at least two lines")
	// ErrNonLeafAccount rejects structural chart nodes as posting targets.
	ErrNonLeafAccount = shared.NewError(shared.ErrValidation, "NON_LEAF_ACCOUNT", "ledger: account is not a postable leaf")
	// ErrInvalidSegments rejects malformed segment tagging.
	ErrInvalidSegments = shared.NewError(shared.ErrValidation, "INVALID_SEGMENTS", "ledger: invalid segment tags")
	// ErrAccountNotFound indicates a line references a missing account.
	ErrAccountNotFound = shared.NewError(shared.ErrNotFound, "ACCOUNT_NOT_FOUND", "ledger: account not found")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = shared.NewError(shared.ErrNotFound, "JOURNAL_NOT_FOUND", "ledger: journal entry not found")
	// ErrSourceAlreadyLinked indicates idempotency conflict.
	ErrSourceAlreadyLinked = shared.NewError(shared.ErrStateConflict, "SOURCE_ALREADY_POSTED", "ledger: source already posted")
	// ErrAlreadyReversed enforces at most one reversal per entry.
	ErrAlreadyReversed = shared.NewError(shared.ErrStateConflict, "ALREADY_REVERSED", "ledger: journal entry already reversed")
	// ErrNotPosted indicates a draft entry cannot be reversed.
	ErrNotPosted = shared.NewError(shared.ErrStateConflict, "NOT_POSTED", "ledger: journal entry is not posted")
	// ErrAlreadyPosted prevents deleting posted entries.
	ErrAlreadyPosted = shared.NewError(shared.ErrStateConflict, "ALREADY_POSTED", "ledger: journal entry is posted")
	// ErrMappingNotFound indicates account mapping missing.
	ErrMappingNotFound = shared.NewError(shared.ErrConfiguration, "MAPPING_NOT_FOUND", "ledger: account mapping not found")
)

// Validate ensures posting input meets minimum criteria and quantizes the amounts.
func (in *PostingInput) Validate() error {
	if in.Date.IsZero() {
		return shared.Invalid("ledger: date required")
	}
	if in.Currency == "" {
		return shared.Invalid("ledger: currency required")
	}
	if in.SourceModule == "" {
		return shared.Invalid("ledger: source module required")
	}
	if in.SourceID == uuid.Nil {
		return shared.Invalid("ledger: source id required")
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx := range in.Lines {
		line := &in.Lines[idx]
		if line.AccountID == 0 {
			return shared.Invalid("ledger: line %d missing account", idx)
		}
		line.Debit = money.Quantize2(line.Debit)
		line.Credit = money.Quantize2(line.Credit)
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return shared.Invalid("ledger: line %d negative amount", idx)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		return ErrUnbalanced
	}
	if debit.IsZero() {
		return shared.Invalid("ledger: journal amount must be positive")
	}
	return nil
}

// Totals returns the debit and credit sums of the entry lines.
func (e JournalEntry) Totals() (decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, line := range e.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}
