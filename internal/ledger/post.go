package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/ledger/internal/shared"
)

// TxRepository exposes transactional operations. Engines posting from other
// modules receive one bound to their own transaction.
type TxRepository interface {
	GetAccounts(ctx context.Context, ids []int64) (map[int64]Account, error)
	ListSegmentTypes(ctx context.Context) ([]SegmentType, error)
	GetSegmentValues(ctx context.Context, ids []int64) (map[int64]SegmentValue, error)
	ResolveMapping(ctx context.Context, module, key string) (int64, error)
	InsertJournalEntry(ctx context.Context, in PostingInput) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []PostingLineInput) ([]JournalLine, error)
	GetJournalWithLines(ctx context.Context, entryID int64) (JournalEntry, []JournalLine, error)
	FindReversal(ctx context.Context, entryID int64) (int64, bool, error)
	DeleteUnpostedEntry(ctx context.Context, entryID int64) error
	ListPostedLines(ctx context.Context, filter LineFilter) ([]PostedLine, error)
}

// LineFilter narrows posted line scans.
type LineFilter struct {
	From           time.Time
	To             time.Time
	Types          []AccountType
	OrganizationID *int64
}

// Post validates input and persists a balanced entry through tx. Nothing is
// written when validation fails.
func Post(ctx context.Context, tx TxRepository, input PostingInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	if !input.mirrored {
		if err := checkAccounts(ctx, tx, input.Lines); err != nil {
			return JournalEntry{}, err
		}
		if err := checkSegments(ctx, tx, input.Lines); err != nil {
			return JournalEntry{}, err
		}
	}
	entry, err := tx.InsertJournalEntry(ctx, input)
	if err != nil {
		return JournalEntry{}, err
	}
	lines, err := tx.InsertJournalLines(ctx, entry.ID, input.Lines)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

// Reverse creates the negating entry of a posted entry through tx.
func Reverse(ctx context.Context, tx TxRepository, input ReverseInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, shared.Invalid("ledger: entry id required")
	}
	original, lines, err := tx.GetJournalWithLines(ctx, input.EntryID)
	if err != nil {
		return JournalEntry{}, err
	}
	if !original.Posted {
		return JournalEntry{}, ErrNotPosted
	}
	if original.ReversalOf != nil {
		return JournalEntry{}, ErrAlreadyReversed
	}
	if _, found, err := tx.FindReversal(ctx, original.ID); err != nil {
		return JournalEntry{}, err
	} else if found {
		return JournalEntry{}, ErrAlreadyReversed
	}
	date := original.Date
	if input.TargetDate != nil {
		date = *input.TargetDate
	}
	reversalOf := original.ID
	posting := PostingInput{
		Date:           date,
		Currency:       original.Currency,
		SourceModule:   original.SourceModule + ":REVERSAL",
		SourceID:       uuid.NewSHA1(original.SourceID, []byte(fmt.Sprintf("REVERSAL:%d", original.ID))),
		Memo:           reversalMemo(input.Memo, original),
		OrganizationID: original.OrganizationID,
		ReversalOf:     &reversalOf,
		ActorID:        input.ActorID,
		Lines:          reverseLines(lines),
		mirrored:       true,
	}
	return Post(ctx, tx, posting)
}

func checkAccounts(ctx context.Context, tx TxRepository, lines []PostingLineInput) error {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.AccountID)
	}
	accounts, err := tx.GetAccounts(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		acc, ok := accounts[id]
		if !ok {
			return fmt.Errorf("%w: id %d", ErrAccountNotFound, id)
		}
		if !acc.Postable() {
			return fmt.Errorf("%w: %s", ErrNonLeafAccount, acc.Code)
		}
	}
	return nil
}

// checkSegments enforces one value per type and every active required type on
// each line.
func checkSegments(ctx context.Context, tx TxRepository, lines []PostingLineInput) error {
	types, err := tx.ListSegmentTypes(ctx)
	if err != nil {
		return err
	}
	var valueIDs []int64
	for _, line := range lines {
		for _, tag := range line.Segments {
			valueIDs = append(valueIDs, tag.ValueID)
		}
	}
	var values map[int64]SegmentValue
	if len(valueIDs) > 0 {
		values, err = tx.GetSegmentValues(ctx, valueIDs)
		if err != nil {
			return err
		}
	}
	activeTypes := make(map[int64]SegmentType, len(types))
	for _, t := range types {
		if t.Active {
			activeTypes[t.ID] = t
		}
	}
	for idx, line := range lines {
		seen := make(map[int64]bool, len(line.Segments))
		for _, tag := range line.Segments {
			if _, ok := activeTypes[tag.TypeID]; !ok {
				return fmt.Errorf("%w: line %d uses inactive or unknown segment type %d", ErrInvalidSegments, idx, tag.TypeID)
			}
			if seen[tag.TypeID] {
				return fmt.Errorf("%w: line %d repeats segment type %d", ErrInvalidSegments, idx, tag.TypeID)
			}
			seen[tag.TypeID] = true
			value, ok := values[tag.ValueID]
			if !ok || value.TypeID != tag.TypeID {
				return fmt.Errorf("%w: line %d segment value %d does not belong to type %d", ErrInvalidSegments, idx, tag.ValueID, tag.TypeID)
			}
			if !value.IsLeaf {
				return fmt.Errorf("%w: line %d segment value %s is not a leaf", ErrInvalidSegments, idx, value.Code)
			}
		}
		for id, t := range activeTypes {
			if t.Required && !seen[id] {
				return fmt.Errorf("%w: line %d missing required segment %s", ErrInvalidSegments, idx, t.Code)
			}
		}
	}
	return nil
}

func reverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID: line.AccountID,
			Debit:     line.Credit,
			Credit:    line.Debit,
			Segments:  append([]SegmentTag(nil), line.Segments...),
		})
	}
	return out
}

func reversalMemo(memo string, original JournalEntry) string {
	base := fmt.Sprintf("Reversal of JE %d", original.Number)
	if memo != "" {
		return base + ": " + memo
	}
	if original.Memo != "" {
		return base + ": " + original.Memo
	}
	return base
}
