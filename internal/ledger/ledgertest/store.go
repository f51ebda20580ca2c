// Package ledgertest provides an in-memory ledger store for tests of packages
// that post journals.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/ledger/internal/ledger"
)

// Store implements ledger.RepositoryPort and ledger.TxRepository in memory.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	accounts      map[int64]ledger.Account
	segmentTypes  []ledger.SegmentType
	segmentValues map[int64]ledger.SegmentValue
	mappings      map[string]int64
	entries       map[int64]ledger.JournalEntry
	lines         map[int64][]ledger.JournalLine
	nextEntry     int64
	nextLine      int64
	nextNumber    int64

	// FailInsertLines forces InsertJournalLines to fail, for rollback tests.
	FailInsertLines error
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		accounts:      make(map[int64]ledger.Account),
		segmentValues: make(map[int64]ledger.SegmentValue),
		mappings:      make(map[string]int64),
		entries:       make(map[int64]ledger.JournalEntry),
		lines:         make(map[int64][]ledger.JournalLine),
	}
}

// AddAccount registers an active postable leaf account.
func (s *Store) AddAccount(id int64, code string, typ ledger.AccountType) ledger.Account {
	acc := ledger.Account{ID: id, Code: code, Name: code, Type: typ, Node: ledger.NodeChild, IsActive: true}
	s.PutAccount(acc)
	return acc
}

// PutAccount stores acc as given.
func (s *Store) PutAccount(acc ledger.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.ID] = acc
}

// AddSegmentType registers a segment type.
func (s *Store) AddSegmentType(t ledger.SegmentType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segmentTypes = append(s.segmentTypes, t)
}

// AddSegmentValue registers a segment value.
func (s *Store) AddSegmentValue(v ledger.SegmentValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segmentValues[v.ID] = v
}

// Map adds an account mapping for module/key.
func (s *Store) Map(module, key string, accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[mappingKey(module, key)] = accountID
}

// WithTx serialises fn and restores the previous state when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	restore := s.Checkpoint()
	if err := fn(ctx, s); err != nil {
		restore()
		return err
	}
	return nil
}

// Checkpoint snapshots journal state; calling the returned func rolls back to it.
// Fakes of other modules call it from their own WithTx to share one transaction.
func (s *Store) Checkpoint() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make(map[int64]ledger.JournalEntry, len(s.entries))
	for k, v := range s.entries {
		entries[k] = v
	}
	lines := make(map[int64][]ledger.JournalLine, len(s.lines))
	for k, v := range s.lines {
		lines[k] = append([]ledger.JournalLine(nil), v...)
	}
	nextEntry, nextLine, nextNumber := s.nextEntry, s.nextLine, s.nextNumber
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.entries = entries
		s.lines = lines
		s.nextEntry, s.nextLine, s.nextNumber = nextEntry, nextLine, nextNumber
	}
}

// Entries returns every stored entry with lines, ordered by id.
func (s *Store) Entries() []ledger.JournalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.JournalEntry, 0, len(s.entries))
	for id, e := range s.entries {
		e.Lines = append([]ledger.JournalLine(nil), s.lines[id]...)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Entry returns one entry with lines.
func (s *Store) Entry(id int64) (ledger.JournalEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ledger.JournalEntry{}, false
	}
	e.Lines = append([]ledger.JournalLine(nil), s.lines[id]...)
	return e, true
}

func (s *Store) GetAccounts(_ context.Context, ids []int64) (map[int64]ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]ledger.Account, len(ids))
	for _, id := range ids {
		if acc, ok := s.accounts[id]; ok {
			out[id] = acc
		}
	}
	return out, nil
}

func (s *Store) ListSegmentTypes(context.Context) ([]ledger.SegmentType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.SegmentType(nil), s.segmentTypes...), nil
}

func (s *Store) GetSegmentValues(_ context.Context, ids []int64) (map[int64]ledger.SegmentValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]ledger.SegmentValue, len(ids))
	for _, id := range ids {
		if v, ok := s.segmentValues[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (s *Store) ResolveMapping(_ context.Context, module, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.mappings[mappingKey(module, key)]
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ledger.ErrMappingNotFound, strings.ToUpper(module), key)
	}
	return id, nil
}

func (s *Store) InsertJournalEntry(_ context.Context, in ledger.PostingInput) (ledger.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if in.ReversalOf != nil && e.ReversalOf != nil && *e.ReversalOf == *in.ReversalOf {
			return ledger.JournalEntry{}, ledger.ErrAlreadyReversed
		}
		if e.SourceModule == in.SourceModule && e.SourceID == in.SourceID {
			return ledger.JournalEntry{}, ledger.ErrSourceAlreadyLinked
		}
	}
	s.nextEntry++
	s.nextNumber++
	entry := ledger.JournalEntry{
		ID:             s.nextEntry,
		Number:         s.nextNumber,
		Date:           in.Date,
		Currency:       in.Currency,
		Memo:           in.Memo,
		Posted:         !in.Draft,
		OrganizationID: in.OrganizationID,
		SourceModule:   in.SourceModule,
		SourceID:       in.SourceID,
		ReversalOf:     in.ReversalOf,
		CreatedAt:      time.Now(),
	}
	s.entries[entry.ID] = entry
	return entry, nil
}

func (s *Store) InsertJournalLines(_ context.Context, entryID int64, lines []ledger.PostingLineInput) ([]ledger.JournalLine, error) {
	if s.FailInsertLines != nil {
		return nil, s.FailInsertLines
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.JournalLine, 0, len(lines))
	for _, l := range lines {
		s.nextLine++
		out = append(out, ledger.JournalLine{
			ID:        s.nextLine,
			EntryID:   entryID,
			AccountID: l.AccountID,
			Debit:     l.Debit,
			Credit:    l.Credit,
			Segments:  append([]ledger.SegmentTag(nil), l.Segments...),
		})
	}
	s.lines[entryID] = append(s.lines[entryID], out...)
	return out, nil
}

func (s *Store) GetJournalWithLines(_ context.Context, entryID int64) (ledger.JournalEntry, []ledger.JournalLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return ledger.JournalEntry{}, nil, ledger.ErrJournalNotFound
	}
	return e, append([]ledger.JournalLine(nil), s.lines[entryID]...), nil
}

func (s *Store) FindReversal(_ context.Context, entryID int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.ReversalOf != nil && *e.ReversalOf == entryID {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (s *Store) DeleteUnpostedEntry(_ context.Context, entryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return ledger.ErrJournalNotFound
	}
	if e.Posted {
		return ledger.ErrAlreadyPosted
	}
	delete(s.entries, entryID)
	delete(s.lines, entryID)
	return nil
}

func (s *Store) ListPostedLines(_ context.Context, filter ledger.LineFilter) ([]ledger.PostedLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make(map[ledger.AccountType]bool, len(filter.Types))
	for _, t := range filter.Types {
		types[t] = true
	}
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []ledger.PostedLine
	for _, id := range ids {
		e := s.entries[id]
		if !e.Posted || e.Date.Before(filter.From) || e.Date.After(filter.To) {
			continue
		}
		if filter.OrganizationID != nil && (e.OrganizationID == nil || *e.OrganizationID != *filter.OrganizationID) {
			continue
		}
		for _, l := range s.lines[id] {
			acc := s.accounts[l.AccountID]
			if len(types) > 0 && !types[acc.Type] {
				continue
			}
			out = append(out, ledger.PostedLine{
				EntryID:     id,
				Date:        e.Date,
				AccountID:   l.AccountID,
				AccountType: acc.Type,
				Debit:       l.Debit,
				Credit:      l.Credit,
			})
		}
	}
	return out, nil
}

// ListAccounts returns every account ordered by code.
func (s *Store) ListAccounts(context.Context) ([]ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// PostedLines mirrors ListPostedLines for read-side callers.
func (s *Store) PostedLines(ctx context.Context, filter ledger.LineFilter) ([]ledger.PostedLine, error) {
	return s.ListPostedLines(ctx, filter)
}

func mappingKey(module, key string) string {
	return strings.ToUpper(module) + "/" + key
}
