package ranking

import (
	"errors"
	"sort"
	"sync"
)

var ErrUnknownCategory = errors.New("unknown ranking category")

type Category string

const (
	CategoryMock   Category = "mock"
	CategoryFormal Category = "formal"
)

// Formal scoring applied when an outcome commits.
const (
	FormalWinDelta  = 2
	FormalLossDelta = -1
)

// MockDeltaLimit bounds a single mock-category adjustment from the HTTP API.
const MockDeltaLimit = 5

func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryMock:
		return CategoryMock, nil
	case CategoryFormal:
		return CategoryFormal, nil
	default:
		return "", ErrUnknownCategory
	}
}

type Entry struct {
	AccountID string
	Score     int
}

// Ledger holds one non-negative score per (category, account). Entries are
// materialized on first Adjust; Lookup of an absent entry is 0. Safe for use
// from both the broker loop and HTTP handlers.
type Ledger struct {
	mu     sync.Mutex
	scores map[Category]map[string]int
}

func NewLedger() *Ledger {
	return &Ledger{scores: map[Category]map[string]int{
		CategoryMock:   {},
		CategoryFormal: {},
	}}
}

// Adjust applies delta and clamps the result at zero. The entry is
// materialized even when the result is zero so List includes it.
func (l *Ledger) Adjust(cat Category, accountID string, delta int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.scores[cat][accountID] + delta
	if next < 0 {
		next = 0
	}
	l.scores[cat][accountID] = next
	return next
}

func (l *Ledger) Lookup(cat Category, accountID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scores[cat][accountID]
}

// List returns entries sorted by score descending, account id ascending on
// ties. Only materialized entries appear; callers decide whether to backfill.
func (l *Ledger) List(cat Category) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]Entry, 0, len(l.scores[cat]))
	for id, score := range l.scores[cat] {
		entries = append(entries, Entry{AccountID: id, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].AccountID < entries[j].AccountID
	})
	return entries
}

// Set overwrites one entry; used by the persistence gateway at load time.
func (l *Ledger) Set(cat Category, accountID string, score int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if score < 0 {
		score = 0
	}
	l.scores[cat][accountID] = score
}

// Export snapshots every materialized entry for a flush.
func (l *Ledger) Export() map[Category][]Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Category][]Entry, len(l.scores))
	for cat, byAccount := range l.scores {
		entries := make([]Entry, 0, len(byAccount))
		for id, score := range byAccount {
			entries = append(entries, Entry{AccountID: id, Score: score})
		}
		out[cat] = entries
	}
	return out
}
