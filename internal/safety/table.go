package safety

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"execution-core/pkg/db"
	"execution-core/pkg/exchanges/common"
)

// TrackerStore loads the persisted table at startup.
type TrackerStore interface {
	ListTrackers(ctx context.Context) ([]db.TrackerRow, error)
}

// SnapshotSink accepts a full copy of the table after every mutation.
type SnapshotSink interface {
	Submit(rows []db.TrackerRow)
}

// Table holds at most one TrackerEntry per symbol. Every mutation hands a
// full snapshot to the sink while still holding the lock, so snapshots
// reach the sink in mutation order.
type Table struct {
	mu       sync.RWMutex
	entries  map[string]TrackerEntry
	sink     SnapshotSink
	onChange func(counts map[string]int)
}

// NewTable builds an empty table. sink may be nil for a memory-only table.
func NewTable(sink SnapshotSink) *Table {
	return &Table{entries: make(map[string]TrackerEntry), sink: sink}
}

// OnChange registers a hook receiving per-status counts after mutations.
func (t *Table) OnChange(fn func(counts map[string]int)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Load replaces the in-memory table with the persisted rows.
func (t *Table) Load(ctx context.Context, store TrackerStore) error {
	rows, err := store.ListTrackers(ctx)
	if err != nil {
		return fmt.Errorf("load trackers: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]TrackerEntry, len(rows))
	for _, r := range rows {
		t.entries[r.Symbol] = FromRow(r)
	}
	t.notifyLocked()
	return nil
}

// Get returns the entry for symbol.
func (t *Table) Get(symbol string) (TrackerEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[symbol]
	return e, ok
}

// Status returns StatusNone for untracked symbols.
func (t *Table) Status(symbol string) Status {
	e, ok := t.Get(symbol)
	if !ok {
		return StatusNone
	}
	return e.Status
}

// Put inserts or replaces the entry for e.Symbol.
func (t *Table) Put(e TrackerEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.Symbol] = e
	t.persistLocked()
}

// Remove deletes the entry for symbol and reports whether it existed.
func (t *Table) Remove(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[symbol]; !ok {
		return false
	}
	delete(t.entries, symbol)
	t.persistLocked()
	return true
}

// RemoveIf deletes the entry when pred holds for it.
func (t *Table) RemoveIf(symbol string, pred func(TrackerEntry) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[symbol]
	if !ok || !pred(e) {
		return false
	}
	delete(t.entries, symbol)
	t.persistLocked()
	return true
}

// Update applies fn to the existing entry. fn returns false to leave the
// table unchanged. The resulting entry is returned.
func (t *Table) Update(symbol string, fn func(e *TrackerEntry) bool) (TrackerEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[symbol]
	if !ok {
		return TrackerEntry{}, false
	}
	if !fn(&e) {
		return e, false
	}
	t.entries[symbol] = e
	t.persistLocked()
	return e, true
}

// Upsert is Update that starts from a zero entry when symbol is absent.
func (t *Table) Upsert(symbol string, fn func(e *TrackerEntry)) TrackerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[symbol]
	if !ok {
		e = TrackerEntry{Symbol: symbol, Status: StatusNone}
	}
	fn(&e)
	t.entries[symbol] = e
	t.persistLocked()
	return e
}

// Entries returns a copy of the table ordered by symbol.
func (t *Table) Entries() []TrackerEntry {
	t.mu.RLock()
	out := make([]TrackerEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// WithStatus returns the symbols currently in status s.
func (t *Table) WithStatus(s Status) []string {
	var out []string
	for _, e := range t.Entries() {
		if e.Status == s {
			out = append(out, e.Symbol)
		}
	}
	return out
}

func (t *Table) persistLocked() {
	if t.sink != nil {
		rows := make([]db.TrackerRow, 0, len(t.entries))
		for _, e := range t.entries {
			rows = append(rows, ToRow(e))
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
		t.sink.Submit(rows)
	}
	t.notifyLocked()
}

func (t *Table) notifyLocked() {
	if t.onChange == nil {
		return
	}
	counts := map[string]int{
		string(StatusWaitingEntry): 0,
		string(StatusPending):      0,
		string(StatusSecured):      0,
	}
	for _, e := range t.entries {
		counts[string(e.Status)]++
	}
	t.onChange(counts)
}

// ToRow converts an entry to its persisted form.
func ToRow(e TrackerEntry) db.TrackerRow {
	r := db.TrackerRow{
		Symbol:          e.Symbol,
		Status:          string(e.Status),
		EntryOrderID:    e.EntryOrderID,
		CreatedAt:       unixOrZero(e.CreatedAt),
		ExpiresAt:       unixOrZero(e.ExpiresAt),
		Strategy:        e.Strategy,
		ATR:             e.ATR,
		Side:            string(e.Side),
		EntryPrice:      e.EntryPrice,
		SLPrice:         e.SLPrice,
		TPPrice:         e.TPPrice,
		DecisionTP:      e.DecisionTP,
		DecisionSL:      e.DecisionSL,
		TrailingActive:  e.Trailing.Active,
		TrailingExtreme: e.Trailing.Extreme,
		TrailingSL:      e.Trailing.CurrentSL,
	}
	if !e.Trailing.LastAppliedAt.IsZero() {
		r.TrailingUpdatedAt = e.Trailing.LastAppliedAt.UnixMilli()
	}
	return r
}

// FromRow restores an entry. Unknown statuses load as PENDING so the next
// poll re-checks the symbol rather than trusting it.
func FromRow(r db.TrackerRow) TrackerEntry {
	status := Status(r.Status)
	switch status {
	case StatusWaitingEntry, StatusPending, StatusSecured:
	default:
		status = StatusPending
	}
	e := TrackerEntry{
		Symbol:       r.Symbol,
		Status:       status,
		EntryOrderID: r.EntryOrderID,
		CreatedAt:    timeOrZero(r.CreatedAt),
		ExpiresAt:    timeOrZero(r.ExpiresAt),
		Strategy:     r.Strategy,
		ATR:          r.ATR,
		DecisionTP:   r.DecisionTP,
		DecisionSL:   r.DecisionSL,
		Side:         common.PositionSide(r.Side),
		EntryPrice:   r.EntryPrice,
		SLPrice:      r.SLPrice,
		TPPrice:      r.TPPrice,
		Trailing: Trailing{
			Active:    r.TrailingActive,
			Extreme:   r.TrailingExtreme,
			CurrentSL: r.TrailingSL,
		},
	}
	if r.TrailingUpdatedAt > 0 {
		e.Trailing.LastAppliedAt = time.UnixMilli(r.TrailingUpdatedAt)
	}
	return e
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(s int64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return time.Unix(s, 0)
}
