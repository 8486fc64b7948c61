// Package worker hosts the per-symbol processing runtimes: each worker
// owns the candle groups for the symbols the pool hashed to it, applies
// their trades strictly in arrival order, and writes dirty state back to
// the state server in batches.
package worker

import (
	"fmt"

	"footprint-systemv1/internal/model"
)

// Storage is a worker's in-memory home for candle groups: symbol → group,
// the dirty set awaiting persistence, and staged pending configs. It is
// not synchronized; exactly one worker goroutine touches it.
type Storage struct {
	groups  map[string]*model.CandleGroup
	dirty   map[string]struct{}
	pending map[string]model.PendingConfig
}

// NewStorage returns an empty storage.
func NewStorage() *Storage {
	return &Storage{
		groups:  make(map[string]*model.CandleGroup),
		dirty:   make(map[string]struct{}),
		pending: make(map[string]model.PendingConfig),
	}
}

// Get returns the group for a symbol, or nil when the symbol is new.
func (s *Storage) Get(symbol string) *model.CandleGroup {
	return s.groups[symbol]
}

// Put installs a group and marks it dirty.
func (s *Storage) Put(symbol string, g *model.CandleGroup) {
	s.groups[symbol] = g
	s.dirty[symbol] = struct{}{}
}

// Restore installs a group loaded from the state server. Restored groups
// start clean: nothing changed since the snapshot was written.
func (s *Storage) Restore(symbol string, stateJSON string) error {
	g, err := model.UnmarshalGroupState(stateJSON)
	if err != nil {
		return fmt.Errorf("restore %s: %w", symbol, err)
	}
	s.groups[symbol] = g
	delete(s.dirty, symbol)
	return nil
}

// MarkDirty flags a symbol for the next persistence flush.
func (s *Storage) MarkDirty(symbol string) {
	s.dirty[symbol] = struct{}{}
}

// Pending returns the staged config change for a symbol, if any.
func (s *Storage) Pending(symbol string) (model.PendingConfig, bool) {
	p, ok := s.pending[symbol]
	return p, ok
}

// StagePending stages a config change to apply at the next 1d completion.
func (s *Storage) StagePending(symbol string, p model.PendingConfig) {
	s.pending[symbol] = p
}

// ClearPending drops a symbol's staged config change.
func (s *Storage) ClearPending(symbol string) {
	delete(s.pending, symbol)
}

// DirtyEntries serializes every dirty group for a save_batch. The returned
// symbols identify which dirty flags to clear once the batch lands.
func (s *Storage) DirtyEntries() ([]model.StateEntry, []string, error) {
	if len(s.dirty) == 0 {
		return nil, nil, nil
	}
	entries := make([]model.StateEntry, 0, len(s.dirty))
	symbols := make([]string, 0, len(s.dirty))
	for symbol := range s.dirty {
		g := s.groups[symbol]
		if g == nil {
			delete(s.dirty, symbol)
			continue
		}
		stateJSON, err := g.MarshalState()
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, model.StateEntry{
			Exchange:  g.Exchange,
			Symbol:    symbol,
			StateJSON: stateJSON,
		})
		symbols = append(symbols, symbol)
	}
	return entries, symbols, nil
}

// ClearDirty drops the dirty flag for symbols whose snapshots persisted.
func (s *Storage) ClearDirty(symbols []string) {
	for _, symbol := range symbols {
		delete(s.dirty, symbol)
	}
}

// Len returns the number of groups held.
func (s *Storage) Len() int { return len(s.groups) }

// DirtyCount returns the number of symbols awaiting a flush.
func (s *Storage) DirtyCount() int { return len(s.dirty) }
