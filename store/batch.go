// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/luxfi/database"
)

// Batch stages entity writes on top of the store and commits them through a
// single database batch, so everything an event handler produced lands
// together or not at all. Reads see staged writes first, then the store.
//
// A Batch is not safe for concurrent use.
type Batch struct {
	s       *Store
	staged  map[string][]byte
	deleted map[string]bool
}

// NewBatch starts an empty overlay on top of the store.
func (s *Store) NewBatch() *Batch {
	return &Batch{
		s:       s,
		staged:  make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// Store returns the backing store, for committed-state listings.
func (b *Batch) Store() *Store { return b.s }

// Get reads (kind, id), seeing staged writes before committed state.
func (b *Batch) Get(kind Kind, id string, v any) error {
	key := string(entityKey(kind, id))
	if b.deleted[key] {
		return ErrNotFound
	}
	if raw, ok := b.staged[key]; ok {
		return json.Unmarshal(raw, v)
	}
	return b.s.Get(kind, id, v)
}

// Has reports whether (kind, id) exists in the overlay view.
func (b *Batch) Has(kind Kind, id string) (bool, error) {
	key := string(entityKey(kind, id))
	if b.deleted[key] {
		return false, nil
	}
	if _, ok := b.staged[key]; ok {
		return true, nil
	}
	return b.s.Has(kind, id)
}

// Put stages v at (kind, id).
func (b *Batch) Put(kind Kind, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", kind, id, err)
	}
	key := string(entityKey(kind, id))
	delete(b.deleted, key)
	b.staged[key] = raw
	return nil
}

// Delete stages the removal of (kind, id).
func (b *Batch) Delete(kind Kind, id string) {
	key := string(entityKey(kind, id))
	delete(b.staged, key)
	b.deleted[key] = true
}

// Relate stages a directed association.
func (b *Batch) Relate(rel, from, to string) {
	key := string(relKey(rel, from, to))
	delete(b.deleted, key)
	b.staged[key] = nil
}

// Unrelate stages the removal of a directed association.
func (b *Batch) Unrelate(rel, from, to string) {
	key := string(relKey(rel, from, to))
	delete(b.staged, key)
	b.deleted[key] = true
}

// Related merges committed and staged associations for from.
func (b *Batch) Related(rel, from string) ([]string, error) {
	out, err := b.s.Related(rel, from)
	if err != nil {
		return nil, err
	}
	prefix := prefixRel + rel + ":" + from + ":"
	seen := make(map[string]bool, len(out))
	for _, id := range out {
		seen[id] = true
	}
	kept := out[:0]
	for _, id := range out {
		if !b.deleted[prefix+id] {
			kept = append(kept, id)
		}
	}
	var added []string
	for key := range b.staged {
		if strings.HasPrefix(key, prefix) {
			if id := strings.TrimPrefix(key, prefix); !seen[id] {
				added = append(added, id)
			}
		}
	}
	sort.Strings(added)
	return append(kept, added...), nil
}

// Len returns the number of staged operations.
func (b *Batch) Len() int {
	return len(b.staged) + len(b.deleted)
}

// Commit writes all staged operations atomically and empties the overlay.
func (b *Batch) Commit() error {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	if b.s.closed {
		return database.ErrClosed
	}

	dbb := b.s.db.NewBatch()
	for key, raw := range b.staged {
		if err := dbb.Put([]byte(key), raw); err != nil {
			return err
		}
	}
	for key := range b.deleted {
		if err := dbb.Delete([]byte(key)); err != nil {
			return err
		}
	}
	if err := dbb.Write(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	b.staged = make(map[string][]byte)
	b.deleted = make(map[string]bool)
	return nil
}

// Discard drops all staged operations.
func (b *Batch) Discard() {
	b.staged = make(map[string][]byte)
	b.deleted = make(map[string]bool)
}

// StagedEntity is one pending entity write, exposed so callers can mirror
// or broadcast committed changes.
type StagedEntity struct {
	Kind    Kind
	ID      string
	Data    []byte
	Deleted bool
}

// StagedEntities returns the pending entity writes in deterministic order.
// Relation keys are excluded.
func (b *Batch) StagedEntities() []StagedEntity {
	var out []StagedEntity
	for key, raw := range b.staged {
		if kind, id, ok := splitEntityKey(key); ok {
			out = append(out, StagedEntity{Kind: kind, ID: id, Data: raw})
		}
	}
	for key := range b.deleted {
		if kind, id, ok := splitEntityKey(key); ok {
			out = append(out, StagedEntity{Kind: kind, ID: id, Deleted: true})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func splitEntityKey(key string) (Kind, string, bool) {
	rest, ok := strings.CutPrefix(key, prefixEntity)
	if !ok {
		return "", "", false
	}
	kind, id, ok := strings.Cut(rest, ":")
	if !ok {
		return "", "", false
	}
	return Kind(kind), id, true
}
