// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package store persists indexer entities in a key-value database using
// github.com/luxfi/database. The indexer can own a BadgerDB directory or
// share a node's database in-process behind a prefix, and every entity is
// stored as JSON under a kind-scoped key so replays are byte-deterministic.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/prefixdb"
)

// Kind names an entity table.
type Kind string

const (
	KindBid                Kind = "bid"
	KindMarket             Kind = "market"
	KindUser               Kind = "user"
	KindLender             Kind = "lender"
	KindBorrower           Kind = "borrower"
	KindToken              Kind = "token"
	KindTokenVolume        Kind = "tokenVolume"
	KindLoanStatusCount    Kind = "loanStatusCount"
	KindCommitment         Kind = "commitment"
	KindRewardAllocation   Kind = "rewardAllocation"
	KindBidReward          Kind = "bidReward"
	KindCommitmentReward   Kind = "commitmentReward"
	KindBidCollateral      Kind = "bidCollateral"
	KindPayment            Kind = "payment"
	KindFundedTx           Kind = "fundedTx"
	KindProtocol           Kind = "protocol"
	KindProtocolCollateral Kind = "protocolCollateral"
)

// ErrNotFound is returned when an entity id has no record.
var ErrNotFound = database.ErrNotFound

// IsNotFound reports whether err means the entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, database.ErrNotFound)
}

// Key prefixes within the store's database.
var (
	prefixEntity = "ent:"
	prefixRel    = "rel:"
	prefixMeta   = "meta:"
)

// Config for the store.
type Config struct {
	// Path to the database directory (for file-based backends).
	Path string

	// InProcess enables sharing a node's database.
	InProcess bool

	// NodeDB is the node's database (only used when InProcess is true).
	NodeDB database.Database

	// Prefix isolates indexer data inside a shared database.
	Prefix []byte
}

// Store wraps a luxfi/database.Database with the entity codec.
type Store struct {
	db    database.Database
	owned bool

	mu     sync.RWMutex
	closed bool
}

// New opens a store per cfg: a shared node database behind a prefix when
// InProcess is set, otherwise an owned BadgerDB at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.InProcess && cfg.NodeDB != nil {
		prefix := cfg.Prefix
		if len(prefix) == 0 {
			prefix = []byte("lending:")
		}
		return &Store{db: prefixdb.New(prefix, cfg.NodeDB)}, nil
	}
	db, err := badgerdb.New(cfg.Path, nil, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open badgerdb: %w", err)
	}
	return &Store{db: db, owned: true}, nil
}

// NewMemory creates an in-memory store (for testing).
func NewMemory() *Store {
	return &Store{db: memdb.New(), owned: true}
}

func entityKey(kind Kind, id string) []byte {
	return []byte(prefixEntity + string(kind) + ":" + id)
}

func relKey(rel, from, to string) []byte {
	return []byte(prefixRel + rel + ":" + from + ":" + to)
}

// Get unmarshals the entity at (kind, id) into v. Returns ErrNotFound when
// the id has no record.
func (s *Store) Get(kind Kind, id string, v any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return database.ErrClosed
	}
	raw, err := s.db.Get(entityKey(kind, id))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Has reports whether (kind, id) exists.
func (s *Store) Has(kind Kind, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, database.ErrClosed
	}
	return s.db.Has(entityKey(kind, id))
}

// Put marshals and stores v at (kind, id).
func (s *Store) Put(kind Kind, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", kind, id, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return database.ErrClosed
	}
	return s.db.Put(entityKey(kind, id), raw)
}

// Delete removes (kind, id). Deleting an absent id is not an error.
func (s *Store) Delete(kind Kind, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return database.ErrClosed
	}
	return s.db.Delete(entityKey(kind, id))
}

// List returns every id of a kind, in key order.
func (s *Store) List(kind Kind) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, database.ErrClosed
	}
	prefix := prefixEntity + string(kind) + ":"
	it := s.db.NewIteratorWithPrefix([]byte(prefix))
	defer it.Release()

	var ids []string
	for it.Next() {
		ids = append(ids, strings.TrimPrefix(string(it.Key()), prefix))
	}
	return ids, it.Error()
}

// Relate records a directed association, e.g. borrower id to bid id.
func (s *Store) Relate(rel, from, to string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return database.ErrClosed
	}
	return s.db.Put(relKey(rel, from, to), nil)
}

// Unrelate removes a directed association.
func (s *Store) Unrelate(rel, from, to string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return database.ErrClosed
	}
	return s.db.Delete(relKey(rel, from, to))
}

// Related returns the targets associated with from, in insertion key order.
func (s *Store) Related(rel, from string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, database.ErrClosed
	}
	prefix := prefixRel + rel + ":" + from + ":"
	it := s.db.NewIteratorWithPrefix([]byte(prefix))
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, strings.TrimPrefix(string(it.Key()), prefix))
	}
	return out, it.Error()
}

// Checkpoint is the durable replay cursor: the last event batch fully
// committed, identified by block position.
type Checkpoint struct {
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint64 `json:"logIndex"`
	RunID       string `json:"runId"`
}

var checkpointKey = []byte(prefixMeta + "checkpoint")

// PutCheckpoint durably records cp. Callers must only invoke this after the
// batch that produced cp has committed.
func (s *Store) PutCheckpoint(cp Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return database.ErrClosed
	}
	return s.db.Put(checkpointKey, raw)
}

// GetCheckpoint returns the replay cursor, or a zero checkpoint when none
// has been written yet.
func (s *Store) GetCheckpoint() (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Checkpoint{}, database.ErrClosed
	}
	raw, err := s.db.Get(checkpointKey)
	if IsNotFound(err) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	err = json.Unmarshal(raw, &cp)
	return cp, err
}

// HealthCheck pings the underlying database.
func (s *Store) HealthCheck(ctx context.Context) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, database.ErrClosed
	}
	return s.db.HealthCheck(ctx)
}

// Close closes the store. A shared node database is left open.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned {
		return s.db.Close()
	}
	return nil
}
