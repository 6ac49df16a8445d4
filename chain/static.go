// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package chain

import (
	"context"
	"math/big"
	"strings"
)

// StaticReader is an in-memory Reader for tests and replays against a fixed
// chain snapshot. Lookups miss with ErrReverted, matching what a node
// reports for unset storage.
type StaticReader struct {
	Bids        map[uint64]*BidDetails
	DueDates    map[uint64]uint64
	Expirations map[uint64]uint64
	Markets     map[uint64][2]bool // lender, borrower attestation
	Commitments map[uint64]*CommitmentTerms
	Borrowers   map[uint64][]string
	Allocations map[uint64]*AllocationTerms
	Tokens      map[string]*TokenMetadata
	Balances    map[string]*big.Int // owner|token
	Allowances  map[string]*big.Int // owner|token
}

// NewStaticReader returns an empty snapshot reader.
func NewStaticReader() *StaticReader {
	return &StaticReader{
		Bids:        make(map[uint64]*BidDetails),
		DueDates:    make(map[uint64]uint64),
		Expirations: make(map[uint64]uint64),
		Markets:     make(map[uint64][2]bool),
		Commitments: make(map[uint64]*CommitmentTerms),
		Borrowers:   make(map[uint64][]string),
		Allocations: make(map[uint64]*AllocationTerms),
		Tokens:      make(map[string]*TokenMetadata),
		Balances:    make(map[string]*big.Int),
		Allowances:  make(map[string]*big.Int),
	}
}

// FundsKey builds the lookup key for balances and allowances.
func FundsKey(owner, token string) string {
	return strings.ToLower(owner) + "|" + strings.ToLower(token)
}

func (s *StaticReader) BidDetails(_ context.Context, _ string, bidID uint64) (*BidDetails, error) {
	if d, ok := s.Bids[bidID]; ok {
		return d, nil
	}
	return nil, ErrReverted
}

func (s *StaticReader) NextDueDate(_ context.Context, _ string, bidID uint64) (uint64, error) {
	if d, ok := s.DueDates[bidID]; ok {
		return d, nil
	}
	return 0, ErrReverted
}

func (s *StaticReader) BidExpirationTime(_ context.Context, _ string, bidID uint64) (uint64, error) {
	if d, ok := s.Expirations[bidID]; ok {
		return d, nil
	}
	return 0, ErrReverted
}

func (s *StaticReader) MarketAttestationRequirements(_ context.Context, _ string, marketID uint64) (bool, bool, error) {
	if m, ok := s.Markets[marketID]; ok {
		return m[0], m[1], nil
	}
	return false, false, ErrReverted
}

func (s *StaticReader) CommitmentTerms(_ context.Context, _ string, commitmentID uint64) (*CommitmentTerms, error) {
	if c, ok := s.Commitments[commitmentID]; ok {
		return c, nil
	}
	return nil, ErrReverted
}

func (s *StaticReader) CommitmentBorrowers(_ context.Context, _ string, commitmentID uint64) ([]string, error) {
	if b, ok := s.Borrowers[commitmentID]; ok {
		return b, nil
	}
	return nil, ErrReverted
}

func (s *StaticReader) AllocationTerms(_ context.Context, _ string, allocationID uint64) (*AllocationTerms, error) {
	if a, ok := s.Allocations[allocationID]; ok {
		return a, nil
	}
	return nil, ErrReverted
}

func (s *StaticReader) TokenMetadata(_ context.Context, token string) (*TokenMetadata, error) {
	if t, ok := s.Tokens[strings.ToLower(token)]; ok {
		return t, nil
	}
	return &TokenMetadata{Type: "ERC20"}, nil
}

func (s *StaticReader) ERC20Balance(_ context.Context, token, owner string) (*big.Int, error) {
	if b, ok := s.Balances[FundsKey(owner, token)]; ok {
		return b, nil
	}
	return new(big.Int), nil
}

func (s *StaticReader) ERC20Allowance(_ context.Context, token, owner, _ string) (*big.Int, error) {
	if a, ok := s.Allowances[FundsKey(owner, token)]; ok {
		return a, nil
	}
	return new(big.Int), nil
}
