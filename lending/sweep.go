// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package lending

import (
	"log"
	"math/big"

	"github.com/lendfi/indexer/entity"
	"github.com/lendfi/indexer/store"
)

// sweepBids walks the protocol partition and advances every bid whose
// status is now stale by the clock alone: submitted past expiration,
// accepted past due, due-soon past the grace window, late past the market
// default duration. Each bid moves at most one step per pass.
func (t *txn) sweepBids() error {
	pc, err := t.loadLoanStatusCount("protocol", entity.ProtocolID, nil)
	if err != nil {
		return err
	}

	type step struct {
		from entity.BidStatus
		due  func(*entity.Bid, uint64) bool
		next entity.BidStatus
	}
	steps := []step{
		{entity.StatusSubmitted, entity.IsBidExpired, entity.StatusExpired},
		{entity.StatusAccepted, entity.IsBidDueSoon, entity.StatusDueSoon},
		{entity.StatusDueSoon, entity.IsBidLate, entity.StatusLate},
		{entity.StatusLate, entity.IsBidDefaulted, entity.StatusDefaulted},
	}

	for _, s := range steps {
		bucket := pc.Bucket(s.from)
		if bucket == nil {
			continue
		}
		// Snapshot: updateBidStatus rewrites the bucket under us.
		ids := append([]string(nil), *bucket...)
		for _, id := range ids {
			b := &entity.Bid{}
			if err := t.b.Get(store.KindBid, id, b); err != nil {
				return errNotFoundAs(err, store.KindBid, id)
			}
			if b.Status != s.from || !s.due(b, t.now) {
				continue
			}
			if s.next == entity.StatusExpired {
				if err := t.expireOpenRequest(b); err != nil {
					return err
				}
			}
			if err := t.updateBidStatus(b, s.next); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *txn) expireOpenRequest(b *entity.Bid) error {
	m, err := t.loadMarket(b.MarketplaceID)
	if err != nil {
		return err
	}
	if m.OpenRequests > 0 {
		m.OpenRequests--
	}
	return t.saveMarket(m)
}

// fundsReader caches per lender and token the balance and allowance reads
// a commitment sweep makes, so a lender with many commitments on one token
// costs two calls instead of two per commitment.
type fundsReader struct {
	t          *txn
	balances   map[string]*big.Int
	allowances map[string]*big.Int
}

func newFundsReader(t *txn) *fundsReader {
	return &fundsReader{
		t:          t,
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
	}
}

func (f *fundsReader) funds(c *entity.Commitment) (balance, allowance *big.Int, err error) {
	key := c.LenderAddress + "|" + c.PrincipalTokenAddress
	if b, ok := f.balances[key]; ok {
		return b, f.allowances[key], nil
	}
	balance, err = f.t.reader.ERC20Balance(f.t.ctx, c.PrincipalTokenAddress, c.LenderAddress)
	if err != nil {
		return nil, nil, chainRead("lender balance", err)
	}
	allowance, err = f.t.reader.ERC20Allowance(f.t.ctx, c.PrincipalTokenAddress, c.LenderAddress, f.t.contracts.LenderCommitment)
	if err != nil {
		return nil, nil, chainRead("lender allowance", err)
	}
	f.balances[key] = balance
	f.allowances[key] = allowance
	return balance, allowance, nil
}

// sweepCommitments refreshes lender funding for every tracked commitment.
// Active commitments past their expiration become Expired; active ones
// whose lender balance or allowance reads zero become Inactive, and
// inactive ones whose lender is funded again become Active. Read failures
// skip the commitment rather than abort the pass.
func (t *txn) sweepCommitments() error {
	p, err := t.loadProtocol()
	if err != nil {
		return err
	}
	fr := newFundsReader(t)

	active := append([]string(nil), p.ActiveCommitments...)
	for _, id := range active {
		c := &entity.Commitment{}
		if err := t.b.Get(store.KindCommitment, id, c); err != nil {
			return errNotFoundAs(err, store.KindCommitment, id)
		}
		if c.ExpirationTimestamp != 0 && t.now > c.ExpirationTimestamp {
			if err := t.updateCommitmentStatus(c, entity.CommitmentExpired); err != nil {
				return err
			}
			continue
		}
		if err := t.refreshCommitmentFunds(c, fr); err != nil {
			log.Printf("[lending] commitment %s funds read failed: %v", c.ID, err)
		}
	}

	inactive := append([]string(nil), p.InactiveCommitments...)
	for _, id := range inactive {
		c := &entity.Commitment{}
		if err := t.b.Get(store.KindCommitment, id, c); err != nil {
			return errNotFoundAs(err, store.KindCommitment, id)
		}
		if c.ExpirationTimestamp != 0 && t.now > c.ExpirationTimestamp {
			if err := t.updateCommitmentStatus(c, entity.CommitmentExpired); err != nil {
				return err
			}
			continue
		}
		if err := t.refreshCommitmentFunds(c, fr); err != nil {
			log.Printf("[lending] commitment %s funds read failed: %v", c.ID, err)
		}
	}
	return nil
}

func (t *txn) refreshCommitmentFunds(c *entity.Commitment, fr *fundsReader) error {
	balance, allowance, err := fr.funds(c)
	if err != nil {
		return err
	}
	c.LenderPrincipalBalance = balance
	c.LenderPrincipalAllowance = allowance
	c.UpdatedAt = t.now

	funded := balance.Sign() > 0 && allowance.Sign() > 0
	switch {
	case c.Status == entity.CommitmentActive && !funded:
		return t.updateCommitmentStatus(c, entity.CommitmentInactive)
	case c.Status == entity.CommitmentInactive && funded:
		return t.updateCommitmentStatus(c, entity.CommitmentActive)
	}
	return t.saveCommitment(c)
}
