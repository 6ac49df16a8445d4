// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package lending

import (
	"math/big"
	"testing"

	"github.com/lendfi/indexer/chain"
	"github.com/lendfi/indexer/entity"
	"github.com/lendfi/indexer/store"
)

func (f *fixture) seedCommitment(commitmentID uint64, maxPrincipal int64, maxDuration uint64) *chain.CommitmentTerms {
	terms := &chain.CommitmentTerms{
		MaxPrincipal:                    big.NewInt(maxPrincipal),
		Expiration:                      f.ts + 86400*30,
		MaxDuration:                     maxDuration,
		MinInterestRate:                 big.NewInt(500),
		MaxPrincipalPerCollateralAmount: big.NewInt(0),
		Lender:                          lenderAddr,
		MarketplaceID:                   1,
		PrincipalTokenAddress:           daiAddr,
	}
	f.rd.Commitments[commitmentID] = terms
	return terms
}

func (f *fixture) createCommitment(commitmentID uint64, amount int64) {
	f.t.Helper()
	f.apply(&CreatedCommitment{
		Log:          f.log(commitAddr),
		CommitmentID: commitmentID,
		Lender:       lenderAddr,
		MarketID:     1,
		LendingToken: daiAddr,
		TokenAmount:  big.NewInt(amount),
	})
}

func (f *fixture) commitment(commitmentID uint64) *entity.Commitment {
	f.t.Helper()
	c := &entity.Commitment{}
	if err := f.st.Get(store.KindCommitment, entity.CommitmentEntityID(commitmentID), c); err != nil {
		f.t.Fatalf("get commitment %d: %v", commitmentID, err)
	}
	return c
}

func TestCreatedCommitment(t *testing.T) {
	f := newFixture(t)
	f.seedCommitment(5, 100000, 2592000)
	f.createCommitment(5, 5000)

	c := f.commitment(5)
	if c.Status != entity.CommitmentActive {
		t.Fatalf("status = %s, want Active", c.Status)
	}
	wantBig(t, "committed amount", c.CommittedAmount, 5000)
	wantBig(t, "max principal", c.MaxPrincipal, 100000)
	if c.MaxDuration != 2592000 {
		t.Fatalf("max duration = %d", c.MaxDuration)
	}
	if c.LenderAddress != lenderAddr {
		t.Fatalf("lender = %s", c.LenderAddress)
	}

	p := f.protocol()
	wantContains(t, "active commitments", p.ActiveCommitments, c.ID)

	// Committed capital shows as available at every scope.
	for _, id := range []string{
		entity.CommitmentVolumeID(c.ID, daiAddr),
		entity.LenderVolumeID(entity.LenderEntityID(1, lenderAddr), daiAddr),
		entity.MarketVolumeID(entity.MarketEntityID(1), daiAddr),
		entity.ProtocolVolumeID(daiAddr),
	} {
		wantBig(t, id+" available", f.volume(id).TotalAvailable, 5000)
	}
}

func TestUpdatedCommitmentReconcilesAvailability(t *testing.T) {
	f := newFixture(t)
	f.seedCommitment(5, 100000, 2592000)
	f.createCommitment(5, 5000)

	f.advanceBlock(12)
	f.apply(&UpdatedCommitment{
		Log:          f.log(commitAddr),
		CommitmentID: 5,
		Lender:       lenderAddr,
		MarketID:     1,
		LendingToken: daiAddr,
		TokenAmount:  big.NewInt(3000),
	})

	wantBig(t, "committed amount", f.commitment(5).CommittedAmount, 3000)
	wantBig(t, "protocol available", f.volume(entity.ProtocolVolumeID(daiAddr)).TotalAvailable, 3000)
}

func TestDeletedCommitment(t *testing.T) {
	f := newFixture(t)
	f.seedCommitment(5, 100000, 2592000)
	f.createCommitment(5, 5000)

	f.advanceBlock(12)
	f.apply(&DeletedCommitment{Log: f.log(commitAddr), CommitmentID: 5})

	c := f.commitment(5)
	if c.Status != entity.CommitmentDeleted {
		t.Fatalf("status = %s, want Deleted", c.Status)
	}
	wantBig(t, "committed amount", c.CommittedAmount, 0)

	p := f.protocol()
	wantNotContains(t, "active commitments", p.ActiveCommitments, c.ID)
	wantBig(t, "protocol available", f.volume(entity.ProtocolVolumeID(daiAddr)).TotalAvailable, 0)

	// Deleting twice is a replay no-op.
	f.advanceBlock(12)
	f.apply(&DeletedCommitment{Log: f.log(commitAddr), CommitmentID: 5})
	wantBig(t, "protocol available", f.volume(entity.ProtocolVolumeID(daiAddr)).TotalAvailable, 0)
}

func TestExercisedCommitment(t *testing.T) {
	f := newFixture(t)
	f.seedCommitment(5, 100000, 2592000)
	f.createCommitment(5, 5000)

	// The acceptance indexes first within the exercising transaction.
	f.advanceBlock(12)
	f.seedBid(1, 1000, 1200, 3600000)
	f.submitBid(1)
	f.acceptBid(1)
	f.apply(&ExercisedCommitment{
		Log:          f.log(commitAddr),
		CommitmentID: 5,
		Borrower:     borrowerAddr,
		TokenAmount:  big.NewInt(1000),
		BidID:        1,
	})

	c := f.commitment(5)
	wantBig(t, "committed amount", c.CommittedAmount, 4000)
	wantBig(t, "accepted principal", c.AcceptedPrincipal, 1000)

	b := f.bid(1)
	if b.Commitment != c.ID {
		t.Fatalf("bid commitment = %s, want %s", b.Commitment, c.ID)
	}

	wantBig(t, "protocol available", f.volume(entity.ProtocolVolumeID(daiAddr)).TotalAvailable, 4000)
	cv := f.volume(entity.CommitmentVolumeID(c.ID, daiAddr))
	wantBig(t, "commitment volume loaned", cv.TotalLoaned, 1000)
	wantBig(t, "commitment volume active", cv.TotalActive, 1000)

	cc := f.count("tokenVolume", cv.ID)
	wantContains(t, "commitment volume bucket", cc.Accepted, b.ID)
}

func TestExercisedCommitmentDrains(t *testing.T) {
	f := newFixture(t)
	f.seedCommitment(5, 100000, 2592000)
	f.createCommitment(5, 1000)

	f.advanceBlock(12)
	f.seedBid(1, 1000, 1200, 3600000)
	f.submitBid(1)
	f.acceptBid(1)
	f.apply(&ExercisedCommitment{
		Log:          f.log(commitAddr),
		CommitmentID: 5,
		Borrower:     borrowerAddr,
		TokenAmount:  big.NewInt(1000),
		BidID:        1,
	})

	c := f.commitment(5)
	if c.Status != entity.CommitmentDrained {
		t.Fatalf("status = %s, want Drained", c.Status)
	}
	wantNotContains(t, "active commitments", f.protocol().ActiveCommitments, c.ID)
}

func TestUpdatedCommitmentBorrowers(t *testing.T) {
	f := newFixture(t)
	f.seedCommitment(5, 100000, 2592000)
	f.createCommitment(5, 5000)
	f.rd.Borrowers[5] = []string{"0xAAAA000000000000000000000000000000000009", borrowerAddr}

	f.advanceBlock(12)
	f.apply(&UpdatedCommitmentBorrowers{Log: f.log(commitAddr), CommitmentID: 5})

	c := f.commitment(5)
	if len(c.CommitmentBorrowers) != 2 {
		t.Fatalf("borrowers = %v", c.CommitmentBorrowers)
	}
	wantContains(t, "borrower allowlist", c.CommitmentBorrowers, "0xaaaa000000000000000000000000000000000009")
	wantContains(t, "borrower allowlist", c.CommitmentBorrowers, borrowerAddr)
}
