// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package lending

import (
	"fmt"
	"math/big"

	"github.com/lendfi/indexer/entity"
	"github.com/lendfi/indexer/store"
)

// expansionPercent scales reward ratios into basis-point style integers so
// ROI and APY survive integer division.
const expansionPercent = 10000

const yearSeconds = 31536000

func allocationStrategyName(v uint64) string {
	if v == 1 {
		return "LENDER"
	}
	return "BORROWER"
}

// refreshAllocation re-reads an allocation's terms from chain state.
func (t *txn) refreshAllocation(a *entity.RewardAllocation, contract string, allocationID uint64) error {
	terms, err := t.reader.AllocationTerms(t.ctx, contract, allocationID)
	if err != nil {
		return chainRead(fmt.Sprintf("allocation %d terms", allocationID), err)
	}
	m, err := t.loadMarket(terms.MarketplaceID)
	if err != nil {
		return err
	}
	rewardTok, err := t.loadToken(terms.RewardTokenAddress, nil, "ERC20")
	if err != nil {
		return err
	}
	allocator, err := t.loadUser(terms.Allocator)
	if err != nil {
		return err
	}

	a.Allocator = allocator.ID
	a.AllocatorAddress = entity.NormalizeAddress(terms.Allocator)
	a.RewardToken = rewardTok.ID
	a.RewardTokenAddress = rewardTok.Address
	a.RewardTokenAmountRemaining = terms.RewardTokenAmount
	if a.RewardTokenAmountInitial.Sign() == 0 {
		a.RewardTokenAmountInitial = terms.RewardTokenAmount
	}
	a.Marketplace = m.ID
	a.MarketplaceID = m.MarketplaceID
	if !entity.IsZeroAddress(terms.RequiredPrincipalTokenAddress) {
		a.RequiredPrincipalTokenAddress = entity.NormalizeAddress(terms.RequiredPrincipalTokenAddress)
	} else {
		a.RequiredPrincipalTokenAddress = ""
	}
	if !entity.IsZeroAddress(terms.RequiredCollateralTokenAddress) {
		a.RequiredCollateralTokenAddress = entity.NormalizeAddress(terms.RequiredCollateralTokenAddress)
	} else {
		a.RequiredCollateralTokenAddress = ""
	}
	a.MinimumCollateralPerPrincipal = terms.MinimumCollateralPerPrincipal
	a.RewardPerLoanPrincipalAmount = terms.RewardPerLoanPrincipalAmount
	a.BidStartTimeMin = terms.BidStartTimeMin
	a.BidStartTimeMax = terms.BidStartTimeMax
	a.AllocationStrategy = allocationStrategyName(terms.AllocationStrategy)
	a.UpdatedAt = t.now
	return t.saveAllocation(a)
}

// updateAllocationStatus transitions an allocation and maintains the
// protocol's active reward set.
func (t *txn) updateAllocationStatus(a *entity.RewardAllocation, next entity.AllocationStatus) error {
	p, err := t.loadProtocol()
	if err != nil {
		return err
	}
	a.Status = next
	if next == entity.AllocationActive {
		entity.AddToSet(&p.ActiveRewards, a.ID)
	} else {
		entity.RemoveFromSet(&p.ActiveRewards, a.ID)
	}
	if err := t.saveProtocol(p); err != nil {
		return err
	}
	return t.saveAllocation(a)
}

func (t *txn) handleCreatedAllocation(e *CreatedAllocation) error {
	a, err := t.loadAllocation(e.AllocationID)
	if err != nil {
		return err
	}
	if err := t.refreshAllocation(a, e.ContractAddress, e.AllocationID); err != nil {
		return err
	}
	if err := t.updateAllocationStatus(a, entity.AllocationActive); err != nil {
		return err
	}
	if err := t.linkRewardToBids(a); err != nil {
		return err
	}
	return t.scoreAllocationCommitments(a)
}

func (t *txn) handleUpdatedAllocation(e *UpdatedAllocation) error {
	a, err := t.requireAllocation(e.AllocationID)
	if err != nil {
		return err
	}
	if err := t.refreshAllocation(a, e.ContractAddress, e.AllocationID); err != nil {
		return err
	}
	// Terms changed: drop unclaimed links and re-evaluate from scratch.
	if err := t.unlinkBidsFromReward(a); err != nil {
		return err
	}
	next := entity.AllocationActive
	if a.RewardTokenAmountRemaining.Sign() == 0 {
		next = entity.AllocationDrained
	}
	if err := t.updateAllocationStatus(a, next); err != nil {
		return err
	}
	if next != entity.AllocationActive {
		return nil
	}
	if err := t.linkRewardToBids(a); err != nil {
		return err
	}
	return t.scoreAllocationCommitments(a)
}

func (t *txn) handleIncreasedAllocation(e *IncreasedAllocation) error {
	a, err := t.requireAllocation(e.AllocationID)
	if err != nil {
		return err
	}
	a.RewardTokenAmountRemaining = new(big.Int).Add(a.RewardTokenAmountRemaining, e.Amount)
	a.UpdatedAt = t.now
	if err := t.updateAllocationStatus(a, entity.AllocationActive); err != nil {
		return err
	}
	return t.linkRewardToBids(a)
}

func (t *txn) handleDecreasedAllocation(e *DecreasedAllocation) error {
	a, err := t.requireAllocation(e.AllocationID)
	if err != nil {
		return err
	}
	a.RewardTokenAmountRemaining = new(big.Int).Sub(a.RewardTokenAmountRemaining, e.Amount)
	clampZero(a.RewardTokenAmountRemaining)
	a.UpdatedAt = t.now
	if a.RewardTokenAmountRemaining.Sign() == 0 {
		return t.drainAllocation(a)
	}
	return t.saveAllocation(a)
}

// drainAllocation marks an exhausted allocation Drained and releases its
// unclaimed links; nothing is left to pay them out.
func (t *txn) drainAllocation(a *entity.RewardAllocation) error {
	if err := t.unlinkBidsFromReward(a); err != nil {
		return err
	}
	return t.updateAllocationStatus(a, entity.AllocationDrained)
}

func (t *txn) handleDeletedAllocation(e *DeletedAllocation) error {
	a, err := t.requireAllocation(e.AllocationID)
	if err != nil {
		return err
	}
	if err := t.unlinkBidsFromReward(a); err != nil {
		return err
	}
	a.RewardTokenAmountRemaining = bigZero()
	a.UpdatedAt = t.now
	return t.updateAllocationStatus(a, entity.AllocationDeleted)
}

func (t *txn) handleClaimedRewards(e *ClaimedRewards) error {
	a, err := t.requireAllocation(e.AllocationID)
	if err != nil {
		return err
	}
	brID := entity.BidRewardID(entity.BidEntityID(e.BidID), a.ID)
	br := &entity.BidReward{}
	if err := t.b.Get(store.KindBidReward, brID, br); err != nil {
		return errNotFoundAs(err, store.KindBidReward, brID)
	}
	if br.Claimed {
		return nil
	}
	br.Claimed = true
	br.ClaimedAt = t.now
	br.UpdatedAt = t.now
	if err := t.b.Put(store.KindBidReward, brID, br); err != nil {
		return err
	}

	if e.Amount != nil {
		a.RewardTokenAmountRemaining = new(big.Int).Sub(a.RewardTokenAmountRemaining, e.Amount)
		clampZero(a.RewardTokenAmountRemaining)
	}
	a.UpdatedAt = t.now
	if a.RewardTokenAmountRemaining.Sign() == 0 {
		return t.drainAllocation(a)
	}
	return t.saveAllocation(a)
}

// rewardableStatuses returns the partition buckets whose bids can earn
// under a strategy. Borrower incentives only pay fully repaid loans;
// lender incentives pay any funded loan, liquidated ones included.
func rewardableStatuses(strategy string) []entity.BidStatus {
	if strategy == "LENDER" {
		return []entity.BidStatus{
			entity.StatusAccepted, entity.StatusDueSoon, entity.StatusLate,
			entity.StatusDefaulted, entity.StatusRepaid, entity.StatusLiquidated,
		}
	}
	return []entity.BidStatus{entity.StatusRepaid}
}

func strategyAllows(a *entity.RewardAllocation, s entity.BidStatus) bool {
	for _, rs := range rewardableStatuses(a.AllocationStrategy) {
		if rs == s {
			return true
		}
	}
	return false
}

// bidEligibleForReward applies the allocation's filters to one bid.
func (t *txn) bidEligibleForReward(a *entity.RewardAllocation, b *entity.Bid) (bool, error) {
	if b.MarketplaceID != a.MarketplaceID {
		return false, nil
	}
	if a.RequiredPrincipalTokenAddress != "" && b.LendingTokenAddress != a.RequiredPrincipalTokenAddress {
		return false, nil
	}
	if a.BidStartTimeMin > 0 && b.AcceptedTimestamp < a.BidStartTimeMin {
		return false, nil
	}
	if a.BidStartTimeMax > 0 && b.AcceptedTimestamp > a.BidStartTimeMax {
		return false, nil
	}
	if a.RequiredCollateralTokenAddress == "" {
		return true, nil
	}

	for _, cid := range b.Collateral {
		c := &entity.BidCollateral{}
		if err := t.b.Get(store.KindBidCollateral, cid, c); err != nil {
			return false, errNotFoundAs(err, store.KindBidCollateral, cid)
		}
		if c.CollateralAddress != a.RequiredCollateralTokenAddress {
			continue
		}
		if a.MinimumCollateralPerPrincipal.Sign() <= 0 {
			return true, nil
		}
		ok, err := t.collateralMeetsRatio(a, b, c)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// collateralMeetsRatio checks the floor-division collateral requirement:
//
//	collateralAmount >= principal * minRatio / 10^(principalDecimals+collateralDecimals)
func (t *txn) collateralMeetsRatio(a *entity.RewardAllocation, b *entity.Bid, c *entity.BidCollateral) (bool, error) {
	principalTok := &entity.Token{}
	if err := t.b.Get(store.KindToken, b.LendingToken, principalTok); err != nil {
		return false, errNotFoundAs(err, store.KindToken, b.LendingToken)
	}
	collTok := &entity.Token{}
	if err := t.b.Get(store.KindToken, c.Token, collTok); err != nil {
		return false, errNotFoundAs(err, store.KindToken, c.Token)
	}
	scale := new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(principalTok.Decimals+collTok.Decimals), nil)
	required := new(big.Int).Mul(b.Principal, a.MinimumCollateralPerPrincipal)
	required.Quo(required, scale)
	return c.Amount.Cmp(required) >= 0, nil
}

// createBidReward links one bid to one allocation, once.
func (t *txn) createBidReward(a *entity.RewardAllocation, b *entity.Bid) error {
	id := entity.BidRewardID(b.ID, a.ID)
	if ok, err := t.b.Has(store.KindBidReward, id); err != nil {
		return err
	} else if ok {
		return nil
	}
	user := b.BorrowerAddress
	if a.AllocationStrategy == "LENDER" {
		user = b.LenderAddress
	}
	br := &entity.BidReward{
		ID:        id,
		CreatedAt: t.now,
		UpdatedAt: t.now,
		Reward:    a.ID,
		Bid:       b.ID,
		User:      user,
	}
	if err := t.b.Put(store.KindBidReward, id, br); err != nil {
		return err
	}
	entity.AddToSet(&a.BidRewards, id)
	return t.saveAllocation(a)
}

// linkRewardToBids scans the allocation's market partition, restricted to
// the rewardable buckets, and links every eligible bid.
func (t *txn) linkRewardToBids(a *entity.RewardAllocation) error {
	if a.Marketplace == "" {
		return nil
	}
	mc, err := t.loadLoanStatusCount("market", a.Marketplace, nil)
	if err != nil {
		return err
	}
	for _, s := range rewardableStatuses(a.AllocationStrategy) {
		bucket := mc.Bucket(s)
		if bucket == nil {
			continue
		}
		for _, bidID := range *bucket {
			b := &entity.Bid{}
			if err := t.b.Get(store.KindBid, bidID, b); err != nil {
				return errNotFoundAs(err, store.KindBid, bidID)
			}
			ok, err := t.bidEligibleForReward(a, b)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := t.createBidReward(a, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// linkBidToRewards re-evaluates one bid against every active allocation,
// called when the bid is accepted or fully repaid.
func (t *txn) linkBidToRewards(b *entity.Bid) error {
	p, err := t.loadProtocol()
	if err != nil {
		return err
	}
	for _, aid := range p.ActiveRewards {
		a := &entity.RewardAllocation{}
		if err := t.b.Get(store.KindRewardAllocation, aid, a); err != nil {
			return errNotFoundAs(err, store.KindRewardAllocation, aid)
		}
		if !strategyAllows(a, b.Status) {
			continue
		}
		ok, err := t.bidEligibleForReward(a, b)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := t.createBidReward(a, b); err != nil {
			return err
		}
	}
	return nil
}

// unlinkBidsFromReward deletes the allocation's unclaimed links. Claimed
// rewards are history and survive.
func (t *txn) unlinkBidsFromReward(a *entity.RewardAllocation) error {
	kept := a.BidRewards[:0]
	for _, brID := range a.BidRewards {
		br := &entity.BidReward{}
		if err := t.b.Get(store.KindBidReward, brID, br); err != nil {
			return errNotFoundAs(err, store.KindBidReward, brID)
		}
		if br.Claimed {
			kept = append(kept, brID)
			continue
		}
		t.b.Delete(store.KindBidReward, brID)
	}
	a.BidRewards = kept
	return t.saveAllocation(a)
}

// scoreCommitmentRewards scores every active allocation against one
// commitment, and scoreAllocationCommitments the other way around.

func (t *txn) scoreCommitmentRewards(c *entity.Commitment) error {
	p, err := t.loadProtocol()
	if err != nil {
		return err
	}
	for _, aid := range p.ActiveRewards {
		a := &entity.RewardAllocation{}
		if err := t.b.Get(store.KindRewardAllocation, aid, a); err != nil {
			return errNotFoundAs(err, store.KindRewardAllocation, aid)
		}
		if err := t.scoreCommitmentReward(a, c); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) scoreAllocationCommitments(a *entity.RewardAllocation) error {
	p, err := t.loadProtocol()
	if err != nil {
		return err
	}
	for _, cid := range p.ActiveCommitments {
		c := &entity.Commitment{}
		if err := t.b.Get(store.KindCommitment, cid, c); err != nil {
			return errNotFoundAs(err, store.KindCommitment, cid)
		}
		if err := t.scoreCommitmentReward(a, c); err != nil {
			return err
		}
	}
	return nil
}

// scoreCommitmentReward rates how attractive an allocation makes lending
// through a commitment: ROI in expanded percent of principal, annualized
// into APY over the commitment's maximum duration.
func (t *txn) scoreCommitmentReward(a *entity.RewardAllocation, c *entity.Commitment) error {
	if a.MarketplaceID != c.MarketplaceID {
		return nil
	}
	if a.RequiredPrincipalTokenAddress != "" && a.RequiredPrincipalTokenAddress != c.PrincipalTokenAddress {
		return nil
	}

	principalTok := &entity.Token{}
	if err := t.b.Get(store.KindToken, c.PrincipalToken, principalTok); err != nil {
		return errNotFoundAs(err, store.KindToken, c.PrincipalToken)
	}
	scale := new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(principalTok.Decimals), nil)
	roi := new(big.Int).Mul(a.RewardPerLoanPrincipalAmount, big.NewInt(expansionPercent))
	roi.Quo(roi, scale)

	apy := new(big.Int)
	if c.MaxDuration > 0 {
		apy.Mul(roi, big.NewInt(yearSeconds))
		apy.Quo(apy, new(big.Int).SetUint64(c.MaxDuration))
	}

	id := entity.CommitmentRewardID(c.ID, a.ID)
	cr := &entity.CommitmentReward{}
	err := t.b.Get(store.KindCommitmentReward, id, cr)
	if store.IsNotFound(err) {
		cr = &entity.CommitmentReward{
			ID:         id,
			CreatedAt:  t.now,
			Reward:     a.ID,
			Commitment: c.ID,
		}
	} else if err != nil {
		return err
	}
	cr.ROI = roi
	cr.APY = apy
	cr.UpdatedAt = t.now
	return t.b.Put(store.KindCommitmentReward, id, cr)
}
