// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package lending

import (
	"github.com/lendfi/indexer/entity"
	"github.com/lendfi/indexer/store"
)

func (t *txn) handleCollateralCommitted(e *CollateralCommitted) error {
	b, err := t.loadBid(e.BidID)
	if err != nil {
		return err
	}
	c, err := t.loadBidCollateral(b, e.CollateralAddress, e.CollateralType, e.Amount, e.TokenID)
	if err != nil {
		return err
	}
	// Re-commits replace the committed amount.
	if e.Amount != nil {
		c.Amount = e.Amount
	}
	c.Status = "Committed"
	return t.saveBidCollateral(c)
}

func (t *txn) handleCollateralDeposited(e *CollateralDeposited) error {
	b, err := t.loadBid(e.BidID)
	if err != nil {
		return err
	}
	c, err := t.loadBidCollateral(b, e.CollateralAddress, e.CollateralType, e.Amount, e.TokenID)
	if err != nil {
		return err
	}
	if e.Amount != nil {
		c.Amount = e.Amount
	}
	c.Status = "Deposited"
	return t.saveBidCollateral(c)
}

func (t *txn) handleCollateralWithdrawn(e *CollateralWithdrawn) error {
	b, err := t.loadBid(e.BidID)
	if err != nil {
		return err
	}
	c, err := t.loadBidCollateral(b, e.CollateralAddress, e.CollateralType, e.Amount, e.TokenID)
	if err != nil {
		return err
	}
	c.Status = "Withdrawn"
	c.Receiver = entity.NormalizeAddress(e.Recipient)
	return t.saveBidCollateral(c)
}

// handleCollateralClaimed indexes collateral seizure on a defaulted loan,
// which liquidates the loan.
func (t *txn) handleCollateralClaimed(e *CollateralClaimed) error {
	b, err := t.loadBid(e.BidID)
	if err != nil {
		return err
	}
	if b.Status == entity.StatusLiquidated {
		return nil
	}
	for _, cid := range b.Collateral {
		c := &entity.BidCollateral{}
		if err := t.b.Get(store.KindBidCollateral, cid, c); err != nil {
			return errNotFoundAs(err, store.KindBidCollateral, cid)
		}
		c.Status = "Withdrawn"
		c.Receiver = b.LenderAddress
		if err := t.saveBidCollateral(c); err != nil {
			return err
		}
	}
	if b.Status.IsActive() {
		if err := t.closeLoanParties(b); err != nil {
			return err
		}
	}
	return t.updateBidStatus(b, entity.StatusLiquidated)
}

func (t *txn) handleCollateralEscrowDeployed(e *CollateralEscrowDeployed) error {
	b, err := t.loadBid(e.BidID)
	if err != nil {
		return err
	}
	b.CollateralEscrow = entity.NormalizeAddress(e.Escrow)
	b.UpdatedAt = t.now
	return t.saveBid(b)
}
