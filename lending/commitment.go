// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package lending

import (
	"fmt"
	"math/big"

	"github.com/lendfi/indexer/entity"
	"github.com/lendfi/indexer/store"
)

func (t *txn) handleCreatedCommitment(e *CreatedCommitment) error {
	return t.upsertCommitment(e.CommitmentID, e.Lender, e.MarketID, e.LendingToken, e.TokenAmount, e.ContractAddress)
}

func (t *txn) handleUpdatedCommitment(e *UpdatedCommitment) error {
	return t.upsertCommitment(e.CommitmentID, e.Lender, e.MarketID, e.LendingToken, e.TokenAmount, e.ContractAddress)
}

// upsertCommitment fills a commitment from the event plus its on-chain
// terms and reconciles the available capital at every affected scope.
func (t *txn) upsertCommitment(commitmentID uint64, lenderAddr string, marketID uint64, lendingToken string, tokenAmount *big.Int, contract string) error {
	c, err := t.loadCommitment(commitmentID)
	if err != nil {
		return err
	}
	m, err := t.loadMarket(marketID)
	if err != nil {
		return err
	}
	l, err := t.loadLender(lenderAddr, m)
	if err != nil {
		return err
	}

	terms, err := t.reader.CommitmentTerms(t.ctx, contract, commitmentID)
	if err != nil {
		return chainRead(fmt.Sprintf("commitment %d terms", commitmentID), err)
	}

	principal, err := t.loadToken(lendingToken, nil, "ERC20")
	if err != nil {
		return err
	}

	c.Lender = l.ID
	c.LenderAddress = l.LenderAddress
	c.Marketplace = m.ID
	c.MarketplaceID = m.MarketplaceID
	c.PrincipalToken = principal.ID
	c.PrincipalTokenAddress = principal.Address
	c.ExpirationTimestamp = terms.Expiration
	c.MaxDuration = terms.MaxDuration
	c.MinAPY = terms.MinInterestRate
	c.MaxPrincipal = terms.MaxPrincipal
	c.MaxPrincipalPerCollateralAmount = terms.MaxPrincipalPerCollateralAmount
	c.CollateralTokenType = terms.CollateralTokenType
	c.UpdatedAt = t.now

	if !entity.IsZeroAddress(terms.CollateralTokenAddress) {
		var nftID *big.Int
		typ := collateralTypeName(terms.CollateralTokenType)
		if typ != "ERC20" && terms.CollateralTokenID != nil && terms.CollateralTokenID.Sign() > 0 {
			nftID = terms.CollateralTokenID
		}
		collTok, err := t.loadToken(terms.CollateralTokenAddress, nftID, typ)
		if err != nil {
			return err
		}
		c.CollateralToken = collTok.ID
		c.CollateralTokenAddress = collTok.Address
	}

	v, err := t.loadCommitmentVolume(c, c.PrincipalTokenAddress)
	if err != nil {
		return err
	}
	c.TokenVolume = v.ID

	diff := new(big.Int).Sub(tokenAmount, c.CommittedAmount)
	c.CommittedAmount = tokenAmount
	if err := t.saveCommitment(c); err != nil {
		return err
	}
	if err := t.adjustCommitmentAvailability(c, diff); err != nil {
		return err
	}
	if err := t.updateCommitmentStatus(c, entity.CommitmentActive); err != nil {
		return err
	}
	return t.scoreCommitmentRewards(c)
}

func (t *txn) handleDeletedCommitment(e *DeletedCommitment) error {
	c, err := t.loadCommitment(e.CommitmentID)
	if err != nil {
		return err
	}
	if c.Status == entity.CommitmentDeleted {
		return nil
	}
	remaining := new(big.Int).Neg(c.CommittedAmount)
	if err := t.adjustCommitmentAvailability(c, remaining); err != nil {
		return err
	}
	c.CommittedAmount = bigZero()
	c.MaxPrincipalPerCollateralAmount = bigZero()
	c.MinAPY = bigZero()
	c.ExpirationTimestamp = 0
	c.MaxDuration = 0
	c.CommitmentBorrowers = []string{}
	c.UpdatedAt = t.now
	return t.updateCommitmentStatus(c, entity.CommitmentDeleted)
}

func (t *txn) handleExercisedCommitment(e *ExercisedCommitment) error {
	c, err := t.loadCommitment(e.CommitmentID)
	if err != nil {
		return err
	}

	if err := t.adjustCommitmentAvailability(c, new(big.Int).Neg(e.TokenAmount)); err != nil {
		return err
	}
	c.CommittedAmount = new(big.Int).Sub(c.CommittedAmount, e.TokenAmount)
	clampZero(c.CommittedAmount)
	c.AcceptedPrincipal = new(big.Int).Add(c.AcceptedPrincipal, e.TokenAmount)
	c.UpdatedAt = t.now
	if err := t.saveCommitment(c); err != nil {
		return err
	}
	if c.CommittedAmount.Sign() == 0 {
		if err := t.updateCommitmentStatus(c, entity.CommitmentDrained); err != nil {
			return err
		}
	}

	// The funding acceptance indexes first in the same transaction; tie
	// the bid to the commitment and pull it into the commitment volume.
	b, err := t.loadBid(e.BidID)
	if err != nil {
		return err
	}
	if b.Commitment == c.ID {
		return nil
	}
	b.Commitment = c.ID
	b.UpdatedAt = t.now
	if err := t.saveBid(b); err != nil {
		return err
	}
	v, err := t.loadCommitmentVolume(c, b.LendingTokenAddress)
	if err != nil {
		return err
	}
	return t.attachBidToVolumeTree(b, v)
}

func (t *txn) handleUpdatedCommitmentBorrowers(e *UpdatedCommitmentBorrowers) error {
	c, err := t.loadCommitment(e.CommitmentID)
	if err != nil {
		return err
	}
	borrowers, err := t.reader.CommitmentBorrowers(t.ctx, e.ContractAddress, e.CommitmentID)
	if err != nil {
		return chainRead(fmt.Sprintf("commitment %d borrowers", e.CommitmentID), err)
	}
	c.CommitmentBorrowers = c.CommitmentBorrowers[:0]
	for _, addr := range borrowers {
		c.CommitmentBorrowers = append(c.CommitmentBorrowers, entity.NormalizeAddress(addr))
	}
	c.UpdatedAt = t.now
	return t.saveCommitment(c)
}

// updateCommitmentStatus transitions a commitment and maintains the
// protocol's active and inactive sets.
func (t *txn) updateCommitmentStatus(c *entity.Commitment, next entity.CommitmentStatus) error {
	p, err := t.loadProtocol()
	if err != nil {
		return err
	}
	c.Status = next
	switch next {
	case entity.CommitmentActive:
		entity.AddToSet(&p.ActiveCommitments, c.ID)
		entity.RemoveFromSet(&p.InactiveCommitments, c.ID)
	case entity.CommitmentInactive:
		entity.RemoveFromSet(&p.ActiveCommitments, c.ID)
		entity.AddToSet(&p.InactiveCommitments, c.ID)
	default:
		entity.RemoveFromSet(&p.ActiveCommitments, c.ID)
		entity.RemoveFromSet(&p.InactiveCommitments, c.ID)
	}
	if err := t.saveProtocol(p); err != nil {
		return err
	}
	return t.saveCommitment(c)
}

// adjustCommitmentAvailability moves committed-but-unborrowed capital on
// the commitment, lender, market and protocol volumes of the principal
// token.
func (t *txn) adjustCommitmentAvailability(c *entity.Commitment, diff *big.Int) error {
	if diff.Sign() == 0 || c.PrincipalTokenAddress == "" {
		return nil
	}
	cv, err := t.loadCommitmentVolume(c, c.PrincipalTokenAddress)
	if err != nil {
		return err
	}
	vols := []*entity.TokenVolume{cv}

	if c.Lender != "" {
		l := &entity.Lender{}
		if err := t.b.Get(store.KindLender, c.Lender, l); err != nil {
			return errNotFoundAs(err, store.KindLender, c.Lender)
		}
		lv, err := t.loadLenderVolume(l, c.PrincipalTokenAddress)
		if err != nil {
			return err
		}
		vols = append(vols, lv)
	}
	if c.Marketplace != "" {
		m := &entity.MarketPlace{}
		if err := t.b.Get(store.KindMarket, c.Marketplace, m); err != nil {
			return errNotFoundAs(err, store.KindMarket, c.Marketplace)
		}
		mv, err := t.loadMarketVolume(m, c.PrincipalTokenAddress)
		if err != nil {
			return err
		}
		vols = append(vols, mv)
	}
	pv, err := t.loadProtocolVolume(c.PrincipalTokenAddress)
	if err != nil {
		return err
	}
	vols = append(vols, pv)

	for _, v := range vols {
		adjustAvailable(v, diff)
		if err := t.saveTokenVolume(v); err != nil {
			return err
		}
	}
	return nil
}
