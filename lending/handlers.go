// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package lending

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/lendfi/indexer/chain"
	"github.com/lendfi/indexer/entity"
	"github.com/lendfi/indexer/store"
)

type paymentKind int

const (
	paymentRepayment paymentKind = iota
	paymentRepaidInFull
	paymentLiquidation
)

// Bids 62 through 65 were accepted while a proxy bug zeroed the stored
// payment cycle amount; their values are re-read after every upgrade.
const (
	upgradeBackfillFirst = 62
	upgradeBackfillLast  = 65
)

func (t *txn) handleSubmittedBid(e *SubmittedBid) error {
	id := entity.BidEntityID(e.BidID)
	if ok, err := t.b.Has(store.KindBid, id); err != nil {
		return err
	} else if ok {
		// Replay of an already indexed submission.
		return nil
	}

	details, err := t.reader.BidDetails(t.ctx, e.ContractAddress, e.BidID)
	if err != nil {
		return chainRead(fmt.Sprintf("bid %d details", e.BidID), err)
	}

	m, err := t.loadMarket(details.MarketplaceID)
	if err != nil {
		return err
	}
	borrowerAddr := e.Borrower
	if borrowerAddr == "" {
		borrowerAddr = details.Borrower
	}
	bw, err := t.loadBorrower(borrowerAddr, m)
	if err != nil {
		return err
	}
	tok, err := t.loadToken(details.LendingToken, nil, "ERC20")
	if err != nil {
		return err
	}

	b := &entity.Bid{
		ID:              id,
		BidID:           e.BidID,
		CreatedAt:       t.now,
		UpdatedAt:       t.now,
		TransactionHash: e.TxHash,

		Borrower:        bw.ID,
		BorrowerAddress: entity.NormalizeAddress(borrowerAddr),
		ReceiverAddress: entity.NormalizeAddress(details.Receiver),

		LendingToken:        tok.ID,
		LendingTokenAddress: entity.NormalizeAddress(details.LendingToken),
		Principal:           details.Principal,
		APR:                 details.APR,

		LoanDuration:           details.LoanDuration,
		PaymentCycle:           details.PaymentCycle,
		PaymentCycleAmount:     details.PaymentCycleAmount,
		PaymentDefaultDuration: m.PaymentDefaultDuration,

		TotalRepaidPrincipal:          bigZero(),
		TotalRepaidInterest:           bigZero(),
		LastTotalRepaidAmount:         bigZero(),
		LastTotalRepaidInterestAmount: bigZero(),

		Marketplace:   m.ID,
		MarketplaceID: m.MarketplaceID,
		MetadataURI:   e.MetadataURI,
	}
	if b.MetadataURI == "" {
		b.MetadataURI = details.MetadataURI
	}

	// The expiration read is optional: a revert means the market has no
	// expiration configured and the bid stays open indefinitely.
	if exp, expErr := t.reader.BidExpirationTime(t.ctx, e.ContractAddress, e.BidID); expErr == nil {
		if exp > t.now {
			b.ExpiresAt = exp
		} else if exp > 0 {
			b.ExpiresAt = t.now + exp
		}
	} else if !chain.IsReverted(expErr) {
		return chainRead(fmt.Sprintf("bid %d expiration", e.BidID), expErr)
	}

	if err := t.saveBid(b); err != nil {
		return err
	}
	if err := t.updateBidStatus(b, entity.StatusSubmitted); err != nil {
		return err
	}

	m.OpenRequests++
	if err := t.saveMarket(m); err != nil {
		return err
	}
	bw.BidsSubmitted++
	if err := t.saveBorrower(bw); err != nil {
		return err
	}
	t.b.Relate(relBorrowerBids, bw.ID, b.ID)
	return nil
}

func (t *txn) handleAcceptedBid(e *AcceptedBid) error {
	b, err := t.loadBid(e.BidID)
	if err != nil {
		return err
	}
	if b.Status.IsAcceptedFamily() {
		return nil
	}

	details, err := t.reader.BidDetails(t.ctx, e.ContractAddress, e.BidID)
	if err != nil {
		return chainRead(fmt.Sprintf("bid %d details", e.BidID), err)
	}
	m, err := t.loadMarket(b.MarketplaceID)
	if err != nil {
		return err
	}
	lenderAddr := e.Lender
	if lenderAddr == "" {
		lenderAddr = details.Lender
	}
	l, err := t.loadLender(lenderAddr, m)
	if err != nil {
		return err
	}

	b.Lender = l.ID
	b.LenderAddress = entity.NormalizeAddress(lenderAddr)
	b.AcceptedTimestamp = t.now
	b.EndDate = t.now + b.LoanDuration
	// The loan schedule is contract-defined; the due date must come from
	// the contract or the sweep works off a wrong clock.
	due, err := t.reader.NextDueDate(t.ctx, e.ContractAddress, e.BidID)
	if err != nil {
		return chainRead(fmt.Sprintf("bid %d next due date", e.BidID), err)
	}
	b.NextDueDate = due

	ftx := &entity.FundedTx{ID: e.TxHash, Bid: b.ID, Timestamp: t.now}
	if err := t.b.Put(store.KindFundedTx, ftx.ID, ftx); err != nil {
		return err
	}

	if m.OpenRequests > 0 {
		m.OpenRequests--
	}
	m.ActiveLoans++
	m.APRTotal = new(big.Int).Add(m.APRTotal, b.APR)
	m.APRAverage = safeDiv(m.APRTotal, new(big.Int).SetUint64(m.ActiveLoans+m.ClosedLoans))
	if err := t.saveMarket(m); err != nil {
		return err
	}

	bw := &entity.Borrower{}
	if err := t.b.Get(store.KindBorrower, b.Borrower, bw); err != nil {
		return errNotFoundAs(err, store.KindBorrower, b.Borrower)
	}
	bw.ActiveLoans++
	bw.BidsAccepted++
	if err := t.saveBorrower(bw); err != nil {
		return err
	}

	l.ActiveLoans++
	l.BidsAccepted++
	if err := t.saveLender(l); err != nil {
		return err
	}
	t.b.Relate(relLenderBids, l.ID, b.ID)

	if err := t.updateBidStatus(b, entity.StatusAccepted); err != nil {
		return err
	}
	return t.linkBidToRewards(b)
}

func (t *txn) handleCancelledBid(bidID uint64, _ Log) error {
	b, err := t.loadBid(bidID)
	if err != nil {
		return err
	}
	if b.Status == entity.StatusCancelled {
		return nil
	}
	if b.Status != entity.StatusSubmitted {
		return invariant("bid %s cancelled while %s", b.ID, b.Status)
	}

	m, err := t.loadMarket(b.MarketplaceID)
	if err != nil {
		return err
	}
	if m.OpenRequests > 0 {
		m.OpenRequests--
	}
	if err := t.saveMarket(m); err != nil {
		return err
	}
	return t.updateBidStatus(b, entity.StatusCancelled)
}

func (t *txn) handleLoanPayment(bidID uint64, l Log, kind paymentKind) error {
	b, err := t.loadBid(bidID)
	if err != nil {
		return err
	}

	paymentID := fmt.Sprintf("%s-%d", l.TxHash, l.LogIndex)
	if ok, err := t.b.Has(store.KindPayment, paymentID); err != nil {
		return err
	} else if ok {
		return nil
	}

	details, err := t.reader.BidDetails(t.ctx, l.ContractAddress, bidID)
	if err != nil {
		return chainRead(fmt.Sprintf("bid %d details", bidID), err)
	}

	principalDelta := new(big.Int).Sub(details.TotalRepaidPrincipal, b.TotalRepaidPrincipal)
	clampZero(principalDelta)
	interestDelta := new(big.Int).Sub(details.TotalRepaidInterest, b.TotalRepaidInterest)
	clampZero(interestDelta)

	b.LastTotalRepaidAmount = b.TotalRepaidPrincipal
	b.LastTotalRepaidInterestAmount = b.TotalRepaidInterest
	b.TotalRepaidPrincipal = details.TotalRepaidPrincipal
	b.TotalRepaidInterest = details.TotalRepaidInterest
	b.LastRepaidTimestamp = t.now
	b.UpdatedAt = t.now

	status := "On Time"
	switch {
	case kind == paymentLiquidation:
		status = "Liquidated"
	case b.NextDueDate != 0 && t.now > b.NextDueDate:
		status = "Late"
	}
	p := &entity.Payment{
		ID:                 paymentID,
		Bid:                b.ID,
		Principal:          principalDelta,
		Interest:           interestDelta,
		PaymentDate:        t.now,
		OutstandingCapital: outstanding(b),
		Status:             status,
	}
	if err := t.b.Put(store.KindPayment, paymentID, p); err != nil {
		return err
	}

	vols, err := t.volumesForBid(b)
	if err != nil {
		return err
	}
	for _, v := range vols {
		applyPaymentToVolume(v, principalDelta, interestDelta)
		if err := t.saveTokenVolume(v); err != nil {
			return err
		}
	}

	// Payments against a liquidated loan settle residual debt; the
	// terminal status stands.
	if b.Status == entity.StatusLiquidated {
		return t.saveBid(b)
	}

	switch kind {
	case paymentRepayment:
		due, err := t.reader.NextDueDate(t.ctx, l.ContractAddress, bidID)
		if err != nil {
			return chainRead(fmt.Sprintf("bid %d next due date", bidID), err)
		}
		b.NextDueDate = due
		// A payment makes a delinquent loan current again.
		return t.updateBidStatus(b, entity.StatusAccepted)

	case paymentRepaidInFull:
		b.NextDueDate = 0
		if err := t.closeLoanParties(b); err != nil {
			return err
		}
		if err := t.updateBidStatus(b, entity.StatusRepaid); err != nil {
			return err
		}
		return t.linkBidToRewards(b)

	case paymentLiquidation:
		b.NextDueDate = 0
		if err := t.closeLoanParties(b); err != nil {
			return err
		}
		return t.updateBidStatus(b, entity.StatusLiquidated)
	}
	return nil
}

// closeLoanParties moves a loan from the active to the closed column on the
// market, borrower and lender it belongs to.
func (t *txn) closeLoanParties(b *entity.Bid) error {
	m, err := t.loadMarket(b.MarketplaceID)
	if err != nil {
		return err
	}
	if m.ActiveLoans > 0 {
		m.ActiveLoans--
	}
	m.ClosedLoans++
	if err := t.saveMarket(m); err != nil {
		return err
	}

	bw := &entity.Borrower{}
	if err := t.b.Get(store.KindBorrower, b.Borrower, bw); err != nil {
		return errNotFoundAs(err, store.KindBorrower, b.Borrower)
	}
	if bw.ActiveLoans > 0 {
		bw.ActiveLoans--
	}
	bw.ClosedLoans++
	if err := t.saveBorrower(bw); err != nil {
		return err
	}

	if b.Lender == "" {
		return nil
	}
	l := &entity.Lender{}
	if err := t.b.Get(store.KindLender, b.Lender, l); err != nil {
		return errNotFoundAs(err, store.KindLender, b.Lender)
	}
	if l.ActiveLoans > 0 {
		l.ActiveLoans--
	}
	l.ClosedLoans++
	return t.saveLender(l)
}

func (t *txn) handleFeePaid(e *FeePaid) error {
	if !strings.EqualFold(e.FeeType, chain.FeeTypeMarketplace) {
		return nil
	}
	b, err := t.loadBid(e.BidID)
	if err != nil {
		return err
	}
	m, err := t.loadMarket(b.MarketplaceID)
	if err != nil {
		return err
	}
	mv, err := t.loadMarketVolume(m, b.LendingTokenAddress)
	if err != nil {
		return err
	}
	addCommission(mv, e.Amount)
	if err := t.saveTokenVolume(mv); err != nil {
		return err
	}
	pv, err := t.loadProtocolVolume(b.LendingTokenAddress)
	if err != nil {
		return err
	}
	addCommission(pv, e.Amount)
	return t.saveTokenVolume(pv)
}

func (t *txn) handleCoreUpgraded(e *CoreUpgraded) error {
	for bidID := uint64(upgradeBackfillFirst); bidID <= upgradeBackfillLast; bidID++ {
		id := entity.BidEntityID(bidID)
		b := &entity.Bid{}
		if err := t.b.Get(store.KindBid, id, b); err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return err
		}
		details, err := t.reader.BidDetails(t.ctx, e.ContractAddress, bidID)
		if err != nil {
			if chain.IsReverted(err) {
				continue
			}
			return chainRead(fmt.Sprintf("bid %d details", bidID), err)
		}
		b.PaymentCycleAmount = details.PaymentCycleAmount
		b.UpdatedAt = t.now
		if err := t.saveBid(b); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) handleLenderNFTTransfer(e *LenderNFTTransfer) error {
	// Mints establish the original lender, already indexed at accept.
	if entity.IsZeroAddress(e.From) {
		return nil
	}
	b, err := t.loadBid(e.TokenID)
	if err != nil {
		return err
	}
	if entity.NormalizeAddress(e.To) == b.LenderAddress {
		return nil
	}
	return t.replaceLender(b, e.To)
}
