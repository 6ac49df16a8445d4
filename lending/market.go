// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package lending

import (
	"fmt"

	"github.com/lendfi/indexer/chain"
	"github.com/lendfi/indexer/entity"
	"github.com/lendfi/indexer/store"
)

func (t *txn) handleMarketCreated(e *MarketCreated) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	m.Owner = entity.NormalizeAddress(e.Owner)
	m.IsMarketOpen = true

	// Attestation flags are settable before the creation event indexes;
	// read them rather than assume defaults. A revert means the registry
	// predates the attestation surface.
	lender, borrower, attErr := t.reader.MarketAttestationRequirements(t.ctx, e.ContractAddress, e.MarketID)
	if attErr == nil {
		m.LenderAttestationRequired = lender
		m.BorrowerAttestationRequired = borrower
	} else if !chain.IsReverted(attErr) {
		return chainRead(fmt.Sprintf("market %d attestation requirements", e.MarketID), attErr)
	}
	return t.saveMarket(m)
}

func (t *txn) handleMarketClosed(e *MarketClosed) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	m.IsMarketOpen = false
	return t.saveMarket(m)
}

func (t *txn) handleSetMarketOwner(e *SetMarketOwner) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	m.Owner = entity.NormalizeAddress(e.Owner)
	return t.saveMarket(m)
}

func (t *txn) handleSetMarketFeeRecipient(e *SetMarketFeeRecipient) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	m.FeeRecipient = entity.NormalizeAddress(e.Recipient)
	return t.saveMarket(m)
}

func (t *txn) handleSetMarketURI(e *SetMarketURI) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	m.MetadataURI = e.URI
	return t.saveMarket(m)
}

func (t *txn) handleSetMarketPaymentType(e *SetMarketPaymentType) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	switch e.PaymentType {
	case 1:
		m.PaymentType = "Bullet"
	default:
		m.PaymentType = "EMI"
	}
	return t.saveMarket(m)
}

func (t *txn) handleSetPaymentCycle(e *SetPaymentCycle) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	switch e.CycleType {
	case 1:
		m.PaymentCycleType = "Monthly"
	default:
		m.PaymentCycleType = "Seconds"
	}
	m.PaymentCycleDuration = e.Duration
	return t.saveMarket(m)
}

func (t *txn) handleSetPaymentDefaultDuration(e *SetPaymentDefaultDuration) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	m.PaymentDefaultDuration = e.Duration
	return t.saveMarket(m)
}

func (t *txn) handleSetBidExpirationTime(e *SetBidExpirationTime) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	m.BidExpirationTime = e.Duration
	return t.saveMarket(m)
}

func (t *txn) handleSetMarketFee(e *SetMarketFee) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	m.MarketplaceFeePercent = e.FeePercent
	return t.saveMarket(m)
}

func (t *txn) handleSetMarketLenderAttestation(e *SetMarketLenderAttestation) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	m.LenderAttestationRequired = e.Required
	return t.saveMarket(m)
}

func (t *txn) handleSetMarketBorrowerAttestation(e *SetMarketBorrowerAttestation) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	m.BorrowerAttestationRequired = e.Required
	return t.saveMarket(m)
}

func (t *txn) handleLenderAttestation(e *LenderAttestation) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	l, err := t.loadLender(e.Lender, m)
	if err != nil {
		return err
	}
	l.IsAttested = true
	l.AttestedTimestamp = t.now
	return t.saveLender(l)
}

func (t *txn) handleBorrowerAttestation(e *BorrowerAttestation) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	bw, err := t.loadBorrower(e.Borrower, m)
	if err != nil {
		return err
	}
	bw.IsAttested = true
	bw.AttestedTimestamp = t.now
	return t.saveBorrower(bw)
}

func (t *txn) handleLenderRevocation(e *LenderRevocation) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	l, err := t.loadLender(e.Lender, m)
	if err != nil {
		return err
	}
	l.IsAttested = false
	l.AttestedTimestamp = 0
	return t.saveLender(l)
}

func (t *txn) handleBorrowerRevocation(e *BorrowerRevocation) error {
	m, err := t.loadMarket(e.MarketID)
	if err != nil {
		return err
	}
	bw, err := t.loadBorrower(e.Borrower, m)
	if err != nil {
		return err
	}
	bw.IsAttested = false
	bw.AttestedTimestamp = 0
	return t.saveBorrower(bw)
}

// Exiting a market revokes the attestation; loans already indexed keep
// their history.
func (t *txn) handleLenderExitMarket(e *LenderExitMarket) error {
	return t.handleLenderRevocation(&LenderRevocation{Log: e.Log, MarketID: e.MarketID, Lender: e.Lender})
}

func (t *txn) handleBorrowerExitMarket(e *BorrowerExitMarket) error {
	return t.handleBorrowerRevocation(&BorrowerRevocation{Log: e.Log, MarketID: e.MarketID, Borrower: e.Borrower})
}

func (t *txn) listMarkets() ([]string, error) {
	return t.b.Store().List(store.KindMarket)
}

// handleMarketRegistryUpgraded re-reads the attestation requirements of
// every known market; registry upgrades have flipped their encoding before.
func (t *txn) handleMarketRegistryUpgraded(e *MarketRegistryUpgraded) error {
	ids, err := t.listMarkets()
	if err != nil {
		return err
	}
	for _, id := range ids {
		m := &entity.MarketPlace{}
		if err := t.b.Get(store.KindMarket, id, m); err != nil {
			return errNotFoundAs(err, store.KindMarket, id)
		}
		lender, borrower, attErr := t.reader.MarketAttestationRequirements(t.ctx, e.ContractAddress, m.MarketplaceID)
		if attErr != nil {
			if chain.IsReverted(attErr) {
				continue
			}
			return chainRead(fmt.Sprintf("market %d attestation requirements", m.MarketplaceID), attErr)
		}
		m.LenderAttestationRequired = lender
		m.BorrowerAttestationRequired = borrower
		if err := t.saveMarket(m); err != nil {
			return err
		}
	}
	return nil
}
