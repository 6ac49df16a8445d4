// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package lending

import (
	"math/big"

	"github.com/lendfi/indexer/entity"
	"github.com/lendfi/indexer/store"
)

// bidScope is one aggregation scope a bid participates in: its status
// partition plus, for volume scopes, the volume whose financial aggregates
// follow the partition.
type bidScope struct {
	count  *entity.LoanStatusCount
	volume *entity.TokenVolume
}

// collateralTokenIDs returns the collateral token ids of a bid, or the
// empty id for uncollateralized loans so the "no collateral" pair is still
// tracked.
func (t *txn) collateralTokenIDs(b *entity.Bid) ([]string, error) {
	if len(b.Collateral) == 0 {
		return []string{""}, nil
	}
	ids := make([]string, 0, len(b.Collateral))
	for _, cid := range b.Collateral {
		c := &entity.BidCollateral{}
		if err := t.b.Get(store.KindBidCollateral, cid, c); err != nil {
			return nil, errNotFoundAs(err, store.KindBidCollateral, cid)
		}
		ids = append(ids, c.Token)
	}
	return ids, nil
}

// baseVolumesForBid returns the lending-token volumes of every scope the
// bid belongs to: protocol, market, borrower, lender and commitment.
func (t *txn) baseVolumesForBid(b *entity.Bid) ([]*entity.TokenVolume, error) {
	var vols []*entity.TokenVolume

	pv, err := t.loadProtocolVolume(b.LendingTokenAddress)
	if err != nil {
		return nil, err
	}
	vols = append(vols, pv)

	m, err := t.loadMarket(b.MarketplaceID)
	if err != nil {
		return nil, err
	}
	mv, err := t.loadMarketVolume(m, b.LendingTokenAddress)
	if err != nil {
		return nil, err
	}
	vols = append(vols, mv)

	bw := &entity.Borrower{}
	if err := t.b.Get(store.KindBorrower, b.Borrower, bw); err != nil {
		return nil, errNotFoundAs(err, store.KindBorrower, b.Borrower)
	}
	bv, err := t.loadBorrowerVolume(bw, b.LendingTokenAddress)
	if err != nil {
		return nil, err
	}
	vols = append(vols, bv)

	if b.Lender != "" {
		l := &entity.Lender{}
		if err := t.b.Get(store.KindLender, b.Lender, l); err != nil {
			return nil, errNotFoundAs(err, store.KindLender, b.Lender)
		}
		lv, err := t.loadLenderVolume(l, b.LendingTokenAddress)
		if err != nil {
			return nil, err
		}
		vols = append(vols, lv)
	}

	if b.Commitment != "" {
		c := &entity.Commitment{}
		if err := t.b.Get(store.KindCommitment, b.Commitment, c); err != nil {
			return nil, errNotFoundAs(err, store.KindCommitment, b.Commitment)
		}
		cv, err := t.loadCommitmentVolume(c, b.LendingTokenAddress)
		if err != nil {
			return nil, err
		}
		vols = append(vols, cv)
	}
	return vols, nil
}

// volumesForBid expands the base volumes with their collateral-pair
// sub-volumes.
func (t *txn) volumesForBid(b *entity.Bid) ([]*entity.TokenVolume, error) {
	base, err := t.baseVolumesForBid(b)
	if err != nil {
		return nil, err
	}
	collIDs, err := t.collateralTokenIDs(b)
	if err != nil {
		return nil, err
	}
	all := make([]*entity.TokenVolume, 0, len(base)*(1+len(collIDs)))
	for _, v := range base {
		all = append(all, v)
		for _, cid := range collIDs {
			cv, err := t.loadCollateralVolume(v, cid)
			if err != nil {
				return nil, err
			}
			all = append(all, cv)
		}
	}
	return all, nil
}

// scopesForBid pairs every status partition the bid belongs to with its
// volume where one exists.
func (t *txn) scopesForBid(b *entity.Bid) ([]bidScope, error) {
	var scopes []bidScope

	add := func(scope, scopeID string, v *entity.TokenVolume) error {
		c, err := t.loadLoanStatusCount(scope, scopeID, nil)
		if err != nil {
			return err
		}
		scopes = append(scopes, bidScope{count: c, volume: v})
		return nil
	}

	if err := add("protocol", entity.ProtocolID, nil); err != nil {
		return nil, err
	}
	if err := add("market", b.Marketplace, nil); err != nil {
		return nil, err
	}
	if err := add("borrower", b.Borrower, nil); err != nil {
		return nil, err
	}
	if b.Lender != "" {
		if err := add("lender", b.Lender, nil); err != nil {
			return nil, err
		}
	}
	vols, err := t.volumesForBid(b)
	if err != nil {
		return nil, err
	}
	for _, v := range vols {
		if err := add("tokenVolume", v.ID, v); err != nil {
			return nil, err
		}
	}
	return scopes, nil
}

// acceptedFamilyCount is the number of funded loans in a partition.
func acceptedFamilyCount(c *entity.LoanStatusCount) uint64 {
	return c.AcceptedCount + c.DueSoonCount + c.LateCount +
		c.DefaultedCount + c.RepaidCount + c.LiquidatedCount
}

// moveBidInCount rebuckets a bid id inside one partition. The bid must be
// present in its previous bucket; anything else means the partition and the
// bid disagree.
func moveBidInCount(c *entity.LoanStatusCount, bidID string, prev, next entity.BidStatus) error {
	if prev != entity.StatusNone {
		bucket := c.Bucket(prev)
		if bucket == nil || !entity.RemoveFromSet(bucket, bidID) {
			return invariant("bid %s not in %s bucket of %s", bidID, prev, c.ID)
		}
		c.SetBucketCount(prev, uint64(len(*bucket)))
	}
	bucket := c.Bucket(next)
	if bucket == nil {
		return invariant("bid %s moving to unknown status %s in %s", bidID, next, c.ID)
	}
	entity.AddToSet(bucket, bidID)
	c.SetBucketCount(next, uint64(len(*bucket)))
	entity.AddToSet(&c.All, bidID)
	c.TotalCount = uint64(len(c.All))
	return nil
}

// updateBidStatus transitions a bid and keeps every scope partition and
// volume consistent with it. All scope objects are mutated in the staged
// batch, so a failure discards the whole transition.
func (t *txn) updateBidStatus(b *entity.Bid, next entity.BidStatus) error {
	prev := b.Status
	if prev == next {
		return t.saveBid(b)
	}
	b.Status = next
	b.UpdatedAt = t.now
	if err := t.saveBid(b); err != nil {
		return err
	}

	scopes, err := t.scopesForBid(b)
	if err != nil {
		return err
	}
	for _, sc := range scopes {
		// Scopes can join mid-lifecycle: the lender appears at accept,
		// commitment and collateral-pair volumes only once referenced.
		// A scope that never tracked the bid treats this as its first
		// sighting; one that did must hold it in the previous bucket.
		effPrev := prev
		if !entity.Contains(sc.count.All, b.ID) {
			effPrev = entity.StatusNone
		}
		if err := moveBidInCount(sc.count, b.ID, effPrev, next); err != nil {
			return err
		}
		if sc.volume != nil {
			switch {
			case !effPrev.IsAcceptedFamily() && next.IsAcceptedFamily():
				addBidToVolume(sc.volume, b, next)
			case effPrev.IsAcceptedFamily() && next.IsAcceptedFamily():
				moveBidVolumeStatus(sc.volume, b, effPrev, next)
			case effPrev.IsAcceptedFamily() && !next.IsAcceptedFamily():
				removeBidFromVolume(sc.volume, b, effPrev)
			}
			if err := t.saveTokenVolume(sc.volume); err != nil {
				return err
			}
		}
		if err := t.saveLoanStatusCount(sc.count); err != nil {
			return err
		}
	}

	if !prev.IsAcceptedFamily() && next.IsAcceptedFamily() {
		if err := t.addBidDurations(b); err != nil {
			return err
		}
	}
	return nil
}

// addBidDurations folds the bid's loan duration into the per-party duration
// averages once the loan is funded.
func (t *txn) addBidDurations(b *entity.Bid) error {
	dur := new(big.Int).SetUint64(b.LoanDuration)

	p, err := t.loadProtocol()
	if err != nil {
		return err
	}
	pc, err := t.loadLoanStatusCount("protocol", p.ID, nil)
	if err != nil {
		return err
	}
	p.DurationTotal = new(big.Int).Add(p.DurationTotal, dur)
	p.DurationAverage = safeDiv(p.DurationTotal, new(big.Int).SetUint64(acceptedFamilyCount(pc)))
	if err := t.saveProtocol(p); err != nil {
		return err
	}

	m, err := t.loadMarket(b.MarketplaceID)
	if err != nil {
		return err
	}
	mc, err := t.loadLoanStatusCount("market", m.ID, nil)
	if err != nil {
		return err
	}
	m.DurationTotal = new(big.Int).Add(m.DurationTotal, dur)
	m.DurationAverage = safeDiv(m.DurationTotal, new(big.Int).SetUint64(acceptedFamilyCount(mc)))
	if err := t.saveMarket(m); err != nil {
		return err
	}

	bw := &entity.Borrower{}
	if err := t.b.Get(store.KindBorrower, b.Borrower, bw); err != nil {
		return errNotFoundAs(err, store.KindBorrower, b.Borrower)
	}
	bc, err := t.loadLoanStatusCount("borrower", bw.ID, nil)
	if err != nil {
		return err
	}
	bw.DurationTotal = new(big.Int).Add(bw.DurationTotal, dur)
	bw.DurationAverage = safeDiv(bw.DurationTotal, new(big.Int).SetUint64(acceptedFamilyCount(bc)))
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
	lc, err := t.loadLoanStatusCount("lender", l.ID, nil)
	if err != nil {
		return err
	}
	l.DurationTotal = new(big.Int).Add(l.DurationTotal, dur)
	l.DurationAverage = safeDiv(l.DurationTotal, new(big.Int).SetUint64(acceptedFamilyCount(lc)))
	return t.saveLender(l)
}

// volumeTree expands a base volume with its collateral-pair sub-volumes
// for one bid.
func (t *txn) volumeTree(b *entity.Bid, base *entity.TokenVolume) ([]*entity.TokenVolume, error) {
	collIDs, err := t.collateralTokenIDs(b)
	if err != nil {
		return nil, err
	}
	vols := []*entity.TokenVolume{base}
	for _, cid := range collIDs {
		cv, err := t.loadCollateralVolume(base, cid)
		if err != nil {
			return nil, err
		}
		vols = append(vols, cv)
	}
	return vols, nil
}

// attachBidToVolumeTree folds a bid into a volume scope it joined after
// funding, e.g. a new lender's volume or the commitment volume.
func (t *txn) attachBidToVolumeTree(b *entity.Bid, base *entity.TokenVolume) error {
	vols, err := t.volumeTree(b, base)
	if err != nil {
		return err
	}
	for _, v := range vols {
		vc, err := t.loadLoanStatusCount("tokenVolume", v.ID, nil)
		if err != nil {
			return err
		}
		if entity.Contains(vc.All, b.ID) {
			continue
		}
		if b.Status.IsAcceptedFamily() {
			addBidToVolume(v, b, b.Status)
		}
		if err := t.saveTokenVolume(v); err != nil {
			return err
		}
		if err := moveBidInCount(vc, b.ID, entity.StatusNone, b.Status); err != nil {
			return err
		}
		if err := t.saveLoanStatusCount(vc); err != nil {
			return err
		}
	}
	return nil
}

// detachBidFromVolumeTree is the inverse of attachBidToVolumeTree.
func (t *txn) detachBidFromVolumeTree(b *entity.Bid, base *entity.TokenVolume) error {
	vols, err := t.volumeTree(b, base)
	if err != nil {
		return err
	}
	for _, v := range vols {
		vc, err := t.loadLoanStatusCount("tokenVolume", v.ID, nil)
		if err != nil {
			return err
		}
		if !entity.Contains(vc.All, b.ID) {
			continue
		}
		if b.Status.IsAcceptedFamily() {
			removeBidFromVolume(v, b, b.Status)
		}
		if err := t.saveTokenVolume(v); err != nil {
			return err
		}
		if bkt := vc.Bucket(b.Status); bkt != nil && entity.RemoveFromSet(bkt, b.ID) {
			vc.SetBucketCount(b.Status, uint64(len(*bkt)))
		}
		entity.RemoveFromSet(&vc.All, b.ID)
		vc.TotalCount = uint64(len(vc.All))
		if err := t.saveLoanStatusCount(vc); err != nil {
			return err
		}
	}
	return nil
}

// replaceLender moves an accepted bid from one lender to another when the
// lender position NFT changes hands: the old lender's partition, volume,
// stats and duration totals give the bid up and the new lender's take it.
func (t *txn) replaceLender(b *entity.Bid, newLenderAddr string) error {
	if b.Lender == "" {
		return invariant("bid %s has no lender to replace", b.ID)
	}
	m, err := t.loadMarket(b.MarketplaceID)
	if err != nil {
		return err
	}

	old := &entity.Lender{}
	if err := t.b.Get(store.KindLender, b.Lender, old); err != nil {
		return errNotFoundAs(err, store.KindLender, b.Lender)
	}
	if err := t.detachBidFromLender(b, old); err != nil {
		return err
	}

	nl, err := t.loadLender(newLenderAddr, m)
	if err != nil {
		return err
	}
	b.Lender = nl.ID
	b.LenderAddress = entity.NormalizeAddress(newLenderAddr)
	b.UpdatedAt = t.now
	if err := t.saveBid(b); err != nil {
		return err
	}
	return t.attachBidToLender(b, nl)
}

func (t *txn) detachBidFromLender(b *entity.Bid, l *entity.Lender) error {
	c, err := t.loadLoanStatusCount("lender", l.ID, nil)
	if err != nil {
		return err
	}
	bucket := c.Bucket(b.Status)
	if bucket == nil || !entity.RemoveFromSet(bucket, b.ID) {
		return invariant("bid %s not in %s bucket of %s", b.ID, b.Status, c.ID)
	}
	c.SetBucketCount(b.Status, uint64(len(*bucket)))
	entity.RemoveFromSet(&c.All, b.ID)
	c.TotalCount = uint64(len(c.All))
	if err := t.saveLoanStatusCount(c); err != nil {
		return err
	}

	lv, err := t.loadLenderVolume(l, b.LendingTokenAddress)
	if err != nil {
		return err
	}
	if err := t.detachBidFromVolumeTree(b, lv); err != nil {
		return err
	}

	if b.Status.IsActive() && l.ActiveLoans > 0 {
		l.ActiveLoans--
	}
	if b.Status.IsTerminal() && l.ClosedLoans > 0 {
		l.ClosedLoans--
	}
	if l.BidsAccepted > 0 {
		l.BidsAccepted--
	}
	l.DurationTotal = new(big.Int).Sub(l.DurationTotal, new(big.Int).SetUint64(b.LoanDuration))
	clampZero(l.DurationTotal)
	l.DurationAverage = safeDiv(l.DurationTotal, new(big.Int).SetUint64(acceptedFamilyCount(c)))
	if err := t.saveLender(l); err != nil {
		return err
	}
	t.b.Unrelate(relLenderBids, l.ID, b.ID)
	return nil
}

func (t *txn) attachBidToLender(b *entity.Bid, l *entity.Lender) error {
	c, err := t.loadLoanStatusCount("lender", l.ID, nil)
	if err != nil {
		return err
	}
	if err := moveBidInCount(c, b.ID, entity.StatusNone, b.Status); err != nil {
		return err
	}
	if err := t.saveLoanStatusCount(c); err != nil {
		return err
	}

	lv, err := t.loadLenderVolume(l, b.LendingTokenAddress)
	if err != nil {
		return err
	}
	if err := t.attachBidToVolumeTree(b, lv); err != nil {
		return err
	}

	if b.Status.IsActive() {
		l.ActiveLoans++
	}
	if b.Status.IsTerminal() {
		l.ClosedLoans++
	}
	l.BidsAccepted++
	l.DurationTotal = new(big.Int).Add(l.DurationTotal, new(big.Int).SetUint64(b.LoanDuration))
	l.DurationAverage = safeDiv(l.DurationTotal, new(big.Int).SetUint64(acceptedFamilyCount(c)))
	if err := t.saveLender(l); err != nil {
		return err
	}
	t.b.Relate(relLenderBids, l.ID, b.ID)
	return nil
}
