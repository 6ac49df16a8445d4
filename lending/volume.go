// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package lending

import (
	"math/big"

	"github.com/lendfi/indexer/entity"
)

// safeDiv divides num by den, returning zero when den is zero.
func safeDiv(num, den *big.Int) *big.Int {
	if den == nil || den.Sign() == 0 {
		return new(big.Int)
	}
	return new(big.Int).Quo(num, den)
}

// clampZero floors v at zero in place.
func clampZero(v *big.Int) {
	if v.Sign() < 0 {
		v.SetInt64(0)
	}
}

// statusPrincipal returns the per-status principal bucket of a volume.
func statusPrincipal(v *entity.TokenVolume, s entity.BidStatus) *big.Int {
	switch s {
	case entity.StatusAccepted:
		return v.TotalActive
	case entity.StatusDueSoon:
		return v.TotalDueSoon
	case entity.StatusLate:
		return v.TotalLate
	case entity.StatusDefaulted:
		return v.TotalDefaulted
	case entity.StatusRepaid:
		return v.TotalRepaid
	case entity.StatusLiquidated:
		return v.TotalLiquidated
	}
	return nil
}

// outstanding is the capital still deployed on a bid.
func outstanding(b *entity.Bid) *big.Int {
	o := new(big.Int).Sub(b.Principal, b.TotalRepaidPrincipal)
	clampZero(o)
	return o
}

// recomputeAverages rebuilds the derived means from their running pairs, so
// averages never drift from the totals they summarize.
func recomputeAverages(v *entity.TokenVolume) {
	v.LoanAverage = safeDiv(v.TotalLoaned, new(big.Int).SetUint64(v.LoanAcceptedCount))
	v.APRAverage = safeDiv(v.APRWeightedTotal, v.TotalLoaned)
	v.DurationAverage = safeDiv(v.DurationWeightedTotal, v.TotalLoaned)
}

// addBidToVolume folds a newly funded bid into a volume: the bid has just
// entered the accepted family at this scope with the given status.
func addBidToVolume(v *entity.TokenVolume, b *entity.Bid, s entity.BidStatus) {
	v.LoanAcceptedCount++
	v.TotalLoaned = new(big.Int).Add(v.TotalLoaned, b.Principal)

	weight := b.Principal
	v.APRWeightedTotal = new(big.Int).Add(v.APRWeightedTotal, new(big.Int).Mul(b.APR, weight))
	dur := new(big.Int).SetUint64(b.LoanDuration)
	v.DurationWeightedTotal = new(big.Int).Add(v.DurationWeightedTotal, new(big.Int).Mul(dur, weight))

	if bucket := statusPrincipal(v, s); bucket != nil {
		bucket.Add(bucket, b.Principal)
	}
	if s.IsActive() {
		v.OutstandingCapital = new(big.Int).Add(v.OutstandingCapital, outstanding(b))
	}
	recomputeAverages(v)
}

// removeBidFromVolume is the exact inverse of addBidToVolume for the same
// bid and status. When the last bid leaves, every aggregate resets to zero
// so floor-division residue cannot accumulate.
func removeBidFromVolume(v *entity.TokenVolume, b *entity.Bid, s entity.BidStatus) {
	if v.LoanAcceptedCount > 0 {
		v.LoanAcceptedCount--
	}
	if v.LoanAcceptedCount == 0 {
		resetVolumeLoans(v)
		return
	}

	v.TotalLoaned = new(big.Int).Sub(v.TotalLoaned, b.Principal)
	clampZero(v.TotalLoaned)

	weight := b.Principal
	v.APRWeightedTotal = new(big.Int).Sub(v.APRWeightedTotal, new(big.Int).Mul(b.APR, weight))
	clampZero(v.APRWeightedTotal)
	dur := new(big.Int).SetUint64(b.LoanDuration)
	v.DurationWeightedTotal = new(big.Int).Sub(v.DurationWeightedTotal, new(big.Int).Mul(dur, weight))
	clampZero(v.DurationWeightedTotal)

	if bucket := statusPrincipal(v, s); bucket != nil {
		bucket.Sub(bucket, b.Principal)
		clampZero(bucket)
	}
	if s.IsActive() {
		v.OutstandingCapital = new(big.Int).Sub(v.OutstandingCapital, outstanding(b))
		clampZero(v.OutstandingCapital)
	}
	recomputeAverages(v)
}

// resetVolumeLoans zeroes the loan aggregates of an empty volume. Earned
// commission and the committed availability survive: they are not functions
// of the open loan set.
func resetVolumeLoans(v *entity.TokenVolume) {
	v.TotalLoaned = new(big.Int)
	v.LoanAverage = new(big.Int)
	v.OutstandingCapital = new(big.Int)
	v.TotalActive = new(big.Int)
	v.TotalDueSoon = new(big.Int)
	v.TotalLate = new(big.Int)
	v.TotalDefaulted = new(big.Int)
	v.TotalRepaid = new(big.Int)
	v.TotalLiquidated = new(big.Int)
	v.APRWeightedTotal = new(big.Int)
	v.APRAverage = new(big.Int)
	v.DurationWeightedTotal = new(big.Int)
	v.DurationAverage = new(big.Int)
}

// moveBidVolumeStatus rebuckets a bid's principal on a transition inside the
// accepted family and keeps outstanding capital consistent when the bid
// enters or leaves the active set.
func moveBidVolumeStatus(v *entity.TokenVolume, b *entity.Bid, from, to entity.BidStatus) {
	if bucket := statusPrincipal(v, from); bucket != nil {
		bucket.Sub(bucket, b.Principal)
		clampZero(bucket)
	}
	if bucket := statusPrincipal(v, to); bucket != nil {
		bucket.Add(bucket, b.Principal)
	}
	switch {
	case from.IsActive() && !to.IsActive():
		v.OutstandingCapital = new(big.Int).Sub(v.OutstandingCapital, outstanding(b))
		clampZero(v.OutstandingCapital)
	case !from.IsActive() && to.IsActive():
		v.OutstandingCapital = new(big.Int).Add(v.OutstandingCapital, outstanding(b))
	}
}

// applyPaymentToVolume reduces outstanding capital by the repaid principal
// and accrues the repaid interest.
func applyPaymentToVolume(v *entity.TokenVolume, principalDelta, interestDelta *big.Int) {
	v.OutstandingCapital = new(big.Int).Sub(v.OutstandingCapital, principalDelta)
	clampZero(v.OutstandingCapital)
	v.TotalRepaidInterest = new(big.Int).Add(v.TotalRepaidInterest, interestDelta)
}

// addCommission accrues protocol fee earnings on a volume.
func addCommission(v *entity.TokenVolume, amount *big.Int) {
	v.CommissionEarned = new(big.Int).Add(v.CommissionEarned, amount)
}

// adjustAvailable moves the committed-but-unborrowed capital of a volume.
func adjustAvailable(v *entity.TokenVolume, diff *big.Int) {
	v.TotalAvailable = new(big.Int).Add(v.TotalAvailable, diff)
	clampZero(v.TotalAvailable)
}
