// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package e2e

import (
	"math/big"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lendfi/indexer/entity"
	"github.com/lendfi/indexer/store"
)

var _ = Describe("Reward Allocations", func() {
	var h *Harness

	BeforeEach(func() {
		h = NewHarness()
	})

	AfterEach(func() {
		h.Close()
	})

	createAllocation := func(allocationID, strategy uint64) {
		h.SeedAllocation(allocationID, strategy)
		h.PostEvents(Event("CreatedAllocation", h.NextLog(allocatorContract), map[string]any{
			"allocationId": allocationID,
			"allocator":    lenderAddr,
			"marketId":     uint64(1),
		}))
	}

	repayInFull := func(bidID uint64) {
		d := h.Reader.Bids[bidID]
		d.TotalRepaidPrincipal = new(big.Int).Set(d.Principal)
		h.AdvanceBlock(360000)
		h.PostEvents(Event("LoanRepaid", h.NextLog(coreContract), map[string]any{
			"bidId": bidID,
		}))
	}

	bidReward := func(bidID, allocationID string) (*entity.BidReward, error) {
		r := &entity.BidReward{}
		err := h.Indexer.Store().Get(store.KindBidReward, entity.BidRewardID(bidID, allocationID), r)
		return r, err
	}

	It("links borrower rewards only once the loan is repaid", func() {
		createAllocation(9, 0)

		a := h.GetAllocation(9)
		Expect(a.Status).To(Equal(entity.AllocationActive))
		Expect(a.AllocationStrategy).To(Equal("BORROWER"))
		Expect(a.RewardTokenAmountRemaining).To(Equal(big.NewInt(100000)))

		h.SubmitBid(1, 1000, 1200, 3600000)
		h.AcceptBid(1)
		_, err := bidReward("1", "9")
		Expect(store.IsNotFound(err)).To(BeTrue())

		repayInFull(1)
		r, err := bidReward("1", "9")
		Expect(err).NotTo(HaveOccurred())
		Expect(r.User).To(Equal(borrowerAddr))
		Expect(r.Claimed).To(BeFalse())
	})

	It("links lender rewards as soon as the loan is funded", func() {
		createAllocation(9, 1)

		h.SubmitBid(1, 1000, 1200, 3600000)
		h.AcceptBid(1)

		r, err := bidReward("1", "9")
		Expect(err).NotTo(HaveOccurred())
		Expect(r.User).To(Equal(lenderAddr))
	})

	It("backfills rewards for loans that predate the allocation", func() {
		h.SubmitBid(1, 1000, 1200, 3600000)
		h.AcceptBid(1)
		repayInFull(1)

		createAllocation(9, 0)

		_, err := bidReward("1", "9")
		Expect(err).NotTo(HaveOccurred())
	})

	It("drains the allocation as rewards are claimed", func() {
		createAllocation(9, 1)
		h.SubmitBid(1, 1000, 1200, 3600000)
		h.AcceptBid(1)

		h.AdvanceBlock(12)
		h.PostEvents(Event("ClaimedRewards", h.NextLog(allocatorContract), map[string]any{
			"allocationId": uint64(9),
			"bidId":        uint64(1),
			"recipient":    lenderAddr,
			"amount":       40000,
		}))

		r, err := bidReward("1", "9")
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Claimed).To(BeTrue())
		Expect(r.ClaimedAt).To(Equal(h.timestamp))

		a := h.GetAllocation(9)
		Expect(a.RewardTokenAmountRemaining).To(Equal(big.NewInt(60000)))
		Expect(a.Status).To(Equal(entity.AllocationActive))
	})

	It("keeps claimed history when the allocation is deleted", func() {
		createAllocation(9, 1)
		h.SubmitBid(1, 1000, 1200, 3600000)
		h.AcceptBid(1)

		h.AdvanceBlock(12)
		h.PostEvents(Event("ClaimedRewards", h.NextLog(allocatorContract), map[string]any{
			"allocationId": uint64(9),
			"bidId":        uint64(1),
			"recipient":    lenderAddr,
			"amount":       40000,
		}))
		h.AdvanceBlock(12)
		h.PostEvents(Event("DeletedAllocation", h.NextLog(allocatorContract), map[string]any{
			"allocationId": uint64(9),
		}))

		a := h.GetAllocation(9)
		Expect(a.Status).To(Equal(entity.AllocationDeleted))
		Expect(a.RewardTokenAmountRemaining.Sign()).To(BeZero())

		r, err := bidReward("1", "9")
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Claimed).To(BeTrue())
	})
})
