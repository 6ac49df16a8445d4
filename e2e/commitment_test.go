// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package e2e

import (
	"math/big"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lendfi/indexer/entity"
)

var _ = Describe("Lender Commitments", func() {
	var h *Harness

	BeforeEach(func() {
		h = NewHarness()
	})

	AfterEach(func() {
		h.Close()
	})

	createCommitment := func(commitmentID uint64, amount int64) {
		h.SeedCommitment(commitmentID, amount, 31536000)
		h.PostEvents(Event("CreatedCommitment", h.NextLog(commitmentContract), map[string]any{
			"commitmentId": commitmentID,
			"lender":       lenderAddr,
			"marketId":     uint64(1),
			"lendingToken": daiAddr,
			"tokenAmount":  amount,
		}))
	}

	It("advertises committed capital as available volume", func() {
		createCommitment(7, 5000)

		c := h.GetCommitment(7)
		Expect(c.Status).To(Equal(entity.CommitmentActive))
		Expect(c.CommittedAmount).To(Equal(big.NewInt(5000)))
		Expect(c.LenderAddress).To(Equal(lenderAddr))

		Expect(h.GetVolume(daiAddr).TotalAvailable).To(Equal(big.NewInt(5000)))

		p := &entity.Protocol{}
		Expect(h.Get("/api/v2/protocol", p)).To(Equal(200))
		Expect(p.ActiveCommitments).To(ContainElement(c.ID))
	})

	It("draws down a commitment when it funds a loan", func() {
		createCommitment(7, 5000)
		h.SubmitBid(1, 1000, 1200, 3600000)
		h.AcceptBid(1)

		h.PostEvents(Event("ExercisedCommitment", h.NextLog(commitmentContract), map[string]any{
			"commitmentId": uint64(7),
			"borrower":     borrowerAddr,
			"tokenAmount":  1000,
			"bidId":        uint64(1),
		}))

		c := h.GetCommitment(7)
		Expect(c.CommittedAmount).To(Equal(big.NewInt(4000)))
		Expect(c.AcceptedPrincipal).To(Equal(big.NewInt(1000)))

		b := h.GetBid(1)
		Expect(b.Commitment).To(Equal(c.ID))

		Expect(h.GetVolume(daiAddr).TotalAvailable).To(Equal(big.NewInt(4000)))
	})

	It("drains a commitment exercised for its full amount", func() {
		createCommitment(7, 1000)
		h.SubmitBid(1, 1000, 1200, 3600000)
		h.AcceptBid(1)

		h.PostEvents(Event("ExercisedCommitment", h.NextLog(commitmentContract), map[string]any{
			"commitmentId": uint64(7),
			"borrower":     borrowerAddr,
			"tokenAmount":  1000,
			"bidId":        uint64(1),
		}))

		c := h.GetCommitment(7)
		Expect(c.Status).To(Equal(entity.CommitmentDrained))
		Expect(c.CommittedAmount.Sign()).To(BeZero())

		p := &entity.Protocol{}
		Expect(h.Get("/api/v2/protocol", p)).To(Equal(200))
		Expect(p.ActiveCommitments).NotTo(ContainElement(c.ID))
	})
})
