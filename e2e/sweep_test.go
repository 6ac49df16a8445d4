// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package e2e

import (
	"math/big"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lendfi/indexer/chain"
	"github.com/lendfi/indexer/entity"
)

var _ = Describe("Block Sweeps", func() {
	var h *Harness

	BeforeEach(func() {
		h = NewHarness()
	})

	AfterEach(func() {
		h.Close()
	})

	It("expires submitted bids past their deadline", func() {
		h.Reader.Expirations[1] = 3600
		h.SubmitBid(1, 1000, 1200, 3600000)
		Expect(h.GetBid(1).ExpiresAt).To(Equal(genesisTimestamp + 3600))

		// Off the sweep cadence nothing moves, even past the deadline.
		h.PostBlock(111, genesisTimestamp+7200)
		Expect(h.GetBid(1).Status).To(Equal(entity.StatusSubmitted))

		h.PostBlock(120, genesisTimestamp+7200)
		Expect(h.GetBid(1).Status).To(Equal(entity.StatusExpired))

		m := &entity.MarketPlace{}
		Expect(h.Get("/api/v2/markets/1", m)).To(Equal(200))
		Expect(m.OpenRequests).To(BeZero())
	})

	It("walks one delinquency step per sweep pass", func() {
		h.PostEvents(Event("SetPaymentDefaultDuration", h.NextLog(coreContract), map[string]any{
			"marketId": uint64(1),
			"duration": uint64(86400 * 60),
		}))
		h.SubmitBid(1, 1000, 1200, 3600000)
		h.AcceptBid(1)
		due := h.GetBid(1).NextDueDate
		Expect(due).NotTo(BeZero())

		past := due + entity.DueSoonWindowSeconds + 3600
		h.PostBlock(120, past)
		Expect(h.GetBid(1).Status).To(Equal(entity.StatusDueSoon))

		h.PostBlock(130, past)
		Expect(h.GetBid(1).Status).To(Equal(entity.StatusLate))

		defaulted := h.GetBid(1).AcceptedTimestamp + 86400*60 + 1
		h.PostBlock(140, defaulted)
		Expect(h.GetBid(1).Status).To(Equal(entity.StatusDefaulted))

		pv := h.GetVolume(daiAddr)
		Expect(pv.TotalDefaulted).To(Equal(big.NewInt(1000)))
		Expect(pv.OutstandingCapital).To(Equal(big.NewInt(1000)))
	})

	It("tracks lender funds behind active commitments", func() {
		h.SeedCommitment(7, 5000, 31536000)
		h.PostEvents(Event("CreatedCommitment", h.NextLog(commitmentContract), map[string]any{
			"commitmentId": uint64(7),
			"lender":       lenderAddr,
			"marketId":     uint64(1),
			"lendingToken": daiAddr,
			"tokenAmount":  5000,
		}))
		Expect(h.GetCommitment(7).Status).To(Equal(entity.CommitmentActive))

		// First funds read finds nothing behind the commitment.
		h.PostBlock(115, h.timestamp+60)
		Expect(h.GetCommitment(7).Status).To(Equal(entity.CommitmentInactive))

		key := chain.FundsKey(lenderAddr, daiAddr)
		h.Reader.Balances[key] = big.NewInt(5000)
		h.Reader.Allowances[key] = big.NewInt(5000)
		h.PostBlock(125, h.timestamp+120)
		Expect(h.GetCommitment(7).Status).To(Equal(entity.CommitmentActive))

		h.PostBlock(135, h.Reader.Commitments[7].Expiration+1)
		c := h.GetCommitment(7)
		Expect(c.Status).To(Equal(entity.CommitmentExpired))

		p := &entity.Protocol{}
		Expect(h.Get("/api/v2/protocol", p)).To(Equal(200))
		Expect(p.ActiveCommitments).NotTo(ContainElement(c.ID))
		Expect(p.InactiveCommitments).NotTo(ContainElement(c.ID))
	})
})
