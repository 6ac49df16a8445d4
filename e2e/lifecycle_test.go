// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package e2e

import (
	"fmt"
	"math/big"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lendfi/indexer/entity"
)

var _ = Describe("Loan Lifecycle", func() {
	var h *Harness

	BeforeEach(func() {
		h = NewHarness()
	})

	AfterEach(func() {
		h.Close()
	})

	It("tracks a bid from submission to full repayment", func() {
		h.SubmitBid(1, 1000, 1200, 3600000)

		b := h.GetBid(1)
		Expect(b.Status).To(Equal(entity.StatusSubmitted))
		Expect(b.BorrowerAddress).To(Equal(borrowerAddr))
		Expect(b.Principal).To(Equal(big.NewInt(1000)))

		m := &entity.MarketPlace{}
		Expect(h.Get("/api/v2/markets/1", m)).To(Equal(200))
		Expect(m.OpenRequests).To(Equal(uint64(1)))

		h.AcceptBid(1)
		b = h.GetBid(1)
		Expect(b.Status).To(Equal(entity.StatusAccepted))
		Expect(b.LenderAddress).To(Equal(lenderAddr))
		Expect(b.AcceptedTimestamp).To(Equal(h.timestamp))

		pv := h.GetVolume(daiAddr)
		Expect(pv.TotalLoaned).To(Equal(big.NewInt(1000)))
		Expect(pv.OutstandingCapital).To(Equal(big.NewInt(1000)))
		Expect(pv.APRAverage).To(Equal(big.NewInt(1200)))

		d := h.Reader.Bids[1]
		d.TotalRepaidPrincipal = big.NewInt(1000)
		d.TotalRepaidInterest = big.NewInt(100)
		h.AdvanceBlock(360000)
		h.PostEvents(Event("LoanRepaid", h.NextLog(coreContract), map[string]any{
			"bidId": uint64(1),
		}))

		b = h.GetBid(1)
		Expect(b.Status).To(Equal(entity.StatusRepaid))
		Expect(b.TotalRepaidPrincipal).To(Equal(big.NewInt(1000)))

		pv = h.GetVolume(daiAddr)
		Expect(pv.OutstandingCapital.Sign()).To(BeZero())
		Expect(pv.TotalRepaid).To(Equal(big.NewInt(1000)))
		Expect(pv.TotalRepaidInterest).To(Equal(big.NewInt(100)))

		c := h.GetLoanStatus("protocol", "v2")
		Expect(c.Repaid).To(ContainElement(b.ID))
		Expect(c.Accepted).To(BeEmpty())
		Expect(c.RepaidCount).To(Equal(uint64(1)))
	})

	It("keeps every scope partition aligned after acceptance", func() {
		h.SubmitBid(1, 1000, 1200, 3600000)
		h.AcceptBid(1)

		for _, scope := range []struct{ scope, id string }{
			{"protocol", "v2"},
			{"market", "1"},
			{"borrower", fmt.Sprintf("borrower-1-%s", borrowerAddr)},
			{"lender", fmt.Sprintf("lender-1-%s", lenderAddr)},
			{"tokenVolume", daiAddr},
		} {
			c := h.GetLoanStatus(scope.scope, scope.id)
			Expect(c.Accepted).To(ContainElement("1"), scope.scope)
			Expect(c.AcceptedCount).To(Equal(uint64(1)), scope.scope)
		}
	})

	It("records a liquidation and closes the loan balance", func() {
		h.SubmitBid(1, 1000, 1200, 3600000)
		h.AcceptBid(1)

		h.AdvanceBlock(720000)
		h.PostEvents(Event("LoanLiquidated", h.NextLog(coreContract), map[string]any{
			"bidId":      uint64(1),
			"liquidator": lenderAddr,
		}))

		b := h.GetBid(1)
		Expect(b.Status).To(Equal(entity.StatusLiquidated))

		pv := h.GetVolume(daiAddr)
		Expect(pv.TotalLiquidated).To(Equal(big.NewInt(1000)))
		Expect(pv.OutstandingCapital.Sign()).To(BeZero())
	})

	It("rejects cancelling an accepted bid", func() {
		h.SubmitBid(1, 1000, 1200, 3600000)
		h.AcceptBid(1)

		h.AdvanceBlock(12)
		status := h.PostEventsStatus(Event("CancelledBid", h.NextLog(coreContract), map[string]any{
			"bidId": uint64(1),
		}))
		Expect(status).To(Equal(500))

		Expect(h.GetBid(1).Status).To(Equal(entity.StatusAccepted))
	})

	It("replays an already indexed event without double counting", func() {
		h.SubmitBid(1, 1000, 1200, 3600000)
		acceptLog := h.AcceptBid(1)

		// Same log again, as a feeder restart would deliver it.
		h.PostEvents(Event("AcceptedBid", acceptLog, map[string]any{
			"bidId":  uint64(1),
			"lender": lenderAddr,
		}))

		pv := h.GetVolume(daiAddr)
		Expect(pv.TotalLoaned).To(Equal(big.NewInt(1000)))
		Expect(pv.LoanAcceptedCount).To(Equal(uint64(1)))
	})
})
