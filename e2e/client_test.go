// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	. "github.com/onsi/gomega"

	"github.com/lendfi/indexer/entity"
	"github.com/lendfi/indexer/lending"
)

func txHash(block, logIndex uint64) string {
	return fmt.Sprintf("0xtx%d-%d", block, logIndex)
}

// Event builds one envelope from a stamped log and raw params.
func Event(name string, l lending.Log, params map[string]any) lending.Envelope {
	raw, err := json.Marshal(params)
	Expect(err).NotTo(HaveOccurred())
	return lending.Envelope{Name: name, Log: l, Params: raw}
}

// PostEvents pushes a batch through POST /api/v2/events and expects 200.
func (h *Harness) PostEvents(envs ...lending.Envelope) {
	Expect(h.PostEventsStatus(envs...)).To(Equal(200), "event ingest")
}

// PostEventsStatus pushes a batch and returns the response status.
func (h *Harness) PostEventsStatus(envs ...lending.Envelope) int {
	body, err := json.Marshal(envs)
	Expect(err).NotTo(HaveOccurred())

	resp, err := http.Post(h.HTTP.URL+"/api/v2/events", "application/json", bytes.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	return resp.StatusCode
}

// PostBlock pushes a block tick through POST /api/v2/blocks.
func (h *Harness) PostBlock(height, timestamp uint64) {
	body := fmt.Sprintf(`{"height":%d,"timestamp":%d}`, height, timestamp)
	resp, err := http.Post(h.HTTP.URL+"/api/v2/blocks", "application/json", strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	Expect(resp.StatusCode).To(Equal(200), "block ingest")
}

// Get decodes a read endpoint into out and returns the HTTP status.
func (h *Harness) Get(path string, out any) int {
	resp, err := http.Get(h.HTTP.URL + path)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == 200 {
		Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
	}
	return resp.StatusCode
}

func (h *Harness) GetBid(bidID uint64) *entity.Bid {
	b := &entity.Bid{}
	Expect(h.Get(fmt.Sprintf("/api/v2/bids/%d", bidID), b)).To(Equal(200))
	return b
}

func (h *Harness) GetCommitment(commitmentID uint64) *entity.Commitment {
	c := &entity.Commitment{}
	Expect(h.Get(fmt.Sprintf("/api/v2/commitments/%d", commitmentID), c)).To(Equal(200))
	return c
}

func (h *Harness) GetAllocation(allocationID uint64) *entity.RewardAllocation {
	a := &entity.RewardAllocation{}
	Expect(h.Get(fmt.Sprintf("/api/v2/allocations/%d", allocationID), a)).To(Equal(200))
	return a
}

func (h *Harness) GetVolume(id string) *entity.TokenVolume {
	v := &entity.TokenVolume{}
	Expect(h.Get("/api/v2/tokenvolumes/"+id, v)).To(Equal(200))
	return v
}

func (h *Harness) GetLoanStatus(scope, scopeID string) *entity.LoanStatusCount {
	c := &entity.LoanStatusCount{}
	Expect(h.Get(fmt.Sprintf("/api/v2/loanstatus/%s/%s", scope, scopeID), c)).To(Equal(200))
	return c
}

// SubmitBid seeds chain state and ingests the SubmittedBid event.
func (h *Harness) SubmitBid(bidID uint64, principal, apr int64, duration uint64) {
	h.SeedBid(bidID, principal, apr, duration)
	h.PostEvents(Event("SubmittedBid", h.NextLog(coreContract), map[string]any{
		"bidId":    bidID,
		"borrower": borrowerAddr,
	}))
}

// AcceptBid ingests the AcceptedBid event one block later and returns the
// stamped log so specs can replay the identical event.
func (h *Harness) AcceptBid(bidID uint64) lending.Log {
	h.AdvanceBlock(12)
	l := h.NextLog(coreContract)
	h.PostEvents(Event("AcceptedBid", l, map[string]any{
		"bidId":  bidID,
		"lender": lenderAddr,
	}))
	return l
}
