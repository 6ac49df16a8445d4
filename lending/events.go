// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package lending

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
)

// Log is the chain position and provenance shared by every event.
type Log struct {
	ContractAddress string `json:"contractAddress"`
	BlockNumber     uint64 `json:"blockNumber"`
	LogIndex        uint64 `json:"logIndex"`
	BlockTimestamp  uint64 `json:"blockTimestamp"`
	TxHash          string `json:"txHash"`
}

// EventLog implements Event for every type embedding Log.
func (l Log) EventLog() Log { return l }

func (l *Log) setEventLog(v Log) { *l = v }

// Event is one decoded contract log.
type Event interface {
	EventLog() Log
}

// Loan lifecycle events (lending core contract).

type SubmittedBid struct {
	Log
	BidID       uint64 `json:"bidId"`
	Borrower    string `json:"borrower"`
	Receiver    string `json:"receiver,omitempty"`
	MetadataURI string `json:"metadataURI,omitempty"`
}

type AcceptedBid struct {
	Log
	BidID  uint64 `json:"bidId"`
	Lender string `json:"lender"`
}

type CancelledBid struct {
	Log
	BidID uint64 `json:"bidId"`
}

// MarketOwnerCancelledBid is emitted when the market owner, not the
// borrower, cancels. Indexed identically to CancelledBid.
type MarketOwnerCancelledBid struct {
	Log
	BidID uint64 `json:"bidId"`
}

type LoanRepayment struct {
	Log
	BidID uint64 `json:"bidId"`
}

type LoanRepaid struct {
	Log
	BidID uint64 `json:"bidId"`
}

type LoanLiquidated struct {
	Log
	BidID      uint64 `json:"bidId"`
	Liquidator string `json:"liquidator,omitempty"`
}

// FeePaid carries the indexed fee type as its topic hash.
type FeePaid struct {
	Log
	BidID   uint64   `json:"bidId"`
	FeeType string   `json:"feeType"`
	Amount  *big.Int `json:"amount"`
}

// CoreUpgraded signals a proxy implementation change of the core contract.
type CoreUpgraded struct {
	Log
	Implementation string `json:"implementation"`
}

// Collateral manager events.

type CollateralCommitted struct {
	Log
	BidID             uint64   `json:"bidId"`
	CollateralType    uint64   `json:"collateralType"`
	CollateralAddress string   `json:"collateralAddress"`
	Amount            *big.Int `json:"amount"`
	TokenID           *big.Int `json:"tokenId,omitempty"`
}

type CollateralDeposited struct {
	Log
	BidID             uint64   `json:"bidId"`
	CollateralType    uint64   `json:"collateralType"`
	CollateralAddress string   `json:"collateralAddress"`
	Amount            *big.Int `json:"amount"`
	TokenID           *big.Int `json:"tokenId,omitempty"`
}

type CollateralWithdrawn struct {
	Log
	BidID             uint64   `json:"bidId"`
	CollateralType    uint64   `json:"collateralType"`
	CollateralAddress string   `json:"collateralAddress"`
	Amount            *big.Int `json:"amount"`
	TokenID           *big.Int `json:"tokenId,omitempty"`
	Recipient         string   `json:"recipient"`
}

type CollateralClaimed struct {
	Log
	BidID uint64 `json:"bidId"`
}

type CollateralEscrowDeployed struct {
	Log
	BidID  uint64 `json:"bidId"`
	Escrow string `json:"escrow"`
}

// Market registry events.

type MarketCreated struct {
	Log
	MarketID uint64 `json:"marketId"`
	Owner    string `json:"owner"`
}

type MarketClosed struct {
	Log
	MarketID uint64 `json:"marketId"`
}

type SetMarketOwner struct {
	Log
	MarketID uint64 `json:"marketId"`
	Owner    string `json:"owner"`
}

type SetMarketFeeRecipient struct {
	Log
	MarketID  uint64 `json:"marketId"`
	Recipient string `json:"recipient"`
}

type SetMarketURI struct {
	Log
	MarketID uint64 `json:"marketId"`
	URI      string `json:"uri"`
}

type SetMarketPaymentType struct {
	Log
	MarketID    uint64 `json:"marketId"`
	PaymentType uint64 `json:"paymentType"` // 0 EMI, 1 Bullet
}

type SetPaymentCycle struct {
	Log
	MarketID  uint64 `json:"marketId"`
	CycleType uint64 `json:"cycleType"` // 0 Seconds, 1 Monthly
	Duration  uint64 `json:"duration"`
}

type SetPaymentDefaultDuration struct {
	Log
	MarketID uint64 `json:"marketId"`
	Duration uint64 `json:"duration"`
}

type SetBidExpirationTime struct {
	Log
	MarketID uint64 `json:"marketId"`
	Duration uint64 `json:"duration"`
}

type SetMarketFee struct {
	Log
	MarketID   uint64 `json:"marketId"`
	FeePercent uint64 `json:"feePercent"`
}

type SetMarketLenderAttestation struct {
	Log
	MarketID uint64 `json:"marketId"`
	Required bool   `json:"required"`
}

type SetMarketBorrowerAttestation struct {
	Log
	MarketID uint64 `json:"marketId"`
	Required bool   `json:"required"`
}

type LenderAttestation struct {
	Log
	MarketID uint64 `json:"marketId"`
	Lender   string `json:"lender"`
}

type BorrowerAttestation struct {
	Log
	MarketID uint64 `json:"marketId"`
	Borrower string `json:"borrower"`
}

type LenderRevocation struct {
	Log
	MarketID uint64 `json:"marketId"`
	Lender   string `json:"lender"`
}

type BorrowerRevocation struct {
	Log
	MarketID uint64 `json:"marketId"`
	Borrower string `json:"borrower"`
}

type LenderExitMarket struct {
	Log
	MarketID uint64 `json:"marketId"`
	Lender   string `json:"lender"`
}

type BorrowerExitMarket struct {
	Log
	MarketID uint64 `json:"marketId"`
	Borrower string `json:"borrower"`
}

type MarketRegistryUpgraded struct {
	Log
	Implementation string `json:"implementation"`
}

// Lender commitment events.

type CreatedCommitment struct {
	Log
	CommitmentID uint64   `json:"commitmentId"`
	Lender       string   `json:"lender"`
	MarketID     uint64   `json:"marketId"`
	LendingToken string   `json:"lendingToken"`
	TokenAmount  *big.Int `json:"tokenAmount"`
}

type UpdatedCommitment struct {
	Log
	CommitmentID uint64   `json:"commitmentId"`
	Lender       string   `json:"lender"`
	MarketID     uint64   `json:"marketId"`
	LendingToken string   `json:"lendingToken"`
	TokenAmount  *big.Int `json:"tokenAmount"`
}

type DeletedCommitment struct {
	Log
	CommitmentID uint64 `json:"commitmentId"`
}

type ExercisedCommitment struct {
	Log
	CommitmentID uint64   `json:"commitmentId"`
	Borrower     string   `json:"borrower"`
	TokenAmount  *big.Int `json:"tokenAmount"`
	BidID        uint64   `json:"bidId"`
}

type UpdatedCommitmentBorrowers struct {
	Log
	CommitmentID uint64 `json:"commitmentId"`
}

// Liquidity reward events.

type CreatedAllocation struct {
	Log
	AllocationID uint64 `json:"allocationId"`
	Allocator    string `json:"allocator"`
	MarketID     uint64 `json:"marketId"`
}

type UpdatedAllocation struct {
	Log
	AllocationID uint64 `json:"allocationId"`
}

type IncreasedAllocation struct {
	Log
	AllocationID uint64   `json:"allocationId"`
	Amount       *big.Int `json:"amount"`
}

type DecreasedAllocation struct {
	Log
	AllocationID uint64   `json:"allocationId"`
	Amount       *big.Int `json:"amount"`
}

type DeletedAllocation struct {
	Log
	AllocationID uint64 `json:"allocationId"`
}

type ClaimedRewards struct {
	Log
	AllocationID uint64   `json:"allocationId"`
	BidID        uint64   `json:"bidId"`
	Recipient    string   `json:"recipient"`
	Amount       *big.Int `json:"amount"`
}

// LenderNFTTransfer tracks ownership transfers of the lender position NFT;
// token id equals the bid id.
type LenderNFTTransfer struct {
	Log
	From    string `json:"from"`
	To      string `json:"to"`
	TokenID uint64 `json:"tokenId"`
}

// SortEvents orders a batch by chain position.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].EventLog(), events[j].EventLog()
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		return a.LogIndex < b.LogIndex
	})
}

// eventFactories maps wire names to fresh event values for ingest decoding.
var eventFactories = map[string]func() Event{
	"SubmittedBid":                 func() Event { return &SubmittedBid{} },
	"AcceptedBid":                  func() Event { return &AcceptedBid{} },
	"CancelledBid":                 func() Event { return &CancelledBid{} },
	"MarketOwnerCancelledBid":      func() Event { return &MarketOwnerCancelledBid{} },
	"LoanRepayment":                func() Event { return &LoanRepayment{} },
	"LoanRepaid":                   func() Event { return &LoanRepaid{} },
	"LoanLiquidated":               func() Event { return &LoanLiquidated{} },
	"FeePaid":                      func() Event { return &FeePaid{} },
	"CoreUpgraded":                 func() Event { return &CoreUpgraded{} },
	"CollateralCommitted":          func() Event { return &CollateralCommitted{} },
	"CollateralDeposited":          func() Event { return &CollateralDeposited{} },
	"CollateralWithdrawn":          func() Event { return &CollateralWithdrawn{} },
	"CollateralClaimed":            func() Event { return &CollateralClaimed{} },
	"CollateralEscrowDeployed":     func() Event { return &CollateralEscrowDeployed{} },
	"MarketCreated":                func() Event { return &MarketCreated{} },
	"MarketClosed":                 func() Event { return &MarketClosed{} },
	"SetMarketOwner":               func() Event { return &SetMarketOwner{} },
	"SetMarketFeeRecipient":        func() Event { return &SetMarketFeeRecipient{} },
	"SetMarketURI":                 func() Event { return &SetMarketURI{} },
	"SetMarketPaymentType":         func() Event { return &SetMarketPaymentType{} },
	"SetPaymentCycle":              func() Event { return &SetPaymentCycle{} },
	"SetPaymentDefaultDuration":    func() Event { return &SetPaymentDefaultDuration{} },
	"SetBidExpirationTime":         func() Event { return &SetBidExpirationTime{} },
	"SetMarketFee":                 func() Event { return &SetMarketFee{} },
	"SetMarketLenderAttestation":   func() Event { return &SetMarketLenderAttestation{} },
	"SetMarketBorrowerAttestation": func() Event { return &SetMarketBorrowerAttestation{} },
	"LenderAttestation":            func() Event { return &LenderAttestation{} },
	"BorrowerAttestation":          func() Event { return &BorrowerAttestation{} },
	"LenderRevocation":             func() Event { return &LenderRevocation{} },
	"BorrowerRevocation":           func() Event { return &BorrowerRevocation{} },
	"LenderExitMarket":             func() Event { return &LenderExitMarket{} },
	"BorrowerExitMarket":           func() Event { return &BorrowerExitMarket{} },
	"MarketRegistryUpgraded":       func() Event { return &MarketRegistryUpgraded{} },
	"CreatedCommitment":            func() Event { return &CreatedCommitment{} },
	"UpdatedCommitment":            func() Event { return &UpdatedCommitment{} },
	"DeletedCommitment":            func() Event { return &DeletedCommitment{} },
	"ExercisedCommitment":          func() Event { return &ExercisedCommitment{} },
	"UpdatedCommitmentBorrowers":   func() Event { return &UpdatedCommitmentBorrowers{} },
	"CreatedAllocation":            func() Event { return &CreatedAllocation{} },
	"UpdatedAllocation":            func() Event { return &UpdatedAllocation{} },
	"IncreasedAllocation":          func() Event { return &IncreasedAllocation{} },
	"DecreasedAllocation":          func() Event { return &DecreasedAllocation{} },
	"DeletedAllocation":            func() Event { return &DeletedAllocation{} },
	"ClaimedRewards":               func() Event { return &ClaimedRewards{} },
	"LenderNFTTransfer":            func() Event { return &LenderNFTTransfer{} },
}

// Envelope is the wire form of one event on the ingest API.
type Envelope struct {
	Name string `json:"name"`
	Log
	Params json.RawMessage `json:"params"`
}

// DecodeEvent materializes an envelope into its typed event.
func DecodeEvent(env Envelope) (Event, error) {
	factory, ok := eventFactories[env.Name]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", env.Name)
	}
	ev := factory()
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, ev); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", env.Name, err)
		}
	}
	// The Log fields live on the envelope, not in params.
	if s, ok := ev.(interface{ setEventLog(Log) }); ok {
		s.setEventLog(env.Log)
	}
	return ev, nil
}
