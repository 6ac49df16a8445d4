// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package entity defines the derived entities maintained by the lending
// indexer: loans (bids), marketplaces, per-party aggregates, token volumes,
// loan status partitions, lender commitments and reward allocations.
// Every entity is addressed by a deterministic string id and stores fully
// materialized numeric fields so incremental updates are always defined.
package entity

import (
	"math/big"
	"strings"
)

// ZeroAddress is the canonical empty EVM address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// NormalizeAddress lower-cases a hex address so ids are stable.
func NormalizeAddress(addr string) string {
	return strings.ToLower(addr)
}

// IsZeroAddress reports whether addr is unset or the zero address.
func IsZeroAddress(addr string) bool {
	return addr == "" || NormalizeAddress(addr) == ZeroAddress
}

// Bid is a loan from submission through its terminal state.
type Bid struct {
	ID              string `json:"id"`
	BidID           uint64 `json:"bidId"`
	CreatedAt       uint64 `json:"createdAt"`
	UpdatedAt       uint64 `json:"updatedAt"`
	TransactionHash string `json:"transactionHash"`

	Borrower        string `json:"borrower"`
	BorrowerAddress string `json:"borrowerAddress"`
	Lender          string `json:"lender,omitempty"`
	LenderAddress   string `json:"lenderAddress,omitempty"`
	ReceiverAddress string `json:"receiverAddress"`

	LendingToken        string   `json:"lendingToken"`
	LendingTokenAddress string   `json:"lendingTokenAddress"`
	Principal           *big.Int `json:"principal"`
	APR                 *big.Int `json:"apr"`

	LoanDuration           uint64   `json:"loanDuration"`
	PaymentCycle           uint64   `json:"paymentCycle"`
	PaymentCycleAmount     *big.Int `json:"paymentCycleAmount"`
	PaymentDefaultDuration uint64   `json:"paymentDefaultDuration"`

	Status BidStatus `json:"status"`

	ExpiresAt           uint64 `json:"expiresAt"`
	AcceptedTimestamp   uint64 `json:"acceptedTimestamp"`
	EndDate             uint64 `json:"endDate"`
	NextDueDate         uint64 `json:"nextDueDate"`
	LastRepaidTimestamp uint64 `json:"lastRepaidTimestamp"`

	TotalRepaidPrincipal *big.Int `json:"totalRepaidPrincipal"`
	TotalRepaidInterest  *big.Int `json:"totalRepaidInterest"`

	// Running totals at the time of the previous repayment, used to derive
	// per-payment deltas from the cumulative chain values.
	LastTotalRepaidAmount         *big.Int `json:"lastTotalRepaidAmount"`
	LastTotalRepaidInterestAmount *big.Int `json:"lastTotalRepaidInterestAmount"`

	Marketplace   string `json:"marketplace"`
	MarketplaceID uint64 `json:"marketplaceId"`

	Commitment       string   `json:"commitment,omitempty"`
	CollateralEscrow string   `json:"collateralEscrow,omitempty"`
	Collateral       []string `json:"collateral,omitempty"`
	MetadataURI      string   `json:"metadataURI,omitempty"`
}

// MarketPlace is a lending market and its running aggregates.
type MarketPlace struct {
	ID            string `json:"id"`
	MarketplaceID uint64 `json:"marketplaceId"`

	Owner        string `json:"owner,omitempty"`
	FeeRecipient string `json:"feeRecipient,omitempty"`
	MetadataURI  string `json:"metadataURI,omitempty"`
	IsMarketOpen bool   `json:"isMarketOpen"`

	MarketplaceFeePercent  uint64 `json:"marketplaceFeePercent"`
	PaymentDefaultDuration uint64 `json:"paymentDefaultDuration"`
	PaymentCycleDuration   uint64 `json:"paymentCycleDuration"`
	BidExpirationTime      uint64 `json:"bidExpirationTime"`

	PaymentType      string `json:"paymentType"`      // EMI | Bullet
	PaymentCycleType string `json:"paymentCycleType"` // Seconds | Monthly

	BorrowerAttestationRequired bool `json:"borrowerAttestationRequired"`
	LenderAttestationRequired   bool `json:"lenderAttestationRequired"`

	OpenRequests         uint64 `json:"openRequests"`
	ActiveLoans          uint64 `json:"activeLoans"`
	ClosedLoans          uint64 `json:"closedLoans"`
	TotalNumberOfLenders uint64 `json:"totalNumberOfLenders"`

	APRTotal        *big.Int `json:"aprTotal"`
	APRAverage      *big.Int `json:"aprAverage"`
	DurationTotal   *big.Int `json:"durationTotal"`
	DurationAverage *big.Int `json:"durationAverage"`
}

// User is a global identity across all markets.
type User struct {
	ID                   string `json:"id"`
	FirstInteractionDate uint64 `json:"firstInteractionDate"`
}

// Lender is a per-(market, address) lending identity.
type Lender struct {
	ID                   string `json:"id"`
	User                 string `json:"user"`
	LenderAddress        string `json:"lenderAddress"`
	IsAttested           bool   `json:"isAttested"`
	AttestedTimestamp    uint64 `json:"attestedTimestamp,omitempty"`
	FirstInteractionDate uint64 `json:"firstInteractionDate"`
	Marketplace          string `json:"marketplace"`
	MarketplaceID        uint64 `json:"marketplaceId"`

	ActiveLoans  uint64 `json:"activeLoans"`
	ClosedLoans  uint64 `json:"closedLoans"`
	BidsAccepted uint64 `json:"bidsAccepted"`

	DurationTotal   *big.Int `json:"durationTotal"`
	DurationAverage *big.Int `json:"durationAverage"`
}

// Borrower is a per-(market, address) borrowing identity.
type Borrower struct {
	ID                   string `json:"id"`
	User                 string `json:"user"`
	BorrowerAddress      string `json:"borrowerAddress"`
	IsAttested           bool   `json:"isAttested"`
	AttestedTimestamp    uint64 `json:"attestedTimestamp,omitempty"`
	FirstInteractionDate uint64 `json:"firstInteractionDate"`
	Marketplace          string `json:"marketplace"`
	MarketplaceID        uint64 `json:"marketplaceId"`

	ActiveLoans   uint64 `json:"activeLoans"`
	ClosedLoans   uint64 `json:"closedLoans"`
	BidsSubmitted uint64 `json:"bidsSubmitted"`
	BidsAccepted  uint64 `json:"bidsAccepted"`

	DurationTotal   *big.Int `json:"durationTotal"`
	DurationAverage *big.Int `json:"durationAverage"`
}

// Token is an ERC20/ERC721/ERC1155 asset referenced by loans or collateral.
type Token struct {
	ID       string   `json:"id"`
	Address  string   `json:"address"`
	Name     string   `json:"name,omitempty"`
	Symbol   string   `json:"symbol,omitempty"`
	Decimals uint64   `json:"decimals,omitempty"`
	Type     string   `json:"type,omitempty"` // UNKNOWN | ERC20 | ERC721 | ERC1155
	NFTID    *big.Int `json:"nftId,omitempty"`
}

// TokenVolume aggregates loan financial statistics for one lending token at
// one scope (protocol, market, lender, borrower, commitment, or a
// collateral pair derived from one of those).
type TokenVolume struct {
	ID                  string `json:"id"`
	Token               string `json:"token"`
	LendingTokenAddress string `json:"lendingTokenAddress"`

	// Scope back-references; exactly one of the first five is set for base
	// volumes, collateral volumes point at their parent instead.
	Protocol   string `json:"protocol,omitempty"`
	Market     string `json:"market,omitempty"`
	Lender     string `json:"lender,omitempty"`
	Borrower   string `json:"borrower,omitempty"`
	Commitment string `json:"commitment,omitempty"`

	CollateralToken          string `json:"collateralToken,omitempty"`
	LinkedParentTokenVolume  string `json:"linkedParentTokenVolume,omitempty"`
	ProtocolCollateral       string `json:"protocolCollateral,omitempty"`

	LoanAcceptedCount  uint64   `json:"loanAcceptedCount"`
	TotalLoaned        *big.Int `json:"totalLoaned"`
	LoanAverage        *big.Int `json:"loanAverage"`
	OutstandingCapital *big.Int `json:"outstandingCapital"`

	TotalActive     *big.Int `json:"totalActive"`
	TotalDueSoon    *big.Int `json:"totalDueSoon"`
	TotalLate       *big.Int `json:"totalLate"`
	TotalDefaulted  *big.Int `json:"totalDefaulted"`
	TotalRepaid     *big.Int `json:"totalRepaid"`
	TotalLiquidated *big.Int `json:"totalLiquidated"`

	CommissionEarned    *big.Int `json:"commissionEarned"`
	TotalRepaidInterest *big.Int `json:"totalRepaidInterest"`
	TotalAvailable      *big.Int `json:"totalAvailable"`

	APRWeightedTotal      *big.Int `json:"aprWeightedTotal"`
	APRAverage            *big.Int `json:"aprAverage"`
	DurationWeightedTotal *big.Int `json:"durationWeightedTotal"`
	DurationAverage       *big.Int `json:"durationAverage"`
}

// LoanStatusCount partitions the bid ids of one scope by current status.
type LoanStatusCount struct {
	ID string `json:"id"`

	Protocol    string `json:"protocol,omitempty"`
	Market      string `json:"market,omitempty"`
	Lender      string `json:"lender,omitempty"`
	Borrower    string `json:"borrower,omitempty"`
	TokenVolume string `json:"tokenVolume,omitempty"`

	All        []string `json:"all"`
	TotalCount uint64   `json:"totalCount"`

	Submitted  []string `json:"submitted"`
	Expired    []string `json:"expired"`
	Cancelled  []string `json:"cancelled"`
	Accepted   []string `json:"accepted"`
	DueSoon    []string `json:"dueSoon"`
	Late       []string `json:"late"`
	Defaulted  []string `json:"defaulted"`
	Repaid     []string `json:"repaid"`
	Liquidated []string `json:"liquidated"`

	SubmittedCount  uint64 `json:"submittedCount"`
	ExpiredCount    uint64 `json:"expiredCount"`
	CancelledCount  uint64 `json:"cancelledCount"`
	AcceptedCount   uint64 `json:"acceptedCount"`
	DueSoonCount    uint64 `json:"dueSoonCount"`
	LateCount       uint64 `json:"lateCount"`
	DefaultedCount  uint64 `json:"defaultedCount"`
	RepaidCount     uint64 `json:"repaidCount"`
	LiquidatedCount uint64 `json:"liquidatedCount"`
}

// Bucket returns a pointer to the id set for a status.
func (c *LoanStatusCount) Bucket(s BidStatus) *[]string {
	switch s {
	case StatusSubmitted:
		return &c.Submitted
	case StatusExpired:
		return &c.Expired
	case StatusCancelled:
		return &c.Cancelled
	case StatusAccepted:
		return &c.Accepted
	case StatusDueSoon:
		return &c.DueSoon
	case StatusLate:
		return &c.Late
	case StatusDefaulted:
		return &c.Defaulted
	case StatusRepaid:
		return &c.Repaid
	case StatusLiquidated:
		return &c.Liquidated
	}
	return nil
}

// SetBucketCount writes the materialized count field for a status.
func (c *LoanStatusCount) SetBucketCount(s BidStatus, n uint64) {
	switch s {
	case StatusSubmitted:
		c.SubmittedCount = n
	case StatusExpired:
		c.ExpiredCount = n
	case StatusCancelled:
		c.CancelledCount = n
	case StatusAccepted:
		c.AcceptedCount = n
	case StatusDueSoon:
		c.DueSoonCount = n
	case StatusLate:
		c.LateCount = n
	case StatusDefaulted:
		c.DefaultedCount = n
	case StatusRepaid:
		c.RepaidCount = n
	case StatusLiquidated:
		c.LiquidatedCount = n
	}
}

// Commitment is a lender's standing offer to fund qualifying bids.
type Commitment struct {
	ID        string           `json:"id"`
	CreatedAt uint64           `json:"createdAt"`
	UpdatedAt uint64           `json:"updatedAt"`
	Status    CommitmentStatus `json:"status"`

	CommittedAmount     *big.Int `json:"committedAmount"`
	ExpirationTimestamp uint64   `json:"expirationTimestamp"`
	MaxDuration         uint64   `json:"maxDuration"`
	MinAPY              *big.Int `json:"minAPY"`

	Lender        string `json:"lender"`
	LenderAddress string `json:"lenderAddress"`
	Marketplace   string `json:"marketplace"`
	MarketplaceID uint64 `json:"marketplaceId"`
	TokenVolume   string `json:"tokenVolume,omitempty"`

	PrincipalToken        string `json:"principalToken"`
	PrincipalTokenAddress string `json:"principalTokenAddress"`

	CollateralToken                 string   `json:"collateralToken,omitempty"`
	CollateralTokenAddress          string   `json:"collateralTokenAddress,omitempty"`
	CollateralTokenType             uint64   `json:"collateralTokenType"`
	MaxPrincipalPerCollateralAmount *big.Int `json:"maxPrincipalPerCollateralAmount"`

	CommitmentBorrowers []string `json:"commitmentBorrowers,omitempty"`

	MaxPrincipal      *big.Int `json:"maxPrincipal"`
	AcceptedPrincipal *big.Int `json:"acceptedPrincipal"`

	// Refreshed by the block sweep; default to max so a commitment is not
	// deactivated before the first on-chain read.
	LenderPrincipalBalance   *big.Int `json:"lenderPrincipalBalance"`
	LenderPrincipalAllowance *big.Int `json:"lenderPrincipalAllowance"`
}

// RewardAllocation is an incentive pool paying out to qualifying bids.
type RewardAllocation struct {
	ID        string           `json:"id"`
	CreatedAt uint64           `json:"createdAt"`
	UpdatedAt uint64           `json:"updatedAt"`
	Status    AllocationStatus `json:"status"`

	Allocator        string `json:"allocator,omitempty"`
	AllocatorAddress string `json:"allocatorAddress"`

	RewardToken                string   `json:"rewardToken"`
	RewardTokenAddress         string   `json:"rewardTokenAddress"`
	RewardTokenAmountInitial   *big.Int `json:"rewardTokenAmountInitial"`
	RewardTokenAmountRemaining *big.Int `json:"rewardTokenAmountRemaining"`

	Marketplace   string `json:"marketplace"`
	MarketplaceID uint64 `json:"marketplaceId"`

	RequiredPrincipalTokenAddress  string   `json:"requiredPrincipalTokenAddress"`
	RequiredCollateralTokenAddress string   `json:"requiredCollateralTokenAddress"`
	MinimumCollateralPerPrincipal  *big.Int `json:"minimumCollateralPerPrincipalAmount"`
	RewardPerLoanPrincipalAmount   *big.Int `json:"rewardPerLoanPrincipalAmount"`

	BidStartTimeMin uint64 `json:"bidStartTimeMin"`
	BidStartTimeMax uint64 `json:"bidStartTimeMax"`

	AllocationStrategy string `json:"allocationStrategy"` // BORROWER | LENDER

	BidRewards []string `json:"bidRewards"`
}

// BidReward links a qualifying bid to a reward allocation.
type BidReward struct {
	ID        string `json:"id"`
	CreatedAt uint64 `json:"createdAt"`
	UpdatedAt uint64 `json:"updatedAt"`
	Reward    string `json:"reward"`
	Bid       string `json:"bid"`
	User      string `json:"user,omitempty"`
	Claimed   bool   `json:"claimed"`
	ClaimedAt uint64 `json:"claimedAt,omitempty"`
}

// CommitmentReward scores a reward allocation against a commitment.
type CommitmentReward struct {
	ID         string   `json:"id"`
	CreatedAt  uint64   `json:"createdAt"`
	UpdatedAt  uint64   `json:"updatedAt"`
	Reward     string   `json:"reward"`
	Commitment string   `json:"commitment"`
	ROI        *big.Int `json:"roi"`
	APY        *big.Int `json:"apy"`
}

// BidCollateral is collateral committed against one bid for one token.
type BidCollateral struct {
	ID                string   `json:"id"`
	Bid               string   `json:"bid"`
	Amount            *big.Int `json:"amount"`
	TokenID           *big.Int `json:"tokenId,omitempty"`
	CollateralAddress string   `json:"collateralAddress"`
	Token             string   `json:"token"`
	Type              string   `json:"type,omitempty"`
	Status            string   `json:"status"` // Committed | Deposited | Withdrawn
	Receiver          string   `json:"receiver"`
}

// Payment records one repayment transaction against a bid.
type Payment struct {
	ID                 string   `json:"id"`
	Bid                string   `json:"bid"`
	Principal          *big.Int `json:"principal"`
	Interest           *big.Int `json:"interest"`
	PaymentDate        uint64   `json:"paymentDate"`
	OutstandingCapital *big.Int `json:"outstandingCapital"`
	Status             string   `json:"status"` // On Time | Late | Liquidated
}

// FundedTx records the funding transaction of an accepted bid.
type FundedTx struct {
	ID        string `json:"id"`
	Bid       string `json:"bid"`
	Timestamp uint64 `json:"timestamp"`
}

// Protocol is the singleton root entity.
type Protocol struct {
	ID string `json:"id"`

	ActiveCommitments   []string `json:"activeCommitments"`
	InactiveCommitments []string `json:"inactiveCommitments"`
	ActiveRewards       []string `json:"activeRewards"`

	DurationTotal   *big.Int `json:"durationTotal"`
	DurationAverage *big.Int `json:"durationAverage"`
}

// ProtocolCollateral registers a collateral token seen at protocol scope.
type ProtocolCollateral struct {
	ID              string `json:"id"`
	CollateralToken string `json:"collateralToken,omitempty"`
}
