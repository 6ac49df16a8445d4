// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package entity

// BidStatus is the lifecycle state of a bid.
type BidStatus string

const (
	StatusNone       BidStatus = ""
	StatusSubmitted  BidStatus = "Submitted"
	StatusExpired    BidStatus = "Expired"
	StatusCancelled  BidStatus = "Cancelled"
	StatusAccepted   BidStatus = "Accepted"
	StatusDueSoon    BidStatus = "Due Soon"
	StatusLate       BidStatus = "Late"
	StatusDefaulted  BidStatus = "Defaulted"
	StatusRepaid     BidStatus = "Repaid"
	StatusLiquidated BidStatus = "Liquidated"
)

// BidStatuses lists every concrete status, in partition order.
var BidStatuses = []BidStatus{
	StatusSubmitted,
	StatusExpired,
	StatusCancelled,
	StatusAccepted,
	StatusDueSoon,
	StatusLate,
	StatusDefaulted,
	StatusRepaid,
	StatusLiquidated,
}

// IsAcceptedFamily reports whether the status counts toward loan volume
// aggregation: the loan has been funded and capital is or was deployed.
func (s BidStatus) IsAcceptedFamily() bool {
	switch s {
	case StatusAccepted, StatusDueSoon, StatusLate, StatusDefaulted,
		StatusRepaid, StatusLiquidated:
		return true
	}
	return false
}

// IsActive reports whether principal is still outstanding.
func (s BidStatus) IsActive() bool {
	switch s {
	case StatusAccepted, StatusDueSoon, StatusLate, StatusDefaulted:
		return true
	}
	return false
}

// IsTerminal reports whether no further lifecycle transition is allowed.
func (s BidStatus) IsTerminal() bool {
	switch s {
	case StatusCancelled, StatusExpired, StatusRepaid, StatusLiquidated:
		return true
	}
	return false
}

// CommitmentStatus is the lifecycle state of a lender commitment.
type CommitmentStatus string

const (
	CommitmentActive  CommitmentStatus = "Active"
	CommitmentExpired CommitmentStatus = "Expired"
	CommitmentDeleted CommitmentStatus = "Deleted"
	CommitmentDrained CommitmentStatus = "Drained"

	// Inactive means the lender no longer has the balance or allowance to
	// honor the commitment; the sweep moves it back to Active when both
	// recover.
	CommitmentInactive CommitmentStatus = "Inactive"
)

// AllocationStatus is the lifecycle state of a reward allocation.
type AllocationStatus string

const (
	AllocationActive  AllocationStatus = "Active"
	AllocationDrained AllocationStatus = "Drained"
	AllocationDeleted AllocationStatus = "Deleted"
	AllocationExpired AllocationStatus = "Expired"
)

// DueSoonWindowSeconds is how long a loan stays Due Soon past its due date
// before the sweep considers it Late.
const DueSoonWindowSeconds = 60 * 60 * 24 * 7

// IsBidExpired reports whether a submitted bid has passed its expiration.
// Bids without a known expiration never expire.
func IsBidExpired(b *Bid, now uint64) bool {
	return b.Status == StatusSubmitted && b.ExpiresAt != 0 && now > b.ExpiresAt
}

// IsBidDueSoon reports whether an accepted bid has passed its next due date.
func IsBidDueSoon(b *Bid, now uint64) bool {
	return b.Status == StatusAccepted && b.NextDueDate != 0 && now > b.NextDueDate
}

// IsBidLate reports whether a due-soon bid is past the due-soon window with
// no repayment recorded since the due date.
func IsBidLate(b *Bid, now uint64) bool {
	return b.Status == StatusDueSoon && b.NextDueDate != 0 &&
		now > b.NextDueDate+DueSoonWindowSeconds
}

// IsBidDefaulted reports whether a late bid has exceeded the market's
// payment default duration since its last repayment. A bid that was never
// repaid measures from its accepted timestamp. Markets with no default
// duration never default.
func IsBidDefaulted(b *Bid, now uint64) bool {
	if b.Status != StatusLate || b.PaymentDefaultDuration == 0 {
		return false
	}
	since := b.LastRepaidTimestamp
	if since == 0 {
		since = b.AcceptedTimestamp
	}
	return now > since+b.PaymentDefaultDuration
}
