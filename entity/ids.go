// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package entity

import (
	"fmt"
	"strconv"
)

// ProtocolID is the id of the singleton Protocol entity.
const ProtocolID = "v2"

// BidEntityID returns the entity id for a bid number.
func BidEntityID(bidID uint64) string {
	return strconv.FormatUint(bidID, 10)
}

// MarketEntityID returns the entity id for a market number.
func MarketEntityID(marketID uint64) string {
	return strconv.FormatUint(marketID, 10)
}

// LenderEntityID scopes a lender address to one market.
func LenderEntityID(marketID uint64, addr string) string {
	return fmt.Sprintf("lender-%d-%s", marketID, NormalizeAddress(addr))
}

// BorrowerEntityID scopes a borrower address to one market.
func BorrowerEntityID(marketID uint64, addr string) string {
	return fmt.Sprintf("borrower-%d-%s", marketID, NormalizeAddress(addr))
}

// TokenEntityID returns the entity id for a fungible token address.
func TokenEntityID(addr string) string {
	return NormalizeAddress(addr)
}

// NFTTokenEntityID returns the entity id for an NFT token instance.
func NFTTokenEntityID(addr string, nftID string) string {
	return fmt.Sprintf("%s-%s", NormalizeAddress(addr), nftID)
}

// Token volume ids are prefix-joined with the scope they aggregate for, so
// one lending token yields distinct volumes per scope.

func ProtocolVolumeID(tokenAddr string) string {
	return NormalizeAddress(tokenAddr)
}

func MarketVolumeID(marketID string, tokenAddr string) string {
	return fmt.Sprintf("market-%s-%s", marketID, NormalizeAddress(tokenAddr))
}

func LenderVolumeID(lenderID string, tokenAddr string) string {
	return fmt.Sprintf("%s-%s", lenderID, NormalizeAddress(tokenAddr))
}

func BorrowerVolumeID(borrowerID string, tokenAddr string) string {
	return fmt.Sprintf("%s-%s", borrowerID, NormalizeAddress(tokenAddr))
}

func CommitmentVolumeID(commitmentID string, tokenAddr string) string {
	return fmt.Sprintf("commitment-%s-%s", commitmentID, NormalizeAddress(tokenAddr))
}

// CollateralVolumeID derives the id of a collateral-pair sub-volume from its
// parent volume and the collateral token entity id. A loan with no
// collateral uses the literal "null" so the uncollateralized pair is
// tracked alongside real pairs.
func CollateralVolumeID(parentVolumeID string, collateralTokenID string) string {
	if collateralTokenID == "" {
		collateralTokenID = "null"
	}
	return fmt.Sprintf("collateral-%s-%s", parentVolumeID, collateralTokenID)
}

// LoanStatusCountID scopes a status partition; scope is one of
// "protocol", "market", "lender", "borrower", "tokenVolume".
func LoanStatusCountID(scope string, scopeID string) string {
	return fmt.Sprintf("%s-%s", scope, scopeID)
}

// BidCollateralID identifies collateral of one token against one bid.
func BidCollateralID(bidID string, collateralTokenID string) string {
	return fmt.Sprintf("bid-%s-%s", bidID, collateralTokenID)
}

// BidRewardID identifies the link between a bid and an allocation.
func BidRewardID(bidID string, allocationID string) string {
	return fmt.Sprintf("%s-%s", bidID, allocationID)
}

// CommitmentRewardID identifies the link between a commitment and an
// allocation.
func CommitmentRewardID(commitmentID string, allocationID string) string {
	return fmt.Sprintf("commitment-%s-%s", commitmentID, allocationID)
}

// AllocationEntityID returns the entity id for an allocation number.
func AllocationEntityID(allocationID uint64) string {
	return strconv.FormatUint(allocationID, 10)
}

// CommitmentEntityID returns the entity id for a commitment number.
func CommitmentEntityID(commitmentID uint64) string {
	return strconv.FormatUint(commitmentID, 10)
}

// AddToSet appends id to set if absent, preserving insertion order.
// It reports whether the set changed.
func AddToSet(set *[]string, id string) bool {
	for _, v := range *set {
		if v == id {
			return false
		}
	}
	*set = append(*set, id)
	return true
}

// RemoveFromSet removes id from set, preserving order of the rest.
// It reports whether the set changed.
func RemoveFromSet(set *[]string, id string) bool {
	for i, v := range *set {
		if v == id {
			*set = append((*set)[:i], (*set)[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports set membership.
func Contains(set []string, id string) bool {
	for _, v := range set {
		if v == id {
			return true
		}
	}
	return false
}
