// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package chain

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Keccak256 hashes data with legacy Keccak-256 as used by the EVM.
func Keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// Selector returns the 4-byte function selector for a signature, 0x-hex.
func Selector(sig string) string {
	return "0x" + hex.EncodeToString(Keccak256([]byte(sig))[:4])
}

// Topic returns the full 32-byte event topic hash for a signature, 0x-hex.
func Topic(sig string) string {
	return "0x" + hex.EncodeToString(Keccak256([]byte(sig)))
}

// Function selectors for the contract reads the indexer performs.
var (
	selBids                  = Selector("bids(uint256)")
	selCalculateNextDueDate  = Selector("calculateNextDueDate(uint256)")
	selBidExpirationTime     = Selector("bidExpirationTime(uint256)")
	selMarketAttestation     = Selector("getMarketAttestationRequirements(uint256)")
	selCommitments           = Selector("commitments(uint256)")
	selCommitmentBorrowers   = Selector("getCommitmentBorrowers(uint256)")
	selAllocatedRewards      = Selector("allocatedRewards(uint256)")
	selName                  = Selector("name()")
	selSymbol                = Selector("symbol()")
	selDecimals              = Selector("decimals()")
	selBalanceOf             = Selector("balanceOf(address)")
	selAllowance             = Selector("allowance(address,address)")
	selSupportsInterface     = Selector("supportsInterface(bytes4)")
)

// FeeTypeMarketplace is the keccak hash tagging protocol fee events that
// carry marketplace commission, matching the on-chain fee type constant.
var FeeTypeMarketplace = Topic("marketplace")

// ERC165 interface ids probed to classify collateral tokens.
const (
	InterfaceERC721  = "80ac58cd"
	InterfaceERC1155 = "d9b67a26"
)
