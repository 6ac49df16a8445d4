// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// ErrReverted is returned when eth_call reverts. Callers decide per read
// whether a revert is fatal or means "value unavailable".
var ErrReverted = errors.New("execution reverted")

// IsReverted reports whether err is (or wraps) a revert.
func IsReverted(err error) bool {
	return errors.Is(err, ErrReverted)
}

// BidDetails is the bids(uint256) storage tuple.
type BidDetails struct {
	Borrower      string
	Receiver      string
	Lender        string
	MarketplaceID uint64
	MetadataURI   string

	LendingToken         string
	Principal            *big.Int
	TotalRepaidPrincipal *big.Int
	TotalRepaidInterest  *big.Int

	SubmittedTimestamp  uint64
	AcceptedTimestamp   uint64
	LastRepaidTimestamp uint64
	LoanDuration        uint64

	PaymentCycleAmount *big.Int
	PaymentCycle       uint64
	APR                *big.Int

	State uint64
}

// CommitmentTerms is the commitments(uint256) storage tuple.
type CommitmentTerms struct {
	MaxPrincipal                    *big.Int
	Expiration                      uint64
	MaxDuration                     uint64
	MinInterestRate                 *big.Int
	CollateralTokenAddress          string
	CollateralTokenID               *big.Int
	MaxPrincipalPerCollateralAmount *big.Int
	CollateralTokenType             uint64
	Lender                          string
	MarketplaceID                   uint64
	PrincipalTokenAddress           string
}

// AllocationTerms is the allocatedRewards(uint256) storage tuple.
type AllocationTerms struct {
	Allocator                      string
	RewardTokenAddress             string
	RewardTokenAmount              *big.Int
	MarketplaceID                  uint64
	RequiredPrincipalTokenAddress  string
	RequiredCollateralTokenAddress string
	MinimumCollateralPerPrincipal  *big.Int
	RewardPerLoanPrincipalAmount   *big.Int
	BidStartTimeMin                uint64
	BidStartTimeMax                uint64
	AllocationStrategy             uint64
}

// TokenMetadata is the best-effort ERC20/ERC165 surface of a token.
// Fields stay zero for tokens that revert on the optional calls.
type TokenMetadata struct {
	Name     string
	Symbol   string
	Decimals uint64
	Type     string // ERC20 | ERC721 | ERC1155
}

// Reader reads contract state needed to enrich events. Implementations must
// surface reverts as ErrReverted so callers can distinguish "no value" from
// transport failure.
type Reader interface {
	BidDetails(ctx context.Context, contract string, bidID uint64) (*BidDetails, error)
	NextDueDate(ctx context.Context, contract string, bidID uint64) (uint64, error)
	BidExpirationTime(ctx context.Context, contract string, bidID uint64) (uint64, error)
	MarketAttestationRequirements(ctx context.Context, contract string, marketID uint64) (lender bool, borrower bool, err error)
	CommitmentTerms(ctx context.Context, contract string, commitmentID uint64) (*CommitmentTerms, error)
	CommitmentBorrowers(ctx context.Context, contract string, commitmentID uint64) ([]string, error)
	AllocationTerms(ctx context.Context, contract string, allocationID uint64) (*AllocationTerms, error)
	TokenMetadata(ctx context.Context, token string) (*TokenMetadata, error)
	ERC20Balance(ctx context.Context, token, owner string) (*big.Int, error)
	ERC20Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
}

// RPCReader implements Reader over JSON-RPC eth_call.
type RPCReader struct {
	endpoint   string
	httpClient *http.Client
}

// NewRPCReader connects a reader to an EVM JSON-RPC endpoint.
func NewRPCReader(endpoint string) *RPCReader {
	return &RPCReader{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// call makes a JSON-RPC call to the node.
func (r *RPCReader) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if result.Error != nil {
		if strings.Contains(strings.ToLower(result.Error.Message), "revert") {
			return nil, fmt.Errorf("rpc error %d: %s: %w", result.Error.Code, result.Error.Message, ErrReverted)
		}
		return nil, fmt.Errorf("rpc error %d: %s", result.Error.Code, result.Error.Message)
	}

	return result.Result, nil
}

// ethCall issues eth_call against contract with selector+args calldata and
// returns the decoded words.
func (r *RPCReader) ethCall(ctx context.Context, contract, selector string, args ...string) (words, error) {
	data := selector + strings.Join(args, "")
	result, err := r.call(ctx, "eth_call", []interface{}{
		map[string]string{"to": contract, "data": data},
		"latest",
	})
	if err != nil {
		return nil, err
	}
	var retHex string
	if err := json.Unmarshal(result, &retHex); err != nil {
		return nil, fmt.Errorf("decode eth_call result: %w", err)
	}
	if retHex == "0x" || retHex == "" {
		// Nodes report some reverts as empty return data.
		return nil, ErrReverted
	}
	return parseWords(retHex)
}

func (r *RPCReader) BidDetails(ctx context.Context, contract string, bidID uint64) (*BidDetails, error) {
	w, err := r.ethCall(ctx, contract, selBids, encodeUint64(bidID))
	if err != nil {
		return nil, fmt.Errorf("read bid %d: %w", bidID, err)
	}
	if len(w) < 17 {
		return nil, fmt.Errorf("read bid %d: short return (%d words)", bidID, len(w))
	}
	return &BidDetails{
		Borrower:             w.Address(0),
		Receiver:             w.Address(1),
		Lender:               w.Address(2),
		MarketplaceID:        w.Uint64(3),
		MetadataURI:          w.Bytes32String(4),
		LendingToken:         w.Address(5),
		Principal:            w.Big(6),
		TotalRepaidPrincipal: w.Big(7),
		TotalRepaidInterest:  w.Big(8),
		SubmittedTimestamp:   w.Uint64(9),
		AcceptedTimestamp:    w.Uint64(10),
		LastRepaidTimestamp:  w.Uint64(11),
		LoanDuration:         w.Uint64(12),
		PaymentCycleAmount:   w.Big(13),
		PaymentCycle:         w.Uint64(14),
		APR:                  w.Big(15),
		State:                w.Uint64(16),
	}, nil
}

func (r *RPCReader) NextDueDate(ctx context.Context, contract string, bidID uint64) (uint64, error) {
	w, err := r.ethCall(ctx, contract, selCalculateNextDueDate, encodeUint64(bidID))
	if err != nil {
		return 0, fmt.Errorf("read next due date for bid %d: %w", bidID, err)
	}
	return w.Uint64(0), nil
}

func (r *RPCReader) BidExpirationTime(ctx context.Context, contract string, bidID uint64) (uint64, error) {
	w, err := r.ethCall(ctx, contract, selBidExpirationTime, encodeUint64(bidID))
	if err != nil {
		return 0, fmt.Errorf("read expiration for bid %d: %w", bidID, err)
	}
	return w.Uint64(0), nil
}

func (r *RPCReader) MarketAttestationRequirements(ctx context.Context, contract string, marketID uint64) (bool, bool, error) {
	w, err := r.ethCall(ctx, contract, selMarketAttestation, encodeUint64(marketID))
	if err != nil {
		return false, false, fmt.Errorf("read attestation for market %d: %w", marketID, err)
	}
	return w.Bool(0), w.Bool(1), nil
}

func (r *RPCReader) CommitmentTerms(ctx context.Context, contract string, commitmentID uint64) (*CommitmentTerms, error) {
	w, err := r.ethCall(ctx, contract, selCommitments, encodeUint64(commitmentID))
	if err != nil {
		return nil, fmt.Errorf("read commitment %d: %w", commitmentID, err)
	}
	if len(w) < 11 {
		return nil, fmt.Errorf("read commitment %d: short return (%d words)", commitmentID, len(w))
	}
	return &CommitmentTerms{
		MaxPrincipal:                    w.Big(0),
		Expiration:                      w.Uint64(1),
		MaxDuration:                     w.Uint64(2),
		MinInterestRate:                 w.Big(3),
		CollateralTokenAddress:          w.Address(4),
		CollateralTokenID:               w.Big(5),
		MaxPrincipalPerCollateralAmount: w.Big(6),
		CollateralTokenType:             w.Uint64(7),
		Lender:                          w.Address(8),
		MarketplaceID:                   w.Uint64(9),
		PrincipalTokenAddress:           w.Address(10),
	}, nil
}

func (r *RPCReader) CommitmentBorrowers(ctx context.Context, contract string, commitmentID uint64) ([]string, error) {
	w, err := r.ethCall(ctx, contract, selCommitmentBorrowers, encodeUint64(commitmentID))
	if err != nil {
		return nil, fmt.Errorf("read commitment %d borrowers: %w", commitmentID, err)
	}
	return w.AddressSlice(0), nil
}

func (r *RPCReader) AllocationTerms(ctx context.Context, contract string, allocationID uint64) (*AllocationTerms, error) {
	w, err := r.ethCall(ctx, contract, selAllocatedRewards, encodeUint64(allocationID))
	if err != nil {
		return nil, fmt.Errorf("read allocation %d: %w", allocationID, err)
	}
	if len(w) < 11 {
		return nil, fmt.Errorf("read allocation %d: short return (%d words)", allocationID, len(w))
	}
	return &AllocationTerms{
		Allocator:                      w.Address(0),
		RewardTokenAddress:             w.Address(1),
		RewardTokenAmount:              w.Big(2),
		MarketplaceID:                  w.Uint64(3),
		RequiredPrincipalTokenAddress:  w.Address(4),
		RequiredCollateralTokenAddress: w.Address(5),
		MinimumCollateralPerPrincipal:  w.Big(6),
		RewardPerLoanPrincipalAmount:   w.Big(7),
		BidStartTimeMin:                w.Uint64(8),
		BidStartTimeMax:                w.Uint64(9),
		AllocationStrategy:             w.Uint64(10),
	}, nil
}

// TokenMetadata probes the optional ERC20 metadata surface plus ERC165
// interface support. Reverting calls leave their field zero rather than
// failing the read.
func (r *RPCReader) TokenMetadata(ctx context.Context, token string) (*TokenMetadata, error) {
	md := &TokenMetadata{Type: "ERC20"}

	if w, err := r.ethCall(ctx, token, selName); err == nil {
		md.Name = w.DynamicString(0)
	} else if !errors.Is(err, ErrReverted) {
		return nil, fmt.Errorf("read token %s name: %w", token, err)
	}
	if w, err := r.ethCall(ctx, token, selSymbol); err == nil {
		md.Symbol = w.DynamicString(0)
	} else if !errors.Is(err, ErrReverted) {
		return nil, fmt.Errorf("read token %s symbol: %w", token, err)
	}
	if w, err := r.ethCall(ctx, token, selDecimals); err == nil {
		md.Decimals = w.Uint64(0)
	} else if !errors.Is(err, ErrReverted) {
		return nil, fmt.Errorf("read token %s decimals: %w", token, err)
	}

	for _, probe := range []struct {
		iface string
		typ   string
	}{
		{InterfaceERC721, "ERC721"},
		{InterfaceERC1155, "ERC1155"},
	} {
		arg := probe.iface + strings.Repeat("0", 56)
		if w, err := r.ethCall(ctx, token, selSupportsInterface, arg); err == nil && w.Bool(0) {
			md.Type = probe.typ
			break
		}
	}
	return md, nil
}

func (r *RPCReader) ERC20Balance(ctx context.Context, token, owner string) (*big.Int, error) {
	w, err := r.ethCall(ctx, token, selBalanceOf, encodeAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("read balance of %s on %s: %w", owner, token, err)
	}
	return w.Big(0), nil
}

func (r *RPCReader) ERC20Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	w, err := r.ethCall(ctx, token, selAllowance, encodeAddress(owner), encodeAddress(spender))
	if err != nil {
		return nil, fmt.Errorf("read allowance of %s on %s: %w", owner, token, err)
	}
	return w.Big(0), nil
}
