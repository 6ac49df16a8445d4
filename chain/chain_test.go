// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSelectors(t *testing.T) {
	// Well-known selector and topic values.
	cases := map[string]string{
		"name()":     "0x06fdde03",
		"symbol()":   "0x95d89b41",
		"decimals()": "0x313ce567",
	}
	for sig, want := range cases {
		if got := Selector(sig); got != want {
			t.Errorf("Selector(%s) = %s, want %s", sig, got, want)
		}
	}
	if got := Topic("Transfer(address,address,uint256)"); got != "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef" {
		t.Errorf("Topic(Transfer) = %s", got)
	}
}

func TestWordCodec(t *testing.T) {
	if got := encodeUint64(31337); got != fmt.Sprintf("%064x", 31337) || len(got) != 64 {
		t.Errorf("encodeUint64 = %s", got)
	}
	if got := encodeAddress("0xAbCd000000000000000000000000000000001234"); len(got) != 64 || !strings.HasSuffix(got, "1234") {
		t.Errorf("encodeAddress = %s", got)
	}

	w, err := parseWords("0x" +
		fmt.Sprintf("%064x", 7) +
		"000000000000000000000000aabbccddeeff00112233445566778899aabbccdd" +
		fmt.Sprintf("%064x", 1))
	if err != nil {
		t.Fatal(err)
	}
	if w.Uint64(0) != 7 {
		t.Errorf("uint64 word = %d", w.Uint64(0))
	}
	if got := w.Address(1); got != "0xaabbccddeeff00112233445566778899aabbccdd" {
		t.Errorf("address word = %s", got)
	}
	if !w.Bool(2) || w.Bool(3) {
		t.Error("bool decode")
	}
	if w.Big(0).Cmp(big.NewInt(7)) != 0 {
		t.Error("big decode")
	}

	if _, err := parseWords("0xdead"); err == nil {
		t.Error("unaligned data must fail")
	}
}

func TestDynamicString(t *testing.T) {
	// offset | length | "USD Coin" padded.
	data := "0x" +
		fmt.Sprintf("%064x", 32) +
		fmt.Sprintf("%064x", 8) +
		"55534420436f696e000000000000000000000000000000000000000000000000"
	w, err := parseWords(data)
	if err != nil {
		t.Fatal(err)
	}
	if got := w.DynamicString(0); got != "USD Coin" {
		t.Errorf("dynamic string = %q", got)
	}

	// Non-conforming token returning a bare bytes32.
	w, _ = parseWords("0x4d4b520000000000000000000000000000000000000000000000000000000000")
	if got := w.DynamicString(0); got != "MKR" {
		t.Errorf("bytes32 string = %q", got)
	}
}

func TestAddressSlice(t *testing.T) {
	data := "0x" +
		fmt.Sprintf("%064x", 32) +
		fmt.Sprintf("%064x", 2) +
		"0000000000000000000000001111111111111111111111111111111111111111" +
		"0000000000000000000000002222222222222222222222222222222222222222"
	w, err := parseWords(data)
	if err != nil {
		t.Fatal(err)
	}
	got := w.AddressSlice(0)
	if len(got) != 2 || got[0] != "0x1111111111111111111111111111111111111111" {
		t.Errorf("address slice = %v", got)
	}
}

// rpcFixture serves canned eth_call responses keyed by calldata prefix.
func rpcFixture(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		var body struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     int               `json:"id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		var call struct {
			To   string `json:"to"`
			Data string `json:"data"`
		}
		if body.Method != "eth_call" || len(body.Params) == 0 {
			t.Errorf("unexpected method %s", body.Method)
		}
		if err := json.Unmarshal(body.Params[0], &call); err != nil {
			t.Errorf("bad call params: %v", err)
		}
		for sel, ret := range responses {
			if strings.HasPrefix(call.Data, sel) {
				json.NewEncoder(rw).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": ret})
				return
			}
		}
		json.NewEncoder(rw).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1,
			"error": map[string]any{"code": 3, "message": "execution reverted"},
		})
	}))
}

func TestRPCReaderNextDueDate(t *testing.T) {
	srv := rpcFixture(t, map[string]string{
		selCalculateNextDueDate: "0x" + fmt.Sprintf("%064x", 1700000000),
	})
	defer srv.Close()

	r := NewRPCReader(srv.URL)
	due, err := r.NextDueDate(context.Background(), "0xc0ffee", 4)
	if err != nil {
		t.Fatal(err)
	}
	if due != 1700000000 {
		t.Errorf("due = %d", due)
	}
}

func TestRPCReaderRevert(t *testing.T) {
	srv := rpcFixture(t, nil)
	defer srv.Close()

	r := NewRPCReader(srv.URL)
	_, err := r.BidDetails(context.Background(), "0xc0ffee", 99)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsReverted(err) {
		t.Errorf("revert not surfaced: %v", err)
	}
}

func TestRPCReaderBidDetails(t *testing.T) {
	ret := "0x" +
		"000000000000000000000000b000000000000000000000000000000000000001" + // borrower
		"000000000000000000000000b000000000000000000000000000000000000001" + // receiver
		"000000000000000000000000a000000000000000000000000000000000000002" + // lender
		fmt.Sprintf("%064x", 3) + // market id
		strings.Repeat("00", 32) + // metadata uri
		"000000000000000000000000e000000000000000000000000000000000000005" + // lending token
		fmt.Sprintf("%064x", 5000) + // principal
		fmt.Sprintf("%064x", 100) + // repaid principal
		fmt.Sprintf("%064x", 7) + // repaid interest
		fmt.Sprintf("%064x", 1000) + // submitted ts
		fmt.Sprintf("%064x", 1100) + // accepted ts
		fmt.Sprintf("%064x", 1200) + // last repaid ts
		fmt.Sprintf("%064x", 86400) + // duration
		fmt.Sprintf("%064x", 250) + // cycle amount
		fmt.Sprintf("%064x", 3600) + // cycle
		fmt.Sprintf("%064x", 1200) + // apr
		fmt.Sprintf("%064x", 3) // state
	srv := rpcFixture(t, map[string]string{selBids: ret})
	defer srv.Close()

	r := NewRPCReader(srv.URL)
	d, err := r.BidDetails(context.Background(), "0xc0ffee", 1)
	if err != nil {
		t.Fatal(err)
	}
	if d.MarketplaceID != 3 || d.Principal.Cmp(big.NewInt(5000)) != 0 ||
		d.APR.Cmp(big.NewInt(1200)) != 0 || d.LoanDuration != 86400 ||
		d.Lender != "0xa000000000000000000000000000000000000002" {
		t.Errorf("decoded bid = %+v", d)
	}
}

func TestStaticReaderMisses(t *testing.T) {
	s := NewStaticReader()
	if _, err := s.BidDetails(context.Background(), "", 1); !IsReverted(err) {
		t.Errorf("missing bid must revert, got %v", err)
	}
	md, err := s.TokenMetadata(context.Background(), "0xdd")
	if err != nil || md.Type != "ERC20" {
		t.Errorf("unknown tokens default to ERC20: %+v, %v", md, err)
	}
	b, err := s.ERC20Balance(context.Background(), "0xdd", "0xaa")
	if err != nil || b.Sign() != 0 {
		t.Errorf("unknown balances are zero: %v, %v", b, err)
	}
}
