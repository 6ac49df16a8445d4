// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package chain reads contract state over JSON-RPC eth_call. The lending
// contracts only return flat tuples and small dynamic types, so calldata is
// built and decoded as raw 32-byte words instead of pulling in a full ABI
// machinery.
package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const wordSize = 32

// encodeUint64 ABI-encodes v as one 32-byte word.
func encodeUint64(v uint64) string {
	return fmt.Sprintf("%064x", v)
}

// encodeAddress ABI-encodes a hex address as one 32-byte word.
func encodeAddress(addr string) string {
	return fmt.Sprintf("%064s", strings.ToLower(strings.TrimPrefix(addr, "0x")))
}

// words is a decoded eth_call result, one 32-byte word per entry.
type words [][]byte

// parseWords decodes a 0x-prefixed hex return blob into 32-byte words.
func parseWords(data string) (words, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode return data: %w", err)
	}
	if len(raw)%wordSize != 0 {
		return nil, fmt.Errorf("return data length %d is not word aligned", len(raw))
	}
	w := make(words, 0, len(raw)/wordSize)
	for i := 0; i < len(raw); i += wordSize {
		w = append(w, raw[i:i+wordSize])
	}
	return w, nil
}

func (w words) has(i int) bool { return i >= 0 && i < len(w) }

// Big returns word i as an unsigned big integer.
func (w words) Big(i int) *big.Int {
	if !w.has(i) {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(w[i])
}

// Uint64 returns word i truncated to uint64.
func (w words) Uint64(i int) uint64 {
	return w.Big(i).Uint64()
}

// Bool returns word i as a boolean.
func (w words) Bool(i int) bool {
	return w.Big(i).Sign() != 0
}

// Address returns the low 20 bytes of word i as a 0x hex address.
func (w words) Address(i int) string {
	if !w.has(i) {
		return ""
	}
	return "0x" + hex.EncodeToString(w[i][12:])
}

// Bytes32String returns word i as text, with trailing zero bytes trimmed
// when it holds short string data.
func (w words) Bytes32String(i int) string {
	if !w.has(i) {
		return ""
	}
	return string(trimZeroes(w[i]))
}

// DynamicString decodes a string return value: word i holds the byte offset
// of a length-prefixed byte run. Non-conforming tokens that return a bare
// bytes32 are handled as fixed words.
func (w words) DynamicString(i int) string {
	if !w.has(i) {
		return ""
	}
	if len(w) == 1 {
		return string(trimZeroes(w[0]))
	}
	off := w.Uint64(i)
	if off%wordSize != 0 {
		return ""
	}
	li := int(off / wordSize)
	if !w.has(li) {
		return ""
	}
	length := w.Uint64(li)
	raw := flatten(w[li+1:])
	if uint64(len(raw)) < length {
		return ""
	}
	return string(raw[:length])
}

// AddressSlice decodes an address[] return value anchored at word i.
func (w words) AddressSlice(i int) []string {
	if !w.has(i) {
		return nil
	}
	off := w.Uint64(i)
	if off%wordSize != 0 {
		return nil
	}
	li := int(off / wordSize)
	if !w.has(li) {
		return nil
	}
	n := int(w.Uint64(li))
	out := make([]string, 0, n)
	for k := 0; k < n; k++ {
		if !w.has(li + 1 + k) {
			break
		}
		out = append(out, w.Address(li+1+k))
	}
	return out
}

func flatten(w words) []byte {
	out := make([]byte, 0, len(w)*wordSize)
	for _, word := range w {
		out = append(out, word...)
	}
	return out
}

func trimZeroes(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return b[:end]
}
