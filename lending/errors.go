// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package lending

import (
	"errors"
	"fmt"

	"github.com/lendfi/indexer/store"
)

// Handler failures fall into three classes. All of them abort the event's
// batch; the indexer halts rather than advance the checkpoint past a
// half-applied event.
var (
	// ErrMissingEntity means an event referenced an entity that must
	// already exist, so the stream is corrupt or out of order.
	ErrMissingEntity = errors.New("missing entity")

	// ErrChainRead means a required contract read failed or reverted.
	ErrChainRead = errors.New("chain read failed")

	// ErrInvariant means derived state contradicts itself, e.g. an id
	// missing from a bucket it must be in.
	ErrInvariant = errors.New("invariant violation")
)

func missingEntity(kind store.Kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrMissingEntity)
}

func chainRead(what string, err error) error {
	return fmt.Errorf("%s: %v: %w", what, err, ErrChainRead)
}

func invariant(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvariant)...)
}
