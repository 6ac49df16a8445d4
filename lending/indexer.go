// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package lending folds an ordered stream of contract events into the
// derived entities of the lending protocol: bids, markets, token volumes,
// status partitions, commitments and reward allocations. State is a pure
// function of the event log; replaying the same stream reproduces the same
// entities byte for byte.
package lending

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lendfi/indexer/chain"
	"github.com/lendfi/indexer/store"
)

// Contracts holds the addresses of the protocol contracts. Events carry
// their emitting address, but contract reads during the sweep need the
// registry and commitment forwarder addresses explicitly.
type Contracts struct {
	Core              string `yaml:"core"`
	MarketRegistry    string `yaml:"market_registry"`
	CollateralManager string `yaml:"collateral_manager"`
	LenderCommitment  string `yaml:"lender_commitment"`
	RewardAllocator   string `yaml:"reward_allocator"`
	LenderNFT         string `yaml:"lender_nft"`
}

// Config tunes the indexer.
type Config struct {
	Contracts Contracts `yaml:"contracts"`

	// Sweep cadence: bids are examined when height % BidSweepInterval ==
	// 0, commitments when height % CommitmentSweepInterval ==
	// CommitmentSweepOffset, so the two scans land on different blocks.
	BidSweepInterval        uint64 `yaml:"bid_sweep_interval"`
	CommitmentSweepInterval uint64 `yaml:"commitment_sweep_interval"`
	CommitmentSweepOffset   uint64 `yaml:"commitment_sweep_offset"`
}

// DefaultConfig returns the production sweep cadence.
func DefaultConfig() Config {
	return Config{
		BidSweepInterval:        10,
		CommitmentSweepInterval: 10,
		CommitmentSweepOffset:   5,
	}
}

// Stats is a snapshot of indexing progress.
type Stats struct {
	RunID         string    `json:"runId"`
	StartedAt     time.Time `json:"startedAt"`
	EventsApplied uint64    `json:"eventsApplied"`
	EventsSkipped uint64    `json:"eventsSkipped"`
	BlocksSwept   uint64    `json:"blocksSwept"`
	LastBlock     uint64    `json:"lastBlock"`
	LastLogIndex  uint64    `json:"lastLogIndex"`
}

// Indexer applies events and block ticks to the store.
type Indexer struct {
	st     *store.Store
	reader chain.Reader
	cfg    Config

	mirror *store.Mirror

	// OnCommit, when set, observes every committed batch. Used to fan
	// entity updates out to subscribers.
	OnCommit func(blockNumber uint64, entities []store.StagedEntity)

	mu    sync.Mutex
	stats Stats
}

// NewIndexer wires an indexer. mirror may be nil.
func NewIndexer(st *store.Store, reader chain.Reader, mirror *store.Mirror, cfg Config) *Indexer {
	if cfg.BidSweepInterval == 0 {
		cfg.BidSweepInterval = 10
	}
	if cfg.CommitmentSweepInterval == 0 {
		cfg.CommitmentSweepInterval = 10
		cfg.CommitmentSweepOffset = 5
	}
	return &Indexer{
		st:     st,
		reader: reader,
		mirror: mirror,
		cfg:    cfg,
		stats: Stats{
			RunID:     uuid.New().String(),
			StartedAt: time.Now().UTC(),
		},
	}
}

// Stats returns a copy of the progress counters.
func (ix *Indexer) Stats() Stats {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.stats
}

// Store exposes the underlying entity store for read surfaces.
func (ix *Indexer) Store() *store.Store { return ix.st }

// txn is the unit of work for one event or one sweep pass: a staged batch
// plus the chain reader, committed as a whole or discarded.
type txn struct {
	ctx       context.Context
	b         *store.Batch
	reader    chain.Reader
	contracts Contracts
	now       uint64
}

func (ix *Indexer) newTxn(ctx context.Context, now uint64) *txn {
	return &txn{
		ctx:       ctx,
		b:         ix.st.NewBatch(),
		reader:    ix.reader,
		contracts: ix.cfg.Contracts,
		now:       now,
	}
}

// Apply processes one event: dispatch, commit, checkpoint. Events at or
// behind the checkpoint are skipped, so restarting mid-stream is safe.
func (ix *Indexer) Apply(ctx context.Context, ev Event) error {
	l := ev.EventLog()

	cp, err := ix.st.GetCheckpoint()
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if behindCheckpoint(l, cp) {
		ix.mu.Lock()
		ix.stats.EventsSkipped++
		ix.mu.Unlock()
		return nil
	}

	t := ix.newTxn(ctx, l.BlockTimestamp)
	if err := t.dispatch(ev); err != nil {
		t.b.Discard()
		return fmt.Errorf("apply %T at block %d log %d: %w", ev, l.BlockNumber, l.LogIndex, err)
	}

	staged := t.b.StagedEntities()
	if err := t.b.Commit(); err != nil {
		return err
	}
	if err := ix.advance(ctx, l, staged); err != nil {
		return err
	}

	ix.mu.Lock()
	ix.stats.EventsApplied++
	ix.stats.LastBlock = l.BlockNumber
	ix.stats.LastLogIndex = l.LogIndex
	ix.mu.Unlock()
	return nil
}

// ApplyBatch sorts a batch by chain position and applies it in order.
func (ix *Indexer) ApplyBatch(ctx context.Context, events []Event) error {
	SortEvents(events)
	for _, ev := range events {
		if err := ix.Apply(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func behindCheckpoint(l Log, cp store.Checkpoint) bool {
	if l.BlockNumber != cp.BlockNumber {
		return l.BlockNumber < cp.BlockNumber
	}
	return l.LogIndex <= cp.LogIndex && (cp.BlockNumber != 0 || cp.LogIndex != 0)
}

// advance durably records the checkpoint and fans the committed batch out
// to the mirror and subscribers. The checkpoint is written after the batch
// commit, so a crash in between replays the event, which is harmless.
func (ix *Indexer) advance(ctx context.Context, l Log, staged []store.StagedEntity) error {
	cp := store.Checkpoint{BlockNumber: l.BlockNumber, LogIndex: l.LogIndex, RunID: ix.stats.RunID}
	if err := ix.st.PutCheckpoint(cp); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if ix.mirror != nil {
		if err := ix.mirror.Apply(ctx, l.BlockNumber, staged); err != nil {
			// The mirror is a replica; losing a write does not corrupt
			// the index.
			log.Printf("[lending] mirror apply failed at block %d: %v", l.BlockNumber, err)
		} else if err := ix.mirror.PutCheckpoint(ctx, cp); err != nil {
			log.Printf("[lending] mirror checkpoint failed: %v", err)
		}
	}
	if ix.OnCommit != nil && len(staged) > 0 {
		ix.OnCommit(l.BlockNumber, staged)
	}
	return nil
}

// ProcessBlock runs the periodic sweeps gated on block height.
func (ix *Indexer) ProcessBlock(ctx context.Context, height, timestamp uint64) error {
	sweepBids := height%ix.cfg.BidSweepInterval == 0
	sweepCommitments := height%ix.cfg.CommitmentSweepInterval == ix.cfg.CommitmentSweepOffset
	if !sweepBids && !sweepCommitments {
		return nil
	}

	t := ix.newTxn(ctx, timestamp)
	if sweepBids {
		if err := t.sweepBids(); err != nil {
			t.b.Discard()
			return fmt.Errorf("sweep bids at height %d: %w", height, err)
		}
	}
	if sweepCommitments {
		if err := t.sweepCommitments(); err != nil {
			t.b.Discard()
			return fmt.Errorf("sweep commitments at height %d: %w", height, err)
		}
	}

	staged := t.b.StagedEntities()
	if err := t.b.Commit(); err != nil {
		return err
	}
	if ix.mirror != nil && len(staged) > 0 {
		if err := ix.mirror.Apply(ctx, height, staged); err != nil {
			log.Printf("[lending] mirror sweep apply failed at height %d: %v", height, err)
		}
	}
	if ix.OnCommit != nil && len(staged) > 0 {
		ix.OnCommit(height, staged)
	}

	ix.mu.Lock()
	ix.stats.BlocksSwept++
	ix.mu.Unlock()
	return nil
}

// dispatch routes one event to its handler.
func (t *txn) dispatch(ev Event) error {
	switch e := ev.(type) {
	case *SubmittedBid:
		return t.handleSubmittedBid(e)
	case *AcceptedBid:
		return t.handleAcceptedBid(e)
	case *CancelledBid:
		return t.handleCancelledBid(e.BidID, e.Log)
	case *MarketOwnerCancelledBid:
		return t.handleCancelledBid(e.BidID, e.Log)
	case *LoanRepayment:
		return t.handleLoanPayment(e.BidID, e.Log, paymentRepayment)
	case *LoanRepaid:
		return t.handleLoanPayment(e.BidID, e.Log, paymentRepaidInFull)
	case *LoanLiquidated:
		return t.handleLoanPayment(e.BidID, e.Log, paymentLiquidation)
	case *FeePaid:
		return t.handleFeePaid(e)
	case *CoreUpgraded:
		return t.handleCoreUpgraded(e)

	case *CollateralCommitted:
		return t.handleCollateralCommitted(e)
	case *CollateralDeposited:
		return t.handleCollateralDeposited(e)
	case *CollateralWithdrawn:
		return t.handleCollateralWithdrawn(e)
	case *CollateralClaimed:
		return t.handleCollateralClaimed(e)
	case *CollateralEscrowDeployed:
		return t.handleCollateralEscrowDeployed(e)

	case *MarketCreated:
		return t.handleMarketCreated(e)
	case *MarketClosed:
		return t.handleMarketClosed(e)
	case *SetMarketOwner:
		return t.handleSetMarketOwner(e)
	case *SetMarketFeeRecipient:
		return t.handleSetMarketFeeRecipient(e)
	case *SetMarketURI:
		return t.handleSetMarketURI(e)
	case *SetMarketPaymentType:
		return t.handleSetMarketPaymentType(e)
	case *SetPaymentCycle:
		return t.handleSetPaymentCycle(e)
	case *SetPaymentDefaultDuration:
		return t.handleSetPaymentDefaultDuration(e)
	case *SetBidExpirationTime:
		return t.handleSetBidExpirationTime(e)
	case *SetMarketFee:
		return t.handleSetMarketFee(e)
	case *SetMarketLenderAttestation:
		return t.handleSetMarketLenderAttestation(e)
	case *SetMarketBorrowerAttestation:
		return t.handleSetMarketBorrowerAttestation(e)
	case *LenderAttestation:
		return t.handleLenderAttestation(e)
	case *BorrowerAttestation:
		return t.handleBorrowerAttestation(e)
	case *LenderRevocation:
		return t.handleLenderRevocation(e)
	case *BorrowerRevocation:
		return t.handleBorrowerRevocation(e)
	case *LenderExitMarket:
		return t.handleLenderExitMarket(e)
	case *BorrowerExitMarket:
		return t.handleBorrowerExitMarket(e)
	case *MarketRegistryUpgraded:
		return t.handleMarketRegistryUpgraded(e)

	case *CreatedCommitment:
		return t.handleCreatedCommitment(e)
	case *UpdatedCommitment:
		return t.handleUpdatedCommitment(e)
	case *DeletedCommitment:
		return t.handleDeletedCommitment(e)
	case *ExercisedCommitment:
		return t.handleExercisedCommitment(e)
	case *UpdatedCommitmentBorrowers:
		return t.handleUpdatedCommitmentBorrowers(e)

	case *CreatedAllocation:
		return t.handleCreatedAllocation(e)
	case *UpdatedAllocation:
		return t.handleUpdatedAllocation(e)
	case *IncreasedAllocation:
		return t.handleIncreasedAllocation(e)
	case *DecreasedAllocation:
		return t.handleDecreasedAllocation(e)
	case *DeletedAllocation:
		return t.handleDeletedAllocation(e)
	case *ClaimedRewards:
		return t.handleClaimedRewards(e)

	case *LenderNFTTransfer:
		return t.handleLenderNFTTransfer(e)
	}
	return fmt.Errorf("unhandled event type %T", ev)
}
