// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package store

import (
	"testing"

	"github.com/lendfi/indexer/entity"
)

func TestPutGet(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	bid := &entity.Bid{ID: "1", BidID: 1, BorrowerAddress: "0xaa", Status: entity.StatusSubmitted}
	if err := s.Put(KindBid, bid.ID, bid); err != nil {
		t.Fatalf("put: %v", err)
	}

	var got entity.Bid
	if err := s.Get(KindBid, "1", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.BorrowerAddress != "0xaa" || got.Status != entity.StatusSubmitted {
		t.Errorf("roundtrip lost fields: %+v", got)
	}

	if err := s.Get(KindBid, "2", &got); !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}

	ok, err := s.Has(KindBid, "1")
	if err != nil || !ok {
		t.Errorf("has = %v, %v", ok, err)
	}

	if err := s.Delete(KindBid, "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := s.Has(KindBid, "1"); ok {
		t.Error("still present after delete")
	}
}

func TestList(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	for _, id := range []string{"1", "2", "3"} {
		if err := s.Put(KindMarket, id, &entity.MarketPlace{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	// A different kind must not leak into the listing.
	if err := s.Put(KindBid, "9", &entity.Bid{ID: "9"}); err != nil {
		t.Fatal(err)
	}

	ids, err := s.List(KindMarket)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 3 || ids[0] != "1" || ids[2] != "3" {
		t.Errorf("list = %v", ids)
	}
}

func TestRelations(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	if err := s.Relate("borrowerBids", "borrower-1-0xaa", "7"); err != nil {
		t.Fatal(err)
	}
	if err := s.Relate("borrowerBids", "borrower-1-0xaa", "9"); err != nil {
		t.Fatal(err)
	}
	if err := s.Relate("borrowerBids", "borrower-1-0xbb", "8"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Related("borrowerBids", "borrower-1-0xaa")
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if len(got) != 2 || got[0] != "7" || got[1] != "9" {
		t.Errorf("related = %v", got)
	}

	if err := s.Unrelate("borrowerBids", "borrower-1-0xaa", "7"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Related("borrowerBids", "borrower-1-0xaa")
	if len(got) != 1 || got[0] != "9" {
		t.Errorf("related after unrelate = %v", got)
	}
}

func TestCheckpoint(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	cp, err := s.GetCheckpoint()
	if err != nil {
		t.Fatalf("empty checkpoint: %v", err)
	}
	if cp.BlockNumber != 0 || cp.LogIndex != 0 {
		t.Errorf("fresh store must report a zero checkpoint, got %+v", cp)
	}

	want := Checkpoint{BlockNumber: 120, LogIndex: 4, RunID: "run-1"}
	if err := s.PutCheckpoint(want); err != nil {
		t.Fatal(err)
	}
	cp, err = s.GetCheckpoint()
	if err != nil {
		t.Fatal(err)
	}
	if cp != want {
		t.Errorf("checkpoint = %+v, want %+v", cp, want)
	}
}

func TestBatchOverlay(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	if err := s.Put(KindBid, "1", &entity.Bid{ID: "1", Status: entity.StatusSubmitted}); err != nil {
		t.Fatal(err)
	}

	b := s.NewBatch()
	var bid entity.Bid
	if err := b.Get(KindBid, "1", &bid); err != nil {
		t.Fatalf("read through: %v", err)
	}
	bid.Status = entity.StatusAccepted
	if err := b.Put(KindBid, "1", &bid); err != nil {
		t.Fatal(err)
	}
	if err := b.Put(KindBid, "2", &entity.Bid{ID: "2", Status: entity.StatusSubmitted}); err != nil {
		t.Fatal(err)
	}

	// Staged writes are visible inside the batch only.
	var inBatch, committed entity.Bid
	if err := b.Get(KindBid, "1", &inBatch); err != nil || inBatch.Status != entity.StatusAccepted {
		t.Errorf("overlay read = %+v, %v", inBatch, err)
	}
	if err := s.Get(KindBid, "1", &committed); err != nil || committed.Status != entity.StatusSubmitted {
		t.Errorf("store must not see staged writes: %+v, %v", committed, err)
	}
	if ok, _ := s.Has(KindBid, "2"); ok {
		t.Error("store must not see staged inserts")
	}

	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.Get(KindBid, "1", &committed); err != nil || committed.Status != entity.StatusAccepted {
		t.Errorf("commit not applied: %+v, %v", committed, err)
	}
	if ok, _ := s.Has(KindBid, "2"); !ok {
		t.Error("staged insert missing after commit")
	}
}

func TestBatchDiscard(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	b := s.NewBatch()
	if err := b.Put(KindBid, "1", &entity.Bid{ID: "1"}); err != nil {
		t.Fatal(err)
	}
	b.Delete(KindBid, "2")
	if b.Len() != 2 {
		t.Errorf("len = %d", b.Len())
	}
	b.Discard()
	if b.Len() != 0 {
		t.Error("discard must drop staged ops")
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("empty commit: %v", err)
	}
	if ok, _ := s.Has(KindBid, "1"); ok {
		t.Error("discarded write reached the store")
	}
}

func TestBatchDelete(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	if err := s.Put(KindBidReward, "7-1", &entity.BidReward{ID: "7-1"}); err != nil {
		t.Fatal(err)
	}
	b := s.NewBatch()
	b.Delete(KindBidReward, "7-1")

	var br entity.BidReward
	if err := b.Get(KindBidReward, "7-1", &br); !IsNotFound(err) {
		t.Errorf("staged delete must hide the entity, got %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Has(KindBidReward, "7-1"); ok {
		t.Error("delete not applied")
	}
}

func TestBatchRelated(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	if err := s.Relate("lenderBids", "lender-1-0xaa", "1"); err != nil {
		t.Fatal(err)
	}

	b := s.NewBatch()
	b.Relate("lenderBids", "lender-1-0xaa", "2")
	b.Unrelate("lenderBids", "lender-1-0xaa", "1")

	got, err := b.Related("lenderBids", "lender-1-0xaa")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "2" {
		t.Errorf("overlay related = %v", got)
	}
}

func TestStagedEntities(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	b := s.NewBatch()
	if err := b.Put(KindBid, "2", &entity.Bid{ID: "2"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Put(KindBid, "1", &entity.Bid{ID: "1"}); err != nil {
		t.Fatal(err)
	}
	b.Relate("borrowerBids", "borrower-1-0xaa", "1")
	b.Delete(KindBidReward, "1-1")

	got := b.StagedEntities()
	if len(got) != 3 {
		t.Fatalf("staged = %d entries, want 3 (relations excluded)", len(got))
	}
	if got[0].Kind != KindBid || got[0].ID != "1" || got[1].ID != "2" {
		t.Errorf("order not deterministic: %+v", got)
	}
	if got[2].Kind != KindBidReward || !got[2].Deleted {
		t.Errorf("delete not surfaced: %+v", got[2])
	}
}

func TestMirrorRebind(t *testing.T) {
	pg := &Mirror{driver: "postgres"}
	if got := pg.rebind("INSERT INTO t VALUES (?, ?, ?)"); got != "INSERT INTO t VALUES ($1, $2, $3)" {
		t.Errorf("postgres rebind = %s", got)
	}
	lite := &Mirror{driver: "sqlite3"}
	if got := lite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind = %s", got)
	}
}
