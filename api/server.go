// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package api serves the indexed lending entities over HTTP: JSON reads for
// bids, markets, volumes, commitments and allocations, an ingest endpoint
// for decoded contract events, and a WebSocket stream of committed entity
// updates.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/lendfi/indexer/entity"
	"github.com/lendfi/indexer/lending"
	"github.com/lendfi/indexer/store"
)

// Config for the API server.
type Config struct {
	HTTPPort  int `yaml:"http_port"`
	ListLimit int `yaml:"list_limit"`
}

// Server exposes one indexer over HTTP.
type Server struct {
	cfg Config
	ix  *lending.Indexer
	st  *store.Store
	sub *Subscriber
}

// New wires a server and registers it as the indexer's commit observer.
func New(cfg Config, ix *lending.Indexer) *Server {
	if cfg.ListLimit == 0 {
		cfg.ListLimit = 100
	}
	s := &Server{cfg: cfg, ix: ix, st: ix.Store(), sub: NewSubscriber()}
	ix.OnCommit = s.sub.BroadcastCommit
	return s
}

// Subscriber returns the websocket hub so callers embedding the router in
// their own server can run its event loop.
func (s *Server) Subscriber() *Subscriber { return s.sub }

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v2").Subrouter()

	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/bids", s.handleBids).Methods("GET")
	api.HandleFunc("/bids/{id}", s.entityHandler(store.KindBid, func() any { return &entity.Bid{} })).Methods("GET")
	api.HandleFunc("/markets", s.listHandler(store.KindMarket, func() any { return &entity.MarketPlace{} })).Methods("GET")
	api.HandleFunc("/markets/{id}", s.entityHandler(store.KindMarket, func() any { return &entity.MarketPlace{} })).Methods("GET")
	api.HandleFunc("/tokenvolumes", s.listHandler(store.KindTokenVolume, func() any { return &entity.TokenVolume{} })).Methods("GET")
	api.HandleFunc("/tokenvolumes/{id}", s.entityHandler(store.KindTokenVolume, func() any { return &entity.TokenVolume{} })).Methods("GET")
	api.HandleFunc("/loanstatus/{scope}/{id}", s.handleLoanStatus).Methods("GET")
	api.HandleFunc("/commitments", s.listHandler(store.KindCommitment, func() any { return &entity.Commitment{} })).Methods("GET")
	api.HandleFunc("/commitments/{id}", s.entityHandler(store.KindCommitment, func() any { return &entity.Commitment{} })).Methods("GET")
	api.HandleFunc("/allocations", s.listHandler(store.KindRewardAllocation, func() any { return &entity.RewardAllocation{} })).Methods("GET")
	api.HandleFunc("/allocations/{id}", s.entityHandler(store.KindRewardAllocation, func() any { return &entity.RewardAllocation{} })).Methods("GET")
	api.HandleFunc("/tokens/{id}", s.entityHandler(store.KindToken, func() any { return &entity.Token{} })).Methods("GET")
	api.HandleFunc("/protocol", s.handleProtocol).Methods("GET")

	api.HandleFunc("/events", s.handleIngestEvents).Methods("POST")
	api.HandleFunc("/blocks", s.handleIngestBlock).Methods("POST")
	api.HandleFunc("/entities/subscribe", s.sub.HandleWebSocket)

	r.HandleFunc("/health", s.handleHealth)

	return corsMiddleware(r)
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.sub.Run(ctx)

	server := &http.Server{Addr: fmt.Sprintf(":%d", s.cfg.HTTPPort), Handler: s.Router()}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	log.Printf("[api] serving on port %d", s.cfg.HTTPPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Content-Type", "application/json")
		if r.Method == "OPTIONS" {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.st.HealthCheck(r.Context())
	status := "ok"
	if err != nil {
		status = "degraded"
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status, "store": health,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cp, err := s.st.GetCheckpoint()
	if err != nil {
		http.Error(w, "database error", 500)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"indexer":    s.ix.Stats(),
		"checkpoint": cp,
		"clients":    s.sub.ClientCount(),
	})
}

func (s *Server) handleProtocol(w http.ResponseWriter, r *http.Request) {
	p := &entity.Protocol{}
	if err := s.st.Get(store.KindProtocol, entity.ProtocolID, p); err != nil {
		if store.IsNotFound(err) {
			http.Error(w, "not found", 404)
			return
		}
		http.Error(w, "database error", 500)
		return
	}
	_ = json.NewEncoder(w).Encode(p)
}

// entityHandler serves one entity of a kind by path id.
func (s *Server) entityHandler(kind store.Kind, newEntity func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := newEntity()
		if err := s.st.Get(kind, mux.Vars(r)["id"], v); err != nil {
			if store.IsNotFound(err) {
				http.Error(w, "not found", 404)
				return
			}
			http.Error(w, "database error", 500)
			return
		}
		_ = json.NewEncoder(w).Encode(v)
	}
}

// listHandler serves a bounded listing of a kind.
func (s *Server) listHandler(kind store.Kind, newEntity func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := s.st.List(kind)
		if err != nil {
			http.Error(w, "database error", 500)
			return
		}
		limit := s.limit(r)
		items := make([]any, 0, limit)
		for _, id := range ids {
			if len(items) >= limit {
				break
			}
			v := newEntity()
			if err := s.st.Get(kind, id, v); err != nil {
				continue
			}
			items = append(items, v)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": items, "total": len(ids)})
	}
}

func (s *Server) handleBids(w http.ResponseWriter, r *http.Request) {
	ids, err := s.st.List(store.KindBid)
	if err != nil {
		http.Error(w, "database error", 500)
		return
	}
	status := entity.BidStatus(r.URL.Query().Get("status"))
	limit := s.limit(r)

	items := make([]*entity.Bid, 0, limit)
	for _, id := range ids {
		if len(items) >= limit {
			break
		}
		b := &entity.Bid{}
		if err := s.st.Get(store.KindBid, id, b); err != nil {
			continue
		}
		if status != entity.StatusNone && b.Status != status {
			continue
		}
		items = append(items, b)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": items, "total": len(ids)})
}

func (s *Server) handleLoanStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := entity.LoanStatusCountID(vars["scope"], vars["id"])
	c := &entity.LoanStatusCount{}
	if err := s.st.Get(store.KindLoanStatusCount, id, c); err != nil {
		if store.IsNotFound(err) {
			http.Error(w, "not found", 404)
			return
		}
		http.Error(w, "database error", 500)
		return
	}
	_ = json.NewEncoder(w).Encode(c)
}

// handleIngestEvents accepts a batch of decoded contract events and folds
// them into the index in chain order.
func (s *Server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	var envs []lending.Envelope
	if err := json.NewDecoder(r.Body).Decode(&envs); err != nil {
		http.Error(w, "invalid body", 400)
		return
	}
	events := make([]lending.Event, 0, len(envs))
	for _, env := range envs {
		ev, err := lending.DecodeEvent(env)
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		events = append(events, ev)
	}
	if err := s.ix.ApplyBatch(r.Context(), events); err != nil {
		log.Printf("[api] ingest failed: %v", err)
		http.Error(w, "ingest failed", 500)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"applied": len(events)})
}

type blockTick struct {
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"`
}

// handleIngestBlock accepts a block tick and runs the periodic sweeps.
func (s *Server) handleIngestBlock(w http.ResponseWriter, r *http.Request) {
	var tick blockTick
	if err := json.NewDecoder(r.Body).Decode(&tick); err != nil {
		http.Error(w, "invalid body", 400)
		return
	}
	if err := s.ix.ProcessBlock(r.Context(), tick.Height, tick.Timestamp); err != nil {
		log.Printf("[api] block sweep failed: %v", err)
		http.Error(w, "sweep failed", 500)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"height": tick.Height})
}

func (s *Server) limit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= s.cfg.ListLimit {
			return n
		}
	}
	return s.cfg.ListLimit
}
