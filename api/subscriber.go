// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lendfi/indexer/store"
)

// EntityUpdate is one committed entity change pushed to subscribers.
type EntityUpdate struct {
	BlockNumber uint64          `json:"blockNumber"`
	Kind        string          `json:"kind"`
	ID          string          `json:"id"`
	Deleted     bool            `json:"deleted,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Subscriber handles WebSocket for live entity streaming
type Subscriber struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan interface{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

func NewSubscriber() *Subscriber {
	return &Subscriber{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan interface{}, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (s *Subscriber) Run(ctx context.Context) {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-s.register:
			s.mu.Lock()
			s.clients[c] = true
			s.mu.Unlock()
		case c := <-s.unregister:
			s.mu.Lock()
			delete(s.clients, c)
			c.Close()
			s.mu.Unlock()
		case msg := <-s.broadcast:
			s.mu.RLock()
			for c := range s.clients {
				if err := c.WriteJSON(msg); err != nil {
					go func(conn *websocket.Conn) { s.unregister <- conn }(c)
				}
			}
			s.mu.RUnlock()
		case <-heartbeat.C:
			s.broadcast <- map[string]string{"type": "heartbeat"}
		}
	}
}

func (s *Subscriber) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.register <- conn
	_ = conn.WriteJSON(map[string]interface{}{"type": "connected"})
	go func() {
		defer func() { s.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// BroadcastCommit fans one committed batch out to every subscriber.
func (s *Subscriber) BroadcastCommit(blockNumber uint64, entities []store.StagedEntity) {
	updates := make([]EntityUpdate, 0, len(entities))
	for _, e := range entities {
		updates = append(updates, EntityUpdate{
			BlockNumber: blockNumber,
			Kind:        string(e.Kind),
			ID:          e.ID,
			Deleted:     e.Deleted,
			Data:        e.Data,
		})
	}
	select {
	case s.broadcast <- map[string]interface{}{"type": "entities_updated", "data": updates}:
	default:
		// A slow consumer must not stall the indexer.
	}
}

func (s *Subscriber) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
