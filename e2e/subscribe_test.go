// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package e2e

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Entity Subscriptions", func() {
	var h *Harness

	BeforeEach(func() {
		h = NewHarness()
	})

	AfterEach(func() {
		h.Close()
	})

	readMessage := func(conn *websocket.Conn) map[string]json.RawMessage {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg map[string]json.RawMessage
		Expect(conn.ReadJSON(&msg)).To(Succeed())
		return msg
	}

	msgType := func(msg map[string]json.RawMessage) string {
		var t string
		Expect(json.Unmarshal(msg["type"], &t)).To(Succeed())
		return t
	}

	It("pushes committed entities to websocket clients", func() {
		wsURL := strings.Replace(h.HTTP.URL, "http", "ws", 1) + "/api/v2/entities/subscribe"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		Expect(msgType(readMessage(conn))).To(Equal("connected"))

		h.SubmitBid(1, 1000, 1200, 3600000)

		msg := readMessage(conn)
		Expect(msgType(msg)).To(Equal("entities_updated"))

		var updates []struct {
			BlockNumber uint64 `json:"blockNumber"`
			Kind        string `json:"kind"`
			ID          string `json:"id"`
		}
		Expect(json.Unmarshal(msg["data"], &updates)).To(Succeed())
		Expect(updates).NotTo(BeEmpty())

		kinds := map[string]bool{}
		for _, u := range updates {
			Expect(u.BlockNumber).To(Equal(h.block))
			kinds[u.Kind] = true
		}
		Expect(kinds).To(HaveKey("bid"))
	})
})
