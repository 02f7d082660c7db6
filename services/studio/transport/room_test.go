// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/drafter/services/studio/crdt"
)

// testHub is a minimal in-process room server: one shared document, binary
// frames fanned out to every other client, catch-up and presence per the
// wire protocol.
type testHub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	doc   *crdt.Doc
	conns map[*websocket.Conn]bool
}

func newTestHub() *testHub {
	return &testHub{
		doc:   crdt.NewDoc("hub"),
		conns: make(map[*websocket.Conn]bool),
	}
}

func (h *testHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	var hello controlMessage
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "hello" {
		conn.Close()
		return
	}

	h.mu.Lock()
	catchup, err := h.doc.EncodeStateAsUpdate(hello.Vector)
	if err == nil {
		_ = conn.WriteMessage(websocket.BinaryMessage, catchup)
	}
	_ = conn.WriteJSON(controlMessage{Type: "synced"})
	h.conns[conn] = true
	h.broadcastPresenceLocked()
	h.mu.Unlock()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		h.mu.Lock()
		_ = h.doc.ApplyEncoded(data)
		for c := range h.conns {
			if c != conn {
				_ = c.WriteMessage(websocket.BinaryMessage, data)
			}
		}
		h.mu.Unlock()
	}

	h.mu.Lock()
	delete(h.conns, conn)
	h.broadcastPresenceLocked()
	h.mu.Unlock()
	conn.Close()
}

func (h *testHub) broadcastPresenceLocked() {
	msg := controlMessage{Type: "presence", Clients: len(h.conns)}
	for c := range h.conns {
		_ = c.WriteJSON(msg)
	}
}

func startHub(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(newTestHub())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/rooms/doc-1"
}

func waitStatus(t *testing.T, r *Room, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Status() == want },
		2*time.Second, 10*time.Millisecond, "room never reached %s", want)
}

func TestConnectReachesConnectedAndSynced(t *testing.T) {
	url := startHub(t)
	doc := crdt.NewDoc("a")
	room := NewRoom(url, doc, nil)

	synced := make(chan struct{})
	room.OnSynced(func() { close(synced) })

	require.Equal(t, StatusDisconnected, room.Status())
	room.Connect(context.Background())
	waitStatus(t, room, StatusConnected)

	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatal("synced callback never fired")
	}

	require.Eventually(t, func() bool { return room.Clients() == 1 },
		2*time.Second, 10*time.Millisecond)

	room.Disconnect()
	assert.Equal(t, StatusDisconnected, room.Status())
	assert.Equal(t, 1, room.Clients())
}

func TestTwoClientsConverge(t *testing.T) {
	url := startHub(t)

	docA := crdt.NewDoc("a")
	docB := crdt.NewDoc("b")
	roomA := NewRoom(url, docA, nil)
	roomB := NewRoom(url, docB, nil)
	defer roomA.Disconnect()
	defer roomB.Disconnect()

	roomA.Connect(context.Background())
	roomB.Connect(context.Background())
	waitStatus(t, roomA, StatusConnected)
	waitStatus(t, roomB, StatusConnected)

	docA.Transact("user", func() {
		docA.Set([]string{"meta", "title"}, "shared")
		docA.Set([]string{"pages", "p1", "name"}, "Page 1")
	})

	require.Eventually(t, func() bool {
		v, ok := docB.Get("meta", "title")
		return ok && v == "shared"
	}, 2*time.Second, 10*time.Millisecond)

	docB.Transact("user", func() {
		docB.Set([]string{"pages", "p1", "description"}, "from b")
	})

	require.Eventually(t, func() bool {
		v, ok := docA.Get("pages", "p1", "description")
		return ok && v == "from b"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, docA.Materialize(), docB.Materialize())
}

func TestLateJoinerCatchesUp(t *testing.T) {
	url := startHub(t)

	docA := crdt.NewDoc("a")
	roomA := NewRoom(url, docA, nil)
	defer roomA.Disconnect()
	roomA.Connect(context.Background())
	waitStatus(t, roomA, StatusConnected)

	docA.Transact("user", func() {
		docA.Set([]string{"meta", "title"}, "before-join")
	})

	docB := crdt.NewDoc("b")
	roomB := NewRoom(url, docB, nil)
	defer roomB.Disconnect()

	synced := make(chan struct{})
	roomB.OnSynced(func() { close(synced) })
	roomB.Connect(context.Background())

	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatal("late joiner never synced")
	}
	require.Eventually(t, func() bool {
		v, ok := docB.Get("meta", "title")
		return ok && v == "before-join"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPresenceCountsClients(t *testing.T) {
	url := startHub(t)

	docA := crdt.NewDoc("a")
	docB := crdt.NewDoc("b")
	roomA := NewRoom(url, docA, nil)
	roomB := NewRoom(url, docB, nil)
	defer roomA.Disconnect()

	roomA.Connect(context.Background())
	waitStatus(t, roomA, StatusConnected)
	roomB.Connect(context.Background())
	waitStatus(t, roomB, StatusConnected)

	require.Eventually(t, func() bool { return roomA.Clients() == 2 },
		2*time.Second, 10*time.Millisecond)

	roomB.Disconnect()
	require.Eventually(t, func() bool { return roomA.Clients() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestConnectFailureReturnsToDisconnected(t *testing.T) {
	doc := crdt.NewDoc("a")
	room := NewRoom("ws://127.0.0.1:1/rooms/doc-1", doc, nil)

	var transitions []Status
	var mu sync.Mutex
	room.OnStatusChange(func(s Status) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	})

	room.Connect(context.Background())
	waitStatus(t, room, StatusDisconnected)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, transitions, StatusDisconnected)
}

func TestConnectWhileConnectingIsNoOp(t *testing.T) {
	url := startHub(t)
	doc := crdt.NewDoc("a")
	room := NewRoom(url, doc, nil)
	defer room.Disconnect()

	room.Connect(context.Background())
	room.Connect(context.Background())
	room.Connect(context.Background())
	waitStatus(t, room, StatusConnected)
	assert.Equal(t, StatusConnected, room.Status())
}

func TestDisconnectIsIdempotentFromAnyState(t *testing.T) {
	doc := crdt.NewDoc("a")
	room := NewRoom("ws://127.0.0.1:1/rooms/doc-1", doc, nil)

	room.Disconnect()
	room.Disconnect()
	assert.Equal(t, StatusDisconnected, room.Status())
}

func TestDisconnectDuringActiveWritesIsSafe(t *testing.T) {
	url := startHub(t)
	doc := crdt.NewDoc("a")
	room := NewRoom(url, doc, nil)

	room.Connect(context.Background())
	waitStatus(t, room, StatusConnected)

	writes := make(chan struct{})
	go func() {
		defer close(writes)
		for i := 0; i < 200; i++ {
			n := fmt.Sprintf("n%d", i)
			doc.Transact("user", func() {
				doc.Set([]string{"nodes", "p1", n, "x"}, i)
			})
		}
	}()

	// Disconnect while update frames are still streaming out.
	time.Sleep(5 * time.Millisecond)
	room.Disconnect()
	<-writes
	assert.Equal(t, StatusDisconnected, room.Status())
}

func TestDisconnectDuringDialIsNotUndone(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var gated atomic.Bool
	gated.Store(true)

	hub := newTestHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hold only the first handshake so the dial stays in flight.
		if gated.CompareAndSwap(true, false) {
			close(entered)
			<-release
		}
		hub.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rooms/doc-1"

	doc := crdt.NewDoc("a")
	room := NewRoom(url, doc, nil)
	defer room.Disconnect()

	room.Connect(context.Background())
	<-entered
	room.Disconnect()
	require.Equal(t, StatusDisconnected, room.Status())

	// The settling dial must not resurrect the abandoned connection.
	close(release)
	assert.Never(t, func() bool { return room.Status() != StatusDisconnected },
		300*time.Millisecond, 20*time.Millisecond)

	// A fresh Connect still works after the abandoned dial.
	room.Connect(context.Background())
	waitStatus(t, room, StatusConnected)
}
