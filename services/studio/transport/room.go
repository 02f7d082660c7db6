// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport connects a studio CRDT document to a shared room over
// a websocket so multiple clients converge on the same state.
//
// Wire protocol, client side:
//
//  1. Dial ws(s)://<server>/rooms/<docID>.
//  2. Send a "hello" control message carrying the local state vector.
//  3. Receive binary catch-up frames, then a "synced" control message.
//  4. Exchange binary update frames for the rest of the session;
//     "presence" control messages report the connected client count.
//
// Binary messages are crdt.EncodeUpdates batches; control messages are
// small JSON envelopes. The server never echoes a frame to its sender.
//
// Connection failures are logged and surface only through the status
// state machine (disconnected -> connecting -> connected); they never
// block or fail store initialization. Reconnection policy belongs to the
// caller.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/drafter/services/studio/crdt"
)

// Status is the connection state of a Room.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

var (
	connectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studio_transport_connect_attempts_total",
		Help: "Total room connection attempts",
	})

	statusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_transport_status_transitions_total",
		Help: "Total room status transitions by new status",
	}, []string{"status"})

	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studio_transport_frames_sent_total",
		Help: "Total update frames sent to the room",
	})

	framesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studio_transport_frames_received_total",
		Help: "Total update frames received from the room",
	})
)

// controlMessage is the JSON envelope for non-frame traffic.
type controlMessage struct {
	Type    string            `json:"type"`
	Vector  map[string]uint64 `json:"vector,omitempty"`
	Clients int               `json:"clients,omitempty"`
}

// Room is one client connection to a shared document room.
//
// # Thread Safety
//
// Safe for concurrent use. Status listeners and the synced callback are
// invoked from the connection goroutine.
type Room struct {
	url string
	doc *crdt.Doc
	log *slog.Logger

	mu        sync.Mutex
	status    Status
	clients   int
	conn      *websocket.Conn
	unobserve func()
	send      chan []byte
	done      chan struct{}
	explicit  bool
	// gen counts Connect/Disconnect calls. A dial goroutine carries the
	// generation it was started under and abandons its connection if the
	// room has moved on by the time the dial settles.
	gen int

	statusSubs map[int]func(Status)
	nextSubID  int
	onSynced   func()
}

// NewRoom creates a room client for the given websocket URL (already
// including the room path) and document.
func NewRoom(url string, doc *crdt.Doc, logger *slog.Logger) *Room {
	if logger == nil {
		logger = slog.Default()
	}
	return &Room{
		url:        url,
		doc:        doc,
		log:        logger,
		status:     StatusDisconnected,
		clients:    1,
		statusSubs: make(map[int]func(Status)),
	}
}

// Status returns the current connection state.
func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Clients returns the last presence count reported by the room, including
// this client. It is 1 while disconnected.
func (r *Room) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients
}

// OnStatusChange registers a listener for state transitions. The returned
// function unsubscribes.
func (r *Room) OnStatusChange(fn func(Status)) func() {
	r.mu.Lock()
	r.nextSubID++
	id := r.nextSubID
	r.statusSubs[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.statusSubs, id)
	}
}

// OnSynced sets the callback invoked once the room reports initial
// catch-up complete. Must be set before Connect.
func (r *Room) OnSynced(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSynced = fn
}

func (r *Room) setStatus(s Status) {
	r.mu.Lock()
	if r.status == s {
		r.mu.Unlock()
		return
	}
	r.status = s
	subs := make([]func(Status), 0, len(r.statusSubs))
	for _, fn := range r.statusSubs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	statusTransitions.WithLabelValues(string(s)).Inc()
	for _, fn := range subs {
		fn(s)
	}
}

// Connect dials the room in the background. It returns immediately; the
// outcome surfaces through the status state machine. Calling Connect on a
// room that is not disconnected is a no-op.
func (r *Room) Connect(ctx context.Context) {
	r.mu.Lock()
	if r.status != StatusDisconnected {
		r.mu.Unlock()
		return
	}
	r.status = StatusConnecting
	r.explicit = false
	r.gen++
	gen := r.gen
	r.mu.Unlock()
	statusTransitions.WithLabelValues(string(StatusConnecting)).Inc()
	connectAttempts.Inc()

	go r.run(ctx, gen)
}

func (r *Room) run(ctx context.Context, gen int) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.url, nil)
	if err != nil {
		r.mu.Lock()
		stale := r.gen != gen
		r.mu.Unlock()
		if !stale {
			r.log.Warn("room connect failed", "url", r.url, "error", err)
			r.setStatus(StatusDisconnected)
		}
		return
	}

	// Disconnect may have raced the dial; the room is already
	// disconnected, so drop the fresh connection instead of attaching.
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		conn.Close()
		return
	}
	r.mu.Unlock()

	hello := controlMessage{Type: "hello", Vector: r.doc.StateVector()}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		r.mu.Lock()
		stale := r.gen != gen
		r.mu.Unlock()
		if !stale {
			r.log.Warn("room hello failed", "error", err)
			r.setStatus(StatusDisconnected)
		}
		return
	}

	send := make(chan []byte, 64)
	done := make(chan struct{})

	// Attach and flip to connected in one critical section, so a
	// Disconnect issued mid-handshake either sees the full connection and
	// tears it down, or invalidates the generation before we attach.
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		conn.Close()
		return
	}
	r.conn = conn
	r.send = send
	r.done = done
	r.unobserve = r.doc.OnUpdate(func(u crdt.Update) {
		// Only forward frames this client authored; applied remote frames
		// were already seen by the room.
		if u.Actor != r.doc.Actor() || u.Seq == 0 {
			return
		}
		b, err := crdt.EncodeUpdates([]crdt.Update{u})
		if err != nil {
			r.log.Warn("encode outgoing frame", "error", err)
			return
		}
		select {
		case send <- b:
		case <-done:
		}
	})
	r.status = StatusConnected
	subs := make([]func(Status), 0, len(r.statusSubs))
	for _, fn := range r.statusSubs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	statusTransitions.WithLabelValues(string(StatusConnected)).Inc()
	for _, fn := range subs {
		fn(StatusConnected)
	}

	go r.writeLoop(conn, send, done)
	r.readLoop(conn)
	r.teardown(gen, false)
}

func (r *Room) writeLoop(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	for {
		select {
		case b := <-send:
			if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
				r.log.Warn("room write failed", "error", err)
				return
			}
			framesSent.Inc()
		case <-done:
			return
		}
	}
}

func (r *Room) readLoop(conn *websocket.Conn) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			explicit := r.explicit
			r.mu.Unlock()
			if !explicit {
				r.log.Warn("room connection lost", "error", err)
			}
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			framesReceived.Inc()
			if err := r.doc.ApplyEncoded(data); err != nil {
				r.log.Warn("apply remote frame", "error", err)
			}
		case websocket.TextMessage:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				r.log.Warn("bad control message", "error", err)
				continue
			}
			r.handleControl(msg)
		}
	}
}

func (r *Room) handleControl(msg controlMessage) {
	switch msg.Type {
	case "synced":
		r.mu.Lock()
		fn := r.onSynced
		r.mu.Unlock()
		if fn != nil {
			fn()
		}
	case "presence":
		r.mu.Lock()
		r.clients = msg.Clients
		r.mu.Unlock()
	default:
		r.log.Debug("ignoring control message", "type", msg.Type)
	}
}

// Disconnect closes the connection and moves to disconnected. Safe to call
// from any state, any number of times, including while a Connect dial is
// still in flight.
func (r *Room) Disconnect() {
	r.mu.Lock()
	r.explicit = true
	r.gen++
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		// WriteControl is safe concurrently with the write loop; a plain
		// WriteMessage here would race an in-flight update frame.
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	}
	r.teardown(0, true)
}

// teardown releases connection resources exactly once per connection. A
// non-zero gen restricts the teardown to the connection attached under
// that generation, so a lost connection already superseded by Disconnect
// or a newer Connect is not torn down twice; gen zero is unconditional.
func (r *Room) teardown(gen int, explicit bool) {
	r.mu.Lock()
	if gen != 0 && r.gen != gen {
		r.mu.Unlock()
		return
	}
	conn := r.conn
	done := r.done
	unobserve := r.unobserve
	r.conn = nil
	r.done = nil
	r.unobserve = nil
	r.clients = 1
	r.mu.Unlock()

	if unobserve != nil {
		unobserve()
	}
	if done != nil {
		close(done)
	}
	if conn != nil {
		conn.Close()
	}
	if conn != nil || explicit {
		r.setStatus(StatusDisconnected)
	}
}
