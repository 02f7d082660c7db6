// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package crdt implements the conflict-free replicated document underlying
// the studio store.
//
// A Doc is a tree of nested maps addressed by string paths. Every entry
// carries a Clock; concurrent writers converge by last-writer-wins per
// entry, with the clock counter compared first and the actor id breaking
// ties. Deletions are tombstones so that a late concurrent write cannot
// resurrect removed state unless it is causally newer.
//
// Consumers mutate a Doc through Transact, which batches all writes into a
// single Update frame. Frames are the unit of persistence, network sync,
// and change observation: observers fire exactly once per committed frame,
// never per individual write.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Observer callbacks are
// invoked outside the document lock.
package crdt

import (
	"sort"
	"sync"
)

// Clock orders concurrent writes.
//
// Counter is a Lamport-style counter bumped once per local frame and
// advanced to the maximum seen on every applied remote frame. Actor breaks
// counter ties deterministically.
type Clock struct {
	Counter uint64 `json:"c"`
	Actor   string `json:"a"`
}

// Before reports whether c loses to o under the last-writer-wins order.
func (c Clock) Before(o Clock) bool {
	if c.Counter != o.Counter {
		return c.Counter < o.Counter
	}
	return c.Actor < o.Actor
}

// Op is a single write within an Update frame.
//
// Value holds plain data: scalars, []any, or map[string]any. Maps become
// nested subtrees; slices are atomic registers replaced wholesale.
type Op struct {
	Path   []string `json:"p"`
	Value  any      `json:"v,omitempty"`
	Delete bool     `json:"d,omitempty"`
	Clock  Clock    `json:"k"`
}

// Update is one committed frame: the unit of observation, persistence and
// network exchange.
//
// Seq is the per-actor frame sequence number. A Seq of zero marks a
// synthetic full-state frame (snapshot exchange) that does not advance any
// actor's sequence.
type Update struct {
	Actor  string `json:"actor"`
	Seq    uint64 `json:"seq"`
	Origin string `json:"origin,omitempty"`
	Ops    []Op   `json:"ops"`
}

// entry is one slot in the tree. Exactly one of value/child is meaningful;
// deleted entries keep their clock as a tombstone.
type entry struct {
	value   any
	child   *nodeMap
	clock   Clock
	deleted bool
}

type nodeMap struct {
	entries map[string]*entry
}

func newNodeMap() *nodeMap {
	return &nodeMap{entries: make(map[string]*entry)}
}

type observer struct {
	id int
	fn func(Update)
}

// Doc is one replicated document owned by a single actor id.
type Doc struct {
	mu      sync.Mutex
	actor   string
	counter uint64
	seq     uint64
	root    *nodeMap

	// vector tracks the highest applied frame sequence per actor.
	vector map[string]uint64
	// base is the vector state already folded into root at Load time;
	// frames at or below base are not in log and cannot be re-served.
	base map[string]uint64
	log  []Update

	observers []observer
	nextObsID int

	txDepth int
	txFrame *Update
}

// NewDoc creates an empty document owned by the given actor id.
func NewDoc(actor string) *Doc {
	return &Doc{
		actor:  actor,
		root:   newNodeMap(),
		vector: make(map[string]uint64),
		base:   make(map[string]uint64),
	}
}

// Actor returns the local actor id.
func (d *Doc) Actor() string {
	return d.actor
}

// =============================================================================
// Transactions
// =============================================================================

// Transact runs fn with every Set/Delete batched into one Update frame
// tagged with origin.
//
// # Description
//
// Nested Transact calls fold into the outermost frame; the outer origin
// wins. Observers fire once after the outermost commit, and only if the
// frame contains at least one op.
//
// # Outputs
//
//   - Update: The committed frame.
//   - bool: False for nested calls and empty frames (nothing committed).
func (d *Doc) Transact(origin string, fn func()) (Update, bool) {
	d.mu.Lock()
	nested := d.txDepth > 0
	if !nested {
		d.counter++
		d.seq++
		d.txFrame = &Update{Actor: d.actor, Seq: d.seq, Origin: origin}
	}
	d.txDepth++
	d.mu.Unlock()

	fn()

	d.mu.Lock()
	d.txDepth--
	if nested {
		d.mu.Unlock()
		return Update{}, false
	}
	frame := *d.txFrame
	d.txFrame = nil
	if len(frame.Ops) == 0 {
		// Nothing written; roll the unused sequence number back.
		d.seq--
		d.mu.Unlock()
		return Update{}, false
	}
	d.vector[d.actor] = frame.Seq
	d.log = append(d.log, frame)
	obs := d.snapshotObservers()
	d.mu.Unlock()

	for _, o := range obs {
		o.fn(frame)
	}
	return frame, true
}

// Set writes a plain value at path. Outside a transaction the write is
// wrapped in its own single-op frame.
func (d *Doc) Set(path []string, v any) {
	d.write(Op{Path: path, Value: v})
}

// Delete tombstones the entry at path and its whole subtree.
func (d *Doc) Delete(path []string) {
	d.write(Op{Path: path, Delete: true})
}

func (d *Doc) write(op Op) {
	d.mu.Lock()
	if d.txFrame == nil {
		d.mu.Unlock()
		d.Transact("local", func() { d.write(op) })
		return
	}
	op.Clock = Clock{Counter: d.counter, Actor: d.actor}
	d.applyOpLocked(op)
	d.txFrame.Ops = append(d.txFrame.Ops, op)
	d.mu.Unlock()
}

// =============================================================================
// Merge
// =============================================================================

// applyOpLocked merges one op into the tree. Callers hold d.mu.
func (d *Doc) applyOpLocked(op Op) {
	if len(op.Path) == 0 {
		return
	}
	m := d.root
	for _, seg := range op.Path[:len(op.Path)-1] {
		ent := m.entries[seg]
		switch {
		case ent == nil:
			ent = &entry{child: newNodeMap(), clock: op.Clock}
			m.entries[seg] = ent
		case ent.child == nil:
			// A leaf or tombstone sits on the path. The newer write wins
			// over the whole subtree.
			if op.Clock.Before(ent.clock) {
				return
			}
			ent.child = newNodeMap()
			ent.value = nil
			ent.deleted = false
			ent.clock = op.Clock
		}
		m = ent.child
	}

	key := op.Path[len(op.Path)-1]
	if existing := m.entries[key]; existing != nil && op.Clock.Before(existing.clock) {
		return
	}
	if op.Delete {
		m.entries[key] = &entry{clock: op.Clock, deleted: true}
		return
	}
	m.entries[key] = buildEntry(op.Value, op.Clock)
}

// buildEntry converts a plain value into tree form, stamping every nested
// entry with the op clock.
func buildEntry(v any, c Clock) *entry {
	if mv, ok := v.(map[string]any); ok {
		child := newNodeMap()
		for k, cv := range mv {
			child.entries[k] = buildEntry(cv, c)
		}
		return &entry{child: child, clock: c}
	}
	return &entry{value: v, clock: c}
}

// ApplyUpdate merges a frame produced by another replica (or replayed from
// the local durable cache).
//
// Re-applying an already-seen frame is a no-op: sequenced frames are
// dropped by the state vector, and snapshot frames merge idempotently by
// clock. Observers fire once per applied frame.
func (d *Doc) ApplyUpdate(u Update) {
	d.mu.Lock()
	if u.Seq != 0 && d.vector[u.Actor] >= u.Seq {
		d.mu.Unlock()
		return
	}
	for _, op := range u.Ops {
		d.applyOpLocked(op)
		if op.Clock.Counter > d.counter {
			d.counter = op.Clock.Counter
		}
	}
	if u.Seq != 0 {
		if u.Seq > d.vector[u.Actor] {
			d.vector[u.Actor] = u.Seq
		}
		if u.Actor == d.actor && u.Seq > d.seq {
			// Replaying our own history after a reload: continue numbering
			// where the cache left off.
			d.seq = u.Seq
		}
		d.log = append(d.log, u)
	}
	obs := d.snapshotObservers()
	d.mu.Unlock()

	for _, o := range obs {
		o.fn(u)
	}
}

// =============================================================================
// Reads
// =============================================================================

// Get materializes the subtree at path into plain data.
func (d *Doc) Get(path ...string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.root
	for i, seg := range path {
		ent := m.entries[seg]
		if ent == nil || ent.deleted {
			return nil, false
		}
		if i == len(path)-1 {
			return materialize(ent), true
		}
		if ent.child == nil {
			return nil, false
		}
		m = ent.child
	}
	return materializeMap(d.root), true
}

// Materialize returns the whole document as plain nested maps.
func (d *Doc) Materialize() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return materializeMap(d.root)
}

func materialize(e *entry) any {
	if e.child != nil {
		return materializeMap(e.child)
	}
	return e.value
}

func materializeMap(m *nodeMap) map[string]any {
	out := make(map[string]any, len(m.entries))
	for k, e := range m.entries {
		if e.deleted {
			continue
		}
		out[k] = materialize(e)
	}
	return out
}

// =============================================================================
// Observation
// =============================================================================

// OnUpdate registers a deep-change observer invoked once per committed or
// applied frame. The returned function unsubscribes.
func (d *Doc) OnUpdate(fn func(Update)) func() {
	d.mu.Lock()
	d.nextObsID++
	id := d.nextObsID
	d.observers = append(d.observers, observer{id: id, fn: fn})
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, o := range d.observers {
			if o.id == id {
				d.observers = append(d.observers[:i], d.observers[i+1:]...)
				return
			}
		}
	}
}

func (d *Doc) snapshotObservers() []observer {
	out := make([]observer, len(d.observers))
	copy(out, d.observers)
	return out
}

// Close detaches every observer. A closed document can still be read but
// will notify no one.
func (d *Doc) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = nil
}

// =============================================================================
// State vector
// =============================================================================

// StateVector returns a copy of the highest applied frame sequence per
// actor, used for catch-up sync.
func (d *Doc) StateVector() map[string]uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]uint64, len(d.vector))
	for k, v := range d.vector {
		out[k] = v
	}
	return out
}

// CompactLog drops the retained frame log, advancing the serve-from
// baseline to the current state vector.
//
// Intended for callers that have just captured a durable snapshot (Save):
// the dropped frames are covered by it, so an unbounded session no longer
// accumulates every frame ever committed. Catch-up requests from peers
// behind the new baseline are answered with a synthetic full-state frame
// instead of replayed frames.
func (d *Doc) CompactLog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for a, v := range d.vector {
		d.base[a] = v
	}
	d.log = nil
}

// sortedActors returns the vector's actors in stable order.
func sortedActors(v map[string]uint64) []string {
	out := make([]string, 0, len(v))
	for a := range v {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
