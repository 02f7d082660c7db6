// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package crdt

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// CBOR is the wire and cache codec for frames and snapshots. Decoding maps
// into map[string]any keeps applied values in the same shape local writes
// use, so replicas converge on identical materialized trees.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("crdt: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("crdt: cbor dec mode: %v", err))
	}
}

// EncodeUpdates serializes frames for the wire or the durable cache.
func EncodeUpdates(us []Update) ([]byte, error) {
	b, err := encMode.Marshal(us)
	if err != nil {
		return nil, fmt.Errorf("encode updates: %w", err)
	}
	return b, nil
}

// DecodeUpdates deserializes frames produced by EncodeUpdates.
func DecodeUpdates(b []byte) ([]Update, error) {
	var us []Update
	if err := decMode.Unmarshal(b, &us); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return us, nil
}

// ApplyEncoded decodes and merges a batch of frames.
func (d *Doc) ApplyEncoded(b []byte) error {
	us, err := DecodeUpdates(b)
	if err != nil {
		return err
	}
	for _, u := range us {
		d.ApplyUpdate(u)
	}
	return nil
}

// EncodeStateAsUpdate encodes everything a peer at `since` is missing.
//
// # Description
//
// When the retained frame log covers the gap, the exact missing frames are
// returned. When it cannot (the document was loaded from a snapshot whose
// history was compacted away), a single synthetic full-state frame is
// returned instead; full-state frames merge idempotently by clock, so
// over-sending is safe.
func (d *Doc) EncodeStateAsUpdate(since map[string]uint64) ([]byte, error) {
	d.mu.Lock()
	if !d.logCoversLocked(since) {
		frame := d.snapshotFrameLocked()
		d.mu.Unlock()
		return EncodeUpdates([]Update{frame})
	}
	var missing []Update
	for _, u := range d.log {
		if u.Seq > since[u.Actor] {
			missing = append(missing, u)
		}
	}
	d.mu.Unlock()
	return EncodeUpdates(missing)
}

// logCoversLocked reports whether every frame above `since` is still in
// the retained log.
func (d *Doc) logCoversLocked(since map[string]uint64) bool {
	for _, a := range sortedActors(d.base) {
		if since[a] < d.base[a] {
			return false
		}
	}
	return true
}

// snapshotFrameLocked flattens the tree, tombstones included, into one
// Seq-zero frame carrying each entry's original clock.
func (d *Doc) snapshotFrameLocked() Update {
	u := Update{Actor: d.actor, Seq: 0, Origin: "snapshot"}
	u.Ops = flattenMap(d.root, nil, u.Ops)
	return u
}

func flattenMap(m *nodeMap, prefix []string, ops []Op) []Op {
	for k, e := range m.entries {
		path := append(append([]string{}, prefix...), k)
		switch {
		case e.deleted:
			ops = append(ops, Op{Path: path, Delete: true, Clock: e.clock})
		case e.child != nil:
			if len(e.child.entries) == 0 {
				// A childless subtree (e.g. a page's not-yet-populated node
				// set) must survive the round trip as an empty map.
				ops = append(ops, Op{Path: path, Value: map[string]any{}, Clock: e.clock})
			} else {
				ops = flattenMap(e.child, path, ops)
			}
		default:
			ops = append(ops, Op{Path: path, Value: e.value, Clock: e.clock})
		}
	}
	return ops
}

// snapshot is the durable full-state representation of a document.
type snapshot struct {
	Vector map[string]uint64 `json:"vector"`
	Ops    []Op              `json:"ops"`
}

// Save serializes the full document state, including tombstones and the
// state vector, for the durable cache.
func (d *Doc) Save() ([]byte, error) {
	d.mu.Lock()
	s := snapshot{
		Vector: make(map[string]uint64, len(d.vector)),
		Ops:    flattenMap(d.root, nil, nil),
	}
	for k, v := range d.vector {
		s.Vector[k] = v
	}
	d.mu.Unlock()
	b, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	return b, nil
}

// Load replaces the document's state with a saved snapshot.
//
// Intended for hydration into a freshly created Doc before any local
// writes. Frames persisted after the snapshot may be replayed on top via
// ApplyUpdate; frames at or below the snapshot's vector are dropped by the
// sequence guard.
func (d *Doc) Load(b []byte) error {
	var s snapshot
	if err := decMode.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.root = newNodeMap()
	for _, op := range s.Ops {
		d.applyOpLocked(op)
		if op.Clock.Counter > d.counter {
			d.counter = op.Clock.Counter
		}
	}
	for a, seq := range s.Vector {
		if seq > d.vector[a] {
			d.vector[a] = seq
		}
		d.base[a] = seq
	}
	if v := d.vector[d.actor]; v > d.seq {
		d.seq = v
	}
	return nil
}
