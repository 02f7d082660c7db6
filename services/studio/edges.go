// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package studio

import (
	"github.com/AleutianAI/drafter/services/studio/datatypes"
)

// GetEdges returns the active page's edges ordered by id.
func (s *Store) GetEdges() []datatypes.Edge {
	page := s.GetActivePageID()
	if page == "" {
		return []datatypes.Edge{}
	}
	return sortedByKey(getScoped[datatypes.Edge](s, colEdges, page))
}

// GetEdge returns one edge from the active page by id.
func (s *Store) GetEdge(id string) (datatypes.Edge, bool) {
	page := s.GetActivePageID()
	if page == "" {
		return datatypes.Edge{}, false
	}
	raw, ok := s.doc.Get(colEdges, page, id)
	if !ok {
		return datatypes.Edge{}, false
	}
	return decodeEntity[datatypes.Edge](raw)
}

// SetEdges replaces the active page's edge set.
func (s *Store) SetEdges(edges []datatypes.Edge) {
	s.Transaction(OriginUser, func(tx *Txn) { tx.SetEdges(edges) })
}

// UpdateEdges replaces the active page's edge set with the result of
// applying fn to the current set.
func (s *Store) UpdateEdges(fn func([]datatypes.Edge) []datatypes.Edge) {
	s.Transaction(OriginUser, func(tx *Txn) { tx.SetEdges(fn(s.GetEdges())) })
}

// AddEdge adds an edge to the active page.
func (s *Store) AddEdge(e datatypes.Edge) {
	s.Transaction(OriginUser, func(tx *Txn) { tx.AddEdge(e) })
}

// RemoveEdge removes an edge from the active page. Returns false on an
// unknown id.
func (s *Store) RemoveEdge(id string) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.RemoveEdge(id) })
	return ok
}

// PatchEdgeData merges fields into edge data payloads as one commit.
// Unknown ids are skipped.
func (s *Store) PatchEdgeData(patches []datatypes.EdgeDataPatch) {
	s.Transaction(OriginUser, func(tx *Txn) {
		for _, p := range patches {
			tx.PatchEdgeData(p)
		}
	})
}

// SetEdges replaces the active page's edge set within the transaction.
func (tx *Txn) SetEdges(edges []datatypes.Edge) {
	s := tx.s
	page := s.GetActivePageID()
	if page == "" {
		return
	}
	s.doc.Delete([]string{colEdges, page})
	entries := make(map[string]any, len(edges))
	for _, e := range edges {
		entries[e.ID] = encodeEntity(e)
	}
	s.doc.Set([]string{colEdges, page}, entries)
}

// AddEdge adds an edge to the active page within the transaction.
func (tx *Txn) AddEdge(e datatypes.Edge) {
	s := tx.s
	page := s.GetActivePageID()
	if page == "" {
		return
	}
	if e.ID == "" {
		e.ID = s.idgen.NewID()
	}
	s.doc.Set([]string{colEdges, page, e.ID}, encodeEntity(e))
}

// RemoveEdge removes an edge within the transaction.
func (tx *Txn) RemoveEdge(id string) bool {
	s := tx.s
	page := s.GetActivePageID()
	if page == "" {
		return false
	}
	if _, ok := s.doc.Get(colEdges, page, id); !ok {
		return false
	}
	s.doc.Delete([]string{colEdges, page, id})
	return true
}

// PatchEdgeData merges fields into one edge's data payload within the
// transaction.
func (tx *Txn) PatchEdgeData(p datatypes.EdgeDataPatch) bool {
	s := tx.s
	page := s.GetActivePageID()
	if page == "" {
		return false
	}
	if _, ok := s.doc.Get(colEdges, page, p.ID); !ok {
		return false
	}
	for k, v := range p.Data {
		s.doc.Set([]string{colEdges, page, p.ID, "data", k}, encodeValue(v))
	}
	return true
}
