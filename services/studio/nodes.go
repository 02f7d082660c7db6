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

// Node operations resolve through the active page. When the document has
// no pages yet (e.g. before a first remote sync delivers state) reads
// return empty collections and writes are silently skipped.

// =============================================================================
// Reads
// =============================================================================

// GetNodes returns the active page's nodes ordered by id.
func (s *Store) GetNodes() []datatypes.Node {
	page := s.GetActivePageID()
	if page == "" {
		return []datatypes.Node{}
	}
	return sortedByKey(getScoped[datatypes.Node](s, colNodes, page))
}

// GetNode returns one node from the active page by id.
func (s *Store) GetNode(id string) (datatypes.Node, bool) {
	page := s.GetActivePageID()
	if page == "" {
		return datatypes.Node{}, false
	}
	raw, ok := s.doc.Get(colNodes, page, id)
	if !ok {
		return datatypes.Node{}, false
	}
	return decodeEntity[datatypes.Node](raw)
}

// =============================================================================
// Mutations
// =============================================================================

// SetNodes replaces the active page's node set.
func (s *Store) SetNodes(nodes []datatypes.Node) {
	s.Transaction(OriginUser, func(tx *Txn) { tx.SetNodes(nodes) })
}

// UpdateNodes replaces the active page's node set with the result of
// applying fn to the current set.
func (s *Store) UpdateNodes(fn func([]datatypes.Node) []datatypes.Node) {
	s.Transaction(OriginUser, func(tx *Txn) { tx.SetNodes(fn(s.GetNodes())) })
}

// AddNode adds a node to the active page.
func (s *Store) AddNode(n datatypes.Node) {
	s.Transaction(OriginUser, func(tx *Txn) { tx.AddNode(n) })
}

// RemoveNode removes a node from the active page. Returns false on an
// unknown id.
func (s *Store) RemoveNode(id string) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.RemoveNode(id) })
	return ok
}

// UpdateNode merges a partial update into one node on the active page.
//
// Renaming a node's semantic id rewrites every other node's connection
// references to it in the same commit, so no subscriber ever observes a
// dangling reference.
func (s *Store) UpdateNode(id string, patch datatypes.NodePatch) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.UpdateNode(id, patch) })
	return ok
}

// PatchNodes applies a batch of partial node updates as one commit tagged
// with origin. Layout passes use OriginLayout so attribution tooling can
// separate them from user edits.
func (s *Store) PatchNodes(patches []datatypes.NodePatch, origin string) {
	if origin == "" {
		origin = OriginUser
	}
	s.Transaction(origin, func(tx *Txn) {
		for _, p := range patches {
			tx.UpdateNode(p.ID, p)
		}
	})
}

// SetNodes replaces the active page's node set within the transaction.
func (tx *Txn) SetNodes(nodes []datatypes.Node) {
	s := tx.s
	page := s.GetActivePageID()
	if page == "" {
		return
	}
	s.doc.Delete([]string{colNodes, page})
	entries := make(map[string]any, len(nodes))
	for _, n := range nodes {
		entries[n.ID] = encodeEntity(n)
	}
	s.doc.Set([]string{colNodes, page}, entries)
}

// AddNode adds a node to the active page within the transaction.
func (tx *Txn) AddNode(n datatypes.Node) {
	s := tx.s
	page := s.GetActivePageID()
	if page == "" {
		return
	}
	if n.ID == "" {
		n.ID = s.idgen.NewID()
	}
	s.doc.Set([]string{colNodes, page, n.ID}, encodeEntity(n))
}

// RemoveNode removes a node within the transaction.
func (tx *Txn) RemoveNode(id string) bool {
	s := tx.s
	page := s.GetActivePageID()
	if page == "" {
		return false
	}
	if _, ok := s.doc.Get(colNodes, page, id); !ok {
		return false
	}
	s.doc.Delete([]string{colNodes, page, id})
	return true
}

// UpdateNode merges a partial update within the transaction.
func (tx *Txn) UpdateNode(id string, patch datatypes.NodePatch) bool {
	s := tx.s
	page := s.GetActivePageID()
	if page == "" {
		return false
	}
	raw, ok := s.doc.Get(colNodes, page, id)
	if !ok {
		return false
	}
	current, ok := decodeEntity[datatypes.Node](raw)
	if !ok {
		return false
	}

	if patch.Position != nil {
		s.doc.Set([]string{colNodes, page, id, "position"}, encodeEntity(*patch.Position))
	}
	for k, v := range patch.Attrs {
		s.doc.Set([]string{colNodes, page, id, "data", "attrs", k}, encodeValue(v))
	}
	if patch.SemanticID != nil && *patch.SemanticID != current.Data.SemanticID {
		s.doc.Set([]string{colNodes, page, id, "data", "semanticId"}, *patch.SemanticID)
		tx.rewriteConnections(page, id, current.Data.SemanticID, *patch.SemanticID)
	}
	return true
}

// rewriteConnections repairs every other node's connection list on the
// page after a semantic id rename.
func (tx *Txn) rewriteConnections(page, renamedID, oldSem, newSem string) {
	if oldSem == "" {
		return
	}
	s := tx.s
	for key, n := range getScoped[datatypes.Node](s, colNodes, page) {
		if key == renamedID {
			continue
		}
		changed := false
		for i, c := range n.Data.Connections {
			if c.TargetSemanticID == oldSem {
				n.Data.Connections[i].TargetSemanticID = newSem
				changed = true
			}
		}
		if changed {
			s.doc.Set([]string{colNodes, page, key, "data", "connections"},
				encodeValue(n.Data.Connections))
		}
	}
}
