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

// syntheticPage is the single page presented in the injected submode.
func syntheticPage() datatypes.Page {
	return datatypes.Page{ID: SyntheticPageID, Name: "Canvas", Order: 0}
}

// =============================================================================
// Reads
// =============================================================================

// GetPages returns all pages ordered by rank.
func (s *Store) GetPages() []datatypes.Page {
	if s.injected != nil {
		return []datatypes.Page{syntheticPage()}
	}
	return pagesInOrder(getCollection[datatypes.Page](s, colPages))
}

// GetPage returns one page by id.
func (s *Store) GetPage(id string) (datatypes.Page, bool) {
	if s.injected != nil {
		if id == SyntheticPageID {
			return syntheticPage(), true
		}
		return datatypes.Page{}, false
	}
	raw, ok := s.doc.Get(colPages, id)
	if !ok {
		return datatypes.Page{}, false
	}
	return decodeEntity[datatypes.Page](raw)
}

// GetActivePage returns the resolved active page.
func (s *Store) GetActivePage() (datatypes.Page, bool) {
	id := s.GetActivePageID()
	if id == "" {
		return datatypes.Page{}, false
	}
	return s.GetPage(id)
}

// Pages returns all pages ordered by rank, within the transaction.
func (tx *Txn) Pages() []datatypes.Page {
	return tx.s.GetPages()
}

// =============================================================================
// Mutations
// =============================================================================

// SetActivePage records the active page. Returns false if the page does
// not exist: a concurrent remote deletion can legitimately race a stale
// reference, so this is a silent no-op rather than an error.
func (s *Store) SetActivePage(id string) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.SetActivePage(id) })
	return ok
}

// CreatePage creates a page ranked after every existing page.
func (s *Store) CreatePage(name, description string) datatypes.Page {
	var p datatypes.Page
	s.Transaction(OriginUser, func(tx *Txn) { p = tx.CreatePage(name, description) })
	if s.injected != nil {
		return syntheticPage()
	}
	return p
}

// DeletePage removes a page with its nodes and edges. Returns false for
// the last remaining page: a document never becomes pageless.
func (s *Store) DeletePage(id string) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.DeletePage(id) })
	return ok
}

// UpdatePage merges partial field updates into a page. Keys are the JSON
// field names; "id" is ignored.
func (s *Store) UpdatePage(id string, partial map[string]any) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.UpdatePage(id, partial) })
	return ok
}

// DuplicatePage deep-copies a page under a new name: the page itself, its
// nodes and its edges, all with freshly generated ids.
func (s *Store) DuplicatePage(id, newName string) (datatypes.Page, bool) {
	var (
		p  datatypes.Page
		ok bool
	)
	s.Transaction(OriginUser, func(tx *Txn) { p, ok = tx.DuplicatePage(id, newName) })
	return p, ok
}

// CopyNodesToPage copies nodes from the active page onto another page.
func (s *Store) CopyNodesToPage(nodeIDs []string, targetPageID string) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.CopyNodesToPage(nodeIDs, targetPageID) })
	return ok
}

// SetActivePage records the active page within the transaction.
func (tx *Txn) SetActivePage(id string) bool {
	s := tx.s
	if s.injected != nil {
		s.warnReadOnly("setActivePage")
		return false
	}
	if _, ok := s.doc.Get(colPages, id); !ok {
		return false
	}
	s.doc.Set([]string{colMeta, "activePage"}, id)
	return true
}

// CreatePage creates a page within the transaction.
func (tx *Txn) CreatePage(name, description string) datatypes.Page {
	s := tx.s
	if s.injected != nil {
		s.warnReadOnly("createPage")
		return syntheticPage()
	}
	pages := getCollection[datatypes.Page](s, colPages)
	order := 0
	for _, p := range pages {
		if p.Order >= order {
			order = p.Order + 1
		}
	}
	p := datatypes.Page{
		ID:          s.idgen.NewID(),
		Name:        name,
		Description: description,
		Order:       order,
	}
	tx.writePage(p)
	return p
}

// writePage stores a page and materializes its empty node and edge sets,
// so every registered page id has both.
func (tx *Txn) writePage(p datatypes.Page) {
	s := tx.s
	s.doc.Set([]string{colPages, p.ID}, encodeEntity(p))
	if _, ok := s.doc.Get(colNodes, p.ID); !ok {
		s.doc.Set([]string{colNodes, p.ID}, map[string]any{})
	}
	if _, ok := s.doc.Get(colEdges, p.ID); !ok {
		s.doc.Set([]string{colEdges, p.ID}, map[string]any{})
	}
}

// DeletePage removes a page within the transaction.
func (tx *Txn) DeletePage(id string) bool {
	s := tx.s
	if s.injected != nil {
		s.warnReadOnly("deletePage")
		return false
	}
	pages := getCollection[datatypes.Page](s, colPages)
	if _, ok := pages[id]; !ok {
		return false
	}
	if len(pages) == 1 {
		// Last page: refuse, the page set is never empty.
		return false
	}
	s.doc.Delete([]string{colPages, id})
	s.doc.Delete([]string{colNodes, id})
	s.doc.Delete([]string{colEdges, id})

	if s.GetMeta().ActivePage == id {
		delete(pages, id)
		s.doc.Set([]string{colMeta, "activePage"}, pagesInOrder(pages)[0].ID)
	}
	return true
}

// UpdatePage merges partial field updates within the transaction.
func (tx *Txn) UpdatePage(id string, partial map[string]any) bool {
	s := tx.s
	if s.injected != nil {
		s.warnReadOnly("updatePage")
		return false
	}
	if _, ok := s.doc.Get(colPages, id); !ok {
		return false
	}
	for k, v := range partial {
		if k == "id" {
			continue
		}
		s.doc.Set([]string{colPages, id, k}, encodeValue(v))
	}
	return true
}

// DuplicatePage deep-copies a page within the transaction.
func (tx *Txn) DuplicatePage(id, newName string) (datatypes.Page, bool) {
	s := tx.s
	if s.injected != nil {
		s.warnReadOnly("duplicatePage")
		return datatypes.Page{}, false
	}
	src, ok := s.GetPage(id)
	if !ok {
		return datatypes.Page{}, false
	}

	dup := tx.CreatePage(newName, src.Description)

	// Nodes get fresh ids; edges follow via the id mapping. Semantic ids
	// stay as-is, connection references are page-local.
	idMap := make(map[string]string)
	for _, n := range sortedByKey(getScoped[datatypes.Node](s, colNodes, id)) {
		copied := n
		copied.ID = s.idgen.NewID()
		idMap[n.ID] = copied.ID
		s.doc.Set([]string{colNodes, dup.ID, copied.ID}, encodeEntity(copied))
	}
	for _, e := range sortedByKey(getScoped[datatypes.Edge](s, colEdges, id)) {
		src, okS := idMap[e.Source]
		dst, okT := idMap[e.Target]
		if !okS || !okT {
			continue
		}
		copied := e
		copied.ID = s.idgen.NewID()
		copied.Source = src
		copied.Target = dst
		s.doc.Set([]string{colEdges, dup.ID, copied.ID}, encodeEntity(copied))
	}
	return dup, true
}

// CopyNodesToPage copies the named nodes from the active page onto the
// target page within the transaction. Returns false if the target page
// does not exist.
func (tx *Txn) CopyNodesToPage(nodeIDs []string, targetPageID string) bool {
	s := tx.s
	if _, ok := s.GetPage(targetPageID); !ok {
		return false
	}
	srcPage := s.GetActivePageID()
	if srcPage == "" {
		return false
	}
	nodes := getScoped[datatypes.Node](s, colNodes, srcPage)
	for _, id := range nodeIDs {
		n, ok := nodes[id]
		if !ok {
			continue
		}
		copied := n
		copied.ID = s.idgen.NewID()
		s.doc.Set([]string{colNodes, targetPageID, copied.ID}, encodeEntity(copied))
	}
	return true
}

// warnReadOnly logs the diagnostic for a mutation attempted in the
// injected submode. Call sites stay uniform across submodes: the
// operation reports "nothing changed" instead of failing.
func (s *Store) warnReadOnly(op string) {
	s.log.Warn("mutation ignored in read-only injected mode", "op", op, "doc", s.cfg.DocumentID)
}
