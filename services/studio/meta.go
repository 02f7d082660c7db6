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

import "github.com/AleutianAI/drafter/services/studio/datatypes"

// GetMeta returns the document metadata.
func (s *Store) GetMeta() datatypes.Meta {
	raw, ok := s.doc.Get(colMeta)
	if !ok {
		return datatypes.Meta{}
	}
	m, _ := decodeEntity[datatypes.Meta](raw)
	return m
}

// SetTitle sets the document title.
func (s *Store) SetTitle(title string) {
	s.Transaction(OriginUser, func(tx *Txn) { tx.SetTitle(title) })
}

// SetDescription sets the document description.
func (s *Store) SetDescription(desc string) {
	s.Transaction(OriginUser, func(tx *Txn) { tx.SetDescription(desc) })
}

// SetTitle sets the document title within the transaction.
func (tx *Txn) SetTitle(title string) {
	tx.s.doc.Set([]string{colMeta, "title"}, title)
}

// SetDescription sets the document description within the transaction.
func (tx *Txn) SetDescription(desc string) {
	tx.s.doc.Set([]string{colMeta, "description"}, desc)
}

// setMigrationVersion advances the migration guard counter.
func (tx *Txn) setMigrationVersion(v int) {
	tx.s.doc.Set([]string{colMeta, "migrationVersion"}, v)
}

// GetActivePageID resolves the current page id.
//
// The recorded active id wins when it still names an existing page;
// otherwise the lowest-ranked page is the fallback. Empty means the
// document has no pages yet (e.g. before a first remote sync delivers
// state), in which case node/edge reads are empty and writes are skipped.
func (s *Store) GetActivePageID() string {
	if s.injected != nil {
		return SyntheticPageID
	}
	pages := getCollection[datatypes.Page](s, colPages)
	if len(pages) == 0 {
		return ""
	}
	meta := s.GetMeta()
	if _, ok := pages[meta.ActivePage]; ok {
		return meta.ActivePage
	}
	return pagesInOrder(pages)[0].ID
}
