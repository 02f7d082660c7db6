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

// Txn is the view of the store inside a transaction.
//
// Every Txn mutator batches into the enclosing transaction's single
// commit; subscribers fire once after the whole batch, never mid-batch.
// Cascade repairs (semantic-id renames, foreign-key clearing) run in the
// same commit as their trigger, so no observer sees a dangling reference.
type Txn struct {
	s *Store
}

// Transaction runs fn with all store mutations batched into exactly one
// commit tagged with origin.
//
// # Description
//
// The origin string attributes the commit to its cause (OriginUser,
// OriginSystem, OriginInit, OriginMigration, OriginLayout); it never
// affects merge semantics. Calling Txn.Transaction from within fn folds
// into the outer commit rather than creating a second one; the outer
// origin wins.
//
// Transactions from the same store are serialized. Results travel out via
// the closure. On a disposed store fn does not run.
func (s *Store) Transaction(origin string, fn func(tx *Txn)) {
	if s.disposed.Load() {
		return
	}
	s.mu.Lock()
	frame, committed := s.doc.Transact(origin, func() {
		fn(&Txn{s: s})
	})
	s.mu.Unlock()

	if !committed {
		return
	}
	recordTransaction(origin)
	s.dispatch(frame)
	if s.registry != nil {
		s.registry.notify()
	}
}

// Transaction folds a nested transaction into the enclosing one. The
// inner origin is ignored; the batch still commits exactly once.
func (tx *Txn) Transaction(_ string, fn func(tx *Txn)) {
	fn(tx)
}
