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
	"sort"

	"github.com/AleutianAI/drafter/services/studio/datatypes"
)

// The migration engine brings older documents up to the current logical
// schema. A monotonic migrationVersion counter in meta guards each step:
// a step runs at most once per document regardless of how many times
// Initialize runs, and each step commits as one frame tagged
// OriginMigration so subscribers and history see it atomically.

// migrationStep is one version-guarded transform. Version is the counter
// value after the step has run.
type migrationStep struct {
	version int
	name    string
	apply   func(tx *Txn)
}

// migrationSteps in ascending version order. Append only; never renumber
// a shipped step.
var migrationSteps = []migrationStep{
	{version: 1, name: "page-order-backfill", apply: migratePageOrder},
	{version: 2, name: "wildcard-compat-collapse", apply: migrateWildcardCompat},
	{version: 3, name: "flow-port-rename", apply: migrateFlowPortRename},
}

// runMigrations applies every pending step. Called by Initialize after
// hydration, before the store is announced ready. No-op in the injected
// submode, where the schema family is externally owned.
func (s *Store) runMigrations() {
	if s.injected != nil {
		return
	}
	current := s.GetMeta().MigrationVersion
	for _, step := range migrationSteps {
		if current >= step.version {
			continue
		}
		s.Transaction(OriginMigration, func(tx *Txn) {
			step.apply(tx)
			tx.setMigrationVersion(step.version)
		})
		current = step.version
		recordMigration(step.name)
		s.log.Info("applied document migration",
			"doc", s.cfg.DocumentID, "step", step.name, "version", step.version)
	}
}

// migratePageOrder backfills the integer rank on pages created before
// ranks existed. A page without the order field gets ranked after every
// already-ranked page; the backfilled pages are ordered by name, matching
// what users saw in the old name-sorted listing.
func migratePageOrder(tx *Txn) {
	s := tx.s
	raw, ok := s.doc.Get(colPages)
	if !ok {
		return
	}
	pagesRaw, ok := raw.(map[string]any)
	if !ok {
		return
	}

	maxOrder := -1
	var missing []datatypes.Page
	for id, v := range pagesRaw {
		p, ok := decodeEntity[datatypes.Page](v)
		if !ok {
			continue
		}
		p.ID = id
		if _, has := s.doc.Get(colPages, id, "order"); has {
			if p.Order > maxOrder {
				maxOrder = p.Order
			}
			continue
		}
		missing = append(missing, p)
	}
	if len(missing) == 0 {
		return
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].Name != missing[j].Name {
			return missing[i].Name < missing[j].Name
		}
		return missing[i].ID < missing[j].ID
	})
	for i, p := range missing {
		s.doc.Set([]string{colPages, p.ID, "order"}, maxOrder+1+i)
	}
}

// migrateWildcardCompat collapses a compatibility list containing any
// exact "*" token to just ["*"]. Only the exact token triggers the
// collapse; glob-like entries ("svc*") are left alone.
func migrateWildcardCompat(tx *Txn) {
	s := tx.s
	for typ, c := range getCollection[datatypes.ConstructSchema](s, colSchemas) {
		hasWildcard := false
		for _, t := range c.CompatibleWith {
			if t == "*" {
				hasWildcard = true
				break
			}
		}
		if hasWildcard && len(c.CompatibleWith) > 1 {
			s.doc.Set([]string{colSchemas, typ, "compatibleWith"}, encodeValue([]string{"*"}))
		}
	}
}

// migrateFlowPortRename renames the port type "flow" to "dataflow"
// everywhere it appears: construct schema port lists, port schema types
// and ids, and node connection port references, all in one commit.
func migrateFlowPortRename(tx *Txn) {
	const oldType, newType = "flow", "dataflow"
	s := tx.s

	for typ, c := range getCollection[datatypes.ConstructSchema](s, colSchemas) {
		changed := false
		for i, p := range c.Ports {
			if p.PortType == oldType {
				c.Ports[i].PortType = newType
				changed = true
			}
		}
		if changed {
			s.doc.Set([]string{colSchemas, typ, "ports"}, encodeValue(c.Ports))
		}
	}

	for id, p := range getCollection[datatypes.PortSchema](s, colPortSchemas) {
		if id == oldType {
			// The port schema keyed by the old identifier is re-keyed.
			if p.PortType == oldType {
				p.PortType = newType
			}
			p.ID = newType
			s.doc.Delete([]string{colPortSchemas, oldType})
			s.doc.Set([]string{colPortSchemas, newType}, encodeEntity(p))
			continue
		}
		if p.PortType == oldType {
			s.doc.Set([]string{colPortSchemas, id, "portType"}, newType)
		}
	}

	for _, page := range getCollection[datatypes.Page](s, colPages) {
		for nodeID, n := range getScoped[datatypes.Node](s, colNodes, page.ID) {
			changed := false
			for i, c := range n.Data.Connections {
				if c.SourcePort == oldType {
					n.Data.Connections[i].SourcePort = newType
					changed = true
				}
				if c.TargetPort == oldType {
					n.Data.Connections[i].TargetPort = newType
					changed = true
				}
			}
			if changed {
				s.doc.Set([]string{colNodes, page.ID, nodeID, "data", "connections"},
					encodeValue(n.Data.Connections))
			}
		}
	}
}
