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

// The schema family (construct schemas, port schemas, groups, packages,
// relationships, the package manifest) is document-global and shared by
// all pages. In the injected submode these collections are served from the
// externally-owned bundle and every mutator is a warn-and-no-op.
//
// Removing a group or package clears the foreign key on every referencing
// entity in the same commit.

// =============================================================================
// Generic family plumbing
// =============================================================================

// familyAll materializes one document-global family ordered by key.
func familyAll[T any](s *Store, col string) []T {
	return sortedByKey(getCollection[T](s, col))
}

// familyOne fetches one entity by key.
func familyOne[T any](s *Store, col, key string) (T, bool) {
	raw, ok := s.doc.Get(col, key)
	if !ok {
		var zero T
		return zero, false
	}
	return decodeEntity[T](raw)
}

// familySet replaces a whole family within the transaction.
func familySet[T any](tx *Txn, col string, items []T, key func(T) string) {
	s := tx.s
	s.doc.Delete([]string{col})
	entries := make(map[string]any, len(items))
	for _, it := range items {
		entries[key(it)] = encodeEntity(it)
	}
	s.doc.Set([]string{col}, entries)
}

// familyPut stores one entity within the transaction.
func familyPut[T any](tx *Txn, col, key string, item T) {
	tx.s.doc.Set([]string{col, key}, encodeEntity(item))
}

// familyUpdate merges partial JSON-named field updates into one entity
// within the transaction. Returns false on an unknown key.
func familyUpdate(tx *Txn, col, key string, partial map[string]any, keyField string) bool {
	s := tx.s
	if _, ok := s.doc.Get(col, key); !ok {
		return false
	}
	for k, v := range partial {
		if k == keyField {
			continue
		}
		s.doc.Set([]string{col, key, k}, encodeValue(v))
	}
	return true
}

// familyRemove deletes one entity within the transaction. Returns false
// on an unknown key.
func familyRemove(tx *Txn, col, key string) bool {
	s := tx.s
	if _, ok := s.doc.Get(col, key); !ok {
		return false
	}
	s.doc.Delete([]string{col, key})
	return true
}

// injectedIndex builds a lookup over one bundle slice.
func injectedIndex[T any](items []T, key func(T) string) map[string]T {
	out := make(map[string]T, len(items))
	for _, it := range items {
		out[key(it)] = it
	}
	return out
}

// =============================================================================
// Construct schemas (keyed by type)
// =============================================================================

// GetSchemas returns all construct schemas.
func (s *Store) GetSchemas() []datatypes.ConstructSchema {
	if s.injected != nil {
		return sortedByKey(injectedIndex(s.injected.Schemas,
			func(c datatypes.ConstructSchema) string { return c.Type }))
	}
	return familyAll[datatypes.ConstructSchema](s, colSchemas)
}

// GetSchema returns one construct schema by type.
func (s *Store) GetSchema(typ string) (datatypes.ConstructSchema, bool) {
	if s.injected != nil {
		c, ok := injectedIndex(s.injected.Schemas,
			func(c datatypes.ConstructSchema) string { return c.Type })[typ]
		return c, ok
	}
	return familyOne[datatypes.ConstructSchema](s, colSchemas, typ)
}

// SetSchemas replaces the construct schema family.
func (s *Store) SetSchemas(items []datatypes.ConstructSchema) {
	s.Transaction(OriginUser, func(tx *Txn) { tx.SetSchemas(items) })
}

// AddSchema adds or replaces one construct schema. Invalid schemas are
// rejected with a warning.
func (s *Store) AddSchema(c datatypes.ConstructSchema) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.AddSchema(c) })
	return ok
}

// UpdateSchema merges partial field updates into one construct schema.
func (s *Store) UpdateSchema(typ string, partial map[string]any) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.UpdateSchema(typ, partial) })
	return ok
}

// RemoveSchema removes one construct schema. Returns false on an unknown
// type.
func (s *Store) RemoveSchema(typ string) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.RemoveSchema(typ) })
	return ok
}

// SetSchemas replaces the family within the transaction.
func (tx *Txn) SetSchemas(items []datatypes.ConstructSchema) {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("setSchemas")
		return
	}
	familySet(tx, colSchemas, items,
		func(c datatypes.ConstructSchema) string { return c.Type })
}

// AddSchema adds one construct schema within the transaction.
func (tx *Txn) AddSchema(c datatypes.ConstructSchema) bool {
	s := tx.s
	if s.injected != nil {
		s.warnReadOnly("addSchema")
		return false
	}
	if err := datatypes.Validate("constructSchema", c); err != nil {
		s.log.Warn("rejected invalid construct schema", "type", c.Type, "error", err)
		return false
	}
	familyPut(tx, colSchemas, c.Type, c)
	return true
}

// UpdateSchema merges partial updates within the transaction.
func (tx *Txn) UpdateSchema(typ string, partial map[string]any) bool {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("updateSchema")
		return false
	}
	return familyUpdate(tx, colSchemas, typ, partial, "type")
}

// RemoveSchema removes one construct schema within the transaction.
func (tx *Txn) RemoveSchema(typ string) bool {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("removeSchema")
		return false
	}
	return familyRemove(tx, colSchemas, typ)
}

// =============================================================================
// Port schemas
// =============================================================================

// GetPortSchemas returns all port schemas.
func (s *Store) GetPortSchemas() []datatypes.PortSchema {
	if s.injected != nil {
		return sortedByKey(injectedIndex(s.injected.PortSchemas,
			func(p datatypes.PortSchema) string { return p.ID }))
	}
	return familyAll[datatypes.PortSchema](s, colPortSchemas)
}

// GetPortSchema returns one port schema by id.
func (s *Store) GetPortSchema(id string) (datatypes.PortSchema, bool) {
	if s.injected != nil {
		p, ok := injectedIndex(s.injected.PortSchemas,
			func(p datatypes.PortSchema) string { return p.ID })[id]
		return p, ok
	}
	return familyOne[datatypes.PortSchema](s, colPortSchemas, id)
}

// SetPortSchemas replaces the port schema family.
func (s *Store) SetPortSchemas(items []datatypes.PortSchema) {
	s.Transaction(OriginUser, func(tx *Txn) { tx.SetPortSchemas(items) })
}

// AddPortSchema adds or replaces one port schema. Invalid port schemas are
// rejected with a warning.
func (s *Store) AddPortSchema(p datatypes.PortSchema) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.AddPortSchema(p) })
	return ok
}

// UpdatePortSchema merges partial field updates into one port schema.
func (s *Store) UpdatePortSchema(id string, partial map[string]any) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.UpdatePortSchema(id, partial) })
	return ok
}

// RemovePortSchema removes one port schema.
func (s *Store) RemovePortSchema(id string) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.RemovePortSchema(id) })
	return ok
}

// SetPortSchemas replaces the family within the transaction.
func (tx *Txn) SetPortSchemas(items []datatypes.PortSchema) {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("setPortSchemas")
		return
	}
	familySet(tx, colPortSchemas, items,
		func(p datatypes.PortSchema) string { return p.ID })
}

// AddPortSchema adds one port schema within the transaction.
func (tx *Txn) AddPortSchema(p datatypes.PortSchema) bool {
	s := tx.s
	if s.injected != nil {
		s.warnReadOnly("addPortSchema")
		return false
	}
	if err := datatypes.Validate("portSchema", p); err != nil {
		s.log.Warn("rejected invalid port schema", "id", p.ID, "error", err)
		return false
	}
	familyPut(tx, colPortSchemas, p.ID, p)
	return true
}

// UpdatePortSchema merges partial updates within the transaction.
func (tx *Txn) UpdatePortSchema(id string, partial map[string]any) bool {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("updatePortSchema")
		return false
	}
	return familyUpdate(tx, colPortSchemas, id, partial, "id")
}

// RemovePortSchema removes one port schema within the transaction.
func (tx *Txn) RemovePortSchema(id string) bool {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("removePortSchema")
		return false
	}
	return familyRemove(tx, colPortSchemas, id)
}

// =============================================================================
// Schema groups
// =============================================================================

// GetSchemaGroups returns all schema groups.
func (s *Store) GetSchemaGroups() []datatypes.SchemaGroup {
	if s.injected != nil {
		return sortedByKey(injectedIndex(s.injected.Groups,
			func(g datatypes.SchemaGroup) string { return g.ID }))
	}
	return familyAll[datatypes.SchemaGroup](s, colSchemaGroups)
}

// GetSchemaGroup returns one schema group by id.
func (s *Store) GetSchemaGroup(id string) (datatypes.SchemaGroup, bool) {
	if s.injected != nil {
		g, ok := injectedIndex(s.injected.Groups,
			func(g datatypes.SchemaGroup) string { return g.ID })[id]
		return g, ok
	}
	return familyOne[datatypes.SchemaGroup](s, colSchemaGroups, id)
}

// SetSchemaGroups replaces the schema group family.
func (s *Store) SetSchemaGroups(items []datatypes.SchemaGroup) {
	s.Transaction(OriginUser, func(tx *Txn) { tx.SetSchemaGroups(items) })
}

// AddSchemaGroup adds or replaces one schema group.
func (s *Store) AddSchemaGroup(g datatypes.SchemaGroup) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.AddSchemaGroup(g) })
	return ok
}

// UpdateSchemaGroup merges partial field updates into one schema group.
func (s *Store) UpdateSchemaGroup(id string, partial map[string]any) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.UpdateSchemaGroup(id, partial) })
	return ok
}

// RemoveSchemaGroup removes one schema group and clears the groupId
// foreign key on every construct schema and port schema referencing it in
// the same commit.
func (s *Store) RemoveSchemaGroup(id string) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.RemoveSchemaGroup(id) })
	return ok
}

// SetSchemaGroups replaces the family within the transaction.
func (tx *Txn) SetSchemaGroups(items []datatypes.SchemaGroup) {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("setSchemaGroups")
		return
	}
	familySet(tx, colSchemaGroups, items,
		func(g datatypes.SchemaGroup) string { return g.ID })
}

// AddSchemaGroup adds one schema group within the transaction.
func (tx *Txn) AddSchemaGroup(g datatypes.SchemaGroup) bool {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("addSchemaGroup")
		return false
	}
	familyPut(tx, colSchemaGroups, g.ID, g)
	return true
}

// UpdateSchemaGroup merges partial updates within the transaction.
func (tx *Txn) UpdateSchemaGroup(id string, partial map[string]any) bool {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("updateSchemaGroup")
		return false
	}
	return familyUpdate(tx, colSchemaGroups, id, partial, "id")
}

// RemoveSchemaGroup removes one schema group within the transaction,
// cascading the foreign-key repair.
func (tx *Txn) RemoveSchemaGroup(id string) bool {
	s := tx.s
	if s.injected != nil {
		s.warnReadOnly("removeSchemaGroup")
		return false
	}
	if !familyRemove(tx, colSchemaGroups, id) {
		return false
	}
	for typ, c := range getCollection[datatypes.ConstructSchema](s, colSchemas) {
		if c.GroupID == id {
			s.doc.Delete([]string{colSchemas, typ, "groupId"})
		}
	}
	for key, p := range getCollection[datatypes.PortSchema](s, colPortSchemas) {
		if p.GroupID == id {
			s.doc.Delete([]string{colPortSchemas, key, "groupId"})
		}
	}
	return true
}

// =============================================================================
// Schema packages
// =============================================================================

// GetSchemaPackages returns all schema packages.
func (s *Store) GetSchemaPackages() []datatypes.SchemaPackage {
	if s.injected != nil {
		return sortedByKey(injectedIndex(s.injected.Packages,
			func(p datatypes.SchemaPackage) string { return p.ID }))
	}
	return familyAll[datatypes.SchemaPackage](s, colSchemaPackages)
}

// GetSchemaPackage returns one schema package by id.
func (s *Store) GetSchemaPackage(id string) (datatypes.SchemaPackage, bool) {
	if s.injected != nil {
		p, ok := injectedIndex(s.injected.Packages,
			func(p datatypes.SchemaPackage) string { return p.ID })[id]
		return p, ok
	}
	return familyOne[datatypes.SchemaPackage](s, colSchemaPackages, id)
}

// SetSchemaPackages replaces the schema package family.
func (s *Store) SetSchemaPackages(items []datatypes.SchemaPackage) {
	s.Transaction(OriginUser, func(tx *Txn) { tx.SetSchemaPackages(items) })
}

// AddSchemaPackage adds or replaces one schema package.
func (s *Store) AddSchemaPackage(p datatypes.SchemaPackage) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.AddSchemaPackage(p) })
	return ok
}

// UpdateSchemaPackage merges partial field updates into one schema
// package.
func (s *Store) UpdateSchemaPackage(id string, partial map[string]any) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.UpdateSchemaPackage(id, partial) })
	return ok
}

// RemoveSchemaPackage removes one schema package and clears the packageId
// foreign key on every construct schema and schema group referencing it
// in the same commit. Manifest entries are not cascaded; they record the
// install history independently of the package's presence.
func (s *Store) RemoveSchemaPackage(id string) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.RemoveSchemaPackage(id) })
	return ok
}

// SetSchemaPackages replaces the family within the transaction.
func (tx *Txn) SetSchemaPackages(items []datatypes.SchemaPackage) {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("setSchemaPackages")
		return
	}
	familySet(tx, colSchemaPackages, items,
		func(p datatypes.SchemaPackage) string { return p.ID })
}

// AddSchemaPackage adds one schema package within the transaction.
func (tx *Txn) AddSchemaPackage(p datatypes.SchemaPackage) bool {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("addSchemaPackage")
		return false
	}
	familyPut(tx, colSchemaPackages, p.ID, p)
	return true
}

// UpdateSchemaPackage merges partial updates within the transaction.
func (tx *Txn) UpdateSchemaPackage(id string, partial map[string]any) bool {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("updateSchemaPackage")
		return false
	}
	return familyUpdate(tx, colSchemaPackages, id, partial, "id")
}

// RemoveSchemaPackage removes one schema package within the transaction,
// cascading the foreign-key repair.
func (tx *Txn) RemoveSchemaPackage(id string) bool {
	s := tx.s
	if s.injected != nil {
		s.warnReadOnly("removeSchemaPackage")
		return false
	}
	if !familyRemove(tx, colSchemaPackages, id) {
		return false
	}
	for typ, c := range getCollection[datatypes.ConstructSchema](s, colSchemas) {
		if c.PackageID == id {
			s.doc.Delete([]string{colSchemas, typ, "packageId"})
		}
	}
	for key, g := range getCollection[datatypes.SchemaGroup](s, colSchemaGroups) {
		if g.PackageID == id {
			s.doc.Delete([]string{colSchemaGroups, key, "packageId"})
		}
	}
	return true
}

// =============================================================================
// Schema relationships
// =============================================================================

// GetSchemaRelationships returns all schema relationships.
func (s *Store) GetSchemaRelationships() []datatypes.SchemaRelationship {
	if s.injected != nil {
		return sortedByKey(injectedIndex(s.injected.Relationships,
			func(r datatypes.SchemaRelationship) string { return r.ID }))
	}
	return familyAll[datatypes.SchemaRelationship](s, colSchemaRelationships)
}

// GetSchemaRelationship returns one schema relationship by id.
func (s *Store) GetSchemaRelationship(id string) (datatypes.SchemaRelationship, bool) {
	if s.injected != nil {
		r, ok := injectedIndex(s.injected.Relationships,
			func(r datatypes.SchemaRelationship) string { return r.ID })[id]
		return r, ok
	}
	return familyOne[datatypes.SchemaRelationship](s, colSchemaRelationships, id)
}

// SetSchemaRelationships replaces the schema relationship family.
func (s *Store) SetSchemaRelationships(items []datatypes.SchemaRelationship) {
	s.Transaction(OriginUser, func(tx *Txn) { tx.SetSchemaRelationships(items) })
}

// AddSchemaRelationship adds or replaces one schema relationship.
func (s *Store) AddSchemaRelationship(r datatypes.SchemaRelationship) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.AddSchemaRelationship(r) })
	return ok
}

// UpdateSchemaRelationship merges partial field updates into one schema
// relationship.
func (s *Store) UpdateSchemaRelationship(id string, partial map[string]any) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.UpdateSchemaRelationship(id, partial) })
	return ok
}

// RemoveSchemaRelationship removes one schema relationship.
func (s *Store) RemoveSchemaRelationship(id string) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.RemoveSchemaRelationship(id) })
	return ok
}

// SetSchemaRelationships replaces the family within the transaction.
func (tx *Txn) SetSchemaRelationships(items []datatypes.SchemaRelationship) {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("setSchemaRelationships")
		return
	}
	familySet(tx, colSchemaRelationships, items,
		func(r datatypes.SchemaRelationship) string { return r.ID })
}

// AddSchemaRelationship adds one schema relationship within the
// transaction.
func (tx *Txn) AddSchemaRelationship(r datatypes.SchemaRelationship) bool {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("addSchemaRelationship")
		return false
	}
	familyPut(tx, colSchemaRelationships, r.ID, r)
	return true
}

// UpdateSchemaRelationship merges partial updates within the transaction.
func (tx *Txn) UpdateSchemaRelationship(id string, partial map[string]any) bool {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("updateSchemaRelationship")
		return false
	}
	return familyUpdate(tx, colSchemaRelationships, id, partial, "id")
}

// RemoveSchemaRelationship removes one schema relationship within the
// transaction.
func (tx *Txn) RemoveSchemaRelationship(id string) bool {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("removeSchemaRelationship")
		return false
	}
	return familyRemove(tx, colSchemaRelationships, id)
}

// =============================================================================
// Package manifest
// =============================================================================

// GetPackageManifest returns all manifest entries.
func (s *Store) GetPackageManifest() []datatypes.PackageManifestEntry {
	if s.injected != nil {
		return sortedByKey(injectedIndex(s.injected.Manifest,
			func(e datatypes.PackageManifestEntry) string { return e.PackageID }))
	}
	return familyAll[datatypes.PackageManifestEntry](s, colPackageManifest)
}

// GetPackageManifestEntry returns one manifest entry by package id.
func (s *Store) GetPackageManifestEntry(packageID string) (datatypes.PackageManifestEntry, bool) {
	if s.injected != nil {
		e, ok := injectedIndex(s.injected.Manifest,
			func(e datatypes.PackageManifestEntry) string { return e.PackageID })[packageID]
		return e, ok
	}
	return familyOne[datatypes.PackageManifestEntry](s, colPackageManifest, packageID)
}

// SetPackageManifest replaces the manifest.
func (s *Store) SetPackageManifest(items []datatypes.PackageManifestEntry) {
	s.Transaction(OriginUser, func(tx *Txn) { tx.SetPackageManifest(items) })
}

// AddPackageManifestEntry adds or replaces one manifest entry.
func (s *Store) AddPackageManifestEntry(e datatypes.PackageManifestEntry) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.AddPackageManifestEntry(e) })
	return ok
}

// UpdatePackageManifestEntry merges partial field updates into one
// manifest entry.
func (s *Store) UpdatePackageManifestEntry(packageID string, partial map[string]any) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.UpdatePackageManifestEntry(packageID, partial) })
	return ok
}

// RemovePackageManifestEntry removes one manifest entry.
func (s *Store) RemovePackageManifestEntry(packageID string) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.RemovePackageManifestEntry(packageID) })
	return ok
}

// SetPackageManifest replaces the manifest within the transaction.
func (tx *Txn) SetPackageManifest(items []datatypes.PackageManifestEntry) {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("setPackageManifest")
		return
	}
	familySet(tx, colPackageManifest, items,
		func(e datatypes.PackageManifestEntry) string { return e.PackageID })
}

// AddPackageManifestEntry adds one manifest entry within the transaction.
func (tx *Txn) AddPackageManifestEntry(e datatypes.PackageManifestEntry) bool {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("addPackageManifestEntry")
		return false
	}
	familyPut(tx, colPackageManifest, e.PackageID, e)
	return true
}

// UpdatePackageManifestEntry merges partial updates within the
// transaction.
func (tx *Txn) UpdatePackageManifestEntry(packageID string, partial map[string]any) bool {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("updatePackageManifestEntry")
		return false
	}
	return familyUpdate(tx, colPackageManifest, packageID, partial, "packageId")
}

// RemovePackageManifestEntry removes one manifest entry within the
// transaction.
func (tx *Txn) RemovePackageManifestEntry(packageID string) bool {
	if tx.s.injected != nil {
		tx.s.warnReadOnly("removePackageManifestEntry")
		return false
	}
	return familyRemove(tx, colPackageManifest, packageID)
}
