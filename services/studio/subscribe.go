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
	"sync"

	"github.com/AleutianAI/drafter/services/studio/crdt"
)

// Family identifies one granular notification channel.
type Family string

const (
	FamilyMeta                Family = "meta"
	FamilyPages               Family = "pages"
	FamilyNodes               Family = "nodes"
	FamilyEdges               Family = "edges"
	FamilySchemas             Family = "schemas"
	FamilyPortSchemas         Family = "portSchemas"
	FamilySchemaGroups        Family = "schemaGroups"
	FamilySchemaPackages      Family = "schemaPackages"
	FamilySchemaRelationships Family = "schemaRelationships"
	FamilyPackageManifest     Family = "packageManifest"
	FamilySpecGroups          Family = "specGroups"
)

// families is the fixed notification order.
var families = []Family{
	FamilyMeta,
	FamilyPages,
	FamilyNodes,
	FamilyEdges,
	FamilySchemas,
	FamilyPortSchemas,
	FamilySchemaGroups,
	FamilySchemaPackages,
	FamilySchemaRelationships,
	FamilyPackageManifest,
	FamilySpecGroups,
}

// collectionFamily maps a top-level collection name to its family.
var collectionFamily = map[string]Family{
	colMeta:                FamilyMeta,
	colPages:               FamilyPages,
	colNodes:               FamilyNodes,
	colEdges:               FamilyEdges,
	colSchemas:             FamilySchemas,
	colPortSchemas:         FamilyPortSchemas,
	colSchemaGroups:        FamilySchemaGroups,
	colSchemaPackages:      FamilySchemaPackages,
	colSchemaRelationships: FamilySchemaRelationships,
	colPackageManifest:     FamilyPackageManifest,
	colSpecGroups:          FamilySpecGroups,
}

// subscribers holds the global listener set and one set per family.
type subscribers struct {
	mu       sync.Mutex
	nextID   int
	global   map[int]func()
	granular map[Family]map[int]func()
}

func newSubscribers() *subscribers {
	g := make(map[Family]map[int]func(), len(families))
	for _, f := range families {
		g[f] = make(map[int]func())
	}
	return &subscribers{
		global:   make(map[int]func()),
		granular: g,
	}
}

func (sb *subscribers) addGlobal(fn func()) func() {
	sb.mu.Lock()
	sb.nextID++
	id := sb.nextID
	sb.global[id] = fn
	sb.mu.Unlock()
	return func() {
		sb.mu.Lock()
		defer sb.mu.Unlock()
		delete(sb.global, id)
	}
}

func (sb *subscribers) add(f Family, fn func()) func() {
	sb.mu.Lock()
	sb.nextID++
	id := sb.nextID
	sb.granular[f][id] = fn
	sb.mu.Unlock()
	return func() {
		sb.mu.Lock()
		defer sb.mu.Unlock()
		delete(sb.granular[f], id)
	}
}

// snapshot copies the listeners touched by the given family set plus the
// global set, so callbacks run without holding the registry lock.
func (sb *subscribers) snapshot(touched map[Family]bool) []func() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	var out []func()
	for _, f := range families {
		if !touched[f] {
			continue
		}
		for _, fn := range sb.granular[f] {
			out = append(out, fn)
		}
	}
	for _, fn := range sb.global {
		out = append(out, fn)
	}
	return out
}

func (sb *subscribers) clear() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.global = make(map[int]func())
	for _, f := range families {
		sb.granular[f] = make(map[int]func())
	}
}

// familiesFor derives the touched families from a committed frame. A meta
// change also touches pages, nodes and edges: which page's content is
// "current" depends on meta's active page.
func familiesFor(u crdt.Update) map[Family]bool {
	touched := make(map[Family]bool, 4)
	for _, op := range u.Ops {
		if len(op.Path) == 0 {
			continue
		}
		f, ok := collectionFamily[op.Path[0]]
		if !ok {
			continue
		}
		touched[f] = true
		if f == FamilyMeta {
			touched[FamilyPages] = true
			touched[FamilyNodes] = true
			touched[FamilyEdges] = true
		}
	}
	return touched
}

// dispatch notifies the listeners affected by one committed or applied
// frame. Each listener fires at most once per frame. Never called on a
// disposed store.
func (s *Store) dispatch(u crdt.Update) {
	if s.disposed.Load() {
		return
	}
	touched := familiesFor(u)
	if len(touched) == 0 {
		return
	}
	fns := s.subs.snapshot(touched)
	recordNotifications(len(fns))
	for _, fn := range fns {
		fn()
	}
}

// Subscribe registers a listener notified on any change. The returned
// function unsubscribes.
func (s *Store) Subscribe(fn func()) func() {
	return s.subs.addGlobal(fn)
}

// SubscribeTo registers a listener for one entity family.
func (s *Store) SubscribeTo(f Family, fn func()) func() {
	return s.subs.add(f, fn)
}

// Granular subscription helpers, one per entity family. A listener that
// only cares about nodes is not re-run when a schema changes.

func (s *Store) SubscribeToMeta(fn func()) func()  { return s.subs.add(FamilyMeta, fn) }
func (s *Store) SubscribeToPages(fn func()) func() { return s.subs.add(FamilyPages, fn) }
func (s *Store) SubscribeToNodes(fn func()) func() { return s.subs.add(FamilyNodes, fn) }
func (s *Store) SubscribeToEdges(fn func()) func() { return s.subs.add(FamilyEdges, fn) }
func (s *Store) SubscribeToSchemas(fn func()) func() {
	return s.subs.add(FamilySchemas, fn)
}
func (s *Store) SubscribeToPortSchemas(fn func()) func() {
	return s.subs.add(FamilyPortSchemas, fn)
}
func (s *Store) SubscribeToSchemaGroups(fn func()) func() {
	return s.subs.add(FamilySchemaGroups, fn)
}
func (s *Store) SubscribeToSchemaPackages(fn func()) func() {
	return s.subs.add(FamilySchemaPackages, fn)
}
func (s *Store) SubscribeToSchemaRelationships(fn func()) func() {
	return s.subs.add(FamilySchemaRelationships, fn)
}
func (s *Store) SubscribeToPackageManifest(fn func()) func() {
	return s.subs.add(FamilyPackageManifest, fn)
}
func (s *Store) SubscribeToSpecGroups(fn func()) func() {
	return s.subs.add(FamilySpecGroups, fn)
}
