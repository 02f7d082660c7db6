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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/drafter/services/studio/crdt"
	"github.com/AleutianAI/drafter/services/studio/datatypes"
	"github.com/AleutianAI/drafter/services/studio/transport"
)

// seqIDs is a deterministic id generator for tests.
type seqIDs struct {
	n int
}

func (g *seqIDs) NewID() string {
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(&seqIDs{}),
	}
	s, err := New(Config{DocumentID: "doc-1", Title: "Test Doc"}, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(s.Dispose)
	return s
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{DocumentID: "doc-1", RegistryURL: "not a url"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInitializeCreatesDefaultPage(t *testing.T) {
	s := newTestStore(t)

	pages := s.GetPages()
	require.Len(t, pages, 1)
	assert.Equal(t, "Page 1", pages[0].Name)
	assert.Equal(t, pages[0].ID, s.GetActivePageID())
}

func TestTransactionNotifiesEachFamilyOnce(t *testing.T) {
	s := newTestStore(t)

	var global, nodes, pages int
	s.Subscribe(func() { global++ })
	s.SubscribeToNodes(func() { nodes++ })
	s.SubscribeToPages(func() { pages++ })

	s.Transaction(OriginUser, func(tx *Txn) {
		tx.AddNode(datatypes.Node{ID: "n1", Type: "svc"})
		tx.AddNode(datatypes.Node{ID: "n2", Type: "svc"})
		tx.AddNode(datatypes.Node{ID: "n3", Type: "svc"})
	})

	assert.Equal(t, 1, global, "global listener fires once per commit")
	assert.Equal(t, 1, nodes, "family listener fires once per commit, not per write")
	assert.Equal(t, 0, pages, "untouched families stay quiet")
}

func TestNestedTransactionCommitsOnce(t *testing.T) {
	s := newTestStore(t)

	commits := 0
	s.Subscribe(func() { commits++ })

	s.Transaction(OriginUser, func(tx *Txn) {
		tx.AddNode(datatypes.Node{ID: "n1", Type: "svc"})
		tx.Transaction(OriginSystem, func(inner *Txn) {
			inner.AddNode(datatypes.Node{ID: "n2", Type: "svc"})
		})
	})

	assert.Equal(t, 1, commits)
	assert.Len(t, s.GetNodes(), 2)
}

func TestMetaChangeTriggersPageNodeEdgeListeners(t *testing.T) {
	s := newTestStore(t)
	p2 := s.CreatePage("Second", "")

	var meta, pages, nodes, edges, schemas int
	s.SubscribeToMeta(func() { meta++ })
	s.SubscribeToPages(func() { pages++ })
	s.SubscribeToNodes(func() { nodes++ })
	s.SubscribeToEdges(func() { edges++ })
	s.SubscribeToSchemas(func() { schemas++ })

	require.True(t, s.SetActivePage(p2.ID))

	assert.Equal(t, 1, meta)
	assert.Equal(t, 1, pages, "which page is current depends on meta")
	assert.Equal(t, 1, nodes)
	assert.Equal(t, 1, edges)
	assert.Equal(t, 0, schemas)
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	s := newTestStore(t)

	calls := 0
	off := s.SubscribeToNodes(func() { calls++ })
	s.AddNode(datatypes.Node{ID: "n1", Type: "svc"})
	off()
	s.AddNode(datatypes.Node{ID: "n2", Type: "svc"})

	assert.Equal(t, 1, calls)
}

func TestPageOrderingScenario(t *testing.T) {
	s := newTestStore(t)
	activeBefore := s.GetActivePageID()

	s.CreatePage("Sketch", "")
	s.CreatePage("Draft", "")

	pages := s.GetPages()
	require.Len(t, pages, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{pages[0].Order, pages[1].Order, pages[2].Order})
	assert.Equal(t, activeBefore, s.GetActivePageID(), "creating pages never steals focus")
}

func TestDeleteLastPageIsRejected(t *testing.T) {
	s := newTestStore(t)
	pages := s.GetPages()
	require.Len(t, pages, 1)

	assert.False(t, s.DeletePage(pages[0].ID))
	assert.Len(t, s.GetPages(), 1)
}

func TestDeleteActivePageFallsBackToLowestOrder(t *testing.T) {
	s := newTestStore(t)
	first := s.GetPages()[0]
	second := s.CreatePage("Second", "")
	require.True(t, s.SetActivePage(second.ID))

	require.True(t, s.DeletePage(second.ID))
	assert.Equal(t, first.ID, s.GetActivePageID())
}

func TestDeletePageRemovesItsNodesAndEdges(t *testing.T) {
	s := newTestStore(t)
	second := s.CreatePage("Second", "")
	require.True(t, s.SetActivePage(second.ID))
	s.AddNode(datatypes.Node{ID: "n1", Type: "svc"})
	s.AddEdge(datatypes.Edge{ID: "e1", Source: "n1", Target: "n1"})

	require.True(t, s.DeletePage(second.ID))

	_, ok := s.doc.Get(colNodes, second.ID)
	assert.False(t, ok)
	_, ok = s.doc.Get(colEdges, second.ID)
	assert.False(t, ok)
}

func TestSetActivePageOnUnknownIDIsNoOp(t *testing.T) {
	s := newTestStore(t)
	before := s.GetActivePageID()

	assert.False(t, s.SetActivePage("ghost"))
	assert.Equal(t, before, s.GetActivePageID())
}

func TestStaleActivePageResolvesToLowestOrder(t *testing.T) {
	s := newTestStore(t)
	first := s.GetPages()[0]

	// Simulate a remote peer deleting the recorded active page out from
	// under us while leaving the reference behind.
	s.Transaction(OriginSystem, func(tx *Txn) {
		s.doc.Set([]string{colMeta, "activePage"}, "ghost")
	})

	assert.Equal(t, first.ID, s.GetActivePageID())
	got, ok := s.GetActivePage()
	require.True(t, ok)
	assert.Equal(t, first.ID, got.ID)
}

func TestDuplicatePageCopiesContentWithFreshIDs(t *testing.T) {
	s := newTestStore(t)
	src := s.GetPages()[0]
	s.SetNodes([]datatypes.Node{
		{ID: "n1", Type: "svc", Data: datatypes.NodeData{SemanticID: "api"}},
		{ID: "n2", Type: "db"},
	})
	s.SetEdges([]datatypes.Edge{{ID: "e1", Source: "n1", Target: "n2"}})

	dup, ok := s.DuplicatePage(src.ID, "Copy")
	require.True(t, ok)
	assert.Equal(t, "Copy", dup.Name)
	assert.NotEqual(t, src.ID, dup.ID)

	require.True(t, s.SetActivePage(dup.ID))
	nodes := s.GetNodes()
	edges := s.GetEdges()
	require.Len(t, nodes, 2)
	require.Len(t, edges, 1)
	for _, n := range nodes {
		assert.NotContains(t, []string{"n1", "n2"}, n.ID, "copied nodes get fresh ids")
	}
	assert.NotEqual(t, "e1", edges[0].ID)
	// The edge endpoints were remapped to the copied node ids.
	ids := map[string]bool{nodes[0].ID: true, nodes[1].ID: true}
	assert.True(t, ids[edges[0].Source])
	assert.True(t, ids[edges[0].Target])
}

func TestDuplicateUnknownPageFails(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.DuplicatePage("ghost", "Copy")
	assert.False(t, ok)
}

func TestCopyNodesToPage(t *testing.T) {
	s := newTestStore(t)
	s.SetNodes([]datatypes.Node{
		{ID: "n1", Type: "svc"},
		{ID: "n2", Type: "db"},
	})
	target := s.CreatePage("Target", "")

	require.True(t, s.CopyNodesToPage([]string{"n1", "ghost"}, target.ID))
	assert.False(t, s.CopyNodesToPage([]string{"n1"}, "ghost"))

	require.True(t, s.SetActivePage(target.ID))
	nodes := s.GetNodes()
	require.Len(t, nodes, 1, "unknown source ids are skipped")
	assert.Equal(t, "svc", nodes[0].Type)
	assert.NotEqual(t, "n1", nodes[0].ID)
}

func TestUpdatePageMergesPartialFields(t *testing.T) {
	s := newTestStore(t)
	p := s.GetPages()[0]

	require.True(t, s.UpdatePage(p.ID, map[string]any{
		"name": "Renamed",
		"id":   "hijack",
	}))

	got, ok := s.GetPage(p.ID)
	require.True(t, ok)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, p.ID, got.ID, "the id field is never patched")

	assert.False(t, s.UpdatePage("ghost", map[string]any{"name": "x"}))
}

func TestConnectionStatusLocalOnly(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, transport.StatusDisconnected, s.GetConnectionStatus())
	assert.Equal(t, 1, s.GetConnectedClients())
}

func TestToJSONSnapshot(t *testing.T) {
	s := newTestStore(t)
	s.SetTitle("My Diagram")
	s.AddNode(datatypes.Node{ID: "n1", Type: "svc"})
	s.AddSchema(datatypes.ConstructSchema{Type: "svc", Name: "Service"})

	b, err := s.ToJSON()
	require.NoError(t, err)

	var snap datatypes.DocumentSnapshot
	require.NoError(t, json.Unmarshal(b, &snap))
	assert.Equal(t, "My Diagram", snap.Meta.Title)
	require.Len(t, snap.Pages, 1)
	assert.Len(t, snap.Nodes[snap.Pages[0].ID], 1)
	require.Len(t, snap.Schemas, 1)
	assert.Equal(t, "svc", snap.Schemas[0].Type)
}

func TestDisposeStopsEverything(t *testing.T) {
	s, err := New(Config{DocumentID: "doc-1"},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(&seqIDs{}))
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))

	calls := 0
	s.Subscribe(func() { calls++ })

	s.Dispose()
	s.Dispose() // idempotent

	s.AddNode(datatypes.Node{ID: "n1", Type: "svc"})
	assert.Equal(t, 0, calls, "a disposed store invokes no listener")
	assert.ErrorIs(t, s.Initialize(context.Background()), ErrDisposed)
}

// =============================================================================
// Persistence recovery
// =============================================================================

// stubProvider scripts the hydration protocol for recovery tests.
type stubProvider struct {
	startErr  error
	hang      bool
	hydrated  chan struct{}
	destroyed *atomic.Int32
	closed    *atomic.Int32
}

func newStubProvider(destroyed, closed *atomic.Int32) *stubProvider {
	return &stubProvider{
		hydrated:  make(chan struct{}),
		destroyed: destroyed,
		closed:    closed,
	}
}

func (p *stubProvider) Start(doc *crdt.Doc) error {
	if p.startErr != nil {
		return p.startErr
	}
	if p.hang {
		select {} // never signals: simulated corrupt cache
	}
	close(p.hydrated)
	return nil
}

func (p *stubProvider) Hydrated() <-chan struct{} { return p.hydrated }

func (p *stubProvider) Close() error {
	if p.closed != nil {
		p.closed.Add(1)
	}
	return nil
}

func (p *stubProvider) Destroy() error {
	if p.destroyed != nil {
		p.destroyed.Add(1)
	}
	return nil
}

func TestCorruptCacheIsDestroyedAndRecreatedOnce(t *testing.T) {
	var destroyed, closed atomic.Int32
	attempts := 0
	factory := func(docID string) (PersistenceProvider, error) {
		attempts++
		p := newStubProvider(&destroyed, &closed)
		if attempts == 1 {
			p.startErr = errors.New("manifest checksum mismatch")
		}
		return p, nil
	}

	s, err := New(Config{DocumentID: "doc-1", HydrationTimeout: time.Second},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(&seqIDs{}),
		WithProviderFactory(factory))
	require.NoError(t, err)
	t.Cleanup(s.Dispose)

	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int32(1), destroyed.Load(), "the corrupt cache is deleted exactly once")
	assert.Len(t, s.GetPages(), 1, "recovered store carries the default document")
}

func TestHydrationTimeoutTwiceIsFatal(t *testing.T) {
	var destroyed atomic.Int32
	factory := func(docID string) (PersistenceProvider, error) {
		p := newStubProvider(&destroyed, nil)
		p.hang = true
		return p, nil
	}

	s, err := New(Config{DocumentID: "doc-1", HydrationTimeout: 30 * time.Millisecond},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(&seqIDs{}),
		WithProviderFactory(factory))
	require.NoError(t, err)
	t.Cleanup(s.Dispose)

	err = s.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCacheCorrupt)
	assert.ErrorIs(t, err, ErrHydrationTimeout)
	assert.Equal(t, int32(2), destroyed.Load(), "no retry beyond the second attempt")
}

func TestFactoryErrorFailsInitialize(t *testing.T) {
	factory := func(docID string) (PersistenceProvider, error) {
		return nil, errors.New("disk full")
	}
	s, err := New(Config{DocumentID: "doc-1"},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(&seqIDs{}),
		WithProviderFactory(factory))
	require.NoError(t, err)
	t.Cleanup(s.Dispose)

	assert.Error(t, s.Initialize(context.Background()))
}
