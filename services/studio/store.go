// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package studio is the collaborative document store behind the drafter
// diagram editor.
//
// One Store owns one CRDT-backed document for the duration of an editing
// session. Callers see a synchronous get/set API over the document's
// entity families (meta, pages, per-page nodes and edges, the schema
// family, spec groups); conflict resolution, offline durability and
// network sync happen underneath:
//
//   - Mutations run inside transactions tagged with an origin string and
//     commit as one CRDT frame; subscribers fire once per commit.
//   - A badger-backed cache (persist package) mirrors the document locally
//     and is deleted and recreated once if it fails to hydrate.
//   - An optional websocket room (transport package) replicates frames
//     between clients; it attaches after the store is usable locally and
//     never blocks initialization.
//   - Version-guarded migrations bring older documents up to the current
//     logical schema exactly once.
//
// A Store is constructed with New, made live with Initialize, and torn
// down with Dispose. Stores are constructor-injected dependencies: there
// is no package-level instance.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Transactions from the
// same store are serialized; cross-client conflicts are resolved by the
// CRDT merge rule, never by blocking.
package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/drafter/services/studio/crdt"
	"github.com/AleutianAI/drafter/services/studio/datatypes"
	"github.com/AleutianAI/drafter/services/studio/persist"
	"github.com/AleutianAI/drafter/services/studio/transport"
)

// Top-level collection names inside the CRDT document. These are the
// persisted layout; changing one requires a migration.
const (
	colMeta                = "meta"
	colPages               = "pages"
	colNodes               = "nodes"
	colEdges               = "edges"
	colSchemas             = "schemas"
	colPortSchemas         = "portSchemas"
	colSchemaGroups        = "schemaGroups"
	colSchemaPackages      = "schemaPackages"
	colSchemaRelationships = "schemaRelationships"
	colPackageManifest     = "packageManifest"
	colSpecGroups          = "specGroups"
)

// Transaction origin tags. Origins attribute a commit to its cause; they
// have no effect on merge semantics.
const (
	OriginUser      = "user"
	OriginSystem    = "system"
	OriginInit      = "init"
	OriginMigration = "migration"
	OriginLayout    = "layout"
)

// SyntheticPageID is the fixed id of the single page presented in the
// injected (read-only schema) submode.
const SyntheticPageID = "embedded"

// IDGenerator produces entity ids. Injected so tests can be deterministic.
type IDGenerator interface {
	NewID() string
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.NewString() }

// PersistenceProvider is the durable local cache port.
// persist.Provider is the production implementation.
type PersistenceProvider interface {
	Start(doc *crdt.Doc) error
	Hydrated() <-chan struct{}
	Close() error
	Destroy() error
}

// ProviderFactory opens a fresh provider for a document id. The store
// calls it again after destroying a corrupt cache.
type ProviderFactory func(docID string) (PersistenceProvider, error)

// SyncTransport is the network replication port.
// transport.Room is the production implementation.
type SyncTransport interface {
	Connect(ctx context.Context)
	Disconnect()
	Status() transport.Status
	Clients() int
	OnSynced(fn func())
}

// InjectedSchemas supplies an externally-owned, immutable schema family
// for the read-only embedding submode.
type InjectedSchemas struct {
	Schemas       []datatypes.ConstructSchema
	PortSchemas   []datatypes.PortSchema
	Groups        []datatypes.SchemaGroup
	Packages      []datatypes.SchemaPackage
	Relationships []datatypes.SchemaRelationship
	Manifest      []datatypes.PackageManifestEntry
}

// Store is one editing session's document store.
type Store struct {
	cfg   Config
	log   *slog.Logger
	idgen IDGenerator
	doc   *crdt.Doc

	providerFactory ProviderFactory
	room            SyncTransport
	registry        *registryPusher
	injected        *InjectedSchemas

	// mu serializes transactions. Reads go straight to the doc, which has
	// its own lock.
	mu       sync.Mutex
	provider PersistenceProvider

	subs *subscribers

	disposed   atomic.Bool
	disposedCh chan struct{}
	unobserve  func()
}

// Option customizes a Store at construction time.
type Option func(*Store)

// WithLogger sets the store's logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithIDGenerator replaces the uuid-based id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) { s.idgen = g }
}

// WithProviderFactory replaces the default badger-backed cache factory.
func WithProviderFactory(f ProviderFactory) Option {
	return func(s *Store) { s.providerFactory = f }
}

// WithTransport replaces the default websocket room transport.
func WithTransport(t SyncTransport) Option {
	return func(s *Store) { s.room = t }
}

// WithInjectedSchemas puts the store into the read-only embedding submode:
// the schema family is served from the given bundle and must not be
// mutated, and page mutation collapses to a single synthetic page.
func WithInjectedSchemas(b InjectedSchemas) Option {
	return func(s *Store) { s.injected = &b }
}

// New creates a store for the configured document id.
//
// # Description
//
// Wires the CRDT document, the durable cache factory, the sync transport
// and the registry pusher according to cfg, without touching disk or
// network. Initialize makes the store live.
//
// # Outputs
//
//   - *Store: Ready for Initialize.
//   - error: Non-nil if cfg fails validation.
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	s := &Store{
		cfg:        cfg,
		log:        slog.Default(),
		idgen:      uuidGenerator{},
		subs:       newSubscribers(),
		disposedCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Each client replica gets its own actor id; the document id keys the
	// shared room and cache, not the actor.
	s.doc = crdt.NewDoc(s.idgen.NewID())

	if s.providerFactory == nil && cfg.CacheDir != "" {
		root, sync := cfg.CacheDir, cfg.CacheSyncWrites
		logger := s.log
		s.providerFactory = func(docID string) (PersistenceProvider, error) {
			pc := persist.DefaultConfig(root, docID)
			pc.SyncWrites = sync
			pc.Logger = logger
			return persist.Open(pc)
		}
	}
	if s.room == nil && cfg.SyncURL != "" {
		s.room = transport.NewRoom(roomURL(cfg.SyncURL, cfg.DocumentID), s.doc, s.log)
	}
	if cfg.RegistryURL != "" {
		s.registry = newRegistryPusher(cfg.RegistryURL, cfg.RegistryInterval, s.log, s.registrySnapshot)
	}

	s.unobserve = s.doc.OnUpdate(s.onDocUpdate)
	return s, nil
}

// roomURL builds the room endpoint from the sync server base URL.
func roomURL(base, docID string) string {
	return strings.TrimRight(base, "/") + "/rooms/" + docID
}

// DocumentID returns the id of the document this store owns.
func (s *Store) DocumentID() string {
	return s.cfg.DocumentID
}

// Initialize makes the store live.
//
// # Description
//
// Hydrates the document from the local cache (bounded by the hydration
// timeout, with one delete-and-recreate retry on corruption), runs pending
// migrations, then attaches the sync transport without blocking. The store
// is fully usable against local state when Initialize returns; remote
// updates stream in afterwards.
//
// # Inputs
//
//   - ctx: Bounds cache hydration. Network connect is detached from it
//     only in the sense that its failure is not Initialize's failure.
//
// # Outputs
//
//   - error: ErrDisposed, a context error, or a cache error wrapping
//     ErrCacheCorrupt. Network failures never surface here.
func (s *Store) Initialize(ctx context.Context) error {
	if s.disposed.Load() {
		return ErrDisposed
	}

	if s.providerFactory != nil {
		if err := s.initPersistence(ctx); err != nil {
			return err
		}
	}
	if s.disposed.Load() {
		return ErrDisposed
	}

	s.runMigrations()

	if s.room == nil {
		// No remote peer will ever contribute pages; guarantee one now.
		s.ensureDefaultPage()
	} else {
		s.room.OnSynced(func() {
			if s.disposed.Load() {
				return
			}
			// Neither the local cache nor the remote peer had any pages.
			s.ensureDefaultPage()
		})
		s.room.Connect(ctx)
	}

	if s.registry != nil {
		s.registry.start()
	}
	s.log.Info("document store initialized",
		"doc", s.cfg.DocumentID,
		"synced", s.room != nil,
		"cached", s.providerFactory != nil)
	return nil
}

// initPersistence runs the hydrate / destroy-and-recreate-once protocol.
func (s *Store) initPersistence(ctx context.Context) error {
	err := s.tryHydrate(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDisposed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	s.log.Warn("document cache failed to hydrate; deleting and recreating",
		"doc", s.cfg.DocumentID, "error", err)
	recordCacheRecreate()

	if err2 := s.tryHydrate(ctx); err2 != nil {
		if errors.Is(err2, ErrDisposed) {
			return err2
		}
		return fmt.Errorf("recreated cache failed to hydrate: %w",
			errors.Join(ErrCacheCorrupt, err2))
	}
	return nil
}

// tryHydrate opens a provider and awaits full hydration once. On timeout
// or provider failure the cache is destroyed so the caller can retry
// against a fresh one. The disposed flag is honored at every await.
func (s *Store) tryHydrate(ctx context.Context) error {
	p, err := s.providerFactory(s.cfg.DocumentID)
	if err != nil {
		return fmt.Errorf("open document cache: %w", err)
	}

	startErr := make(chan error, 1)
	go func() { startErr <- p.Start(s.doc) }()

	timer := time.NewTimer(s.cfg.HydrationTimeout)
	defer timer.Stop()

	select {
	case <-p.Hydrated():
		s.mu.Lock()
		s.provider = p
		s.mu.Unlock()
		return nil
	case err := <-startErr:
		// Start returned without signaling hydration: corrupt content.
		if err == nil {
			err = errors.New("provider finished without hydrating")
		}
		_ = p.Destroy()
		return fmt.Errorf("hydrate document cache: %w", err)
	case <-timer.C:
		// A healthy cache always signals; treat silence as corruption.
		_ = p.Destroy()
		return fmt.Errorf("%w after %s", ErrHydrationTimeout, s.cfg.HydrationTimeout)
	case <-s.disposedCh:
		go func() { <-startErr; _ = p.Close() }()
		return ErrDisposed
	case <-ctx.Done():
		go func() { <-startErr; _ = p.Close() }()
		return ctx.Err()
	}
}

// ensureDefaultPage creates one default page if the document has none.
// No-op in the injected submode, where the synthetic page always exists.
func (s *Store) ensureDefaultPage() {
	if s.injected != nil {
		return
	}
	s.Transaction(OriginInit, func(tx *Txn) {
		if len(tx.Pages()) > 0 {
			return
		}
		p := tx.CreatePage("Page 1", "")
		tx.SetActivePage(p.ID)
	})
}

// Dispose tears the session down: cancels in-flight initialization,
// detaches network and persistence, clears every listener set and closes
// the document so no dependency keeps a callback attached. Idempotent.
// A disposed store invokes no listener, even if an in-flight async
// operation settles later.
func (s *Store) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}
	close(s.disposedCh)

	if s.room != nil {
		s.room.Disconnect()
	}
	if s.registry != nil {
		s.registry.stop()
	}

	s.mu.Lock()
	p := s.provider
	s.provider = nil
	s.mu.Unlock()
	if p != nil {
		if err := p.Close(); err != nil {
			s.log.Warn("closing document cache", "error", err)
		}
	}

	if s.unobserve != nil {
		s.unobserve()
	}
	s.doc.Close()
	s.subs.clear()
	s.log.Debug("document store disposed", "doc", s.cfg.DocumentID)
}

// =============================================================================
// Connection status
// =============================================================================

// GetConnectionStatus returns the sync transport state, or disconnected
// when the store runs local-only.
func (s *Store) GetConnectionStatus() transport.Status {
	if s.room == nil {
		return transport.StatusDisconnected
	}
	return s.room.Status()
}

// GetConnectedClients returns the number of clients in the room including
// this one, or 1 when the store runs local-only.
func (s *Store) GetConnectedClients() int {
	if s.room == nil {
		return 1
	}
	return s.room.Clients()
}

// =============================================================================
// Change routing
// =============================================================================

// onDocUpdate receives every committed or applied frame. Local frames are
// dispatched synchronously by Transaction after it releases the store
// lock; here we route only frames that arrived from elsewhere (network
// peers, cache replay).
func (s *Store) onDocUpdate(u crdt.Update) {
	if s.disposed.Load() {
		return
	}
	if u.Actor == s.doc.Actor() && u.Seq != 0 {
		return
	}
	s.dispatch(u)
	if s.registry != nil {
		s.registry.notify()
	}
}
