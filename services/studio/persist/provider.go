// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package persist mirrors a studio CRDT document into a local BadgerDB
// database so documents stay available offline and survive restarts.
//
// Layout inside the database:
//
//	s/doc            full-state snapshot (crdt.Doc.Save)
//	u/<actor>/<seq>  update frames appended after the snapshot
//
// Hydration loads the snapshot, replays the frames on top, then signals
// the Hydrated channel. After hydration the provider observes the document
// and appends every committed or applied frame; once enough frames
// accumulate they are compacted back into the snapshot.
//
// The database directory is derived deterministically from the document id,
// so the store's corruption recovery can delete and recreate it wholesale.
package persist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/drafter/services/studio/crdt"
)

const (
	snapshotKey = "s/doc"
	framePrefix = "u/"

	// defaultSnapshotEvery is how many appended frames trigger compaction
	// into a fresh snapshot.
	defaultSnapshotEvery = 256
)

// Config holds configuration for a document cache.
type Config struct {
	// Root is the parent directory for all document caches. The database
	// for a document lives at <Root>/<DocID>. Required unless InMemory.
	Root string

	// DocID is the document id the cache belongs to. Required.
	DocID string

	// InMemory enables an in-memory database (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// SnapshotEvery is the frame count that triggers snapshot compaction.
	// Default: 256.
	SnapshotEvery int

	// Logger receives BadgerDB's internal logging. If nil, BadgerDB's
	// logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults for a document cache.
func DefaultConfig(root, docID string) Config {
	return Config{
		Root:          root,
		DocID:         docID,
		SyncWrites:    true,
		SnapshotEvery: defaultSnapshotEvery,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Provider is the durable cache for one document.
//
// # Thread Safety
//
// Safe for concurrent use after Start returns. Start itself must be called
// once, before any other method besides Hydrated.
type Provider struct {
	cfg Config
	db  *badger.DB
	dir string

	hydrated chan struct{}

	mu         sync.Mutex
	doc        *crdt.Doc
	unobserve  func()
	frameCount int
	closed     bool
}

// Open opens (or creates) the cache database for a document.
//
// # Inputs
//
//   - cfg: Cache configuration. Root and DocID are required unless
//     InMemory is set.
//
// # Outputs
//
//   - *Provider: Ready for Start. Caller must Close (or Destroy) it.
//   - error: Non-nil if the database cannot be opened.
func Open(cfg Config) (*Provider, error) {
	if !cfg.InMemory && (cfg.Root == "" || cfg.DocID == "") {
		return nil, errors.New("root and doc id are required for a persistent cache")
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = defaultSnapshotEvery
	}

	var opts badger.Options
	dir := ""
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dir = filepath.Join(cfg.Root, cfg.DocID)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open document cache: %w", err)
	}

	return &Provider{
		cfg:      cfg,
		db:       db,
		dir:      dir,
		hydrated: make(chan struct{}),
	}, nil
}

// Dir returns the cache directory, or "" for in-memory caches.
func (p *Provider) Dir() string {
	return p.dir
}

// Hydrated is closed once the document has been fully loaded from the
// cache. A healthy cache always signals; the store treats a missing signal
// as corruption.
func (p *Provider) Hydrated() <-chan struct{} {
	return p.hydrated
}

// Start hydrates the document from the cache and begins mirroring frames
// into it.
func (p *Provider) Start(doc *crdt.Doc) error {
	if err := p.load(doc); err != nil {
		return err
	}

	p.mu.Lock()
	p.doc = doc
	p.unobserve = doc.OnUpdate(p.persistFrame)
	p.mu.Unlock()

	close(p.hydrated)
	return nil
}

// load replays snapshot and frames into doc.
func (p *Provider) load(doc *crdt.Doc) error {
	return p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey))
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error { return doc.Load(val) }); err != nil {
				return fmt.Errorf("load snapshot: %w", err)
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			// Fresh cache.
		default:
			return fmt.Errorf("read snapshot: %w", err)
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(framePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error { return doc.ApplyEncoded(val) })
			if err != nil {
				return fmt.Errorf("replay frame %s: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
}

// frameKey builds u/<actor>/<seq> with a big-endian sequence so iteration
// order matches append order per actor.
func frameKey(actor string, seq uint64) []byte {
	key := make([]byte, 0, len(framePrefix)+len(actor)+9)
	key = append(key, framePrefix...)
	key = append(key, actor...)
	key = append(key, '/')
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}

// persistFrame is the document observer: appends one frame, compacting
// into a snapshot when enough have accumulated. Snapshot frames (Seq zero,
// full-state catch-up from a peer) are folded straight into the snapshot.
func (p *Provider) persistFrame(u crdt.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	if u.Seq == 0 {
		if err := p.writeSnapshotLocked(); err != nil {
			p.warn("persist catch-up snapshot", err)
		}
		return
	}

	b, err := crdt.EncodeUpdates([]crdt.Update{u})
	if err != nil {
		p.warn("encode frame", err)
		return
	}
	err = p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(frameKey(u.Actor, u.Seq), b)
	})
	if err != nil {
		p.warn("append frame", err)
		return
	}

	p.frameCount++
	if p.frameCount >= p.cfg.SnapshotEvery {
		if err := p.writeSnapshotLocked(); err != nil {
			p.warn("compact snapshot", err)
		}
	}
}

// writeSnapshotLocked saves the full document state and drops the frame
// log. Callers hold p.mu.
func (p *Provider) writeSnapshotLocked() error {
	b, err := p.doc.Save()
	if err != nil {
		return err
	}
	err = p.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(snapshotKey), b); err != nil {
			return err
		}
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		prefix := []byte(framePrefix)
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	// The snapshot now covers everything the in-memory log retained.
	p.doc.CompactLog()
	p.frameCount = 0
	return nil
}

func (p *Provider) warn(what string, err error) {
	if p.cfg.Logger != nil {
		p.cfg.Logger.Warn("document cache write failed", "op", what, "error", err)
	}
}

// Close detaches from the document and closes the database.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	unobserve := p.unobserve
	p.mu.Unlock()

	if unobserve != nil {
		unobserve()
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("close document cache: %w", err)
	}
	return nil
}

// Destroy closes the database and deletes its directory. Used by the
// store's corruption recovery; the document id yields the same directory
// on the next Open, so recreation is deterministic.
func (p *Provider) Destroy() error {
	_ = p.Close()
	if p.dir == "" {
		return nil
	}
	if err := os.RemoveAll(p.dir); err != nil {
		return fmt.Errorf("delete document cache %s: %w", p.dir, err)
	}
	return nil
}
