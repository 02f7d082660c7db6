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
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// registryEntry is the lightweight document metadata pushed to the
// external catalog.
type registryEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Pages int    `json:"pages"`
	Nodes int    `json:"nodes"`
}

// registryPusher pushes document metadata to the catalog, best effort.
//
// Pushes are debounced with a rate limiter and executed on a single
// background goroutine, so bursts of edits coalesce into one push and the
// synchronous mutation path is never blocked. Failures are logged and
// dropped; there is no retry beyond the next change notification.
type registryPusher struct {
	url      string
	client   *http.Client
	limiter  *rate.Limiter
	log      *slog.Logger
	snapshot func() registryEntry

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newRegistryPusher(url string, interval time.Duration, log *slog.Logger, snapshot func() registryEntry) *registryPusher {
	ctx, cancel := context.WithCancel(context.Background())
	return &registryPusher{
		url:      url,
		client:   &http.Client{Timeout: 5 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		log:      log,
		snapshot: snapshot,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (r *registryPusher) start() {
	go r.loop()
}

// notify schedules a push. Non-blocking; a pending push absorbs repeats.
func (r *registryPusher) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *registryPusher) stop() {
	r.once.Do(r.cancel)
}

func (r *registryPusher) loop() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
		}
		if err := r.limiter.Wait(r.ctx); err != nil {
			return
		}
		r.push()
	}
}

func (r *registryPusher) push() {
	entry := r.snapshot()
	body, err := json.Marshal(entry)
	if err != nil {
		r.log.Warn("registry entry marshal failed", "error", err)
		recordRegistryPush("error")
		return
	}

	req, err := http.NewRequestWithContext(r.ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		r.log.Warn("registry request build failed", "error", err)
		recordRegistryPush("error")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Warn("registry push failed", "url", r.url, "error", err)
		recordRegistryPush("error")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		r.log.Warn("registry push rejected", "url", r.url, "status", resp.StatusCode)
		recordRegistryPush("rejected")
		return
	}
	recordRegistryPush("ok")
}

// registrySnapshot gathers the catalog entry for this document.
func (s *Store) registrySnapshot() registryEntry {
	meta := s.GetMeta()
	title := meta.Title
	if title == "" {
		title = s.cfg.Title
	}
	pages := s.GetPages()
	nodes := 0
	for _, p := range pages {
		nodes += len(getScoped[map[string]any](s, colNodes, p.ID))
	}
	return registryEntry{
		ID:    s.cfg.DocumentID,
		Title: title,
		Pages: len(pages),
		Nodes: nodes,
	}
}
