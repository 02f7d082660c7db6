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

import "errors"

// Sentinel errors for the studio document store.
var (
	// ErrDisposed indicates the store was disposed and can no longer be used.
	ErrDisposed = errors.New("store disposed")

	// ErrHydrationTimeout indicates the local cache never signaled full
	// hydration within the configured timeout.
	ErrHydrationTimeout = errors.New("cache hydration timed out")

	// ErrCacheCorrupt indicates the local cache failed to hydrate even
	// after being deleted and recreated.
	ErrCacheCorrupt = errors.New("document cache unrecoverable")

	// ErrInvalidConfig indicates the store configuration failed validation.
	ErrInvalidConfig = errors.New("invalid store configuration")
)
