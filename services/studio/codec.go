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
	"fmt"
	"reflect"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/AleutianAI/drafter/services/studio/datatypes"
)

// The entity codec converts between the typed entities callers use and
// the plain nested maps the CRDT document stores. Conversion is a CBOR
// round trip, so the JSON struct tags in datatypes define the stored
// field names in both directions and nested structures (connections,
// ports, items) convert deeply without per-family code.

var (
	codecEnc cbor.EncMode
	codecDec cbor.DecMode
)

func init() {
	var err error
	codecEnc, err = cbor.EncOptions{}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("studio: cbor enc mode: %v", err))
	}
	codecDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("studio: cbor dec mode: %v", err))
	}
}

// encodeEntity converts a typed entity into the plain map stored in the
// document.
func encodeEntity(v any) map[string]any {
	b, err := codecEnc.Marshal(v)
	if err != nil {
		// Entities are plain data structs; this cannot fail for the types
		// declared in datatypes.
		panic(fmt.Sprintf("studio: encode entity: %v", err))
	}
	var m map[string]any
	if err := codecDec.Unmarshal(b, &m); err != nil {
		panic(fmt.Sprintf("studio: reshape entity: %v", err))
	}
	return m
}

// encodeValue converts any plain Go value (including slices of structs)
// into the shape stored in the document.
func encodeValue(v any) any {
	b, err := codecEnc.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("studio: encode value: %v", err))
	}
	var out any
	if err := codecDec.Unmarshal(b, &out); err != nil {
		panic(fmt.Sprintf("studio: reshape value: %v", err))
	}
	return out
}

// decodeEntity converts a stored map back into a typed entity. Unknown or
// missing fields are tolerated; decode failures yield the zero value.
func decodeEntity[T any](raw any) (T, bool) {
	var out T
	b, err := codecEnc.Marshal(raw)
	if err != nil {
		return out, false
	}
	if err := codecDec.Unmarshal(b, &out); err != nil {
		return out, false
	}
	return out, true
}

// getCollection materializes a whole document-global collection, keyed by
// entity key.
func getCollection[T any](s *Store, col string) map[string]T {
	raw, ok := s.doc.Get(col)
	if !ok {
		return map[string]T{}
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return map[string]T{}
	}
	out := make(map[string]T, len(m))
	for k, v := range m {
		if ent, ok := decodeEntity[T](v); ok {
			out[k] = ent
		}
	}
	return out
}

// getScoped materializes one page's slice of a page-scoped collection.
func getScoped[T any](s *Store, col, pageID string) map[string]T {
	raw, ok := s.doc.Get(col, pageID)
	if !ok {
		return map[string]T{}
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return map[string]T{}
	}
	out := make(map[string]T, len(m))
	for k, v := range m {
		if ent, ok := decodeEntity[T](v); ok {
			out[k] = ent
		}
	}
	return out
}

// sortedByKey flattens an entity map into a slice ordered by key, keeping
// reads deterministic across replicas.
func sortedByKey[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(m))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// pagesInOrder sorts pages by rank, breaking ties by id.
func pagesInOrder(m map[string]datatypes.Page) []datatypes.Page {
	out := make([]datatypes.Page, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}
