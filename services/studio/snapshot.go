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
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/drafter/services/studio/datatypes"
)

// Snapshot materializes the whole document into plain typed structures.
// The result is a copy: mutating it does not touch the store.
func (s *Store) Snapshot() datatypes.DocumentSnapshot {
	snap := datatypes.DocumentSnapshot{
		Meta:                s.GetMeta(),
		Pages:               s.GetPages(),
		Nodes:               map[string][]datatypes.Node{},
		Edges:               map[string][]datatypes.Edge{},
		Schemas:             s.GetSchemas(),
		PortSchemas:         s.GetPortSchemas(),
		SchemaGroups:        s.GetSchemaGroups(),
		SchemaPackages:      s.GetSchemaPackages(),
		SchemaRelationships: s.GetSchemaRelationships(),
		PackageManifest:     s.GetPackageManifest(),
		SpecGroups:          s.GetSpecGroups(),
	}
	for _, p := range snap.Pages {
		snap.Nodes[p.ID] = sortedByKey(getScoped[datatypes.Node](s, colNodes, p.ID))
		snap.Edges[p.ID] = sortedByKey(getScoped[datatypes.Edge](s, colEdges, p.ID))
	}
	return snap
}

// ToJSON renders the full document snapshot as JSON.
func (s *Store) ToJSON() ([]byte, error) {
	b, err := json.Marshal(s.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("marshal document snapshot: %w", err)
	}
	return b, nil
}
