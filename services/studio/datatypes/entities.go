// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the entity model shared by the studio document
// store and its consumers.
//
// Entities fall into two scopes:
//
//   - Page-scoped: Node and Edge collections keyed per page.
//   - Document-global: the schema family (ConstructSchema, PortSchema,
//     SchemaGroup, SchemaPackage, SchemaRelationship, PackageManifestEntry)
//     and SpecGroups, shared across all pages.
//
// The JSON tags on these structs are the canonical field names used both in
// the stored CRDT representation and in materialized snapshots. Do not
// rename a tag without a corresponding migration step in the store.
package datatypes

// =============================================================================
// Document meta
// =============================================================================

// Meta is the root document metadata.
//
// MigrationVersion is a monotonic counter consumed by the store's migration
// engine; it only ever increases.
type Meta struct {
	Version          int    `json:"version"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	ActivePage       string `json:"activePage,omitempty"`
	MigrationVersion int    `json:"migrationVersion"`
}

// =============================================================================
// Pages
// =============================================================================

// Page is one drawing surface in a document.
//
// Order is an integer rank used for display ordering. Ranks are not required
// to be contiguous; ties are broken by id.
type Page struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
	Order       int    `json:"order"`
}

// =============================================================================
// Nodes and edges (page-scoped)
// =============================================================================

// Position is a node's location on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Connection references another node on the same page by its semantic id.
//
// TargetSemanticID is repaired by the store when the referenced node's
// semantic id is renamed.
type Connection struct {
	SourcePort       string `json:"sourcePort"`
	TargetSemanticID string `json:"targetSemanticId"`
	TargetPort       string `json:"targetPort"`
}

// NodeData is the structured payload of a node.
//
// SemanticID is a human-readable identifier used for cross-entity references
// (other nodes' connection lists point at it). Attrs holds free-form
// domain-variant fields the store does not interpret.
type NodeData struct {
	SemanticID  string         `json:"semanticId,omitempty"`
	Connections []Connection   `json:"connections,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty"`
}

// Node is one diagram element on a page. Type selects the domain variant
// and must name a registered ConstructSchema.
type Node struct {
	ID       string   `json:"id" validate:"required"`
	Type     string   `json:"type" validate:"required"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// Edge connects two nodes on the same page.
type Edge struct {
	ID           string         `json:"id" validate:"required"`
	Source       string         `json:"source" validate:"required"`
	Target       string         `json:"target" validate:"required"`
	SourceHandle string         `json:"sourceHandle,omitempty"`
	TargetHandle string         `json:"targetHandle,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// NodePatch is a partial node update applied by id.
//
// Nil fields are left untouched.
type NodePatch struct {
	ID         string         `json:"id" validate:"required"`
	Position   *Position      `json:"position,omitempty"`
	SemanticID *string        `json:"semanticId,omitempty"`
	Attrs      map[string]any `json:"attrs,omitempty"`
}

// EdgeDataPatch merges fields into an edge's data payload by id.
type EdgeDataPatch struct {
	ID   string         `json:"id" validate:"required"`
	Data map[string]any `json:"data"`
}

// =============================================================================
// Schema family (document-global)
// =============================================================================

// SchemaPort declares one port on a construct schema.
type SchemaPort struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name"`
	PortType string `json:"portType"`
}

// ConstructSchema describes one node domain variant, keyed by Type.
//
// GroupID and PackageID are optional foreign keys into SchemaGroup and
// SchemaPackage. The store clears them when the referenced entity is
// removed; callers never observe a dangling reference.
type ConstructSchema struct {
	Type           string       `json:"type" validate:"required"`
	Name           string       `json:"name" validate:"required"`
	Description    string       `json:"description,omitempty"`
	GroupID        string       `json:"groupId,omitempty"`
	PackageID      string       `json:"packageId,omitempty"`
	Ports          []SchemaPort `json:"ports,omitempty"`
	CompatibleWith []string     `json:"compatibleWith,omitempty"`
}

// PortSchema describes a reusable port definition, keyed by ID.
type PortSchema struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	PortType string `json:"portType,omitempty"`
	GroupID  string `json:"groupId,omitempty"`
}

// SchemaGroup is a named grouping of schemas, keyed by ID.
type SchemaGroup struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
	PackageID   string `json:"packageId,omitempty"`
}

// SchemaPackage is a distributable bundle of schemas, keyed by ID.
type SchemaPackage struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Version string `json:"version,omitempty"`
}

// SchemaRelationship declares a typed relationship between two construct
// schema types, keyed by ID.
type SchemaRelationship struct {
	ID         string `json:"id" validate:"required"`
	SourceType string `json:"sourceType" validate:"required"`
	TargetType string `json:"targetType" validate:"required"`
	Kind       string `json:"kind,omitempty"`
}

// PackageManifestEntry records an installed schema package, keyed by
// PackageID.
type PackageManifestEntry struct {
	PackageID string `json:"packageId" validate:"required"`
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
	Enabled   bool   `json:"enabled"`
}

// =============================================================================
// Spec groups
// =============================================================================

// SpecGroupItem is one member of a SpecGroup.
type SpecGroupItem struct {
	ItemType string `json:"itemType" validate:"required"`
	ItemID   string `json:"itemId" validate:"required"`
}

// SpecGroup is an ordered, document-global grouping of items.
//
// An item belongs to at most one SpecGroup at a time; assigning it to a new
// group removes it from its previous one.
type SpecGroup struct {
	ID          string          `json:"id" validate:"required"`
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description,omitempty"`
	Order       int             `json:"order"`
	Items       []SpecGroupItem `json:"items,omitempty"`
}

// =============================================================================
// Snapshot
// =============================================================================

// DocumentSnapshot is a fully-materialized plain copy of a document,
// produced by the store's ToJSON/Snapshot operations.
type DocumentSnapshot struct {
	Meta                Meta                   `json:"meta"`
	Pages               []Page                 `json:"pages"`
	Nodes               map[string][]Node      `json:"nodes"`
	Edges               map[string][]Edge      `json:"edges"`
	Schemas             []ConstructSchema      `json:"schemas"`
	PortSchemas         []PortSchema           `json:"portSchemas"`
	SchemaGroups        []SchemaGroup          `json:"schemaGroups"`
	SchemaPackages      []SchemaPackage        `json:"schemaPackages"`
	SchemaRelationships []SchemaRelationship   `json:"schemaRelationships"`
	PackageManifest     []PackageManifestEntry `json:"packageManifest"`
	SpecGroups          []SpecGroup            `json:"specGroups"`
}
