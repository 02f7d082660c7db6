// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// entityValidate is the shared validator instance for entity checks.
// validator.Validate caches struct metadata and is safe for concurrent use.
var entityValidate = validator.New()

// Validate checks an entity against its struct tags.
//
// # Description
//
// Accepts any of the entity types declared in this package. Returns a
// wrapped validator error naming the offending entity kind, or nil.
//
// # Inputs
//
//   - kind: Human-readable entity kind used in the error message.
//   - v: The entity value to check.
//
// # Outputs
//
//   - error: Non-nil if any required field is missing or malformed.
func Validate(kind string, v any) error {
	if err := entityValidate.Struct(v); err != nil {
		return fmt.Errorf("invalid %s: %w", kind, err)
	}
	return nil
}
