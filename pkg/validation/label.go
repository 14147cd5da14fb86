// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// file paths or store keys. Using these validators prevents injection attacks
// (path traversal, store-key collisions).
package validation

import (
	"fmt"
	"regexp"
)

// labelPattern matches valid case labels and run identifiers.
// Allows: letters, digits, then dots, hyphens, underscores.
// Max length: 64 characters.
//
// The leading-alphanumeric rule rejects "." and ".." outright, and the
// character class has no separators, so a validated label is always a
// single path segment.
var labelPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateLabel validates a case label before it is joined into a
// work-tree or reference path.
//
// Valid labels:
//   - 1-64 characters
//   - Letters A-Z a-z and digits 0-9
//   - Dots (.), hyphens (-), underscores (_) after the first character
//
// Returns an error if the label is invalid.
//
// Example:
//
//	if err := validation.ValidateLabel(name); err != nil {
//	    return fmt.Errorf("invalid case: %w", err)
//	}
//	// Safe to use in filepath.Join
func ValidateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("label cannot be empty")
	}

	if !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid label: %q (must be 1-64 alphanumeric chars, dots, hyphens, or underscores, starting alphanumeric)", label)
	}

	return nil
}

// ValidateLabels validates multiple case labels.
// Returns an error listing all invalid labels if any fail validation.
func ValidateLabels(labels []string) error {
	var invalid []string
	for _, l := range labels {
		if err := ValidateLabel(l); err != nil {
			invalid = append(invalid, l)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid labels: %v", invalid)
	}
	return nil
}

// ValidateRunID validates a run identifier before it is joined into a
// work-tree path.
//
// Run identifiers follow the same segment rule as labels; generated
// ones are short UUID prefixes like "ab12cd34".
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run id cannot be empty")
	}

	if !labelPattern.MatchString(id) {
		return fmt.Errorf("invalid run id: %q", id)
	}

	return nil
}
