// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for identifiers that cross
// trust boundaries.
//
// Board, client, and object ids arrive from the network and are used as
// storage key components and URL path segments. Validating them here
// prevents key-prefix collisions and path traversal through crafted ids.
package validation

import (
	"fmt"
	"regexp"
)

// idPattern matches opaque identifiers as produced by uuid.NewString and
// similar generators: letters, digits, hyphens and underscores, 1-64
// characters. Colons are deliberately excluded; they delimit storage key
// segments.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateBoardID validates a board identifier.
func ValidateBoardID(id string) error {
	return validateID("board id", id)
}

// ValidateClientID validates a client identifier.
func ValidateClientID(id string) error {
	return validateID("client id", id)
}

// ValidateObjectID validates a board object identifier.
func ValidateObjectID(id string) error {
	return validateID("object id", id)
}

func validateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s %q contains invalid characters or is too long", kind, id)
	}
	return nil
}
