// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateBoardID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"uuid", "8f14e45f-ceea-4f3a-9c1b-67d2a1f0aa11", false},
		{"short", "b1", false},
		{"underscore", "board_1", false},
		{"empty", "", true},
		{"colon", "b1:extra", true},
		{"slash", "../etc", true},
		{"space", "b 1", true},
		{"too long", strings.Repeat("a", 65), true},
		{"max length", strings.Repeat("a", 64), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBoardID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateClientAndObjectID(t *testing.T) {
	assert.NoError(t, ValidateClientID("client-abc"))
	assert.Error(t, ValidateClientID(""))
	assert.NoError(t, ValidateObjectID("obj-123"))
	assert.Error(t, ValidateObjectID("a:b"))
}
