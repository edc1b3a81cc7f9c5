// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the wire and in-memory data model shared by
// the board sync components: spatial objects, mutation operations, the
// snapshot envelope, and realtime channel messages.
package datatypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Object Types
// -----------------------------------------------------------------------------

// ObjectType is the closed set of spatial object variants.
type ObjectType string

const (
	ObjectSticky  ObjectType = "sticky"
	ObjectRect    ObjectType = "rect"
	ObjectCircle  ObjectType = "circle"
	ObjectFrame   ObjectType = "frame"
	ObjectText    ObjectType = "text"
	ObjectLine    ObjectType = "line"
	ObjectSticker ObjectType = "sticker"
)

// Valid reports whether t is a known object type.
func (t ObjectType) Valid() bool {
	switch t {
	case ObjectSticky, ObjectRect, ObjectCircle, ObjectFrame, ObjectText, ObjectLine, ObjectSticker:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Variant Payloads
// -----------------------------------------------------------------------------

// LineData holds the endpoints of a line object, in the line's local
// coordinate space.
type LineData struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// StickerData holds the slug identifying a sticker asset.
type StickerData struct {
	Slug string `json:"slug" validate:"required"`
}

// BorderData holds the border style for frame and shape variants.
type BorderData struct {
	Style string `json:"style"`
	Width float64 `json:"width,omitempty"`
}

// ObjectData is the variant-specific payload of a BoardObject. At most
// one pointer is set, matching the object's type; ValidateFor enforces
// the pairing exhaustively.
type ObjectData struct {
	Line    *LineData    `json:"line,omitempty"`
	Sticker *StickerData `json:"sticker,omitempty"`
	Border  *BorderData  `json:"border,omitempty"`
}

// IsZero reports whether no variant payload is set.
func (d ObjectData) IsZero() bool {
	return d.Line == nil && d.Sticker == nil && d.Border == nil
}

// ValidateFor checks the payload against the object type. Every variant
// is handled explicitly so that adding a type without deciding its
// payload shape fails loudly.
func (d ObjectData) ValidateFor(t ObjectType) error {
	switch t {
	case ObjectLine:
		if d.Line == nil {
			return fmt.Errorf("line object requires line endpoints")
		}
	case ObjectSticker:
		if d.Sticker == nil || d.Sticker.Slug == "" {
			return fmt.Errorf("sticker object requires a sticker slug")
		}
	case ObjectFrame, ObjectRect, ObjectCircle:
		if d.Line != nil || d.Sticker != nil {
			return fmt.Errorf("%s object carries a foreign payload", t)
		}
	case ObjectSticky, ObjectText:
		if !d.IsZero() {
			return fmt.Errorf("%s object carries a foreign payload", t)
		}
	default:
		return fmt.Errorf("unknown object type %q", t)
	}
	return nil
}

// -----------------------------------------------------------------------------
// BoardObject
// -----------------------------------------------------------------------------

// BoardObject is a spatial entity on a board. Position (X, Y) is local to
// the parent frame; root objects (nil ParentID) use board coordinates.
type BoardObject struct {
	ID          string     `json:"id" validate:"required"`
	Type        ObjectType `json:"type" validate:"required"`
	ParentID    *string    `json:"parentId,omitempty"`
	X           float64    `json:"x"`
	Y           float64    `json:"y"`
	Width       float64    `json:"width"`
	Height      float64    `json:"height"`
	Rotation    float64    `json:"rotation,omitempty"`
	Color       string     `json:"color,omitempty"`
	Text        string     `json:"text,omitempty"`
	Data        ObjectData `json:"data,omitempty"`
	ClipContent bool       `json:"clipContent,omitempty"`
}

// Clone returns a deep copy. Payload pointers are copied by value so the
// clone shares no mutable state with the original.
func (o BoardObject) Clone() BoardObject {
	out := o
	if o.ParentID != nil {
		p := *o.ParentID
		out.ParentID = &p
	}
	if o.Data.Line != nil {
		l := *o.Data.Line
		out.Data.Line = &l
	}
	if o.Data.Sticker != nil {
		s := *o.Data.Sticker
		out.Data.Sticker = &s
	}
	if o.Data.Border != nil {
		b := *o.Data.Border
		out.Data.Border = &b
	}
	return out
}

// BoardObjectWithMeta is a BoardObject plus the server-maintained
// metadata used for last-writer-wins merging.
type BoardObjectWithMeta struct {
	BoardObject
	// UpdatedAt is the RFC3339 timestamp of the last accepted write.
	UpdatedAt string `json:"_updatedAt"`
	BoardID   string `json:"boardId" validate:"required"`
}

// Clone returns a deep copy, including the embedded BoardObject.
func (o BoardObjectWithMeta) Clone() BoardObjectWithMeta {
	out := o
	out.BoardObject = o.BoardObject.Clone()
	return out
}

// Timestamp formats t for the UpdatedAt field.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NewerThan reports whether timestamp a is strictly newer than b. Both
// are UpdatedAt strings; unparseable values fall back to lexicographic
// comparison, which is order-preserving for same-precision RFC3339.
func NewerThan(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA == nil && errB == nil {
		return ta.After(tb)
	}
	return a > b
}

// -----------------------------------------------------------------------------
// Patches
// -----------------------------------------------------------------------------

// NullString distinguishes "set to value" from "set to null" in a patch.
// A present NullString with Valid=false writes null (e.g. moving an
// object to the board root clears ParentID).
type NullString struct {
	Valid bool
	Value string
}

// MarshalJSON writes the string value or null.
func (n NullString) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// UnmarshalJSON reads a string or null.
func (n *NullString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Valid = false
		n.Value = ""
		return nil
	}
	n.Valid = true
	return json.Unmarshal(data, &n.Value)
}

// SomeString returns a NullString holding s.
func SomeString(s string) *NullString {
	return &NullString{Valid: true, Value: s}
}

// NullStringNull returns a NullString that writes null.
func NullStringNull() *NullString {
	return &NullString{}
}

// ObjectPatch is a partial update: only non-nil fields are applied.
type ObjectPatch struct {
	ParentID    *NullString `json:"parentId,omitempty"`
	X           *float64    `json:"x,omitempty"`
	Y           *float64    `json:"y,omitempty"`
	Width       *float64    `json:"width,omitempty"`
	Height      *float64    `json:"height,omitempty"`
	Rotation    *float64    `json:"rotation,omitempty"`
	Color       *string     `json:"color,omitempty"`
	Text        *string     `json:"text,omitempty"`
	Data        *ObjectData `json:"data,omitempty"`
	ClipContent *bool       `json:"clipContent,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p ObjectPatch) IsZero() bool {
	return p.ParentID == nil && p.X == nil && p.Y == nil && p.Width == nil &&
		p.Height == nil && p.Rotation == nil && p.Color == nil && p.Text == nil &&
		p.Data == nil && p.ClipContent == nil
}

// ApplyTo merges the patch into obj, field by field.
func (p ObjectPatch) ApplyTo(obj *BoardObject) {
	if p.ParentID != nil {
		if p.ParentID.Valid {
			v := p.ParentID.Value
			obj.ParentID = &v
		} else {
			obj.ParentID = nil
		}
	}
	if p.X != nil {
		obj.X = *p.X
	}
	if p.Y != nil {
		obj.Y = *p.Y
	}
	if p.Width != nil {
		obj.Width = *p.Width
	}
	if p.Height != nil {
		obj.Height = *p.Height
	}
	if p.Rotation != nil {
		obj.Rotation = *p.Rotation
	}
	if p.Color != nil {
		obj.Color = *p.Color
	}
	if p.Text != nil {
		obj.Text = *p.Text
	}
	if p.Data != nil {
		obj.Data = *p.Data
	}
	if p.ClipContent != nil {
		obj.ClipContent = *p.ClipContent
	}
}

// Float64Ptr is a convenience for building patches.
func Float64Ptr(v float64) *float64 { return &v }

// StringPtr is a convenience for building patches.
func StringPtr(v string) *string { return &v }

// BoolPtr is a convenience for building patches.
func BoolPtr(v bool) *bool { return &v }
