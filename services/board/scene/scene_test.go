// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swifttarrow/collabBoard-sub000/services/board/datatypes"
)

func strPtr(s string) *string { return &s }

func frame(id string, parentID *string, x, y, w, h float64) datatypes.BoardObject {
	return datatypes.BoardObject{ID: id, Type: datatypes.ObjectFrame, ParentID: parentID, X: x, Y: y, Width: w, Height: h}
}

func sticky(id string, parentID *string, x, y float64) datatypes.BoardObject {
	return datatypes.BoardObject{ID: id, Type: datatypes.ObjectSticky, ParentID: parentID, X: x, Y: y, Width: 100, Height: 100}
}

func TestAbsolutePosition_NestedChain(t *testing.T) {
	g := New()
	g.Upsert(frame("f1", nil, 100, 100, 500, 500))
	g.Upsert(frame("f2", strPtr("f1"), 50, 60, 200, 200))
	g.Upsert(sticky("s1", strPtr("f2"), 10, 10))

	x, y := g.AbsolutePosition("s1")
	assert.Equal(t, 160.0, x)
	assert.Equal(t, 170.0, y)

	// Root object absolute position equals local position.
	x, y = g.AbsolutePosition("f1")
	assert.Equal(t, 100.0, x)
	assert.Equal(t, 100.0, y)
}

func TestAbsolutePosition_UnknownID(t *testing.T) {
	g := New()
	x, y := g.AbsolutePosition("ghost")
	assert.Zero(t, x)
	assert.Zero(t, y)
}

func TestAbsolutePosition_BoundedOnCorruptGraph(t *testing.T) {
	// Force a parent cycle by writing objects directly; the walk must
	// terminate rather than loop forever.
	g := New()
	a := sticky("a", strPtr("b"), 1, 1)
	b := sticky("b", strPtr("a"), 2, 2)
	g.objects["a"] = &a
	g.objects["b"] = &b

	x, y := g.AbsolutePosition("a")
	// Values are unspecified under a violated invariant; termination is
	// the contract.
	_ = x
	_ = y
}

func TestChildren_RootAndNested(t *testing.T) {
	g := New()
	g.Upsert(frame("f1", nil, 0, 0, 100, 100))
	g.Upsert(sticky("s1", strPtr("f1"), 0, 0))
	g.Upsert(sticky("s2", strPtr("f1"), 10, 0))
	g.Upsert(sticky("s3", nil, 0, 0))

	roots := g.Children(nil)
	ids := make([]string, 0, len(roots))
	for _, o := range roots {
		ids = append(ids, o.ID)
	}
	assert.ElementsMatch(t, []string{"f1", "s3"}, ids)

	kids := g.Children(strPtr("f1"))
	require.Len(t, kids, 2)
	assert.Equal(t, "s1", kids[0].ID, "insertion order preserved")
	assert.Equal(t, "s2", kids[1].ID)
}

func TestChildrenIndex_FollowsReparent(t *testing.T) {
	g := New()
	g.Upsert(frame("f1", nil, 0, 0, 100, 100))
	g.Upsert(frame("f2", nil, 200, 0, 100, 100))
	g.Upsert(sticky("s1", strPtr("f1"), 0, 0))

	ok := g.Patch("s1", datatypes.ObjectPatch{ParentID: datatypes.SomeString("f2")})
	require.True(t, ok)

	assert.Empty(t, g.Children(strPtr("f1")))
	require.Len(t, g.Children(strPtr("f2")), 1)

	// Move to root via explicit null.
	g.Patch("s1", datatypes.ObjectPatch{ParentID: datatypes.NullStringNull()})
	assert.Empty(t, g.Children(strPtr("f2")))
}

func TestWouldCreateCycle(t *testing.T) {
	g := New()
	g.Upsert(frame("a", nil, 0, 0, 10, 10))
	g.Upsert(frame("b", strPtr("a"), 0, 0, 10, 10))
	g.Upsert(frame("c", strPtr("b"), 0, 0, 10, 10))
	g.Upsert(frame("d", nil, 0, 0, 10, 10))

	// True iff the target is the node itself or a descendant of it.
	assert.True(t, g.WouldCreateCycle("a", strPtr("c")), "a under its grandchild")
	assert.True(t, g.WouldCreateCycle("a", strPtr("b")))
	assert.True(t, g.WouldCreateCycle("a", strPtr("a")), "self-parent")
	assert.False(t, g.WouldCreateCycle("c", strPtr("a")), "moving up the chain is fine")
	assert.False(t, g.WouldCreateCycle("a", strPtr("d")))
	assert.False(t, g.WouldCreateCycle("a", nil), "root is never a cycle")
}

func TestReparentLocalPosition_PreservesAbsolute(t *testing.T) {
	// Spec scenario: sticky S at local (10,10) inside frame F at (100,100).
	g := New()
	g.Upsert(frame("F", nil, 100, 100, 500, 500))
	g.Upsert(sticky("S", strPtr("F"), 10, 10))

	ax, ay := g.AbsolutePosition("S")
	assert.Equal(t, 110.0, ax)
	assert.Equal(t, 110.0, ay)

	// Reparent to root: new local equals old absolute.
	nx, ny := g.ReparentLocalPosition("S", nil)
	assert.Equal(t, 110.0, nx)
	assert.Equal(t, 110.0, ny)

	g.Patch("S", datatypes.ObjectPatch{
		ParentID: datatypes.NullStringNull(),
		X:        datatypes.Float64Ptr(nx),
		Y:        datatypes.Float64Ptr(ny),
	})
	ax2, ay2 := g.AbsolutePosition("S")
	assert.Equal(t, ax, ax2)
	assert.Equal(t, ay, ay2)
}

func TestReparentLocalPosition_IntoFrame(t *testing.T) {
	g := New()
	g.Upsert(frame("F", nil, 100, 100, 500, 500))
	g.Upsert(frame("G", nil, 300, 50, 400, 400))
	g.Upsert(sticky("S", strPtr("F"), 10, 10))

	nx, ny := g.ReparentLocalPosition("S", strPtr("G"))
	g.Patch("S", datatypes.ObjectPatch{
		ParentID: datatypes.SomeString("G"),
		X:        datatypes.Float64Ptr(nx),
		Y:        datatypes.Float64Ptr(ny),
	})

	ax, ay := g.AbsolutePosition("S")
	assert.Equal(t, 110.0, ax)
	assert.Equal(t, 110.0, ay)
}

func TestReparentLocalPositionFromDrop(t *testing.T) {
	g := New()
	g.Upsert(frame("F", nil, 100, 100, 500, 500))
	g.Upsert(frame("G", nil, 40, 60, 400, 400))

	// Drop at (10, 10) in F's space lands at absolute (110, 110); in G's
	// space that is (70, 50).
	x, y := g.ReparentLocalPositionFromDrop(10, 10, strPtr("F"), strPtr("G"))
	assert.Equal(t, 70.0, x)
	assert.Equal(t, 50.0, y)

	// From root into F.
	x, y = g.ReparentLocalPositionFromDrop(150, 150, nil, strPtr("F"))
	assert.Equal(t, 50.0, x)
	assert.Equal(t, 50.0, y)
}

func TestRemove_ReparentsChildrenToGrandparent(t *testing.T) {
	g := New()
	g.Upsert(frame("root", nil, 10, 10, 1000, 1000))
	g.Upsert(frame("mid", strPtr("root"), 20, 20, 500, 500))
	g.Upsert(sticky("s1", strPtr("mid"), 5, 5))
	g.Upsert(sticky("s2", strPtr("mid"), 15, 5))

	require.True(t, g.Remove("mid"))

	s1, ok := g.Get("s1")
	require.True(t, ok)
	require.NotNil(t, s1.ParentID)
	assert.Equal(t, "root", *s1.ParentID)

	kids := g.Children(strPtr("root"))
	assert.Len(t, kids, 2)
}

func TestRemove_RootFrameChildrenBecomeRoots(t *testing.T) {
	g := New()
	g.Upsert(frame("f", nil, 0, 0, 100, 100))
	g.Upsert(sticky("s", strPtr("f"), 5, 5))

	require.True(t, g.Remove("f"))

	s, ok := g.Get("s")
	require.True(t, ok)
	assert.Nil(t, s.ParentID)
	assert.Len(t, g.Children(nil), 1)
}

func TestFindContainingFrame(t *testing.T) {
	g := New()
	g.Upsert(frame("outer", nil, 0, 0, 1000, 1000))
	g.Upsert(frame("inner", strPtr("outer"), 100, 100, 200, 200))
	g.Upsert(frame("sibling", nil, 2000, 0, 50, 50))

	// Point inside both: innermost wins.
	hit := g.FindContainingFrame(150, 150, "", 0)
	require.NotNil(t, hit)
	assert.Equal(t, "inner", *hit)

	// Point only in outer.
	hit = g.FindContainingFrame(500, 500, "", 0)
	require.NotNil(t, hit)
	assert.Equal(t, "outer", *hit)

	// Outside everything.
	assert.Nil(t, g.FindContainingFrame(5000, 5000, "", 0))

	// Exclusion skips the dragged frame itself.
	hit = g.FindContainingFrame(150, 150, "inner", 0)
	require.NotNil(t, hit)
	assert.Equal(t, "outer", *hit)
}

func TestFindContainingFrame_Padding(t *testing.T) {
	g := New()
	g.Upsert(frame("f", nil, 100, 100, 100, 100))

	assert.Nil(t, g.FindContainingFrame(95, 150, "", 0))
	hit := g.FindContainingFrame(95, 150, "", 10)
	require.NotNil(t, hit)
	assert.Equal(t, "f", *hit)
}

func TestFindContainingFrame_TieBreakSmallestArea(t *testing.T) {
	g := New()
	// Two overlapping root frames, same depth; the smaller one wins.
	g.Upsert(frame("big", nil, 0, 0, 1000, 1000))
	g.Upsert(frame("small", nil, 100, 100, 200, 200))

	hit := g.FindContainingFrame(150, 150, "", 0)
	require.NotNil(t, hit)
	assert.Equal(t, "small", *hit)
}

func TestGet_ReturnsCopy(t *testing.T) {
	g := New()
	g.Upsert(sticky("s1", nil, 1, 1))

	got, ok := g.Get("s1")
	require.True(t, ok)
	got.X = 999

	again, _ := g.Get("s1")
	assert.Equal(t, 1.0, again.X)
}

func TestNewFromSnapshot(t *testing.T) {
	snap := datatypes.Snapshot{
		Objects: map[string]datatypes.BoardObjectWithMeta{
			"f1": {BoardObject: frame("f1", nil, 0, 0, 100, 100), UpdatedAt: "t", BoardID: "b1"},
			"s1": {BoardObject: sticky("s1", strPtr("f1"), 5, 5), UpdatedAt: "t", BoardID: "b1"},
		},
		Revision: 3,
	}
	g := NewFromSnapshot(snap)
	assert.Equal(t, 2, g.Len())
	assert.Len(t, g.Children(strPtr("f1")), 1)
}
