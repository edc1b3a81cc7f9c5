// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scene implements the hierarchical scene graph: an id-keyed map
// of positioned objects with optional single-parent links forming a
// forest. All operations are in-memory with no I/O.
//
// The graph maintains a parent->children index incrementally on every
// insert, reparent, and delete, so children lookups and frame hit-tests
// stay cheap inside per-operation hot loops.
//
// Graph is not safe for concurrent use; it is owned by a single session
// and mutated only on that session's goroutine.
package scene

import (
	"github.com/swifttarrow/collabBoard-sub000/services/board/datatypes"
)

// rootKey indexes children of the board root (nil ParentID).
const rootKey = ""

// Graph holds the current object set and its parent index.
type Graph struct {
	objects  map[string]*datatypes.BoardObject
	children map[string][]string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		objects:  make(map[string]*datatypes.BoardObject),
		children: make(map[string][]string),
	}
}

// NewFromSnapshot builds a graph from an authoritative snapshot.
func NewFromSnapshot(snap datatypes.Snapshot) *Graph {
	g := New()
	for _, obj := range snap.Objects {
		g.Upsert(obj.BoardObject)
	}
	return g
}

// Len returns the number of objects.
func (g *Graph) Len() int {
	return len(g.objects)
}

// Get returns a copy of the object, if present.
func (g *Graph) Get(id string) (datatypes.BoardObject, bool) {
	obj, ok := g.objects[id]
	if !ok {
		return datatypes.BoardObject{}, false
	}
	return obj.Clone(), true
}

// All returns copies of every object. Order is unspecified.
func (g *Graph) All() []datatypes.BoardObject {
	out := make([]datatypes.BoardObject, 0, len(g.objects))
	for _, obj := range g.objects {
		out = append(out, obj.Clone())
	}
	return out
}

// -----------------------------------------------------------------------------
// Mutation
// -----------------------------------------------------------------------------

// Upsert inserts or replaces an object, keeping the parent index in step.
func (g *Graph) Upsert(obj datatypes.BoardObject) {
	if prev, ok := g.objects[obj.ID]; ok {
		g.unindex(obj.ID, prev.ParentID)
	}
	stored := obj.Clone()
	g.objects[obj.ID] = &stored
	g.index(obj.ID, stored.ParentID)
}

// Patch applies a partial update. Returns false (a no-op) when the
// target is unknown.
func (g *Graph) Patch(id string, patch datatypes.ObjectPatch) bool {
	obj, ok := g.objects[id]
	if !ok {
		return false
	}
	oldParent := obj.ParentID
	patch.ApplyTo(obj)
	if !sameParent(oldParent, obj.ParentID) {
		g.unindex(id, oldParent)
		g.index(id, obj.ParentID)
	}
	return true
}

// Remove deletes an object. Children of a removed object are re-parented
// to the removed object's own parent rather than deleted.
func (g *Graph) Remove(id string) bool {
	obj, ok := g.objects[id]
	if !ok {
		return false
	}
	newParent := obj.ParentID
	for _, childID := range append([]string(nil), g.children[id]...) {
		child := g.objects[childID]
		g.unindex(childID, child.ParentID)
		if newParent != nil {
			p := *newParent
			child.ParentID = &p
		} else {
			child.ParentID = nil
		}
		g.index(childID, child.ParentID)
	}
	delete(g.children, id)
	g.unindex(id, obj.ParentID)
	delete(g.objects, id)
	return true
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

// AbsolutePosition sums local offsets along the ancestor chain. Unknown
// ids report (0,0). The walk is bounded by the object count so a
// corrupted parent graph degrades to a wrong position instead of a hang.
func (g *Graph) AbsolutePosition(id string) (float64, float64) {
	obj, ok := g.objects[id]
	if !ok {
		return 0, 0
	}
	x, y := obj.X, obj.Y
	cur := obj.ParentID
	for steps := 0; cur != nil && steps < len(g.objects); steps++ {
		parent, ok := g.objects[*cur]
		if !ok {
			break
		}
		x += parent.X
		y += parent.Y
		cur = parent.ParentID
	}
	return x, y
}

// Children returns copies of the direct children of parentID, in
// insertion order. A nil parentID selects root objects.
func (g *Graph) Children(parentID *string) []datatypes.BoardObject {
	ids := g.children[parentKey(parentID)]
	out := make([]datatypes.BoardObject, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.objects[id].Clone())
	}
	return out
}

// WouldCreateCycle reports whether setting nodeID's parent to
// targetParentID would make nodeID its own ancestor. It must be checked
// before every reparent.
func (g *Graph) WouldCreateCycle(nodeID string, targetParentID *string) bool {
	cur := targetParentID
	for steps := 0; cur != nil && steps <= len(g.objects); steps++ {
		if *cur == nodeID {
			return true
		}
		parent, ok := g.objects[*cur]
		if !ok {
			return false
		}
		cur = parent.ParentID
	}
	return false
}

// ReparentLocalPosition converts nodeID's position into newParentID's
// local coordinate space so its absolute position is unchanged by the
// reparent.
func (g *Graph) ReparentLocalPosition(nodeID string, newParentID *string) (float64, float64) {
	absX, absY := g.AbsolutePosition(nodeID)
	if newParentID == nil {
		return absX, absY
	}
	px, py := g.AbsolutePosition(*newParentID)
	return absX - px, absY - py
}

// ReparentLocalPositionFromDrop maps a drop position expressed in the
// current parent's space into the new parent's space.
func (g *Graph) ReparentLocalPositionFromDrop(dropX, dropY float64, currentParentID, newParentID *string) (float64, float64) {
	absX, absY := dropX, dropY
	if currentParentID != nil {
		cx, cy := g.AbsolutePosition(*currentParentID)
		absX += cx
		absY += cy
	}
	if newParentID == nil {
		return absX, absY
	}
	px, py := g.AbsolutePosition(*newParentID)
	return absX - px, absY - py
}

// FindContainingFrame hit-tests every frame against an absolute point.
// Among matches it prefers the deepest frame (innermost nesting),
// tie-broken by smallest area. excludeID skips a frame (typically the
// object being dragged). padding widens each frame's rectangle to make
// drop targeting forgiving near edges. Returns nil when no frame
// contains the point.
func (g *Graph) FindContainingFrame(x, y float64, excludeID string, padding float64) *string {
	var (
		bestID    string
		bestDepth = -1
		bestArea  float64
		found     bool
	)
	for id, obj := range g.objects {
		if obj.Type != datatypes.ObjectFrame || id == excludeID {
			continue
		}
		fx, fy := g.AbsolutePosition(id)
		if x < fx-padding || x > fx+obj.Width+padding ||
			y < fy-padding || y > fy+obj.Height+padding {
			continue
		}
		depth := g.depth(id)
		area := obj.Width * obj.Height
		if !found || depth > bestDepth || (depth == bestDepth && area < bestArea) {
			bestID, bestDepth, bestArea, found = id, depth, area, true
		}
	}
	if !found {
		return nil
	}
	id := bestID
	return &id
}

// depth counts ancestors, bounded by the object count.
func (g *Graph) depth(id string) int {
	obj, ok := g.objects[id]
	if !ok {
		return 0
	}
	d := 0
	cur := obj.ParentID
	for steps := 0; cur != nil && steps < len(g.objects); steps++ {
		parent, ok := g.objects[*cur]
		if !ok {
			break
		}
		d++
		cur = parent.ParentID
	}
	return d
}

// -----------------------------------------------------------------------------
// Parent Index
// -----------------------------------------------------------------------------

func parentKey(parentID *string) string {
	if parentID == nil {
		return rootKey
	}
	return *parentID
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (g *Graph) index(id string, parentID *string) {
	key := parentKey(parentID)
	g.children[key] = append(g.children[key], id)
}

func (g *Graph) unindex(id string, parentID *string) {
	key := parentKey(parentID)
	ids := g.children[key]
	for i, cur := range ids {
		if cur == id {
			g.children[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(g.children[key]) == 0 {
		delete(g.children, key)
	}
}
