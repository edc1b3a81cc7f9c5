// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/swifttarrow/collabBoard-sub000/services/board/datatypes"
	"github.com/swifttarrow/collabBoard-sub000/services/board/ops"
)

// RestoreToState rewinds the board to target (a snapshot recorded by
// the version-history collaborator). It fetches a fresh authoritative
// snapshot, diffs it against target, clears the outbox — a restore
// supersedes any still-pending local edits — and enqueues the diff as a
// new batch of ops: deletes with children before parents, creates with
// parents before children, then field-level updates. The local scene
// adopts target immediately.
func (c *Controller) RestoreToState(ctx context.Context, target datatypes.Snapshot) error {
	c.mu.Lock()
	boardID := c.boardID
	c.mu.Unlock()
	if boardID == "" {
		return ErrNoSession
	}
	gen := c.generation.Load()

	fetched, err := c.cfg.Backend.FetchSnapshot(ctx, boardID)
	if err != nil {
		c.recordError(time.Now())
		c.recomputeConnectivity(ctx)
		return fmt.Errorf("restore: fetch snapshot: %w", err)
	}
	if target.Objects == nil {
		target.Objects = map[string]datatypes.BoardObjectWithMeta{}
	}

	diff := diffSnapshots(*fetched, target)

	if err := c.cfg.Outbox.ClearPending(ctx, boardID); err != nil {
		return fmt.Errorf("restore: clear outbox: %w", err)
	}

	// Adopt target locally at the fetched revision, stamping fresh
	// update times so the restored versions win LWW on other clients.
	now := datatypes.Timestamp(time.Now())
	adopted := datatypes.Snapshot{
		Objects:  make(map[string]datatypes.BoardObjectWithMeta, len(target.Objects)),
		Revision: fetched.Revision,
	}
	for id, obj := range target.Objects {
		o := obj.Clone()
		o.BoardID = boardID
		o.UpdatedAt = now
		adopted.Objects[id] = o
	}
	c.adoptSnapshot(gen, adopted)

	baseRevision := fetched.Revision
	var batch []datatypes.PendingOp
	for _, id := range diff.toDelete {
		batch = append(batch, ops.NewDelete(boardID, id, c.cfg.ClientID, baseRevision))
	}
	for _, id := range diff.toCreate {
		batch = append(batch, ops.NewCreate(adopted.Objects[id], c.cfg.ClientID, baseRevision))
	}
	for _, up := range diff.toUpdate {
		batch = append(batch, ops.NewUpdate(boardID, up.id, up.patch, c.cfg.ClientID, baseRevision))
	}
	for _, op := range batch {
		if err := c.cfg.Outbox.Enqueue(ctx, op); err != nil {
			return fmt.Errorf("restore: enqueue %s for %q: %w", op.Type, opTarget(op), err)
		}
	}

	c.recomputeConnectivity(ctx)
	c.logger.Info("restore enqueued",
		slog.String("board_id", boardID),
		slog.Int("deletes", len(diff.toDelete)),
		slog.Int("creates", len(diff.toCreate)),
		slog.Int("updates", len(diff.toUpdate)))
	return nil
}

func opTarget(op datatypes.PendingOp) string {
	if op.Payload.Object != nil {
		return op.Payload.Object.ID
	}
	return op.Payload.TargetID
}

// -----------------------------------------------------------------------------
// Snapshot diff
// -----------------------------------------------------------------------------

type fieldUpdate struct {
	id    string
	patch datatypes.ObjectPatch
}

type snapshotDiff struct {
	toDelete []string      // children before parents
	toCreate []string      // parents before children
	toUpdate []fieldUpdate // only fields that actually differ
}

// diffSnapshots computes the op batch that turns current into target.
// Orderings guarantee a frame is never deleted while it still has
// children pending deletion, and a child is never created before its
// parent frame exists.
func diffSnapshots(current, target datatypes.Snapshot) snapshotDiff {
	var d snapshotDiff

	for id := range current.Objects {
		if _, ok := target.Objects[id]; !ok {
			d.toDelete = append(d.toDelete, id)
		}
	}
	for id := range target.Objects {
		if _, ok := current.Objects[id]; !ok {
			d.toCreate = append(d.toCreate, id)
		}
	}
	sortByDepth(d.toDelete, current.Objects, false)
	sortByDepth(d.toCreate, target.Objects, true)

	patches := make(map[string]datatypes.ObjectPatch)
	for id, cur := range current.Objects {
		want, ok := target.Objects[id]
		if !ok {
			continue
		}
		if patch := diffObject(cur.BoardObject, want.BoardObject); !patch.IsZero() {
			patches[id] = patch
		}
	}
	updateIDs := make([]string, 0, len(patches))
	for id := range patches {
		updateIDs = append(updateIDs, id)
	}
	sort.Strings(updateIDs)
	for _, id := range updateIDs {
		d.toUpdate = append(d.toUpdate, fieldUpdate{id: id, patch: patches[id]})
	}
	return d
}

// sortByDepth orders ids by their depth in the parent forest of objs:
// ascending (parents first) for creates, descending (children first)
// for deletes. Ties break on id for determinism.
func sortByDepth(ids []string, objs map[string]datatypes.BoardObjectWithMeta, parentsFirst bool) {
	depth := func(id string) int {
		d := 0
		cur, ok := objs[id]
		for ok && cur.ParentID != nil && d <= len(objs) {
			d++
			cur, ok = objs[*cur.ParentID]
		}
		return d
	}
	sort.Slice(ids, func(i, j int) bool {
		di, dj := depth(ids[i]), depth(ids[j])
		if di != dj {
			if parentsFirst {
				return di < dj
			}
			return di > dj
		}
		return ids[i] < ids[j]
	})
}

// diffObject returns a patch holding only the fields where want differs
// from cur. Type changes are not representable as a patch and are
// ignored; a restore that changes an object's type shows up as a
// delete+create pair instead.
func diffObject(cur, want datatypes.BoardObject) datatypes.ObjectPatch {
	var p datatypes.ObjectPatch

	if !sameStringPtr(cur.ParentID, want.ParentID) {
		if want.ParentID != nil {
			p.ParentID = datatypes.SomeString(*want.ParentID)
		} else {
			p.ParentID = datatypes.NullStringNull()
		}
	}
	if cur.X != want.X {
		p.X = datatypes.Float64Ptr(want.X)
	}
	if cur.Y != want.Y {
		p.Y = datatypes.Float64Ptr(want.Y)
	}
	if cur.Width != want.Width {
		p.Width = datatypes.Float64Ptr(want.Width)
	}
	if cur.Height != want.Height {
		p.Height = datatypes.Float64Ptr(want.Height)
	}
	if cur.Rotation != want.Rotation {
		p.Rotation = datatypes.Float64Ptr(want.Rotation)
	}
	if cur.Color != want.Color {
		p.Color = datatypes.StringPtr(want.Color)
	}
	if cur.Text != want.Text {
		p.Text = datatypes.StringPtr(want.Text)
	}
	if cur.ClipContent != want.ClipContent {
		p.ClipContent = datatypes.BoolPtr(want.ClipContent)
	}
	if !sameData(cur.Data, want.Data) {
		d := want.Data
		p.Data = &d
	}
	return p
}

func sameStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameData(a, b datatypes.ObjectData) bool {
	switch {
	case (a.Line == nil) != (b.Line == nil),
		(a.Sticker == nil) != (b.Sticker == nil),
		(a.Border == nil) != (b.Border == nil):
		return false
	}
	if a.Line != nil && *a.Line != *b.Line {
		return false
	}
	if a.Sticker != nil && *a.Sticker != *b.Sticker {
		return false
	}
	if a.Border != nil && *a.Border != *b.Border {
		return false
	}
	return true
}
