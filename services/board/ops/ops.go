// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ops builds pending operations from mutation intents and
// projects them onto board snapshots.
//
// ApplyToState is the single reducer used both for immediate optimistic
// application and for replaying an outbox backlog onto a freshly fetched
// authoritative snapshot at session start (rebase). It is deterministic
// and idempotent: applying the same op twice yields the same state as
// applying it once.
package ops

import (
	"time"

	"github.com/google/uuid"

	"github.com/swifttarrow/collabBoard-sub000/services/board/datatypes"
)

// -----------------------------------------------------------------------------
// Factories
// -----------------------------------------------------------------------------

// New wraps a mutation intent into a PendingOp with a fresh op id, the
// originating client id, a wall-clock timestamp, the last-known server
// revision, and an idempotency key.
//
// The idempotency key is clientID:opID — stable across resends of the
// same op (e.g. after a crash-resume), unique across clients — so the
// server can safely apply a duplicate submission exactly once.
func New(opType datatypes.OpType, payload datatypes.OpPayload, boardID, clientID string, baseRevision int64) datatypes.PendingOp {
	now := time.Now()
	opID := uuid.NewString()
	return datatypes.PendingOp{
		OpID:           opID,
		ClientID:       clientID,
		BoardID:        boardID,
		Timestamp:      now,
		BaseRevision:   baseRevision,
		Type:           opType,
		Payload:        payload,
		IdempotencyKey: clientID + ":" + opID,
		CreatedAt:      now,
		Status:         datatypes.StatusPending,
	}
}

// NewCreate builds a create op for obj.
func NewCreate(obj datatypes.BoardObjectWithMeta, clientID string, baseRevision int64) datatypes.PendingOp {
	return New(datatypes.OpCreate, datatypes.OpPayload{Object: &obj}, obj.BoardID, clientID, baseRevision)
}

// NewUpdate builds an update op patching targetID.
func NewUpdate(boardID, targetID string, patch datatypes.ObjectPatch, clientID string, baseRevision int64) datatypes.PendingOp {
	return New(datatypes.OpUpdate, datatypes.OpPayload{TargetID: targetID, Patch: &patch}, boardID, clientID, baseRevision)
}

// NewDelete builds a delete op for targetID.
func NewDelete(boardID, targetID, clientID string, baseRevision int64) datatypes.PendingOp {
	return New(datatypes.OpDelete, datatypes.OpPayload{TargetID: targetID}, boardID, clientID, baseRevision)
}

// -----------------------------------------------------------------------------
// Reducer
// -----------------------------------------------------------------------------

// ApplyToState projects one op onto a snapshot, returning a new snapshot.
// The input snapshot is not mutated.
//
//   - create inserts (upsert by id)
//   - update merges the patch into the existing object; no-op when the
//     target is missing
//   - delete removes and does not cascade (callers re-parent children
//     before deleting a frame)
func ApplyToState(op datatypes.PendingOp, snap datatypes.Snapshot) datatypes.Snapshot {
	out := snap.Clone()
	applyInPlace(op, &out)
	return out
}

// ApplyAll replays ops in order onto snap, cloning once. Ops are never
// merged or coalesced; strict FIFO order is sufficient because conflict
// resolution is object-level last-writer-wins.
func ApplyAll(pending []datatypes.PendingOp, snap datatypes.Snapshot) datatypes.Snapshot {
	out := snap.Clone()
	for _, op := range pending {
		applyInPlace(op, &out)
	}
	return out
}

func applyInPlace(op datatypes.PendingOp, snap *datatypes.Snapshot) {
	if snap.Objects == nil {
		snap.Objects = make(map[string]datatypes.BoardObjectWithMeta)
	}
	switch op.Type {
	case datatypes.OpCreate:
		if op.Payload.Object == nil {
			return
		}
		obj := *op.Payload.Object
		obj.BoardObject = op.Payload.Object.BoardObject.Clone()
		if obj.UpdatedAt == "" {
			obj.UpdatedAt = datatypes.Timestamp(op.Timestamp)
		}
		snap.Objects[obj.ID] = obj
	case datatypes.OpUpdate:
		if op.Payload.Patch == nil {
			return
		}
		existing, ok := snap.Objects[op.Payload.TargetID]
		if !ok {
			return
		}
		obj := existing.BoardObject.Clone()
		op.Payload.Patch.ApplyTo(&obj)
		existing.BoardObject = obj
		existing.UpdatedAt = datatypes.Timestamp(op.Timestamp)
		snap.Objects[op.Payload.TargetID] = existing
	case datatypes.OpDelete:
		delete(snap.Objects, op.Payload.TargetID)
	}
}
