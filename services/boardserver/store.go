// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package boardserver

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/swifttarrow/collabBoard-sub000/services/board/datatypes"
)

// ErrUnknownTarget is returned when an update addresses an object the
// board does not hold. Surfaced to clients as a terminal rejection.
var ErrUnknownTarget = errors.New("target object not found")

// Store is the in-memory authoritative state: one revision counter and
// one object map per board. Boards spring into existence on first use.
// Good enough for development and tests; nothing survives a restart.
type Store struct {
	mu     sync.Mutex
	boards map[string]*boardState
	logger *slog.Logger
}

type boardState struct {
	objects  map[string]datatypes.BoardObjectWithMeta
	revision int64

	// applied maps idempotency keys to the revision assigned on first
	// application, so a crash-resume resubmission is acknowledged
	// without being applied twice.
	applied map[string]int64
}

// NewStore returns an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		boards: make(map[string]*boardState),
		logger: logger.With(slog.String("component", "board_store")),
	}
}

func (s *Store) board(boardID string) *boardState {
	b, ok := s.boards[boardID]
	if !ok {
		b = &boardState{
			objects: make(map[string]datatypes.BoardObjectWithMeta),
			applied: make(map[string]int64),
		}
		s.boards[boardID] = b
	}
	return b
}

// Snapshot returns a deep copy of one board's current state.
func (s *Store) Snapshot(boardID string) datatypes.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.board(boardID)
	snap := datatypes.Snapshot{
		Objects:  make(map[string]datatypes.BoardObjectWithMeta, len(b.objects)),
		Revision: b.revision,
	}
	for id, obj := range b.objects {
		snap.Objects[id] = obj.Clone()
	}
	return snap
}

// Apply commits one operation and returns the board revision it was
// assigned. A previously seen idempotency key returns the original
// revision without reapplying.
//
// The server owns write times: every accepted create and update is
// stamped with the server clock, which is what makes the client-side
// last-writer-wins comparison meaningful across clients with skewed
// clocks.
func (s *Store) Apply(op datatypes.PendingOp) (int64, error) {
	if err := op.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.board(op.BoardID)

	if rev, ok := b.applied[op.IdempotencyKey]; ok {
		s.logger.Debug("duplicate op acknowledged",
			slog.String("op_id", op.OpID),
			slog.Int64("revision", rev))
		return rev, nil
	}

	now := datatypes.Timestamp(time.Now())
	switch op.Type {
	case datatypes.OpCreate:
		obj := op.Payload.Object.Clone()
		obj.BoardID = op.BoardID
		obj.UpdatedAt = now
		b.objects[obj.ID] = obj

	case datatypes.OpUpdate:
		cur, ok := b.objects[op.Payload.TargetID]
		if !ok {
			return 0, fmt.Errorf("update %q: %w", op.Payload.TargetID, ErrUnknownTarget)
		}
		next := cur.Clone()
		op.Payload.Patch.ApplyTo(&next.BoardObject)
		next.UpdatedAt = now
		b.objects[op.Payload.TargetID] = next

	case datatypes.OpDelete:
		// Deleting an already-gone object is not an error; two clients
		// racing to delete the same object should both succeed.
		delete(b.objects, op.Payload.TargetID)
	}

	b.revision++
	b.applied[op.IdempotencyKey] = b.revision
	return b.revision, nil
}

// ObjectCount reports the number of live objects on a board.
func (s *Store) ObjectCount(boardID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.board(boardID).objects)
}
