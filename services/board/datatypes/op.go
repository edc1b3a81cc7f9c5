// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// -----------------------------------------------------------------------------
// Operation Model
// -----------------------------------------------------------------------------

// OpType is the kind of mutation an operation carries.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Valid reports whether t is a known op type.
func (t OpType) Valid() bool {
	return t == OpCreate || t == OpUpdate || t == OpDelete
}

// OpStatus is the outbox lifecycle state of a pending operation.
type OpStatus string

const (
	StatusPending OpStatus = "pending"
	StatusAcked   OpStatus = "acked"
	StatusFailed  OpStatus = "failed"
)

// OpPayload carries the mutation content. Which fields are set depends
// on the op type: create carries Object; update carries TargetID and
// Patch; delete carries TargetID only.
type OpPayload struct {
	Object   *BoardObjectWithMeta `json:"object,omitempty"`
	TargetID string               `json:"id,omitempty"`
	Patch    *ObjectPatch         `json:"patch,omitempty"`
}

// PendingOp is a locally originated mutation awaiting server
// acknowledgment. It is owned by the outbox from enqueue until it is
// acked or permanently failed.
type PendingOp struct {
	OpID           string    `json:"opId" validate:"required"`
	ClientID       string    `json:"clientId" validate:"required"`
	BoardID        string    `json:"boardId" validate:"required"`
	Timestamp      time.Time `json:"timestamp"`
	BaseRevision   int64     `json:"baseRevision" validate:"gte=0"`
	Type           OpType    `json:"type" validate:"required"`
	Payload        OpPayload `json:"payload"`
	IdempotencyKey string    `json:"idempotencyKey" validate:"required"`
	CreatedAt      time.Time `json:"createdAt"`
	Status         OpStatus  `json:"status"`
	FailureReason  string    `json:"failureReason,omitempty"`
}

var validate = validator.New()

// Validate checks structural integrity plus the type/payload pairing.
func (op PendingOp) Validate() error {
	if err := validate.Struct(op); err != nil {
		return fmt.Errorf("invalid op: %w", err)
	}
	if !op.Type.Valid() {
		return fmt.Errorf("invalid op: unknown type %q", op.Type)
	}
	switch op.Type {
	case OpCreate:
		if op.Payload.Object == nil {
			return fmt.Errorf("invalid op: create requires an object payload")
		}
	case OpUpdate:
		if op.Payload.TargetID == "" || op.Payload.Patch == nil {
			return fmt.Errorf("invalid op: update requires a target id and patch")
		}
	case OpDelete:
		if op.Payload.TargetID == "" {
			return fmt.Errorf("invalid op: delete requires a target id")
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Snapshot
// -----------------------------------------------------------------------------

// Snapshot is the authoritative board state at a server revision.
type Snapshot struct {
	Objects  map[string]BoardObjectWithMeta `json:"objects"`
	Revision int64                          `json:"revision"`
}

// Clone returns a snapshot that shares no state with the original.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Objects:  make(map[string]BoardObjectWithMeta, len(s.Objects)),
		Revision: s.Revision,
	}
	for id, obj := range s.Objects {
		c := obj
		c.BoardObject = obj.BoardObject.Clone()
		out.Objects[id] = c
	}
	return out
}
