// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "encoding/json"

// -----------------------------------------------------------------------------
// Realtime Channel Messages
// -----------------------------------------------------------------------------

// MessageKind identifies a realtime channel message. The channel carries
// object-change broadcasts plus two collaborator-owned kinds that the
// sync core passes through without interpreting.
type MessageKind string

const (
	KindBoardObjects    MessageKind = "board_objects"
	KindViewportCommand MessageKind = "viewport_command"
	KindFindResult      MessageKind = "find_result"
)

// BroadcastOp is the change kind of a board_objects broadcast.
type BroadcastOp string

const (
	BroadcastInsert BroadcastOp = "INSERT"
	BroadcastUpdate BroadcastOp = "UPDATE"
	BroadcastDelete BroadcastOp = "DELETE"
)

// BoardObjectsMessage is an object-change broadcast. INSERT and UPDATE
// carry the full object; DELETE carries only the id.
type BoardObjectsMessage struct {
	Op        BroadcastOp          `json:"op"`
	Object    *BoardObjectWithMeta `json:"object,omitempty"`
	ID        string               `json:"id,omitempty"`
	UpdatedAt string               `json:"updated_at,omitempty"`
	// SentAt is the sender's unix-millisecond send time, used for
	// latency measurement only.
	SentAt int64 `json:"_sentAt,omitempty"`
}

// RealtimeMessage is the envelope for all channel traffic. SenderID lets
// the hub suppress echo back to the originating client.
type RealtimeMessage struct {
	Kind     MessageKind          `json:"kind"`
	BoardID  string               `json:"boardId"`
	SenderID string               `json:"senderId,omitempty"`
	Objects  *BoardObjectsMessage `json:"objects,omitempty"`
	// Payload holds viewport_command / find_result content verbatim.
	Payload json.RawMessage `json:"payload,omitempty"`
}
