// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package snapcache persists the last-known {objects, revision} snapshot
// per board so a reopened board paints instantly from local state while
// the authoritative fetch is in flight.
//
// Values are stored as [4-byte big-endian CRC32][JSON snapshot]. A cache
// that fails the integrity check is treated as absent, not as an error;
// the authoritative fetch that always follows makes the cache purely an
// optimization.
package snapcache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/swifttarrow/collabBoard-sub000/services/board/datatypes"
	"github.com/swifttarrow/collabBoard-sub000/services/board/storage/badger"
)

// ErrNoSnapshot is returned by Load when no usable cache exists for the
// board.
var ErrNoSnapshot = errors.New("no cached snapshot")

// CachedSnapshot is a snapshot plus the local save time.
type CachedSnapshot struct {
	datatypes.Snapshot
	SavedAt time.Time `json:"savedAt"`
}

// Cache stores one snapshot per board in the shared local database.
type Cache struct {
	db     *badger.DB
	logger *slog.Logger
}

// New creates a cache over db. The db is shared and not closed by the
// cache.
func New(db *badger.DB, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		db:     db,
		logger: logger.With(slog.String("component", "snapcache")),
	}
}

func snapKey(boardID string) []byte {
	return []byte("snap:" + boardID)
}

// Save replaces the board's cached snapshot.
func (c *Cache) Save(ctx context.Context, boardID string, snap datatypes.Snapshot) error {
	payload, err := json.Marshal(CachedSnapshot{Snapshot: snap, SavedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	value := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(value[:4], crc32.ChecksumIEEE(payload))
	copy(value[4:], payload)

	err = c.db.WithUpdateTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(snapKey(boardID), value)
	})
	if err != nil {
		return fmt.Errorf("save snapshot for board %s: %w", boardID, err)
	}
	c.logger.Debug("snapshot cached",
		slog.String("board_id", boardID),
		slog.Int64("revision", snap.Revision),
		slog.Int("objects", len(snap.Objects)))
	return nil
}

// Load returns the board's cached snapshot, or ErrNoSnapshot when the
// cache is missing or fails its integrity check.
func (c *Cache) Load(ctx context.Context, boardID string) (*CachedSnapshot, error) {
	var value []byte
	err := c.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(snapKey(boardID))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot for board %s: %w", boardID, err)
	}

	if len(value) < 4 {
		c.logger.Warn("cached snapshot truncated, discarding", slog.String("board_id", boardID))
		return nil, ErrNoSnapshot
	}
	payload := value[4:]
	if crc32.ChecksumIEEE(payload) != binary.BigEndian.Uint32(value[:4]) {
		c.logger.Warn("cached snapshot failed integrity check, discarding", slog.String("board_id", boardID))
		return nil, ErrNoSnapshot
	}

	var cached CachedSnapshot
	if err := json.Unmarshal(payload, &cached); err != nil {
		c.logger.Warn("cached snapshot undecodable, discarding",
			slog.String("board_id", boardID),
			slog.String("error", err.Error()))
		return nil, ErrNoSnapshot
	}
	return &cached, nil
}

// Delete removes the board's cached snapshot. Missing entries are not an
// error.
func (c *Cache) Delete(ctx context.Context, boardID string) error {
	err := c.db.WithUpdateTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Delete(snapKey(boardID))
	})
	if err != nil {
		return fmt.Errorf("delete snapshot for board %s: %w", boardID, err)
	}
	return nil
}
