// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package outbox implements the durable per-board FIFO queue of pending
// operations. Ops survive process restarts and remain queued until the
// server acknowledges them or rejects them terminally.
//
// Storage layout (BadgerDB):
//
//	op:{board_id}:{seq:016d}  -> JSON-encoded PendingOp
//	idx:{op_id}               -> the op:... key, for ack/fail by op id
//
// The zero-padded sequence number makes lexicographic key order equal
// enqueue order, so an in-order iteration over the board prefix yields
// the FIFO pending list. Acked ops are deleted; failed ops are rewritten
// in place with their failure reason and stay inspectable.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/swifttarrow/collabBoard-sub000/services/board/datatypes"
	"github.com/swifttarrow/collabBoard-sub000/services/board/storage/badger"
)

// -----------------------------------------------------------------------------
// Errors and Thresholds
// -----------------------------------------------------------------------------

var (
	// ErrOpNotFound is returned when acking or failing an unknown op id.
	ErrOpNotFound = errors.New("op not found in outbox")
)

const (
	// WarnPendingThreshold is the backlog size at which the queue
	// surfaces a refresh advisory.
	WarnPendingThreshold = 500

	// CriticalPendingThreshold is the backlog size at which draining
	// must stop and the user must be told to refresh or save locally.
	// Bounds unbounded local growth during long server outages.
	CriticalPendingThreshold = 5000
)

// Advisory classifies the backlog size.
type Advisory int

const (
	AdviceNone Advisory = iota
	AdviceWarn
	AdviceCritical
)

// Counts summarizes one board's queue.
type Counts struct {
	Pending int
	Failed  int
}

// Advice maps counts to a backpressure advisory.
func Advice(c Counts) Advisory {
	switch {
	case c.Pending >= CriticalPendingThreshold:
		return AdviceCritical
	case c.Pending >= WarnPendingThreshold:
		return AdviceWarn
	default:
		return AdviceNone
	}
}

// AdviceMessage renders the user-facing advisory text, empty for
// AdviceNone.
func AdviceMessage(c Counts) string {
	switch Advice(c) {
	case AdviceCritical:
		return fmt.Sprintf("%d changes pending and the server is unreachable; refresh the page or save your work locally", c.Pending)
	case AdviceWarn:
		return fmt.Sprintf("%d changes pending, consider refreshing", c.Pending)
	default:
		return ""
	}
}

// -----------------------------------------------------------------------------
// Queue
// -----------------------------------------------------------------------------

// Queue is a durable outbox over a shared local database. Safe for
// concurrent use; per-board sequence counters are initialized lazily by
// scanning for the highest existing key.
type Queue struct {
	db     *badger.DB
	logger *slog.Logger

	mu   sync.Mutex
	seqs map[string]uint64
}

// New creates a queue over db. The db is shared and not closed by the
// queue.
func New(db *badger.DB, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		db:     db,
		logger: logger.With(slog.String("component", "outbox")),
		seqs:   make(map[string]uint64),
	}
}

func opKey(boardID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("op:%s:%016d", boardID, seq))
}

func opPrefix(boardID string) []byte {
	return []byte(fmt.Sprintf("op:%s:", boardID))
}

func idxKey(opID string) []byte {
	return []byte("idx:" + opID)
}

// Enqueue appends op to its board's queue. The write is synchronous;
// when Enqueue returns, the op survives a process restart.
func (q *Queue) Enqueue(ctx context.Context, op datatypes.PendingOp) error {
	if err := op.Validate(); err != nil {
		return err
	}
	op.Status = datatypes.StatusPending

	seq, err := q.nextSeq(ctx, op.BoardID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode op: %w", err)
	}

	key := opKey(op.BoardID, seq)
	err = q.db.WithUpdateTxn(ctx, func(txn *dgbadger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(idxKey(op.OpID), key)
	})
	if err != nil {
		return fmt.Errorf("enqueue op %s: %w", op.OpID, err)
	}

	metricPending.WithLabelValues(op.BoardID).Inc()
	q.logger.Debug("op enqueued",
		slog.String("board_id", op.BoardID),
		slog.String("op_id", op.OpID),
		slog.String("type", string(op.Type)),
		slog.Uint64("seq", seq))
	return nil
}

// Pending returns the board's not-yet-acknowledged ops in enqueue order,
// excluding terminally failed ones.
func (q *Queue) Pending(ctx context.Context, boardID string) ([]datatypes.PendingOp, error) {
	return q.list(ctx, boardID, datatypes.StatusPending)
}

// Failed returns the board's terminally failed ops in enqueue order.
func (q *Queue) Failed(ctx context.Context, boardID string) ([]datatypes.PendingOp, error) {
	return q.list(ctx, boardID, datatypes.StatusFailed)
}

func (q *Queue) list(ctx context.Context, boardID string, status datatypes.OpStatus) ([]datatypes.PendingOp, error) {
	var out []datatypes.PendingOp
	prefix := opPrefix(boardID)
	err := q.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var op datatypes.PendingOp
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &op)
			})
			if err != nil {
				// A corrupt entry is logged and skipped; one bad record
				// must not wedge the whole queue.
				q.logger.Warn("skipping undecodable outbox entry",
					slog.String("board_id", boardID),
					slog.String("key", string(it.Item().Key())),
					slog.String("error", err.Error()))
				continue
			}
			if op.Status == status {
				out = append(out, op)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list outbox for board %s: %w", boardID, err)
	}
	return out, nil
}

// MarkAcked removes an acknowledged op from the durable queue.
func (q *Queue) MarkAcked(ctx context.Context, opID string) error {
	var boardID string
	err := q.db.WithUpdateTxn(ctx, func(txn *dgbadger.Txn) error {
		key, op, err := q.lookup(txn, opID)
		if err != nil {
			return err
		}
		boardID = op.BoardID
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(idxKey(opID))
	})
	if err != nil {
		return err
	}
	metricPending.WithLabelValues(boardID).Dec()
	return nil
}

// MarkFailed marks an op as terminally failed. The entry is retained
// with its reason so the failure stays attributable; it is excluded from
// Pending and never sent again.
func (q *Queue) MarkFailed(ctx context.Context, opID, reason string) error {
	var boardID string
	err := q.db.WithUpdateTxn(ctx, func(txn *dgbadger.Txn) error {
		key, op, err := q.lookup(txn, opID)
		if err != nil {
			return err
		}
		boardID = op.BoardID
		op.Status = datatypes.StatusFailed
		op.FailureReason = reason
		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("encode op: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return err
	}
	metricPending.WithLabelValues(boardID).Dec()
	metricFailed.WithLabelValues(boardID).Inc()
	q.logger.Warn("op permanently failed",
		slog.String("board_id", boardID),
		slog.String("op_id", opID),
		slog.String("reason", reason))
	return nil
}

func (q *Queue) lookup(txn *dgbadger.Txn, opID string) ([]byte, datatypes.PendingOp, error) {
	var op datatypes.PendingOp
	item, err := txn.Get(idxKey(opID))
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return nil, op, fmt.Errorf("%w: %s", ErrOpNotFound, opID)
	}
	if err != nil {
		return nil, op, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return nil, op, err
	}
	item, err = txn.Get(key)
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return nil, op, fmt.Errorf("%w: %s", ErrOpNotFound, opID)
	}
	if err != nil {
		return nil, op, err
	}
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &op) }); err != nil {
		return nil, op, fmt.Errorf("decode op %s: %w", opID, err)
	}
	return key, op, nil
}

// ClearPending removes every pending op for a board. Used only by
// full-state restore, which supersedes any in-flight edits. Failed ops
// are kept for inspection.
func (q *Queue) ClearPending(ctx context.Context, boardID string) error {
	prefix := opPrefix(boardID)
	err := q.db.WithUpdateTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var deleteKeys [][]byte
		var deleteIdx []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var op datatypes.PendingOp
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &op) }); err != nil {
				continue
			}
			if op.Status != datatypes.StatusPending {
				continue
			}
			deleteKeys = append(deleteKeys, it.Item().KeyCopy(nil))
			deleteIdx = append(deleteIdx, op.OpID)
		}
		for _, key := range deleteKeys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for _, id := range deleteIdx {
			if err := txn.Delete(idxKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear pending for board %s: %w", boardID, err)
	}
	metricPending.WithLabelValues(boardID).Set(0)
	return nil
}

// Counts returns the pending and failed totals for a board and keeps the
// exported gauges honest.
func (q *Queue) Counts(ctx context.Context, boardID string) (Counts, error) {
	var c Counts
	prefix := opPrefix(boardID)
	err := q.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var op datatypes.PendingOp
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &op) }); err != nil {
				continue
			}
			switch op.Status {
			case datatypes.StatusPending:
				c.Pending++
			case datatypes.StatusFailed:
				c.Failed++
			}
		}
		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("count outbox for board %s: %w", boardID, err)
	}
	metricPending.WithLabelValues(boardID).Set(float64(c.Pending))
	metricFailed.WithLabelValues(boardID).Set(float64(c.Failed))
	return c, nil
}

// nextSeq hands out the next sequence number for a board, recovering the
// counter from storage on first use after a restart.
func (q *Queue) nextSeq(ctx context.Context, boardID string) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.seqs[boardID]; !ok {
		last, err := q.lastSeq(ctx, boardID)
		if err != nil {
			return 0, err
		}
		q.seqs[boardID] = last
	}
	q.seqs[boardID]++
	return q.seqs[boardID], nil
}

// lastSeq reverse-scans the board prefix for the highest used sequence
// number, zero when the board has no entries.
func (q *Queue) lastSeq(ctx context.Context, boardID string) (uint64, error) {
	prefix := opPrefix(boardID)
	var last uint64
	err := q.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		it.Seek(seek)
		if it.ValidForPrefix(prefix) {
			key := it.Item().Key()
			var seq uint64
			if _, err := fmt.Sscanf(string(key[len(prefix):]), "%016d", &seq); err == nil {
				last = seq
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recover sequence for board %s: %w", boardID, err)
	}
	return last, nil
}
