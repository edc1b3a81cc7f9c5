// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session ties the sync core together: one Controller per open
// board loads the cached snapshot for instant paint, fetches the
// authoritative snapshot, rebases any still-pending local ops on top of
// it, subscribes to the realtime channel, and runs a fixed-interval
// drain loop that pushes the outbox to the server and recomputes
// connectivity.
//
// All local mutations go through PersistAdd / PersistUpdate /
// PersistRemove: they apply optimistically to the in-memory scene,
// enqueue a durable PendingOp, and return immediately. The network only
// ever sees ops through the drain loop, sequentially and in FIFO order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/swifttarrow/collabBoard-sub000/pkg/logging"
	"github.com/swifttarrow/collabBoard-sub000/pkg/validation"
	"github.com/swifttarrow/collabBoard-sub000/services/board/connectivity"
	"github.com/swifttarrow/collabBoard-sub000/services/board/datatypes"
	"github.com/swifttarrow/collabBoard-sub000/services/board/ops"
	"github.com/swifttarrow/collabBoard-sub000/services/board/outbox"
	"github.com/swifttarrow/collabBoard-sub000/services/board/scene"
	"github.com/swifttarrow/collabBoard-sub000/services/board/snapcache"
	"github.com/swifttarrow/collabBoard-sub000/services/board/transport"
)

var (
	// ErrSessionOpen is returned by Open when a board is already bound.
	ErrSessionOpen = errors.New("session already open; close it first")

	// ErrNoSession is returned by mutation calls before Open.
	ErrNoSession = errors.New("no open session")
)

// DefaultDrainInterval is how often the drain loop wakes up.
const DefaultDrainInterval = 2 * time.Second

// Backend is the authoritative store the session syncs against.
// *transport.Client satisfies it.
type Backend interface {
	FetchSnapshot(ctx context.Context, boardID string) (*datatypes.Snapshot, error)
	SubmitOp(ctx context.Context, op datatypes.PendingOp) transport.SendResult
}

// RealtimeChannel is one board-scoped broadcast subscription.
// *transport.Realtime satisfies it.
type RealtimeChannel interface {
	Connect(ctx context.Context) error
	Connected() bool
	DisconnectedSince() *time.Time
	Messages() <-chan datatypes.RealtimeMessage
	Publish(ctx context.Context, msg datatypes.RealtimeMessage) error
	Close() error
}

// RealtimeFactory opens a channel for one board. Called once per Open.
type RealtimeFactory func(boardID string) (RealtimeChannel, error)

// Config wires a Controller.
type Config struct {
	// ClientID identifies this client on every op and broadcast.
	ClientID string

	Backend  Backend
	Realtime RealtimeFactory
	Outbox   *outbox.Queue
	Cache    *snapcache.Cache

	// Connectivity holds the classification thresholds; zero value
	// means connectivity.DefaultConfig.
	Connectivity connectivity.Config

	// DrainInterval defaults to DefaultDrainInterval.
	DrainInterval time.Duration

	Logger *logging.Logger

	// OnCollaborator receives viewport_command and find_result
	// messages verbatim. The core carries them but never interprets
	// them. Optional.
	OnCollaborator func(datatypes.RealtimeMessage)
}

// Validate checks that the required collaborators are present.
func (c Config) Validate() error {
	if err := validation.ValidateClientID(c.ClientID); err != nil {
		return err
	}
	if c.Backend == nil {
		return errors.New("session: Backend is required")
	}
	if c.Realtime == nil {
		return errors.New("session: Realtime factory is required")
	}
	if c.Outbox == nil {
		return errors.New("session: Outbox is required")
	}
	if c.Cache == nil {
		return errors.New("session: Cache is required")
	}
	return nil
}

// Controller orchestrates sync for at most one open board at a time.
// The scene and snapshot are guarded by mu; the drain loop and the
// realtime message loop run on their own goroutines and check the
// session generation before touching shared state, so results of
// network calls that outlive a Close are discarded.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	status *connectivity.Status

	// generation increments on every Open and Close. Async completions
	// carry the generation they started under and are dropped when it
	// no longer matches.
	generation atomic.Uint64

	// online mirrors the host's navigator.onLine signal.
	online atomic.Bool

	// draining is the in-flight guard: the drain interval can be
	// shorter than one network round trip, and overlapping passes
	// would send the same op twice.
	draining atomic.Bool

	mu       sync.Mutex
	boardID  string
	snap     datatypes.Snapshot
	graph    *scene.Graph
	realtime RealtimeChannel
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	recentErrors int
	windowStart  time.Time
	lastMessage  string
}

// NewController returns an unopened controller.
//
// Inputs: cfg — see Config; Validate is called on Open, not here.
// Outputs: a Controller whose Status() is observable immediately.
func NewController(cfg Config) *Controller {
	if cfg.Connectivity == (connectivity.Config{}) {
		cfg.Connectivity = connectivity.DefaultConfig()
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	c := &Controller{
		cfg:    cfg,
		logger: cfg.Logger.Slog().With(slog.String("component", "session")),
		status: connectivity.NewStatus(),
	}
	c.online.Store(true)
	return c
}

// Status exposes the observable connectivity snapshot for the UI.
func (c *Controller) Status() *connectivity.Status { return c.status }

// SetOnline injects the host's network-reachability signal and
// recomputes connectivity. The zero-state is online.
func (c *Controller) SetOnline(v bool) {
	c.online.Store(v)
	c.recomputeConnectivity(context.Background())
}

// BoardID returns the currently open board, empty when closed.
func (c *Controller) BoardID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boardID
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Open binds the controller to a board: paint from cache, fetch the
// authoritative snapshot, rebase pending ops onto the freshest base,
// subscribe to realtime and start the drain loop.
//
// A fetch failure is not fatal: the session opens from cache (or empty)
// and the drain loop reconciles once the server is reachable again.
func (c *Controller) Open(ctx context.Context, boardID string) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if err := validation.ValidateBoardID(boardID); err != nil {
		return err
	}

	c.mu.Lock()
	if c.boardID != "" {
		c.mu.Unlock()
		return ErrSessionOpen
	}
	gen := c.generation.Add(1)
	c.boardID = boardID
	c.snap = datatypes.Snapshot{Objects: map[string]datatypes.BoardObjectWithMeta{}}
	c.graph = scene.New()
	c.recentErrors = 0
	c.lastMessage = ""
	c.mu.Unlock()

	c.status.Reset()
	logger := c.logger.With(slog.String("board_id", boardID))

	// Paint from the local cache while the authoritative snapshot is
	// in flight; whichever pending local ops survive get rebased onto
	// the freshest base that arrives.
	var fetched *datatypes.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cached, err := c.cfg.Cache.Load(gctx, boardID)
		switch {
		case err == nil:
			c.adoptSnapshot(gen, cached.Snapshot)
			logger.Info("painted from cache",
				slog.Int("objects", len(cached.Objects)),
				slog.Int64("revision", cached.Revision))
		case !errors.Is(err, snapcache.ErrNoSnapshot):
			logger.Warn("cache load failed", slog.String("error", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		var err error
		fetched, err = c.cfg.Backend.FetchSnapshot(gctx, boardID)
		if err != nil {
			logger.Warn("snapshot fetch failed, opening from cache",
				slog.String("error", err.Error()))
			c.recordError(time.Now())
			fetched = nil
		}
		return nil
	})
	g.Wait()

	pending, perr := c.cfg.Outbox.Pending(ctx, boardID)
	if perr != nil {
		c.close(gen)
		return fmt.Errorf("read outbox: %w", perr)
	}

	switch {
	case fetched != nil && len(pending) > 0:
		c.adoptSnapshot(gen, ops.ApplyAll(pending, *fetched))
		logger.Info("rebased pending ops onto fetched snapshot",
			slog.Int("pending", len(pending)),
			slog.Int64("revision", fetched.Revision))
	case fetched != nil:
		c.adoptSnapshot(gen, *fetched)
		if err := c.cfg.Cache.Save(ctx, boardID, *fetched); err != nil {
			logger.Warn("cache save failed", slog.String("error", err.Error()))
		}
	case len(pending) > 0:
		// Offline open: replay onto whatever the cache gave us.
		c.mu.Lock()
		base := c.snap
		c.mu.Unlock()
		c.adoptSnapshot(gen, ops.ApplyAll(pending, base))
		logger.Info("rebased pending ops onto cached snapshot",
			slog.Int("pending", len(pending)))
	}

	rt, err := c.cfg.Realtime(boardID)
	if err != nil {
		c.close(gen)
		return fmt.Errorf("open realtime channel: %w", err)
	}
	if err := rt.Connect(ctx); err != nil {
		rt.Close()
		c.close(gen)
		return fmt.Errorf("connect realtime channel: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.realtime = rt
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(2)
	go c.drainLoop(loopCtx, gen)
	go c.messageLoop(loopCtx, gen, rt)

	c.recomputeConnectivity(ctx)
	logger.Info("session open", slog.Int("pending", len(pending)))
	return nil
}

// Close tears down timers and the realtime subscription and bumps the
// generation so any in-flight async result is discarded. Idempotent.
func (c *Controller) Close() {
	c.close(c.generation.Load())
}

func (c *Controller) close(gen uint64) {
	c.mu.Lock()
	if c.boardID == "" || c.generation.Load() != gen {
		c.mu.Unlock()
		return
	}
	c.generation.Add(1)
	boardID := c.boardID
	c.boardID = ""
	c.graph = nil
	c.snap = datatypes.Snapshot{}
	rt := c.realtime
	c.realtime = nil
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if rt != nil {
		rt.Close()
	}
	c.wg.Wait()
	c.status.Reset()
	c.logger.Info("session closed", slog.String("board_id", boardID))
}

// adoptSnapshot replaces the local state wholesale, guarded by gen.
func (c *Controller) adoptSnapshot(gen uint64, snap datatypes.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation.Load() != gen {
		return
	}
	if snap.Objects == nil {
		snap.Objects = map[string]datatypes.BoardObjectWithMeta{}
	}
	c.snap = snap
	c.graph = scene.NewFromSnapshot(snap)
}

// -----------------------------------------------------------------------------
// Scene access
// -----------------------------------------------------------------------------

// Object returns a copy of one object with its sync metadata.
func (c *Controller) Object(id string) (datatypes.BoardObjectWithMeta, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.snap.Objects[id]
	if !ok {
		return datatypes.BoardObjectWithMeta{}, false
	}
	return obj.Clone(), true
}

// Snapshot returns a deep copy of the current local state.
func (c *Controller) Snapshot() datatypes.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

// Revision returns the last server revision this session has seen.
func (c *Controller) Revision() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Revision
}

// ReadScene runs fn against the live scene graph under the session
// lock. fn must not retain the graph or block.
func (c *Controller) ReadScene(fn func(*scene.Graph)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graph == nil {
		return ErrNoSession
	}
	fn(c.graph)
	return nil
}

// -----------------------------------------------------------------------------
// Mutation API
// -----------------------------------------------------------------------------

// PersistAdd creates an object: optimistic scene insert, durable
// enqueue, connectivity recompute. Returns the created op.
func (c *Controller) PersistAdd(ctx context.Context, obj datatypes.BoardObject) (datatypes.PendingOp, error) {
	if err := validation.ValidateObjectID(obj.ID); err != nil {
		return datatypes.PendingOp{}, err
	}

	c.mu.Lock()
	if c.boardID == "" {
		c.mu.Unlock()
		return datatypes.PendingOp{}, ErrNoSession
	}
	meta := datatypes.BoardObjectWithMeta{
		BoardObject: obj.Clone(),
		UpdatedAt:   datatypes.Timestamp(time.Now()),
		BoardID:     c.boardID,
	}
	op := ops.NewCreate(meta, c.cfg.ClientID, c.snap.Revision)
	c.snap.Objects[obj.ID] = meta
	c.graph.Upsert(obj)
	c.mu.Unlock()

	if err := c.cfg.Outbox.Enqueue(ctx, op); err != nil {
		return datatypes.PendingOp{}, fmt.Errorf("enqueue create: %w", err)
	}
	c.recomputeConnectivity(ctx)
	return op, nil
}

// PersistUpdate patches an object. A no-op (false, nil) when the id is
// unknown locally.
func (c *Controller) PersistUpdate(ctx context.Context, id string, patch datatypes.ObjectPatch) (bool, error) {
	if patch.IsZero() {
		return false, nil
	}

	c.mu.Lock()
	if c.boardID == "" {
		c.mu.Unlock()
		return false, ErrNoSession
	}
	cur, ok := c.snap.Objects[id]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	if patch.ParentID != nil {
		var target *string
		if patch.ParentID.Valid {
			v := patch.ParentID.Value
			target = &v
		}
		if c.graph.WouldCreateCycle(id, target) {
			c.mu.Unlock()
			return false, fmt.Errorf("reparent %q would create a cycle", id)
		}
	}
	next := cur.Clone()
	patch.ApplyTo(&next.BoardObject)
	next.UpdatedAt = datatypes.Timestamp(time.Now())
	op := ops.NewUpdate(c.boardID, id, patch, c.cfg.ClientID, c.snap.Revision)
	c.snap.Objects[id] = next
	c.graph.Patch(id, patch)
	c.mu.Unlock()

	if err := c.cfg.Outbox.Enqueue(ctx, op); err != nil {
		return false, fmt.Errorf("enqueue update: %w", err)
	}
	c.recomputeConnectivity(ctx)
	return true, nil
}

// PersistRemove deletes an object. Children of a removed frame are
// re-parented to the frame's own parent first, as explicit update ops,
// so the server and other clients converge on the same tree.
func (c *Controller) PersistRemove(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	if c.boardID == "" {
		c.mu.Unlock()
		return false, ErrNoSession
	}
	cur, ok := c.snap.Objects[id]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}

	var enqueue []datatypes.PendingOp
	for _, child := range c.graph.Children(&id) {
		patch := datatypes.ObjectPatch{ParentID: datatypes.NullStringNull()}
		if cur.ParentID != nil {
			patch.ParentID = datatypes.SomeString(*cur.ParentID)
		}
		next := c.snap.Objects[child.ID].Clone()
		patch.ApplyTo(&next.BoardObject)
		next.UpdatedAt = datatypes.Timestamp(time.Now())
		c.snap.Objects[child.ID] = next
		enqueue = append(enqueue, ops.NewUpdate(c.boardID, child.ID, patch, c.cfg.ClientID, c.snap.Revision))
	}
	enqueue = append(enqueue, ops.NewDelete(c.boardID, id, c.cfg.ClientID, c.snap.Revision))
	delete(c.snap.Objects, id)
	c.graph.Remove(id)
	c.mu.Unlock()

	for _, op := range enqueue {
		if err := c.cfg.Outbox.Enqueue(ctx, op); err != nil {
			return false, fmt.Errorf("enqueue %s: %w", op.Type, err)
		}
	}
	c.recomputeConnectivity(ctx)
	return true, nil
}

// -----------------------------------------------------------------------------
// Drain loop
// -----------------------------------------------------------------------------

func (c *Controller) drainLoop(ctx context.Context, gen uint64) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.drainOutbox(ctx, gen)
		}
	}
}

// DrainNow runs one drain pass immediately, outside the ticker. Used by
// tests and by callers that want to flush before navigating away.
func (c *Controller) DrainNow(ctx context.Context) {
	c.drainOutbox(ctx, c.generation.Load())
}

// drainOutbox runs one send pass: sequential, FIFO, stopping at the
// first transient failure so a stuck op never lets a later one pass it.
// Exactly one pass runs at a time; ticks that land mid-pass are
// skipped.
func (c *Controller) drainOutbox(ctx context.Context, gen uint64) {
	if !c.draining.CompareAndSwap(false, true) {
		return
	}
	defer c.draining.Store(false)
	defer c.recomputeConnectivity(ctx)

	c.mu.Lock()
	boardID := c.boardID
	rt := c.realtime
	c.mu.Unlock()
	if boardID == "" || c.generation.Load() != gen {
		return
	}
	if !c.online.Load() || rt == nil || !rt.Connected() {
		return
	}

	counts, err := c.cfg.Outbox.Counts(ctx, boardID)
	if err != nil {
		c.logger.Warn("outbox count failed", slog.String("error", err.Error()))
		return
	}
	if outbox.Advice(counts) == outbox.AdviceCritical {
		c.setMessage(outbox.AdviceMessage(counts))
		c.logger.Warn("drain refused, backlog past critical threshold",
			slog.String("board_id", boardID),
			slog.Int("pending", counts.Pending))
		return
	}

	pending, err := c.cfg.Outbox.Pending(ctx, boardID)
	if err != nil {
		c.logger.Warn("outbox read failed", slog.String("error", err.Error()))
		return
	}
	if len(pending) == 0 {
		return
	}

	sent := 0
	for _, op := range pending {
		res := c.cfg.Backend.SubmitOp(ctx, op)
		switch res.Outcome {
		case transport.OutcomeOK:
			if err := c.cfg.Outbox.MarkAcked(ctx, op.OpID); err != nil {
				c.logger.Warn("ack bookkeeping failed",
					slog.String("op_id", op.OpID),
					slog.String("error", err.Error()))
			}
			c.commitAck(ctx, gen, op, res.Revision, rt)
			sent++

		case transport.OutcomeTransient:
			// Retried on the next tick. Later ops must wait so they
			// are never applied server-side ahead of this one.
			c.recordError(time.Now())
			c.setMessage("sync paused: " + transientReason(res))
			c.logger.Info("drain paused on transient failure",
				slog.String("op_id", op.OpID),
				slog.Int("sent", sent),
				slog.Int("remaining", len(pending)-sent))
			return

		default: // OutcomeAuthFailed, OutcomeRejected — terminal.
			reason := res.Reason
			if reason == "" {
				reason = res.Outcome.String()
			}
			if err := c.cfg.Outbox.MarkFailed(ctx, op.OpID, reason); err != nil {
				c.logger.Warn("failure bookkeeping failed",
					slog.String("op_id", op.OpID),
					slog.String("error", err.Error()))
			}
			c.recordError(time.Now())
			c.setMessage(fmt.Sprintf("change rejected: %s", reason))
			c.logger.Warn("op permanently failed",
				slog.String("op_id", op.OpID),
				slog.String("outcome", res.Outcome.String()),
				slog.String("reason", reason))
		}
	}

	// The pass emptied the queue: re-fetch the authoritative snapshot
	// and replace local state and cache wholesale. This is the
	// reconciliation barrier that discards residual local drift.
	c.reconcile(ctx, gen, boardID)
}

// commitAck records a successful send: revision bookkeeping, then the
// board_objects broadcast. The broadcast happens only after the server
// commit so other clients never observe writes the server might still
// reject.
func (c *Controller) commitAck(ctx context.Context, gen uint64, op datatypes.PendingOp, revision int64, rt RealtimeChannel) {
	var msg *datatypes.BoardObjectsMessage

	c.mu.Lock()
	if c.generation.Load() == gen {
		if revision > c.snap.Revision {
			c.snap.Revision = revision
		}
		switch op.Type {
		case datatypes.OpCreate:
			if obj, ok := c.snap.Objects[op.Payload.Object.ID]; ok {
				o := obj.Clone()
				msg = &datatypes.BoardObjectsMessage{Op: datatypes.BroadcastInsert, Object: &o}
			}
		case datatypes.OpUpdate:
			if obj, ok := c.snap.Objects[op.Payload.TargetID]; ok {
				o := obj.Clone()
				msg = &datatypes.BoardObjectsMessage{Op: datatypes.BroadcastUpdate, Object: &o, UpdatedAt: o.UpdatedAt}
			}
		case datatypes.OpDelete:
			msg = &datatypes.BoardObjectsMessage{Op: datatypes.BroadcastDelete, ID: op.Payload.TargetID}
		}
	}
	c.mu.Unlock()

	if msg == nil {
		return
	}
	msg.SentAt = time.Now().UnixMilli()
	err := rt.Publish(ctx, datatypes.RealtimeMessage{
		Kind:    datatypes.KindBoardObjects,
		BoardID: op.BoardID,
		Objects: msg,
	})
	if err != nil {
		c.logger.Warn("broadcast failed", slog.String("op_id", op.OpID),
			slog.String("error", err.Error()))
	}
}

func (c *Controller) reconcile(ctx context.Context, gen uint64, boardID string) {
	fetched, err := c.cfg.Backend.FetchSnapshot(ctx, boardID)
	if err != nil {
		c.recordError(time.Now())
		c.logger.Warn("reconciliation fetch failed", slog.String("error", err.Error()))
		return
	}
	c.adoptSnapshot(gen, *fetched)
	if c.generation.Load() != gen {
		return
	}
	if err := c.cfg.Cache.Save(ctx, boardID, *fetched); err != nil {
		c.logger.Warn("cache save failed", slog.String("error", err.Error()))
	}
	c.setMessage("")
	c.logger.Debug("reconciled against authoritative snapshot",
		slog.Int64("revision", fetched.Revision))
}

func transientReason(res transport.SendResult) string {
	if res.Err != nil {
		return res.Err.Error()
	}
	return "server unavailable"
}

// -----------------------------------------------------------------------------
// Remote merge
// -----------------------------------------------------------------------------

func (c *Controller) messageLoop(ctx context.Context, gen uint64, rt RealtimeChannel) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-rt.Messages():
			if !ok {
				return
			}
			c.handleMessage(ctx, gen, msg)
		}
	}
}

func (c *Controller) handleMessage(ctx context.Context, gen uint64, msg datatypes.RealtimeMessage) {
	c.mu.Lock()
	boardID := c.boardID
	c.mu.Unlock()
	if msg.BoardID != "" && msg.BoardID != boardID {
		// A channel should never leak cross-board traffic, but a
		// misapplied message corrupts the scene, so drop and log.
		c.logger.Warn("dropped cross-board message",
			slog.String("message_board", msg.BoardID),
			slog.String("session_board", boardID))
		return
	}

	switch msg.Kind {
	case datatypes.KindBoardObjects:
		if msg.Objects == nil {
			return
		}
		c.mergeRemote(gen, *msg.Objects)
		c.recomputeConnectivity(ctx)
	case datatypes.KindViewportCommand, datatypes.KindFindResult:
		if c.cfg.OnCollaborator != nil {
			c.cfg.OnCollaborator(msg)
		}
	default:
		c.logger.Debug("ignored unknown message kind", slog.String("kind", string(msg.Kind)))
	}
}

// mergeRemote applies one broadcast with last-writer-wins semantics:
// DELETE is terminal and unconditional; INSERT/UPDATE apply only when
// the message carries a strictly newer _updatedAt than the local copy
// (or the id is unknown). A stale message is dropped silently — that is
// the conflict policy, not an error.
func (c *Controller) mergeRemote(gen uint64, m datatypes.BoardObjectsMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation.Load() != gen {
		return
	}

	switch m.Op {
	case datatypes.BroadcastDelete:
		id := m.ID
		if id == "" && m.Object != nil {
			id = m.Object.ID
		}
		if id == "" {
			return
		}
		delete(c.snap.Objects, id)
		c.graph.Remove(id)

	case datatypes.BroadcastInsert, datatypes.BroadcastUpdate:
		if m.Object == nil {
			return
		}
		incoming := m.Object.Clone()
		if incoming.UpdatedAt == "" {
			incoming.UpdatedAt = m.UpdatedAt
		}
		if local, ok := c.snap.Objects[incoming.ID]; ok {
			if !datatypes.NewerThan(incoming.UpdatedAt, local.UpdatedAt) {
				return
			}
		}
		c.snap.Objects[incoming.ID] = incoming
		c.graph.Upsert(incoming.BoardObject)
	}
}

// -----------------------------------------------------------------------------
// Connectivity
// -----------------------------------------------------------------------------

// recordError bumps the rolling error counter, restarting the window
// when the previous one has lapsed.
func (c *Controller) recordError(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.windowStart) > c.cfg.Connectivity.ErrorWindow {
		c.recentErrors = 0
		c.windowStart = now
	}
	c.recentErrors++
}

func (c *Controller) setMessage(msg string) {
	c.mu.Lock()
	c.lastMessage = msg
	c.mu.Unlock()
}

// recomputeConnectivity reclassifies sync health from the current
// signals and publishes it. Called on every tick, after every send
// attempt, and after every local mutation.
func (c *Controller) recomputeConnectivity(ctx context.Context) {
	c.mu.Lock()
	boardID := c.boardID
	rt := c.realtime
	revision := c.snap.Revision
	errs := c.recentErrors
	windowStart := c.windowStart
	message := c.lastMessage
	c.mu.Unlock()
	if boardID == "" {
		return
	}

	counts, err := c.cfg.Outbox.Counts(ctx, boardID)
	if err != nil {
		c.logger.Warn("outbox count failed", slog.String("error", err.Error()))
	}

	in := connectivity.Inputs{
		NavigatorOnline: c.online.Load(),
		PendingCount:    counts.Pending,
		RecentErrors:    errs,
		WindowStart:     windowStart,
	}
	if rt != nil {
		in.RealtimeConnected = rt.Connected()
		in.RealtimeDisconnectedSince = rt.DisconnectedSince()
	}

	if message == "" {
		if advisory := outbox.AdviceMessage(counts); advisory != "" {
			message = advisory
		}
	}

	c.status.Set(connectivity.StatusSnapshot{
		State:           connectivity.Classify(in, c.cfg.Connectivity, time.Now()),
		PendingCount:    counts.Pending,
		FailedCount:     counts.Failed,
		ServerRevision:  revision,
		LastSyncMessage: message,
	})
}
