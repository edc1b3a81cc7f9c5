// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package boardserver

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swifttarrow/collabBoard-sub000/services/board/datatypes"
	"github.com/swifttarrow/collabBoard-sub000/services/board/ops"
	"github.com/swifttarrow/collabBoard-sub000/services/board/outbox"
	"github.com/swifttarrow/collabBoard-sub000/services/board/session"
	"github.com/swifttarrow/collabBoard-sub000/services/board/snapcache"
	storagebadger "github.com/swifttarrow/collabBoard-sub000/services/board/storage/badger"
	"github.com/swifttarrow/collabBoard-sub000/services/board/transport"
)

func sticky(id string, x, y float64) datatypes.BoardObjectWithMeta {
	return datatypes.BoardObjectWithMeta{
		BoardObject: datatypes.BoardObject{ID: id, Type: datatypes.ObjectSticky, X: x, Y: y, Width: 100, Height: 100},
		BoardID:     "b1",
	}
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

func TestStore_ApplyAssignsRevisions(t *testing.T) {
	s := NewStore(nil)

	rev, err := s.Apply(ops.NewCreate(sticky("s1", 1, 1), "c1", 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	rev, err = s.Apply(ops.NewUpdate("b1", "s1", datatypes.ObjectPatch{X: datatypes.Float64Ptr(9)}, "c1", 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	snap := s.Snapshot("b1")
	assert.Equal(t, int64(2), snap.Revision)
	assert.Equal(t, 9.0, snap.Objects["s1"].X)
	assert.NotEmpty(t, snap.Objects["s1"].UpdatedAt, "server stamps write times")
}

func TestStore_IdempotentResubmission(t *testing.T) {
	s := NewStore(nil)
	op := ops.NewCreate(sticky("s1", 1, 1), "c1", 0)

	rev1, err := s.Apply(op)
	require.NoError(t, err)
	rev2, err := s.Apply(op)
	require.NoError(t, err)
	assert.Equal(t, rev1, rev2, "same idempotency key returns the original revision")
	assert.Equal(t, int64(1), s.Snapshot("b1").Revision, "duplicate does not advance the counter")
}

func TestStore_UpdateUnknownTargetRejected(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Apply(ops.NewUpdate("b1", "ghost", datatypes.ObjectPatch{X: datatypes.Float64Ptr(1)}, "c1", 0))
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Apply(ops.NewCreate(sticky("s1", 1, 1), "c1", 0))
	require.NoError(t, err)

	_, err = s.Apply(ops.NewDelete("b1", "s1", "c1", 1))
	require.NoError(t, err)
	_, err = s.Apply(ops.NewDelete("b1", "s1", "c2", 1))
	require.NoError(t, err, "racing deletes both succeed")
	assert.Equal(t, 0, s.ObjectCount("b1"))
}

// -----------------------------------------------------------------------------
// REST surface
// -----------------------------------------------------------------------------

func newTestServer(t *testing.T, token string) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(Config{AuthToken: token})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestServer_SnapshotAndSubmit(t *testing.T) {
	_, ts := newTestServer(t, "")
	client, err := transport.NewClient(transport.ClientConfig{BaseURL: ts.URL})
	require.NoError(t, err)

	res := client.SubmitOp(context.Background(), ops.NewCreate(sticky("s1", 1, 2), "c1", 0))
	require.Equal(t, transport.OutcomeOK, res.Outcome)
	assert.Equal(t, int64(1), res.Revision)

	snap, err := client.FetchSnapshot(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Revision)
	require.Contains(t, snap.Objects, "s1")
	assert.Equal(t, 1.0, snap.Objects["s1"].X)
}

func TestServer_RejectionBands(t *testing.T) {
	_, ts := newTestServer(t, "")
	client, err := transport.NewClient(transport.ClientConfig{BaseURL: ts.URL})
	require.NoError(t, err)

	// Update against an object that does not exist: terminal rejection.
	res := client.SubmitOp(context.Background(),
		ops.NewUpdate("b1", "ghost", datatypes.ObjectPatch{X: datatypes.Float64Ptr(1)}, "c1", 0))
	assert.Equal(t, transport.OutcomeRejected, res.Outcome)
	assert.Contains(t, res.Reason, "not found")
	assert.True(t, res.Terminal())
}

func TestServer_AuthToken(t *testing.T) {
	_, ts := newTestServer(t, "sekrit")

	noAuth, err := transport.NewClient(transport.ClientConfig{BaseURL: ts.URL})
	require.NoError(t, err)
	res := noAuth.SubmitOp(context.Background(), ops.NewCreate(sticky("s1", 1, 1), "c1", 0))
	assert.Equal(t, transport.OutcomeAuthFailed, res.Outcome)
	_, err = noAuth.FetchSnapshot(context.Background(), "b1")
	assert.Error(t, err)

	authed, err := transport.NewClient(transport.ClientConfig{BaseURL: ts.URL, AuthToken: "sekrit"})
	require.NoError(t, err)
	res = authed.SubmitOp(context.Background(), ops.NewCreate(sticky("s1", 1, 1), "c1", 0))
	assert.Equal(t, transport.OutcomeOK, res.Outcome)
}

// -----------------------------------------------------------------------------
// Hub
// -----------------------------------------------------------------------------

func dialRealtime(t *testing.T, baseURL, boardID, clientID string) *transport.Realtime {
	t.Helper()
	rt, err := transport.NewRealtime(transport.RealtimeConfig{
		BaseURL:        baseURL,
		BoardID:        boardID,
		ClientID:       clientID,
		ReconnectDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	require.NoError(t, rt.Connect(context.Background()))
	require.Eventually(t, rt.Connected, 2*time.Second, 10*time.Millisecond)
	return rt
}

func TestHub_NoSelfEchoAndBoardScoping(t *testing.T) {
	srv, ts := newTestServer(t, "")

	sender := dialRealtime(t, ts.URL, "b1", "c1")
	peer := dialRealtime(t, ts.URL, "b1", "c2")
	otherBoard := dialRealtime(t, ts.URL, "b2", "c3")

	require.Eventually(t, func() bool {
		return srv.hub.SubscriberCount("b1") == 2 && srv.hub.SubscriberCount("b2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	o := sticky("s1", 1, 1)
	o.UpdatedAt = datatypes.Timestamp(time.Now())
	require.NoError(t, sender.Publish(context.Background(), datatypes.RealtimeMessage{
		Kind:    datatypes.KindBoardObjects,
		BoardID: "b1",
		Objects: &datatypes.BoardObjectsMessage{Op: datatypes.BroadcastInsert, Object: &o},
	}))

	select {
	case msg := <-peer.Messages():
		assert.Equal(t, "c1", msg.SenderID)
		assert.Equal(t, "b1", msg.BoardID)
		require.NotNil(t, msg.Objects)
		assert.Equal(t, "s1", msg.Objects.Object.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the broadcast")
	}

	select {
	case msg := <-sender.Messages():
		t.Fatalf("sender received its own broadcast: %+v", msg)
	case msg := <-otherBoard.Messages():
		t.Fatalf("subscriber of another board received the broadcast: %+v", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

// -----------------------------------------------------------------------------
// End to end: two sessions against one server
// -----------------------------------------------------------------------------

func newSession(t *testing.T, baseURL, clientID string) *session.Controller {
	t.Helper()
	db, err := storagebadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	client, err := transport.NewClient(transport.ClientConfig{BaseURL: baseURL})
	require.NoError(t, err)

	ctrl := session.NewController(session.Config{
		ClientID: clientID,
		Backend:  client,
		Realtime: func(boardID string) (session.RealtimeChannel, error) {
			return transport.NewRealtime(transport.RealtimeConfig{
				BaseURL:        baseURL,
				BoardID:        boardID,
				ClientID:       clientID,
				ReconnectDelay: 50 * time.Millisecond,
			})
		},
		Outbox:        outbox.New(db, nil),
		Cache:         snapcache.New(db, nil),
		DrainInterval: time.Hour,
	})
	t.Cleanup(ctrl.Close)
	return ctrl
}

func TestEndToEnd_EditPropagatesBetweenClients(t *testing.T) {
	srv, ts := newTestServer(t, "")

	alice := newSession(t, ts.URL, "alice")
	bob := newSession(t, ts.URL, "bob")
	require.NoError(t, alice.Open(context.Background(), "b1"))
	require.NoError(t, bob.Open(context.Background(), "b1"))

	require.Eventually(t, func() bool {
		return srv.hub.SubscriberCount("b1") == 2
	}, 2*time.Second, 10*time.Millisecond)

	_, err := alice.PersistAdd(context.Background(),
		datatypes.BoardObject{ID: "s1", Type: datatypes.ObjectSticky, X: 10, Y: 20, Width: 100, Height: 100})
	require.NoError(t, err)

	alice.DrainNow(context.Background())

	// The server committed the op...
	assert.Equal(t, 1, srv.Store().ObjectCount("b1"))
	assert.Equal(t, int64(1), alice.Revision())

	// ...and bob converges through the post-commit broadcast.
	require.Eventually(t, func() bool {
		got, ok := bob.Object("s1")
		return ok && got.X == 10
	}, 2*time.Second, 10*time.Millisecond)

	// Bob deletes; alice converges the same way.
	_, err = bob.PersistRemove(context.Background(), "s1")
	require.NoError(t, err)
	bob.DrainNow(context.Background())

	require.Eventually(t, func() bool {
		_, ok := alice.Object("s1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, srv.Store().ObjectCount("b1"))
}
