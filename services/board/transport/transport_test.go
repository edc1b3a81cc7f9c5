// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swifttarrow/collabBoard-sub000/services/board/datatypes"
	"github.com/swifttarrow/collabBoard-sub000/services/board/ops"
)

func sampleOp() datatypes.PendingOp {
	obj := datatypes.BoardObjectWithMeta{
		BoardObject: datatypes.BoardObject{ID: "s1", Type: datatypes.ObjectSticky},
		BoardID:     "b1",
	}
	return ops.NewCreate(obj, "c1", 3)
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

func TestFetchSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/boards/b1/snapshot", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(datatypes.Snapshot{
			Objects: map[string]datatypes.BoardObjectWithMeta{
				"s1": {BoardObject: datatypes.BoardObject{ID: "s1", Type: datatypes.ObjectSticky}, UpdatedAt: "t1", BoardID: "b1"},
			},
			Revision: 9,
		})
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL, AuthToken: "tok"})
	require.NoError(t, err)

	snap, err := c.FetchSnapshot(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), snap.Revision)
	assert.Contains(t, snap.Objects, "s1")
}

func TestFetchSnapshot_RejectsBadBoardID(t *testing.T) {
	c, err := NewClient(ClientConfig{BaseURL: "http://example.invalid"})
	require.NoError(t, err)
	_, err = c.FetchSnapshot(context.Background(), "../../etc")
	assert.Error(t, err)
}

func TestFetchSnapshot_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := c.FetchSnapshot(context.Background(), "b1")
	assert.Error(t, err)
}

func TestSubmitOp_OutcomeBanding(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantOutcome Outcome
		wantReason  string
	}{
		{"accepted", http.StatusOK, `{"revision":12}`, OutcomeOK, ""},
		{"unauthorized", http.StatusUnauthorized, `{"error":"token expired"}`, OutcomeAuthFailed, "token expired"},
		{"forbidden", http.StatusForbidden, `{"error":"not a member"}`, OutcomeAuthFailed, "not a member"},
		{"validation", http.StatusBadRequest, `{"error":"bad payload"}`, OutcomeRejected, "bad payload"},
		{"conflict", http.StatusConflict, `{"error":"revision mismatch"}`, OutcomeRejected, "revision mismatch"},
		{"server error", http.StatusInternalServerError, `oops`, OutcomeTransient, ""},
		{"bad gateway", http.StatusBadGateway, ``, OutcomeTransient, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/boards/b1/ops", r.URL.Path)
				var env opEnvelope
				require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
				assert.NotEmpty(t, env.Op.OpID)
				assert.NotEmpty(t, env.Op.IdempotencyKey)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _ := NewClient(ClientConfig{BaseURL: srv.URL})
			res := c.SubmitOp(context.Background(), sampleOp())

			assert.Equal(t, tt.wantOutcome, res.Outcome)
			if tt.wantOutcome == OutcomeOK {
				assert.Equal(t, int64(12), res.Revision)
			}
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, res.Reason)
			}
			if tt.wantOutcome == OutcomeTransient {
				assert.Error(t, res.Err)
			}
		})
	}
}

func TestSubmitOp_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c, _ := NewClient(ClientConfig{BaseURL: srv.URL})
	res := c.SubmitOp(context.Background(), sampleOp())
	assert.Equal(t, OutcomeTransient, res.Outcome)
	assert.Error(t, res.Err)
	assert.False(t, res.Terminal())
}

func TestSendResult_Terminal(t *testing.T) {
	assert.True(t, SendResult{Outcome: OutcomeAuthFailed}.Terminal())
	assert.True(t, SendResult{Outcome: OutcomeRejected}.Terminal())
	assert.False(t, SendResult{Outcome: OutcomeOK}.Terminal())
	assert.False(t, SendResult{Outcome: OutcomeTransient}.Terminal())
}

// -----------------------------------------------------------------------------
// Realtime
// -----------------------------------------------------------------------------

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// echoRealtimeServer upgrades /boards/{id}/realtime and sends every
// received message back to the sender (test-only; the production hub
// suppresses self-echo).
func echoRealtimeServer(t *testing.T, gotClientID *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotClientID != nil {
			*gotClientID = r.URL.Query().Get("client_id")
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg datatypes.RealtimeMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}))
}

func TestRealtime_ConnectPublishReceive(t *testing.T) {
	var clientID string
	srv := echoRealtimeServer(t, &clientID)
	defer srv.Close()

	rt, err := NewRealtime(RealtimeConfig{
		BaseURL:        srv.URL,
		BoardID:        "b1",
		ClientID:       "c1",
		ReconnectDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, rt.Connect(context.Background()))
	require.Eventually(t, rt.Connected, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, rt.DisconnectedSince())
	assert.Equal(t, "c1", clientID, "client id is passed to the hub for echo suppression")

	msg := datatypes.RealtimeMessage{
		Kind:    datatypes.KindBoardObjects,
		BoardID: "b1",
		Objects: &datatypes.BoardObjectsMessage{Op: datatypes.BroadcastDelete, ID: "s1"},
	}
	require.NoError(t, rt.Publish(context.Background(), msg))

	select {
	case got := <-rt.Messages():
		assert.Equal(t, datatypes.KindBoardObjects, got.Kind)
		assert.Equal(t, "c1", got.SenderID, "publish stamps the sender id")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}
}

func TestRealtime_ReconnectsAfterDrop(t *testing.T) {
	srv := echoRealtimeServer(t, nil)
	defer srv.Close()

	rt, err := NewRealtime(RealtimeConfig{
		BaseURL:        srv.URL,
		BoardID:        "b1",
		ClientID:       "c1",
		ReconnectDelay: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, rt.Connect(context.Background()))
	require.Eventually(t, rt.Connected, 2*time.Second, 10*time.Millisecond)

	// Kill the socket server-side; the channel should notice and redial.
	srv.CloseClientConnections()
	require.Eventually(t, rt.Connected, 2*time.Second, 10*time.Millisecond)
}

func TestRealtime_DisconnectedSinceWhileDown(t *testing.T) {
	rt, err := NewRealtime(RealtimeConfig{
		BaseURL:        "http://127.0.0.1:1", // nothing listens here
		BoardID:        "b1",
		ClientID:       "c1",
		ReconnectDelay: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, rt.Connect(context.Background()))
	assert.False(t, rt.Connected())
	require.NotNil(t, rt.DisconnectedSince())
}

func TestRealtime_PublishAfterClose(t *testing.T) {
	srv := echoRealtimeServer(t, nil)
	defer srv.Close()

	rt, err := NewRealtime(RealtimeConfig{BaseURL: srv.URL, BoardID: "b1", ClientID: "c1"})
	require.NoError(t, err)
	require.NoError(t, rt.Connect(context.Background()))
	require.NoError(t, rt.Close())

	err = rt.Publish(context.Background(), datatypes.RealtimeMessage{Kind: datatypes.KindBoardObjects})
	assert.ErrorIs(t, err, ErrRealtimeClosed)
	require.NoError(t, rt.Close(), "close is idempotent")
}

func TestRealtimeURL(t *testing.T) {
	u, err := realtimeURL("https://api.example.com", "b1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/boards/b1/realtime?client_id=c1", u)

	u, err = realtimeURL("http://localhost:8080/", "b1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/boards/b1/realtime?client_id=c1", u)

	_, err = realtimeURL("ftp://x", "b1", "c1")
	assert.Error(t, err)
}
