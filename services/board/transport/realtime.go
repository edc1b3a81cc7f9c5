// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/swifttarrow/collabBoard-sub000/services/board/datatypes"
)

// ErrRealtimeClosed is returned when publishing on a closed channel.
var ErrRealtimeClosed = errors.New("realtime channel closed")

const (
	realtimeWriteWait  = 10 * time.Second
	realtimePongWait   = 60 * time.Second
	realtimePingPeriod = (realtimePongWait * 9) / 10
	// realtimeBuffer bounds the inbound message channel. Broadcasts
	// beyond it are dropped with a warning; the periodic reconciliation
	// fetch repairs any resulting drift.
	realtimeBuffer = 256
)

// RealtimeConfig configures one board's realtime subscription.
type RealtimeConfig struct {
	// BaseURL is the backend root; http(s) schemes are rewritten to
	// ws(s).
	BaseURL string

	// BoardID scopes the subscription. Required.
	BoardID string

	// ClientID identifies this client to the hub so it never receives
	// its own broadcasts back. Required.
	ClientID string

	// AuthToken, when set, is sent as a bearer token on the upgrade
	// request.
	AuthToken string

	// ReconnectDelay is the fixed pause between dial attempts.
	// Default: 2s.
	ReconnectDelay time.Duration

	// Logger for channel lifecycle events. Default: slog.Default().
	Logger *slog.Logger
}

// Realtime maintains one websocket subscription for one board, with
// automatic reconnection. Inbound messages are delivered on Messages();
// Connected and DisconnectedSince feed the connectivity classifier.
type Realtime struct {
	cfg    RealtimeConfig
	wsURL  string
	logger *slog.Logger

	inbound chan datatypes.RealtimeMessage
	done    chan struct{}

	mu                sync.Mutex
	conn              *websocket.Conn
	connected         bool
	disconnectedSince *time.Time
	closed            bool
}

// NewRealtime validates the config and builds the channel. Connect must
// be called to start it.
func NewRealtime(cfg RealtimeConfig) (*Realtime, error) {
	if cfg.BaseURL == "" || cfg.BoardID == "" || cfg.ClientID == "" {
		return nil, errors.New("base URL, board id and client id are required")
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	wsURL, err := realtimeURL(cfg.BaseURL, cfg.BoardID, cfg.ClientID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Realtime{
		cfg:               cfg,
		wsURL:             wsURL,
		logger:            logger.With(slog.String("component", "realtime"), slog.String("board_id", cfg.BoardID)),
		inbound:           make(chan datatypes.RealtimeMessage, realtimeBuffer),
		done:              make(chan struct{}),
		disconnectedSince: &now,
	}, nil
}

func realtimeURL(base, boardID, clientID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch {
	case u.Scheme == "http" || u.Scheme == "ws":
		u.Scheme = "ws"
	case u.Scheme == "https" || u.Scheme == "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/boards/" + boardID + "/realtime"
	q := u.Query()
	q.Set("client_id", clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect starts the dial/read loop. It returns after the first dial
// attempt resolves either way; reconnection continues in the background
// until Close.
func (r *Realtime) Connect(ctx context.Context) error {
	firstDial := make(chan struct{})
	go r.run(firstDial)
	select {
	case <-firstDial:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Connected reports whether the channel currently has a live socket.
func (r *Realtime) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// DisconnectedSince returns when the channel last lost its socket, nil
// while connected.
func (r *Realtime) DisconnectedSince() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disconnectedSince == nil {
		return nil
	}
	t := *r.disconnectedSince
	return &t
}

// Messages delivers inbound broadcasts. The channel is closed when the
// Realtime is closed.
func (r *Realtime) Messages() <-chan datatypes.RealtimeMessage {
	return r.inbound
}

// Publish sends a message on the channel. It fails fast when offline;
// callers treat that as transient.
func (r *Realtime) Publish(ctx context.Context, msg datatypes.RealtimeMessage) error {
	r.mu.Lock()
	conn := r.conn
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrRealtimeClosed
	}
	if conn == nil {
		return errors.New("realtime channel not connected")
	}
	msg.SenderID = r.cfg.ClientID
	conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("publish realtime message: %w", err)
	}
	return nil
}

// Close tears the channel down and stops reconnection. Idempotent.
func (r *Realtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.conn
	r.mu.Unlock()

	close(r.done)
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(realtimeWriteWait))
		conn.Close()
	}
	return nil
}

// run is the dial/read loop. firstDial is closed after the initial
// attempt so Connect can return.
func (r *Realtime) run(firstDial chan<- struct{}) {
	defer close(r.inbound)
	first := true
	for {
		select {
		case <-r.done:
			return
		default:
		}

		conn, err := r.dial()
		if first {
			close(firstDial)
			first = false
		}
		if err != nil {
			r.logger.Warn("realtime dial failed", slog.String("error", err.Error()))
			select {
			case <-r.done:
				return
			case <-time.After(r.cfg.ReconnectDelay):
				continue
			}
		}

		r.setConnected(conn)
		r.logger.Info("realtime connected")
		r.readLoop(conn)
		r.setDisconnected()

		select {
		case <-r.done:
			return
		case <-time.After(r.cfg.ReconnectDelay):
		}
	}
}

func (r *Realtime) dial() (*websocket.Conn, error) {
	header := make(map[string][]string)
	if r.cfg.AuthToken != "" {
		header["Authorization"] = []string{"Bearer " + r.cfg.AuthToken}
	}
	dialer := websocket.Dialer{HandshakeTimeout: realtimeWriteWait}
	conn, _, err := dialer.Dial(r.wsURL, header)
	return conn, err
}

func (r *Realtime) setConnected(conn *websocket.Conn) {
	r.mu.Lock()
	r.conn = conn
	r.connected = true
	r.disconnectedSince = nil
	r.mu.Unlock()
}

func (r *Realtime) setDisconnected() {
	now := time.Now()
	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
	}
	r.conn = nil
	r.connected = false
	if r.disconnectedSince == nil {
		r.disconnectedSince = &now
	}
	r.mu.Unlock()
	r.logger.Warn("realtime disconnected")
}

// readLoop pumps inbound messages until the socket fails. A ping ticker
// keeps the connection alive; pong responses extend the read deadline.
func (r *Realtime) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(realtimePongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(realtimePongWait))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(realtimePingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(realtimeWriteWait))
			}
		}
	}()

	for {
		var msg datatypes.RealtimeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Warn("realtime read failed", slog.String("error", err.Error()))
			}
			return
		}
		select {
		case r.inbound <- msg:
		default:
			r.logger.Warn("realtime inbound buffer full, dropping message",
				slog.String("kind", string(msg.Kind)))
		}
	}
}
