// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package boardserver

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/swifttarrow/collabBoard-sub000/services/board/datatypes"
)

const (
	hubWriteWait  = 10 * time.Second
	hubPongWait   = 60 * time.Second
	hubPingPeriod = hubPongWait * 9 / 10
	hubSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans realtime messages out to every subscriber of a board except
// the sender. Clients apply their own edits optimistically before
// publishing, so echoing a message back would only race the local copy.
type Hub struct {
	mu     sync.Mutex
	boards map[string]map[*subscriber]struct{}
	logger *slog.Logger
}

type subscriber struct {
	clientID string
	send     chan datatypes.RealtimeMessage
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		boards: make(map[string]map[*subscriber]struct{}),
		logger: logger.With(slog.String("component", "board_hub")),
	}
}

func (h *Hub) subscribe(boardID, clientID string) *subscriber {
	sub := &subscriber{
		clientID: clientID,
		send:     make(chan datatypes.RealtimeMessage, hubSendBuffer),
	}
	h.mu.Lock()
	subs, ok := h.boards[boardID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.boards[boardID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(boardID string, sub *subscriber) {
	h.mu.Lock()
	if subs, ok := h.boards[boardID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.boards, boardID)
		}
	}
	h.mu.Unlock()
	close(sub.send)
}

// Broadcast delivers msg to every subscriber of msg.BoardID whose
// client id differs from msg.SenderID. A subscriber that cannot keep up
// loses the message rather than stalling the board.
func (h *Hub) Broadcast(msg datatypes.RealtimeMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.boards[msg.BoardID] {
		if sub.clientID != "" && sub.clientID == msg.SenderID {
			continue
		}
		select {
		case sub.send <- msg:
		default:
			h.logger.Warn("dropped broadcast for slow subscriber",
				slog.String("board_id", msg.BoardID),
				slog.String("client_id", sub.clientID))
		}
	}
}

// SubscriberCount reports the live subscriptions for a board.
func (h *Hub) SubscriberCount(boardID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.boards[boardID])
}

// handleRealtime upgrades the connection and relays traffic both ways:
// inbound publishes are stamped with the subscriber's client id and
// fanned out; outbound messages come from the hub.
func (h *Hub) handleRealtime() gin.HandlerFunc {
	return func(c *gin.Context) {
		boardID := c.Param("boardID")
		clientID := c.Query("client_id")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		sub := h.subscribe(boardID, clientID)
		h.logger.Info("realtime subscriber connected",
			slog.String("board_id", boardID),
			slog.String("client_id", clientID))

		go h.writeLoop(conn, sub)
		h.readLoop(conn, boardID, clientID)

		h.unsubscribe(boardID, sub)
		conn.Close()
		h.logger.Info("realtime subscriber disconnected",
			slog.String("board_id", boardID),
			slog.String("client_id", clientID))
	}
}

func (h *Hub) readLoop(conn *websocket.Conn, boardID, clientID string) {
	conn.SetReadDeadline(time.Now().Add(hubPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(hubPongWait))
	})
	for {
		var msg datatypes.RealtimeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		msg.BoardID = boardID
		msg.SenderID = clientID
		h.Broadcast(msg)
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(hubPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
