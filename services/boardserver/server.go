// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package boardserver is the reference authoritative backend for board
// sync: the snapshot and op-submission REST endpoints plus the realtime
// broadcast hub, backed by an in-memory store. It exists for local
// development and integration tests, not production.
package boardserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/swifttarrow/collabBoard-sub000/pkg/logging"
	"github.com/swifttarrow/collabBoard-sub000/pkg/validation"
	"github.com/swifttarrow/collabBoard-sub000/services/board/datatypes"
)

// Config holds the server settings.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	// AuthToken, when set, is required as a bearer token on the REST
	// endpoints. The realtime endpoint is exempt: browsers cannot set
	// headers on websocket dials, and this server is for development.
	AuthToken string `yaml:"auth_token"`

	Logger *logging.Logger `yaml:"-"`
}

// Server wires the store, the hub and the HTTP surface.
type Server struct {
	cfg    Config
	logger *slog.Logger
	store  *Store
	hub    *Hub
	engine *gin.Engine
}

// New builds a server. Call Run to serve, or Handler to mount it
// elsewhere (tests use httptest).
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	logger := cfg.Logger.Slog().With(slog.String("component", "boardserver"))

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		logger: logger,
		store:  NewStore(logger),
		hub:    NewHub(logger),
		engine: engine,
	}

	boards := engine.Group("/boards/:boardID")
	boards.GET("/snapshot", s.requireAuth(), s.handleSnapshot())
	boards.POST("/ops", s.requireAuth(), s.handleSubmitOp())
	boards.GET("/realtime", s.hub.handleRealtime())
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return s
}

// Handler exposes the HTTP surface for embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Store exposes the authoritative state, for inspection in tests.
func (s *Server) Store() *Store { return s.store }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("board server listening", slog.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AuthToken == "" {
			return
		}
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token != s.cfg.AuthToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		}
	}
}

func (s *Server) handleSnapshot() gin.HandlerFunc {
	return func(c *gin.Context) {
		boardID := c.Param("boardID")
		if err := validation.ValidateBoardID(boardID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s.store.Snapshot(boardID))
	}
}

type opEnvelope struct {
	Op datatypes.PendingOp `json:"op"`
}

func (s *Server) handleSubmitOp() gin.HandlerFunc {
	return func(c *gin.Context) {
		boardID := c.Param("boardID")
		if err := validation.ValidateBoardID(boardID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var env opEnvelope
		if err := c.ShouldBindJSON(&env); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed op envelope: " + err.Error()})
			return
		}
		if env.Op.BoardID != boardID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "op board id does not match path"})
			return
		}

		revision, err := s.store.Apply(env.Op)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, ErrUnknownTarget) {
				status = http.StatusConflict
			}
			s.logger.Warn("op rejected",
				slog.String("board_id", boardID),
				slog.String("op_id", env.Op.OpID),
				slog.String("error", err.Error()))
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		s.logger.Debug("op applied",
			slog.String("board_id", boardID),
			slog.String("op_id", env.Op.OpID),
			slog.Int64("revision", revision))
		c.JSON(http.StatusOK, gin.H{"revision": revision})
	}
}
