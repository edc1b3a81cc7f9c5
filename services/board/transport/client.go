// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package transport implements the network boundary of the sync core:
// the REST client for snapshot fetches and op submission, and the
// realtime websocket channel for board broadcasts.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/swifttarrow/collabBoard-sub000/pkg/validation"
	"github.com/swifttarrow/collabBoard-sub000/services/board/datatypes"
)

// ClientConfig configures the REST client.
type ClientConfig struct {
	// BaseURL is the backend root, e.g. "https://api.example.com".
	BaseURL string

	// AuthToken, when set, is sent as a bearer token.
	AuthToken string

	// Timeout bounds each request. Default: 15s.
	Timeout time.Duration

	// HTTPClient overrides the default client. Used by tests.
	HTTPClient *http.Client

	// Logger for request outcomes. Default: slog.Default().
	Logger *slog.Logger
}

// Client talks to the authoritative board store.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient validates the config and builds a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.AuthToken,
		http:    httpClient,
		logger:  logger.With(slog.String("component", "transport")),
	}, nil
}

// FetchSnapshot retrieves the authoritative {objects, revision} for a
// board.
func (c *Client) FetchSnapshot(ctx context.Context, boardID string) (*datatypes.Snapshot, error) {
	if err := validation.ValidateBoardID(boardID); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/boards/%s/snapshot", c.baseURL, boardID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot for board %s: %w", boardID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch snapshot for board %s: status %d: %s", boardID, resp.StatusCode, bytes.TrimSpace(body))
	}

	var snap datatypes.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot for board %s: %w", boardID, err)
	}
	if snap.Objects == nil {
		snap.Objects = make(map[string]datatypes.BoardObjectWithMeta)
	}
	return &snap, nil
}

// opEnvelope is the submission body.
type opEnvelope struct {
	Op datatypes.PendingOp `json:"op"`
}

type opAccepted struct {
	Revision int64 `json:"revision"`
}

type opRejected struct {
	Error string `json:"error"`
}

// SubmitOp sends one op and bands the response: 401/403 is a terminal
// auth failure, other 4xx a terminal rejection, 5xx and network errors
// are transient and retried by the caller.
func (c *Client) SubmitOp(ctx context.Context, op datatypes.PendingOp) SendResult {
	body, err := json.Marshal(opEnvelope{Op: op})
	if err != nil {
		return SendResult{Outcome: OutcomeRejected, Reason: fmt.Sprintf("encode op: %v", err)}
	}
	url := fmt.Sprintf("%s/boards/%s/ops", c.baseURL, op.BoardID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Outcome: OutcomeRejected, Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return SendResult{Outcome: OutcomeTransient, Err: fmt.Errorf("submit op %s: %w", op.OpID, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var accepted opAccepted
		if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
			// A 2xx the client cannot decode still committed server-side;
			// treating it as transient would resend an applied op, so the
			// revision is the only loss.
			c.logger.Warn("accepted op with undecodable response",
				slog.String("op_id", op.OpID),
				slog.String("error", err.Error()))
		}
		return SendResult{Outcome: OutcomeOK, Revision: accepted.Revision}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return SendResult{Outcome: OutcomeAuthFailed, Reason: rejectionReason(resp)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return SendResult{Outcome: OutcomeRejected, Reason: rejectionReason(resp)}
	default:
		return SendResult{
			Outcome: OutcomeTransient,
			Err:     fmt.Errorf("submit op %s: server status %d", op.OpID, resp.StatusCode),
		}
	}
}

func rejectionReason(resp *http.Response) string {
	var rej opRejected
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&rej); err == nil && rej.Error != "" {
		return rej.Error
	}
	return http.StatusText(resp.StatusCode)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
