// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package connectivity classifies the client's sync health from several
// noisy signals into one coarse state, and holds that state in a small
// observable Status for the UI.
//
// Classification is a pure function; the session controller recomputes
// it on every drain tick and after every send attempt.
package connectivity

import (
	"sync"
	"time"
)

// State is the coarse connectivity classification.
type State string

const (
	// StateOffline: the browser reports no network, or the realtime
	// channel has been down beyond the grace period.
	StateOffline State = "offline"

	// StateReconnecting: network is up but the realtime channel is not
	// yet connected (or only briefly down).
	StateReconnecting State = "reconnecting"

	// StateSyncing: connected with queued local changes still draining.
	StateSyncing State = "syncing"

	// StateDegraded: connected and drained, but recent send errors
	// inside the rolling window signal server-side trouble.
	StateDegraded State = "degraded"

	// StateSynced: connected, nothing pending, no recent errors.
	StateSynced State = "synced"
)

// Config holds the classification thresholds. The exact values are
// product tuning knobs, not invariants.
type Config struct {
	// DisconnectGrace is how long a realtime disconnect is tolerated
	// before it counts as offline rather than reconnecting.
	DisconnectGrace time.Duration

	// ErrorWindow is the rolling window over which recent errors count.
	ErrorWindow time.Duration

	// DegradedErrorThreshold is the error count within the window that
	// flips a drained, connected client to degraded.
	DegradedErrorThreshold int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		DisconnectGrace:        10 * time.Second,
		ErrorWindow:            30 * time.Second,
		DegradedErrorThreshold: 3,
	}
}

// Inputs are the raw signals feeding classification.
type Inputs struct {
	NavigatorOnline           bool
	RealtimeConnected         bool
	RealtimeDisconnectedSince *time.Time
	PendingCount              int
	RecentErrors              int
	WindowStart               time.Time
}

// Classify maps the inputs to a state. Pure.
func Classify(in Inputs, cfg Config, now time.Time) State {
	if !in.NavigatorOnline {
		return StateOffline
	}
	if !in.RealtimeConnected {
		if in.RealtimeDisconnectedSince != nil && now.Sub(*in.RealtimeDisconnectedSince) > cfg.DisconnectGrace {
			return StateOffline
		}
		return StateReconnecting
	}
	if in.PendingCount > 0 {
		return StateSyncing
	}
	if in.RecentErrors >= cfg.DegradedErrorThreshold && now.Sub(in.WindowStart) <= cfg.ErrorWindow {
		return StateDegraded
	}
	return StateSynced
}

// -----------------------------------------------------------------------------
// Observable Status
// -----------------------------------------------------------------------------

// StatusSnapshot is the user-facing view of sync health.
type StatusSnapshot struct {
	State                 State
	PendingCount          int
	FailedCount           int
	ServerRevision        int64
	LastSyncMessage       string
	RecoveringFromOffline bool
}

// Status holds the current snapshot for one board session. Safe for
// concurrent use. Reset per session.
type Status struct {
	mu       sync.Mutex
	current  StatusSnapshot
	onChange func(StatusSnapshot)
}

// NewStatus returns a Status starting at synced-empty.
func NewStatus() *Status {
	return &Status{current: StatusSnapshot{State: StateSynced}}
}

// OnChange registers a callback fired (synchronously, under no lock)
// whenever the snapshot changes. Only one callback is supported; later
// registrations replace earlier ones.
func (s *Status) OnChange(fn func(StatusSnapshot)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Get returns the current snapshot.
func (s *Status) Get() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set replaces the snapshot, applying two holder-owned rules: leaving
// offline raises the recovering banner, and arriving at synced with
// nothing pending clears it.
func (s *Status) Set(next StatusSnapshot) {
	s.mu.Lock()
	prev := s.current
	if prev.State == StateOffline && next.State != StateOffline {
		next.RecoveringFromOffline = true
	} else if next.State != StateSynced {
		next.RecoveringFromOffline = next.RecoveringFromOffline || prev.RecoveringFromOffline
	}
	if next.State == StateSynced && next.PendingCount == 0 {
		next.RecoveringFromOffline = false
	}
	changed := next != prev
	s.current = next
	fn := s.onChange
	s.mu.Unlock()

	if changed && fn != nil {
		fn(next)
	}
}

// Reset returns the holder to its initial state without firing the
// callback. Called when a session closes.
func (s *Status) Reset() {
	s.mu.Lock()
	s.current = StatusSnapshot{State: StateSynced}
	s.mu.Unlock()
}
