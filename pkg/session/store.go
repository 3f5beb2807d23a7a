// Cricket Bridge - WhatsApp relay for the CSCC cricket agent
// License: MIT
//
// Copyright (c) 2026 Cricket Bridge contributors

// Package session persists WhatsApp transport credentials across restarts so
// the bridge can resume without re-pairing. Backends are independent; load
// falls through them in priority order and save writes to all of them.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Data is the transport's authentication state. Both fields are opaque blobs
// owned by the WhatsApp sidecar; the bridge never looks inside them.
type Data struct {
	Creds json.RawMessage `json:"creds"`
	Keys  json.RawMessage `json:"keys"`
}

// Backend is a single durable store for session data. Load returns (nil, nil)
// when the backend is reachable but holds no session.
type Backend interface {
	Name() string
	Load(ctx context.Context) (*Data, error)
	Save(ctx context.Context, data *Data) error
}

// Store fans session data out to zero or more backends. Backend failures are
// logged and absorbed; the store degrades to "no session" rather than failing
// the bridge.
type Store struct {
	backends []Backend // priority order: first configured wins on load
}

func NewStore(backends ...Backend) *Store {
	return &Store{backends: backends}
}

// Load returns the first backend's non-empty session, falling through on
// error or absence. A nil result means the caller must pair interactively.
func (s *Store) Load(ctx context.Context) *Data {
	for _, b := range s.backends {
		data, err := b.Load(ctx)
		if err != nil {
			slog.Warn("session load failed", "backend", b.Name(), "error", err)
			continue
		}
		if data == nil {
			slog.Debug("no session in backend", "backend", b.Name())
			continue
		}
		slog.Info("session restored", "backend", b.Name())
		return data
	}
	return nil
}

// Save writes to every backend independently and returns true if at least one
// write succeeded.
func (s *Store) Save(ctx context.Context, data *Data) bool {
	saved := false
	for _, b := range s.backends {
		if err := b.Save(ctx, data); err != nil {
			slog.Warn("session save failed", "backend", b.Name(), "error", err)
			continue
		}
		saved = true
	}
	return saved
}

// Available reports whether any backend is configured.
func (s *Store) Available() bool {
	return len(s.backends) > 0
}

// Kind names the highest-priority configured backend for diagnostics.
func (s *Store) Kind() string {
	if len(s.backends) == 0 {
		return "None"
	}
	return s.backends[0].Name()
}
