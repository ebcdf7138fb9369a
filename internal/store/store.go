// Package store defines the persistence interface for asset manager state.
// Implementations include PostgreSQL (production replica), SQLite (single
// node), Redis (read-through cache) and in-memory (for testing).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/fasset-manager/internal/apperr"
	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
	"github.com/atmx/fasset-manager/internal/settings"
)

// ErrNotFound is returned by reads of missing records.
var ErrNotFound = apperr.New(apperr.KindNotFound, "store: not found")

// Store is the persistence interface. Asset managers write committed
// entities to it; the API reads history and the event log back.
type Store interface {
	// --- Replication ---

	// SaveAgent upserts an agent vault.
	SaveAgent(ctx context.Context, a *model.Agent) error

	// DeleteAgent removes a destroyed agent vault.
	DeleteAgent(ctx context.Context, manager, vault string) error

	// SaveReservation upserts a collateral reservation.
	SaveReservation(ctx context.Context, r *model.CollateralReservation) error

	// SaveRedemption upserts a redemption request.
	SaveRedemption(ctx context.Context, r *model.RedemptionRequest) error

	// SaveSettings records a settings version of a manager together with
	// the last update time of every setter.
	SaveSettings(ctx context.Context, manager string, snap settings.Snapshot) error

	// --- Reads ---

	// GetSettings returns the latest recorded settings of a manager.
	GetSettings(ctx context.Context, manager string) (*settings.Snapshot, error)

	// ListAgents returns the replicated agents of a manager.
	ListAgents(ctx context.Context, manager string) ([]model.Agent, error)

	// ListRedemptions returns a redeemer's requests, oldest first.
	ListRedemptions(ctx context.Context, manager, redeemer string) ([]model.RedemptionRequest, error)

	// --- Event log ---

	// InsertEvents appends committed events.
	InsertEvents(ctx context.Context, evs []events.Event) error

	// ListEvents returns events matching f, oldest first.
	ListEvents(ctx context.Context, f EventFilter) ([]events.Event, error)
}

// EventFilter selects events from the log. Empty fields match anything.
type EventFilter struct {
	Source string
	Name   string
	// Limit keeps the newest Limit events; zero means DefaultEventLimit.
	Limit int
}

// DefaultEventLimit bounds event reads without an explicit limit.
const DefaultEventLimit = 500

func (f EventFilter) limit() int {
	if f.Limit <= 0 || f.Limit > DefaultEventLimit {
		return DefaultEventLimit
	}
	return f.Limit
}

// EventLog returns a publisher appending events to s. Failures are logged;
// the calls that produced the events have already committed.
func EventLog(s Store) events.Publisher {
	return events.PublisherFunc(func(ctx context.Context, evs []events.Event) {
		if err := s.InsertEvents(ctx, evs); err != nil {
			slog.Error("append event log", "events", len(evs), "error", err)
		}
	})
}

// decodeSnapshot rebuilds a settings row stored as two JSON documents.
func decodeSnapshot(manager string, version uint64, doc, last []byte) (*settings.Snapshot, error) {
	snap := settings.Snapshot{Version: version, LastUpdate: map[string]time.Time{}}
	if err := json.Unmarshal(doc, &snap.Settings); err != nil {
		return nil, fmt.Errorf("decode settings of %s: %w", manager, err)
	}
	if len(last) > 0 {
		if err := json.Unmarshal(last, &snap.LastUpdate); err != nil {
			return nil, fmt.Errorf("decode settings update times of %s: %w", manager, err)
		}
	}
	return &snap, nil
}
