package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
	"github.com/atmx/fasset-manager/internal/settings"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	agents       map[string]model.Agent
	reservations map[string]model.CollateralReservation
	redemptions  map[string]model.RedemptionRequest
	settings     map[string]settings.Snapshot
	events       []events.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:       make(map[string]model.Agent),
		reservations: make(map[string]model.CollateralReservation),
		redemptions:  make(map[string]model.RedemptionRequest),
		settings:     make(map[string]settings.Snapshot),
	}
}

func key(manager string, id any) string { return fmt.Sprintf("%s/%v", manager, id) }

func (s *MemoryStore) SaveAgent(_ context.Context, a *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[key(a.Manager, a.VaultAddress)] = *a
	return nil
}

func (s *MemoryStore) DeleteAgent(_ context.Context, manager, vault string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, key(manager, vault))
	return nil
}

func (s *MemoryStore) SaveReservation(_ context.Context, r *model.CollateralReservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[key(r.Manager, r.ID)] = *r
	return nil
}

func (s *MemoryStore) SaveRedemption(_ context.Context, r *model.RedemptionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redemptions[key(r.Manager, r.ID)] = *r
	return nil
}

// SaveSettings keeps the highest version seen per manager.
func (s *MemoryStore) SaveSettings(_ context.Context, manager string, snap settings.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.settings[manager]; ok && cur.Version > snap.Version {
		return nil
	}
	s.settings[manager] = copySnapshot(snap)
	return nil
}

func (s *MemoryStore) GetSettings(_ context.Context, manager string) (*settings.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.settings[manager]
	if !ok {
		return nil, fmt.Errorf("%w: settings of %s", ErrNotFound, manager)
	}
	out := copySnapshot(snap)
	return &out, nil
}

func copySnapshot(snap settings.Snapshot) settings.Snapshot {
	last := make(map[string]time.Time, len(snap.LastUpdate))
	for method, at := range snap.LastUpdate {
		last[method] = at
	}
	return settings.Snapshot{Version: snap.Version, Settings: snap.Settings.Clone(), LastUpdate: last}
}

func (s *MemoryStore) ListAgents(_ context.Context, manager string) ([]model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Agent
	for _, a := range s.agents {
		if a.Manager == manager {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListRedemptions(_ context.Context, manager, redeemer string) ([]model.RedemptionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.RedemptionRequest
	for _, r := range s.redemptions {
		if r.Manager == manager && r.Redeemer == redeemer {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) InsertEvents(_ context.Context, evs []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evs...)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, f EventFilter) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []events.Event
	for _, e := range s.events {
		if (f.Source == "" || e.Source == f.Source) && (f.Name == "" || e.Name == f.Name) {
			out = append(out, e)
		}
	}
	if n := f.limit(); len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// Reservation returns a replicated reservation. Used by tests.
func (s *MemoryStore) Reservation(manager string, id uint64) (model.CollateralReservation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[key(manager, id)]
	return r, ok
}
