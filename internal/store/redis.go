package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
	"github.com/atmx/fasset-manager/internal/settings"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes go to the primary store and invalidate the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveAgent(ctx context.Context, a *model.Agent) error {
	if err := s.primary.SaveAgent(ctx, a); err != nil {
		return err
	}
	s.rdb.Del(ctx, agentsKey(a.Manager))
	return nil
}

func (s *CachedStore) DeleteAgent(ctx context.Context, manager, vault string) error {
	if err := s.primary.DeleteAgent(ctx, manager, vault); err != nil {
		return err
	}
	s.rdb.Del(ctx, agentsKey(manager))
	return nil
}

func (s *CachedStore) SaveRedemption(ctx context.Context, r *model.RedemptionRequest) error {
	if err := s.primary.SaveRedemption(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, redemptionsKey(r.Manager, r.Redeemer))
	return nil
}

func (s *CachedStore) SaveSettings(ctx context.Context, manager string, snap settings.Snapshot) error {
	if err := s.primary.SaveSettings(ctx, manager, snap); err != nil {
		return err
	}
	s.rdb.Del(ctx, settingsKey(manager))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSettings(ctx context.Context, manager string) (*settings.Snapshot, error) {
	data, err := s.rdb.Get(ctx, settingsKey(manager)).Bytes()
	if err == nil {
		var snap settings.Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.GetSettings(ctx, manager)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, settingsKey(manager), snap)
	return snap, nil
}

func (s *CachedStore) ListAgents(ctx context.Context, manager string) ([]model.Agent, error) {
	data, err := s.rdb.Get(ctx, agentsKey(manager)).Bytes()
	if err == nil {
		var agents []model.Agent
		if json.Unmarshal(data, &agents) == nil {
			return agents, nil
		}
	}

	agents, err := s.primary.ListAgents(ctx, manager)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, agentsKey(manager), agents)
	return agents, nil
}

func (s *CachedStore) ListRedemptions(ctx context.Context, manager, redeemer string) ([]model.RedemptionRequest, error) {
	data, err := s.rdb.Get(ctx, redemptionsKey(manager, redeemer)).Bytes()
	if err == nil {
		var requests []model.RedemptionRequest
		if json.Unmarshal(data, &requests) == nil {
			return requests, nil
		}
	}

	requests, err := s.primary.ListRedemptions(ctx, manager, redeemer)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, redemptionsKey(manager, redeemer), requests)
	return requests, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) SaveReservation(ctx context.Context, r *model.CollateralReservation) error {
	return s.primary.SaveReservation(ctx, r)
}

func (s *CachedStore) InsertEvents(ctx context.Context, evs []events.Event) error {
	return s.primary.InsertEvents(ctx, evs)
}

func (s *CachedStore) ListEvents(ctx context.Context, f EventFilter) ([]events.Event, error) {
	return s.primary.ListEvents(ctx, f)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func settingsKey(manager string) string { return fmt.Sprintf("settings:%s", manager) }
func agentsKey(manager string) string   { return fmt.Sprintf("agents:%s", manager) }
func redemptionsKey(manager, redeemer string) string {
	return fmt.Sprintf("redemptions:%s:%s", manager, redeemer)
}
