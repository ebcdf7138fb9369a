package assetmanager

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/sha3"

	"github.com/atmx/fasset-manager/internal/conversion"
	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
)

// CreateAgentRequest registers a new agent vault.
type CreateAgentRequest struct {
	Owner             string `json:"owner"`
	UnderlyingAddress string `json:"underlying_address"`
	CollateralToken   string `json:"collateral_token"`
	MintingFeeBIPS    uint64 `json:"minting_fee_bips"`
}

// vaultAddress derives a 20-byte address from the manager, owner,
// underlying address and a sequence number.
func vaultAddress(manager, owner, underlying string, seq uint64) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(manager))
	h.Write([]byte(owner))
	h.Write([]byte(underlying))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	h.Write(b[:])
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:])
}

// CreateAgent registers an agent. The owner must be whitelisted when the
// agent whitelist is set, and the underlying address must not have been
// claimed by any agent of this manager before.
func (m *Manager) CreateAgent(ctx context.Context, req CreateAgentRequest) (agent *model.Agent, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "CreateAgent", attribute.String("owner", req.Owner))
	defer func() { m.finish(t, err) }()

	if m.terminated {
		return nil, ErrTerminated
	}
	if req.Owner == "" || req.UnderlyingAddress == "" {
		return nil, fmt.Errorf("%w: owner and underlying address are required", ErrInvalidArgument)
	}
	if req.MintingFeeBIPS > conversion.MaxBIPS {
		return nil, ErrFeeBipsTooHigh
	}
	if err := m.checkWhitelisted(req.Owner); err != nil {
		return nil, err
	}
	underlying := strings.ToLower(req.UnderlyingAddress)
	if vault, ok := m.claimed[underlying]; ok {
		return nil, fmt.Errorf("%w: %s (agent %s)", ErrAddressAlreadyClaimed, req.UnderlyingAddress, vault)
	}
	if _, ok := m.collaterals[req.CollateralToken]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollateral, req.CollateralToken)
	}

	vault := vaultAddress(m.address, req.Owner, underlying, m.newID())
	a := &model.Agent{
		VaultAddress:             vault,
		Manager:                  m.address,
		Owner:                    req.Owner,
		UnderlyingAddress:        req.UnderlyingAddress,
		CollateralToken:          req.CollateralToken,
		Status:                   model.AgentNormal,
		MintingFeeBIPS:           req.MintingFeeBIPS,
		CollateralWei:            sdkmath.ZeroUint(),
		FreeUnderlyingBalanceUBA: sdkmath.ZeroInt(),
		ReservedAMG:              sdkmath.ZeroUint(),
		MintedAMG:                sdkmath.ZeroUint(),
		RedeemingAMG:             sdkmath.ZeroUint(),
		WithdrawalAnnouncedWei:   sdkmath.ZeroUint(),
		CreatedAt:                t.now,
		CreatedAtUnderlyingBlock: m.underlyingBlock,
	}
	m.agents[vault] = a
	m.claimed[underlying] = vault
	t.touchAgent(vault)
	m.emit(t, events.AgentCreated, map[string]any{
		"owner":             req.Owner,
		"agentVault":        vault,
		"underlyingAddress": req.UnderlyingAddress,
		"collateralToken":   req.CollateralToken,
	})
	slog.Info("agent created", "asset_manager", m.address, "agent", vault, "owner", req.Owner)
	return a.Clone(), nil
}

func (m *Manager) checkWhitelisted(owner string) error {
	wl := m.settings().AgentWhitelist
	if wl == "" {
		return nil
	}
	if m.whitelists == nil {
		return fmt.Errorf("%w: whitelist %s cannot be resolved", ErrNotWhitelisted, wl)
	}
	list, err := m.whitelists.Lookup(wl)
	if err != nil {
		return err
	}
	if !list.IsWhitelisted(owner) {
		return fmt.Errorf("%w: %s", ErrNotWhitelisted, owner)
	}
	return nil
}

// DepositCollateral adds collateral to the agent's vault.
func (m *Manager) DepositCollateral(ctx context.Context, caller, vault string, amountWei sdkmath.Uint) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "DepositCollateral", attribute.String("agent", vault))
	defer func() { m.finish(t, err) }()

	a, err := m.ownedAgent(caller, vault)
	if err != nil {
		return err
	}
	if amountWei.IsNil() || amountWei.IsZero() {
		return ErrZeroAmount
	}
	total, err := conversion.Add(a.CollateralWei, amountWei)
	if err != nil {
		return err
	}
	var prices *agentPrices
	if !a.BackedAMG().IsZero() {
		p, err := m.pricesFor(t.ctx, a)
		if err != nil {
			return err
		}
		prices = &p
	}

	a.CollateralWei = total
	t.touchAgent(vault)
	m.emit(t, events.CollateralDeposited, map[string]any{"agentVault": vault, "value": amountWei.String()})
	if prices != nil {
		m.evaluate(t, a, *prices)
	}
	slog.Info("collateral deposited", "asset_manager", m.address, "agent", vault, "value_wei", amountWei.String())
	return nil
}

// AnnounceCollateralWithdrawal locks amountWei of free collateral for
// withdrawal after withdrawalWaitMinSeconds. Announcing zero cancels.
func (m *Manager) AnnounceCollateralWithdrawal(ctx context.Context, caller, vault string, amountWei sdkmath.Uint) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "AnnounceCollateralWithdrawal", attribute.String("agent", vault))
	defer func() { m.finish(t, err) }()

	a, err := m.ownedAgent(caller, vault)
	if err != nil {
		return err
	}
	if a.Status != model.AgentNormal {
		return fmt.Errorf("%w: %s", ErrInvalidAgentStatus, a.Status)
	}
	if !amountWei.IsZero() {
		p, err := m.pricesOrNone(t.ctx, a)
		if err != nil {
			return err
		}
		prev := *a
		prev.WithdrawalAnnouncedWei = sdkmath.ZeroUint()
		free, err := m.freeCollateralWei(&prev, p)
		if err != nil {
			return err
		}
		if amountWei.GT(free) {
			return fmt.Errorf("%w: free %s", ErrWithdrawalTooHigh, free)
		}
	}

	a.WithdrawalAnnouncedWei = amountWei
	if amountWei.IsZero() {
		a.WithdrawalAllowedAt = time.Time{}
	} else {
		a.WithdrawalAllowedAt = t.now.Add(time.Duration(m.settings().WithdrawalWaitMinSeconds) * time.Second)
	}
	t.touchAgent(vault)
	m.emit(t, events.CollateralWithdrawalAnnounced, map[string]any{
		"agentVault":         vault,
		"value":              amountWei.String(),
		"allowedAtTimestamp": a.WithdrawalAllowedAt.Unix(),
	})
	return nil
}

// pricesOrNone skips the price lookup for agents that back nothing.
func (m *Manager) pricesOrNone(ctx context.Context, a *model.Agent) (agentPrices, error) {
	if a.BackedAMG().IsZero() {
		return agentPrices{fast: conversion.AMGPrice{AMGToTokenWei: sdkmath.ZeroUint()}}, nil
	}
	return m.pricesFor(ctx, a)
}

// WithdrawCollateral pays out previously announced collateral to the owner.
func (m *Manager) WithdrawCollateral(ctx context.Context, caller, vault string, amountWei sdkmath.Uint) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "WithdrawCollateral", attribute.String("agent", vault))
	defer func() { m.finish(t, err) }()

	a, err := m.ownedAgent(caller, vault)
	if err != nil {
		return err
	}
	if a.Status != model.AgentNormal {
		return fmt.Errorf("%w: %s", ErrInvalidAgentStatus, a.Status)
	}
	if amountWei.IsZero() {
		return ErrZeroAmount
	}
	if a.WithdrawalAnnouncedWei.IsZero() || amountWei.GT(a.WithdrawalAnnouncedWei) {
		return fmt.Errorf("%w: announced %s", ErrWithdrawalNotAnnounced, a.WithdrawalAnnouncedWei)
	}
	if t.now.Before(a.WithdrawalAllowedAt) {
		return fmt.Errorf("%w: allowed at %s", ErrWithdrawalNotAllowedYet, a.WithdrawalAllowedAt.Format(time.RFC3339))
	}
	p, err := m.pricesOrNone(t.ctx, a)
	if err != nil {
		return err
	}
	prev := *a
	prev.WithdrawalAnnouncedWei = sdkmath.ZeroUint()
	free, err := m.freeCollateralWei(&prev, p)
	if err != nil {
		return err
	}
	if amountWei.GT(free) {
		return fmt.Errorf("%w: free %s", ErrWithdrawalTooHigh, free)
	}

	a.CollateralWei = a.CollateralWei.Sub(amountWei)
	a.WithdrawalAnnouncedWei = sdkmath.ZeroUint()
	a.WithdrawalAllowedAt = time.Time{}
	m.pay(a.Owner, a.CollateralToken, amountWei)
	t.touchAgent(vault)
	m.emit(t, events.CollateralWithdrawn, map[string]any{"agentVault": vault, "value": amountWei.String()})
	slog.Info("collateral withdrawn", "asset_manager", m.address, "agent", vault, "value_wei", amountWei.String())
	return nil
}

// MakeAgentAvailable publishes the agent for minting.
func (m *Manager) MakeAgentAvailable(ctx context.Context, caller, vault string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "MakeAgentAvailable", attribute.String("agent", vault))
	defer func() { m.finish(t, err) }()

	a, err := m.ownedAgent(caller, vault)
	if err != nil {
		return err
	}
	if a.Status != model.AgentNormal {
		return fmt.Errorf("%w: %s", ErrInvalidAgentStatus, a.Status)
	}
	if a.Available {
		return ErrAgentAlreadyAvailable
	}
	a.Available = true
	t.touchAgent(vault)
	m.emit(t, events.AgentAvailable, map[string]any{"agentVault": vault, "feeBIPS": a.MintingFeeBIPS})
	return nil
}

// ExitAvailable removes the agent from the minting list.
func (m *Manager) ExitAvailable(ctx context.Context, caller, vault string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "ExitAvailable", attribute.String("agent", vault))
	defer func() { m.finish(t, err) }()

	a, err := m.ownedAgent(caller, vault)
	if err != nil {
		return err
	}
	if !a.Available {
		return ErrAgentNotAvailable
	}
	a.Available = false
	t.touchAgent(vault)
	m.emit(t, events.AvailableAgentExited, map[string]any{"agentVault": vault})
	return nil
}

// AnnounceDestroyAgent starts the destroy wait. The agent must not be
// available for minting and must back nothing, so that an agent in CCB or
// liquidation cannot leave it by announcing.
func (m *Manager) AnnounceDestroyAgent(ctx context.Context, caller, vault string) (allowedAt time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "AnnounceDestroyAgent", attribute.String("agent", vault))
	defer func() { m.finish(t, err) }()

	a, err := m.ownedAgent(caller, vault)
	if err != nil {
		return time.Time{}, err
	}
	if a.Available {
		return time.Time{}, ErrAgentStillAvailable
	}
	if a.Status == model.AgentDestroying {
		return a.DestroyAllowedAt, nil
	}
	if backed := a.BackedAMG(); !backed.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %s AMG", ErrOutstandingBacking, backed)
	}
	if err := a.Transition(model.AgentDestroying); err != nil {
		return time.Time{}, err
	}
	a.DestroyAllowedAt = t.now.Add(time.Duration(m.settings().WithdrawalWaitMinSeconds) * time.Second)
	t.touchAgent(vault)
	m.emit(t, events.AgentDestroyAnnounced, map[string]any{
		"agentVault": vault,
		"timestamp":  a.DestroyAllowedAt.Unix(),
	})
	slog.Info("agent destroy announced", "asset_manager", m.address, "agent", vault, "allowed_at", a.DestroyAllowedAt)
	return a.DestroyAllowedAt, nil
}

// DestroyAgent removes an agent whose destroy wait elapsed and that backs
// nothing. Remaining collateral is paid out to the owner.
func (m *Manager) DestroyAgent(ctx context.Context, caller, vault string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "DestroyAgent", attribute.String("agent", vault))
	defer func() { m.finish(t, err) }()

	a, err := m.ownedAgent(caller, vault)
	if err != nil {
		return err
	}
	if a.Status != model.AgentDestroying {
		return ErrDestroyNotAnnounced
	}
	if t.now.Before(a.DestroyAllowedAt) {
		return fmt.Errorf("%w: allowed at %s", ErrDestroyNotAllowedYet, a.DestroyAllowedAt.Format(time.RFC3339))
	}
	if !a.BackedAMG().IsZero() {
		return fmt.Errorf("%w: %s AMG", ErrOutstandingBacking, a.BackedAMG())
	}

	m.pay(a.Owner, a.CollateralToken, a.CollateralWei)
	delete(m.agents, vault)
	t.deleted[vault] = true
	m.emit(t, events.AgentDestroyed, map[string]any{"agentVault": vault})
	slog.Info("agent destroyed", "asset_manager", m.address, "agent", vault)
	return nil
}

// AgentInfo returns the agent with its derived risk figures.
func (m *Manager) AgentInfo(ctx context.Context, vault string) (*model.AgentInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, err := m.agent(vault)
	if err != nil {
		return nil, err
	}
	info := &model.AgentInfo{Agent: *a.Clone(), FreeCollateralWei: a.CollateralWei}
	if a.BackedAMG().IsZero() {
		info.Unbacked = true
		info.FreeCollateralWei = conversion.SubFloor(a.CollateralWei, a.WithdrawalAnnouncedWei)
		lots, err := m.freeLotsUnbacked(ctx, a)
		if err != nil {
			return nil, err
		}
		info.FreeCollateralLots = lots
		return info, nil
	}
	p, err := m.pricesFor(ctx, a)
	if err != nil {
		return nil, err
	}
	info.CollateralRatioBIPS = collateralRatioBIPS(a, p)
	info.CollateralRatio = decimal.NewFromBigInt(new(big.Int).SetUint64(info.CollateralRatioBIPS), 0).
		Div(decimal.NewFromInt(conversion.MaxBIPS))
	if info.FreeCollateralWei, err = m.freeCollateralWei(a, p); err != nil {
		return nil, err
	}
	if info.FreeCollateralLots, err = m.freeCollateralLots(a, p); err != nil {
		return nil, err
	}
	if a.Status.InLiquidation() {
		info.LiquidationFactor = m.liquidationFactorBIPS(a, info.CollateralRatioBIPS, m.clock.Now())
	}
	return info, nil
}

// freeLotsUnbacked prices lots for an agent that backs nothing, or
// reports zero when no price is available.
func (m *Manager) freeLotsUnbacked(ctx context.Context, a *model.Agent) (uint64, error) {
	p, err := m.pricesFor(ctx, a)
	if err != nil {
		return 0, nil
	}
	return m.freeCollateralLots(a, p)
}

// Agents lists all agents sorted by vault address.
func (m *Manager) Agents() []model.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, *a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VaultAddress < out[j].VaultAddress })
	return out
}

// AvailableAgents lists agents open for minting.
func (m *Manager) AvailableAgents() []model.Agent {
	var out []model.Agent
	for _, a := range m.Agents() {
		if a.Available && a.Status == model.AgentNormal {
			out = append(out, a)
		}
	}
	return out
}
