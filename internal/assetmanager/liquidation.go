package assetmanager

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	sdkmath "cosmossdk.io/math"
	"go.opentelemetry.io/otel/attribute"

	"github.com/atmx/fasset-manager/internal/conversion"
	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
)

// evaluate moves the agent between Normal, CCB, Liquidating and
// FullLiquidation according to its current collateral ratio:
//
//	ratio < safety                      -> FullLiquidation
//	Normal, ratio < ccbMin              -> CCB
//	CCB, ratio >= ccbMin                -> Normal
//	CCB for ccbTimeSeconds              -> Liquidating
//	Liquidating, ratio >= minCR         -> Normal
//
// FullLiquidation and Destroying are left only through destroy.
func (m *Manager) evaluate(t *txn, a *model.Agent, p agentPrices) {
	switch a.Status {
	case model.AgentNormal, model.AgentCCB, model.AgentLiquidating:
	default:
		return
	}
	s := m.settings()
	ratio := collateralRatioBIPS(a, p)
	if ratio < s.SafetyMinCollateralRatioBIPS {
		m.startFullLiquidation(t, a)
		return
	}

	switch a.Status {
	case model.AgentNormal:
		if ratio < s.CCBMinCollateralRatioBIPS {
			mustTransition(a, model.AgentCCB)
			a.CCBStartedAt = t.now
			t.touchAgent(a.VaultAddress)
			m.emit(t, events.AgentInCCB, map[string]any{"agentVault": a.VaultAddress, "timestamp": t.now.Unix()})
		}
	case model.AgentCCB:
		if ratio >= s.CCBMinCollateralRatioBIPS {
			m.endLiquidation(t, a)
			return
		}
		if !t.now.Before(a.CCBStartedAt.Add(time.Duration(s.CCBTimeSeconds) * time.Second)) {
			mustTransition(a, model.AgentLiquidating)
			a.LiquidationStartedAt = t.now
			t.touchAgent(a.VaultAddress)
			m.emit(t, events.LiquidationStarted, map[string]any{"agentVault": a.VaultAddress, "timestamp": t.now.Unix()})
		}
	case model.AgentLiquidating:
		if ratio >= s.MinCollateralRatioBIPS {
			m.endLiquidation(t, a)
		}
	}
}

// mustTransition applies an edge chosen by switching on a.Status. Every
// edge the liquidation engine takes is in the model transition table, so a
// failure is a programming error.
func mustTransition(a *model.Agent, next model.AgentStatus) {
	if err := a.Transition(next); err != nil {
		panic(fmt.Sprintf("assetmanager: agent %s: %v", a.VaultAddress, err))
	}
}

func (m *Manager) endLiquidation(t *txn, a *model.Agent) {
	mustTransition(a, model.AgentNormal)
	a.CCBStartedAt, a.LiquidationStartedAt = time.Time{}, time.Time{}
	t.touchAgent(a.VaultAddress)
	m.emit(t, events.LiquidationEnded, map[string]any{"agentVault": a.VaultAddress})
}

// startFullLiquidation puts the agent into full liquidation regardless of
// its collateral ratio. It is a no-op for agents already there.
func (m *Manager) startFullLiquidation(t *txn, a *model.Agent) {
	if a.Status == model.AgentFullLiquidation {
		return
	}
	if a.Status != model.AgentLiquidating {
		a.LiquidationStartedAt = t.now
	}
	mustTransition(a, model.AgentFullLiquidation)
	a.Available = false
	a.CCBStartedAt = time.Time{}
	t.touchAgent(a.VaultAddress)
	m.emit(t, events.FullLiquidationStarted, map[string]any{"agentVault": a.VaultAddress, "timestamp": t.now.Unix()})
	slog.Warn("agent in full liquidation", "asset_manager", m.address, "agent", a.VaultAddress)
}

// liquidationFactorBIPS is the premium tier for the liquidation step the
// agent is in, never above its current collateral ratio.
func (m *Manager) liquidationFactorBIPS(a *model.Agent, ratio uint64, now time.Time) uint64 {
	s := m.settings()
	factors := s.LiquidationCollateralFactorBIPS
	step := uint64(0)
	if s.LiquidationStepSeconds > 0 && now.After(a.LiquidationStartedAt) {
		step = uint64(now.Sub(a.LiquidationStartedAt)/time.Second) / s.LiquidationStepSeconds
	}
	if step >= uint64(len(factors)) {
		step = uint64(len(factors) - 1)
	}
	f := factors[step]
	if f > ratio {
		f = ratio
	}
	return f
}

// maxLiquidationAMG is the smallest amount of minted AMG whose liquidation
// at factorBIPS brings the agent back to minCollateralRatioBIPS:
//
//	x = ceil((minCR*backedWei - collateral*10000) / (weiPerAMG*(minCR - factor)))
func maxLiquidationAMG(a *model.Agent, p conversion.AMGPrice, factorBIPS, minCRBIPS uint64) sdkmath.Uint {
	if factorBIPS >= minCRBIPS {
		return a.MintedAMG
	}
	scale := conversion.AMGTokenWeiPriceScale.BigInt()
	// Both sides are multiplied by the price scale to stay integral.
	need := new(big.Int).Mul(a.BackedAMG().BigInt(), p.AMGToTokenWei.BigInt())
	need.Mul(need, new(big.Int).SetUint64(minCRBIPS))
	have := new(big.Int).Mul(a.CollateralWei.BigInt(), big.NewInt(conversion.MaxBIPS))
	have.Mul(have, scale)
	if need.Cmp(have) <= 0 {
		return sdkmath.ZeroUint()
	}
	num := need.Sub(need, have)
	den := new(big.Int).Mul(p.AMGToTokenWei.BigInt(), new(big.Int).SetUint64(minCRBIPS-factorBIPS))
	if den.Sign() == 0 {
		return a.MintedAMG
	}
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	if q.Cmp(a.MintedAMG.BigInt()) >= 0 {
		return a.MintedAMG
	}
	return sdkmath.NewUintFromBigInt(q)
}

// StartLiquidation re-evaluates the agent's collateral ratio and applies
// any status change it implies. Anyone may call it.
func (m *Manager) StartLiquidation(ctx context.Context, vault string) (status model.AgentStatus, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "StartLiquidation", attribute.String("agent", vault))
	defer func() { m.finish(t, err) }()

	a, err := m.agent(vault)
	if err != nil {
		return "", err
	}
	p, err := m.pricesOrNone(t.ctx, a)
	if err != nil {
		return "", err
	}
	m.evaluate(t, a, p)
	return a.Status, nil
}

// LiquidationResult reports one Liquidate call.
type LiquidationResult struct {
	LiquidatedUBA sdkmath.Uint `json:"liquidated_uba"`
	PaidWei       sdkmath.Uint `json:"paid_wei"`
	FactorBIPS    uint64       `json:"factor_bips"`
}

// Liquidate burns up to amountUBA of the liquidator's f-assets against the
// agent's minted backing and pays the liquidator the burnt value in
// collateral times the current liquidation factor. A liquidating agent is
// liquidated only up to the amount that restores minCollateralRatioBIPS.
func (m *Manager) Liquidate(ctx context.Context, liquidator, vault string, amountUBA sdkmath.Uint) (res LiquidationResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "Liquidate", attribute.String("agent", vault), attribute.String("liquidator", liquidator))
	defer func() { m.finish(t, err) }()

	res = LiquidationResult{LiquidatedUBA: sdkmath.ZeroUint(), PaidWei: sdkmath.ZeroUint()}
	a, err := m.agent(vault)
	if err != nil {
		return res, err
	}
	if amountUBA.IsZero() {
		return res, ErrZeroAmount
	}
	s := m.settings()
	p, err := m.pricesFor(t.ctx, a)
	if err != nil {
		return res, err
	}
	cur := a.Clone()
	m.evaluate(t, cur, p)
	if !cur.Status.InLiquidation() {
		return res, fmt.Errorf("%w: agent is %s", ErrNotInLiquidation, cur.Status)
	}

	ratio := collateralRatioBIPS(cur, p)
	factor := m.liquidationFactorBIPS(cur, ratio, t.now)
	maxAMG := cur.MintedAMG
	if cur.Status == model.AgentLiquidating {
		maxAMG = maxLiquidationAMG(cur, p.fast, factor, s.MinCollateralRatioBIPS)
	}
	amg, err := conversion.UBAToAMG(s.Conversion, amountUBA)
	if err != nil {
		return res, err
	}
	if amg.GT(maxAMG) {
		amg = maxAMG
	}
	uba, err := conversion.AMGToUBA(s.Conversion, amg)
	if err != nil {
		return res, err
	}
	if m.balance(liquidator).LT(uba) {
		return res, fmt.Errorf("%w: have %s, need %s", ErrFAssetBalanceTooLow, m.balance(liquidator), uba)
	}
	wei, err := p.fast.ToWei(amg)
	if err != nil {
		return res, err
	}
	payout, err := conversion.MulBIPS(wei, factor)
	if err != nil {
		return res, err
	}

	*a = *cur
	t.touchAgent(vault)
	res.FactorBIPS = factor
	if amg.IsZero() {
		return res, nil
	}
	m.burn(liquidator, uba)
	a.MintedAMG = a.MintedAMG.Sub(amg)
	m.removeAgentTickets(vault, amg)
	paid := m.payFromCollateral(a, liquidator, payout)
	res.LiquidatedUBA, res.PaidWei = uba, paid
	m.emit(t, events.LiquidationPerformed, map[string]any{
		"agentVault": vault,
		"liquidator": liquidator,
		"valueUBA":   uba.String(),
		"paidWei":    paid.String(),
		"factorBIPS": factor,
	})
	m.evaluate(t, a, p)
	slog.Info("liquidation performed", "asset_manager", m.address, "agent", vault,
		"liquidator", liquidator, "value_uba", uba.String(), "paid_wei", paid.String(), "factor_bips", factor)
	return res, nil
}
