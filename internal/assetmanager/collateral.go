package assetmanager

import (
	"context"
	"fmt"
	"math"
	"math/big"

	sdkmath "cosmossdk.io/math"

	"github.com/atmx/fasset-manager/internal/conversion"
	"github.com/atmx/fasset-manager/internal/model"
)

// agentPrices holds the AMG prices an agent's collateral is valued at.
// Trusted is nil when no fresh trusted price exists.
type agentPrices struct {
	fast    conversion.AMGPrice
	trusted *conversion.AMGPrice
}

// amgPrice derives the AMG price of a collateral type. Fast prices are not
// age gated; trusted prices must be younger than maxTrustedPriceAgeSeconds.
func (m *Manager) amgPrice(ctx context.Context, ct model.CollateralType, trusted bool) (conversion.AMGPrice, error) {
	s := m.settings()
	maxAge := uint64(math.MaxUint64)
	if trusted {
		maxAge = s.MaxTrustedPriceAgeSeconds
	}
	asset, err := m.prices.GetPrice(ctx, ct.AssetFtsoSymbol, trusted, maxAge)
	if err != nil {
		return conversion.AMGPrice{}, err
	}
	token := conversion.DirectPegPrice
	if !ct.IsDirectPeg() {
		tp, err := m.prices.GetPrice(ctx, ct.TokenFtsoSymbol, trusted, maxAge)
		if err != nil {
			return conversion.AMGPrice{}, err
		}
		token = conversion.FeedPrice{Value: tp.Value, Decimals: tp.Decimals}
	}
	return conversion.ForCollateral(s.Conversion, ct,
		conversion.FeedPrice{Value: asset.Value, Decimals: asset.Decimals}, token)
}

func (m *Manager) pricesFor(ctx context.Context, a *model.Agent) (agentPrices, error) {
	ct, ok := m.collaterals[a.CollateralToken]
	if !ok {
		return agentPrices{}, fmt.Errorf("%w: %s", ErrUnknownCollateral, a.CollateralToken)
	}
	fast, err := m.amgPrice(ctx, ct, false)
	if err != nil {
		return agentPrices{}, err
	}
	out := agentPrices{fast: fast}
	if tp, err := m.amgPrice(ctx, ct, true); err == nil {
		out.trusted = &tp
	}
	return out, nil
}

// ratioBIPS is collateral * 10000 / wei value of backedAMG, computed
// without intermediate rounding and clamped to MaxUint64. Nothing backed
// means an unbounded ratio.
func ratioBIPS(collateral, backedAMG sdkmath.Uint, p conversion.AMGPrice) uint64 {
	if backedAMG.IsZero() || p.AMGToTokenWei.IsZero() {
		return math.MaxUint64
	}
	num := new(big.Int).Mul(collateral.BigInt(), big.NewInt(conversion.MaxBIPS))
	num.Mul(num, conversion.AMGTokenWeiPriceScale.BigInt())
	den := new(big.Int).Mul(backedAMG.BigInt(), p.AMGToTokenWei.BigInt())
	q := num.Quo(num, den)
	if !q.IsUint64() {
		return math.MaxUint64
	}
	return q.Uint64()
}

// collateralRatioBIPS is the agent's ratio at the better of the fast and
// trusted price.
func collateralRatioBIPS(a *model.Agent, p agentPrices) uint64 {
	backed := a.BackedAMG()
	r := ratioBIPS(a.CollateralWei, backed, p.fast)
	if p.trusted != nil {
		if rt := ratioBIPS(a.CollateralWei, backed, *p.trusted); rt > r {
			r = rt
		}
	}
	return r
}

// lockedCollateralWei is the collateral held at minCollateralRatioBIPS
// for amg of backing.
func lockedCollateralWei(amg sdkmath.Uint, p conversion.AMGPrice, minCRBIPS uint64) (sdkmath.Uint, error) {
	wei, err := p.ToWei(amg)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	return conversion.MulBIPS(wei, minCRBIPS)
}

// freeCollateralWei is collateral not locked by backing or by an announced
// withdrawal.
func (m *Manager) freeCollateralWei(a *model.Agent, p agentPrices) (sdkmath.Uint, error) {
	locked, err := lockedCollateralWei(a.BackedAMG(), p.fast, m.settings().MinCollateralRatioBIPS)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	locked, err = conversion.Add(locked, a.WithdrawalAnnouncedWei)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	return conversion.SubFloor(a.CollateralWei, locked), nil
}

// freeCollateralLots is how many whole lots the free collateral can back.
func (m *Manager) freeCollateralLots(a *model.Agent, p agentPrices) (uint64, error) {
	s := m.settings()
	free, err := m.freeCollateralWei(a, p)
	if err != nil {
		return 0, err
	}
	lotWei, err := lockedCollateralWei(s.LotSizeAMG, p.fast, s.MinCollateralRatioBIPS)
	if err != nil {
		return 0, err
	}
	if lotWei.IsZero() {
		return 0, conversion.ErrZeroPrice
	}
	lots := free.Quo(lotWei)
	if !lots.BigInt().IsUint64() {
		return math.MaxUint64, nil
	}
	return lots.Uint64(), nil
}
