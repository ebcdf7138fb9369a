package assetmanager

import (
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
)

func (f *fixture) evaluate(vault string) model.AgentStatus {
	f.t.Helper()
	status, err := f.m.StartLiquidation(f.ctx, vault)
	if err != nil {
		f.t.Fatalf("StartLiquidation: %v", err)
	}
	return status
}

func TestCollateralRatio_CCBThenFullLiquidation(t *testing.T) {
	f := newFixture(t)
	f.mint(f.vault, 1)

	info := f.agent(f.vault)
	if info.CollateralRatioBIPS != 25_000 {
		t.Fatalf("initial ratio: got %d, want 25000", info.CollateralRatioBIPS)
	}
	if info.CollateralRatio.String() != "2.5" {
		t.Errorf("decimal ratio: got %s, want 2.5", info.CollateralRatio)
	}

	// 0.7353 USD per XRP puts the ratio at 170%.
	f.setPrice(73_530)
	if got := f.evaluate(f.vault); got != model.AgentCCB {
		t.Fatalf("at 170%%: got %s, want %s", got, model.AgentCCB)
	}
	if n := len(f.events.Named(events.AgentInCCB)); n != 1 {
		t.Errorf("expected one AgentInCCB event, got %d", n)
	}
	if n := len(f.events.Named(events.FullLiquidationStarted)); n != 0 {
		t.Fatalf("170%% must not start full liquidation")
	}

	// Below the 150% safety ratio.
	f.setPrice(85_000)
	if got := f.evaluate(f.vault); got != model.AgentFullLiquidation {
		t.Fatalf("at 147%%: got %s, want %s", got, model.AgentFullLiquidation)
	}
	if n := len(f.events.Named(events.FullLiquidationStarted)); n != 1 {
		t.Errorf("expected one FullLiquidationStarted event, got %d", n)
	}
	if info := f.agent(f.vault); info.Available {
		t.Errorf("agent in full liquidation must leave the available list")
	}

	// Full liquidation is kept even if the price recovers.
	f.setPrice(50_000)
	if got := f.evaluate(f.vault); got != model.AgentFullLiquidation {
		t.Errorf("after recovery: got %s, want %s", got, model.AgentFullLiquidation)
	}
}

func TestCollateralRatio_CCBRecovers(t *testing.T) {
	f := newFixture(t)
	f.mint(f.vault, 1)
	f.setPrice(73_530)
	f.evaluate(f.vault)

	if err := f.m.DepositCollateral(f.ctx, owner, f.vault, u("1000000000000000000")); err != nil {
		t.Fatal(err)
	}
	if got := f.agent(f.vault).Status; got != model.AgentNormal {
		t.Errorf("after top up: got %s, want %s", got, model.AgentNormal)
	}
	if n := len(f.events.Named(events.LiquidationEnded)); n != 1 {
		t.Errorf("expected LiquidationEnded, got %v", f.events.Names())
	}
}

func TestLiquidate_RestoresMinCollateralRatio(t *testing.T) {
	f := newFixture(t)
	f.mint(f.vault, 1)
	f.setPrice(73_530)
	f.evaluate(f.vault)

	if _, err := f.m.Liquidate(f.ctx, minter, f.vault, sdkmath.NewUint(1_000_000)); !errors.Is(err, ErrNotInLiquidation) {
		t.Fatalf("CCB agent: expected ErrNotInLiquidation, got %v", err)
	}

	f.clock.Advance(180 * time.Second)
	if got := f.evaluate(f.vault); got != model.AgentLiquidating {
		t.Fatalf("after ccb time: got %s, want %s", got, model.AgentLiquidating)
	}

	res, err := f.m.Liquidate(f.ctx, minter, f.vault, sdkmath.NewUint(1_000_000))
	if err != nil {
		t.Fatalf("Liquidate: %v", err)
	}
	// ceil((2.1 * 7.353e17 - 1.25e18) / (7.353e11 * (2.1 - 1.1))) AMG.
	if !res.LiquidatedUBA.Equal(sdkmath.NewUint(400_014)) {
		t.Errorf("liquidated: got %s, want 400014", res.LiquidatedUBA)
	}
	if res.FactorBIPS != 11_000 {
		t.Errorf("factor: got %d, want 11000", res.FactorBIPS)
	}
	if !res.PaidWei.Equal(u("323543323620000000")) {
		t.Errorf("paid: got %s, want 323543323620000000", res.PaidWei)
	}
	if got := f.m.BalanceOf(minter); !got.Equal(sdkmath.NewUint(599_986)) {
		t.Errorf("liquidator balance: got %s, want 599986", got)
	}
	info := f.agent(f.vault)
	if info.Status != model.AgentNormal || info.CollateralRatioBIPS != 21_000 {
		t.Errorf("after liquidation: status %s ratio %d", info.Status, info.CollateralRatioBIPS)
	}
	if tickets := f.m.Tickets(); len(tickets) != 1 || !tickets[0].ValueAMG.Equal(sdkmath.NewUint(599_986)) {
		t.Errorf("ticket must shrink by the liquidated amount: %+v", tickets)
	}
}

func TestLiquidate_FullLiquidationTakesEverything(t *testing.T) {
	f := newFixture(t)
	f.mint(f.vault, 1)
	f.setPrice(85_000)

	res, err := f.m.Liquidate(f.ctx, minter, f.vault, sdkmath.NewUint(5_000_000))
	if err != nil {
		t.Fatalf("Liquidate: %v", err)
	}
	if !res.LiquidatedUBA.Equal(sdkmath.NewUint(1_000_000)) {
		t.Errorf("liquidated: got %s, want everything minted", res.LiquidatedUBA)
	}
	// 8.5e17 wei of backing at 110%.
	if !res.PaidWei.Equal(u("935000000000000000")) {
		t.Errorf("paid: got %s", res.PaidWei)
	}
	info := f.agent(f.vault)
	if info.Status != model.AgentFullLiquidation || !info.MintedAMG.IsZero() {
		t.Errorf("after liquidation: status %s minted %s", info.Status, info.MintedAMG)
	}
	if len(f.m.Tickets()) != 0 {
		t.Errorf("tickets must be consumed")
	}
}

func TestLiquidationFactor_StepsAndCap(t *testing.T) {
	f := newFixture(t)
	a := &model.Agent{LiquidationStartedAt: t0}
	cases := []struct {
		elapsed time.Duration
		ratio   uint64
		want    uint64
	}{
		{0, 20_000, 11_000},
		{89 * time.Second, 20_000, 11_000},
		{90 * time.Second, 20_000, 12_000},
		{180 * time.Second, 20_000, 14_000},
		{time.Hour, 20_000, 14_000},
		{time.Hour, 12_500, 12_500},
	}
	for _, tc := range cases {
		if got := f.m.liquidationFactorBIPS(a, tc.ratio, t0.Add(tc.elapsed)); got != tc.want {
			t.Errorf("elapsed %s ratio %d: got %d, want %d", tc.elapsed, tc.ratio, got, tc.want)
		}
	}
}

func TestMustTransition_MissingEdgePanics(t *testing.T) {
	a := &model.Agent{
		VaultAddress: "0xvault",
		Status:       model.AgentFullLiquidation,
		MintedAMG:    sdkmath.ZeroUint(),
		ReservedAMG:  sdkmath.ZeroUint(),
		RedeemingAMG: sdkmath.ZeroUint(),
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic leaving full liquidation for normal")
		}
		if a.Status != model.AgentFullLiquidation {
			t.Errorf("status changed to %s", a.Status)
		}
	}()
	mustTransition(a, model.AgentNormal)
}
