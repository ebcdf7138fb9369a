package assetmanager

import (
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
	"github.com/atmx/fasset-manager/internal/priceoracle"
	"github.com/atmx/fasset-manager/internal/settings"
)

func TestNew_Validation(t *testing.T) {
	f := newFixture(t)
	good := Config{
		Address:     "0xother",
		Settings:    f.m.Settings(),
		Collaterals: f.m.Collaterals(),
		Prices:      priceoracle.NewReader(f.feed, f.clock),
		Verifier:    f.facts,
	}
	if _, err := New(good); err != nil {
		t.Fatalf("New: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no address", func(c *Config) { c.Address = "" }},
		{"no verifier", func(c *Config) { c.Verifier = nil }},
		{"no collateral", func(c *Config) { c.Collaterals = nil }},
		{"collateral without symbol", func(c *Config) { c.Collaterals = []model.CollateralType{{Token: "USDC"}} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := good
			tc.mutate(&cfg)
			if _, err := New(cfg); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestPauseAndTerminate(t *testing.T) {
	f := newFixture(t)
	f.mint(f.vault, 1)
	f.events.Reset()

	if err := f.m.Pause(f.ctx, stranger); !errors.Is(err, ErrOnlyAssetManagerController) {
		t.Fatalf("expected ErrOnlyAssetManagerController, got %v", err)
	}
	if err := f.m.Terminate(f.ctx, controllerAddr); !errors.Is(err, ErrNotPausedEnough) {
		t.Fatalf("unpaused terminate: expected ErrNotPausedEnough, got %v", err)
	}
	if n := len(f.events.Events()); n != 0 {
		t.Fatalf("failing calls must not emit events, got %v", f.events.Names())
	}

	if err := f.m.Pause(f.ctx, controllerAddr); err != nil {
		t.Fatal(err)
	}
	pausedAt := f.m.State().PausedAt
	f.clock.Advance(time.Hour)
	if err := f.m.Pause(f.ctx, controllerAddr); err != nil {
		t.Fatal(err)
	}
	if got := f.m.State().PausedAt; !got.Equal(pausedAt) {
		t.Errorf("second pause moved the pause time to %s", got)
	}
	if n := len(f.events.Named(events.Paused)); n != 1 {
		t.Errorf("expected one Paused event, got %d", n)
	}

	_, err := f.m.ReserveCollateral(f.ctx, ReserveRequest{Minter: minter, AgentVault: f.vault, Lots: 1, MaxMintingFeeBIPS: 500, FeePaidWei: u("5000000000000000")})
	if !errors.Is(err, ErrPaused) {
		t.Errorf("paused reservation: expected ErrPaused, got %v", err)
	}
	// Redemption keeps working while paused.
	if _, err := f.m.RedeemLots(f.ctx, minter, 1, redeemerAddress); err != nil {
		t.Errorf("paused redemption: %v", err)
	}

	f.clock.Advance(MinPauseBeforeTerminate - 2*time.Hour)
	if err := f.m.Terminate(f.ctx, controllerAddr); !errors.Is(err, ErrNotPausedEnough) {
		t.Fatalf("early terminate: expected ErrNotPausedEnough, got %v", err)
	}
	f.clock.Advance(time.Hour)
	if err := f.m.Terminate(f.ctx, controllerAddr); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if !f.m.State().Terminated {
		t.Fatal("manager must be terminated")
	}

	if err := f.m.Unpause(f.ctx, controllerAddr); !errors.Is(err, ErrTerminated) {
		t.Errorf("Unpause: expected ErrTerminated, got %v", err)
	}
	if _, err := f.m.RedeemLots(f.ctx, minter, 1, redeemerAddress); !errors.Is(err, ErrTerminated) {
		t.Errorf("RedeemLots: expected ErrTerminated, got %v", err)
	}
	if err := f.m.Transfer(f.ctx, minter, stranger, sdkmath.NewUint(1)); !errors.Is(err, ErrTerminated) {
		t.Errorf("Transfer: expected ErrTerminated, got %v", err)
	}
	if err := f.m.Terminate(f.ctx, controllerAddr); err != nil {
		t.Errorf("terminating twice: %v", err)
	}
}

func TestUnpause(t *testing.T) {
	f := newFixture(t)
	if err := f.m.Unpause(f.ctx, controllerAddr); err != nil {
		t.Fatalf("unpausing a running manager: %v", err)
	}
	if n := len(f.events.Events()); n != 0 {
		t.Errorf("no-op unpause emitted %v", f.events.Names())
	}
	f.m.Pause(f.ctx, controllerAddr)
	if err := f.m.Unpause(f.ctx, controllerAddr); err != nil {
		t.Fatal(err)
	}
	if st := f.m.State(); st.Paused || !st.PausedAt.IsZero() {
		t.Errorf("state after unpause: %+v", st)
	}
	f.reserve(f.vault, 1)
}

func TestApplySettingUpdate(t *testing.T) {
	f := newFixture(t)
	before := f.m.State().SettingsVersion
	upd := settings.Update{Method: settings.SetRedemptionFeeBips, Values: settings.Uints(300)}

	if err := f.m.ApplySettingUpdate(f.ctx, stranger, upd); !errors.Is(err, ErrOnlyAssetManagerController) {
		t.Fatalf("expected ErrOnlyAssetManagerController, got %v", err)
	}
	if err := f.m.ValidateSettingUpdate(f.ctx, controllerAddr, upd); err != nil {
		t.Fatalf("ValidateSettingUpdate: %v", err)
	}
	if got := f.m.Settings().RedemptionFeeBIPS; got != 200 {
		t.Fatalf("validation must not apply, fee %d", got)
	}
	if err := f.m.ApplySettingUpdate(f.ctx, controllerAddr, upd); err != nil {
		t.Fatalf("ApplySettingUpdate: %v", err)
	}
	if got := f.m.Settings().RedemptionFeeBIPS; got != 300 {
		t.Errorf("fee: got %d, want 300", got)
	}
	changed := f.events.Named(events.SettingChanged)
	if len(changed) != 1 || changed[0].Args["name"] != "redemptionFeeBIPS" || changed[0].Args["value"] != "300" {
		t.Errorf("SettingChanged: got %+v", changed)
	}
	version := f.m.State().SettingsVersion
	if version != before+1 {
		t.Errorf("version: got %d, want %d", version, before+1)
	}
	if n := len(f.replica.versions); n == 0 || f.replica.versions[n-1] != version {
		t.Errorf("replica versions: %v", f.replica.versions)
	}

	f.events.Reset()
	again := settings.Update{Method: settings.SetRedemptionFeeBips, Values: settings.Uints(250)}
	if err := f.m.ApplySettingUpdate(f.ctx, controllerAddr, again); !errors.Is(err, settings.ErrTooCloseToPreviousUpdate) {
		t.Errorf("expected ErrTooCloseToPreviousUpdate, got %v", err)
	}
	if len(f.events.Events()) != 0 || f.m.State().SettingsVersion != version {
		t.Errorf("rejected update changed state")
	}
	f.clock.Advance(24 * time.Hour)
	if err := f.m.ApplySettingUpdate(f.ctx, controllerAddr, again); err != nil {
		t.Errorf("after the repeat time: %v", err)
	}

	array := settings.Update{Method: settings.SetLiquidationCollateralFactorBips, Values: settings.Uints(11_000, 13_000)}
	if err := f.m.ApplySettingUpdate(f.ctx, controllerAddr, array); err != nil {
		t.Fatal(err)
	}
	arr := f.events.Named(events.SettingArrayChanged)
	if len(arr) != 1 {
		t.Fatalf("expected one SettingArrayChanged, got %v", f.events.Names())
	}
	if vals, _ := arr[0].Args["value"].([]string); len(vals) != 2 || vals[1] != "13000" {
		t.Errorf("array value: %v", arr[0].Args["value"])
	}
}

func TestNew_RestoresSettingsSnapshot(t *testing.T) {
	f := newFixture(t)
	upd := settings.Update{Method: settings.SetRedemptionFeeBips, Values: settings.Uints(300)}
	if err := f.m.ApplySettingUpdate(f.ctx, controllerAddr, upd); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.replica.lastUpdate[settings.SetRedemptionFeeBips]; !ok {
		t.Fatalf("replicated update times: %v", f.replica.lastUpdate)
	}

	restarted, err := New(Config{
		Address: managerAddr,
		Restore: &settings.Snapshot{
			Version:    f.replica.versions[len(f.replica.versions)-1],
			Settings:   f.m.Settings(),
			LastUpdate: f.replica.lastUpdate,
		},
		Collaterals: f.m.Collaterals(),
		Prices:      priceoracle.NewReader(f.feed, f.clock),
		Verifier:    f.facts,
		Clock:       f.clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := restarted.AttachController(f.ctx, controllerAddr, true); err != nil {
		t.Fatal(err)
	}
	if got, want := restarted.State().SettingsVersion, f.m.State().SettingsVersion; got != want {
		t.Errorf("version: got %d, want %d", got, want)
	}
	f.clock.Advance(time.Hour)
	again := settings.Update{Method: settings.SetRedemptionFeeBips, Values: settings.Uints(250)}
	if err := restarted.ApplySettingUpdate(f.ctx, controllerAddr, again); !errors.Is(err, settings.ErrTooCloseToPreviousUpdate) {
		t.Fatalf("restart must keep the update frequency limit, got %v", err)
	}
}

func TestAttachController(t *testing.T) {
	f := newFixture(t)
	if err := f.m.AttachController(f.ctx, "0xnext", false); err != nil {
		t.Fatal(err)
	}
	if got := f.m.Controller(); got != controllerAddr {
		t.Fatalf("detaching another controller changed it to %q", got)
	}
	if n := len(f.events.Events()); n != 0 {
		t.Errorf("no-op detach emitted %v", f.events.Names())
	}
	if err := f.m.AttachController(f.ctx, controllerAddr, false); err != nil {
		t.Fatal(err)
	}
	if got := f.m.Controller(); got != "" {
		t.Fatalf("controller after detach: %q", got)
	}
	if err := f.m.Pause(f.ctx, controllerAddr); !errors.Is(err, ErrOnlyAssetManagerController) {
		t.Errorf("detached controller: expected ErrOnlyAssetManagerController, got %v", err)
	}
	if err := f.m.AttachController(f.ctx, "0xnext", true); err != nil {
		t.Fatal(err)
	}
	if err := f.m.Pause(f.ctx, "0xnext"); err != nil {
		t.Errorf("new controller: %v", err)
	}
	if n := len(f.events.Named(events.ControllerAttached)); n != 2 {
		t.Errorf("expected two ControllerAttached events, got %d", n)
	}
}

func TestRefreshPriceFeeds(t *testing.T) {
	f := newFixture(t)
	if err := f.m.RefreshPriceFeeds(f.ctx, controllerAddr); err != nil {
		t.Fatalf("RefreshPriceFeeds: %v", err)
	}
	refreshed := f.events.Named(events.PriceFeedsRefreshed)
	if len(refreshed) != 1 {
		t.Fatalf("expected PriceFeedsRefreshed, got %v", f.events.Names())
	}
	if syms, _ := refreshed[0].Args["symbols"].([]string); len(syms) != 2 {
		t.Errorf("symbols: %v", refreshed[0].Args["symbols"])
	}
}
