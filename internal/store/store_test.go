package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
	"github.com/atmx/fasset-manager/internal/settings"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

func backends(t *testing.T) map[string]Store {
	t.Helper()
	lite, err := OpenSQLite(filepath.Join(t.TempDir(), "fasset.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { lite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": lite,
	}
}

func TestAgents(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := &model.Agent{
				VaultAddress:             "0xvault1",
				Manager:                  "0xfxrp",
				Owner:                    "0xowner",
				UnderlyingAddress:        "rUnderlying",
				Status:                   model.AgentNormal,
				CollateralWei:            sdkmath.NewUintFromString("1250000000000000000000000000000"),
				FreeUnderlyingBalanceUBA: sdkmath.NewInt(-5),
				MintedAMG:                sdkmath.NewUint(1_000_000),
				ReservedAMG:              sdkmath.ZeroUint(),
				RedeemingAMG:             sdkmath.ZeroUint(),
				WithdrawalAnnouncedWei:   sdkmath.ZeroUint(),
				CreatedAt:                t0,
			}
			if err := s.SaveAgent(ctx, a); err != nil {
				t.Fatalf("SaveAgent: %v", err)
			}
			a.Status = model.AgentCCB
			if err := s.SaveAgent(ctx, a); err != nil {
				t.Fatalf("SaveAgent update: %v", err)
			}
			agents, err := s.ListAgents(ctx, "0xfxrp")
			if err != nil {
				t.Fatal(err)
			}
			if len(agents) != 1 {
				t.Fatalf("agents: got %d, want 1", len(agents))
			}
			got := agents[0]
			if got.Status != model.AgentCCB || !got.CollateralWei.Equal(a.CollateralWei) || !got.FreeUnderlyingBalanceUBA.Equal(sdkmath.NewInt(-5)) {
				t.Errorf("round trip: %+v", got)
			}
			if other, _ := s.ListAgents(ctx, "0xfbtc"); len(other) != 0 {
				t.Errorf("agents leak across managers: %v", other)
			}
			if err := s.DeleteAgent(ctx, "0xfxrp", "0xvault1"); err != nil {
				t.Fatal(err)
			}
			if agents, _ := s.ListAgents(ctx, "0xfxrp"); len(agents) != 0 {
				t.Errorf("deleted agent still listed")
			}
		})
	}
}

func TestRedemptions(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []uint64{3, 2, 1} {
				redeemer := "0xredeemer"
				if id == 2 {
					redeemer = "0xother"
				}
				r := &model.RedemptionRequest{
					ID:                        id,
					Manager:                   "0xfxrp",
					AgentVault:                "0xvault1",
					Redeemer:                  redeemer,
					RedeemerUnderlyingAddress: "rRedeemer",
					ValueAMG:                  sdkmath.NewUint(1_000_000),
					ValueUBA:                  sdkmath.NewUint(1_000_000),
					FeeUBA:                    sdkmath.NewUint(20_000),
					FirstUnderlyingBlock:      10,
					LastUnderlyingBlock:       20,
					LastUnderlyingTimestamp:   t0.Unix() + 120,
					PaymentReference:          "0x46425072664100020000000000000000000000000000000000000000000001",
					Status:                    model.RedemptionActive,
					RequestedAt:               t0,
				}
				if err := s.SaveRedemption(ctx, r); err != nil {
					t.Fatalf("SaveRedemption: %v", err)
				}
			}
			paid := &model.RedemptionRequest{
				ID: 1, Manager: "0xfxrp", Redeemer: "0xredeemer", Status: model.RedemptionPaid,
				ValueAMG: sdkmath.ZeroUint(), ValueUBA: sdkmath.ZeroUint(), FeeUBA: sdkmath.ZeroUint(), RequestedAt: t0,
			}
			if err := s.SaveRedemption(ctx, paid); err != nil {
				t.Fatal(err)
			}

			list, err := s.ListRedemptions(ctx, "0xfxrp", "0xredeemer")
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 2 || list[0].ID != 1 || list[1].ID != 3 {
				t.Fatalf("redemptions: %+v", list)
			}
			if list[0].Status != model.RedemptionPaid {
				t.Errorf("status update lost: %s", list[0].Status)
			}
			if !list[1].RequestedAt.Equal(t0) || !list[1].FeeUBA.Equal(sdkmath.NewUint(20_000)) || list[1].LastUnderlyingBlock != 20 {
				t.Errorf("round trip: %+v", list[1])
			}
		})
	}
}

func TestSettingsVersions(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.GetSettings(ctx, "0xfxrp"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			st := settings.Default()
			if err := s.SaveSettings(ctx, "0xfxrp", settings.Snapshot{Version: 1, Settings: st}); err != nil {
				t.Fatal(err)
			}
			st.RedemptionFeeBIPS = 300
			err := s.SaveSettings(ctx, "0xfxrp", settings.Snapshot{
				Version:    2,
				Settings:   st,
				LastUpdate: map[string]time.Time{settings.SetRedemptionFeeBips: t0},
			})
			if err != nil {
				t.Fatal(err)
			}
			got, err := s.GetSettings(ctx, "0xfxrp")
			if err != nil {
				t.Fatal(err)
			}
			if got.Version != 2 || got.Settings.RedemptionFeeBIPS != 300 {
				t.Errorf("got version %d fee %d", got.Version, got.Settings.RedemptionFeeBIPS)
			}
			if !got.Settings.LotSizeAMG.Equal(st.LotSizeAMG) || len(got.Settings.LiquidationCollateralFactorBIPS) != 3 {
				t.Errorf("settings round trip: %+v", got.Settings)
			}
			if at := got.LastUpdate[settings.SetRedemptionFeeBips]; !at.Equal(t0) || len(got.LastUpdate) != 1 {
				t.Errorf("update times round trip: %v", got.LastUpdate)
			}
		})
	}
}

func TestSettingsSnapshot_RestoresRateLimit(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			params, err := settings.NewParameterStore(settings.Default())
			if err != nil {
				t.Fatal(err)
			}
			if _, err := params.Apply(settings.Update{Method: settings.SetRedemptionFeeBips, Values: settings.Uints(300)}, t0); err != nil {
				t.Fatal(err)
			}
			if err := s.SaveSettings(ctx, "0xfxrp", params.Snapshot()); err != nil {
				t.Fatal(err)
			}

			snap, err := s.GetSettings(ctx, "0xfxrp")
			if err != nil {
				t.Fatal(err)
			}
			restored, err := settings.RestoreParameterStore(*snap)
			if err != nil {
				t.Fatal(err)
			}
			_, err = restored.Apply(settings.Update{Method: settings.SetRedemptionFeeBips, Values: settings.Uints(400)}, t0.Add(time.Hour))
			if !errors.Is(err, settings.ErrTooCloseToPreviousUpdate) {
				t.Fatalf("expected ErrTooCloseToPreviousUpdate, got %v", err)
			}
		})
	}
}

func TestEventLog(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			pub := EventLog(s)
			pub.Publish(ctx, []events.Event{
				events.New("0xfxrp", events.AgentCreated, t0, map[string]any{"agentVault": "0xvault1"}),
				events.New("0xfxrp", events.CollateralDeposited, t0, nil),
				events.New("0xfbtc", events.AgentCreated, t0.Add(time.Second), nil),
			})
			pub.Publish(ctx, []events.Event{
				events.New("0xfxrp", events.MintingExecuted, t0.Add(time.Minute), map[string]any{"lots": 2}),
			})

			all, err := s.ListEvents(ctx, EventFilter{})
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 4 || all[0].Name != events.AgentCreated || all[3].Name != events.MintingExecuted {
				t.Fatalf("events out of order: %v", all)
			}
			if all[0].Args["agentVault"] != "0xvault1" || !all[3].Timestamp.Equal(t0.Add(time.Minute)) {
				t.Errorf("round trip: %+v", all[0])
			}

			created, _ := s.ListEvents(ctx, EventFilter{Name: events.AgentCreated})
			if len(created) != 2 {
				t.Errorf("by name: got %d, want 2", len(created))
			}
			fxrp, _ := s.ListEvents(ctx, EventFilter{Source: "0xfxrp", Limit: 2})
			if len(fxrp) != 2 || fxrp[0].Name != events.CollateralDeposited || fxrp[1].Name != events.MintingExecuted {
				t.Errorf("limit keeps the newest events, got %v", fxrp)
			}
		})
	}
}
