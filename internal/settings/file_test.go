package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	sdkmath "cosmossdk.io/math"
)

func TestParse_OverlaysDefaults(t *testing.T) {
	s, err := Parse([]byte(`{
		"source_id": "testBTC",
		"conversion": {"asset_minting_decimals": 5},
		"asset_decimals": 8,
		"lot_size": "0.01",
		"payment_challenge_reward": "12.5",
		"max_redeemed_tickets": 10
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if s.SourceID != "testBTC" || s.MaxRedeemedTickets != 10 {
		t.Errorf("overlay not applied: %+v", s)
	}
	if !s.Conversion.AssetMintingGranularityUBA.Equal(sdkmath.NewUint(1000)) {
		t.Errorf("expected granularity 1000, got %s", s.Conversion.AssetMintingGranularityUBA)
	}
	if !s.LotSizeAMG.Equal(sdkmath.NewUint(1000)) {
		t.Errorf("expected lot 1000 AMG, got %s", s.LotSizeAMG)
	}
	if !s.PaymentChallengeRewardNATWei.Equal(sdkmath.NewUintFromString("12500000000000000000")) {
		t.Errorf("unexpected reward %s", s.PaymentChallengeRewardNATWei)
	}
	if s.RedemptionFeeBIPS != Default().RedemptionFeeBIPS {
		t.Error("unspecified field lost its default")
	}
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"too precise lot":  `{"lot_size": "0.0000001"}`,
		"negative reward":  `{"payment_challenge_reward": "-1"}`,
		"decimals below":   `{"asset_decimals": 2}`,
		"invalid settings": `{"redemption_default_factor_bips": 9000}`,
	}
	for name, body := range cases {
		if _, err := Parse([]byte(body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := Parse([]byte(`{"liquidation_collateral_factor_bips": []}`)); !errors.Is(err, ErrEmptyArray) {
		t.Errorf("expected ErrEmptyArray, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	if err := os.WriteFile(path, []byte(`{"ccb_time_seconds": 300}`), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.CCBTimeSeconds != 300 {
		t.Errorf("expected 300, got %d", s.CCBTimeSeconds)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
