package settings

import (
	"encoding/json"
	"fmt"
	"os"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"

	"github.com/atmx/fasset-manager/internal/conversion"
)

// parameterFile is the on-disk shape of asset manager parameters. Integer
// fields overlay Default(); token amounts may be given in whole units.
type parameterFile struct {
	Settings
	// AssetDecimals derives the minting granularity as
	// 10^(AssetDecimals - AssetMintingDecimals).
	AssetDecimals *uint8 `json:"asset_decimals,omitempty"`
	// LotSize is in whole underlying asset units.
	LotSize *decimal.Decimal `json:"lot_size,omitempty"`
	// Rewards in whole native tokens.
	ConfirmationByOthersReward *decimal.Decimal `json:"confirmation_by_others_reward,omitempty"`
	PaymentChallengeReward     *decimal.Decimal `json:"payment_challenge_reward,omitempty"`
}

// Load reads a JSON parameter file. Missing fields keep their defaults.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read parameters: %w", err)
	}
	return Parse(data)
}

// Parse decodes parameters from JSON and validates them.
func Parse(data []byte) (Settings, error) {
	pf := parameterFile{Settings: Default()}
	if err := json.Unmarshal(data, &pf); err != nil {
		return Settings{}, fmt.Errorf("decode parameters: %w", err)
	}
	s := pf.Settings

	if pf.AssetDecimals != nil {
		if *pf.AssetDecimals < s.Conversion.AssetMintingDecimals {
			return Settings{}, fmt.Errorf("%w: asset decimals %d below minting decimals %d",
				ErrInvalidArguments, *pf.AssetDecimals, s.Conversion.AssetMintingDecimals)
		}
		g, err := conversion.Pow10(int(*pf.AssetDecimals - s.Conversion.AssetMintingDecimals))
		if err != nil {
			return Settings{}, err
		}
		s.Conversion.AssetMintingGranularityUBA = g
	}
	if pf.LotSize != nil {
		lot, err := scaled(*pf.LotSize, int32(s.Conversion.AssetMintingDecimals), "lot_size")
		if err != nil {
			return Settings{}, err
		}
		s.LotSizeAMG = lot
	}
	if pf.ConfirmationByOthersReward != nil {
		v, err := scaled(*pf.ConfirmationByOthersReward, NATDecimals, "confirmation_by_others_reward")
		if err != nil {
			return Settings{}, err
		}
		s.ConfirmationByOthersRewardNATWei = v
	}
	if pf.PaymentChallengeReward != nil {
		v, err := scaled(*pf.PaymentChallengeReward, NATDecimals, "payment_challenge_reward")
		if err != nil {
			return Settings{}, err
		}
		s.PaymentChallengeRewardNATWei = v
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// scaled converts a whole-unit decimal into base units with the given
// number of decimals. Fractions below one base unit are rejected.
func scaled(v decimal.Decimal, decimals int32, name string) (sdkmath.Uint, error) {
	if v.IsNegative() {
		return sdkmath.Uint{}, fmt.Errorf("%w: %s is negative", ErrInvalidArguments, name)
	}
	base := v.Shift(decimals)
	if !base.Equal(base.Truncate(0)) {
		return sdkmath.Uint{}, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidArguments, name, decimals)
	}
	u, err := sdkmath.ParseUint(base.String())
	if err != nil {
		return sdkmath.Uint{}, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
	}
	return u, nil
}
