package conversion

import (
	sdkmath "cosmossdk.io/math"

	"github.com/atmx/fasset-manager/internal/model"
)

// FeedPrice is one feed reading as consumed by the converter.
type FeedPrice struct {
	Value    sdkmath.Uint
	Decimals uint8
}

// DirectPegPrice is the token price used for direct-peg collateral.
var DirectPegPrice = FeedPrice{Value: sdkmath.OneUint(), Decimals: 0}

// AMGPrice is a derived AMG to collateral wei rate. It is computed on demand
// from current feed prices and never stored.
type AMGPrice struct {
	Settings      Settings
	AMGToTokenWei sdkmath.Uint
}

// ForCollateral derives the AMG price of a collateral type from the asset
// price and the token price. For direct-peg collateral the token price is
// ignored.
func ForCollateral(s Settings, ct model.CollateralType, asset, token FeedPrice) (AMGPrice, error) {
	if ct.IsDirectPeg() {
		token = DirectPegPrice
	}
	p, err := AMGToTokenWeiPrice(s, ct.Decimals, token.Value, token.Decimals, asset.Value, asset.Decimals)
	if err != nil {
		return AMGPrice{}, err
	}
	return AMGPrice{Settings: s, AMGToTokenWei: p}, nil
}

// ToWei converts amg to collateral wei.
func (p AMGPrice) ToWei(amg sdkmath.Uint) (sdkmath.Uint, error) {
	return AMGToTokenWei(amg, p.AMGToTokenWei)
}

// ToAMG converts collateral wei to whole AMG.
func (p AMGPrice) ToAMG(wei sdkmath.Uint) (sdkmath.Uint, error) {
	return TokenWeiToAMG(wei, p.AMGToTokenWei)
}

// UBAToWei converts uba to collateral wei.
func (p AMGPrice) UBAToWei(uba sdkmath.Uint) (sdkmath.Uint, error) {
	return UBAToTokenWei(p.Settings, uba, p.AMGToTokenWei)
}
