// Package conversion translates between underlying base units (UBA), the
// asset minting granularity (AMG) and collateral token wei.
//
// All arithmetic is 256-bit unsigned and rounds toward zero. A product that
// would not fit in 256 bits is rejected with ErrOverflow rather than wrapped.
// Prices are "AMG to token wei" prices scaled by AMGTokenWeiPriceScale, so
//
//	wei = amg * price / 1e9
//	amg = wei * 1e9 / price
package conversion

import (
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"

	"github.com/atmx/fasset-manager/internal/apperr"
)

// AMGTokenWeiPriceScaleExp is the decimal exponent of the AMG price scale.
const AMGTokenWeiPriceScaleExp = 9

// MaxBitLen is the width of every amount handled by the converter.
const MaxBitLen = 256

var (
	// AMGTokenWeiPriceScale is 10^AMGTokenWeiPriceScaleExp.
	AMGTokenWeiPriceScale = sdkmath.NewUint(1_000_000_000)

	ErrOverflow            = apperr.New(apperr.KindArithmetic, "conversion: overflow")
	ErrDivisionByZero      = apperr.New(apperr.KindArithmetic, "conversion: division by zero")
	ErrZeroPrice           = apperr.New(apperr.KindArithmetic, "conversion: zero price")
	ErrPriceScaleUnderflow = apperr.New(apperr.KindArithmetic, "conversion: price decimals exponent underflow")
	ErrInvalidGranularity  = apperr.New(apperr.KindValidation, "conversion: minting granularity must be positive")
)

// Settings are the immutable conversion parameters of one asset class.
type Settings struct {
	// AssetMintingDecimals is the number of decimals of one AMG.
	AssetMintingDecimals uint8 `json:"asset_minting_decimals"`
	// AssetMintingGranularityUBA is the number of UBA in one AMG.
	AssetMintingGranularityUBA sdkmath.Uint `json:"asset_minting_granularity_uba"`
}

// Validate checks that the granularity is usable as a divisor.
func (s Settings) Validate() error {
	if s.AssetMintingGranularityUBA.IsNil() || s.AssetMintingGranularityUBA.IsZero() {
		return ErrInvalidGranularity
	}
	return nil
}

// UBAToAMG floors uba to whole AMG.
func UBAToAMG(s Settings, uba sdkmath.Uint) (sdkmath.Uint, error) {
	if s.AssetMintingGranularityUBA.IsNil() || s.AssetMintingGranularityUBA.IsZero() {
		return sdkmath.ZeroUint(), fmt.Errorf("%w: minting granularity is zero", ErrDivisionByZero)
	}
	return uba.Quo(s.AssetMintingGranularityUBA), nil
}

// AMGToUBA converts amg exactly.
func AMGToUBA(s Settings, amg sdkmath.Uint) (sdkmath.Uint, error) {
	if err := s.Validate(); err != nil {
		return sdkmath.ZeroUint(), err
	}
	return Mul(amg, s.AssetMintingGranularityUBA)
}

// AMGToTokenWei converts amg to token wei at the given scaled price.
func AMGToTokenWei(amg, amgToTokenWeiPrice sdkmath.Uint) (sdkmath.Uint, error) {
	return MulDiv(amg, amgToTokenWeiPrice, AMGTokenWeiPriceScale)
}

// TokenWeiToAMG converts token wei to whole AMG at the given scaled price.
func TokenWeiToAMG(wei, amgToTokenWeiPrice sdkmath.Uint) (sdkmath.Uint, error) {
	if amgToTokenWeiPrice.IsZero() {
		return sdkmath.ZeroUint(), ErrZeroPrice
	}
	return MulDiv(wei, AMGTokenWeiPriceScale, amgToTokenWeiPrice)
}

// UBAToTokenWei converts uba (floored to AMG) to token wei.
func UBAToTokenWei(s Settings, uba, amgToTokenWeiPrice sdkmath.Uint) (sdkmath.Uint, error) {
	amg, err := UBAToAMG(s, uba)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	return AMGToTokenWei(amg, amgToTokenWeiPrice)
}

// TokenWeiToUBA converts token wei to uba via whole AMG.
func TokenWeiToUBA(s Settings, wei, amgToTokenWeiPrice sdkmath.Uint) (sdkmath.Uint, error) {
	amg, err := TokenWeiToAMG(wei, amgToTokenWeiPrice)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	return AMGToUBA(s, amg)
}

// AMGToTokenWeiPrice computes the scaled cross rate of one AMG in token wei
// from two feed prices:
//
//	assetPrice * 10^(tokenDecimals + tokenFtsoDecimals + 9 - mintingDecimals - assetFtsoDecimals) / tokenPrice
func AMGToTokenWeiPrice(s Settings, tokenDecimals uint8, tokenPrice sdkmath.Uint, tokenFtsoDecimals uint8,
	assetPrice sdkmath.Uint, assetFtsoDecimals uint8) (sdkmath.Uint, error) {
	if tokenPrice.IsZero() || assetPrice.IsZero() {
		return sdkmath.ZeroUint(), ErrZeroPrice
	}
	expPlus := int(tokenDecimals) + int(tokenFtsoDecimals) + AMGTokenWeiPriceScaleExp
	expMinus := int(s.AssetMintingDecimals) + int(assetFtsoDecimals)
	if expPlus < expMinus {
		return sdkmath.ZeroUint(), fmt.Errorf("%w: %d < %d", ErrPriceScaleUnderflow, expPlus, expMinus)
	}
	scale, err := Pow10(expPlus - expMinus)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	return MulDiv(assetPrice, scale, tokenPrice)
}

// Pow10 returns 10^exp or ErrOverflow.
func Pow10(exp int) (sdkmath.Uint, error) {
	p := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
	return fromBig(p)
}

// Mul multiplies two amounts, rejecting results wider than 256 bits.
func Mul(a, b sdkmath.Uint) (sdkmath.Uint, error) {
	return fromBig(new(big.Int).Mul(a.BigInt(), b.BigInt()))
}

// Add adds two amounts, rejecting results wider than 256 bits.
func Add(a, b sdkmath.Uint) (sdkmath.Uint, error) {
	return fromBig(new(big.Int).Add(a.BigInt(), b.BigInt()))
}

// MulDiv computes a*b/c rounding toward zero. The intermediate product must
// itself fit in 256 bits.
func MulDiv(a, b, c sdkmath.Uint) (sdkmath.Uint, error) {
	if c.IsZero() {
		return sdkmath.ZeroUint(), ErrDivisionByZero
	}
	prod := new(big.Int).Mul(a.BigInt(), b.BigInt())
	if prod.BitLen() > MaxBitLen {
		return sdkmath.ZeroUint(), fmt.Errorf("%w: %s * %s", ErrOverflow, a, b)
	}
	return fromBig(prod.Quo(prod, c.BigInt()))
}

// MulBIPS returns value * bips / 10000.
func MulBIPS(value sdkmath.Uint, bips uint64) (sdkmath.Uint, error) {
	return MulDiv(value, sdkmath.NewUint(bips), sdkmath.NewUint(MaxBIPS))
}

// MaxBIPS is 100% in basis points.
const MaxBIPS = 10_000

// CeilDiv returns ceil(a / b).
func CeilDiv(a, b sdkmath.Uint) (sdkmath.Uint, error) {
	if b.IsZero() {
		return sdkmath.ZeroUint(), ErrDivisionByZero
	}
	q, r := new(big.Int).QuoRem(a.BigInt(), b.BigInt(), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return fromBig(q)
}

// SubFloor returns a - b, or zero when b > a.
func SubFloor(a, b sdkmath.Uint) sdkmath.Uint {
	if b.GTE(a) {
		return sdkmath.ZeroUint()
	}
	return a.Sub(b)
}

func fromBig(v *big.Int) (sdkmath.Uint, error) {
	if v.Sign() < 0 {
		return sdkmath.ZeroUint(), fmt.Errorf("%w: negative result", ErrOverflow)
	}
	if v.BitLen() > MaxBitLen {
		return sdkmath.ZeroUint(), ErrOverflow
	}
	return sdkmath.NewUintFromBigInt(v), nil
}
