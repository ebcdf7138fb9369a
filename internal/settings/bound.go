package settings

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/atmx/fasset-manager/internal/apperr"
	"github.com/atmx/fasset-manager/internal/conversion"
)

var (
	ErrIncreaseTooBig           = apperr.New(apperr.KindRateLimit, "settings: increase too big")
	ErrDecreaseTooBig           = apperr.New(apperr.KindRateLimit, "settings: decrease too big")
	ErrTooCloseToPreviousUpdate = apperr.New(apperr.KindRateLimit, "settings: too close to previous update")

	ErrCannotBeZero            = apperr.New(apperr.KindValidation, "settings: cannot be zero")
	ErrBipsValueTooHigh        = apperr.New(apperr.KindValidation, "settings: bips value too high")
	ErrBipsValueTooLow         = apperr.New(apperr.KindValidation, "settings: bips value too low")
	ErrValueTooSmall           = apperr.New(apperr.KindValidation, "settings: value too small")
	ErrValueTooBig             = apperr.New(apperr.KindValidation, "settings: value too big")
	ErrEmptyArray              = apperr.New(apperr.KindValidation, "settings: empty array")
	ErrFactorNotAboveOne       = apperr.New(apperr.KindValidation, "settings: factor not above 1")
	ErrFactorsNotIncreasing    = apperr.New(apperr.KindValidation, "settings: factors not increasing")
	ErrFactorTooHigh           = apperr.New(apperr.KindValidation, "settings: factor higher than safety collateral ratio")
	ErrInvalidCollateralRatios = apperr.New(apperr.KindValidation, "settings: invalid collateral ratios")
	ErrInvalidArguments        = apperr.New(apperr.KindValidation, "settings: invalid arguments")
	ErrUnknownSetting          = apperr.New(apperr.KindNotFound, "settings: unknown setter")
)

// Bound limits how far one update may move a value away from its current
// setting. Zero factors mean unbounded in that direction.
//
//	proposed <= current * MaxIncreaseBIPS / 10000 + IncreaseSlack
//	proposed >= current * 10000 / MaxDecreaseBIPS
type Bound struct {
	MaxIncreaseBIPS uint64
	IncreaseSlack   sdkmath.Uint
	MaxDecreaseBIPS uint64
	AllowZero       bool
}

// Factor returns a bound allowing at most ×up and ÷down, with zero rejected.
func Factor(up, down uint64) Bound {
	return Bound{MaxIncreaseBIPS: up * MaxBIPS, MaxDecreaseBIPS: down * MaxBIPS}
}

// Check validates proposed against current.
func (b Bound) Check(current, proposed sdkmath.Uint) error {
	if proposed.IsZero() && !b.AllowZero {
		return ErrCannotBeZero
	}
	if b.MaxIncreaseBIPS > 0 {
		limit, err := conversion.MulBIPS(current, b.MaxIncreaseBIPS)
		if err != nil {
			return err
		}
		if !b.IncreaseSlack.IsNil() {
			if limit, err = conversion.Add(limit, b.IncreaseSlack); err != nil {
				return err
			}
		}
		if proposed.GT(limit) {
			return fmt.Errorf("%w: %s > %s", ErrIncreaseTooBig, proposed, limit)
		}
	}
	if b.MaxDecreaseBIPS > 0 {
		floor, err := conversion.MulDiv(current, sdkmath.NewUint(MaxBIPS), sdkmath.NewUint(b.MaxDecreaseBIPS))
		if err != nil {
			return err
		}
		if proposed.LT(floor) {
			return fmt.Errorf("%w: %s < %s", ErrDecreaseTooBig, proposed, floor)
		}
	}
	return nil
}
