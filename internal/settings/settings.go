// Package settings holds the risk and fee parameters of one asset manager
// and the rules by which governance may change them.
//
// Every mutable parameter is changed through a named setter method. Each
// setter is rate limited (minUpdateRepeatTimeSeconds since its own last
// successful call) and bounded relative to the current value; see Bound.
package settings

import (
	"fmt"
	"slices"

	sdkmath "cosmossdk.io/math"

	"github.com/atmx/fasset-manager/internal/conversion"
)

// MaxBIPS is 100% in basis points.
const MaxBIPS = conversion.MaxBIPS

// NATDecimals is the number of decimals of native-token reward amounts.
const NATDecimals = 18

// Settings is the full parameter set of one asset manager.
type Settings struct {
	// Immutable after construction.
	Conversion conversion.Settings `json:"conversion"`
	// SourceID identifies the underlying chain; facts from other chains are rejected.
	SourceID string `json:"source_id"`

	AgentWhitelist string       `json:"agent_whitelist,omitempty"`
	LotSizeAMG     sdkmath.Uint `json:"lot_size_amg"`

	CollateralReservationFeeBIPS uint64 `json:"collateral_reservation_fee_bips"`
	UnderlyingBlocksForPayment   uint64 `json:"underlying_blocks_for_payment"`
	UnderlyingSecondsForPayment  uint64 `json:"underlying_seconds_for_payment"`

	RedemptionFeeBIPS                uint64       `json:"redemption_fee_bips"`
	RedemptionDefaultFactorBIPS      uint64       `json:"redemption_default_factor_bips"`
	RedemptionByAnybodyAfterSeconds  uint64       `json:"redemption_by_anybody_after_seconds"`
	ConfirmationByOthersAfterSeconds uint64       `json:"confirmation_by_others_after_seconds"`
	ConfirmationByOthersRewardNATWei sdkmath.Uint `json:"confirmation_by_others_reward_nat_wei"`
	MaxRedeemedTickets               uint64       `json:"max_redeemed_tickets"`

	PaymentChallengeRewardBIPS   uint64       `json:"payment_challenge_reward_bips"`
	PaymentChallengeRewardNATWei sdkmath.Uint `json:"payment_challenge_reward_nat_wei"`

	WithdrawalWaitMinSeconds  uint64 `json:"withdrawal_wait_min_seconds"`
	MaxTrustedPriceAgeSeconds uint64 `json:"max_trusted_price_age_seconds"`

	CCBTimeSeconds                  uint64   `json:"ccb_time_seconds"`
	LiquidationStepSeconds          uint64   `json:"liquidation_step_seconds"`
	LiquidationCollateralFactorBIPS []uint64 `json:"liquidation_collateral_factor_bips"`

	MinCollateralRatioBIPS       uint64 `json:"min_collateral_ratio_bips"`
	CCBMinCollateralRatioBIPS    uint64 `json:"ccb_min_collateral_ratio_bips"`
	SafetyMinCollateralRatioBIPS uint64 `json:"safety_min_collateral_ratio_bips"`

	AttestationWindowSeconds                  uint64 `json:"attestation_window_seconds"`
	AnnouncedUnderlyingConfirmationMinSeconds uint64 `json:"announced_underlying_confirmation_min_seconds"`
	MinUpdateRepeatTimeSeconds                uint64 `json:"min_update_repeat_time_seconds"`
}

func natWei(whole uint64) sdkmath.Uint {
	return sdkmath.NewUint(whole).Mul(sdkmath.NewUint(1_000_000_000_000_000_000))
}

// Default returns a parameter set for a 6-decimal underlying asset where
// one AMG is one UBA and a lot is 20 whole units.
func Default() Settings {
	return Settings{
		Conversion: conversion.Settings{
			AssetMintingDecimals:       6,
			AssetMintingGranularityUBA: sdkmath.NewUint(1),
		},
		SourceID:                         "testXRP",
		LotSizeAMG:                       sdkmath.NewUint(20_000_000),
		CollateralReservationFeeBIPS:     100,
		UnderlyingBlocksForPayment:       10,
		UnderlyingSecondsForPayment:      120,
		RedemptionFeeBIPS:                200,
		RedemptionDefaultFactorBIPS:      12_000,
		RedemptionByAnybodyAfterSeconds:  6 * 3600,
		ConfirmationByOthersAfterSeconds: 6 * 3600,
		ConfirmationByOthersRewardNATWei: natWei(100),
		MaxRedeemedTickets:               20,
		PaymentChallengeRewardBIPS:       1,
		PaymentChallengeRewardNATWei:     natWei(300),
		WithdrawalWaitMinSeconds:         60,
		MaxTrustedPriceAgeSeconds:        120,
		CCBTimeSeconds:                   180,
		LiquidationStepSeconds:           90,
		LiquidationCollateralFactorBIPS:  []uint64{11_000, 12_000, 14_000},
		MinCollateralRatioBIPS:           21_000,
		CCBMinCollateralRatioBIPS:        18_000,
		SafetyMinCollateralRatioBIPS:     15_000,
		AttestationWindowSeconds:         86_400,
		MinUpdateRepeatTimeSeconds:       86_400,
	}
}

// Clone returns a copy that shares no slices with s.
func (s Settings) Clone() Settings {
	s.LiquidationCollateralFactorBIPS = slices.Clone(s.LiquidationCollateralFactorBIPS)
	return s
}

// Validate checks the whole parameter set, as required at construction.
func (s Settings) Validate() error {
	if err := s.Conversion.Validate(); err != nil {
		return err
	}
	if s.SourceID == "" {
		return fmt.Errorf("%w: source id is required", ErrInvalidArguments)
	}
	if s.LotSizeAMG.IsNil() || s.LotSizeAMG.IsZero() {
		return fmt.Errorf("%w: lot size", ErrCannotBeZero)
	}
	for name, v := range map[string]sdkmath.Uint{
		"confirmation_by_others_reward_nat_wei": s.ConfirmationByOthersRewardNATWei,
		"payment_challenge_reward_nat_wei":      s.PaymentChallengeRewardNATWei,
	} {
		if v.IsNil() {
			return fmt.Errorf("%w: %s is required", ErrInvalidArguments, name)
		}
	}
	for name, v := range map[string]uint64{
		"underlying_blocks_for_payment":       s.UnderlyingBlocksForPayment,
		"underlying_seconds_for_payment":      s.UnderlyingSecondsForPayment,
		"collateral_reservation_fee_bips":     s.CollateralReservationFeeBIPS,
		"redemption_fee_bips":                 s.RedemptionFeeBIPS,
		"redemption_by_anybody_after_seconds": s.RedemptionByAnybodyAfterSeconds,
		"max_redeemed_tickets":                s.MaxRedeemedTickets,
		"withdrawal_wait_min_seconds":         s.WithdrawalWaitMinSeconds,
		"max_trusted_price_age_seconds":       s.MaxTrustedPriceAgeSeconds,
		"ccb_time_seconds":                    s.CCBTimeSeconds,
		"liquidation_step_seconds":            s.LiquidationStepSeconds,
	} {
		if v == 0 {
			return fmt.Errorf("%w: %s", ErrCannotBeZero, name)
		}
	}
	if s.CollateralReservationFeeBIPS > MaxBIPS || s.RedemptionFeeBIPS > MaxBIPS || s.PaymentChallengeRewardBIPS > MaxBIPS {
		return ErrBipsValueTooHigh
	}
	if s.RedemptionDefaultFactorBIPS <= MaxBIPS {
		return ErrBipsValueTooLow
	}
	if err := validateCollateralRatios(s.MinCollateralRatioBIPS, s.CCBMinCollateralRatioBIPS, s.SafetyMinCollateralRatioBIPS); err != nil {
		return err
	}
	return validateLiquidationFactors(s.LiquidationCollateralFactorBIPS, s.SafetyMinCollateralRatioBIPS)
}

func validateCollateralRatios(minCR, ccbMin, safety uint64) error {
	if !(MaxBIPS < safety && safety <= ccbMin && ccbMin <= minCR) {
		return fmt.Errorf("%w: need %d < safety(%d) <= ccb(%d) <= min(%d)", ErrInvalidCollateralRatios, MaxBIPS, safety, ccbMin, minCR)
	}
	return nil
}

func validateLiquidationFactors(factors []uint64, safety uint64) error {
	if len(factors) == 0 {
		return ErrEmptyArray
	}
	for i, f := range factors {
		if f <= MaxBIPS {
			return fmt.Errorf("%w: factor[%d] = %d", ErrFactorNotAboveOne, i, f)
		}
		if i > 0 && f <= factors[i-1] {
			return fmt.Errorf("%w: factor[%d] = %d after %d", ErrFactorsNotIncreasing, i, f, factors[i-1])
		}
	}
	if top := factors[len(factors)-1]; top > safety {
		return fmt.Errorf("%w: %d > safety collateral ratio %d", ErrFactorTooHigh, top, safety)
	}
	return nil
}
