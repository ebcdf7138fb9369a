package settings

import (
	"fmt"
	"strconv"
	"strings"

	sdkmath "cosmossdk.io/math"
)

// Setter method names.
const (
	SetLotSizeAmg                                = "setLotSizeAmg"
	SetTimeForPayment                            = "setTimeForPayment"
	SetPaymentChallengeReward                    = "setPaymentChallengeReward"
	SetMaxTrustedPriceAgeSeconds                 = "setMaxTrustedPriceAgeSeconds"
	SetCollateralReservationFeeBips              = "setCollateralReservationFeeBips"
	SetRedemptionFeeBips                         = "setRedemptionFeeBips"
	SetRedemptionDefaultFactorBips               = "setRedemptionDefaultFactorBips"
	SetRedemptionByAnybodyAfterSeconds           = "setRedemptionByAnybodyAfterSeconds"
	SetConfirmationByOthersAfterSeconds          = "setConfirmationByOthersAfterSeconds"
	SetConfirmationByOthersRewardNatWei          = "setConfirmationByOthersRewardNatWei"
	SetMaxRedeemedTickets                        = "setMaxRedeemedTickets"
	SetWithdrawalOrDestroyWaitMinSeconds         = "setWithdrawalOrDestroyWaitMinSeconds"
	SetCcbTimeSeconds                            = "setCcbTimeSeconds"
	SetLiquidationStepSeconds                    = "setLiquidationStepSeconds"
	SetLiquidationCollateralFactorBips           = "setLiquidationCollateralFactorBips"
	SetAttestationWindowSeconds                  = "setAttestationWindowSeconds"
	SetAnnouncedUnderlyingConfirmationMinSeconds = "setAnnouncedUnderlyingConfirmationMinSeconds"
	SetCollateralRatios                          = "setCollateralRatios"
	SetWhitelist                                 = "setWhitelist"
)

// Update is one setter invocation. Values are positional; Address is used
// by address setters only.
type Update struct {
	Method  string         `json:"method"`
	Values  []sdkmath.Uint `json:"values,omitempty"`
	Address string         `json:"address,omitempty"`
}

// ChangeKind distinguishes the event shape of a Change.
type ChangeKind int

const (
	ChangeScalar ChangeKind = iota
	ChangeArray
	ChangeAddress
)

// Change describes one parameter that an update modified.
type Change struct {
	Kind    ChangeKind
	Name    string
	Values  []sdkmath.Uint
	Address string
}

type field struct {
	name   string
	u64    func(*Settings) *uint64
	amount func(*Settings) *sdkmath.Uint
	bound  Bound
	rule   func(sdkmath.Uint) error
}

func (f field) get(s *Settings) sdkmath.Uint {
	if f.u64 != nil {
		return sdkmath.NewUint(*f.u64(s))
	}
	return *f.amount(s)
}

func (f field) set(s *Settings, v sdkmath.Uint) {
	if f.u64 != nil {
		*f.u64(s) = v.Uint64()
		return
	}
	*f.amount(s) = v
}

func (f field) check(s *Settings, v sdkmath.Uint) error {
	if v.IsNil() {
		return fmt.Errorf("%w: %s missing", ErrInvalidArguments, f.name)
	}
	if f.u64 != nil && !v.BigInt().IsUint64() {
		return fmt.Errorf("%w: %s out of range", ErrInvalidArguments, f.name)
	}
	if err := f.bound.Check(f.get(s), v); err != nil {
		return fmt.Errorf("%s: %w", f.name, err)
	}
	if f.rule != nil {
		if err := f.rule(v); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return nil
}

type setter struct {
	method      string
	signature   string
	timelocked  bool
	rateLimited bool
	fields      []field
	// run validates upd against s and applies it to s; s is a scratch copy.
	run func(st setter, s *Settings, upd Update) ([]Change, error)
}

// Setter describes a governance setter method.
type Setter struct {
	Method     string
	Signature  string
	Timelocked bool
}

func maxBips(v sdkmath.Uint) error {
	if v.GT(sdkmath.NewUint(MaxBIPS)) {
		return ErrBipsValueTooHigh
	}
	return nil
}

func aboveOne(v sdkmath.Uint) error {
	if v.LTE(sdkmath.NewUint(MaxBIPS)) {
		return ErrBipsValueTooLow
	}
	return nil
}

func atLeast(n uint64) func(sdkmath.Uint) error {
	return func(v sdkmath.Uint) error {
		if v.LT(sdkmath.NewUint(n)) {
			return fmt.Errorf("%w: must be at least %d", ErrValueTooSmall, n)
		}
		return nil
	}
}

func atMost(n uint64) func(sdkmath.Uint) error {
	return func(v sdkmath.Uint) error {
		if v.GT(sdkmath.NewUint(n)) {
			return fmt.Errorf("%w: must be at most %d", ErrValueTooBig, n)
		}
		return nil
	}
}

func runScalar(st setter, s *Settings, upd Update) ([]Change, error) {
	if len(upd.Values) != len(st.fields) {
		return nil, fmt.Errorf("%w: %s takes %d values, got %d", ErrInvalidArguments, st.method, len(st.fields), len(upd.Values))
	}
	for i, f := range st.fields {
		if err := f.check(s, upd.Values[i]); err != nil {
			return nil, err
		}
	}
	changes := make([]Change, 0, len(st.fields))
	for i, f := range st.fields {
		f.set(s, upd.Values[i])
		changes = append(changes, Change{Kind: ChangeScalar, Name: f.name, Values: []sdkmath.Uint{upd.Values[i]}})
	}
	return changes, nil
}

func toUint64s(values []sdkmath.Uint) ([]uint64, error) {
	out := make([]uint64, len(values))
	for i, v := range values {
		if v.IsNil() || !v.BigInt().IsUint64() {
			return nil, fmt.Errorf("%w: value %d out of range", ErrInvalidArguments, i)
		}
		out[i] = v.Uint64()
	}
	return out, nil
}

func runLiquidationFactors(_ setter, s *Settings, upd Update) ([]Change, error) {
	factors, err := toUint64s(upd.Values)
	if err != nil {
		return nil, err
	}
	if err := validateLiquidationFactors(factors, s.SafetyMinCollateralRatioBIPS); err != nil {
		return nil, err
	}
	s.LiquidationCollateralFactorBIPS = factors
	return []Change{{Kind: ChangeArray, Name: "liquidationCollateralFactorBIPS", Values: upd.Values}}, nil
}

func runCollateralRatios(st setter, s *Settings, upd Update) ([]Change, error) {
	if len(upd.Values) != 3 {
		return nil, fmt.Errorf("%w: %s takes 3 values, got %d", ErrInvalidArguments, st.method, len(upd.Values))
	}
	v, err := toUint64s(upd.Values)
	if err != nil {
		return nil, err
	}
	if err := validateCollateralRatios(v[0], v[1], v[2]); err != nil {
		return nil, err
	}
	if err := validateLiquidationFactors(s.LiquidationCollateralFactorBIPS, v[2]); err != nil {
		return nil, err
	}
	s.MinCollateralRatioBIPS, s.CCBMinCollateralRatioBIPS, s.SafetyMinCollateralRatioBIPS = v[0], v[1], v[2]
	changes := make([]Change, 0, 3)
	for i, f := range st.fields {
		changes = append(changes, Change{Kind: ChangeScalar, Name: f.name, Values: []sdkmath.Uint{upd.Values[i]}})
	}
	return changes, nil
}

func runWhitelist(_ setter, s *Settings, upd Update) ([]Change, error) {
	if len(upd.Values) != 0 {
		return nil, fmt.Errorf("%w: %s takes an address only", ErrInvalidArguments, SetWhitelist)
	}
	s.AgentWhitelist = upd.Address
	return []Change{{Kind: ChangeAddress, Name: "agentWhitelist", Address: upd.Address}}, nil
}

func u64(name string, p func(*Settings) *uint64, b Bound, rule func(sdkmath.Uint) error) field {
	return field{name: name, u64: p, bound: b, rule: rule}
}

func amount(name string, p func(*Settings) *sdkmath.Uint, b Bound, rule func(sdkmath.Uint) error) field {
	return field{name: name, amount: p, bound: b, rule: rule}
}

var setters = map[string]setter{}

func register(st setter) {
	if st.run == nil {
		st.run = runScalar
	}
	setters[st.method] = st
}

func init() {
	register(setter{
		method: SetLotSizeAmg, signature: "setLotSizeAmg(address[],uint256)", rateLimited: true,
		fields: []field{amount("lotSizeAMG", func(s *Settings) *sdkmath.Uint { return &s.LotSizeAMG }, Factor(2, 4), nil)},
	})
	register(setter{
		method: SetTimeForPayment, signature: "setTimeForPayment(address[],uint256,uint256)", timelocked: true, rateLimited: true,
		fields: []field{
			u64("underlyingBlocksForPayment", func(s *Settings) *uint64 { return &s.UnderlyingBlocksForPayment }, Factor(2, 2), nil),
			u64("underlyingSecondsForPayment", func(s *Settings) *uint64 { return &s.UnderlyingSecondsForPayment }, Factor(2, 2), nil),
		},
	})
	register(setter{
		method: SetPaymentChallengeReward, signature: "setPaymentChallengeReward(address[],uint256,uint256)", rateLimited: true,
		fields: []field{
			amount("paymentChallengeRewardNATWei", func(s *Settings) *sdkmath.Uint { return &s.PaymentChallengeRewardNATWei },
				Bound{MaxIncreaseBIPS: 4 * MaxBIPS, IncreaseSlack: natWei(100), MaxDecreaseBIPS: 4 * MaxBIPS, AllowZero: true}, nil),
			u64("paymentChallengeRewardBIPS", func(s *Settings) *uint64 { return &s.PaymentChallengeRewardBIPS },
				Bound{MaxIncreaseBIPS: 4 * MaxBIPS, IncreaseSlack: sdkmath.NewUint(100), MaxDecreaseBIPS: 4 * MaxBIPS, AllowZero: true}, maxBips),
		},
	})
	register(setter{
		method: SetMaxTrustedPriceAgeSeconds, signature: "setMaxTrustedPriceAgeSeconds(address[],uint256)", rateLimited: true,
		fields: []field{u64("maxTrustedPriceAgeSeconds", func(s *Settings) *uint64 { return &s.MaxTrustedPriceAgeSeconds }, Factor(2, 2), nil)},
	})
	register(setter{
		method: SetCollateralReservationFeeBips, signature: "setCollateralReservationFeeBips(address[],uint256)", rateLimited: true,
		fields: []field{u64("collateralReservationFeeBIPS", func(s *Settings) *uint64 { return &s.CollateralReservationFeeBIPS }, Factor(4, 4), maxBips)},
	})
	register(setter{
		method: SetRedemptionFeeBips, signature: "setRedemptionFeeBips(address[],uint256)", rateLimited: true,
		fields: []field{u64("redemptionFeeBIPS", func(s *Settings) *uint64 { return &s.RedemptionFeeBIPS }, Factor(4, 4), maxBips)},
	})
	register(setter{
		method: SetRedemptionDefaultFactorBips, signature: "setRedemptionDefaultFactorBips(address[],uint256)", rateLimited: true,
		fields: []field{u64("redemptionDefaultFactorBIPS", func(s *Settings) *uint64 { return &s.RedemptionDefaultFactorBIPS },
			Bound{MaxIncreaseBIPS: 12_000, MaxDecreaseBIPS: 12_000}, aboveOne)},
	})
	register(setter{
		method: SetRedemptionByAnybodyAfterSeconds, signature: "setRedemptionByAnybodyAfterSeconds(address[],uint256)", rateLimited: true,
		fields: []field{u64("redemptionByAnybodyAfterSeconds", func(s *Settings) *uint64 { return &s.RedemptionByAnybodyAfterSeconds }, Factor(2, 2), nil)},
	})
	register(setter{
		method: SetConfirmationByOthersAfterSeconds, signature: "setConfirmationByOthersAfterSeconds(address[],uint256)", rateLimited: true,
		fields: []field{u64("confirmationByOthersAfterSeconds", func(s *Settings) *uint64 { return &s.ConfirmationByOthersAfterSeconds },
			Factor(2, 2), atLeast(2*3600))},
	})
	register(setter{
		method: SetConfirmationByOthersRewardNatWei, signature: "setConfirmationByOthersRewardNatWei(address[],uint256)", rateLimited: true,
		fields: []field{amount("confirmationByOthersRewardNATWei", func(s *Settings) *sdkmath.Uint { return &s.ConfirmationByOthersRewardNATWei }, Factor(4, 4), nil)},
	})
	register(setter{
		method: SetMaxRedeemedTickets, signature: "setMaxRedeemedTickets(address[],uint256)", rateLimited: true,
		fields: []field{u64("maxRedeemedTickets", func(s *Settings) *uint64 { return &s.MaxRedeemedTickets }, Factor(2, 4), nil)},
	})
	register(setter{
		method: SetWithdrawalOrDestroyWaitMinSeconds, signature: "setWithdrawalOrDestroyWaitMinSeconds(address[],uint256)", rateLimited: true,
		fields: []field{u64("withdrawalWaitMinSeconds", func(s *Settings) *uint64 { return &s.WithdrawalWaitMinSeconds },
			Bound{MaxIncreaseBIPS: MaxBIPS, IncreaseSlack: sdkmath.NewUint(10 * 60)}, nil)},
	})
	register(setter{
		method: SetCcbTimeSeconds, signature: "setCcbTimeSeconds(address[],uint256)", rateLimited: true,
		fields: []field{u64("ccbTimeSeconds", func(s *Settings) *uint64 { return &s.CCBTimeSeconds }, Factor(2, 2), nil)},
	})
	register(setter{
		method: SetLiquidationStepSeconds, signature: "setLiquidationStepSeconds(address[],uint256)", rateLimited: true,
		fields: []field{u64("liquidationStepSeconds", func(s *Settings) *uint64 { return &s.LiquidationStepSeconds }, Factor(2, 2), nil)},
	})
	register(setter{
		method: SetLiquidationCollateralFactorBips, signature: "setLiquidationCollateralFactorBips(address[],uint256[])", rateLimited: true,
		run: runLiquidationFactors,
	})
	register(setter{
		method: SetAttestationWindowSeconds, signature: "setAttestationWindowSeconds(address[],uint256)", rateLimited: true,
		fields: []field{u64("attestationWindowSeconds", func(s *Settings) *uint64 { return &s.AttestationWindowSeconds },
			Factor(2, 2), atLeast(86_400))},
	})
	register(setter{
		method: SetAnnouncedUnderlyingConfirmationMinSeconds, signature: "setAnnouncedUnderlyingConfirmationMinSeconds(address[],uint256)", rateLimited: true,
		fields: []field{u64("announcedUnderlyingConfirmationMinSeconds", func(s *Settings) *uint64 { return &s.AnnouncedUnderlyingConfirmationMinSeconds },
			Bound{AllowZero: true}, atMost(3600))},
	})
	register(setter{
		method: SetCollateralRatios, signature: "setCollateralRatios(address[],uint256,uint256,uint256)", timelocked: true, rateLimited: true,
		fields: []field{
			u64("minCollateralRatioBIPS", func(s *Settings) *uint64 { return &s.MinCollateralRatioBIPS }, Bound{}, nil),
			u64("ccbMinCollateralRatioBIPS", func(s *Settings) *uint64 { return &s.CCBMinCollateralRatioBIPS }, Bound{}, nil),
			u64("safetyMinCollateralRatioBIPS", func(s *Settings) *uint64 { return &s.SafetyMinCollateralRatioBIPS }, Bound{}, nil),
		},
		run: runCollateralRatios,
	})
	register(setter{
		method: SetWhitelist, signature: "setWhitelist(address[],address)", timelocked: true,
		run: runWhitelist,
	})
}

// Lookup returns the description of a setter method.
func Lookup(method string) (Setter, bool) {
	st, ok := setters[method]
	if !ok {
		return Setter{}, false
	}
	return Setter{Method: st.method, Signature: st.signature, Timelocked: st.timelocked}, true
}

// Setters lists every setter method.
func Setters() []Setter {
	out := make([]Setter, 0, len(setters))
	for _, st := range setters {
		out = append(out, Setter{Method: st.method, Signature: st.signature, Timelocked: st.timelocked})
	}
	return out
}

func formatFactors(fs []uint64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = strconv.FormatUint(f, 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
