package assetmanager

import (
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/atmx/fasset-manager/internal/attestation"
	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
	"github.com/atmx/fasset-manager/internal/paymentref"
	"github.com/atmx/fasset-manager/internal/settings"
)

func (f *fixture) redeem(lots uint64) model.RedemptionRequest {
	f.t.Helper()
	res, err := f.m.RedeemLots(f.ctx, minter, lots, redeemerAddress)
	if err != nil {
		f.t.Fatalf("RedeemLots: %v", err)
	}
	if len(res.Requests) != 1 {
		f.t.Fatalf("expected one request, got %d", len(res.Requests))
	}
	return res.Requests[0]
}

func TestRedeemLots_CreatesRequest(t *testing.T) {
	f := newFixture(t)
	f.mint(f.vault, 1)

	req := f.redeem(1)
	if req.AgentVault != f.vault || req.Redeemer != minter {
		t.Errorf("unexpected request %+v", req)
	}
	if !req.ValueUBA.Equal(sdkmath.NewUint(1_000_000)) || !req.FeeUBA.Equal(sdkmath.NewUint(20_000)) {
		t.Errorf("value %s fee %s, want 1000000 / 20000", req.ValueUBA, req.FeeUBA)
	}
	if req.PaymentReference != paymentref.Redemption(req.ID) {
		t.Errorf("reference: got %s", req.PaymentReference)
	}
	if !f.m.BalanceOf(minter).IsZero() {
		t.Errorf("redeemed f-assets must be burnt")
	}
	info := f.agent(f.vault)
	if !info.MintedAMG.IsZero() || !info.RedeemingAMG.Equal(sdkmath.NewUint(1_000_000)) {
		t.Errorf("agent: minted %s redeeming %s", info.MintedAMG, info.RedeemingAMG)
	}
	if len(f.m.Tickets()) != 0 {
		t.Errorf("ticket must be consumed")
	}

	if _, err := f.m.RedeemLots(f.ctx, minter, 1, redeemerAddress); !errors.Is(err, ErrFAssetBalanceTooLow) {
		t.Errorf("expected ErrFAssetBalanceTooLow, got %v", err)
	}
	if _, err := f.m.RedeemLots(f.ctx, minter, 0, redeemerAddress); !errors.Is(err, ErrZeroLots) {
		t.Errorf("expected ErrZeroLots, got %v", err)
	}
}

func TestRedeemLots_TicketCapAcrossAgents(t *testing.T) {
	f := newFixture(t, func(s *settings.Settings) { s.MaxRedeemedTickets = 1 })
	second := f.newAgent("0xsecondowner", "rSecondAgent")
	f.mint(f.vault, 1)
	f.mint(second, 1)

	res, err := f.m.RedeemLots(f.ctx, minter, 2, redeemerAddress)
	if err != nil {
		t.Fatalf("RedeemLots: %v", err)
	}
	if len(res.Requests) != 1 || res.Requests[0].AgentVault != f.vault {
		t.Fatalf("the oldest ticket must be redeemed first: %+v", res.Requests)
	}
	if res.RedeemedLots != 1 || res.RemainingLots != 1 {
		t.Errorf("redeemed %d remaining %d, want 1/1", res.RedeemedLots, res.RemainingLots)
	}
	if got := f.m.BalanceOf(minter); !got.Equal(sdkmath.NewUint(1_000_000)) {
		t.Errorf("unredeemed lots stay with the redeemer: balance %s", got)
	}
	incomplete := f.events.Named(events.RedemptionRequestIncomplete)
	if len(incomplete) != 1 || incomplete[0].Args["remainingLots"] != uint64(1) {
		t.Errorf("expected RedemptionRequestIncomplete with one remaining lot, got %+v", incomplete)
	}

	res, err = f.m.RedeemLots(f.ctx, minter, 1, redeemerAddress)
	if err != nil {
		t.Fatal(err)
	}
	if res.Requests[0].AgentVault != second {
		t.Errorf("second redemption must hit the second agent")
	}
}

func TestRedeemLots_SkipsDustTickets(t *testing.T) {
	f := newFixture(t, smallChallengeReward, func(s *settings.Settings) { s.MaxRedeemedTickets = 1 })
	second := f.newAgent("0xsecondowner", "rSecondAgent")
	f.mint(f.vault, 1)
	f.mint(second, 1)

	// Partial liquidation leaves the first agent's ticket below one lot.
	proof := f.outflow(attestation.BalanceDecreasingTransaction{PaymentReference: "0xdeadbeef"})
	if _, err := f.m.IllegalPaymentChallenge(f.ctx, stranger, proof, f.vault); err != nil {
		t.Fatal(err)
	}
	if _, err := f.m.Liquidate(f.ctx, minter, f.vault, sdkmath.NewUint(300_000)); err != nil {
		t.Fatal(err)
	}

	res, err := f.m.RedeemLots(f.ctx, minter, 1, redeemerAddress)
	if err != nil {
		t.Fatalf("RedeemLots: %v", err)
	}
	if len(res.Requests) != 1 || res.Requests[0].AgentVault != second {
		t.Fatalf("dust must be skipped in favour of a whole lot: %+v", res.Requests)
	}
	if res.RedeemedLots != 1 || res.RemainingLots != 0 {
		t.Errorf("redeemed %d remaining %d, want 1/0", res.RedeemedLots, res.RemainingLots)
	}
	if got := f.m.BalanceOf(minter); !got.Equal(sdkmath.NewUint(700_000)) {
		t.Errorf("exactly one lot must be burnt: balance %s", got)
	}
	tickets := f.m.Tickets()
	if len(tickets) != 1 || tickets[0].AgentVault != f.vault || !tickets[0].ValueAMG.Equal(sdkmath.NewUint(700_000)) {
		t.Errorf("dust ticket must stay queued, got %+v", tickets)
	}
}

func TestRedeemLots_MergesTicketsOfOneAgent(t *testing.T) {
	f := newFixture(t, func(s *settings.Settings) { s.LotSizeAMG = sdkmath.NewUint(100_000) })
	f.mint(f.vault, 1)
	f.mint(f.vault, 2)

	res, err := f.m.RedeemLots(f.ctx, minter, 2, redeemerAddress)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Requests) != 1 || !res.Requests[0].ValueAMG.Equal(sdkmath.NewUint(200_000)) {
		t.Fatalf("expected one request of 2 lots, got %+v", res.Requests)
	}
	tickets := f.m.Tickets()
	if len(tickets) != 1 || !tickets[0].ValueAMG.Equal(sdkmath.NewUint(100_000)) {
		t.Errorf("second ticket must be split, got %+v", tickets)
	}
}

func TestRedemptionPaymentDefault_ThirdPartyGetsExactCompensation(t *testing.T) {
	f := newFixture(t)
	f.mint(f.vault, 1)
	req := f.redeem(1)

	proof := f.nonPayment(attestation.ReferencedPaymentNonexistence{
		DestinationAddress:          redeemerAddress,
		PaymentReference:            req.PaymentReference,
		Amount:                      req.ValueUBA.Sub(req.FeeUBA),
		FirstOverflowBlockNumber:    req.LastUnderlyingBlock + 1,
		FirstOverflowBlockTimestamp: req.LastUnderlyingTimestamp + 1,
	})
	if _, err := f.m.RedemptionPaymentDefault(f.ctx, stranger, proof, req.ID); !errors.Is(err, ErrOnlyRedeemerOrAgent) {
		t.Fatalf("before redemptionByAnybodyAfterSeconds: expected ErrOnlyRedeemerOrAgent, got %v", err)
	}

	f.clock.Advance(6 * time.Hour)
	paid, err := f.m.RedemptionPaymentDefault(f.ctx, stranger, proof, req.ID)
	if err != nil {
		t.Fatalf("RedemptionPaymentDefault: %v", err)
	}
	// 5e17 wei of face value at 120%.
	want := u("600000000000000000")
	if !paid.Equal(want) {
		t.Errorf("compensation: got %s, want %s", paid, want)
	}
	if got := f.payout(minter); !got.Equal(want) {
		t.Errorf("redeemer payout: got %s, want %s", got, want)
	}
	if !f.payout(stranger).IsZero() {
		t.Errorf("the caller is not compensated")
	}
	info := f.agent(f.vault)
	if !info.CollateralWei.Equal(agentCollateral.Sub(want)) {
		t.Errorf("agent collateral: got %s", info.CollateralWei)
	}
	if !info.RedeemingAMG.IsZero() {
		t.Errorf("redeeming AMG must be released, got %s", info.RedeemingAMG)
	}
	// Minting fee plus the value the agent kept.
	if !info.FreeUnderlyingBalanceUBA.Equal(si(1_010_000)) {
		t.Errorf("free underlying: got %s, want 1010000", info.FreeUnderlyingBalanceUBA)
	}
	r, _ := f.m.Redemption(req.ID)
	if r.Status != model.RedemptionDefaulted {
		t.Errorf("status: got %s", r.Status)
	}
	if _, err := f.m.RedemptionPaymentDefault(f.ctx, stranger, proof, req.ID); !errors.Is(err, ErrRedemptionNotActive) {
		t.Errorf("second default: expected ErrRedemptionNotActive, got %v", err)
	}
}

func TestRedemptionPaymentDefault_TooEarly(t *testing.T) {
	f := newFixture(t)
	f.mint(f.vault, 1)
	req := f.redeem(1)

	proof := f.nonPayment(attestation.ReferencedPaymentNonexistence{
		DestinationAddress:          redeemerAddress,
		PaymentReference:            req.PaymentReference,
		Amount:                      req.ValueUBA,
		FirstOverflowBlockNumber:    req.LastUnderlyingBlock + 1,
		FirstOverflowBlockTimestamp: req.LastUnderlyingTimestamp,
	})
	if _, err := f.m.RedemptionPaymentDefault(f.ctx, minter, proof, req.ID); !errors.Is(err, ErrRedemptionDefaultTooEarly) {
		t.Errorf("expected ErrRedemptionDefaultTooEarly, got %v", err)
	}
}

func TestConfirmRedemptionPayment(t *testing.T) {
	f := newFixture(t)
	f.mint(f.vault, 1)
	req := f.redeem(1)

	good := attestation.Payment{
		SourceAddress:    agentUnderlying,
		ReceivingAddress: redeemerAddress,
		SpentAmount:      si(980_010),
		ReceivedAmount:   si(980_000),
		PaymentReference: req.PaymentReference,
		BlockNumber:      req.LastUnderlyingBlock,
		BlockTimestamp:   req.LastUnderlyingTimestamp,
	}
	cases := []struct {
		name    string
		caller  string
		mutate  func(*attestation.Payment)
		wantErr error
	}{
		{"stranger too early", stranger, func(*attestation.Payment) {}, ErrConfirmationByOthersEarly},
		{"wrong reference", owner, func(p *attestation.Payment) { p.PaymentReference = paymentref.Redemption(req.ID + 1) }, ErrInvalidRedemptionReference},
		{"from another address", owner, func(p *attestation.Payment) { p.SourceAddress = "rOther" }, ErrNotAgentsUnderlyingAddress},
		{"to another address", owner, func(p *attestation.Payment) { p.ReceivingAddress = "rOther" }, ErrNotRedeemerAddress},
		{"too small", owner, func(p *attestation.Payment) { p.ReceivedAmount = si(979_999) }, ErrRedemptionPaymentTooSmall},
		{"block too late", owner, func(p *attestation.Payment) { p.BlockNumber++ }, ErrRedemptionPaymentTooLate},
		{"timestamp too late", owner, func(p *attestation.Payment) { p.BlockTimestamp++ }, ErrRedemptionPaymentTooLate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := good
			tc.mutate(&p)
			if err := f.m.ConfirmRedemptionPayment(f.ctx, tc.caller, f.payment(p), req.ID); !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	if err := f.m.ConfirmRedemptionPayment(f.ctx, owner, f.payment(good), req.ID); err != nil {
		t.Fatalf("ConfirmRedemptionPayment: %v", err)
	}
	info := f.agent(f.vault)
	// 10000 minting fee + 1000000 released - 980010 spent.
	if !info.FreeUnderlyingBalanceUBA.Equal(si(29_990)) {
		t.Errorf("free underlying: got %s, want 29990", info.FreeUnderlyingBalanceUBA)
	}
	if !info.RedeemingAMG.IsZero() || !info.CollateralWei.Equal(agentCollateral) {
		t.Errorf("agent after payment: redeeming %s collateral %s", info.RedeemingAMG, info.CollateralWei)
	}
	r, _ := f.m.Redemption(req.ID)
	if r.Status != model.RedemptionPaid {
		t.Errorf("status: got %s", r.Status)
	}
	if n := len(f.events.Named(events.RedemptionPerformed)); n != 1 {
		t.Errorf("expected one RedemptionPerformed event, got %d", n)
	}
	if saved := f.replica.redemptions[req.ID]; saved.Status != model.RedemptionPaid {
		t.Errorf("replica status: got %s", saved.Status)
	}
}

func TestConfirmRedemptionPayment_ByOthersIsRewarded(t *testing.T) {
	reward := u("1000000000000000")
	f := newFixture(t, func(s *settings.Settings) { s.ConfirmationByOthersRewardNATWei = reward })
	f.mint(f.vault, 1)
	req := f.redeem(1)
	f.clock.Advance(6 * time.Hour)

	proof := f.payment(attestation.Payment{
		SourceAddress:    agentUnderlying,
		ReceivingAddress: redeemerAddress,
		ReceivedAmount:   si(1_000_000),
		PaymentReference: req.PaymentReference,
	})
	if err := f.m.ConfirmRedemptionPayment(f.ctx, stranger, proof, req.ID); err != nil {
		t.Fatalf("ConfirmRedemptionPayment: %v", err)
	}
	if got := f.payout(stranger); !got.Equal(reward) {
		t.Errorf("confirmer reward: got %s, want %s", got, reward)
	}
	if got := f.agent(f.vault).CollateralWei; !got.Equal(agentCollateral.Sub(reward)) {
		t.Errorf("reward is taken from the agent: collateral %s", got)
	}
}
