package assetmanager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sdkmath "cosmossdk.io/math"
	"go.opentelemetry.io/otel/attribute"

	"github.com/atmx/fasset-manager/internal/attestation"
	"github.com/atmx/fasset-manager/internal/conversion"
	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
	"github.com/atmx/fasset-manager/internal/paymentref"
)

// RedeemResult reports the requests one RedeemLots call created.
type RedeemResult struct {
	Requests      []model.RedemptionRequest `json:"requests"`
	RedeemedLots  uint64                    `json:"redeemed_lots"`
	RemainingLots uint64                    `json:"remaining_lots"`
}

type redemptionSlice struct {
	vault string
	amg   sdkmath.Uint
}

// RedeemLots burns lots of the redeemer's f-assets and turns the backing
// of the oldest redemption tickets into redemption requests, at most one
// per agent. At most maxRedeemedTickets tickets are consumed; lots that
// could not be redeemed stay with the redeemer.
func (m *Manager) RedeemLots(ctx context.Context, redeemer string, lots uint64, underlyingAddress string) (res RedeemResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "RedeemLots", attribute.String("redeemer", redeemer), attribute.Int64("lots", int64(lots)))
	defer func() { m.finish(t, err) }()

	if m.terminated {
		return res, ErrTerminated
	}
	if lots == 0 {
		return res, ErrZeroLots
	}
	if underlyingAddress == "" {
		return res, fmt.Errorf("%w: redeemer underlying address is required", ErrInvalidArgument)
	}
	s := m.settings()
	wantAMG, err := conversion.Mul(s.LotSizeAMG, sdkmath.NewUint(lots))
	if err != nil {
		return res, err
	}
	wantUBA, err := conversion.AMGToUBA(s.Conversion, wantAMG)
	if err != nil {
		return res, err
	}
	if m.balance(redeemer).LT(wantUBA) {
		return res, fmt.Errorf("%w: have %s, need %s", ErrFAssetBalanceTooLow, m.balance(redeemer), wantUBA)
	}

	// Plan against the queue without touching it. Tickets are redeemed in
	// whole lots; a remainder below one lot (left by partial liquidation)
	// stays in the queue as dust and does not count against the ticket cap.
	remaining := wantAMG
	var (
		slices  []redemptionSlice
		byAgent = map[string]int{}
		takes   = map[int]sdkmath.Uint{}
		used    uint64
	)
	for i, tk := range m.tickets {
		if remaining.IsZero() || used >= s.MaxRedeemedTickets {
			break
		}
		take := tk.ValueAMG
		if take.GT(remaining) {
			take = remaining
		}
		take = take.Quo(s.LotSizeAMG).Mul(s.LotSizeAMG)
		if take.IsZero() {
			continue
		}
		takes[i] = take
		remaining = remaining.Sub(take)
		used++
		if j, ok := byAgent[tk.AgentVault]; ok {
			slices[j].amg = slices[j].amg.Add(take)
		} else {
			byAgent[tk.AgentVault] = len(slices)
			slices = append(slices, redemptionSlice{vault: tk.AgentVault, amg: take})
		}
	}
	redeemedAMG := wantAMG.Sub(remaining)
	if redeemedAMG.IsZero() {
		return res, ErrNothingToRedeem
	}
	type planned struct {
		slice redemptionSlice
		uba   sdkmath.Uint
		fee   sdkmath.Uint
	}
	plan := make([]planned, 0, len(slices))
	for _, sl := range slices {
		uba, err := conversion.AMGToUBA(s.Conversion, sl.amg)
		if err != nil {
			return res, err
		}
		fee, err := conversion.MulBIPS(uba, s.RedemptionFeeBIPS)
		if err != nil {
			return res, err
		}
		plan = append(plan, planned{slice: sl, uba: uba, fee: fee})
	}
	redeemedUBA, err := conversion.AMGToUBA(s.Conversion, redeemedAMG)
	if err != nil {
		return res, err
	}

	// Commit.
	kept := make([]*model.RedemptionTicket, 0, len(m.tickets))
	for i, tk := range m.tickets {
		if take, ok := takes[i]; ok {
			if take.Equal(tk.ValueAMG) {
				continue
			}
			tk.ValueAMG = tk.ValueAMG.Sub(take)
		}
		kept = append(kept, tk)
	}
	m.tickets = kept
	m.burn(redeemer, redeemedUBA)
	for _, p := range plan {
		a := m.agents[p.slice.vault]
		a.MintedAMG = a.MintedAMG.Sub(p.slice.amg)
		a.RedeemingAMG = a.RedeemingAMG.Add(p.slice.amg)
		id := m.newID()
		r := &model.RedemptionRequest{
			ID:                        id,
			Manager:                   m.address,
			AgentVault:                a.VaultAddress,
			Redeemer:                  redeemer,
			RedeemerUnderlyingAddress: underlyingAddress,
			ValueAMG:                  p.slice.amg,
			ValueUBA:                  p.uba,
			FeeUBA:                    p.fee,
			FirstUnderlyingBlock:      m.underlyingBlock,
			LastUnderlyingBlock:       m.underlyingBlock + s.UnderlyingBlocksForPayment,
			LastUnderlyingTimestamp:   m.underlyingTime + int64(s.UnderlyingSecondsForPayment),
			PaymentReference:          paymentref.Redemption(id),
			Status:                    model.RedemptionActive,
			RequestedAt:               t.now,
		}
		m.redemptions[id] = r
		t.touchAgent(a.VaultAddress)
		t.touchRedemption(id)
		res.Requests = append(res.Requests, *r)
		m.emit(t, events.RedemptionRequested, map[string]any{
			"agentVault":              a.VaultAddress,
			"redeemer":                redeemer,
			"requestId":               id,
			"paymentAddress":          underlyingAddress,
			"valueUBA":                p.uba.String(),
			"feeUBA":                  p.fee.String(),
			"lastUnderlyingBlock":     r.LastUnderlyingBlock,
			"lastUnderlyingTimestamp": r.LastUnderlyingTimestamp,
			"paymentReference":        r.PaymentReference,
		})
	}
	res.RedeemedLots = redeemedAMG.Quo(s.LotSizeAMG).Uint64()
	res.RemainingLots = lots - res.RedeemedLots
	if res.RemainingLots > 0 {
		m.emit(t, events.RedemptionRequestIncomplete, map[string]any{
			"redeemer":      redeemer,
			"remainingLots": res.RemainingLots,
		})
	}
	slog.Info("redemption requested", "asset_manager", m.address, "redeemer", redeemer,
		"lots", res.RedeemedLots, "requests", len(res.Requests), "remaining_lots", res.RemainingLots)
	return res, nil
}

func (m *Manager) activeRedemption(id uint64) (*model.RedemptionRequest, error) {
	r, ok := m.redemptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRedemption, id)
	}
	if r.Status != model.RedemptionActive {
		return nil, fmt.Errorf("%w: %d is %s", ErrRedemptionNotActive, id, r.Status)
	}
	return r, nil
}

// ConfirmRedemptionPayment closes a redemption request against the
// agent's proven payment to the redeemer. Before
// confirmationByOthersAfterSeconds only the agent owner may confirm;
// afterwards anyone may, for a reward paid from the agent's collateral.
func (m *Manager) ConfirmRedemptionPayment(ctx context.Context, caller string, proof attestation.Proof, id uint64) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "ConfirmRedemptionPayment", attribute.Int64("request", int64(id)))
	defer func() { m.finish(t, err) }()

	r, err := m.activeRedemption(id)
	if err != nil {
		return err
	}
	a, err := m.agent(r.AgentVault)
	if err != nil {
		return err
	}
	s := m.settings()
	byOthers := caller != a.Owner
	if byOthers && t.now.Before(r.RequestedAt.Add(time.Duration(s.ConfirmationByOthersAfterSeconds)*time.Second)) {
		return ErrConfirmationByOthersEarly
	}
	pmt, err := m.verifier.VerifyPayment(t.ctx, proof)
	if err != nil {
		return err
	}
	if err := m.checkChain(pmt.SourceID); err != nil {
		return err
	}
	if m.usedPayments[pmt.TxID] {
		return fmt.Errorf("%w: %s", ErrPaymentAlreadyConfirmed, pmt.TxID)
	}
	if !paymentref.Equal(pmt.PaymentReference, r.PaymentReference) {
		return ErrInvalidRedemptionReference
	}
	if pmt.SourceAddress != a.UnderlyingAddress {
		return ErrNotAgentsUnderlyingAddress
	}
	if pmt.ReceivingAddress != r.RedeemerUnderlyingAddress {
		return ErrNotRedeemerAddress
	}
	if pmt.BlockNumber < r.FirstUnderlyingBlock {
		return ErrRedemptionPaymentTooOld
	}
	if pmt.BlockNumber > r.LastUnderlyingBlock || pmt.BlockTimestamp > r.LastUnderlyingTimestamp {
		return ErrRedemptionPaymentTooLate
	}
	due := sdkmath.NewIntFromBigInt(r.ValueUBA.Sub(r.FeeUBA).BigInt())
	if pmt.ReceivedAmount.LT(due) {
		return fmt.Errorf("%w: received %s, due %s", ErrRedemptionPaymentTooSmall, pmt.ReceivedAmount, due)
	}
	var prices agentPrices
	needPrices := !a.BackedAMG().Sub(r.ValueAMG).IsZero()
	if needPrices {
		if prices, err = m.pricesFor(t.ctx, a); err != nil {
			return err
		}
	}

	m.usedPayments[pmt.TxID] = true
	r.Status = model.RedemptionPaid
	a.RedeemingAMG = a.RedeemingAMG.Sub(r.ValueAMG)
	a.FreeUnderlyingBalanceUBA = a.FreeUnderlyingBalanceUBA.
		Add(sdkmath.NewIntFromBigInt(r.ValueUBA.BigInt())).
		Sub(pmt.SpentAmount)
	t.touchAgent(a.VaultAddress)
	t.touchRedemption(id)
	m.emit(t, events.RedemptionPerformed, map[string]any{
		"agentVault":      a.VaultAddress,
		"redeemer":        r.Redeemer,
		"requestId":       id,
		"transactionHash": pmt.TxID,
		"valueUBA":        r.ValueUBA.String(),
		"spentUBA":        pmt.SpentAmount.String(),
	})
	if byOthers {
		reward := m.payFromCollateral(a, caller, s.ConfirmationByOthersRewardNATWei)
		slog.Info("redemption confirmed by others", "asset_manager", m.address, "agent", a.VaultAddress,
			"confirmer", caller, "reward_wei", reward.String())
	}
	if a.FreeUnderlyingBalanceUBA.IsNegative() {
		m.startFullLiquidation(t, a)
	} else if needPrices {
		m.evaluate(t, a, prices)
	}
	slog.Info("redemption performed", "asset_manager", m.address, "agent", a.VaultAddress, "request", id)
	return nil
}

// RedemptionPaymentDefault compensates the redeemer in collateral when the
// agent provably did not pay within the window. The redeemer or the agent
// owner may call it; anyone may after redemptionByAnybodyAfterSeconds.
// The redeemer receives the value in collateral times
// redemptionDefaultFactorBIPS, capped by the agent's collateral.
func (m *Manager) RedemptionPaymentDefault(ctx context.Context, caller string, proof attestation.Proof, id uint64) (paid sdkmath.Uint, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "RedemptionPaymentDefault", attribute.Int64("request", int64(id)))
	defer func() { m.finish(t, err) }()

	paid = sdkmath.ZeroUint()
	r, err := m.activeRedemption(id)
	if err != nil {
		return paid, err
	}
	a, err := m.agent(r.AgentVault)
	if err != nil {
		return paid, err
	}
	s := m.settings()
	if caller != r.Redeemer && caller != a.Owner &&
		t.now.Before(r.RequestedAt.Add(time.Duration(s.RedemptionByAnybodyAfterSeconds)*time.Second)) {
		return paid, ErrOnlyRedeemerOrAgent
	}
	np, err := m.verifier.VerifyReferencedPaymentNonexistence(t.ctx, proof)
	if err != nil {
		return paid, err
	}
	if err := m.checkChain(np.SourceID); err != nil {
		return paid, err
	}
	if !paymentref.Equal(np.PaymentReference, r.PaymentReference) ||
		np.DestinationAddress != r.RedeemerUnderlyingAddress ||
		np.Amount.LT(r.ValueUBA.Sub(r.FeeUBA)) {
		return paid, ErrNonPaymentMismatch
	}
	if np.LowerBoundaryBlockNumber > r.FirstUnderlyingBlock {
		return paid, fmt.Errorf("%w: range starts after the request", ErrNonPaymentMismatch)
	}
	if np.FirstOverflowBlockNumber <= r.LastUnderlyingBlock || np.FirstOverflowBlockTimestamp <= r.LastUnderlyingTimestamp {
		return paid, ErrRedemptionDefaultTooEarly
	}
	p, err := m.pricesFor(t.ctx, a)
	if err != nil {
		return paid, err
	}
	wei, err := p.fast.ToWei(r.ValueAMG)
	if err != nil {
		return paid, err
	}
	compensation, err := conversion.MulBIPS(wei, s.RedemptionDefaultFactorBIPS)
	if err != nil {
		return paid, err
	}

	r.Status = model.RedemptionDefaulted
	paid = m.payFromCollateral(a, r.Redeemer, compensation)
	a.RedeemingAMG = a.RedeemingAMG.Sub(r.ValueAMG)
	a.FreeUnderlyingBalanceUBA = a.FreeUnderlyingBalanceUBA.Add(sdkmath.NewIntFromBigInt(r.ValueUBA.BigInt()))
	t.touchAgent(a.VaultAddress)
	t.touchRedemption(id)
	m.emit(t, events.RedemptionDefault, map[string]any{
		"agentVault":            a.VaultAddress,
		"redeemer":              r.Redeemer,
		"requestId":             id,
		"redeemedCollateralWei": paid.String(),
	})
	m.evaluate(t, a, p)
	slog.Info("redemption default", "asset_manager", m.address, "agent", a.VaultAddress,
		"request", id, "redeemer", r.Redeemer, "paid_wei", paid.String())
	return paid, nil
}

// Redemption returns a redemption request by id.
func (m *Manager) Redemption(id uint64) (*model.RedemptionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.redemptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRedemption, id)
	}
	copied := *r
	return &copied, nil
}
