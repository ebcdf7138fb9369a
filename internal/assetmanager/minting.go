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

// ReserveRequest asks an agent to hold collateral for a minting.
type ReserveRequest struct {
	Minter            string       `json:"minter"`
	AgentVault        string       `json:"agent_vault"`
	Lots              uint64       `json:"lots"`
	MaxMintingFeeBIPS uint64       `json:"max_minting_fee_bips"`
	FeePaidWei        sdkmath.Uint `json:"fee_paid_wei"`
}

// CollateralReservationFee is the fee a minter must pay to reserve lots
// with the agent at the current price.
func (m *Manager) CollateralReservationFee(ctx context.Context, vault string, lots uint64) (sdkmath.Uint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, err := m.agent(vault)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	p, err := m.pricesFor(ctx, a)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	valueAMG, err := conversion.Mul(m.settings().LotSizeAMG, sdkmath.NewUint(lots))
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	return m.reservationFee(valueAMG, p)
}

func (m *Manager) reservationFee(valueAMG sdkmath.Uint, p agentPrices) (sdkmath.Uint, error) {
	wei, err := p.fast.ToWei(valueAMG)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	return conversion.MulBIPS(wei, m.settings().CollateralReservationFeeBIPS)
}

// ReserveCollateral holds collateral of an available agent for req.Lots
// lots and returns the reservation the minter must pay against.
func (m *Manager) ReserveCollateral(ctx context.Context, req ReserveRequest) (res *model.CollateralReservation, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "ReserveCollateral", attribute.String("agent", req.AgentVault),
		attribute.String("minter", req.Minter), attribute.Int64("lots", int64(req.Lots)))
	defer func() { m.finish(t, err) }()

	if m.terminated {
		return nil, ErrTerminated
	}
	if m.paused {
		return nil, ErrPaused
	}
	if req.Lots == 0 {
		return nil, ErrZeroLots
	}
	a, err := m.agent(req.AgentVault)
	if err != nil {
		return nil, err
	}
	if !a.Available || a.Status != model.AgentNormal {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotAvailable, req.AgentVault)
	}
	if a.MintingFeeBIPS > req.MaxMintingFeeBIPS {
		return nil, fmt.Errorf("%w: %d > %d", ErrAgentFeeTooHigh, a.MintingFeeBIPS, req.MaxMintingFeeBIPS)
	}
	p, err := m.pricesFor(t.ctx, a)
	if err != nil {
		return nil, err
	}
	free, err := m.freeCollateralLots(a, p)
	if err != nil {
		return nil, err
	}
	if free < req.Lots {
		return nil, fmt.Errorf("%w: %d free lots", ErrNotEnoughFreeCollateral, free)
	}
	s := m.settings()
	valueAMG, err := conversion.Mul(s.LotSizeAMG, sdkmath.NewUint(req.Lots))
	if err != nil {
		return nil, err
	}
	valueUBA, err := conversion.AMGToUBA(s.Conversion, valueAMG)
	if err != nil {
		return nil, err
	}
	fee, err := m.reservationFee(valueAMG, p)
	if err != nil {
		return nil, err
	}
	paid := req.FeePaidWei
	if paid.IsNil() || paid.LT(fee) {
		return nil, fmt.Errorf("%w: need %s wei", ErrInappropriateFee, fee)
	}
	mintingFee, err := conversion.MulBIPS(valueUBA, a.MintingFeeBIPS)
	if err != nil {
		return nil, err
	}

	id := m.newID()
	r := &model.CollateralReservation{
		ID:                      id,
		Manager:                 m.address,
		AgentVault:              a.VaultAddress,
		Minter:                  req.Minter,
		ValueAMG:                valueAMG,
		ValueUBA:                valueUBA,
		MintingFeeUBA:           mintingFee,
		ReservationFeeWei:       paid,
		FirstUnderlyingBlock:    m.underlyingBlock,
		LastUnderlyingBlock:     m.underlyingBlock + s.UnderlyingBlocksForPayment,
		LastUnderlyingTimestamp: m.underlyingTime + int64(s.UnderlyingSecondsForPayment),
		PaymentAddress:          a.UnderlyingAddress,
		PaymentReference:        paymentref.Minting(id),
		Status:                  model.ReservationActive,
		CreatedAt:               t.now,
	}
	a.ReservedAMG = a.ReservedAMG.Add(valueAMG)
	m.reservations[id] = r
	t.touchAgent(a.VaultAddress)
	t.touchReservation(id)
	m.emit(t, events.CollateralReserved, map[string]any{
		"agentVault":              a.VaultAddress,
		"minter":                  req.Minter,
		"collateralReservationId": id,
		"valueUBA":                valueUBA.String(),
		"feeUBA":                  mintingFee.String(),
		"lastUnderlyingBlock":     r.LastUnderlyingBlock,
		"lastUnderlyingTimestamp": r.LastUnderlyingTimestamp,
		"paymentAddress":          r.PaymentAddress,
		"paymentReference":        r.PaymentReference,
	})
	slog.Info("collateral reserved", "asset_manager", m.address, "agent", a.VaultAddress,
		"reservation", id, "lots", req.Lots, "value_uba", valueUBA.String())
	copied := *r
	return &copied, nil
}

// activeReservation returns the reservation if it can still be consumed.
func (m *Manager) activeReservation(id uint64) (*model.CollateralReservation, error) {
	r, ok := m.reservations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownReservation, id)
	}
	if r.Status != model.ReservationActive {
		return nil, fmt.Errorf("%w: %d is %s", ErrReservationConsumed, id, r.Status)
	}
	return r, nil
}

// ExecuteMinting consumes the reservation against a proven underlying
// payment and mints the f-assets to the minter.
func (m *Manager) ExecuteMinting(ctx context.Context, caller string, proof attestation.Proof, id uint64) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "ExecuteMinting", attribute.Int64("reservation", int64(id)))
	defer func() { m.finish(t, err) }()

	r, err := m.activeReservation(id)
	if err != nil {
		return err
	}
	a, err := m.agent(r.AgentVault)
	if err != nil {
		return err
	}
	if caller != r.Minter && caller != a.Owner {
		return ErrOnlyMinterOrAgent
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
		return ErrInvalidMintingReference
	}
	if pmt.ReceivingAddress != a.UnderlyingAddress {
		return ErrNotUnderlyingAddress
	}
	if pmt.ReceivedAmount.IsNegative() {
		return ErrNegativePayment
	}
	due := r.ValueUBA.Add(r.MintingFeeUBA)
	received := sdkmath.NewUintFromBigInt(pmt.ReceivedAmount.BigInt())
	if received.LT(due) {
		return fmt.Errorf("%w: received %s, due %s", ErrMintingPaymentTooSmall, received, due)
	}
	if pmt.BlockNumber < r.FirstUnderlyingBlock {
		return ErrMintingPaymentTooOld
	}

	m.usedPayments[pmt.TxID] = true
	r.Status = model.ReservationMinted
	a.ReservedAMG = a.ReservedAMG.Sub(r.ValueAMG)
	a.MintedAMG = a.MintedAMG.Add(r.ValueAMG)
	a.FreeUnderlyingBalanceUBA = a.FreeUnderlyingBalanceUBA.Add(sdkmath.NewIntFromBigInt(received.Sub(r.ValueUBA).BigInt()))
	m.mint(r.Minter, r.ValueUBA)
	m.pay(a.Owner, a.CollateralToken, r.ReservationFeeWei)
	m.appendTicket(a.VaultAddress, r.ValueAMG, t)
	t.touchAgent(a.VaultAddress)
	t.touchReservation(id)
	m.emit(t, events.MintingExecuted, map[string]any{
		"agentVault":              a.VaultAddress,
		"collateralReservationId": id,
		"mintedAmountUBA":         r.ValueUBA.String(),
		"receivedFeeUBA":          received.Sub(r.ValueUBA).String(),
		"transactionHash":         pmt.TxID,
	})
	slog.Info("minting executed", "asset_manager", m.address, "agent", a.VaultAddress,
		"reservation", id, "minter", r.Minter, "value_uba", r.ValueUBA.String())
	return nil
}

// MintingPaymentDefault releases a reservation whose payment provably
// never arrived within the payment window. The reservation fee goes to
// the agent.
func (m *Manager) MintingPaymentDefault(ctx context.Context, caller string, proof attestation.Proof, id uint64) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "MintingPaymentDefault", attribute.Int64("reservation", int64(id)))
	defer func() { m.finish(t, err) }()

	r, err := m.activeReservation(id)
	if err != nil {
		return err
	}
	a, err := m.ownedAgent(caller, r.AgentVault)
	if err != nil {
		return err
	}
	np, err := m.verifier.VerifyReferencedPaymentNonexistence(t.ctx, proof)
	if err != nil {
		return err
	}
	if err := m.checkChain(np.SourceID); err != nil {
		return err
	}
	due := r.ValueUBA.Add(r.MintingFeeUBA)
	if !paymentref.Equal(np.PaymentReference, r.PaymentReference) ||
		np.DestinationAddress != a.UnderlyingAddress ||
		np.Amount.LT(due) {
		return ErrNonPaymentMismatch
	}
	if np.LowerBoundaryBlockNumber > r.FirstUnderlyingBlock {
		return fmt.Errorf("%w: range starts after the reservation", ErrNonPaymentMismatch)
	}
	if np.FirstOverflowBlockNumber <= r.LastUnderlyingBlock || np.FirstOverflowBlockTimestamp <= r.LastUnderlyingTimestamp {
		return ErrMintingDefaultTooEarly
	}

	m.releaseReservation(t, a, r, model.ReservationDefaulted)
	m.emit(t, events.MintingPaymentDefault, map[string]any{
		"agentVault":              a.VaultAddress,
		"minter":                  r.Minter,
		"collateralReservationId": id,
		"reservedAmountUBA":       r.ValueUBA.String(),
	})
	slog.Info("minting payment default", "asset_manager", m.address, "agent", a.VaultAddress, "reservation", id)
	return nil
}

// ExpireCollateralReservation releases a reservation once no proof about
// its payment can be obtained anymore. Anyone may call it.
func (m *Manager) ExpireCollateralReservation(ctx context.Context, id uint64) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "ExpireCollateralReservation", attribute.Int64("reservation", int64(id)))
	defer func() { m.finish(t, err) }()

	r, err := m.activeReservation(id)
	if err != nil {
		return err
	}
	a, err := m.agent(r.AgentVault)
	if err != nil {
		return err
	}
	expiresAt := r.CreatedAt.Add(time.Duration(m.settings().AttestationWindowSeconds) * time.Second)
	if t.now.Before(expiresAt) {
		return fmt.Errorf("%w: expires at %s", ErrExpiryTooEarly, expiresAt.Format(time.RFC3339))
	}

	m.releaseReservation(t, a, r, model.ReservationExpired)
	m.emit(t, events.CollateralReservationDeleted, map[string]any{
		"agentVault":              a.VaultAddress,
		"minter":                  r.Minter,
		"collateralReservationId": id,
		"reservedAmountUBA":       r.ValueUBA.String(),
	})
	return nil
}

func (m *Manager) releaseReservation(t *txn, a *model.Agent, r *model.CollateralReservation, status model.ReservationStatus) {
	r.Status = status
	a.ReservedAMG = a.ReservedAMG.Sub(r.ValueAMG)
	m.pay(a.Owner, a.CollateralToken, r.ReservationFeeWei)
	t.touchAgent(a.VaultAddress)
	t.touchReservation(r.ID)
}

// Reservation returns a collateral reservation by id.
func (m *Manager) Reservation(id uint64) (*model.CollateralReservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownReservation, id)
	}
	copied := *r
	return &copied, nil
}
