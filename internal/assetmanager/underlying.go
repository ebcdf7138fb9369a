package assetmanager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/atmx/fasset-manager/internal/attestation"
	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/paymentref"
)

// ConfirmTopupPayment credits a proven payment into the agent's underlying
// address to its free underlying balance. The payment must carry the
// agent's topup reference.
func (m *Manager) ConfirmTopupPayment(ctx context.Context, caller string, proof attestation.Proof, vault string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "ConfirmTopupPayment", attribute.String("agent", vault))
	defer func() { m.finish(t, err) }()

	a, err := m.ownedAgent(caller, vault)
	if err != nil {
		return err
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
	if pmt.ReceivingAddress != a.UnderlyingAddress {
		return ErrNotUnderlyingAddress
	}
	ref, err := paymentref.Topup(a.VaultAddress)
	if err != nil {
		return err
	}
	if !paymentref.Equal(pmt.PaymentReference, ref) {
		return ErrNotATopupPayment
	}
	if pmt.ReceivedAmount.IsNegative() {
		return ErrNegativePayment
	}
	if pmt.BlockNumber < a.CreatedAtUnderlyingBlock {
		return fmt.Errorf("%w: block %d, agent created at block %d", ErrTopupBeforeAgentCreated, pmt.BlockNumber, a.CreatedAtUnderlyingBlock)
	}

	m.usedPayments[pmt.TxID] = true
	a.FreeUnderlyingBalanceUBA = a.FreeUnderlyingBalanceUBA.Add(pmt.ReceivedAmount)
	t.touchAgent(a.VaultAddress)
	m.emit(t, events.UnderlyingBalanceToppedUp, map[string]any{
		"agentVault":      a.VaultAddress,
		"transactionHash": pmt.TxID,
		"depositedUBA":    pmt.ReceivedAmount.String(),
	})
	slog.Info("underlying topped up", "asset_manager", m.address, "agent", a.VaultAddress,
		"amount_uba", pmt.ReceivedAmount.String())
	return nil
}

// AnnounceUnderlyingWithdrawal lets the agent owner spend from the
// underlying address. The returned reference must be attached to the
// withdrawal transaction, otherwise it counts as an illegal payment.
func (m *Manager) AnnounceUnderlyingWithdrawal(ctx context.Context, caller, vault string) (ref string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "AnnounceUnderlyingWithdrawal", attribute.String("agent", vault))
	defer func() { m.finish(t, err) }()

	a, err := m.ownedAgent(caller, vault)
	if err != nil {
		return "", err
	}
	if a.UnderlyingWithdrawalID != 0 {
		return "", ErrAnnouncedWithdrawalActive
	}
	id := m.newID()
	a.UnderlyingWithdrawalID = id
	a.UnderlyingWithdrawalAnnouncedAt = t.now
	ref = paymentref.AnnouncedWithdrawal(id)
	t.touchAgent(a.VaultAddress)
	m.emit(t, events.UnderlyingWithdrawalAnnounced, map[string]any{
		"agentVault":       a.VaultAddress,
		"announcementId":   id,
		"paymentReference": ref,
	})
	return ref, nil
}

// ConfirmUnderlyingWithdrawal settles an announced withdrawal against the
// proven transaction and charges what it spent to the free underlying
// balance. Overspending puts the agent into full liquidation.
func (m *Manager) ConfirmUnderlyingWithdrawal(ctx context.Context, caller string, proof attestation.Proof, vault string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "ConfirmUnderlyingWithdrawal", attribute.String("agent", vault))
	defer func() { m.finish(t, err) }()

	a, err := m.ownedAgent(caller, vault)
	if err != nil {
		return err
	}
	if a.UnderlyingWithdrawalID == 0 {
		return ErrNoAnnouncedWithdrawal
	}
	s := m.settings()
	allowedAt := a.UnderlyingWithdrawalAnnouncedAt.Add(time.Duration(s.AnnouncedUnderlyingConfirmationMinSeconds) * time.Second)
	if t.now.Before(allowedAt) {
		return ErrConfirmationTooEarly
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
	if pmt.SourceAddress != a.UnderlyingAddress {
		return ErrNotAgentsUnderlyingAddress
	}
	if !paymentref.Equal(pmt.PaymentReference, paymentref.AnnouncedWithdrawal(a.UnderlyingWithdrawalID)) {
		return ErrWrongAnnouncedPaymentReference
	}

	id := a.UnderlyingWithdrawalID
	m.usedPayments[pmt.TxID] = true
	a.FreeUnderlyingBalanceUBA = a.FreeUnderlyingBalanceUBA.Sub(pmt.SpentAmount)
	a.UnderlyingWithdrawalID = 0
	a.UnderlyingWithdrawalAnnouncedAt = time.Time{}
	t.touchAgent(a.VaultAddress)
	m.emit(t, events.UnderlyingWithdrawalConfirmed, map[string]any{
		"agentVault":      a.VaultAddress,
		"announcementId":  id,
		"spentUBA":        pmt.SpentAmount.String(),
		"transactionHash": pmt.TxID,
	})
	if a.FreeUnderlyingBalanceUBA.IsNegative() {
		m.startFullLiquidation(t, a)
	}
	slog.Info("underlying withdrawal confirmed", "asset_manager", m.address, "agent", a.VaultAddress,
		"spent_uba", pmt.SpentAmount.String(), "free_uba", a.FreeUnderlyingBalanceUBA.String())
	return nil
}

// UpdateCurrentBlock raises the manager's view of the underlying chain tip.
// Lower heights and timestamps are ignored.
func (m *Manager) UpdateCurrentBlock(ctx context.Context, proof attestation.Proof) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "UpdateCurrentBlock")
	defer func() { m.finish(t, err) }()

	h, err := m.verifier.VerifyConfirmedBlockHeight(t.ctx, proof)
	if err != nil {
		return err
	}
	if err := m.checkChain(h.SourceID); err != nil {
		return err
	}
	changed := false
	if h.BlockNumber > m.underlyingBlock {
		m.underlyingBlock, changed = h.BlockNumber, true
	}
	if h.BlockTimestamp > m.underlyingTime {
		m.underlyingTime, changed = h.BlockTimestamp, true
	}
	if changed {
		m.emit(t, events.CurrentUnderlyingBlockUpdated, map[string]any{
			"underlyingBlockNumber":    m.underlyingBlock,
			"underlyingBlockTimestamp": m.underlyingTime,
		})
	}
	return nil
}
