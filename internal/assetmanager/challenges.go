package assetmanager

import (
	"context"
	"fmt"
	"log/slog"

	sdkmath "cosmossdk.io/math"
	"go.opentelemetry.io/otel/attribute"

	"github.com/atmx/fasset-manager/internal/attestation"
	"github.com/atmx/fasset-manager/internal/conversion"
	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
	"github.com/atmx/fasset-manager/internal/paymentref"
)

// challengeTarget loads the agent and rejects agents already in full
// liquidation.
func (m *Manager) challengeTarget(vault string) (*model.Agent, error) {
	a, err := m.agent(vault)
	if err != nil {
		return nil, err
	}
	if a.Status == model.AgentFullLiquidation {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyLiquidating, vault)
	}
	return a, nil
}

func (m *Manager) verifyAgentOutflow(ctx context.Context, a *model.Agent, proof attestation.Proof) (attestation.BalanceDecreasingTransaction, error) {
	tx, err := m.verifier.VerifyBalanceDecreasingTransaction(ctx, proof)
	if err != nil {
		return tx, err
	}
	if err := m.checkChain(tx.SourceID); err != nil {
		return tx, err
	}
	if tx.SourceAddress != a.UnderlyingAddress {
		return tx, ErrNotAgentsUnderlyingAddress
	}
	return tx, nil
}

// challengeReward is paymentChallengeRewardNATWei plus
// paymentChallengeRewardBIPS of the agent's backed value in collateral.
func (m *Manager) challengeReward(ctx context.Context, a *model.Agent) (sdkmath.Uint, error) {
	s := m.settings()
	reward := s.PaymentChallengeRewardNATWei
	if a.BackedAMG().IsZero() || s.PaymentChallengeRewardBIPS == 0 {
		return reward, nil
	}
	p, err := m.pricesFor(ctx, a)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	backedWei, err := p.fast.ToWei(a.BackedAMG())
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	share, err := conversion.MulBIPS(backedWei, s.PaymentChallengeRewardBIPS)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	return conversion.Add(reward, share)
}

// checkIllegal rejects outflows the agent was allowed to make: payments of
// its active redemptions, its announced underlying withdrawal and any
// transaction already confirmed through the manager.
func (m *Manager) checkIllegal(a *model.Agent, tx attestation.BalanceDecreasingTransaction) error {
	if m.usedPayments[tx.TxID] {
		return ErrTransactionConfirmed
	}
	if tx.PaymentReference == "" {
		return nil
	}
	typ, id, err := paymentref.Decode(tx.PaymentReference)
	if err != nil {
		// Not one of ours, so not a legal reference either.
		return nil
	}
	switch typ {
	case paymentref.TypeRedemption:
		if r, ok := m.redemptions[id]; ok && r.AgentVault == a.VaultAddress && r.Status == model.RedemptionActive {
			return ErrMatchingRedemptionActive
		}
	case paymentref.TypeAnnouncedWithdrawal:
		if a.UnderlyingWithdrawalID != 0 && a.UnderlyingWithdrawalID == id {
			return ErrMatchingAnnouncedPaymentActive
		}
	}
	return nil
}

// IllegalPaymentChallenge proves that the agent spent from its underlying
// address without a legal reason. The challenger is rewarded from the
// agent's collateral and the agent goes into full liquidation.
func (m *Manager) IllegalPaymentChallenge(ctx context.Context, challenger string, proof attestation.Proof, vault string) (reward sdkmath.Uint, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "IllegalPaymentChallenge", attribute.String("agent", vault), attribute.String("challenger", challenger))
	defer func() { m.finish(t, err) }()

	reward = sdkmath.ZeroUint()
	a, err := m.challengeTarget(vault)
	if err != nil {
		return reward, err
	}
	tx, err := m.verifyAgentOutflow(t.ctx, a, proof)
	if err != nil {
		return reward, err
	}
	if err := m.checkIllegal(a, tx); err != nil {
		return reward, err
	}
	due, err := m.challengeReward(t.ctx, a)
	if err != nil {
		return reward, err
	}

	reward = m.payFromCollateral(a, challenger, due)
	t.touchAgent(a.VaultAddress)
	m.emit(t, events.IllegalPaymentConfirmed, map[string]any{
		"agentVault":      a.VaultAddress,
		"transactionHash": tx.TxID,
		"challenger":      challenger,
		"rewardWei":       reward.String(),
	})
	m.startFullLiquidation(t, a)
	slog.Warn("illegal payment confirmed", "asset_manager", m.address, "agent", a.VaultAddress,
		"tx", tx.TxID, "challenger", challenger, "reward_wei", reward.String())
	return reward, nil
}

// DoublePaymentChallenge proves that the agent paid the same reference
// twice from its underlying address. The outcome matches an illegal
// payment challenge.
func (m *Manager) DoublePaymentChallenge(ctx context.Context, challenger string, proof1, proof2 attestation.Proof, vault string) (reward sdkmath.Uint, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "DoublePaymentChallenge", attribute.String("agent", vault), attribute.String("challenger", challenger))
	defer func() { m.finish(t, err) }()

	reward = sdkmath.ZeroUint()
	a, err := m.challengeTarget(vault)
	if err != nil {
		return reward, err
	}
	tx1, err := m.verifyAgentOutflow(t.ctx, a, proof1)
	if err != nil {
		return reward, err
	}
	tx2, err := m.verifyAgentOutflow(t.ctx, a, proof2)
	if err != nil {
		return reward, err
	}
	if tx1.TxID == tx2.TxID {
		return reward, ErrChallengeSameTransaction
	}
	if tx1.PaymentReference == "" || !paymentref.Equal(tx1.PaymentReference, tx2.PaymentReference) {
		return reward, ErrChallengeNotDuplicate
	}
	due, err := m.challengeReward(t.ctx, a)
	if err != nil {
		return reward, err
	}

	reward = m.payFromCollateral(a, challenger, due)
	t.touchAgent(a.VaultAddress)
	m.emit(t, events.DuplicatePaymentConfirmed, map[string]any{
		"agentVault":       a.VaultAddress,
		"transactionHash1": tx1.TxID,
		"transactionHash2": tx2.TxID,
		"challenger":       challenger,
		"rewardWei":        reward.String(),
	})
	m.startFullLiquidation(t, a)
	slog.Warn("duplicate payment confirmed", "asset_manager", m.address, "agent", a.VaultAddress,
		"tx1", tx1.TxID, "tx2", tx2.TxID, "challenger", challenger)
	return reward, nil
}
