package assetmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	sdkmath "cosmossdk.io/math"
	"go.opentelemetry.io/otel/attribute"

	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
)

func (m *Manager) balance(account string) sdkmath.Uint {
	if b, ok := m.balances[account]; ok {
		return b
	}
	return sdkmath.ZeroUint()
}

func (m *Manager) mint(account string, uba sdkmath.Uint) {
	m.balances[account] = m.balance(account).Add(uba)
}

// burn removes uba from account; callers check the balance first.
func (m *Manager) burn(account string, uba sdkmath.Uint) {
	b := m.balance(account).Sub(uba)
	if b.IsZero() {
		delete(m.balances, account)
		return
	}
	m.balances[account] = b
}

func (m *Manager) totalSupply() sdkmath.Uint {
	total := sdkmath.ZeroUint()
	for _, b := range m.balances {
		total = total.Add(b)
	}
	return total
}

// BalanceOf returns the f-asset balance of account in UBA.
func (m *Manager) BalanceOf(account string) sdkmath.Uint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balance(account)
}

// TotalSupply returns the f-asset supply in UBA.
func (m *Manager) TotalSupply() sdkmath.Uint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalSupply()
}

// Transfer moves f-assets between accounts. Transfers stop once the
// manager is terminated.
func (m *Manager) Transfer(ctx context.Context, from, to string, amountUBA sdkmath.Uint) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "Transfer", attribute.String("from", from), attribute.String("to", to))
	defer func() { m.finish(t, err) }()

	if m.terminated {
		return ErrTerminated
	}
	if to == "" || amountUBA.IsZero() {
		return fmt.Errorf("%w: transfer needs a recipient and a positive amount", ErrInvalidArgument)
	}
	if m.balance(from).LT(amountUBA) {
		return fmt.Errorf("%w: have %s, need %s", ErrFAssetBalanceTooLow, m.balance(from), amountUBA)
	}
	m.burn(from, amountUBA)
	m.mint(to, amountUBA)
	m.emit(t, events.FAssetTransferred, map[string]any{"from": from, "to": to, "value": amountUBA.String()})
	return nil
}

// Payouts returns the collateral owed to account, per token.
func (m *Manager) Payouts(account string) map[string]sdkmath.Uint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]sdkmath.Uint, len(m.payouts[account]))
	for token, v := range m.payouts[account] {
		out[token] = v
	}
	return out
}

// ClaimPayout hands out and clears the collateral owed to caller in token.
func (m *Manager) ClaimPayout(ctx context.Context, caller, token string) (amount sdkmath.Uint, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "ClaimPayout", attribute.String("account", caller), attribute.String("token", token))
	defer func() { m.finish(t, err) }()

	amount, ok := m.payouts[caller][token]
	if !ok || amount.IsZero() {
		return sdkmath.ZeroUint(), fmt.Errorf("%w: nothing to claim", ErrZeroAmount)
	}
	delete(m.payouts[caller], token)
	slog.Info("payout claimed", "asset_manager", m.address, "account", caller, "token", token, "amount", amount.String())
	return amount, nil
}

// --- redemption ticket queue ---

func (m *Manager) appendTicket(vault string, amg sdkmath.Uint, t *txn) *model.RedemptionTicket {
	tk := &model.RedemptionTicket{
		ID:         m.newID(),
		AgentVault: vault,
		ValueAMG:   amg,
		CreatedAt:  t.now,
	}
	m.tickets = append(m.tickets, tk)
	return tk
}

// removeAgentTickets takes amg off the agent's tickets, oldest first.
func (m *Manager) removeAgentTickets(vault string, amg sdkmath.Uint) {
	kept := m.tickets[:0]
	for _, tk := range m.tickets {
		if tk.AgentVault == vault && !amg.IsZero() {
			if tk.ValueAMG.LTE(amg) {
				amg = amg.Sub(tk.ValueAMG)
				continue
			}
			tk.ValueAMG = tk.ValueAMG.Sub(amg)
			amg = sdkmath.ZeroUint()
		}
		kept = append(kept, tk)
	}
	m.tickets = kept
}

// Tickets returns the redemption queue, oldest first.
func (m *Manager) Tickets() []model.RedemptionTicket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.RedemptionTicket, len(m.tickets))
	for i, tk := range m.tickets {
		out[i] = *tk
	}
	return out
}

// Accounts lists accounts holding f-assets, sorted.
func (m *Manager) Accounts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.balances))
	for a := range m.balances {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
