package api

import (
	"net/http"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/go-chi/chi/v5"

	"github.com/atmx/fasset-manager/internal/assetmanager"
	"github.com/atmx/fasset-manager/internal/settings"
)

// ManagerSummary is one entry of GET /managers.
type ManagerSummary struct {
	assetmanager.State
	Managed bool `json:"managed"`
}

// ListManagers handles GET /managers
// Lists every asset manager this node serves, with whether the governance
// controller currently manages it.
func (s *Service) ListManagers(w http.ResponseWriter, r *http.Request) {
	out := make([]ManagerSummary, 0, len(s.order))
	for _, addr := range s.order {
		m := s.managers[strings.ToLower(addr)]
		out = append(out, ManagerSummary{
			State:   m.State(),
			Managed: s.controller != nil && s.controller.IsAssetManager(addr),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetManager handles GET /managers/{manager}
func (s *Service) GetManager(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, managerOf(r).State())
}

// SettingsView is the response of GET /managers/{manager}/settings.
type SettingsView struct {
	Version    uint64               `json:"version"`
	Settings   settings.Settings    `json:"settings"`
	Parameters []settings.Parameter `json:"parameters"`
}

// GetSettings handles GET /managers/{manager}/settings
func (s *Service) GetSettings(w http.ResponseWriter, r *http.Request) {
	m := managerOf(r)
	writeJSON(w, http.StatusOK, SettingsView{
		Version:    m.State().SettingsVersion,
		Settings:   m.Settings(),
		Parameters: m.Parameters(),
	})
}

// ListCollaterals handles GET /managers/{manager}/collaterals
func (s *Service) ListCollaterals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, managerOf(r).Collaterals())
}

// UpdateUnderlyingBlock handles POST /managers/{manager}/underlying-block
// Anyone holding a confirmed block height proof may advance the manager's
// view of the underlying chain.
func (s *Service) UpdateUnderlyingBlock(w http.ResponseWriter, r *http.Request) {
	var req ProofRequest
	if !decode(w, r, &req) {
		return
	}
	m := managerOf(r)
	if err := m.UpdateCurrentBlock(r.Context(), req.Proof); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m.State())
}

// BalanceView is the response of GET /managers/{manager}/fasset/{account}.
type BalanceView struct {
	Account    string                  `json:"account"`
	BalanceUBA sdkmath.Uint            `json:"balance_uba"`
	Payouts    map[string]sdkmath.Uint `json:"payouts_wei"`
}

// GetBalance handles GET /managers/{manager}/fasset/{account}
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	m := managerOf(r)
	acct := chi.URLParam(r, "account")
	writeJSON(w, http.StatusOK, BalanceView{
		Account:    acct,
		BalanceUBA: m.BalanceOf(acct),
		Payouts:    m.Payouts(acct),
	})
}

// TransferRequest is the JSON body for POST /managers/{manager}/fasset/transfer.
type TransferRequest struct {
	To     string       `json:"to"`
	Amount sdkmath.Uint `json:"amount"`
}

// Transfer handles POST /managers/{manager}/fasset/transfer
func (s *Service) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if !decode(w, r, &req) || !amountOf(w, req.Amount) {
		return
	}
	m := managerOf(r)
	if err := m.Transfer(r.Context(), caller, req.To, req.Amount); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceView{
		Account:    caller,
		BalanceUBA: m.BalanceOf(caller),
		Payouts:    m.Payouts(caller),
	})
}

// ClaimPayout handles POST /managers/{manager}/payouts/{token}/claim
// Collateral owed to the caller from liquidations, defaults and challenges
// is handed out once.
func (s *Service) ClaimPayout(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	token := chi.URLParam(r, "token")
	amount, err := managerOf(r).ClaimPayout(r.Context(), caller, token)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "amount_wei": amount})
}
