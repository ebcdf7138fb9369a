package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/fasset-manager/internal/assetmanager"
	"github.com/atmx/fasset-manager/internal/model"
)

// ListAgents handles GET /managers/{manager}/agents
// ?available=true lists only agents that accept minting.
func (s *Service) ListAgents(w http.ResponseWriter, r *http.Request) {
	m := managerOf(r)
	var agents []model.Agent
	if r.URL.Query().Get("available") == "true" {
		agents = m.AvailableAgents()
	} else {
		agents = m.Agents()
	}
	if agents == nil {
		agents = []model.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// ListReplicatedAgents handles GET /managers/{manager}/agents/replica
// Serves the agents as last replicated to the store.
func (s *Service) ListReplicatedAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context(), managerOf(r).Address())
	if err != nil {
		slog.Error("list replicated agents", "err", err)
		writeError(w, "failed to list agents", http.StatusInternalServerError)
		return
	}
	if agents == nil {
		agents = []model.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// CreateAgent handles POST /managers/{manager}/agents
// The caller becomes the agent owner.
func (s *Service) CreateAgent(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req assetmanager.CreateAgentRequest
	if !decode(w, r, &req) {
		return
	}
	req.Owner = caller
	a, err := managerOf(r).CreateAgent(r.Context(), req)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GetAgent handles GET /managers/{manager}/agents/{vault}
func (s *Service) GetAgent(w http.ResponseWriter, r *http.Request) {
	info, err := managerOf(r).AgentInfo(r.Context(), chi.URLParam(r, "vault"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// DepositCollateral handles POST /managers/{manager}/agents/{vault}/collateral
func (s *Service) DepositCollateral(w http.ResponseWriter, r *http.Request) {
	s.collateralCall(w, r, (*assetmanager.Manager).DepositCollateral)
}

// AnnounceCollateralWithdrawal handles
// POST /managers/{manager}/agents/{vault}/collateral/withdrawal-announcement
// An amount of zero cancels the announcement.
func (s *Service) AnnounceCollateralWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.collateralCall(w, r, (*assetmanager.Manager).AnnounceCollateralWithdrawal)
}

// WithdrawCollateral handles POST /managers/{manager}/agents/{vault}/collateral/withdrawal
func (s *Service) WithdrawCollateral(w http.ResponseWriter, r *http.Request) {
	s.collateralCall(w, r, (*assetmanager.Manager).WithdrawCollateral)
}

func (s *Service) collateralCall(w http.ResponseWriter, r *http.Request, op agentAmountOp) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !decode(w, r, &req) || !amountOf(w, req.Amount) {
		return
	}
	m := managerOf(r)
	vault := chi.URLParam(r, "vault")
	if err := op(m, r.Context(), caller, vault, req.Amount); err != nil {
		fail(w, err)
		return
	}
	s.writeAgent(w, r, m, vault)
}

// MakeAgentAvailable handles POST /managers/{manager}/agents/{vault}/available
func (s *Service) MakeAgentAvailable(w http.ResponseWriter, r *http.Request) {
	s.agentCall(w, r, (*assetmanager.Manager).MakeAgentAvailable)
}

// ExitAvailable handles DELETE /managers/{manager}/agents/{vault}/available
func (s *Service) ExitAvailable(w http.ResponseWriter, r *http.Request) {
	s.agentCall(w, r, (*assetmanager.Manager).ExitAvailable)
}

// DestroyAgent handles DELETE /managers/{manager}/agents/{vault}
func (s *Service) DestroyAgent(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	if err := managerOf(r).DestroyAgent(r.Context(), caller, chi.URLParam(r, "vault")); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) agentCall(w http.ResponseWriter, r *http.Request, op agentOp) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	m := managerOf(r)
	vault := chi.URLParam(r, "vault")
	if err := op(m, r.Context(), caller, vault); err != nil {
		fail(w, err)
		return
	}
	s.writeAgent(w, r, m, vault)
}

// AnnounceDestroyAgent handles POST /managers/{manager}/agents/{vault}/destroy-announcement
func (s *Service) AnnounceDestroyAgent(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	allowedAt, err := managerOf(r).AnnounceDestroyAgent(r.Context(), caller, chi.URLParam(r, "vault"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"destroy_allowed_at": allowedAt})
}

// ConfirmTopupPayment handles POST /managers/{manager}/agents/{vault}/topup
func (s *Service) ConfirmTopupPayment(w http.ResponseWriter, r *http.Request) {
	s.agentProofCall(w, r, (*assetmanager.Manager).ConfirmTopupPayment)
}

// AnnounceUnderlyingWithdrawal handles POST /managers/{manager}/agents/{vault}/underlying-withdrawal
// Returns the payment reference the agent must use.
func (s *Service) AnnounceUnderlyingWithdrawal(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	ref, err := managerOf(r).AnnounceUnderlyingWithdrawal(r.Context(), caller, chi.URLParam(r, "vault"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payment_reference": ref})
}

// ConfirmUnderlyingWithdrawal handles
// POST /managers/{manager}/agents/{vault}/underlying-withdrawal/confirm
func (s *Service) ConfirmUnderlyingWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.agentProofCall(w, r, (*assetmanager.Manager).ConfirmUnderlyingWithdrawal)
}

func (s *Service) agentProofCall(w http.ResponseWriter, r *http.Request, op agentProofOp) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req ProofRequest
	if !decode(w, r, &req) {
		return
	}
	m := managerOf(r)
	vault := chi.URLParam(r, "vault")
	if err := op(m, r.Context(), caller, req.Proof, vault); err != nil {
		fail(w, err)
		return
	}
	s.writeAgent(w, r, m, vault)
}

// writeAgent responds with the agent's current info after a change. A
// destroyed agent has no info left, so the response is empty.
func (s *Service) writeAgent(w http.ResponseWriter, r *http.Request, m *assetmanager.Manager, vault string) {
	info, err := m.AgentInfo(r.Context(), vault)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
