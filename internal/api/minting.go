package api

import (
	"context"
	"net/http"
	"strconv"

	sdkmath "cosmossdk.io/math"

	"github.com/atmx/fasset-manager/internal/assetmanager"
	"github.com/atmx/fasset-manager/internal/attestation"
)

type (
	agentOp        func(m *assetmanager.Manager, ctx context.Context, caller, vault string) error
	agentAmountOp  func(m *assetmanager.Manager, ctx context.Context, caller, vault string, amount sdkmath.Uint) error
	agentProofOp   func(m *assetmanager.Manager, ctx context.Context, caller string, proof attestation.Proof, vault string) error
	requestProofOp func(m *assetmanager.Manager, ctx context.Context, caller string, proof attestation.Proof, id uint64) error
)

// GetReservationFee handles GET /managers/{manager}/reservation-fee?agent=&lots=
func (s *Service) GetReservationFee(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lots, err := strconv.ParseUint(q.Get("lots"), 10, 64)
	if err != nil {
		writeError(w, "lots must be a positive integer", http.StatusBadRequest)
		return
	}
	fee, err := managerOf(r).CollateralReservationFee(r.Context(), q.Get("agent"), lots)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]sdkmath.Uint{"fee_wei": fee})
}

// ReserveCollateral handles POST /managers/{manager}/reservations
// The caller is the minter.
func (s *Service) ReserveCollateral(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req assetmanager.ReserveRequest
	if !decode(w, r, &req) {
		return
	}
	req.Minter = caller
	if req.FeePaidWei.IsNil() {
		req.FeePaidWei = sdkmath.ZeroUint()
	}
	res, err := managerOf(r).ReserveCollateral(r.Context(), req)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetReservation handles GET /managers/{manager}/reservations/{id}
func (s *Service) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := managerOf(r).Reservation(id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ExecuteMinting handles POST /managers/{manager}/reservations/{id}/execute
func (s *Service) ExecuteMinting(w http.ResponseWriter, r *http.Request) {
	s.requestProofCall(w, r, (*assetmanager.Manager).ExecuteMinting)
}

// MintingPaymentDefault handles POST /managers/{manager}/reservations/{id}/default
func (s *Service) MintingPaymentDefault(w http.ResponseWriter, r *http.Request) {
	s.requestProofCall(w, r, (*assetmanager.Manager).MintingPaymentDefault)
}

// ExpireReservation handles DELETE /managers/{manager}/reservations/{id}
// Anyone may clear a reservation whose payment window has long passed.
func (s *Service) ExpireReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := managerOf(r).ExpireCollateralReservation(r.Context(), id); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) requestProofCall(w http.ResponseWriter, r *http.Request, op requestProofOp) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ProofRequest
	if !decode(w, r, &req) {
		return
	}
	if err := op(managerOf(r), r.Context(), caller, req.Proof, id); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
