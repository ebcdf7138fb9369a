package api

import (
	"net/http"

	sdkmath "cosmossdk.io/math"
	"github.com/go-chi/chi/v5"

	"github.com/atmx/fasset-manager/internal/attestation"
)

// StartLiquidation handles POST /managers/{manager}/agents/{vault}/liquidation
// Anyone may ask for the agent's position to be re-evaluated.
func (s *Service) StartLiquidation(w http.ResponseWriter, r *http.Request) {
	status, err := managerOf(r).StartLiquidation(r.Context(), chi.URLParam(r, "vault"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

// Liquidate handles POST /managers/{manager}/agents/{vault}/liquidate
// The caller burns up to amount UBA of f-assets.
func (s *Service) Liquidate(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !decode(w, r, &req) || !amountOf(w, req.Amount) {
		return
	}
	res, err := managerOf(r).Liquidate(r.Context(), caller, chi.URLParam(r, "vault"), req.Amount)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DoublePaymentRequest is the body of the double payment challenge.
type DoublePaymentRequest struct {
	Proof1 attestation.Proof `json:"proof1"`
	Proof2 attestation.Proof `json:"proof2"`
}

// IllegalPaymentChallenge handles POST /managers/{manager}/agents/{vault}/challenges/illegal-payment
func (s *Service) IllegalPaymentChallenge(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req ProofRequest
	if !decode(w, r, &req) {
		return
	}
	reward, err := managerOf(r).IllegalPaymentChallenge(r.Context(), caller, req.Proof, chi.URLParam(r, "vault"))
	writeReward(w, reward, err)
}

// DoublePaymentChallenge handles POST /managers/{manager}/agents/{vault}/challenges/double-payment
func (s *Service) DoublePaymentChallenge(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req DoublePaymentRequest
	if !decode(w, r, &req) {
		return
	}
	reward, err := managerOf(r).DoublePaymentChallenge(r.Context(), caller, req.Proof1, req.Proof2, chi.URLParam(r, "vault"))
	writeReward(w, reward, err)
}

func writeReward(w http.ResponseWriter, reward sdkmath.Uint, err error) {
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]sdkmath.Uint{"reward_wei": reward})
}
