package api

import (
	"log/slog"
	"net/http"

	"github.com/atmx/fasset-manager/internal/assetmanager"
	"github.com/atmx/fasset-manager/internal/model"
)

// RedeemRequest is the JSON body for POST /managers/{manager}/redemptions.
type RedeemRequest struct {
	Lots              uint64 `json:"lots"`
	UnderlyingAddress string `json:"underlying_address"`
}

// RedeemLots handles POST /managers/{manager}/redemptions
// The caller's f-assets are burnt. Lots that could not be redeemed are
// reported in remaining_lots.
func (s *Service) RedeemLots(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req RedeemRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := managerOf(r).RedeemLots(r.Context(), caller, req.Lots, req.UnderlyingAddress)
	if err != nil {
		fail(w, err)
		return
	}
	if res.Requests == nil {
		res.Requests = []model.RedemptionRequest{}
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListRedemptions handles GET /managers/{manager}/redemptions?redeemer=
// Returns the replicated redemption history of one redeemer, defaulting to
// the caller.
func (s *Service) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	redeemer := r.URL.Query().Get("redeemer")
	if redeemer == "" {
		redeemer = r.Header.Get(AccountHeader)
	}
	if redeemer == "" {
		writeError(w, "redeemer is required", http.StatusBadRequest)
		return
	}
	list, err := s.store.ListRedemptions(r.Context(), managerOf(r).Address(), redeemer)
	if err != nil {
		slog.Error("list redemptions", "redeemer", redeemer, "err", err)
		writeError(w, "failed to list redemptions", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []model.RedemptionRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetRedemption handles GET /managers/{manager}/redemptions/{id}
func (s *Service) GetRedemption(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := managerOf(r).Redemption(id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ConfirmRedemptionPayment handles POST /managers/{manager}/redemptions/{id}/confirm
func (s *Service) ConfirmRedemptionPayment(w http.ResponseWriter, r *http.Request) {
	s.requestProofCall(w, r, (*assetmanager.Manager).ConfirmRedemptionPayment)
}

// RedemptionPaymentDefault handles POST /managers/{manager}/redemptions/{id}/default
// Responds with the collateral paid to the redeemer.
func (s *Service) RedemptionPaymentDefault(w http.ResponseWriter, r *http.Request) {
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
	paid, err := managerOf(r).RedemptionPaymentDefault(r.Context(), caller, req.Proof, id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paid_wei": paid})
}
