// Package api provides the HTTP handlers of the f-asset manager service:
// agent operations, minting, redemption, liquidation, challenges,
// governance calls, provider pushes and the event log.
//
// The calling account is read from the X-Account header. Domain errors are
// mapped to status codes by their apperr kind.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/go-chi/chi/v5"

	"github.com/atmx/fasset-manager/internal/access"
	"github.com/atmx/fasset-manager/internal/apperr"
	"github.com/atmx/fasset-manager/internal/assetmanager"
	"github.com/atmx/fasset-manager/internal/attestation"
	"github.com/atmx/fasset-manager/internal/governance"
	"github.com/atmx/fasset-manager/internal/priceoracle"
	"github.com/atmx/fasset-manager/internal/store"
)

// AccountHeader carries the address of the calling account.
const AccountHeader = "X-Account"

// Config wires the service to the engine components.
type Config struct {
	Managers   []*assetmanager.Manager
	Controller *governance.Controller
	Feed       *priceoracle.Feed
	Facts      *attestation.Registry
	Store      store.Store
	Whitelists *access.Registry // optional
	Hub        *WSHub           // optional
}

// Service serves the HTTP API. Serialization of state changes is left to
// the asset managers and the controller, which lock per call.
type Service struct {
	managers   map[string]*assetmanager.Manager
	order      []string
	controller *governance.Controller
	feed       *priceoracle.Feed
	facts      *attestation.Registry
	store      store.Store
	whitelists *access.Registry
	hub        *WSHub
}

// NewService creates the API service.
func NewService(cfg Config) *Service {
	s := &Service{
		managers:   make(map[string]*assetmanager.Manager, len(cfg.Managers)),
		controller: cfg.Controller,
		feed:       cfg.Feed,
		facts:      cfg.Facts,
		store:      cfg.Store,
		whitelists: cfg.Whitelists,
		hub:        cfg.Hub,
	}
	for _, m := range cfg.Managers {
		addr := strings.ToLower(m.Address())
		s.managers[addr] = m
		s.order = append(s.order, m.Address())
	}
	return s
}

// Routes mounts every endpoint on r. Callers mount it under /api/v1.
func (s *Service) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
	r.Get("/events", s.ListEvents)

	r.Get("/prices", s.ListPrices)
	r.Put("/prices/{symbol}/decimals", s.SetPriceDecimals)
	r.Put("/prices/{symbol}", s.SetPrice)

	r.Post("/attestations/payments", s.SubmitPayment)
	r.Post("/attestations/balance-decreasing-transactions", s.SubmitBalanceDecreasingTransaction)
	r.Post("/attestations/payment-nonexistence", s.SubmitPaymentNonexistence)
	r.Post("/attestations/block-heights", s.SubmitBlockHeight)

	if s.whitelists != nil {
		r.Route("/whitelists/{address}/accounts/{account}", func(r chi.Router) {
			r.Get("/", s.GetWhitelisted)
			r.Put("/", s.AddWhitelisted)
			r.Delete("/", s.RevokeWhitelisted)
		})
	}

	r.Route("/governance", func(r chi.Router) {
		r.Get("/", s.GetGovernance)
		r.Post("/settings", s.SetSetting)
		r.Post("/pause", s.PauseManagers)
		r.Post("/unpause", s.UnpauseManagers)
		r.Post("/terminate", s.TerminateManagers)
		r.Post("/refresh-price-feeds", s.RefreshPriceFeeds)
		r.Post("/asset-managers", s.AddAssetManager)
		r.Delete("/asset-managers/{address}", s.RemoveAssetManager)
		r.Post("/calls/{selector}/execute", s.ExecuteGovernanceCall)
	})

	r.Get("/managers", s.ListManagers)
	r.Route("/managers/{manager}", func(r chi.Router) {
		r.Use(s.withManager)
		r.Get("/", s.GetManager)
		r.Get("/settings", s.GetSettings)
		r.Get("/collaterals", s.ListCollaterals)
		r.Post("/underlying-block", s.UpdateUnderlyingBlock)

		r.Get("/fasset/{account}", s.GetBalance)
		r.Post("/fasset/transfer", s.Transfer)
		r.Post("/payouts/{token}/claim", s.ClaimPayout)

		r.Get("/agents", s.ListAgents)
		r.Get("/agents/replica", s.ListReplicatedAgents)
		r.Post("/agents", s.CreateAgent)
		r.Route("/agents/{vault}", func(r chi.Router) {
			r.Get("/", s.GetAgent)
			r.Delete("/", s.DestroyAgent)
			r.Post("/collateral", s.DepositCollateral)
			r.Post("/collateral/withdrawal-announcement", s.AnnounceCollateralWithdrawal)
			r.Post("/collateral/withdrawal", s.WithdrawCollateral)
			r.Post("/available", s.MakeAgentAvailable)
			r.Delete("/available", s.ExitAvailable)
			r.Post("/destroy-announcement", s.AnnounceDestroyAgent)
			r.Post("/topup", s.ConfirmTopupPayment)
			r.Post("/underlying-withdrawal", s.AnnounceUnderlyingWithdrawal)
			r.Post("/underlying-withdrawal/confirm", s.ConfirmUnderlyingWithdrawal)
			r.Post("/liquidation", s.StartLiquidation)
			r.Post("/liquidate", s.Liquidate)
			r.Post("/challenges/illegal-payment", s.IllegalPaymentChallenge)
			r.Post("/challenges/double-payment", s.DoublePaymentChallenge)
		})

		r.Get("/reservation-fee", s.GetReservationFee)
		r.Post("/reservations", s.ReserveCollateral)
		r.Route("/reservations/{id}", func(r chi.Router) {
			r.Get("/", s.GetReservation)
			r.Delete("/", s.ExpireReservation)
			r.Post("/execute", s.ExecuteMinting)
			r.Post("/default", s.MintingPaymentDefault)
		})

		r.Post("/redemptions", s.RedeemLots)
		r.Get("/redemptions", s.ListRedemptions)
		r.Route("/redemptions/{id}", func(r chi.Router) {
			r.Get("/", s.GetRedemption)
			r.Post("/confirm", s.ConfirmRedemptionPayment)
			r.Post("/default", s.RedemptionPaymentDefault)
		})
	})
}

// --- shared request types ---

// ProofRequest is the body of every endpoint taking one attestation proof.
type ProofRequest struct {
	Proof attestation.Proof `json:"proof"`
}

// AmountRequest carries a token amount in wei or UBA.
type AmountRequest struct {
	Amount sdkmath.Uint `json:"amount"`
}

// --- helpers ---

type ctxKey int

const managerKey ctxKey = iota

func (s *Service) withManager(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, ok := s.managers[strings.ToLower(chi.URLParam(r, "manager"))]
		if !ok {
			writeError(w, "asset manager not found", http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), managerKey, m)))
	})
}

func managerOf(r *http.Request) *assetmanager.Manager {
	return r.Context().Value(managerKey).(*assetmanager.Manager)
}

// account returns the caller address, or writes 401 when it is missing.
func account(w http.ResponseWriter, r *http.Request) (string, bool) {
	a := strings.TrimSpace(r.Header.Get(AccountHeader))
	if a == "" {
		writeError(w, AccountHeader+" header is required", http.StatusUnauthorized)
		return "", false
	}
	return a, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// amountOf validates a decoded amount.
func amountOf(w http.ResponseWriter, v sdkmath.Uint) bool {
	if v.IsNil() {
		writeError(w, "amount is required", http.StatusBadRequest)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// fail maps a domain error to its status code.
func fail(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"kind":  apperr.KindOf(err).String(),
	})
}

func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindArithmetic:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindStateConflict, apperr.KindAttestationMismatch:
		return http.StatusConflict
	case apperr.KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
