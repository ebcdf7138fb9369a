package api

import (
	"net/http"

	sdkmath "cosmossdk.io/math"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/fasset-manager/internal/attestation"
	"github.com/atmx/fasset-manager/internal/priceoracle"
)

// PriceView shows both feed modes of a symbol, raw and scaled by its
// decimals.
type PriceView struct {
	Symbol           string          `json:"symbol"`
	Decimals         uint8           `json:"decimals"`
	Price            decimal.Decimal `json:"price"`
	PriceRaw         sdkmath.Uint    `json:"price_raw"`
	PriceTimestamp   int64           `json:"price_timestamp"`
	Trusted          decimal.Decimal `json:"trusted_price"`
	TrustedRaw       sdkmath.Uint    `json:"trusted_price_raw"`
	TrustedTimestamp int64           `json:"trusted_price_timestamp"`
}

func scaled(p priceoracle.Price) decimal.Decimal {
	return decimal.NewFromBigInt(p.Value.BigInt(), -int32(p.Decimals))
}

// ListPrices handles GET /prices
func (s *Service) ListPrices(w http.ResponseWriter, r *http.Request) {
	symbols := s.feed.Symbols()
	out := make([]PriceView, 0, len(symbols))
	for _, sym := range symbols {
		fast, err := s.feed.Price(r.Context(), sym)
		if err != nil {
			continue
		}
		trusted, err := s.feed.TrustedPrice(r.Context(), sym)
		if err != nil {
			continue
		}
		out = append(out, PriceView{
			Symbol:           sym,
			Decimals:         fast.Decimals,
			Price:            scaled(fast),
			PriceRaw:         fast.Value,
			PriceTimestamp:   fast.Timestamp,
			Trusted:          scaled(trusted),
			TrustedRaw:       trusted.Value,
			TrustedTimestamp: trusted.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// DecimalsRequest is the JSON body for PUT /prices/{symbol}/decimals.
type DecimalsRequest struct {
	Decimals uint8 `json:"decimals"`
}

// SetPriceDecimals handles PUT /prices/{symbol}/decimals
// Registers a symbol; only the price provider may call it.
func (s *Service) SetPriceDecimals(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req DecimalsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.feed.SetDecimals(caller, chi.URLParam(r, "symbol"), req.Decimals); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PriceRequest is the JSON body for PUT /prices/{symbol}.
type PriceRequest struct {
	Value   sdkmath.Uint `json:"value"`
	Trusted bool         `json:"trusted"`
}

// SetPrice handles PUT /prices/{symbol}
// The value is in the symbol's decimals.
func (s *Service) SetPrice(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req PriceRequest
	if !decode(w, r, &req) || !amountOf(w, req.Value) {
		return
	}
	symbol := chi.URLParam(r, "symbol")
	set := s.feed.SetPrice
	if req.Trusted {
		set = s.feed.SetTrustedPrice
	}
	if err := set(caller, symbol, req.Value); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitPayment handles POST /attestations/payments
func (s *Service) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var fact attestation.Payment
	submitFact(w, r, &fact, func(caller string) (attestation.Proof, error) {
		return s.facts.SubmitPayment(caller, fact)
	})
}

// SubmitBalanceDecreasingTransaction handles POST /attestations/balance-decreasing-transactions
func (s *Service) SubmitBalanceDecreasingTransaction(w http.ResponseWriter, r *http.Request) {
	var fact attestation.BalanceDecreasingTransaction
	submitFact(w, r, &fact, func(caller string) (attestation.Proof, error) {
		return s.facts.SubmitBalanceDecreasingTransaction(caller, fact)
	})
}

// SubmitPaymentNonexistence handles POST /attestations/payment-nonexistence
func (s *Service) SubmitPaymentNonexistence(w http.ResponseWriter, r *http.Request) {
	var fact attestation.ReferencedPaymentNonexistence
	submitFact(w, r, &fact, func(caller string) (attestation.Proof, error) {
		return s.facts.SubmitReferencedPaymentNonexistence(caller, fact)
	})
}

// SubmitBlockHeight handles POST /attestations/block-heights
func (s *Service) SubmitBlockHeight(w http.ResponseWriter, r *http.Request) {
	var fact attestation.ConfirmedBlockHeight
	submitFact(w, r, &fact, func(caller string) (attestation.Proof, error) {
		return s.facts.SubmitConfirmedBlockHeight(caller, fact)
	})
}

// submitFact decodes a fact into v and records it as the attestation
// provider. The response is the proof handle to pass to asset managers.
func submitFact(w http.ResponseWriter, r *http.Request, v any, submit func(caller string) (attestation.Proof, error)) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	if !decode(w, r, v) {
		return
	}
	proof, err := submit(caller)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proof)
}
