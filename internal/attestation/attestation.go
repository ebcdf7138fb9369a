// Package attestation defines the verified underlying-chain facts consumed
// by the asset manager and the Verifier capability that produces them.
//
// The asset manager never checks proof cryptography; it only inspects the
// semantic fields of facts a Verifier vouches for.
package attestation

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"github.com/atmx/fasset-manager/internal/apperr"
)

var (
	ErrInvalidProof  = apperr.New(apperr.KindAttestationMismatch, "attestation: invalid proof")
	ErrWrongFactType = apperr.New(apperr.KindAttestationMismatch, "attestation: proof is for another fact type")
	ErrOnlyProvider  = apperr.New(apperr.KindAuthorization, "attestation: only attestation provider")
	ErrInvalidFact   = apperr.New(apperr.KindValidation, "attestation: invalid fact")
)

// Proof is an opaque handle to a verified fact.
type Proof struct {
	ID string `json:"id"`
}

// Payment is a verified transfer on the underlying chain. Amounts are net
// for the named addresses and may be negative in multi-input transactions.
type Payment struct {
	TxID             string      `json:"tx_id"`
	SourceID         string      `json:"source_id"`
	SourceAddress    string      `json:"source_address"`
	ReceivingAddress string      `json:"receiving_address"`
	SpentAmount      sdkmath.Int `json:"spent_amount"`
	ReceivedAmount   sdkmath.Int `json:"received_amount"`
	PaymentReference string      `json:"payment_reference"`
	BlockNumber      uint64      `json:"block_number"`
	BlockTimestamp   int64       `json:"block_timestamp"`
}

// BalanceDecreasingTransaction is any transaction that lowered the balance
// of SourceAddress.
type BalanceDecreasingTransaction struct {
	TxID             string      `json:"tx_id"`
	SourceID         string      `json:"source_id"`
	SourceAddress    string      `json:"source_address"`
	SpentAmount      sdkmath.Int `json:"spent_amount"`
	PaymentReference string      `json:"payment_reference"`
	BlockNumber      uint64      `json:"block_number"`
	BlockTimestamp   int64       `json:"block_timestamp"`
}

// ReferencedPaymentNonexistence proves that no payment with the reference
// and at least Amount reached DestinationAddress in the block range
// [LowerBoundaryBlockNumber, FirstOverflowBlockNumber).
type ReferencedPaymentNonexistence struct {
	SourceID                    string       `json:"source_id"`
	DestinationAddress          string       `json:"destination_address"`
	PaymentReference            string       `json:"payment_reference"`
	Amount                      sdkmath.Uint `json:"amount"`
	LowerBoundaryBlockNumber    uint64       `json:"lower_boundary_block_number"`
	FirstOverflowBlockNumber    uint64       `json:"first_overflow_block_number"`
	FirstOverflowBlockTimestamp int64        `json:"first_overflow_block_timestamp"`
}

// ConfirmedBlockHeight proves that a block at the height was finalized.
type ConfirmedBlockHeight struct {
	SourceID       string `json:"source_id"`
	BlockNumber    uint64 `json:"block_number"`
	BlockTimestamp int64  `json:"block_timestamp"`
}

// Verifier turns proofs into verified facts.
type Verifier interface {
	VerifyPayment(ctx context.Context, p Proof) (Payment, error)
	VerifyBalanceDecreasingTransaction(ctx context.Context, p Proof) (BalanceDecreasingTransaction, error)
	VerifyReferencedPaymentNonexistence(ctx context.Context, p Proof) (ReferencedPaymentNonexistence, error)
	VerifyConfirmedBlockHeight(ctx context.Context, p Proof) (ConfirmedBlockHeight, error)
}
