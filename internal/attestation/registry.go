package attestation

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/crypto/sha3"
)

type factKind string

const (
	kindPayment       factKind = "Payment"
	kindBalanceDecr   factKind = "BalanceDecreasingTransaction"
	kindNonexistence  factKind = "ReferencedPaymentNonexistence"
	kindConfirmHeight factKind = "ConfirmedBlockHeightExists"
)

type storedFact struct {
	kind factKind
	fact any
}

// Registry is a Verifier over facts submitted by a trusted attestation
// provider. A proof id is the Keccak-256 hash of the fact type and its
// JSON encoding, so resubmitting the same fact yields the same proof.
type Registry struct {
	mu       sync.RWMutex
	provider string
	facts    map[string]storedFact
}

// NewRegistry creates an empty registry writable only by provider.
func NewRegistry(provider string) *Registry {
	return &Registry{provider: provider, facts: make(map[string]storedFact)}
}

// SubmitPayment records a verified payment.
func (r *Registry) SubmitPayment(caller string, p Payment) (Proof, error) {
	if p.TxID == "" || p.SpentAmount.IsNil() || p.ReceivedAmount.IsNil() {
		return Proof{}, fmt.Errorf("%w: payment needs tx id and amounts", ErrInvalidFact)
	}
	return r.submit(caller, kindPayment, p)
}

// SubmitBalanceDecreasingTransaction records a verified outgoing transaction.
func (r *Registry) SubmitBalanceDecreasingTransaction(caller string, tx BalanceDecreasingTransaction) (Proof, error) {
	if tx.TxID == "" || tx.SpentAmount.IsNil() {
		return Proof{}, fmt.Errorf("%w: transaction needs tx id and amount", ErrInvalidFact)
	}
	return r.submit(caller, kindBalanceDecr, tx)
}

// SubmitReferencedPaymentNonexistence records a verified non-payment.
func (r *Registry) SubmitReferencedPaymentNonexistence(caller string, n ReferencedPaymentNonexistence) (Proof, error) {
	if n.Amount.IsNil() || n.FirstOverflowBlockNumber <= n.LowerBoundaryBlockNumber {
		return Proof{}, fmt.Errorf("%w: nonexistence needs amount and a non-empty block range", ErrInvalidFact)
	}
	return r.submit(caller, kindNonexistence, n)
}

// SubmitConfirmedBlockHeight records a finalized block height.
func (r *Registry) SubmitConfirmedBlockHeight(caller string, h ConfirmedBlockHeight) (Proof, error) {
	return r.submit(caller, kindConfirmHeight, h)
}

func (r *Registry) submit(caller string, kind factKind, fact any) (Proof, error) {
	if caller != r.provider {
		return Proof{}, ErrOnlyProvider
	}
	data, err := json.Marshal(fact)
	if err != nil {
		return Proof{}, fmt.Errorf("encode %s: %w", kind, err)
	}
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(kind))
	h.Write(data)
	id := "0x" + hex.EncodeToString(h.Sum(nil))

	r.mu.Lock()
	r.facts[id] = storedFact{kind: kind, fact: fact}
	r.mu.Unlock()
	return Proof{ID: id}, nil
}

func (r *Registry) lookup(p Proof, kind factKind) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.facts[p.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProof, p.ID)
	}
	if f.kind != kind {
		return nil, fmt.Errorf("%w: %s is %s, want %s", ErrWrongFactType, p.ID, f.kind, kind)
	}
	return f.fact, nil
}

func (r *Registry) VerifyPayment(_ context.Context, p Proof) (Payment, error) {
	f, err := r.lookup(p, kindPayment)
	if err != nil {
		return Payment{}, err
	}
	return f.(Payment), nil
}

func (r *Registry) VerifyBalanceDecreasingTransaction(_ context.Context, p Proof) (BalanceDecreasingTransaction, error) {
	f, err := r.lookup(p, kindBalanceDecr)
	if err != nil {
		return BalanceDecreasingTransaction{}, err
	}
	return f.(BalanceDecreasingTransaction), nil
}

func (r *Registry) VerifyReferencedPaymentNonexistence(_ context.Context, p Proof) (ReferencedPaymentNonexistence, error) {
	f, err := r.lookup(p, kindNonexistence)
	if err != nil {
		return ReferencedPaymentNonexistence{}, err
	}
	return f.(ReferencedPaymentNonexistence), nil
}

func (r *Registry) VerifyConfirmedBlockHeight(_ context.Context, p Proof) (ConfirmedBlockHeight, error) {
	f, err := r.lookup(p, kindConfirmHeight)
	if err != nil {
		return ConfirmedBlockHeight{}, err
	}
	return f.(ConfirmedBlockHeight), nil
}
