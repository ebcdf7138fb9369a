// Package apperr classifies domain errors so that transports can map them
// to status codes without knowing every sentinel.
//
// Packages declare their sentinels with New and wrap them with fmt.Errorf
// and %w as usual; KindOf walks the chain.
package apperr

import "errors"

// Kind is the failure category of a domain error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation: bad input shape (empty arrays, zero where disallowed, bips out of range).
	KindValidation
	// KindRateLimit: update too soon or outside the allowed change bound.
	KindRateLimit
	// KindAuthorization: caller lacks the role, or a timelock has not elapsed.
	KindAuthorization
	// KindAttestationMismatch: a verified fact does not match the operation.
	KindAttestationMismatch
	// KindStateConflict: double execution or consumption.
	KindStateConflict
	// KindArithmetic: overflow, zero price, division by zero.
	KindArithmetic
	// KindNotFound: unknown id, address or symbol.
	KindNotFound
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindValidation:          "validation",
	KindRateLimit:           "rate_limit",
	KindAuthorization:       "authorization",
	KindAttestationMismatch: "attestation_mismatch",
	KindStateConflict:       "state_conflict",
	KindArithmetic:          "arithmetic",
	KindNotFound:            "not_found",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is a categorized sentinel. Compare with errors.Is.
type Error struct {
	Kind Kind
	Msg  string
}

// New declares a sentinel error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func (e *Error) Error() string { return e.Msg }

// KindOf returns the category of the first categorized error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
