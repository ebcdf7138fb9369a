// Package priceoracle reads asset and collateral token prices from a feed
// source and gates them on age.
//
// A source serves two modes: the fast price comes from the primary feed and
// moves often; the trusted price is a slower multi-provider median. Callers
// choose the mode per read.
package priceoracle

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/atmx/fasset-manager/internal/apperr"
	"github.com/atmx/fasset-manager/internal/clock"
)

var (
	ErrUnknownSymbol = apperr.New(apperr.KindNotFound, "priceoracle: unknown symbol")
	ErrStalePrice    = apperr.New(apperr.KindValidation, "priceoracle: stale price")
	ErrOnlyProvider  = apperr.New(apperr.KindAuthorization, "priceoracle: only price provider")
)

// Price is one feed reading.
type Price struct {
	Symbol    string       `json:"symbol"`
	Value     sdkmath.Uint `json:"value"`
	Decimals  uint8        `json:"decimals"`
	Timestamp int64        `json:"timestamp"`
	Trusted   bool         `json:"trusted"`
}

// Source is a price feed. Implementations return ErrUnknownSymbol for
// symbols they do not serve.
type Source interface {
	Price(ctx context.Context, symbol string) (Price, error)
	TrustedPrice(ctx context.Context, symbol string) (Price, error)
}

// Reader applies the max-age gate on top of a Source.
type Reader struct {
	source Source
	clock  clock.Clock
}

// NewReader creates a reader over src.
func NewReader(src Source, clk clock.Clock) *Reader {
	return &Reader{source: src, clock: clk}
}

// GetPrice returns the fast or trusted price of symbol, failing with
// ErrStalePrice when it is older than maxAgeSeconds.
func (r *Reader) GetPrice(ctx context.Context, symbol string, trusted bool, maxAgeSeconds uint64) (Price, error) {
	var (
		p   Price
		err error
	)
	if trusted {
		p, err = r.source.TrustedPrice(ctx, symbol)
	} else {
		p, err = r.source.Price(ctx, symbol)
	}
	if err != nil {
		return Price{}, err
	}
	now := r.clock.Now().Unix()
	if now > p.Timestamp && uint64(now-p.Timestamp) > maxAgeSeconds {
		return Price{}, fmt.Errorf("%w: %s is %ds old (max %ds)", ErrStalePrice, symbol, now-p.Timestamp, maxAgeSeconds)
	}
	return p, nil
}

// Resolve checks that symbol is served, regardless of price age.
func (r *Reader) Resolve(ctx context.Context, symbol string) error {
	_, err := r.source.Price(ctx, symbol)
	return err
}
