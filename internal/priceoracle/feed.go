package priceoracle

import (
	"context"
	"fmt"
	"sort"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/atmx/fasset-manager/internal/clock"
)

type feedEntry struct {
	decimals     uint8
	price        sdkmath.Uint
	timestamp    int64
	trustedPrice sdkmath.Uint
	trustedTime  int64
}

// Feed is an in-process Source whose prices are pushed by a single provider
// account. A symbol exists once its decimals are set.
type Feed struct {
	mu       sync.RWMutex
	provider string
	clock    clock.Clock
	entries  map[string]*feedEntry
}

// NewFeed creates an empty feed writable only by provider.
func NewFeed(provider string, clk clock.Clock) *Feed {
	return &Feed{
		provider: provider,
		clock:    clk,
		entries:  make(map[string]*feedEntry),
	}
}

// SetDecimals registers symbol (or changes its decimals).
func (f *Feed) SetDecimals(caller, symbol string, decimals uint8) error {
	if caller != f.provider {
		return ErrOnlyProvider
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[symbol]
	if !ok {
		e = &feedEntry{price: sdkmath.ZeroUint(), trustedPrice: sdkmath.ZeroUint()}
		f.entries[symbol] = e
	}
	e.decimals = decimals
	return nil
}

// SetPrice pushes a fast price stamped with the current time.
func (f *Feed) SetPrice(caller, symbol string, value sdkmath.Uint) error {
	return f.set(caller, symbol, value, false)
}

// SetTrustedPrice pushes a trusted price stamped with the current time.
func (f *Feed) SetTrustedPrice(caller, symbol string, value sdkmath.Uint) error {
	return f.set(caller, symbol, value, true)
}

func (f *Feed) set(caller, symbol string, value sdkmath.Uint, trusted bool) error {
	if caller != f.provider {
		return ErrOnlyProvider
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[symbol]
	if !ok {
		return fmt.Errorf("%w: %s (decimals not set)", ErrUnknownSymbol, symbol)
	}
	now := f.clock.Now().Unix()
	if trusted {
		e.trustedPrice, e.trustedTime = value, now
	} else {
		e.price, e.timestamp = value, now
	}
	return nil
}

func (f *Feed) Price(_ context.Context, symbol string) (Price, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	e, ok := f.entries[symbol]
	if !ok {
		return Price{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return Price{Symbol: symbol, Value: e.price, Decimals: e.decimals, Timestamp: e.timestamp}, nil
}

func (f *Feed) TrustedPrice(_ context.Context, symbol string) (Price, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	e, ok := f.entries[symbol]
	if !ok {
		return Price{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return Price{Symbol: symbol, Value: e.trustedPrice, Decimals: e.decimals, Timestamp: e.trustedTime, Trusted: true}, nil
}

// Symbols lists registered symbols in sorted order.
func (f *Feed) Symbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, 0, len(f.entries))
	for s := range f.entries {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
