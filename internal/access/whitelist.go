// Package access keeps the account whitelists that gate agent registration.
package access

import (
	"fmt"
	"strings"
	"sync"

	"github.com/atmx/fasset-manager/internal/apperr"
)

var (
	ErrOnlyGovernance   = apperr.New(apperr.KindAuthorization, "access: only governance")
	ErrUnknownWhitelist = apperr.New(apperr.KindNotFound, "access: unknown whitelist")
)

// Whitelist is a governance-managed set of allowed accounts.
type Whitelist struct {
	mu         sync.RWMutex
	address    string
	governance string
	allowed    map[string]bool
}

// NewWhitelist creates an empty whitelist.
func NewWhitelist(address, governance string) *Whitelist {
	return &Whitelist{address: address, governance: governance, allowed: make(map[string]bool)}
}

// Address identifies the whitelist in settings.
func (w *Whitelist) Address() string { return w.address }

// Add allows account.
func (w *Whitelist) Add(caller, account string) error {
	if caller != w.governance {
		return ErrOnlyGovernance
	}
	w.mu.Lock()
	w.allowed[strings.ToLower(account)] = true
	w.mu.Unlock()
	return nil
}

// Revoke removes account.
func (w *Whitelist) Revoke(caller, account string) error {
	if caller != w.governance {
		return ErrOnlyGovernance
	}
	w.mu.Lock()
	delete(w.allowed, strings.ToLower(account))
	w.mu.Unlock()
	return nil
}

// IsWhitelisted reports whether account is allowed.
func (w *Whitelist) IsWhitelisted(account string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.allowed[strings.ToLower(account)]
}

// Registry resolves whitelist addresses.
type Registry struct {
	mu    sync.RWMutex
	lists map[string]*Whitelist
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{lists: make(map[string]*Whitelist)}
}

// Register makes w resolvable by its address.
func (r *Registry) Register(w *Whitelist) {
	r.mu.Lock()
	r.lists[strings.ToLower(w.address)] = w
	r.mu.Unlock()
}

// Lookup returns the whitelist at address.
func (r *Registry) Lookup(address string) (*Whitelist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.lists[strings.ToLower(address)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWhitelist, address)
	}
	return w, nil
}
