// Package events defines the observable event log of asset managers and the
// governance controller, and the publishers that fan events out to sinks
// (store, websocket hub, metrics).
//
// Events of one call are published together, in emission order, and only
// after the call committed.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names.
const (
	SettingChanged           = "SettingChanged"
	SettingArrayChanged      = "SettingArrayChanged"
	ContractChanged          = "ContractChanged"
	GovernanceCallTimelocked = "GovernanceCallTimelocked"
	GovernanceCallExecuted   = "GovernanceCallExecuted"
	AssetManagerAdded        = "AssetManagerAdded"
	AssetManagerRemoved      = "AssetManagerRemoved"
	Paused                   = "Paused"
	Unpaused                 = "Unpaused"
	Terminated               = "Terminated"
	PriceFeedsRefreshed      = "PriceFeedsRefreshed"
	ControllerAttached       = "ControllerAttached"

	AgentCreated                  = "AgentCreated"
	AgentAvailable                = "AgentAvailable"
	AvailableAgentExited          = "AvailableAgentExited"
	CollateralDeposited           = "CollateralDeposited"
	CollateralWithdrawalAnnounced = "CollateralWithdrawalAnnounced"
	CollateralWithdrawn           = "CollateralWithdrawn"
	AgentDestroyAnnounced         = "AgentDestroyAnnounced"
	AgentDestroyed                = "AgentDestroyed"
	UnderlyingBalanceToppedUp     = "UnderlyingBalanceToppedUp"
	UnderlyingWithdrawalAnnounced = "UnderlyingWithdrawalAnnounced"
	UnderlyingWithdrawalConfirmed = "UnderlyingWithdrawalConfirmed"
	CurrentUnderlyingBlockUpdated = "CurrentUnderlyingBlockUpdated"
	CollateralReserved            = "CollateralReserved"
	MintingExecuted               = "MintingExecuted"
	MintingPaymentDefault         = "MintingPaymentDefault"
	CollateralReservationDeleted  = "CollateralReservationDeleted"
	RedemptionRequested           = "RedemptionRequested"
	RedemptionRequestIncomplete   = "RedemptionRequestIncomplete"
	RedemptionPerformed           = "RedemptionPerformed"
	RedemptionDefault             = "RedemptionDefault"
	AgentInCCB                    = "AgentInCCB"
	LiquidationStarted            = "LiquidationStarted"
	FullLiquidationStarted        = "FullLiquidationStarted"
	LiquidationPerformed          = "LiquidationPerformed"
	LiquidationEnded              = "LiquidationEnded"
	IllegalPaymentConfirmed       = "IllegalPaymentConfirmed"
	DuplicatePaymentConfirmed     = "DuplicatePaymentConfirmed"
	FAssetTransferred             = "FAssetTransferred"
)

// Event is one entry of the observable log.
type Event struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Args      map[string]any `json:"args"`
}

// New creates an event with a fresh id.
func New(source, name string, ts time.Time, args map[string]any) Event {
	if args == nil {
		args = map[string]any{}
	}
	return Event{
		ID:        uuid.New().String(),
		Source:    source,
		Name:      name,
		Timestamp: ts.UTC(),
		Args:      args,
	}
}

// Publisher receives committed events. Implementations must not block for
// long; a failing sink logs and drops.
type Publisher interface {
	Publish(ctx context.Context, evs []Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evs []Event)

func (f PublisherFunc) Publish(ctx context.Context, evs []Event) { f(ctx, evs) }

// Multi publishes to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evs []Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, evs)
		}
	}
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, evs []Event) {
	r.mu.Lock()
	r.events = append(r.events, evs...)
	r.mu.Unlock()
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Names returns the names of all recorded events in order.
func (r *Recorder) Names() []string {
	evs := r.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Name
	}
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
