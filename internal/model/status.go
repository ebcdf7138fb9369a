package model

import (
	"fmt"

	"github.com/atmx/fasset-manager/internal/apperr"
)

// AgentStatus is the liquidation/lifecycle state of an agent.
type AgentStatus string

const (
	AgentNormal          AgentStatus = "NORMAL"
	AgentCCB             AgentStatus = "CCB"
	AgentLiquidating     AgentStatus = "LIQUIDATING"
	AgentFullLiquidation AgentStatus = "FULL_LIQUIDATION"
	AgentDestroying      AgentStatus = "DESTROYING"
)

// ErrInvalidTransition is returned for a status change not in the table.
var ErrInvalidTransition = apperr.New(apperr.KindStateConflict, "model: invalid agent status transition")

var transitions = map[AgentStatus][]AgentStatus{
	AgentNormal:          {AgentCCB, AgentLiquidating, AgentFullLiquidation, AgentDestroying},
	AgentCCB:             {AgentNormal, AgentLiquidating, AgentFullLiquidation},
	AgentLiquidating:     {AgentNormal, AgentFullLiquidation},
	AgentFullLiquidation: {AgentDestroying},
	AgentDestroying:      {AgentFullLiquidation},
}

// AllStatuses lists every agent status.
func AllStatuses() []AgentStatus {
	return []AgentStatus{AgentNormal, AgentCCB, AgentLiquidating, AgentFullLiquidation, AgentDestroying}
}

// CanTransitionTo reports whether s may move to next.
func (s AgentStatus) CanTransitionTo(next AgentStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// InLiquidation reports whether liquidators may act on the agent.
func (s AgentStatus) InLiquidation() bool {
	return s == AgentLiquidating || s == AgentFullLiquidation
}

// Transition moves the agent to next, or fails without changing it. An
// agent that still backs f-assets cannot start destroying.
func (a *Agent) Transition(next AgentStatus) error {
	if !a.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, next)
	}
	if next == AgentDestroying && !a.BackedAMG().IsZero() {
		return fmt.Errorf("%w: %s -> %s with %s AMG backed", ErrInvalidTransition, a.Status, next, a.BackedAMG())
	}
	a.Status = next
	return nil
}
