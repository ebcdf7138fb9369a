package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/fasset-manager/internal/governance"
	"github.com/atmx/fasset-manager/internal/settings"
)

// GovernanceView is the response of GET /governance.
type GovernanceView struct {
	Address       string                      `json:"address"`
	Governance    string                      `json:"governance"`
	AssetManagers []string                    `json:"asset_managers"`
	Calls         []governance.TimelockedCall `json:"calls"`
}

// TargetsRequest selects the asset managers a governance call fans out to.
type TargetsRequest struct {
	Targets []string `json:"targets"`
}

// SettingRequest is the JSON body for POST /governance/settings.
type SettingRequest struct {
	Targets []string        `json:"targets"`
	Update  settings.Update `json:"update"`
}

// AssetManagerRequest is the JSON body for POST /governance/asset-managers.
type AssetManagerRequest struct {
	Address string `json:"address"`
}

// GetGovernance handles GET /governance
func (s *Service) GetGovernance(w http.ResponseWriter, r *http.Request) {
	calls := s.controller.Calls()
	if calls == nil {
		calls = []governance.TimelockedCall{}
	}
	writeJSON(w, http.StatusOK, GovernanceView{
		Address:       s.controller.Address(),
		Governance:    s.controller.Governance(),
		AssetManagers: s.controller.AssetManagers(),
		Calls:         calls,
	})
}

// SetSetting handles POST /governance/settings
// Immediate setters answer 200 once every target applied the update;
// timelocked setters answer 202 with the pending call.
func (s *Service) SetSetting(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req SettingRequest
	if !decode(w, r, &req) {
		return
	}
	tl, err := s.controller.SetSetting(r.Context(), caller, req.Targets, req.Update)
	if err != nil {
		fail(w, err)
		return
	}
	if tl != nil {
		writeJSON(w, http.StatusAccepted, tl)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "applied", "targets": req.Targets})
}

// PauseManagers handles POST /governance/pause
func (s *Service) PauseManagers(w http.ResponseWriter, r *http.Request) {
	s.fanOut(w, r, s.controller.Pause)
}

// UnpauseManagers handles POST /governance/unpause
func (s *Service) UnpauseManagers(w http.ResponseWriter, r *http.Request) {
	s.fanOut(w, r, s.controller.Unpause)
}

// TerminateManagers handles POST /governance/terminate
func (s *Service) TerminateManagers(w http.ResponseWriter, r *http.Request) {
	s.fanOut(w, r, s.controller.Terminate)
}

// RefreshPriceFeeds handles POST /governance/refresh-price-feeds
func (s *Service) RefreshPriceFeeds(w http.ResponseWriter, r *http.Request) {
	s.fanOut(w, r, s.controller.RefreshFtsoIndexes)
}

func (s *Service) fanOut(w http.ResponseWriter, r *http.Request, call func(ctx context.Context, caller string, targets []string) error) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req TargetsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := call(r.Context(), caller, req.Targets); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "targets": req.Targets})
}

// AddAssetManager handles POST /governance/asset-managers
// Answers 202 with the timelocked call.
func (s *Service) AddAssetManager(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req AssetManagerRequest
	if !decode(w, r, &req) {
		return
	}
	tl, err := s.controller.AddAssetManager(r.Context(), caller, req.Address)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, tl)
}

// RemoveAssetManager handles DELETE /governance/asset-managers/{address}
// Answers 202 with the timelocked call.
func (s *Service) RemoveAssetManager(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	tl, err := s.controller.RemoveAssetManager(r.Context(), caller, chi.URLParam(r, "address"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, tl)
}

// ExecuteGovernanceCall handles POST /governance/calls/{selector}/execute
func (s *Service) ExecuteGovernanceCall(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	selector := chi.URLParam(r, "selector")
	if err := s.controller.ExecuteGovernanceCall(r.Context(), caller, selector); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "executed", "selector": selector})
}
