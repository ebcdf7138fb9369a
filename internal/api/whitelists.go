package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/fasset-manager/internal/access"
)

// WhitelistView reports whether an account may register agents.
type WhitelistView struct {
	Whitelist   string `json:"whitelist"`
	Account     string `json:"account"`
	Whitelisted bool   `json:"whitelisted"`
}

func (s *Service) whitelist(w http.ResponseWriter, r *http.Request) (*access.Whitelist, bool) {
	wl, err := s.whitelists.Lookup(chi.URLParam(r, "address"))
	if err != nil {
		fail(w, err)
		return nil, false
	}
	return wl, true
}

// GetWhitelisted handles GET /whitelists/{address}/accounts/{account}
func (s *Service) GetWhitelisted(w http.ResponseWriter, r *http.Request) {
	wl, ok := s.whitelist(w, r)
	if !ok {
		return
	}
	acct := chi.URLParam(r, "account")
	writeJSON(w, http.StatusOK, WhitelistView{Whitelist: wl.Address(), Account: acct, Whitelisted: wl.IsWhitelisted(acct)})
}

// AddWhitelisted handles PUT /whitelists/{address}/accounts/{account}
// Governance only.
func (s *Service) AddWhitelisted(w http.ResponseWriter, r *http.Request) {
	s.changeWhitelist(w, r, (*access.Whitelist).Add)
}

// RevokeWhitelisted handles DELETE /whitelists/{address}/accounts/{account}
// Governance only.
func (s *Service) RevokeWhitelisted(w http.ResponseWriter, r *http.Request) {
	s.changeWhitelist(w, r, (*access.Whitelist).Revoke)
}

func (s *Service) changeWhitelist(w http.ResponseWriter, r *http.Request, op func(*access.Whitelist, string, string) error) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	wl, ok := s.whitelist(w, r)
	if !ok {
		return
	}
	if err := op(wl, caller, chi.URLParam(r, "account")); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
