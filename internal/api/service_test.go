package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/go-chi/chi/v5"

	"github.com/atmx/fasset-manager/internal/access"
	"github.com/atmx/fasset-manager/internal/api"
	"github.com/atmx/fasset-manager/internal/assetmanager"
	"github.com/atmx/fasset-manager/internal/attestation"
	"github.com/atmx/fasset-manager/internal/clock"
	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/governance"
	"github.com/atmx/fasset-manager/internal/model"
	"github.com/atmx/fasset-manager/internal/priceoracle"
	"github.com/atmx/fasset-manager/internal/settings"
	"github.com/atmx/fasset-manager/internal/store"
)

const (
	managerAddr    = "0xfxrp"
	controllerAddr = "0xcontroller"
	governanceAddr = "0xgovernance"
	executorAddr   = "0xexecutor"
	priceProvider  = "0xftso"
	factProvider   = "0xattestation"
	owner          = "0xagentowner"
	minter         = "0xminter"
	agentUnderling = "rAgentUnderlying"
	whitelistAddr  = "0xwhitelist"
)

var (
	t0              = time.Unix(1_700_000_000, 0).UTC()
	agentCollateral = sdkmath.NewUintFromString("1250000000000000000")
)

type testEnv struct {
	t      *testing.T
	router chi.Router
	store  *store.MemoryStore
	clock  *clock.Manual
	events *events.Recorder
	m      *assetmanager.Manager
}

// newTestEnv serves one asset manager governed by a controller with a one
// hour timelock. XRP trades at 0.50 USD and a lot is 1 XRP.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewManual(t0)
	ms := store.NewMemoryStore()
	rec := events.NewRecorder()
	pub := events.Multi{store.EventLog(ms), rec}

	feed := priceoracle.NewFeed(priceProvider, clk)
	facts := attestation.NewRegistry(factProvider)
	lists := access.NewRegistry()
	lists.Register(access.NewWhitelist(whitelistAddr, governanceAddr))

	s := settings.Default()
	s.LotSizeAMG = sdkmath.NewUint(1_000_000)
	m, err := assetmanager.New(assetmanager.Config{
		Address:  managerAddr,
		Settings: s,
		Collaterals: []model.CollateralType{{
			Token:           "USDC",
			Decimals:        18,
			AssetFtsoSymbol: "XRP",
			TokenFtsoSymbol: "USDC",
		}},
		Prices:    priceoracle.NewReader(feed, clk),
		Verifier:   facts,
		Whitelists: lists,
		Clock:      clk,
		Publisher:  pub,
		Replica:    ms,
	})
	if err != nil {
		t.Fatalf("assetmanager.New: %v", err)
	}
	ctrl, err := governance.New(governance.Config{
		Address:    controllerAddr,
		Governance: governanceAddr,
		Executors:  []string{executorAddr},
		Timelock:   time.Hour,
		Clock:      clk,
		Publisher:  pub,
	})
	if err != nil {
		t.Fatalf("governance.New: %v", err)
	}
	ctrl.Register(m)
	if err := ctrl.Bootstrap(ctx, managerAddr); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	svc := api.NewService(api.Config{
		Managers:   []*assetmanager.Manager{m},
		Controller: ctrl,
		Feed:       feed,
		Facts:      facts,
		Store:      ms,
		Whitelists: lists,
	})
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	env := &testEnv{t: t, router: r, store: ms, clock: clk, events: rec, m: m}
	for sym, price := range map[string]uint64{"XRP": 50_000, "USDC": 100_000} {
		env.ok("PUT", "/api/v1/prices/"+sym+"/decimals", priceProvider, api.DecimalsRequest{Decimals: 5}, http.StatusNoContent)
		env.ok("PUT", "/api/v1/prices/"+sym, priceProvider, api.PriceRequest{Value: sdkmath.NewUint(price)}, http.StatusNoContent)
	}
	return env
}

func (e *testEnv) do(method, path, account string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(api.AccountHeader, account)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// ok performs the request and fails the test unless it answers status.
func (e *testEnv) ok(method, path, account string, body any, status int) *httptest.ResponseRecorder {
	e.t.Helper()
	w := e.do(method, path, account, body)
	if w.Code != status {
		e.t.Fatalf("%s %s: expected %d, got %d: %s", method, path, status, w.Code, w.Body.String())
	}
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

const agentsPath = "/api/v1/managers/" + managerAddr + "/agents"

// newAgent creates an available agent holding agentCollateral.
func (e *testEnv) newAgent() string {
	e.t.Helper()
	w := e.ok("POST", agentsPath, owner, assetmanager.CreateAgentRequest{
		UnderlyingAddress: agentUnderling,
		CollateralToken:   "USDC",
		MintingFeeBIPS:    100,
	}, http.StatusCreated)
	a := decodeBody[model.Agent](e.t, w)
	e.ok("POST", agentsPath+"/"+a.VaultAddress+"/collateral", owner, api.AmountRequest{Amount: agentCollateral}, http.StatusOK)
	e.ok("POST", agentsPath+"/"+a.VaultAddress+"/available", owner, nil, http.StatusOK)
	return a.VaultAddress
}

// mint reserves lots with vault and proves the payment through the
// attestation endpoint.
func (e *testEnv) mint(vault string, lots uint64) model.CollateralReservation {
	e.t.Helper()
	base := "/api/v1/managers/" + managerAddr
	fee := decodeBody[map[string]sdkmath.Uint](e.t,
		e.ok("GET", base+"/reservation-fee?agent="+vault+"&lots="+itoa(lots), "", nil, http.StatusOK))["fee_wei"]

	res := decodeBody[model.CollateralReservation](e.t, e.ok("POST", base+"/reservations", minter, assetmanager.ReserveRequest{
		AgentVault:        vault,
		Lots:              lots,
		MaxMintingFeeBIPS: 500,
		FeePaidWei:        fee,
	}, http.StatusCreated))

	due := res.ValueUBA.Add(res.MintingFeeUBA)
	proof := decodeBody[attestation.Proof](e.t, e.ok("POST", "/api/v1/attestations/payments", factProvider, attestation.Payment{
		TxID:             "0xmint",
		SourceID:         "testXRP",
		SourceAddress:    "rMinterUnderlying",
		ReceivingAddress: res.PaymentAddress,
		SpentAmount:      sdkmath.NewIntFromBigInt(due.BigInt()),
		ReceivedAmount:   sdkmath.NewIntFromBigInt(due.BigInt()),
		PaymentReference: res.PaymentReference,
		BlockNumber:      res.FirstUnderlyingBlock,
		BlockTimestamp:   t0.Unix(),
	}, http.StatusCreated))

	e.ok("POST", base+"/reservations/"+itoa(res.ID)+"/execute", minter, api.ProofRequest{Proof: proof}, http.StatusOK)
	return res
}

func itoa(id uint64) string { return strconv.FormatUint(id, 10) }

// --- agents ---

func TestCreateAgent(t *testing.T) {
	env := newTestEnv(t)
	vault := env.newAgent()

	info := decodeBody[model.AgentInfo](t, env.ok("GET", agentsPath+"/"+vault, "", nil, http.StatusOK))
	if info.Owner != owner {
		t.Errorf("expected owner %s from %s header, got %s", owner, api.AccountHeader, info.Owner)
	}
	if !info.CollateralWei.Equal(agentCollateral) || !info.Available {
		t.Errorf("unexpected agent: %+v", info.Agent)
	}

	available := decodeBody[[]model.Agent](t, env.ok("GET", agentsPath+"?available=true", "", nil, http.StatusOK))
	if len(available) != 1 || available[0].VaultAddress != vault {
		t.Errorf("available agents: %+v", available)
	}

	replica := decodeBody[[]model.Agent](t, env.ok("GET", agentsPath+"/replica", "", nil, http.StatusOK))
	if len(replica) != 1 || !replica[0].CollateralWei.Equal(agentCollateral) {
		t.Errorf("store replica out of date: %+v", replica)
	}
}

func TestMissingAccount(t *testing.T) {
	env := newTestEnv(t)
	w := env.do("POST", agentsPath, "", assetmanager.CreateAgentRequest{UnderlyingAddress: "rX", CollateralToken: "USDC"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestUnknownManager(t *testing.T) {
	env := newTestEnv(t)
	w := env.do("GET", "/api/v1/managers/0xnothing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	env := newTestEnv(t)
	vault := env.newAgent()

	tests := []struct {
		name   string
		method string
		path   string
		caller string
		body   any
		want   int
		kind   string
	}{
		{"stranger deposits", "POST", agentsPath + "/" + vault + "/collateral", "0xstranger",
			api.AmountRequest{Amount: sdkmath.NewUint(1)}, http.StatusForbidden, "authorization"},
		{"unknown agent", "GET", agentsPath + "/0xmissing", "", nil, http.StatusNotFound, "not_found"},
		{"zero lots", "POST", "/api/v1/managers/" + managerAddr + "/reservations", minter,
			assetmanager.ReserveRequest{AgentVault: vault, Lots: 0, MaxMintingFeeBIPS: 500}, http.StatusBadRequest, "validation"},
		{"unknown proof", "POST", "/api/v1/managers/" + managerAddr + "/underlying-block", "",
			api.ProofRequest{Proof: attestation.Proof{ID: "0xnope"}}, http.StatusConflict, "attestation_mismatch"},
		{"not the price provider", "PUT", "/api/v1/prices/XRP", "0xstranger",
			api.PriceRequest{Value: sdkmath.NewUint(1)}, http.StatusForbidden, "authorization"},
		{"missing amount", "POST", agentsPath + "/" + vault + "/collateral", owner,
			map[string]string{}, http.StatusBadRequest, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(tc.method, tc.path, tc.caller, tc.body)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
			if tc.kind == "" {
				return
			}
			if got := decodeBody[map[string]string](t, w)["kind"]; got != tc.kind {
				t.Errorf("kind: got %q, want %q", got, tc.kind)
			}
		})
	}
}

// --- minting and redemption ---

func TestMintAndRedeem(t *testing.T) {
	env := newTestEnv(t)
	vault := env.newAgent()
	base := "/api/v1/managers/" + managerAddr
	res := env.mint(vault, 1)

	bal := decodeBody[api.BalanceView](t, env.ok("GET", base+"/fasset/"+minter, "", nil, http.StatusOK))
	if !bal.BalanceUBA.Equal(res.ValueUBA) {
		t.Fatalf("minter balance: got %s, want %s", bal.BalanceUBA, res.ValueUBA)
	}

	// Executing the same reservation twice conflicts.
	w := env.do("POST", base+"/reservations/"+itoa(res.ID)+"/execute", minter, api.ProofRequest{Proof: attestation.Proof{ID: "0xany"}})
	if w.Code != http.StatusConflict && w.Code != http.StatusNotFound {
		t.Errorf("second execution should fail, got %d", w.Code)
	}

	red := decodeBody[assetmanager.RedeemResult](t, env.ok("POST", base+"/redemptions", minter, api.RedeemRequest{
		Lots:              1,
		UnderlyingAddress: "rRedeemerUnderlying",
	}, http.StatusCreated))
	if red.RedeemedLots != 1 || len(red.Requests) != 1 {
		t.Fatalf("redeem: %+v", red)
	}
	id := red.Requests[0].ID

	got := decodeBody[model.RedemptionRequest](t, env.ok("GET", base+"/redemptions/"+itoa(id), "", nil, http.StatusOK))
	if got.AgentVault != vault || got.Status != model.RedemptionActive {
		t.Errorf("redemption: %+v", got)
	}

	history := decodeBody[[]model.RedemptionRequest](t, env.ok("GET", base+"/redemptions", minter, nil, http.StatusOK))
	if len(history) != 1 || history[0].ID != id {
		t.Errorf("replicated history: %+v", history)
	}

	bal = decodeBody[api.BalanceView](t, env.ok("GET", base+"/fasset/"+minter, "", nil, http.StatusOK))
	if !bal.BalanceUBA.IsZero() {
		t.Errorf("redeemed f-assets should be burnt, balance %s", bal.BalanceUBA)
	}
}

func TestTransfer(t *testing.T) {
	env := newTestEnv(t)
	vault := env.newAgent()
	base := "/api/v1/managers/" + managerAddr
	res := env.mint(vault, 1)

	half := res.ValueUBA.QuoUint64(2)
	env.ok("POST", base+"/fasset/transfer", minter, api.TransferRequest{To: "0xfriend", Amount: half}, http.StatusOK)
	friend := decodeBody[api.BalanceView](t, env.ok("GET", base+"/fasset/0xfriend", "", nil, http.StatusOK))
	if !friend.BalanceUBA.Equal(half) {
		t.Errorf("friend balance: got %s, want %s", friend.BalanceUBA, half)
	}

	w := env.do("POST", base+"/fasset/transfer", "0xfriend", api.TransferRequest{To: minter, Amount: res.ValueUBA})
	if w.Code != http.StatusBadRequest && w.Code != http.StatusConflict {
		t.Errorf("overdrawn transfer should fail, got %d", w.Code)
	}
}

// --- governance ---

func TestGovernance_SetSetting(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/api/v1/governance/settings", "0xstranger", api.SettingRequest{
		Targets: []string{managerAddr},
		Update:  settings.Update{Method: settings.SetRedemptionFeeBips, Values: settings.Uints(300)},
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-governance caller, got %d", w.Code)
	}

	env.ok("POST", "/api/v1/governance/settings", governanceAddr, api.SettingRequest{
		Targets: []string{managerAddr},
		Update:  settings.Update{Method: settings.SetRedemptionFeeBips, Values: settings.Uints(300)},
	}, http.StatusOK)

	view := decodeBody[api.SettingsView](t, env.ok("GET", "/api/v1/managers/"+managerAddr+"/settings", "", nil, http.StatusOK))
	if view.Settings.RedemptionFeeBIPS != 300 {
		t.Errorf("fee: got %d, want 300", view.Settings.RedemptionFeeBIPS)
	}

	// The same setter again within a day is rate limited.
	w = env.do("POST", "/api/v1/governance/settings", governanceAddr, api.SettingRequest{
		Targets: []string{managerAddr},
		Update:  settings.Update{Method: settings.SetRedemptionFeeBips, Values: settings.Uints(250)},
	})
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGovernance_TimelockedCall(t *testing.T) {
	env := newTestEnv(t)

	tl := decodeBody[governance.TimelockedCall](t, env.ok("POST", "/api/v1/governance/settings", governanceAddr, api.SettingRequest{
		Targets: []string{managerAddr},
		Update:  settings.Update{Method: settings.SetWhitelist, Address: whitelistAddr},
	}, http.StatusAccepted))
	if tl.Selector == "" || tl.Executed {
		t.Fatalf("unexpected call: %+v", tl)
	}

	exec := "/api/v1/governance/calls/" + tl.Selector + "/execute"
	if w := env.do("POST", exec, executorAddr, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 before the timelock elapsed, got %d", w.Code)
	}
	env.clock.Advance(time.Hour)
	if w := env.do("POST", exec, governanceAddr, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-executor, got %d", w.Code)
	}
	env.ok("POST", exec, executorAddr, nil, http.StatusOK)

	view := decodeBody[api.GovernanceView](t, env.ok("GET", "/api/v1/governance", "", nil, http.StatusOK))
	if len(view.Calls) != 1 || !view.Calls[0].Executed {
		t.Errorf("calls: %+v", view.Calls)
	}
	if changed := env.events.Named(events.ContractChanged); len(changed) != 1 {
		t.Errorf("expected one ContractChanged event, got %d", len(changed))
	}

	create := assetmanager.CreateAgentRequest{UnderlyingAddress: agentUnderling, CollateralToken: "USDC", MintingFeeBIPS: 100}
	if w := env.do("POST", agentsPath, owner, create); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-whitelisted owner, got %d: %s", w.Code, w.Body.String())
	}
	entry := "/api/v1/whitelists/" + whitelistAddr + "/accounts/" + owner
	if w := env.do("PUT", entry, owner, nil); w.Code != http.StatusForbidden {
		t.Fatalf("only governance may whitelist, got %d", w.Code)
	}
	env.ok("PUT", entry, governanceAddr, nil, http.StatusNoContent)
	if v := decodeBody[api.WhitelistView](t, env.ok("GET", entry, "", nil, http.StatusOK)); !v.Whitelisted {
		t.Errorf("owner should be whitelisted: %+v", v)
	}
	env.ok("POST", agentsPath, owner, create, http.StatusCreated)

	env.ok("DELETE", entry, governanceAddr, nil, http.StatusNoContent)
	if w := env.do("GET", "/api/v1/whitelists/0xnone/accounts/"+owner, "", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown whitelist: expected 404, got %d", w.Code)
	}
}

func TestGovernance_PauseBlocksMinting(t *testing.T) {
	env := newTestEnv(t)
	vault := env.newAgent()

	env.ok("POST", "/api/v1/governance/pause", governanceAddr, api.TargetsRequest{Targets: []string{managerAddr}}, http.StatusOK)

	managers := decodeBody[[]api.ManagerSummary](t, env.ok("GET", "/api/v1/managers", "", nil, http.StatusOK))
	if len(managers) != 1 || !managers[0].Paused || !managers[0].Managed {
		t.Fatalf("managers: %+v", managers)
	}

	w := env.do("POST", "/api/v1/managers/"+managerAddr+"/reservations", minter, assetmanager.ReserveRequest{
		AgentVault: vault, Lots: 1, MaxMintingFeeBIPS: 500, FeePaidWei: agentCollateral,
	})
	if w.Code == http.StatusCreated {
		t.Fatal("paused manager accepted a reservation")
	}

	w = env.do("POST", "/api/v1/governance/terminate", governanceAddr, api.TargetsRequest{Targets: []string{managerAddr}})
	if w.Code != http.StatusConflict && w.Code != http.StatusBadRequest {
		t.Errorf("terminate right after pause should fail, got %d", w.Code)
	}
}

// --- event log ---

func TestListEvents(t *testing.T) {
	env := newTestEnv(t)
	env.newAgent()

	all := decodeBody[[]events.Event](t, env.ok("GET", "/api/v1/events?source="+managerAddr, "", nil, http.StatusOK))
	names := make([]string, len(all))
	for i, e := range all {
		names[i] = e.Name
	}
	want := []string{events.ControllerAttached, events.AgentCreated, events.CollateralDeposited, events.AgentAvailable}
	if len(names) != len(want) {
		t.Fatalf("events: got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("events: got %v, want %v", names, want)
		}
	}

	last := decodeBody[[]events.Event](t, env.ok("GET", "/api/v1/events?limit=1", "", nil, http.StatusOK))
	if len(last) != 1 || last[0].Name != events.AgentAvailable {
		t.Errorf("limit=1 should return the newest event, got %+v", last)
	}

	if w := env.do("GET", "/api/v1/events?limit=abc", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestListPrices(t *testing.T) {
	env := newTestEnv(t)
	prices := decodeBody[[]api.PriceView](t, env.ok("GET", "/api/v1/prices", "", nil, http.StatusOK))
	if len(prices) != 2 || prices[1].Symbol != "XRP" {
		t.Fatalf("prices: %+v", prices)
	}
	if prices[1].Price.String() != "0.5" {
		t.Errorf("XRP price: got %s, want 0.5", prices[1].Price)
	}
}
