package assetmanager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/atmx/fasset-manager/internal/attestation"
	"github.com/atmx/fasset-manager/internal/clock"
	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
	"github.com/atmx/fasset-manager/internal/priceoracle"
	"github.com/atmx/fasset-manager/internal/settings"
)

const (
	managerAddr     = "0xfxrp"
	controllerAddr  = "0xcontroller"
	priceProvider   = "0xftso"
	factProvider    = "0xattestation"
	owner           = "0xagentowner"
	minter          = "0xminter"
	stranger        = "0xstranger"
	agentUnderlying = "rAgentUnderlying"
	redeemerAddress = "rRedeemerUnderlying"
	chainID         = "testXRP"
)

var (
	t0 = time.Unix(1_700_000_000, 0).UTC()
	// One lot of 1 XRP is worth 5e17 USDC wei at 0.50 USD.
	agentCollateral = u("1250000000000000000")
)

func u(s string) sdkmath.Uint { return sdkmath.NewUintFromString(s) }

func si(v int64) sdkmath.Int { return sdkmath.NewInt(v) }

type fixture struct {
	t       *testing.T
	ctx     context.Context
	m       *Manager
	feed    *priceoracle.Feed
	facts   *attestation.Registry
	clock   *clock.Manual
	events  *events.Recorder
	replica *memReplica
	vault   string
	txSeq   int
}

// newFixture builds a manager with an available agent holding
// agentCollateral. XRP trades at 0.50 USD and a lot is 1 XRP unless opts
// change the settings.
func newFixture(t *testing.T, opts ...func(*settings.Settings)) *fixture {
	t.Helper()
	clk := clock.NewManual(t0)
	feed := priceoracle.NewFeed(priceProvider, clk)
	for sym, dec := range map[string]uint8{"XRP": 5, "USDC": 5} {
		if err := feed.SetDecimals(priceProvider, sym, dec); err != nil {
			t.Fatalf("SetDecimals: %v", err)
		}
	}
	s := settings.Default()
	s.LotSizeAMG = sdkmath.NewUint(1_000_000)
	for _, opt := range opts {
		opt(&s)
	}
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		feed:    feed,
		facts:   attestation.NewRegistry(factProvider),
		clock:   clk,
		events:  events.NewRecorder(),
		replica: newMemReplica(),
	}
	m, err := New(Config{
		Address:  managerAddr,
		Settings: s,
		Collaterals: []model.CollateralType{{
			Token:           "USDC",
			Decimals:        18,
			AssetFtsoSymbol: "XRP",
			TokenFtsoSymbol: "USDC",
		}},
		Prices:    priceoracle.NewReader(feed, clk),
		Verifier:  f.facts,
		Clock:     clk,
		Publisher: f.events,
		Replica:   f.replica,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.m = m
	f.setPrice(50_000)
	if err := feed.SetPrice(priceProvider, "USDC", sdkmath.NewUint(100_000)); err != nil {
		t.Fatal(err)
	}
	if err := m.AttachController(f.ctx, controllerAddr, true); err != nil {
		t.Fatal(err)
	}
	f.vault = f.newAgent(owner, agentUnderlying)
	f.events.Reset()
	return f
}

// newAgent creates an available agent with agentCollateral deposited.
func (f *fixture) newAgent(agentOwner, underlying string) string {
	f.t.Helper()
	a, err := f.m.CreateAgent(f.ctx, CreateAgentRequest{
		Owner:             agentOwner,
		UnderlyingAddress: underlying,
		CollateralToken:   "USDC",
		MintingFeeBIPS:    100,
	})
	if err != nil {
		f.t.Fatalf("CreateAgent: %v", err)
	}
	if err := f.m.DepositCollateral(f.ctx, agentOwner, a.VaultAddress, agentCollateral); err != nil {
		f.t.Fatalf("DepositCollateral: %v", err)
	}
	if err := f.m.MakeAgentAvailable(f.ctx, agentOwner, a.VaultAddress); err != nil {
		f.t.Fatalf("MakeAgentAvailable: %v", err)
	}
	return a.VaultAddress
}

// setPrice sets the XRP fast price with 5 decimals.
func (f *fixture) setPrice(xrp uint64) {
	f.t.Helper()
	if err := f.feed.SetPrice(priceProvider, "XRP", sdkmath.NewUint(xrp)); err != nil {
		f.t.Fatal(err)
	}
}

func (f *fixture) txID() string {
	f.txSeq++
	return fmt.Sprintf("0xtx%04d", f.txSeq)
}

func (f *fixture) payment(p attestation.Payment) attestation.Proof {
	f.t.Helper()
	if p.TxID == "" {
		p.TxID = f.txID()
	}
	if p.SourceID == "" {
		p.SourceID = chainID
	}
	if p.SpentAmount.IsNil() {
		p.SpentAmount = p.ReceivedAmount
	}
	proof, err := f.facts.SubmitPayment(factProvider, p)
	if err != nil {
		f.t.Fatalf("SubmitPayment: %v", err)
	}
	return proof
}

func (f *fixture) outflow(tx attestation.BalanceDecreasingTransaction) attestation.Proof {
	f.t.Helper()
	if tx.TxID == "" {
		tx.TxID = f.txID()
	}
	if tx.SourceID == "" {
		tx.SourceID = chainID
	}
	if tx.SourceAddress == "" {
		tx.SourceAddress = agentUnderlying
	}
	if tx.SpentAmount.IsNil() {
		tx.SpentAmount = si(1000)
	}
	proof, err := f.facts.SubmitBalanceDecreasingTransaction(factProvider, tx)
	if err != nil {
		f.t.Fatalf("SubmitBalanceDecreasingTransaction: %v", err)
	}
	return proof
}

func (f *fixture) nonPayment(n attestation.ReferencedPaymentNonexistence) attestation.Proof {
	f.t.Helper()
	if n.SourceID == "" {
		n.SourceID = chainID
	}
	proof, err := f.facts.SubmitReferencedPaymentNonexistence(factProvider, n)
	if err != nil {
		f.t.Fatalf("SubmitReferencedPaymentNonexistence: %v", err)
	}
	return proof
}

func (f *fixture) reserve(vault string, lots uint64) *model.CollateralReservation {
	f.t.Helper()
	fee, err := f.m.CollateralReservationFee(f.ctx, vault, lots)
	if err != nil {
		f.t.Fatalf("CollateralReservationFee: %v", err)
	}
	r, err := f.m.ReserveCollateral(f.ctx, ReserveRequest{
		Minter:            minter,
		AgentVault:        vault,
		Lots:              lots,
		MaxMintingFeeBIPS: 500,
		FeePaidWei:        fee,
	})
	if err != nil {
		f.t.Fatalf("ReserveCollateral: %v", err)
	}
	return r
}

// payReservation proves the full payment of value plus minting fee.
func (f *fixture) payReservation(r *model.CollateralReservation) attestation.Proof {
	f.t.Helper()
	due := r.ValueUBA.Add(r.MintingFeeUBA)
	return f.payment(attestation.Payment{
		SourceAddress:    "rMinterUnderlying",
		ReceivingAddress: r.PaymentAddress,
		ReceivedAmount:   sdkmath.NewIntFromBigInt(due.BigInt()),
		PaymentReference: r.PaymentReference,
		BlockNumber:      r.FirstUnderlyingBlock,
		BlockTimestamp:   t0.Unix(),
	})
}

// mint reserves and executes lots with vault for the minter.
func (f *fixture) mint(vault string, lots uint64) *model.CollateralReservation {
	f.t.Helper()
	r := f.reserve(vault, lots)
	if err := f.m.ExecuteMinting(f.ctx, minter, f.payReservation(r), r.ID); err != nil {
		f.t.Fatalf("ExecuteMinting: %v", err)
	}
	return r
}

func (f *fixture) agent(vault string) *model.AgentInfo {
	f.t.Helper()
	info, err := f.m.AgentInfo(f.ctx, vault)
	if err != nil {
		f.t.Fatalf("AgentInfo: %v", err)
	}
	return info
}

func (f *fixture) payout(account string) sdkmath.Uint {
	if v, ok := f.m.Payouts(account)["USDC"]; ok {
		return v
	}
	return sdkmath.ZeroUint()
}

// memReplica records what the manager replicates.
type memReplica struct {
	mu           sync.Mutex
	agents       map[string]model.Agent
	deleted      []string
	reservations map[uint64]model.CollateralReservation
	redemptions  map[uint64]model.RedemptionRequest
	versions     []uint64
	lastUpdate   map[string]time.Time
}

func newMemReplica() *memReplica {
	return &memReplica{
		agents:       make(map[string]model.Agent),
		reservations: make(map[uint64]model.CollateralReservation),
		redemptions:  make(map[uint64]model.RedemptionRequest),
	}
}

func (r *memReplica) SaveAgent(_ context.Context, a *model.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.VaultAddress] = *a
	return nil
}

func (r *memReplica) DeleteAgent(_ context.Context, _, vault string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, vault)
	r.deleted = append(r.deleted, vault)
	return nil
}

func (r *memReplica) SaveReservation(_ context.Context, res *model.CollateralReservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reservations[res.ID] = *res
	return nil
}

func (r *memReplica) SaveRedemption(_ context.Context, req *model.RedemptionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redemptions[req.ID] = *req
	return nil
}

func (r *memReplica) SaveSettings(_ context.Context, _ string, snap settings.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions = append(r.versions, snap.Version)
	r.lastUpdate = snap.LastUpdate
	return nil
}
