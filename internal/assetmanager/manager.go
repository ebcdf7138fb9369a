// Package assetmanager implements one f-asset class: the agent ledger and
// the minting, redemption, liquidation and challenge flows that move value
// between agents, minters and redeemers.
//
// A Manager serialises every call on one mutex. A call validates fully,
// then mutates, then publishes the events it buffered and replicates the
// entities it touched. A failing call leaves no trace in state or events.
package assetmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atmx/fasset-manager/internal/access"
	"github.com/atmx/fasset-manager/internal/attestation"
	"github.com/atmx/fasset-manager/internal/clock"
	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
	"github.com/atmx/fasset-manager/internal/priceoracle"
	"github.com/atmx/fasset-manager/internal/settings"
)

// MinPauseBeforeTerminate is how long a manager must stay paused before it
// can be terminated.
const MinPauseBeforeTerminate = 30 * 24 * time.Hour

// Replica receives copies of committed entities. It is not read back; the
// manager's in-memory state is authoritative.
type Replica interface {
	SaveAgent(ctx context.Context, a *model.Agent) error
	DeleteAgent(ctx context.Context, manager, vault string) error
	SaveReservation(ctx context.Context, r *model.CollateralReservation) error
	SaveRedemption(ctx context.Context, r *model.RedemptionRequest) error
	SaveSettings(ctx context.Context, manager string, snap settings.Snapshot) error
}

// Config wires a Manager to its collaborators.
type Config struct {
	Address  string
	Settings settings.Settings
	// Restore resumes a persisted parameter set, with its version and
	// setter update times, instead of Settings.
	Restore     *settings.Snapshot
	Collaterals []model.CollateralType
	Prices      *priceoracle.Reader
	Verifier    attestation.Verifier
	// Whitelists resolves Settings.AgentWhitelist. May be nil when no
	// whitelist is ever configured.
	Whitelists *access.Registry
	Clock      clock.Clock
	Publisher  events.Publisher
	Replica    Replica
}

// Manager is one asset manager instance.
type Manager struct {
	mu sync.RWMutex

	address     string
	params      *settings.ParameterStore
	collaterals map[string]model.CollateralType
	prices      *priceoracle.Reader
	verifier    attestation.Verifier
	whitelists  *access.Registry
	clock       clock.Clock
	publisher   events.Publisher
	replica     Replica

	controller string
	paused     bool
	pausedAt   time.Time
	terminated bool

	agents          map[string]*model.Agent
	claimed         map[string]string
	reservations    map[uint64]*model.CollateralReservation
	redemptions     map[uint64]*model.RedemptionRequest
	tickets         []*model.RedemptionTicket
	balances        map[string]sdkmath.Uint
	payouts         map[string]map[string]sdkmath.Uint
	usedPayments    map[string]bool
	nextID          uint64
	underlyingBlock uint64
	underlyingTime  int64
}

// New creates a manager. Settings are validated.
func New(cfg Config) (*Manager, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidArgument)
	}
	if cfg.Prices == nil || cfg.Verifier == nil {
		return nil, fmt.Errorf("%w: price reader and verifier are required", ErrInvalidArgument)
	}
	if len(cfg.Collaterals) == 0 {
		return nil, fmt.Errorf("%w: at least one collateral type is required", ErrInvalidArgument)
	}
	snap := settings.Snapshot{Version: 1, Settings: cfg.Settings}
	if cfg.Restore != nil {
		snap = *cfg.Restore
	}
	params, err := settings.RestoreParameterStore(snap)
	if err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Multi{}
	}

	m := &Manager{
		address:      cfg.Address,
		params:       params,
		collaterals:  make(map[string]model.CollateralType, len(cfg.Collaterals)),
		prices:       cfg.Prices,
		verifier:     cfg.Verifier,
		whitelists:   cfg.Whitelists,
		clock:        cfg.Clock,
		publisher:    cfg.Publisher,
		replica:      cfg.Replica,
		agents:       make(map[string]*model.Agent),
		claimed:      make(map[string]string),
		reservations: make(map[uint64]*model.CollateralReservation),
		redemptions:  make(map[uint64]*model.RedemptionRequest),
		balances:     make(map[string]sdkmath.Uint),
		payouts:      make(map[string]map[string]sdkmath.Uint),
		usedPayments: make(map[string]bool),
	}
	for _, ct := range cfg.Collaterals {
		if ct.Token == "" || ct.AssetFtsoSymbol == "" {
			return nil, fmt.Errorf("%w: collateral type needs token and asset symbol", ErrInvalidArgument)
		}
		m.collaterals[ct.Token] = ct
	}
	return m, nil
}

// Address identifies the manager.
func (m *Manager) Address() string { return m.address }

// --- call scope ---

// txn buffers the effects of one call until it commits.
type txn struct {
	ctx          context.Context
	span         trace.Span
	now          time.Time
	events       []events.Event
	agents       map[string]bool
	deleted      map[string]bool
	reservations map[uint64]bool
	redemptions  map[uint64]bool
	settings     bool
}

func (m *Manager) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) *txn {
	attrs = append(attrs, attribute.String("asset_manager", m.address))
	ctx, span := otel.Tracer("assetmanager").Start(ctx, "assetmanager."+op, trace.WithAttributes(attrs...))
	return &txn{
		ctx:          ctx,
		span:         span,
		now:          m.clock.Now(),
		agents:       make(map[string]bool),
		deleted:      make(map[string]bool),
		reservations: make(map[uint64]bool),
		redemptions:  make(map[uint64]bool),
	}
}

func (t *txn) emit(source, name string, args map[string]any) {
	t.events = append(t.events, events.New(source, name, t.now, args))
}

func (t *txn) touchAgent(vault string)    { t.agents[vault] = true }
func (t *txn) touchReservation(id uint64) { t.reservations[id] = true }
func (t *txn) touchRedemption(id uint64)  { t.redemptions[id] = true }

func (m *Manager) emit(t *txn, name string, args map[string]any) {
	t.emit(m.address, name, args)
}

// finish ends the call. On success buffered events are published and
// touched entities replicated; replication failures are logged only.
func (m *Manager) finish(t *txn, err error) {
	defer t.span.End()
	if err != nil {
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, "call reverted")
		return
	}
	m.replicate(t)
	if len(t.events) > 0 {
		m.publisher.Publish(t.ctx, t.events)
	}
	t.span.SetAttributes(attribute.Int("events", len(t.events)))
}

func (m *Manager) replicate(t *txn) {
	if m.replica == nil {
		return
	}
	ctx := t.ctx
	var errs []error
	for vault := range t.agents {
		if a, ok := m.agents[vault]; ok {
			errs = append(errs, m.replica.SaveAgent(ctx, a.Clone()))
		}
	}
	for vault := range t.deleted {
		errs = append(errs, m.replica.DeleteAgent(ctx, m.address, vault))
	}
	for id := range t.reservations {
		r := *m.reservations[id]
		errs = append(errs, m.replica.SaveReservation(ctx, &r))
	}
	for id := range t.redemptions {
		r := *m.redemptions[id]
		errs = append(errs, m.replica.SaveRedemption(ctx, &r))
	}
	if t.settings {
		errs = append(errs, m.replica.SaveSettings(ctx, m.address, m.params.Snapshot()))
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("replicate asset manager state", "asset_manager", m.address, "error", err)
	}
}

func (m *Manager) newID() uint64 {
	m.nextID++
	return m.nextID
}

func (m *Manager) settings() settings.Settings {
	return m.params.Settings()
}

// agent returns the live agent entry.
func (m *Manager) agent(vault string) (*model.Agent, error) {
	a, ok := m.agents[vault]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, vault)
	}
	return a, nil
}

func (m *Manager) ownedAgent(caller, vault string) (*model.Agent, error) {
	a, err := m.agent(vault)
	if err != nil {
		return nil, err
	}
	if a.Owner != caller {
		return nil, ErrOnlyAgentOwner
	}
	return a, nil
}

func (m *Manager) pay(account, token string, amount sdkmath.Uint) {
	if amount.IsZero() {
		return
	}
	p, ok := m.payouts[account]
	if !ok {
		p = make(map[string]sdkmath.Uint)
		m.payouts[account] = p
	}
	cur, ok := p[token]
	if !ok {
		cur = sdkmath.ZeroUint()
	}
	p[token] = cur.Add(amount)
}

// payFromCollateral moves up to amount of the agent's collateral to account
// and returns what was actually paid.
func (m *Manager) payFromCollateral(a *model.Agent, account string, amount sdkmath.Uint) sdkmath.Uint {
	if amount.GT(a.CollateralWei) {
		amount = a.CollateralWei
	}
	a.CollateralWei = a.CollateralWei.Sub(amount)
	m.pay(account, a.CollateralToken, amount)
	return amount
}

func (m *Manager) checkChain(sourceID string) error {
	if want := m.settings().SourceID; sourceID != want {
		return fmt.Errorf("%w: %q, want %q", ErrInvalidChain, sourceID, want)
	}
	return nil
}

// --- governance-facing surface ---

func (m *Manager) onlyController(caller string) error {
	if m.controller == "" || caller != m.controller {
		return ErrOnlyAssetManagerController
	}
	return nil
}

// AttachController sets (attached) or clears the governance controller
// allowed to change settings and pause the manager.
func (m *Manager) AttachController(ctx context.Context, controller string, attached bool) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "AttachController", attribute.String("controller", controller))
	defer func() { m.finish(t, err) }()

	if attached {
		if m.controller == controller {
			return nil
		}
		m.controller = controller
	} else {
		if m.controller != controller {
			return nil
		}
		m.controller = ""
	}
	m.emit(t, events.ControllerAttached, map[string]any{"controller": controller, "attached": attached})
	return nil
}

// Controller returns the attached controller address, if any.
func (m *Manager) Controller() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controller
}

// ValidateSettingUpdate checks upd against the current parameters without
// applying it.
func (m *Manager) ValidateSettingUpdate(_ context.Context, caller string, upd settings.Update) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.onlyController(caller); err != nil {
		return err
	}
	return m.params.Validate(upd, m.clock.Now())
}

// ApplySettingUpdate applies upd and emits one event per changed parameter.
func (m *Manager) ApplySettingUpdate(ctx context.Context, caller string, upd settings.Update) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "ApplySettingUpdate", attribute.String("method", upd.Method))
	defer func() { m.finish(t, err) }()

	if err := m.onlyController(caller); err != nil {
		return err
	}
	changes, err := m.params.Apply(upd, t.now)
	if err != nil {
		return err
	}
	t.settings = true
	for _, c := range changes {
		switch c.Kind {
		case settings.ChangeArray:
			vals := make([]string, len(c.Values))
			for i, v := range c.Values {
				vals[i] = v.String()
			}
			m.emit(t, events.SettingArrayChanged, map[string]any{"name": c.Name, "value": vals})
		case settings.ChangeAddress:
			m.emit(t, events.ContractChanged, map[string]any{"name": c.Name, "value": c.Address})
		default:
			m.emit(t, events.SettingChanged, map[string]any{"name": c.Name, "value": c.Values[0].String()})
		}
	}
	slog.Info("setting updated", "asset_manager", m.address, "method", upd.Method, "version", m.params.Version())
	return nil
}

// Pause stops new minting. Pausing a paused manager keeps the original
// pause time.
func (m *Manager) Pause(ctx context.Context, caller string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "Pause")
	defer func() { m.finish(t, err) }()

	if err := m.onlyController(caller); err != nil {
		return err
	}
	if m.paused {
		return nil
	}
	m.paused, m.pausedAt = true, t.now
	m.emit(t, events.Paused, map[string]any{"timestamp": t.now.Unix()})
	slog.Info("asset manager paused", "asset_manager", m.address)
	return nil
}

// Unpause resumes minting unless the manager was terminated.
func (m *Manager) Unpause(ctx context.Context, caller string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "Unpause")
	defer func() { m.finish(t, err) }()

	if err := m.onlyController(caller); err != nil {
		return err
	}
	if m.terminated {
		return ErrTerminated
	}
	if !m.paused {
		return nil
	}
	m.paused, m.pausedAt = false, time.Time{}
	m.emit(t, events.Unpaused, nil)
	slog.Info("asset manager unpaused", "asset_manager", m.address)
	return nil
}

// Terminate permanently stops the manager. It must have been paused for
// at least MinPauseBeforeTerminate.
func (m *Manager) Terminate(ctx context.Context, caller string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "Terminate")
	defer func() { m.finish(t, err) }()

	if err := m.checkTerminate(caller, t.now); err != nil {
		return err
	}
	if m.terminated {
		return nil
	}
	m.terminated = true
	m.emit(t, events.Terminated, map[string]any{"timestamp": t.now.Unix()})
	slog.Info("asset manager terminated", "asset_manager", m.address)
	return nil
}

// CanTerminate reports whether Terminate by caller would succeed now.
func (m *Manager) CanTerminate(_ context.Context, caller string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkTerminate(caller, m.clock.Now())
}

func (m *Manager) checkTerminate(caller string, now time.Time) error {
	if err := m.onlyController(caller); err != nil {
		return err
	}
	if m.terminated {
		return nil
	}
	if !m.paused || now.Sub(m.pausedAt) < MinPauseBeforeTerminate {
		return ErrNotPausedEnough
	}
	return nil
}

// RefreshPriceFeeds re-resolves the price symbols of every collateral type.
func (m *Manager) RefreshPriceFeeds(ctx context.Context, caller string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.begin(ctx, "RefreshPriceFeeds")
	defer func() { m.finish(t, err) }()

	if err := m.onlyController(caller); err != nil {
		return err
	}
	var symbols []string
	for _, ct := range m.collaterals {
		symbols = append(symbols, ct.AssetFtsoSymbol)
		if !ct.IsDirectPeg() {
			symbols = append(symbols, ct.TokenFtsoSymbol)
		}
	}
	for _, s := range symbols {
		if err := m.prices.Resolve(t.ctx, s); err != nil {
			return err
		}
	}
	m.emit(t, events.PriceFeedsRefreshed, map[string]any{"symbols": symbols})
	return nil
}

// --- views ---

// State is the lifecycle state of the manager.
type State struct {
	Address         string    `json:"address"`
	Controller      string    `json:"controller,omitempty"`
	Paused          bool      `json:"paused"`
	PausedAt        time.Time `json:"paused_at,omitempty"`
	Terminated      bool      `json:"terminated"`
	SettingsVersion uint64    `json:"settings_version"`
	UnderlyingBlock uint64    `json:"current_underlying_block"`
	UnderlyingTime  int64     `json:"current_underlying_timestamp"`
	TotalSupplyUBA  string    `json:"total_supply_uba"`
	Agents          int       `json:"agents"`
	Tickets         int       `json:"redemption_tickets"`
}

// State returns the manager lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{
		Address:         m.address,
		Controller:      m.controller,
		Paused:          m.paused,
		PausedAt:        m.pausedAt,
		Terminated:      m.terminated,
		SettingsVersion: m.params.Version(),
		UnderlyingBlock: m.underlyingBlock,
		UnderlyingTime:  m.underlyingTime,
		TotalSupplyUBA:  m.totalSupply().String(),
		Agents:          len(m.agents),
		Tickets:         len(m.tickets),
	}
}

// Settings returns a copy of the current parameters.
func (m *Manager) Settings() settings.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params.Settings()
}

// Parameters lists every mutable parameter with its setter and last update.
func (m *Manager) Parameters() []settings.Parameter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params.Parameters()
}

// Collaterals lists the accepted collateral types.
func (m *Manager) Collaterals() []model.CollateralType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.CollateralType, 0, len(m.collaterals))
	for _, ct := range m.collaterals {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}
