// Package governance implements the controller that changes parameters of
// many asset managers at once. Risky changes are timelocked and executed
// later by an executor; pause, unpause and price feed refreshes apply
// immediately.
package governance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atmx/fasset-manager/internal/apperr"
	"github.com/atmx/fasset-manager/internal/clock"
	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/settings"
)

var (
	ErrOnlyGovernance          = apperr.New(apperr.KindAuthorization, "governance: only governance")
	ErrOnlyExecutor            = apperr.New(apperr.KindAuthorization, "governance: only executor")
	ErrNotAllowedYet           = apperr.New(apperr.KindAuthorization, "governance: timelock not allowed yet")
	ErrUnknownSelector         = apperr.New(apperr.KindNotFound, "governance: unknown selector")
	ErrAlreadyExecuted         = apperr.New(apperr.KindStateConflict, "governance: already executed")
	ErrAssetManagerNotManaged  = apperr.New(apperr.KindValidation, "governance: asset manager not managed")
	ErrUnknownAssetManager     = apperr.New(apperr.KindNotFound, "governance: unknown asset manager")
	ErrInvalidControllerConfig = apperr.New(apperr.KindValidation, "governance: invalid controller config")
)

// Manager is what the controller needs from an asset manager.
type Manager interface {
	Address() string
	ValidateSettingUpdate(ctx context.Context, caller string, upd settings.Update) error
	ApplySettingUpdate(ctx context.Context, caller string, upd settings.Update) error
	Pause(ctx context.Context, caller string) error
	Unpause(ctx context.Context, caller string) error
	CanTerminate(ctx context.Context, caller string) error
	Terminate(ctx context.Context, caller string) error
	RefreshPriceFeeds(ctx context.Context, caller string) error
	AttachController(ctx context.Context, controller string, attached bool) error
}

// Config wires a Controller.
type Config struct {
	Address    string
	Governance string
	Executors  []string
	Timelock   time.Duration
	Clock      clock.Clock
	Publisher  events.Publisher
}

// Controller holds the managed asset managers and the pending timelocked
// calls.
type Controller struct {
	mu sync.Mutex

	address    string
	governance string
	executors  map[string]bool
	timelock   time.Duration
	clock      clock.Clock
	publisher  events.Publisher

	// known holds every manager the process created; managed is the
	// ordered subset governed by this controller.
	known   map[string]Manager
	managed []string
	pending map[string]*TimelockedCall
}

// New creates a controller with no managed asset managers.
func New(cfg Config) (*Controller, error) {
	if cfg.Address == "" || cfg.Governance == "" {
		return nil, fmt.Errorf("%w: address and governance are required", ErrInvalidControllerConfig)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Multi{}
	}
	c := &Controller{
		address:    cfg.Address,
		governance: cfg.Governance,
		executors:  make(map[string]bool, len(cfg.Executors)),
		timelock:   cfg.Timelock,
		clock:      cfg.Clock,
		publisher:  cfg.Publisher,
		known:      make(map[string]Manager),
		pending:    make(map[string]*TimelockedCall),
	}
	for _, e := range cfg.Executors {
		c.executors[normalize(e)] = true
	}
	return c, nil
}

func normalize(addr string) string { return strings.ToLower(addr) }

// Address identifies the controller; managers accept calls from it once
// attached.
func (c *Controller) Address() string { return c.address }

// Register makes m known to the controller so a governance call can add
// it. Registering does not manage it.
func (c *Controller) Register(m Manager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known[normalize(m.Address())] = m
}

// Bootstrap manages the given registered managers without a timelock. It
// is meant for process start-up, before any governance call.
func (c *Controller) Bootstrap(ctx context.Context, addresses ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, addr := range addresses {
		if err := c.addManager(ctx, addr); err != nil {
			return err
		}
	}
	return nil
}

// --- call scope ---

type call struct {
	ctx    context.Context
	span   trace.Span
	now    time.Time
	events []events.Event
}

func (c *Controller) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) *call {
	ctx, span := otel.Tracer("governance").Start(ctx, "governance."+op, trace.WithAttributes(attrs...))
	return &call{ctx: ctx, span: span, now: c.clock.Now()}
}

func (c *Controller) emit(k *call, name string, args map[string]any) {
	k.events = append(k.events, events.New(c.address, name, k.now, args))
}

func (c *Controller) finish(k *call, err error) {
	defer k.span.End()
	if err != nil {
		k.span.RecordError(err)
		k.span.SetStatus(codes.Error, "call reverted")
		return
	}
	if len(k.events) > 0 {
		c.publisher.Publish(k.ctx, k.events)
	}
}

func (c *Controller) onlyGovernance(caller string) error {
	if normalize(caller) != normalize(c.governance) {
		return ErrOnlyGovernance
	}
	return nil
}

func (c *Controller) isManaged(addr string) bool {
	addr = normalize(addr)
	for _, a := range c.managed {
		if a == addr {
			return true
		}
	}
	return false
}

// resolve maps every target to a managed manager, failing before any
// manager is touched.
func (c *Controller) resolve(targets []string) ([]Manager, error) {
	out := make([]Manager, 0, len(targets))
	for _, t := range targets {
		if !c.isManaged(t) {
			return nil, fmt.Errorf("%w: %s", ErrAssetManagerNotManaged, t)
		}
		out = append(out, c.known[normalize(t)])
	}
	return out, nil
}

// --- setters ---

// SetSetting changes a parameter on every target. Timelocked setters are
// recorded and returned; the others apply immediately and return nil.
func (c *Controller) SetSetting(ctx context.Context, caller string, targets []string, upd settings.Update) (tl *TimelockedCall, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.begin(ctx, "SetSetting", attribute.String("method", upd.Method), attribute.Int("targets", len(targets)))
	defer func() { c.finish(k, err) }()

	if err := c.onlyGovernance(caller); err != nil {
		return nil, err
	}
	st, ok := settings.Lookup(upd.Method)
	if !ok {
		return nil, fmt.Errorf("%w: %s", settings.ErrUnknownSetting, upd.Method)
	}
	upd.Method = st.Method
	if st.Timelocked {
		return c.propose(k, Call{Method: st.Method, Targets: targets, Update: upd})
	}
	return nil, c.applySetting(k, targets, upd)
}

// applySetting validates upd on all targets, then applies it to each.
func (c *Controller) applySetting(k *call, targets []string, upd settings.Update) error {
	if len(targets) == 0 {
		return nil
	}
	managers, err := c.resolve(targets)
	if err != nil {
		return err
	}
	for _, m := range managers {
		if err := m.ValidateSettingUpdate(k.ctx, c.address, upd); err != nil {
			return fmt.Errorf("%s: %w", m.Address(), err)
		}
	}
	for _, m := range managers {
		if err := m.ApplySettingUpdate(k.ctx, c.address, upd); err != nil {
			slog.Error("apply validated setting", "asset_manager", m.Address(), "method", upd.Method, "error", err)
			return fmt.Errorf("%s: %w", m.Address(), err)
		}
	}
	slog.Info("setting applied", "method", upd.Method, "asset_managers", len(managers))
	return nil
}

// --- immediate calls ---

// Pause pauses every target.
func (c *Controller) Pause(ctx context.Context, caller string, targets []string) error {
	return c.immediate(ctx, "Pause", caller, targets, c.onlyGovernance, nil, Manager.Pause)
}

// Unpause unpauses every target.
func (c *Controller) Unpause(ctx context.Context, caller string, targets []string) error {
	return c.immediate(ctx, "Unpause", caller, targets, c.onlyGovernance, nil, Manager.Unpause)
}

// Terminate terminates every target. All targets must be terminable.
func (c *Controller) Terminate(ctx context.Context, caller string, targets []string) error {
	return c.immediate(ctx, "Terminate", caller, targets, c.onlyGovernance, Manager.CanTerminate, Manager.Terminate)
}

// RefreshFtsoIndexes re-resolves the price feeds of every target. Governance
// and executors may call it.
func (c *Controller) RefreshFtsoIndexes(ctx context.Context, caller string, targets []string) error {
	auth := func(caller string) error {
		if c.executors[normalize(caller)] {
			return nil
		}
		return c.onlyGovernance(caller)
	}
	return c.immediate(ctx, "RefreshFtsoIndexes", caller, targets, auth, nil, Manager.RefreshPriceFeeds)
}

func (c *Controller) immediate(
	ctx context.Context,
	op, caller string,
	targets []string,
	auth func(string) error,
	check, apply func(Manager, context.Context, string) error,
) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.begin(ctx, op, attribute.Int("targets", len(targets)))
	defer func() { c.finish(k, err) }()

	if err := auth(caller); err != nil {
		return err
	}
	managers, err := c.resolve(targets)
	if err != nil {
		return err
	}
	if check != nil {
		for _, m := range managers {
			if err := check(m, k.ctx, c.address); err != nil {
				return fmt.Errorf("%s: %w", m.Address(), err)
			}
		}
	}
	for _, m := range managers {
		if err := apply(m, k.ctx, c.address); err != nil {
			return fmt.Errorf("%s: %w", m.Address(), err)
		}
	}
	slog.Info("governance call applied", "op", op, "asset_managers", len(managers))
	return nil
}

// --- managed set ---

// AddAssetManager proposes managing addr.
func (c *Controller) AddAssetManager(ctx context.Context, caller, addr string) (*TimelockedCall, error) {
	return c.proposeManagerCall(ctx, caller, MethodAddAssetManager, addr)
}

// RemoveAssetManager proposes releasing addr.
func (c *Controller) RemoveAssetManager(ctx context.Context, caller, addr string) (*TimelockedCall, error) {
	return c.proposeManagerCall(ctx, caller, MethodRemoveAssetManager, addr)
}

func (c *Controller) proposeManagerCall(ctx context.Context, caller, method, addr string) (tl *TimelockedCall, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.begin(ctx, method, attribute.String("asset_manager", addr))
	defer func() { c.finish(k, err) }()

	if err := c.onlyGovernance(caller); err != nil {
		return nil, err
	}
	return c.propose(k, Call{Method: method, Manager: addr})
}

func (c *Controller) addManager(ctx context.Context, addr string) error {
	if c.isManaged(addr) {
		return nil
	}
	m, ok := c.known[normalize(addr)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAssetManager, addr)
	}
	if err := m.AttachController(ctx, c.address, true); err != nil {
		return err
	}
	c.managed = append(c.managed, normalize(addr))
	return nil
}

func (c *Controller) removeManager(ctx context.Context, addr string) error {
	addr = normalize(addr)
	for i, a := range c.managed {
		if a != addr {
			continue
		}
		if err := c.known[a].AttachController(ctx, c.address, false); err != nil {
			return err
		}
		c.managed = append(c.managed[:i], c.managed[i+1:]...)
		return nil
	}
	return nil
}

// --- timelock ---

// propose records call under its selector, replacing a pending call with
// the same selector.
func (c *Controller) propose(k *call, cl Call) (*TimelockedCall, error) {
	selector, encoded, err := encode(cl)
	if err != nil {
		return nil, err
	}
	tl := &TimelockedCall{
		Selector:     selector,
		EncodedCall:  encoded,
		AllowedAfter: k.now.Add(c.timelock),
		Method:       cl.Method,
		TargetCount:  len(cl.Targets),
	}
	c.pending[selector] = tl
	c.emit(k, events.GovernanceCallTimelocked, map[string]any{
		"selector":              selector,
		"allowedAfterTimestamp": tl.AllowedAfter.Unix(),
		"encodedCall":           encoded,
	})
	slog.Info("governance call timelocked", "method", cl.Method, "selector", selector, "allowed_after", tl.AllowedAfter)
	out := *tl
	return &out, nil
}

// ExecuteGovernanceCall runs the timelocked call stored under selector. A
// failing call stays pending.
func (c *Controller) ExecuteGovernanceCall(ctx context.Context, caller, selector string) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.begin(ctx, "ExecuteGovernanceCall", attribute.String("selector", selector))
	defer func() { c.finish(k, err) }()

	if !c.executors[normalize(caller)] {
		return ErrOnlyExecutor
	}
	tl, ok := c.pending[strings.ToLower(selector)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSelector, selector)
	}
	if tl.Executed {
		return ErrAlreadyExecuted
	}
	if k.now.Before(tl.AllowedAfter) {
		return fmt.Errorf("%w: allowed after %s", ErrNotAllowedYet, tl.AllowedAfter.Format(time.RFC3339))
	}
	cl, err := decode(tl.EncodedCall)
	if err != nil {
		return err
	}
	switch cl.Method {
	case MethodAddAssetManager:
		added := !c.isManaged(cl.Manager)
		if err := c.addManager(k.ctx, cl.Manager); err != nil {
			return err
		}
		if added {
			c.emit(k, events.AssetManagerAdded, map[string]any{"assetManager": cl.Manager})
		}
	case MethodRemoveAssetManager:
		removed := c.isManaged(cl.Manager)
		if err := c.removeManager(k.ctx, cl.Manager); err != nil {
			return err
		}
		if removed {
			c.emit(k, events.AssetManagerRemoved, map[string]any{"assetManager": cl.Manager})
		}
	default:
		if err := c.applySetting(k, cl.Targets, cl.Update); err != nil {
			return err
		}
	}
	tl.Executed, tl.ExecutedAt = true, k.now
	c.emit(k, events.GovernanceCallExecuted, map[string]any{"selector": tl.Selector})
	slog.Info("governance call executed", "method", cl.Method, "selector", tl.Selector)
	return nil
}

// --- views ---

// Governance returns the governance address.
func (c *Controller) Governance() string { return c.governance }

// IsExecutor reports whether addr may execute timelocked calls.
func (c *Controller) IsExecutor(addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executors[normalize(addr)]
}

// AssetManagers lists the managed asset managers in the order they were
// added.
func (c *Controller) AssetManagers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.managed...)
}

// IsAssetManager reports whether addr is managed.
func (c *Controller) IsAssetManager(addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isManaged(addr)
}

// Calls lists the timelocked calls, newest deadline last.
func (c *Controller) Calls() []TimelockedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TimelockedCall, 0, len(c.pending))
	for _, tl := range c.pending {
		out = append(out, *tl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AllowedAfter.Before(out[j].AllowedAfter) })
	return out
}
