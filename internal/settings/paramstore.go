package settings

import (
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"
)

// ParameterStore is the versioned parameter set of one asset manager with
// the last successful update time of every setter. It is not safe for
// concurrent use; the owning asset manager serialises access.
type ParameterStore struct {
	settings   Settings
	version    uint64
	lastUpdate map[string]time.Time
}

// Snapshot is the persisted form of a ParameterStore.
type Snapshot struct {
	Version    uint64               `json:"version"`
	Settings   Settings             `json:"settings"`
	LastUpdate map[string]time.Time `json:"last_update,omitempty"`
}

// NewParameterStore validates s and wraps it as version 1.
func NewParameterStore(s Settings) (*ParameterStore, error) {
	return RestoreParameterStore(Snapshot{Version: 1, Settings: s})
}

// RestoreParameterStore resumes a persisted parameter set. Later updates
// continue its version sequence and the update frequency limit still counts
// from the recorded setter times.
func RestoreParameterStore(snap Snapshot) (*ParameterStore, error) {
	if err := snap.Settings.Validate(); err != nil {
		return nil, err
	}
	version := snap.Version
	if version == 0 {
		version = 1
	}
	lastUpdate := make(map[string]time.Time, len(snap.LastUpdate))
	for method, at := range snap.LastUpdate {
		if _, ok := setters[method]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSetting, method)
		}
		lastUpdate[method] = at
	}
	return &ParameterStore{
		settings:   snap.Settings.Clone(),
		version:    version,
		lastUpdate: lastUpdate,
	}, nil
}

// Snapshot captures the parameters, version and setter times for
// persistence.
func (p *ParameterStore) Snapshot() Snapshot {
	last := make(map[string]time.Time, len(p.lastUpdate))
	for method, at := range p.lastUpdate {
		last[method] = at
	}
	return Snapshot{Version: p.version, Settings: p.settings.Clone(), LastUpdate: last}
}

// Settings returns a copy of the current parameters.
func (p *ParameterStore) Settings() Settings {
	return p.settings.Clone()
}

// Version increments on every applied update.
func (p *ParameterStore) Version() uint64 {
	return p.version
}

// LastUpdate returns when method last succeeded.
func (p *ParameterStore) LastUpdate(method string) (time.Time, bool) {
	t, ok := p.lastUpdate[method]
	return t, ok
}

// Validate checks upd at time now without applying it.
func (p *ParameterStore) Validate(upd Update, now time.Time) error {
	_, _, err := p.prepare(upd, now)
	return err
}

// Apply validates and applies upd. On error nothing changes.
func (p *ParameterStore) Apply(upd Update, now time.Time) ([]Change, error) {
	next, changes, err := p.prepare(upd, now)
	if err != nil {
		return nil, err
	}
	p.settings = next
	p.version++
	p.lastUpdate[upd.Method] = now
	return changes, nil
}

func (p *ParameterStore) prepare(upd Update, now time.Time) (Settings, []Change, error) {
	st, ok := setters[upd.Method]
	if !ok {
		return Settings{}, nil, fmt.Errorf("%w: %s", ErrUnknownSetting, upd.Method)
	}
	if st.rateLimited {
		if last, ok := p.lastUpdate[upd.Method]; ok {
			minGap := time.Duration(p.settings.MinUpdateRepeatTimeSeconds) * time.Second
			if now.Sub(last) < minGap {
				return Settings{}, nil, fmt.Errorf("%w: %s last updated %s ago", ErrTooCloseToPreviousUpdate, upd.Method, now.Sub(last))
			}
		}
	}
	scratch := p.settings.Clone()
	changes, err := st.run(st, &scratch, upd)
	if err != nil {
		return Settings{}, nil, err
	}
	return scratch, changes, nil
}

// Parameter is one named parameter with the last update of its setter.
type Parameter struct {
	Name       string    `json:"name"`
	Value      string    `json:"value"`
	Setter     string    `json:"setter"`
	LastUpdate time.Time `json:"last_update,omitempty"`
}

// Parameters lists every governed parameter, sorted by name.
func (p *ParameterStore) Parameters() []Parameter {
	var out []Parameter
	for _, st := range setters {
		last := p.lastUpdate[st.method]
		switch st.method {
		case SetLiquidationCollateralFactorBips:
			out = append(out, Parameter{Name: "liquidationCollateralFactorBIPS",
				Value: formatFactors(p.settings.LiquidationCollateralFactorBIPS), Setter: st.method, LastUpdate: last})
		case SetWhitelist:
			out = append(out, Parameter{Name: "agentWhitelist", Value: p.settings.AgentWhitelist, Setter: st.method, LastUpdate: last})
		default:
			for _, f := range st.fields {
				s := p.settings
				out = append(out, Parameter{Name: f.name, Value: f.get(&s).String(), Setter: st.method, LastUpdate: last})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Uints is a convenience for building Update values.
func Uints(vs ...uint64) []sdkmath.Uint {
	out := make([]sdkmath.Uint, len(vs))
	for i, v := range vs {
		out[i] = sdkmath.NewUint(v)
	}
	return out
}
