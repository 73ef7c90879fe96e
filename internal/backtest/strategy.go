package backtest

import (
	"sort"
	"time"

	"callisto/internal/domain"
)

// Strategy is the decision-making extension point of the engine. The engine
// invokes OnInit once at the start of a run and OnBar once per decision bar;
// both may call back into the engine's Trade primitive and observe engine
// state through its accessors.
//
// Both hooks are optional in spirit: embed NopStrategy to implement only one.
type Strategy interface {
	// OnInit runs before the first OnBar of a run. Execution prices for the
	// first window timestamp are already in place, so opening positions here
	// fills at the first tradable open.
	OnInit(e *Engine) error

	// OnBar runs once per decision bar with the rows for that timestamp, one
	// per symbol. The data visible here is at most as recent as ts; any trade
	// issued fills at the open of the timestamp after ts.
	OnBar(e *Engine, bars map[string]domain.Bar, ts time.Time) error
}

// Compile-time interface checks.
var _ Strategy = NopStrategy{}
var _ Strategy = Funcs{}

// NopStrategy implements Strategy with no-op hooks. Embed it to override
// only the hooks a strategy needs.
type NopStrategy struct{}

// OnInit does nothing.
func (NopStrategy) OnInit(*Engine) error { return nil }

// OnBar does nothing.
func (NopStrategy) OnBar(*Engine, map[string]domain.Bar, time.Time) error { return nil }

// Funcs adapts a pair of function values to the Strategy interface. Nil
// fields behave as no-ops.
type Funcs struct {
	Init func(e *Engine) error
	Bar  func(e *Engine, bars map[string]domain.Bar, ts time.Time) error
}

// OnInit calls Init when set.
func (f Funcs) OnInit(e *Engine) error {
	if f.Init == nil {
		return nil
	}
	return f.Init(e)
}

// OnBar calls Bar when set.
func (f Funcs) OnBar(e *Engine, bars map[string]domain.Bar, ts time.Time) error {
	if f.Bar == nil {
		return nil
	}
	return f.Bar(e, bars, ts)
}

// Factory constructs a Strategy from named numeric parameters, typically
// sourced from configuration.
type Factory func(params map[string]float64) Strategy

// Registry holds a named collection of strategy factories for lookup and
// enumeration.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a strategy factory under the given name, replacing any
// previous registration.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Get retrieves a strategy factory by name. The second return value
// indicates whether the factory was found.
func (r *Registry) Get(name string) (Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
