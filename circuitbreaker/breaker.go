// Package circuitbreaker guards the operation classes a task step depends
// on (navigation, element resolution, interaction). Breakers are shared
// across tasks so repeated failures in one task protect the others.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/types"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config controls breaker behavior.
type Config struct {
	// Threshold is the consecutive failure count that opens the breaker.
	Threshold int
	// ResetTimeout is how long an open breaker waits before admitting a
	// trial call.
	ResetTimeout time.Duration
	// HalfOpenMaxCalls bounds concurrent trial calls while half-open.
	HalfOpenMaxCalls int
	// OnStateChange is invoked outside the breaker lock.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns breaker defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Breaker is a circuit breaker for one operation class.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCalls int
}

// New creates a closed breaker.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		state:  StateClosed,
		logger: logger.With(zap.String("component", "circuit_breaker"), zap.String("breaker", name)),
	}
}

// Execute runs fn under the breaker. When open it fails fast with a
// CIRCUIT_OPEN error and never invokes fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}
	err := fn(ctx)
	b.afterCall(err)
	return err
}

// State reports the current state, applying the open-to-half-open
// transition if the reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return types.Errorf(types.ErrCircuitOpen, "%s circuit open", b.name)
		}
		b.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			b.mu.Unlock()
			return types.Errorf(types.ErrCircuitOpen, "%s circuit half-open, trial in flight", b.name)
		}
		b.halfOpenCalls++
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	return nil
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.halfOpenCalls--
	}

	if err == nil {
		b.onSuccess()
		return
	}
	b.onFailure()
}

// onSuccess runs under b.mu.
func (b *Breaker) onSuccess() {
	b.failures = 0
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
}

// onFailure runs under b.mu.
func (b *Breaker) onFailure() {
	b.failures++
	switch b.state {
	case StateHalfOpen:
		// Trial call failed, back to open for a fresh reset window.
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.cfg.Threshold {
			b.transition(StateOpen)
		}
	}
}

// transition runs under b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateOpen {
		b.openedAt = time.Now()
	}
	if to != StateHalfOpen {
		b.halfOpenCalls = 0
	}

	b.logger.Info("circuit state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("failures", b.failures))

	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(b.name, from, to)
	}
}

// Group lazily creates one breaker per operation class. Lookups by the
// same name always return the same breaker.
type Group struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates a breaker group sharing one config.
func NewGroup(cfg Config, logger *zap.Logger) *Group {
	return &Group{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for an operation class, creating it on first use.
func (g *Group) Get(name string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[name]
	if !ok {
		b = New(name, g.cfg, g.logger)
		g.breakers[name] = b
	}
	return b
}

// States snapshots every breaker's state, for stats endpoints.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]State, len(g.breakers))
	for name, b := range g.breakers {
		out[name] = b.State()
	}
	return out
}
