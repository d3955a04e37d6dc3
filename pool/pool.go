// Package pool manages a bounded set of browser sessions. Callers lease a
// session, run work against its page, and release it with a health verdict.
// Admission is FIFO through a weighted semaphore so waiters are served in
// arrival order.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/webpilot-ai/webpilot/config"
	"github.com/webpilot-ai/webpilot/driver"
	"github.com/webpilot-ai/webpilot/types"
)

// sessionState tracks a session through its lifecycle.
type sessionState int

const (
	stateIdle sessionState = iota
	stateInUse
	stateClosed
)

// session is one pooled browser with its health bookkeeping.
type session struct {
	id          string
	page        driver.Page
	state       sessionState
	errorCount  int // consecutive errors, reset on a clean release
	tasksServed int
	createdAt   time.Time
	lastUsedAt  time.Time
}

// Lease grants exclusive use of one session until released.
type Lease struct {
	s        *session
	pool     *Pool
	released bool
}

// ID identifies the leased session.
func (l *Lease) ID() string { return l.s.id }

// Page is the leased session's browser page.
func (l *Lease) Page() driver.Page { return l.s.page }

// Stats is a point-in-time pool snapshot.
type Stats struct {
	MaxBrowsers   int   `json:"max_browsers"`
	Idle          int   `json:"idle"`
	InUse         int   `json:"in_use"`
	TotalCreated  int64 `json:"total_created"`
	TotalAcquired int64 `json:"total_acquired"`
	ForcedCloses  int64 `json:"forced_closes"`
}

// Pool is a bounded browser session pool.
type Pool struct {
	cfg    config.PoolConfig
	driver driver.Driver
	logger *zap.Logger
	sem    *semaphore.Weighted

	mu     sync.Mutex
	idle   []*session
	inUse  map[string]*session
	closed bool

	totalCreated  int64
	totalAcquired int64
	forcedCloses  int64
}

// New creates an empty pool; sessions are created lazily on demand.
func New(cfg config.PoolConfig, drv driver.Driver, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBrowsers <= 0 {
		cfg.MaxBrowsers = 1
	}
	return &Pool{
		cfg:    cfg,
		driver: drv,
		logger: logger.With(zap.String("component", "browser_pool")),
		sem:    semaphore.NewWeighted(int64(cfg.MaxBrowsers)),
		inUse:  make(map[string]*session),
	}
}

// Acquire leases a session, reusing an idle one when available and creating
// a new one otherwise. It blocks until capacity frees up, the configured
// acquire timeout elapses, or ctx is canceled.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, types.NewError(types.ErrPoolClosed, "pool is shut down")
	}
	p.mu.Unlock()

	acqCtx := ctx
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}
	if err := p.sem.Acquire(acqCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrBrowserUnavailable, "acquire canceled").WithCause(ctx.Err())
		}
		return nil, types.Errorf(types.ErrBrowserUnavailable,
			"no browser available within %s", p.cfg.AcquireTimeout).WithCause(err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, types.NewError(types.ErrPoolClosed, "pool is shut down")
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		s.state = stateInUse
		s.lastUsedAt = time.Now()
		s.tasksServed++
		p.inUse[s.id] = s
		p.totalAcquired++
		p.mu.Unlock()

		p.logger.Debug("reusing idle session", zap.String("session_id", s.id))
		return &Lease{s: s, pool: p}, nil
	}
	p.mu.Unlock()

	// Slot reserved but no idle session: create one.
	page, err := p.driver.OpenPage(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, types.NewError(types.ErrBrowserUnavailable, "failed to create browser session").WithCause(err)
	}

	s := &session{
		id:         uuid.NewString(),
		page:       page,
		state:      stateInUse,
		createdAt:  time.Now(),
		lastUsedAt: time.Now(),
	}
	s.tasksServed++

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		page.Close()
		return nil, types.NewError(types.ErrPoolClosed, "pool is shut down")
	}
	p.inUse[s.id] = s
	p.totalCreated++
	p.totalAcquired++
	p.mu.Unlock()

	p.logger.Info("created browser session", zap.String("session_id", s.id))
	return &Lease{s: s, pool: p}, nil
}

// Release returns a leased session. Unhealthy sessions are closed and
// destroyed; healthy ones are also closed once their consecutive error
// count has reached the configured threshold. Releasing twice is a no-op.
func (p *Pool) Release(l *Lease, healthy bool) {
	if l == nil || l.released {
		return
	}
	l.released = true
	s := l.s

	p.mu.Lock()
	delete(p.inUse, s.id)

	destroy := !healthy || p.closed
	if !destroy && p.cfg.ErrorThreshold > 0 && s.errorCount >= p.cfg.ErrorThreshold {
		p.logger.Warn("session exceeded error threshold, closing",
			zap.String("session_id", s.id),
			zap.Int("errors", s.errorCount))
		p.forcedCloses++
		destroy = true
	}

	if destroy {
		s.state = stateClosed
		p.mu.Unlock()
		if err := s.page.Close(); err != nil {
			p.logger.Warn("session close failed", zap.String("session_id", s.id), zap.Error(err))
		}
		p.logger.Info("destroyed browser session",
			zap.String("session_id", s.id),
			zap.Bool("healthy", healthy),
			zap.Int("tasks_served", s.tasksServed))
	} else {
		s.state = stateIdle
		s.errorCount = 0
		s.lastUsedAt = time.Now()
		p.idle = append(p.idle, s)
		p.mu.Unlock()
	}

	p.sem.Release(1)
}

// MarkError records one failure against the leased session. The count is
// consecutive: a clean release resets it.
func (p *Pool) MarkError(l *Lease) {
	if l == nil || l.released {
		return
	}
	p.mu.Lock()
	l.s.errorCount++
	n := l.s.errorCount
	p.mu.Unlock()
	p.logger.Debug("session error recorded",
		zap.String("session_id", l.s.id),
		zap.Int("consecutive_errors", n))
}

// Stats snapshots the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaxBrowsers:   p.cfg.MaxBrowsers,
		Idle:          len(p.idle),
		InUse:         len(p.inUse),
		TotalCreated:  p.totalCreated,
		TotalAcquired: p.totalAcquired,
		ForcedCloses:  p.forcedCloses,
	}
}

// Shutdown drains the pool: new acquires fail with POOL_CLOSED, idle
// sessions close immediately, and in-use sessions get the grace period to
// be released before they are force-closed.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, s := range idle {
		s.state = stateClosed
		s.page.Close()
	}
	p.logger.Info("pool draining", zap.Int("idle_closed", len(idle)))

	deadline := time.Now().Add(p.cfg.ShutdownGrace)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		remaining := len(p.inUse)
		p.mu.Unlock()
		if remaining == 0 {
			p.logger.Info("pool drained cleanly")
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return p.forceClose()
		case <-ticker.C:
		}
	}
	return p.forceClose()
}

// forceClose destroys sessions still leased after the grace period.
func (p *Pool) forceClose() error {
	p.mu.Lock()
	stuck := make([]*session, 0, len(p.inUse))
	for _, s := range p.inUse {
		stuck = append(stuck, s)
	}
	p.inUse = make(map[string]*session)
	p.forcedCloses += int64(len(stuck))
	p.mu.Unlock()

	for _, s := range stuck {
		s.state = stateClosed
		s.page.Close()
	}
	if len(stuck) > 0 {
		p.logger.Warn("force-closed sessions still in use", zap.Int("count", len(stuck)))
	}
	return nil
}
