package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/config"
	"github.com/webpilot-ai/webpilot/driver"
	"github.com/webpilot-ai/webpilot/types"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakePage struct {
	closed atomic.Bool
}

func (f *fakePage) Navigate(ctx context.Context, url string) error           { return nil }
func (f *fakePage) Click(ctx context.Context, selector string) error        { return nil }
func (f *fakePage) Type(ctx context.Context, selector, text string) error   { return nil }
func (f *fakePage) WaitVisible(ctx context.Context, sel string, d time.Duration) error {
	return nil
}
func (f *fakePage) Extract(ctx context.Context, sel, dataType string) (string, error) {
	return "", nil
}
func (f *fakePage) CaptureStructure(ctx context.Context) (*driver.PageStructure, error) {
	return &driver.PageStructure{}, nil
}
func (f *fakePage) CaptureImage(ctx context.Context) (*driver.Screenshot, error) {
	return &driver.Screenshot{}, nil
}
func (f *fakePage) MarkElements(ctx context.Context, max int) ([]driver.PageElement, error) {
	return nil, nil
}
func (f *fakePage) ClearMarks(ctx context.Context) error { return nil }
func (f *fakePage) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeDriver struct {
	mu       sync.Mutex
	opened   int
	failOpen bool
	pages    []*fakePage
}

func (f *fakeDriver) OpenPage(ctx context.Context) (driver.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpen {
		return nil, errors.New("chrome refused to start")
	}
	f.opened++
	p := &fakePage{}
	f.pages = append(f.pages, p)
	return p, nil
}

func (f *fakeDriver) Close() error { return nil }

func (f *fakeDriver) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func newTestPool(t *testing.T, cfg config.PoolConfig) (*Pool, *fakeDriver) {
	t.Helper()
	drv := &fakeDriver{}
	p := New(cfg, drv, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Shutdown(ctx)
	})
	return p, drv
}

// ---------------------------------------------------------------------------
// Acquire / Release
// ---------------------------------------------------------------------------

func TestAcquireCreatesAndReusesSessions(t *testing.T) {
	p, drv := newTestPool(t, config.PoolConfig{MaxBrowsers: 2, AcquireTimeout: time.Second})
	ctx := context.Background()

	l1, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(l1, true)

	l2, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer p.Release(l2, true)

	assert.Equal(t, l1.ID(), l2.ID(), "healthy session should be reused")
	assert.Equal(t, 1, drv.openCount())
}

func TestPoolNeverExceedsCapacity(t *testing.T) {
	p, drv := newTestPool(t, config.PoolConfig{MaxBrowsers: 2, AcquireTimeout: 2 * time.Second})
	ctx := context.Background()

	var wg sync.WaitGroup
	var peak atomic.Int64
	var current atomic.Int64
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := p.Acquire(ctx)
			require.NoError(t, err)
			cur := current.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			p.Release(l, true)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.Equal(t, 2, drv.openCount(), "capacity 2 must create at most 2 sessions")
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p, _ := newTestPool(t, config.PoolConfig{MaxBrowsers: 1, AcquireTimeout: 5 * time.Second})
	ctx := context.Background()

	l1, err := p.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan *Lease, 1)
	go func() {
		l, err := p.Acquire(ctx)
		require.NoError(t, err)
		got <- l
	}()

	select {
	case <-got:
		t.Fatal("second acquire must block while the only session is leased")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(l1, true)

	select {
	case l2 := <-got:
		p.Release(l2, true)
	case <-time.After(time.Second):
		t.Fatal("waiter was not served after release")
	}
}

func TestAcquireTimesOut(t *testing.T) {
	p, _ := newTestPool(t, config.PoolConfig{MaxBrowsers: 1, AcquireTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	l, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer p.Release(l, true)

	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, types.ErrBrowserUnavailable, types.CodeOf(err))
}

func TestAcquireCreationFailure(t *testing.T) {
	drv := &fakeDriver{failOpen: true}
	p := New(config.PoolConfig{MaxBrowsers: 1, AcquireTimeout: time.Second}, drv, zap.NewNop())

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrBrowserUnavailable, types.CodeOf(err))

	// The reserved slot must be returned on failure.
	drv.failOpen = false
	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(l, true)
}

func TestUnhealthyReleaseDestroysSession(t *testing.T) {
	p, drv := newTestPool(t, config.PoolConfig{MaxBrowsers: 1, AcquireTimeout: time.Second})
	ctx := context.Background()

	l1, err := p.Acquire(ctx)
	require.NoError(t, err)
	id1 := l1.ID()
	p.Release(l1, false)

	assert.True(t, drv.pages[0].closed.Load(), "unhealthy session must be closed")

	l2, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer p.Release(l2, true)
	assert.NotEqual(t, id1, l2.ID())
	assert.Equal(t, 2, drv.openCount())
}

func TestDoubleReleaseIsNoop(t *testing.T) {
	p, _ := newTestPool(t, config.PoolConfig{MaxBrowsers: 1, AcquireTimeout: time.Second})

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(l, true)
	p.Release(l, true)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 0, stats.InUse)
}

// ---------------------------------------------------------------------------
// Error threshold
// ---------------------------------------------------------------------------

func TestErrorThresholdForcesClose(t *testing.T) {
	p, drv := newTestPool(t, config.PoolConfig{
		MaxBrowsers:    1,
		AcquireTimeout: time.Second,
		ErrorThreshold: 3,
	})
	ctx := context.Background()

	l, err := p.Acquire(ctx)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		p.MarkError(l)
	}
	p.Release(l, true) // nominally healthy, but over threshold

	assert.True(t, drv.pages[0].closed.Load())
	assert.Equal(t, int64(1), p.Stats().ForcedCloses)
}

func TestHealthyReleaseResetsErrorCount(t *testing.T) {
	p, drv := newTestPool(t, config.PoolConfig{
		MaxBrowsers:    1,
		AcquireTimeout: time.Second,
		ErrorThreshold: 3,
	})
	ctx := context.Background()

	// Two errors, then a clean release; the count must not carry over.
	l, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.MarkError(l)
	p.MarkError(l)
	p.Release(l, true)

	l, err = p.Acquire(ctx)
	require.NoError(t, err)
	p.MarkError(l)
	p.MarkError(l)
	p.Release(l, true)

	assert.False(t, drv.pages[0].closed.Load(), "reset count must stay below threshold")
	assert.Equal(t, 1, drv.openCount())
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func TestStatsReflectLeaseLifecycle(t *testing.T) {
	p, _ := newTestPool(t, config.PoolConfig{MaxBrowsers: 3, AcquireTimeout: time.Second})
	ctx := context.Background()

	l, err := p.Acquire(ctx)
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, 3, stats.MaxBrowsers)
	assert.Equal(t, 1, stats.InUse)
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, stats, p.Stats(), "reading stats must not change them")

	p.Release(l, true)
	stats = p.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, int64(1), stats.TotalCreated)
	assert.Equal(t, int64(1), stats.TotalAcquired)
}

// ---------------------------------------------------------------------------
// Shutdown
// ---------------------------------------------------------------------------

func TestShutdownClosesIdleAndRejectsAcquire(t *testing.T) {
	drv := &fakeDriver{}
	p := New(config.PoolConfig{MaxBrowsers: 2, AcquireTimeout: time.Second, ShutdownGrace: time.Second}, drv, zap.NewNop())
	ctx := context.Background()

	l, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(l, true)

	require.NoError(t, p.Shutdown(ctx))
	assert.True(t, drv.pages[0].closed.Load())

	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, types.ErrPoolClosed, types.CodeOf(err))
}

func TestShutdownWaitsForInUseSessions(t *testing.T) {
	drv := &fakeDriver{}
	p := New(config.PoolConfig{MaxBrowsers: 1, AcquireTimeout: time.Second, ShutdownGrace: 2 * time.Second}, drv, zap.NewNop())
	ctx := context.Background()

	l, err := p.Acquire(ctx)
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		p.Release(l, true)
	}()

	start := time.Now()
	require.NoError(t, p.Shutdown(ctx))
	assert.Less(t, time.Since(start), time.Second, "drain should finish right after release")
	assert.Equal(t, int64(0), p.Stats().ForcedCloses)
}

func TestShutdownForceClosesAfterGrace(t *testing.T) {
	drv := &fakeDriver{}
	p := New(config.PoolConfig{MaxBrowsers: 1, AcquireTimeout: time.Second, ShutdownGrace: 60 * time.Millisecond}, drv, zap.NewNop())
	ctx := context.Background()

	_, err := p.Acquire(ctx) // never released
	require.NoError(t, err)

	require.NoError(t, p.Shutdown(ctx))
	assert.True(t, drv.pages[0].closed.Load(), "stuck session must be force-closed")
	assert.Equal(t, int64(1), p.Stats().ForcedCloses)
}
