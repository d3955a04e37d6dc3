package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/config"
	"github.com/webpilot-ai/webpilot/driver"
	"github.com/webpilot-ai/webpilot/pool"
	"github.com/webpilot-ai/webpilot/resolver"
	"github.com/webpilot-ai/webpilot/types"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakePage struct {
	mu           sync.Mutex
	calls        []string
	failNavs     int // fail this many navigations before succeeding
	failClicks   int
	alwaysFail   bool
	slowWaits    time.Duration
	closed       bool
}

func driverErr(msg string) error {
	return types.NewError(types.ErrDriver, msg)
}

func (f *fakePage) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakePage) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	f.record("navigate:" + url)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alwaysFail {
		return driverErr("navigate always fails")
	}
	if f.failNavs > 0 {
		f.failNavs--
		return driverErr("net::ERR_CONNECTION_RESET")
	}
	return nil
}

func (f *fakePage) Click(ctx context.Context, selector string) error {
	f.record("click:" + selector)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alwaysFail {
		return driverErr("click always fails")
	}
	if f.failClicks > 0 {
		f.failClicks--
		return driverErr("element detached")
	}
	return nil
}

func (f *fakePage) Type(ctx context.Context, selector, text string) error {
	f.record("type:" + selector + ":" + text)
	return nil
}

func (f *fakePage) WaitVisible(ctx context.Context, sel string, d time.Duration) error {
	f.record("wait:" + sel)
	if f.slowWaits > 0 {
		select {
		case <-ctx.Done():
			return driverErr("wait interrupted")
		case <-time.After(f.slowWaits):
		}
	}
	return nil
}

func (f *fakePage) Extract(ctx context.Context, sel, dataType string) (string, error) {
	f.record("extract:" + sel)
	return "$129.99", nil
}

func (f *fakePage) CaptureStructure(ctx context.Context) (*driver.PageStructure, error) {
	return &driver.PageStructure{
		URL:   "https://shop.test/item",
		Title: "Item",
		Elements: []driver.PageElement{
			{Tag: "button", Type: "submit", Text: "Add to cart", Selector: "#add-to-cart", Box: driver.Box{Y: 300}},
			{Tag: "span", Text: "price", Selector: ".price", Box: driver.Box{Y: 200}},
			{Tag: "input", Type: "search", Placeholder: "Search products", Selector: "#search", Box: driver.Box{Y: 80}},
		},
	}, nil
}

func (f *fakePage) CaptureImage(ctx context.Context) (*driver.Screenshot, error) {
	f.record("screenshot")
	return &driver.Screenshot{Data: []byte{0x89, 0x50}, URL: "https://shop.test/item"}, nil
}

func (f *fakePage) MarkElements(ctx context.Context, max int) ([]driver.PageElement, error) {
	return nil, nil
}
func (f *fakePage) ClearMarks(ctx context.Context) error { return nil }
func (f *fakePage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeDriver struct {
	mu    sync.Mutex
	pages []*fakePage
	next  func() *fakePage
}

func (f *fakeDriver) OpenPage(ctx context.Context) (driver.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var p *fakePage
	if f.next != nil {
		p = f.next()
	} else {
		p = &fakePage{}
	}
	f.pages = append(f.pages, p)
	return p, nil
}

func (f *fakeDriver) Close() error { return nil }

type executorFixture struct {
	exec *Executor
	drv  *fakeDriver
	pool *pool.Pool
}

func newFixture(t *testing.T, cfg config.ExecutorConfig) *executorFixture {
	t.Helper()
	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = 5 * time.Second
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = time.Millisecond
		cfg.MaxDelay = 5 * time.Millisecond
		cfg.BackoffBase = 2.0
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 100
		cfg.BreakerResetTimeout = time.Minute
	}

	drv := &fakeDriver{}
	p := pool.New(config.PoolConfig{MaxBrowsers: 2, AcquireTimeout: 2 * time.Second, ErrorThreshold: 100}, drv, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Shutdown(ctx)
	})

	exec := New(Options{
		Pool:        p,
		Resolver:    resolver.New(nil, nil, config.VisionConfig{}, zap.NewNop()),
		Config:      cfg,
		Screenshots: NewSaver(t.TempDir(), zap.NewNop()),
		Logger:      zap.NewNop(),
	})
	return &executorFixture{exec: exec, drv: drv, pool: p}
}

// ---------------------------------------------------------------------------
// Sequential execution
// ---------------------------------------------------------------------------

func TestRunTaskSequentialOrder(t *testing.T) {
	fx := newFixture(t, config.ExecutorConfig{})

	task := &types.Task{
		ID: "t1",
		Steps: []types.Step{
			{Action: types.ActionNavigate, URL: "https://shop.test"},
			{Action: types.ActionType, Selector: "#search", Text: "keyboard"},
			{Action: types.ActionClick, Selector: "#go"},
		},
	}
	result := fx.exec.RunTask(context.Background(), task)

	require.True(t, result.Success, "task error: %s", result.Error)
	assert.Equal(t, -1, result.FailedStep)
	require.Len(t, result.Steps, 3)
	for _, s := range result.Steps {
		assert.Equal(t, types.StepSuccess, s.Status)
	}
	assert.Equal(t, []string{
		"navigate:https://shop.test",
		"type:#search:keyboard",
		"click:#go",
	}, fx.drv.pages[0].callLog())
}

func TestRunTaskAssignsID(t *testing.T) {
	fx := newFixture(t, config.ExecutorConfig{})

	task := &types.Task{Steps: []types.Step{{Action: types.ActionScreenshot}}}
	result := fx.exec.RunTask(context.Background(), task)

	require.True(t, result.Success, "task error: %s", result.Error)
	assert.NotEmpty(t, result.TaskID)
}

func TestRunTaskValidationFailure(t *testing.T) {
	fx := newFixture(t, config.ExecutorConfig{})

	result := fx.exec.RunTask(context.Background(), &types.Task{ID: "t-empty"})
	assert.False(t, result.Success)
	assert.Equal(t, types.ErrValidation, result.Code)
	assert.Empty(t, fx.drv.pages, "invalid tasks must not touch the pool")
}

func TestRunTaskStopsAtFirstFailure(t *testing.T) {
	fx := newFixture(t, config.ExecutorConfig{})

	task := &types.Task{
		ID: "t2",
		Steps: []types.Step{
			{Action: types.ActionNavigate, URL: "https://shop.test"},
			{Action: types.ActionIntelligentClick, Description: "nonexistent widget zzz"},
			{Action: types.ActionClick, Selector: "#never-reached"},
		},
	}
	result := fx.exec.RunTask(context.Background(), task)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.FailedStep)
	assert.Equal(t, types.ErrElementNotFound, result.Code)
	require.Len(t, result.Steps, 2, "steps after the failure must not run")
	assert.NotContains(t, fx.drv.pages[0].callLog(), "click:#never-reached")
}

func TestRunTaskToleratedFailureContinues(t *testing.T) {
	fx := newFixture(t, config.ExecutorConfig{})

	task := &types.Task{
		ID:       "t3",
		Tolerate: []types.ErrorCode{types.ErrElementNotFound},
		Steps: []types.Step{
			{Action: types.ActionIntelligentClick, Description: "nonexistent widget zzz"},
			{Action: types.ActionClick, Selector: "#after"},
		},
	}
	result := fx.exec.RunTask(context.Background(), task)

	require.True(t, result.Success, "task error: %s", result.Error)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, types.StepFailed, result.Steps[0].Status)
	assert.Equal(t, types.StepSuccess, result.Steps[1].Status)
	assert.Contains(t, fx.drv.pages[0].callLog(), "click:#after")
}

// ---------------------------------------------------------------------------
// Intelligent steps
// ---------------------------------------------------------------------------

func TestRunTaskIntelligentClickResolvesSelector(t *testing.T) {
	fx := newFixture(t, config.ExecutorConfig{})

	task := &types.Task{
		ID: "t4",
		Steps: []types.Step{
			{Action: types.ActionIntelligentClick, Description: "add to cart button"},
		},
	}
	result := fx.exec.RunTask(context.Background(), task)

	require.True(t, result.Success, "task error: %s", result.Error)
	assert.Equal(t, 1, result.IntelligentActions)
	assert.Equal(t, "#add-to-cart", result.Steps[0].Detail)
	assert.Contains(t, fx.drv.pages[0].callLog(), "click:#add-to-cart")
}

func TestRunTaskExtractFeedsLaterSteps(t *testing.T) {
	fx := newFixture(t, config.ExecutorConfig{})

	task := &types.Task{
		ID: "t5",
		Steps: []types.Step{
			{Action: types.ActionIntelligentExtract, Description: "price", DataType: "text"},
			{Action: types.ActionType, Selector: "#note", Text: "costs {{price}}"},
		},
	}
	result := fx.exec.RunTask(context.Background(), task)

	require.True(t, result.Success, "task error: %s", result.Error)
	assert.Equal(t, "$129.99", result.Steps[0].Detail)
	assert.Contains(t, fx.drv.pages[0].callLog(), "type:#note:costs $129.99")
}

// ---------------------------------------------------------------------------
// Retry
// ---------------------------------------------------------------------------

func TestRunTaskRetriesTransientFailures(t *testing.T) {
	fx := newFixture(t, config.ExecutorConfig{RetryCount: 3})
	fx.drv.next = func() *fakePage { return &fakePage{failNavs: 2} }

	task := &types.Task{
		ID:    "t6",
		Steps: []types.Step{{Action: types.ActionNavigate, URL: "https://flaky.test"}},
	}
	result := fx.exec.RunTask(context.Background(), task)

	require.True(t, result.Success, "task error: %s", result.Error)
	assert.Equal(t, 3, result.Steps[0].Attempts, "two transient failures then success")
}

func TestRunTaskDoesNotRetryElementNotFound(t *testing.T) {
	fx := newFixture(t, config.ExecutorConfig{RetryCount: 5})

	task := &types.Task{
		ID:    "t7",
		Steps: []types.Step{{Action: types.ActionIntelligentClick, Description: "nonexistent widget zzz"}},
	}
	result := fx.exec.RunTask(context.Background(), task)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Steps[0].Attempts, "deterministic misses must not burn retries")
}

// ---------------------------------------------------------------------------
// Timeout and session health
// ---------------------------------------------------------------------------

func TestRunTaskTimeout(t *testing.T) {
	fx := newFixture(t, config.ExecutorConfig{})

	task := &types.Task{
		ID:      "t8",
		Timeout: 50 * time.Millisecond,
		Steps:   []types.Step{{Action: types.ActionWait, Seconds: 10}},
	}
	result := fx.exec.RunTask(context.Background(), task)

	assert.False(t, result.Success)
	assert.Equal(t, types.ErrTaskTimeout, result.Code)
	assert.False(t, result.SessionHealthy(), "timed-out sessions are in an unknown state")
	assert.True(t, fx.drv.pages[0].closed, "unhealthy session must be destroyed on release")
}

func TestRunTaskHealthySessionReused(t *testing.T) {
	fx := newFixture(t, config.ExecutorConfig{})

	for i := 0; i < 3; i++ {
		result := fx.exec.RunTask(context.Background(), &types.Task{
			Steps: []types.Step{{Action: types.ActionNavigate, URL: "https://shop.test"}},
		})
		require.True(t, result.Success, "task error: %s", result.Error)
	}
	assert.Len(t, fx.drv.pages, 1, "healthy session should serve consecutive tasks")
}

// ---------------------------------------------------------------------------
// Circuit breaker
// ---------------------------------------------------------------------------

func TestRunTaskCircuitBreakerFailsFast(t *testing.T) {
	fx := newFixture(t, config.ExecutorConfig{
		RetryCount:          10,
		BreakerThreshold:    2,
		BreakerResetTimeout: time.Minute,
	})
	fx.drv.next = func() *fakePage { return &fakePage{alwaysFail: true} }

	task := &types.Task{
		ID:    "t9",
		Steps: []types.Step{{Action: types.ActionClick, Selector: "#btn"}},
	}
	result := fx.exec.RunTask(context.Background(), task)

	assert.False(t, result.Success)
	assert.Equal(t, types.ErrCircuitOpen, result.Code)

	clicks := 0
	for _, call := range fx.drv.pages[0].callLog() {
		if call == "click:#btn" {
			clicks++
		}
	}
	assert.Equal(t, 2, clicks, "open breaker must stop real attempts at the threshold")
	assert.Equal(t, "open", fx.exec.BreakerStates()["interaction"])
}

// ---------------------------------------------------------------------------
// Parallel execution
// ---------------------------------------------------------------------------

func TestRunParallelPreservesOrderAndIsolation(t *testing.T) {
	fx := newFixture(t, config.ExecutorConfig{})

	tasks := []*types.Task{
		{ID: "p0", Steps: []types.Step{{Action: types.ActionNavigate, URL: "https://a.test"}}},
		{ID: "p1", Steps: []types.Step{{Action: types.ActionIntelligentClick, Description: "nonexistent widget zzz"}}},
		{ID: "p2", Steps: []types.Step{{Action: types.ActionNavigate, URL: "https://c.test"}}},
	}
	results := fx.exec.RunParallel(context.Background(), tasks)

	require.Len(t, results, 3)
	assert.Equal(t, "p0", results[0].TaskID)
	assert.Equal(t, "p1", results[1].TaskID)
	assert.Equal(t, "p2", results[2].TaskID)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success, "one failure must not affect siblings")
	assert.True(t, results[2].Success)
}

func TestRunParallelRespectsPoolCap(t *testing.T) {
	fx := newFixture(t, config.ExecutorConfig{})

	tasks := make([]*types.Task, 5)
	for i := range tasks {
		tasks[i] = &types.Task{Steps: []types.Step{{Action: types.ActionWait, Seconds: 0.02}}}
	}
	results := fx.exec.RunParallel(context.Background(), tasks)

	for _, r := range results {
		require.True(t, r.Success, "task error: %s", r.Error)
	}
	assert.LessOrEqual(t, len(fx.drv.pages), 2, "session count must stay at pool capacity")
}
