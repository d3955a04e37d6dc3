// Package executor runs tasks against pooled browser sessions. Steps run
// sequentially with per-step retry, shared circuit breakers per operation
// class, and a task-wide deadline. Intelligent steps go through the element
// resolver; direct steps hit the page with their literal selectors.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/circuitbreaker"
	"github.com/webpilot-ai/webpilot/config"
	"github.com/webpilot-ai/webpilot/driver"
	"github.com/webpilot-ai/webpilot/internal/metrics"
	"github.com/webpilot-ai/webpilot/llm"
	"github.com/webpilot-ai/webpilot/pool"
	"github.com/webpilot-ai/webpilot/resolver"
	"github.com/webpilot-ai/webpilot/retry"
	"github.com/webpilot-ai/webpilot/types"
)

// Operation classes guarded by shared circuit breakers.
const (
	opNavigation  = "navigation"
	opResolution  = "element_resolution"
	opInteraction = "interaction"
)

// Options wires an Executor's collaborators.
type Options struct {
	Pool     *pool.Pool
	Resolver *resolver.Resolver
	Config   config.ExecutorConfig
	// LLMBudget caps reasoning calls per task; zero means unlimited.
	LLMBudget   int
	Screenshots *Saver
	Metrics     *metrics.Collector
	Logger      *zap.Logger
}

// Executor runs tasks. Safe for concurrent use; breakers are shared across
// every task it runs.
type Executor struct {
	pool      *pool.Pool
	resolver  *resolver.Resolver
	cfg       config.ExecutorConfig
	llmBudget int
	shots     *Saver
	breakers  *circuitbreaker.Group
	metrics   *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
}

// New creates an executor.
func New(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	breakerCfg := circuitbreaker.Config{
		Threshold:        opts.Config.BreakerThreshold,
		ResetTimeout:     opts.Config.BreakerResetTimeout,
		HalfOpenMaxCalls: 1,
	}
	if opts.Metrics != nil {
		m := opts.Metrics
		breakerCfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
			m.RecordBreakerTransition(name, to.String())
		}
	}
	return &Executor{
		pool:      opts.Pool,
		resolver:  opts.Resolver,
		cfg:       opts.Config,
		llmBudget: opts.LLMBudget,
		shots:     opts.Screenshots,
		breakers:  circuitbreaker.NewGroup(breakerCfg, logger),
		metrics:   opts.Metrics,
		tracer:    otel.Tracer("webpilot/executor"),
		logger:    logger.With(zap.String("component", "executor")),
	}
}

// Session carries the state shared by one task's steps: its resolution
// cache, reasoning budget, and extracted values.
type Session struct {
	Page   driver.Page
	Cache  *resolver.Cache
	Budget *llm.Budget
	Values *Values

	intelligentActions int
}

// NewSession creates execution state for a page. seed preloads the value
// store; advisory task context travels under the "context" key.
func (e *Executor) NewSession(page driver.Page, seed map[string]string) *Session {
	return &Session{
		Page:   page,
		Cache:  resolver.NewCache(),
		Budget: llm.NewBudget(e.llmBudget),
		Values: NewValues(seed),
	}
}

// RunTask acquires a session, runs every step in order, and releases the
// session with a health verdict derived from the failure kind. It always
// returns a result; task-level failures are reported in it, not as a
// separate error.
func (e *Executor) RunTask(ctx context.Context, task *types.Task) *types.TaskResult {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	result := &types.TaskResult{
		TaskID:     task.ID,
		Name:       task.Name,
		FailedStep: -1,
		StartedAt:  time.Now(),
	}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		if e.metrics != nil {
			e.metrics.RecordTask(result.Success, result.Duration)
		}
	}()

	if err := task.Validate(); err != nil {
		result.Code = types.CodeOf(err)
		result.Error = err.Error()
		return result
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = e.cfg.TaskTimeout
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	taskCtx, span := e.tracer.Start(taskCtx, "executor.run_task",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("task.name", task.Name),
			attribute.Int("task.steps", len(task.Steps)),
		))
	defer span.End()

	lease, err := e.pool.Acquire(taskCtx)
	if err != nil {
		result.Code = types.CodeOf(err)
		result.Error = err.Error()
		span.SetStatus(codes.Error, result.Error)
		return result
	}
	defer func() {
		e.pool.Release(lease, result.SessionHealthy())
		if e.metrics != nil {
			stats := e.pool.Stats()
			e.metrics.RecordPoolState(stats.Idle, stats.InUse)
		}
	}()

	log := e.logger.With(zap.String("task_id", task.ID), zap.String("session_id", lease.ID()))
	log.Info("task started", zap.String("name", task.Name), zap.Int("steps", len(task.Steps)))

	seed := map[string]string{}
	if task.Context != "" {
		seed["context"] = task.Context
	}
	sess := e.NewSession(lease.Page(), seed)

	failed := false
	for i, step := range task.Steps {
		outcome := e.RunStep(taskCtx, sess, step, i, task.RetryCount)
		result.Steps = append(result.Steps, *outcome)

		if outcome.Status != types.StepFailed {
			continue
		}
		e.pool.MarkError(lease)

		if task.Tolerates(outcome.Code) {
			log.Warn("step failed but tolerated",
				zap.Int("step", i),
				zap.String("code", string(outcome.Code)))
			continue
		}

		failed = true
		result.FailedStep = i
		result.Code = outcome.Code
		result.Error = outcome.Error
		break
	}

	result.Success = !failed
	result.IntelligentActions = sess.intelligentActions
	if result.Success {
		span.SetStatus(codes.Ok, "")
		log.Info("task completed",
			zap.Int("steps", len(result.Steps)),
			zap.Int("intelligent_actions", result.IntelligentActions))
	} else {
		span.SetStatus(codes.Error, result.Error)
		log.Warn("task failed",
			zap.Int("failed_step", result.FailedStep),
			zap.String("code", string(result.Code)),
			zap.String("error", result.Error))
	}
	return result
}

// RunParallel runs tasks concurrently, each on its own pooled session.
// Results come back in submission order and one task's failure never
// affects the others. Pool admission throttles actual parallelism.
func (e *Executor) RunParallel(ctx context.Context, tasks []*types.Task) []*types.TaskResult {
	results := make([]*types.TaskResult, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task *types.Task) {
			defer wg.Done()
			results[i] = e.RunTask(ctx, task)
		}(i, task)
	}
	wg.Wait()
	return results
}

// RunStep runs one step with retry, recording the outcome. retryOverride
// replaces the configured per-step retry count when positive. Exported for
// the adaptive loop, which issues steps one at a time.
func (e *Executor) RunStep(ctx context.Context, sess *Session, step types.Step, index, retryOverride int) *types.StepOutcome {
	start := time.Now()
	outcome := &types.StepOutcome{Index: index, Action: step.Action}

	ctx, span := e.tracer.Start(ctx, "executor.run_step",
		trace.WithAttributes(
			attribute.String("step.action", string(step.Action)),
			attribute.Int("step.index", index),
		))
	defer span.End()

	policy := retry.Policy{
		MaxRetries:   e.cfg.RetryCount,
		InitialDelay: e.cfg.InitialDelay,
		MaxDelay:     e.cfg.MaxDelay,
		Multiplier:   e.cfg.BackoffBase,
		Jitter:       true,
	}
	if retryOverride > 0 {
		policy.MaxRetries = retryOverride
	}
	retryer := retry.New(policy, e.logger)

	if step.Intelligent() {
		sess.intelligentActions++
	}
	attempts, err := retryer.Do(ctx, func(ctx context.Context) error {
		return e.execute(ctx, sess, step, outcome)
	})
	outcome.Attempts = attempts
	outcome.Duration = time.Since(start)

	if err != nil {
		// A deadline on the task context means the task ran out of time,
		// whatever the step was doing when it hit.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = types.Errorf(types.ErrTaskTimeout, "task deadline exceeded during %s", step.Action).WithCause(err)
		}
		outcome.Status = types.StepFailed
		outcome.Code = types.CodeOf(err)
		outcome.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome.Error)
	} else {
		outcome.Status = types.StepSuccess
		span.SetStatus(codes.Ok, "")
	}

	if e.metrics != nil {
		e.metrics.RecordStep(string(step.Action), string(outcome.Status), outcome.Duration, attempts-1)
	}
	return outcome
}

// execute performs a single attempt of one step.
func (e *Executor) execute(ctx context.Context, sess *Session, step types.Step, outcome *types.StepOutcome) error {
	page := sess.Page

	switch step.Action {
	case types.ActionNavigate:
		url := sess.Values.Expand(step.URL)
		err := e.breakers.Get(opNavigation).Execute(ctx, func(ctx context.Context) error {
			return recode(page.Navigate(ctx, url), types.ErrNavigation, "navigation failed")
		})
		if err != nil {
			return err
		}
		// Selectors resolved against the old document are void now.
		sess.Cache.Clear()
		outcome.Detail = url
		return nil

	case types.ActionClick:
		return e.interact(ctx, func(ctx context.Context) error {
			return page.Click(ctx, step.Selector)
		})

	case types.ActionIntelligentClick:
		sel, err := e.resolveTarget(ctx, sess, step.Description)
		if err != nil {
			return err
		}
		outcome.Detail = sel
		return e.interact(ctx, func(ctx context.Context) error {
			return page.Click(ctx, sel)
		})

	case types.ActionType:
		text := sess.Values.Expand(step.Text)
		return e.interact(ctx, func(ctx context.Context) error {
			return page.Type(ctx, step.Selector, text)
		})

	case types.ActionIntelligentType:
		sel, err := e.resolveTarget(ctx, sess, step.Description)
		if err != nil {
			return err
		}
		outcome.Detail = sel
		text := sess.Values.Expand(step.Text)
		return e.interact(ctx, func(ctx context.Context) error {
			return page.Type(ctx, sel, text)
		})

	case types.ActionWait:
		return sleep(ctx, time.Duration(step.Seconds*float64(time.Second)))

	case types.ActionIntelligentWait:
		if step.Condition != "element" {
			return sleep(ctx, time.Duration(step.Seconds*float64(time.Second)))
		}
		sel, err := e.resolveTarget(ctx, sess, step.Description)
		if err != nil {
			return err
		}
		outcome.Detail = sel
		timeout := time.Duration(step.Seconds * float64(time.Second))
		return e.interact(ctx, func(ctx context.Context) error {
			return page.WaitVisible(ctx, sel, timeout)
		})

	case types.ActionScreenshot:
		shot, err := page.CaptureImage(ctx)
		if err != nil {
			return recode(err, types.ErrElementInteraction, "screenshot failed")
		}
		if e.shots == nil {
			return types.NewError(types.ErrConfiguration, "no screenshot directory configured")
		}
		path, err := e.shots.Save(shot, step.Filename)
		if err != nil {
			return types.NewError(types.ErrElementInteraction, "save screenshot").WithCause(err)
		}
		outcome.Detail = path
		return nil

	case types.ActionIntelligentExtract:
		sel, err := e.resolveTarget(ctx, sess, step.Description)
		if err != nil {
			return err
		}
		var value string
		err = e.interact(ctx, func(ctx context.Context) error {
			var extractErr error
			value, extractErr = page.Extract(ctx, sel, step.DataType)
			return extractErr
		})
		if err != nil {
			return err
		}
		sess.Values.Set(step.Description, value)
		outcome.Detail = value
		return nil

	default:
		return types.Errorf(types.ErrValidation, "unknown action: %q", step.Action)
	}
}

// interact wraps a page interaction in the shared interaction breaker and
// maps raw driver failures to the interaction failure kind.
func (e *Executor) interact(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.breakers.Get(opInteraction).Execute(ctx, func(ctx context.Context) error {
		return recode(fn(ctx), types.ErrElementInteraction, "interaction failed")
	})
}

// resolveTarget resolves a description to a selector through the shared
// resolution breaker, charging the session budget.
func (e *Executor) resolveTarget(ctx context.Context, sess *Session, description string) (string, error) {
	desc := sess.Values.Expand(description)

	var res *resolver.Resolution
	err := e.breakers.Get(opResolution).Execute(ctx, func(ctx context.Context) error {
		var resolveErr error
		res, resolveErr = e.resolver.Resolve(ctx, sess.Page, desc, sess.Budget, sess.Cache)
		return resolveErr
	})
	if err != nil {
		return "", err
	}
	if e.metrics != nil {
		e.metrics.RecordResolution(string(res.Tier), string(res.Confidence))
	}
	return res.Selector, nil
}

// BreakerStates snapshots the shared breakers, for stats endpoints.
func (e *Executor) BreakerStates() map[string]string {
	out := make(map[string]string)
	for name, state := range e.breakers.States() {
		out[name] = state.String()
	}
	return out
}

// recode wraps raw driver failures in the step's failure kind. Typed
// failures from deeper layers (resolution, budget, breaker) pass through
// untouched so their kind survives to the task result.
func recode(err error, code types.ErrorCode, msg string) error {
	if err == nil {
		return nil
	}
	switch types.CodeOf(err) {
	case types.ErrDriver, types.ErrorCode(""):
		return types.NewError(code, fmt.Sprintf("%s: %v", msg, err)).WithCause(err)
	default:
		return err
	}
}

// sleep waits the duration or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
