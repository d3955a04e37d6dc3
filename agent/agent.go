// Package agent implements the adaptive loop: observe the page, ask the
// reasoning service for the next step, act through the executor, and
// correct when a step fails. The loop is bounded by a hard step ceiling
// and a per-goal correction allowance, so it always terminates.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/config"
	"github.com/webpilot-ai/webpilot/driver"
	"github.com/webpilot-ai/webpilot/executor"
	"github.com/webpilot-ai/webpilot/llm"
	"github.com/webpilot-ai/webpilot/pool"
	"github.com/webpilot-ai/webpilot/types"
)

// Phase names the loop's current activity, for logging.
type Phase string

const (
	PhaseObserving  Phase = "observing"
	PhaseDeciding   Phase = "deciding"
	PhaseActing     Phase = "acting"
	PhaseCorrecting Phase = "correcting"
)

// Agent drives a browser session toward a natural-language objective.
type Agent struct {
	exec   *executor.Executor
	pool   *pool.Pool
	client llm.Client
	cfg    config.AgentConfig
	logger *zap.Logger
}

// New creates an agent.
func New(exec *executor.Executor, p *pool.Pool, client llm.Client, cfg config.AgentConfig, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		exec:   exec,
		pool:   p,
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "agent")),
	}
}

// Result is the outcome of one agent run.
type Result struct {
	Objective   string              `json:"objective"`
	Success     bool                `json:"success"`
	Summary     string              `json:"summary,omitempty"`
	Steps       []types.StepOutcome `json:"steps"`
	LLMCalls    int                 `json:"llm_calls"`
	Corrections int                 `json:"corrections"`
	Duration    time.Duration       `json:"duration"`
	Code        types.ErrorCode     `json:"code,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// decision is the reasoning service's answer for one loop iteration.
type decision struct {
	Done      bool    `json:"done"`
	Summary   string  `json:"summary,omitempty"`
	Goal      string  `json:"goal,omitempty"`
	Action    string  `json:"action,omitempty"`
	URL       string  `json:"url,omitempty"`
	Selector  string  `json:"selector,omitempty"`
	Text      string  `json:"text,omitempty"`
	Seconds   float64 `json:"seconds,omitempty"`
	Target    string  `json:"target,omitempty"` // element description for intelligent actions
	Reasoning string  `json:"reasoning,omitempty"`
}

// historyEntry is one past loop iteration, fed back into later decisions.
type historyEntry struct {
	Goal   string `json:"goal"`
	Action string `json:"action"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

const decideSystemPrompt = `You control a web browser one step at a time to accomplish an objective.
Available actions:
  navigate (url), click (selector), type (selector, text), wait (seconds), screenshot,
  intelligent_click (target), intelligent_type (target, text), intelligent_extract (target), intelligent_wait (target, seconds)
Intelligent actions take a "target" describing the element in plain language; prefer them over raw selectors.
Respond with a JSON object only:
{"done": false, "goal": "<short name of the current sub-goal>", "action": "...", "url": "...", "selector": "...", "text": "...", "seconds": 0, "target": "...", "reasoning": "<one sentence>"}
When the objective is accomplished respond with {"done": true, "summary": "<what was achieved>"}.
If a previous step failed, choose a different approach toward the same goal.`

// Run drives a fresh browser session toward the objective. The returned
// result always reflects what happened; the error is non-nil only when no
// session could be acquired.
func (a *Agent) Run(ctx context.Context, objective string) (*Result, error) {
	result := &Result{Objective: objective}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	lease, err := a.pool.Acquire(ctx)
	if err != nil {
		result.Code = types.CodeOf(err)
		result.Error = err.Error()
		return result, err
	}
	defer func() {
		a.pool.Release(lease, !types.SessionCompromised(result.Code))
	}()

	sess := a.exec.NewSession(lease.Page(), map[string]string{"objective": objective})
	log := a.logger.With(zap.String("session_id", lease.ID()))
	log.Info("agent run started", zap.String("objective", objective))

	var history []historyEntry
	corrections := make(map[string]int)

	for step := 0; step < a.cfg.MaxSteps; step++ {
		observation, err := a.observe(ctx, lease.Page())
		if err != nil {
			return a.fail(result, err), nil
		}

		dec, err := a.decide(ctx, objective, observation, history)
		result.LLMCalls++
		if err != nil {
			return a.fail(result, err), nil
		}

		if dec.Done {
			result.Success = true
			result.Summary = dec.Summary
			log.Info("agent run completed",
				zap.Int("steps", step),
				zap.Int("llm_calls", result.LLMCalls),
				zap.Int("corrections", result.Corrections))
			return result, nil
		}

		taskStep, err := dec.toStep()
		if err != nil {
			return a.fail(result, err), nil
		}

		log.Debug("agent acting",
			zap.String("phase", string(PhaseActing)),
			zap.String("goal", dec.Goal),
			zap.String("action", string(taskStep.Action)),
			zap.String("reasoning", dec.Reasoning))

		outcome := a.exec.RunStep(ctx, sess, taskStep, step, 0)
		result.Steps = append(result.Steps, *outcome)
		history = appendHistory(history, historyEntry{
			Goal:   dec.Goal,
			Action: string(taskStep.Action),
			Status: string(outcome.Status),
			Detail: outcome.Detail,
			Error:  outcome.Error,
		}, a.cfg.HistoryLength)

		if outcome.Status != types.StepFailed {
			continue
		}

		goal := goalKey(dec)
		corrections[goal]++
		result.Corrections++
		if corrections[goal] > a.cfg.MaxCorrectionAttempts {
			log.Warn("correction allowance exhausted",
				zap.String("phase", string(PhaseCorrecting)),
				zap.String("goal", dec.Goal),
				zap.Int("attempts", corrections[goal]))
			return a.fail(result, types.Errorf(outcome.Code,
				"goal %q failed after %d corrections: %s", dec.Goal, corrections[goal]-1, outcome.Error)), nil
		}
		log.Info("correcting failed step",
			zap.String("phase", string(PhaseCorrecting)),
			zap.String("goal", dec.Goal),
			zap.Int("attempt", corrections[goal]))
	}

	return a.fail(result, types.Errorf(types.ErrBudgetExhausted,
		"objective not reached within %d steps", a.cfg.MaxSteps)), nil
}

// observation is a compact page summary for the decide prompt.
type observation struct {
	URL      string               `json:"url"`
	Title    string               `json:"title"`
	Elements []driver.PageElement `json:"elements"`
}

func (a *Agent) observe(ctx context.Context, page driver.Page) (*observation, error) {
	structure, err := page.CaptureStructure(ctx)
	if err != nil {
		return nil, err
	}
	elements := structure.Elements
	if len(elements) > 40 {
		elements = elements[:40]
	}
	return &observation{URL: structure.URL, Title: structure.Title, Elements: elements}, nil
}

func (a *Agent) decide(ctx context.Context, objective string, obs *observation, history []historyEntry) (*decision, error) {
	obsJSON, err := json.Marshal(obs)
	if err != nil {
		return nil, types.NewError(types.ErrAIService, "serialize observation").WithCause(err)
	}
	histJSON, err := json.Marshal(history)
	if err != nil {
		return nil, types.NewError(types.ErrAIService, "serialize history").WithCause(err)
	}

	userPrompt := fmt.Sprintf("Objective: %s\nCurrent page:\n%s\nRecent steps:\n%s\nWhat is the next step?",
		objective, obsJSON, histJSON)

	raw, err := a.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: decideSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	var dec decision
	if err := json.Unmarshal([]byte(extractJSON(raw)), &dec); err != nil {
		return nil, types.Errorf(types.ErrAIService, "unparseable decision: %s", raw).WithCause(err)
	}
	return &dec, nil
}

// toStep converts a decision into an executable step.
func (d *decision) toStep() (types.Step, error) {
	step := types.Step{
		Action:      types.Action(d.Action),
		URL:         d.URL,
		Selector:    d.Selector,
		Text:        d.Text,
		Seconds:     d.Seconds,
		Description: d.Target,
	}
	if step.Action == types.ActionIntelligentWait {
		step.Condition = "element"
	}
	if err := step.Validate(); err != nil {
		return step, types.Errorf(types.ErrAIService, "decision is not executable: %v", err)
	}
	return step, nil
}

// goalKey normalizes the correction counter key. Decisions without a goal
// fall back to the action plus target, so distinct goals never share an
// allowance.
func goalKey(d *decision) string {
	if g := strings.TrimSpace(strings.ToLower(d.Goal)); g != "" {
		return g
	}
	return d.Action + ":" + strings.ToLower(d.Target)
}

func appendHistory(history []historyEntry, entry historyEntry, limit int) []historyEntry {
	history = append(history, entry)
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

func (a *Agent) fail(result *Result, err error) *Result {
	result.Success = false
	result.Code = types.CodeOf(err)
	result.Error = err.Error()
	a.logger.Warn("agent run failed",
		zap.String("objective", result.Objective),
		zap.String("code", string(result.Code)),
		zap.Error(err))
	return result
}

// extractJSON strips code fences and prose around a JSON object reply.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
