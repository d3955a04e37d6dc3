package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/llm"
	"github.com/webpilot-ai/webpilot/types"
)

// Planner turns a natural-language objective into an executable task list.
// Unlike the adaptive loop it plans everything up front, which is cheaper
// and reviewable but cannot react to what pages actually contain.
type Planner struct {
	client llm.Client
	logDir string
	logger *zap.Logger
}

// NewPlanner creates a planner. Plans are archived as JSON under logDir
// when it is non-empty.
func NewPlanner(client llm.Client, logDir string, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		client: client,
		logDir: logDir,
		logger: logger.With(zap.String("component", "planner")),
	}
}

const planSystemPrompt = `You turn a browsing objective into a plan of tasks for a browser automation system.
Each task is a named sequence of steps. Step actions:
  navigate (url), click (selector), type (selector, text), wait (seconds), screenshot (filename),
  intelligent_click (description), intelligent_type (description, text), intelligent_extract (description, data_type), intelligent_wait (description, condition "element", seconds)
Prefer intelligent actions with plain-language descriptions over CSS selectors.
Respond with a JSON object only:
{"tasks": [{"name": "...", "context": "...", "steps": [{"action": "...", ...}]}]}`

type planAnswer struct {
	Tasks []struct {
		Name    string       `json:"name"`
		Context string       `json:"context"`
		Steps   []types.Step `json:"steps"`
	} `json:"tasks"`
}

// Plan produces validated tasks for an objective.
func (p *Planner) Plan(ctx context.Context, objective string) ([]*types.Task, error) {
	raw, err := p.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: planSystemPrompt},
			{Role: "user", Content: "Objective: " + objective},
		},
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	var answer planAnswer
	if err := json.Unmarshal([]byte(extractJSON(raw)), &answer); err != nil {
		return nil, types.Errorf(types.ErrAIService, "unparseable plan: %s", raw).WithCause(err)
	}
	if len(answer.Tasks) == 0 {
		return nil, types.Errorf(types.ErrAIService, "empty plan for objective %q", objective)
	}

	tasks := make([]*types.Task, 0, len(answer.Tasks))
	for i, t := range answer.Tasks {
		task := &types.Task{
			ID:      uuid.NewString(),
			Name:    t.Name,
			Context: t.Context,
			Steps:   t.Steps,
		}
		if err := task.Validate(); err != nil {
			return nil, types.Errorf(types.ErrAIService, "plan task %d invalid: %v", i, err)
		}
		tasks = append(tasks, task)
	}

	p.archive(objective, tasks)
	p.logger.Info("plan produced",
		zap.String("objective", objective),
		zap.Int("tasks", len(tasks)))
	return tasks, nil
}

// archive writes the plan next to the logs, best effort.
func (p *Planner) archive(objective string, tasks []*types.Task) {
	if p.logDir == "" {
		return
	}
	if err := os.MkdirAll(p.logDir, 0o755); err != nil {
		p.logger.Warn("cannot create plan dir", zap.Error(err))
		return
	}
	payload, err := json.MarshalIndent(map[string]any{
		"objective":  objective,
		"created_at": time.Now().Format(time.RFC3339),
		"tasks":      tasks,
	}, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(p.logDir, fmt.Sprintf("plan_%s.json", time.Now().Format("20060102_150405")))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		p.logger.Warn("cannot archive plan", zap.String("path", path), zap.Error(err))
		return
	}
	p.logger.Debug("plan archived", zap.String("path", path))
}
