package types

import (
	"fmt"
	"strings"
	"time"
)

// Action identifies a step kind. The set is closed: the executor dispatches
// over it exhaustively, so adding a new action requires touching the switch.
type Action string

const (
	ActionNavigate           Action = "navigate"
	ActionClick              Action = "click"
	ActionType               Action = "type"
	ActionWait               Action = "wait"
	ActionScreenshot         Action = "screenshot"
	ActionIntelligentClick   Action = "intelligent_click"
	ActionIntelligentType    Action = "intelligent_type"
	ActionIntelligentExtract Action = "intelligent_extract"
	ActionIntelligentWait    Action = "intelligent_wait"
)

// Step is one unit of browser work inside a Task. Which fields are required
// depends on the Action; Validate enforces the pairing.
type Step struct {
	Action Action `json:"action"`

	// Direct actions
	URL      string  `json:"url,omitempty"`      // navigate
	Selector string  `json:"selector,omitempty"` // click, type
	Text     string  `json:"text,omitempty"`     // type, intelligent_type
	Seconds  float64 `json:"seconds,omitempty"`  // wait, intelligent_wait
	Filename string  `json:"filename,omitempty"` // screenshot

	// Intelligent actions
	Description string `json:"description,omitempty"` // natural-language element description
	DataType    string `json:"data_type,omitempty"`   // intelligent_extract: text, html, value
	Condition   string `json:"condition,omitempty"`   // intelligent_wait: element or time
}

// Intelligent reports whether the step requires element resolution.
func (s Step) Intelligent() bool {
	return strings.HasPrefix(string(s.Action), "intelligent_")
}

// Validate checks that the step carries the fields its action requires.
func (s Step) Validate() error {
	switch s.Action {
	case ActionNavigate:
		if s.URL == "" {
			return Errorf(ErrValidation, "navigate step requires url")
		}
	case ActionClick:
		if s.Selector == "" {
			return Errorf(ErrValidation, "click step requires selector")
		}
	case ActionType:
		if s.Selector == "" {
			return Errorf(ErrValidation, "type step requires selector")
		}
	case ActionWait:
		if s.Seconds <= 0 {
			return Errorf(ErrValidation, "wait step requires positive seconds")
		}
	case ActionScreenshot:
		// filename is optional, a timestamped default is generated
	case ActionIntelligentClick, ActionIntelligentExtract:
		if s.Description == "" {
			return Errorf(ErrValidation, "%s step requires description", s.Action)
		}
	case ActionIntelligentType:
		if s.Description == "" {
			return Errorf(ErrValidation, "intelligent_type step requires description")
		}
	case ActionIntelligentWait:
		if s.Condition == "element" && s.Description == "" {
			return Errorf(ErrValidation, "intelligent_wait on element requires description")
		}
	default:
		return Errorf(ErrValidation, "unknown action: %q", s.Action)
	}
	return nil
}

// Task is a unit of work: an ordered sequence of steps plus advisory context
// for the reasoning service. Immutable once submitted.
type Task struct {
	ID      string `json:"task_id"`
	Name    string `json:"name"`
	Context string `json:"context,omitempty"`
	Steps   []Step `json:"steps"`

	// Timeout bounds the whole task; zero means the executor default.
	Timeout time.Duration `json:"timeout,omitempty"`
	// RetryCount overrides the executor's per-step retry attempts; zero
	// means the executor default.
	RetryCount int `json:"retry_count,omitempty"`
	// Tolerate lists failure kinds that do not stop the task. Empty by
	// default: the first failing step ends the task.
	Tolerate []ErrorCode `json:"tolerate,omitempty"`
}

// Validate checks the task and every step in it.
func (t *Task) Validate() error {
	if t.ID == "" {
		return Errorf(ErrValidation, "task requires an id")
	}
	if len(t.Steps) == 0 {
		return Errorf(ErrValidation, "task %s has no steps", t.ID)
	}
	for i, step := range t.Steps {
		if err := step.Validate(); err != nil {
			return Errorf(ErrValidation, "task %s step %d: %v", t.ID, i, err)
		}
	}
	return nil
}

// Tolerates reports whether a failure kind is in the task's tolerance set.
func (t *Task) Tolerates(code ErrorCode) bool {
	for _, c := range t.Tolerate {
		if c == code {
			return true
		}
	}
	return false
}

// StepStatus is the terminal status of one step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepOutcome records one step's execution, including the failure kind and
// deepest cause on failure. Aggregated unsuppressed into TaskResult.
type StepOutcome struct {
	Index    int           `json:"index"`
	Action   Action        `json:"action"`
	Status   StepStatus    `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
	Code     ErrorCode     `json:"code,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// TaskResult aggregates the per-step outcomes of one task.
type TaskResult struct {
	TaskID             string        `json:"task_id"`
	Name               string        `json:"name"`
	Success            bool          `json:"success"`
	Steps              []StepOutcome `json:"steps"`
	FailedStep         int           `json:"failed_step"` // -1 when the task succeeded
	IntelligentActions int           `json:"intelligent_actions"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
	Code               ErrorCode     `json:"code,omitempty"`
	Error              string        `json:"error,omitempty"`
}

// SessionHealthy reports whether the session that ran this task can be
// returned to the pool for reuse.
func (r *TaskResult) SessionHealthy() bool {
	return !SessionCompromised(r.Code)
}

// Summary renders a one-line human-readable summary.
func (r *TaskResult) Summary() string {
	if r.Success {
		return fmt.Sprintf("%s: completed %d steps in %s", r.TaskID, len(r.Steps), r.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s: failed at step %d (%s): %s", r.TaskID, r.FailedStep, r.Code, r.Error)
}
