package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStep_Validate(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr bool
	}{
		{"navigate ok", Step{Action: ActionNavigate, URL: "https://example.com"}, false},
		{"navigate missing url", Step{Action: ActionNavigate}, true},
		{"click ok", Step{Action: ActionClick, Selector: "#go"}, false},
		{"click missing selector", Step{Action: ActionClick}, true},
		{"type missing selector", Step{Action: ActionType, Text: "hi"}, true},
		{"wait ok", Step{Action: ActionWait, Seconds: 1.5}, false},
		{"wait zero seconds", Step{Action: ActionWait}, true},
		{"screenshot no filename", Step{Action: ActionScreenshot}, false},
		{"intelligent_click ok", Step{Action: ActionIntelligentClick, Description: "login button"}, false},
		{"intelligent_click missing description", Step{Action: ActionIntelligentClick}, true},
		{"intelligent_type missing description", Step{Action: ActionIntelligentType, Text: "x"}, true},
		{"intelligent_wait element needs description", Step{Action: ActionIntelligentWait, Condition: "element"}, true},
		{"intelligent_wait time", Step{Action: ActionIntelligentWait, Condition: "time", Seconds: 2}, false},
		{"unknown action", Step{Action: "hover"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, ErrValidation, CodeOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStep_Intelligent(t *testing.T) {
	assert.True(t, Step{Action: ActionIntelligentClick}.Intelligent())
	assert.True(t, Step{Action: ActionIntelligentExtract}.Intelligent())
	assert.False(t, Step{Action: ActionClick}.Intelligent())
	assert.False(t, Step{Action: ActionNavigate}.Intelligent())
}

func TestTask_Validate(t *testing.T) {
	valid := Task{
		ID:   "search_task",
		Name: "Search",
		Steps: []Step{
			{Action: ActionNavigate, URL: "https://example.com"},
			{Action: ActionIntelligentClick, Description: "search box"},
		},
	}
	assert.NoError(t, valid.Validate())

	noID := valid
	noID.ID = ""
	assert.Error(t, noID.Validate())

	noSteps := Task{ID: "t", Name: "empty"}
	assert.Error(t, noSteps.Validate())

	badStep := Task{ID: "t", Steps: []Step{{Action: ActionNavigate}}}
	err := badStep.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrValidation, CodeOf(err))
}

func TestTask_Tolerates(t *testing.T) {
	task := Task{ID: "t", Tolerate: []ErrorCode{ErrElementNotFound}}
	assert.True(t, task.Tolerates(ErrElementNotFound))
	assert.False(t, task.Tolerates(ErrNavigation))
}

func TestTaskResult_SessionHealthy(t *testing.T) {
	ok := TaskResult{Success: true, FailedStep: -1}
	assert.True(t, ok.SessionHealthy())

	timedOut := TaskResult{Code: ErrTaskTimeout}
	assert.False(t, timedOut.SessionHealthy())

	notFound := TaskResult{Code: ErrElementNotFound}
	assert.True(t, notFound.SessionHealthy())
}
