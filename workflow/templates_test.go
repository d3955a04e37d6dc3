package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/types"
)

func TestSearchTemplateIsValid(t *testing.T) {
	task := NewBuilder(0.3).Search("https://shop.test", "mechanical keyboard")

	require.NoError(t, task.Validate())
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, types.ActionNavigate, task.Steps[0].Action)
	assert.Equal(t, types.ActionScreenshot, task.Steps[len(task.Steps)-1].Action)
}

func TestPriceComparisonOneTaskPerSite(t *testing.T) {
	sites := []string{"https://a.test", "https://b.test", "https://c.test"}
	tasks := NewBuilder(0.5).PriceComparison("usb hub", sites)

	require.Len(t, tasks, 3)
	for i, task := range tasks {
		require.NoError(t, task.Validate())
		assert.Equal(t, sites[i], task.Steps[0].URL)
		assert.Contains(t, task.Tolerate, types.ErrElementNotFound,
			"a missing price must not sink the whole comparison")

		var hasExtract bool
		for _, s := range task.Steps {
			if s.Action == types.ActionIntelligentExtract {
				hasExtract = true
			}
		}
		assert.True(t, hasExtract)
	}
}

func TestFormFillTemplate(t *testing.T) {
	task := NewBuilder(1.0).FormFill("https://forms.test/contact",
		[]Field{
			{Target: Target{Description: "the name field"}, Value: "Ada"},
			{Target: Target{Description: "the message box"}, Value: "hello"},
		},
		Target{Description: "the send button"},
	)

	require.NoError(t, task.Validate())
	// navigate + 2 fields + submit + screenshot
	assert.Len(t, task.Steps, 5)
	assert.Equal(t, types.ActionIntelligentType, task.Steps[1].Action)
	assert.Equal(t, "Ada", task.Steps[1].Text)
}

func TestLoginTemplate(t *testing.T) {
	task := NewBuilder(1.0).Login("https://shop.test/login", "ada", "hunter2")

	require.NoError(t, task.Validate())
	var typed int
	for _, s := range task.Steps {
		if s.Action == types.ActionIntelligentType {
			typed++
		}
	}
	assert.Equal(t, 2, typed)
}

func TestRatioZeroPrefersSelectors(t *testing.T) {
	b := NewBuilder(0)
	task := b.FormFill("https://forms.test",
		[]Field{
			{Target: Target{Description: "name", Selector: "#name"}, Value: "x"},
			{Target: Target{Description: "mail", Selector: "#mail"}, Value: "y"},
		},
		Target{Description: "submit", Selector: "#submit"},
	)

	require.NoError(t, task.Validate())
	for _, s := range task.Steps[1:4] {
		assert.False(t, s.Intelligent(), "ratio 0 with selectors available must build direct steps")
	}
}

func TestRatioOneForcesIntelligent(t *testing.T) {
	b := NewBuilder(1)
	task := b.FormFill("https://forms.test",
		[]Field{{Target: Target{Description: "name", Selector: "#name"}, Value: "x"}},
		Target{Description: "submit", Selector: "#submit"},
	)

	require.NoError(t, task.Validate())
	assert.True(t, task.Steps[1].Intelligent())
	assert.True(t, task.Steps[2].Intelligent())
}

func TestRatioHalfMixes(t *testing.T) {
	b := NewBuilder(0.5)
	fields := make([]Field, 8)
	for i := range fields {
		fields[i] = Field{Target: Target{Description: "field", Selector: "#f"}, Value: "v"}
	}
	task := b.FormFill("https://forms.test", fields, Target{Description: "submit", Selector: "#s"})

	intelligent := 0
	for _, s := range task.Steps {
		if s.Intelligent() {
			intelligent++
		}
	}
	// 9 addressing choices at ratio 0.5 alternate between the two modes.
	assert.InDelta(t, 4.5, float64(intelligent), 1.0)
}

func TestStepsWithoutSelectorAlwaysIntelligent(t *testing.T) {
	b := NewBuilder(0)
	step := b.clickStep(Target{Description: "only a description"})
	assert.Equal(t, types.ActionIntelligentClick, step.Action)
}
