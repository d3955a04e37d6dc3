// Package workflow builds ready-to-run task lists for common browsing
// patterns: searching, comparing prices across sites, and filling forms.
// Templates mix direct and intelligent steps according to the configured
// intelligence ratio, so operators can trade reasoning cost for
// resilience without editing tasks by hand.
package workflow

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/webpilot-ai/webpilot/types"
)

// Builder produces task templates. One builder tracks its intelligent-step
// mix across everything it builds; not safe for concurrent use.
type Builder struct {
	ratio             float64
	intelligentChosen int
	choices           int
}

// NewBuilder creates a builder. ratio is the target fraction of
// element-addressing steps built as intelligent steps when a direct
// selector alternative exists; steps without a selector are always
// intelligent.
func NewBuilder(ratio float64) *Builder {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return &Builder{ratio: ratio}
}

// Target addresses one element either way: by plain-language description,
// by CSS selector, or both.
type Target struct {
	Description string
	Selector    string
}

// useIntelligent decides the addressing mode for one step, steering the
// running mix toward the configured ratio.
func (b *Builder) useIntelligent(t Target) bool {
	if t.Selector == "" {
		return true
	}
	if t.Description == "" {
		return false
	}
	b.choices++
	if float64(b.intelligentChosen)/float64(b.choices) < b.ratio {
		b.intelligentChosen++
		return true
	}
	return false
}

func (b *Builder) clickStep(t Target) types.Step {
	if b.useIntelligent(t) {
		return types.Step{Action: types.ActionIntelligentClick, Description: t.Description}
	}
	return types.Step{Action: types.ActionClick, Selector: t.Selector}
}

func (b *Builder) typeStep(t Target, text string) types.Step {
	if b.useIntelligent(t) {
		return types.Step{Action: types.ActionIntelligentType, Description: t.Description, Text: text}
	}
	return types.Step{Action: types.ActionType, Selector: t.Selector, Text: text}
}

// Search builds a task that searches a site and captures the results.
func (b *Builder) Search(siteURL, query string) *types.Task {
	return &types.Task{
		ID:      uuid.NewString(),
		Name:    fmt.Sprintf("search: %s", query),
		Context: fmt.Sprintf("searching %s for %q", siteURL, query),
		Steps: []types.Step{
			{Action: types.ActionNavigate, URL: siteURL},
			b.typeStep(Target{Description: "the search input box"}, query),
			b.clickStep(Target{Description: "the search submit button"}),
			{Action: types.ActionIntelligentWait, Condition: "element", Description: "the search results list", Seconds: 10},
			{Action: types.ActionScreenshot, Filename: "search_results"},
		},
	}
}

// PriceComparison builds one task per site, intended for parallel
// execution. Extraction failures are tolerated so one site without a
// visible price does not sink its whole task.
func (b *Builder) PriceComparison(product string, siteURLs []string) []*types.Task {
	tasks := make([]*types.Task, 0, len(siteURLs))
	for i, site := range siteURLs {
		tasks = append(tasks, &types.Task{
			ID:       uuid.NewString(),
			Name:     fmt.Sprintf("price check %d: %s", i, site),
			Context:  fmt.Sprintf("finding the price of %q on %s", product, site),
			Tolerate: []types.ErrorCode{types.ErrElementNotFound},
			Steps: []types.Step{
				{Action: types.ActionNavigate, URL: site},
				b.typeStep(Target{Description: "the search input box"}, product),
				b.clickStep(Target{Description: "the search submit button"}),
				{Action: types.ActionIntelligentWait, Condition: "element", Description: "the first search result", Seconds: 10},
				b.clickStep(Target{Description: "the first product in the results"}),
				{Action: types.ActionIntelligentExtract, Description: "the product price", DataType: "text"},
				{Action: types.ActionScreenshot, Filename: fmt.Sprintf("price_%d", i)},
			},
		})
	}
	return tasks
}

// Field is one form entry.
type Field struct {
	Target Target
	Value  string
}

// FormFill builds a task that fills a form and submits it.
func (b *Builder) FormFill(formURL string, fields []Field, submit Target) *types.Task {
	steps := []types.Step{
		{Action: types.ActionNavigate, URL: formURL},
	}
	for _, f := range fields {
		steps = append(steps, b.typeStep(f.Target, f.Value))
	}
	steps = append(steps,
		b.clickStep(submit),
		types.Step{Action: types.ActionScreenshot, Filename: "form_submitted"},
	)
	return &types.Task{
		ID:      uuid.NewString(),
		Name:    "form fill: " + formURL,
		Context: fmt.Sprintf("filling the form at %s with %d fields", formURL, len(fields)),
		Steps:   steps,
	}
}

// Login builds a sign-in task.
func (b *Builder) Login(loginURL, username, password string) *types.Task {
	return b.FormFill(loginURL, []Field{
		{Target: Target{Description: "the username or email field"}, Value: username},
		{Target: Target{Description: "the password field"}, Value: password},
	}, Target{Description: "the sign in button"})
}
