package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/webpilot-ai/webpilot/driver"
	"github.com/webpilot-ai/webpilot/llm"
	"github.com/webpilot-ai/webpilot/types"
)

// maxPromptElements bounds how many serialized elements go into the
// structural prompt; pages routinely expose hundreds.
const maxPromptElements = 60

const structuralSystemPrompt = `You are a web automation assistant. Given a list of interactive page elements and a target description, pick the element that best matches the description.
Respond with a JSON object only:
{"selector": "<the selector field of the chosen element>", "confidence": "high"|"medium"|"low", "reasoning": "<one short sentence>"}
If no element matches, respond with {"selector": "", "confidence": "low", "reasoning": "no match"}.`

type structuralAnswer struct {
	Selector   string `json:"selector"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// resolveStructural asks the reasoning service to pick an element from the
// serialized page structure.
func (r *Resolver) resolveStructural(ctx context.Context, structure *driver.PageStructure, description string) (*Resolution, error) {
	elements := relevantElements(structure.Elements, description, maxPromptElements)

	payload, err := json.Marshal(elements)
	if err != nil {
		return nil, types.NewError(types.ErrAIService, "serialize page elements").WithCause(err)
	}

	userPrompt := fmt.Sprintf("Page: %s (%s)\nTarget description: %s\nElements:\n%s",
		structure.Title, structure.URL, description, payload)

	raw, err := r.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: structuralSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	var answer structuralAnswer
	if err := json.Unmarshal([]byte(extractJSON(raw)), &answer); err != nil {
		return nil, types.Errorf(types.ErrAIService, "unparseable structural answer: %s", truncate(raw, 120)).WithCause(err)
	}
	if answer.Selector == "" {
		return nil, types.Errorf(types.ErrElementNotFound, "structural tier found no match for %q", description)
	}
	if !selectorKnown(structure, answer.Selector) {
		// Hallucinated selectors never reach the page.
		return nil, types.Errorf(types.ErrAIService, "structural tier returned unknown selector %q", answer.Selector)
	}

	return &Resolution{
		Selector:   answer.Selector,
		Tier:       TierStructural,
		Confidence: parseConfidence(answer.Confidence),
		Reasoning:  answer.Reasoning,
	}, nil
}

// relevantElements prefilters the element list when it exceeds the prompt
// budget, preferring elements sharing words with the description and those
// higher on the page.
func relevantElements(elements []driver.PageElement, description string, limit int) []driver.PageElement {
	if len(elements) <= limit {
		return elements
	}

	words := strings.Fields(strings.ToLower(description))
	type ranked struct {
		el    driver.PageElement
		score int
	}
	rankedEls := make([]ranked, 0, len(elements))
	for _, el := range elements {
		haystack := strings.ToLower(el.Text + " " + el.Placeholder + " " + el.AriaLabel + " " + el.Name + " " + el.ID)
		score := 0
		for _, w := range words {
			if len(w) >= 3 && strings.Contains(haystack, w) {
				score += 10
			}
		}
		if el.Box.Y < 900 {
			score++
		}
		rankedEls = append(rankedEls, ranked{el: el, score: score})
	}

	// Stable selection: keep document order among equally ranked elements.
	out := make([]driver.PageElement, 0, limit)
	for threshold := 20; threshold >= 0 && len(out) < limit; threshold -= 10 {
		for _, r := range rankedEls {
			if len(out) >= limit {
				break
			}
			if r.score >= threshold && (threshold == 20 || r.score < threshold+10) {
				out = append(out, r.el)
			}
		}
	}
	return out
}

// extractJSON strips code fences and surrounding prose from a model reply,
// returning the outermost JSON object.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func parseConfidence(s string) Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ConfidenceHigh
	case "medium":
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
