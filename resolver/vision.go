package resolver

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/driver"
	"github.com/webpilot-ai/webpilot/types"
)

const visionPromptTemplate = `The screenshot shows a web page with interactive elements marked by numbered red boxes.
Find the element matching this description: %q
Respond with a JSON object only:
{"marker": <number of the matching box>, "confidence": "high"|"medium"|"low", "reasoning": "<one short sentence>"}
If no marked element matches, respond with {"marker": 0, "confidence": "low", "reasoning": "no match"}.`

type visionAnswer struct {
	Marker     int    `json:"marker"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// resolveVision overlays numbered markers on the page, sends a screenshot
// to the vision model, and maps the chosen marker back to its selector.
// Markers are always removed before returning, so the page is left as the
// tier found it.
func (r *Resolver) resolveVision(ctx context.Context, page driver.Page, description string) (*Resolution, error) {
	marked, err := page.MarkElements(ctx, r.cfg.MaxMarkers)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := page.ClearMarks(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("failed to clear visual markers", zap.Error(err))
		}
	}()
	if len(marked) == 0 {
		return nil, types.NewError(types.ErrElementNotFound, "no markable elements on page")
	}

	shot, err := page.CaptureImage(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := r.vision.CompleteVision(ctx, fmt.Sprintf(visionPromptTemplate, description), shot.Data)
	if err != nil {
		return nil, err
	}

	var answer visionAnswer
	if err := json.Unmarshal([]byte(extractJSON(raw)), &answer); err != nil {
		return nil, types.Errorf(types.ErrAIService, "unparseable vision answer: %s", truncate(raw, 120)).WithCause(err)
	}
	if answer.Marker <= 0 || answer.Marker > len(marked) {
		return nil, types.Errorf(types.ErrElementNotFound,
			"vision tier found no match for %q (marker %d of %d)", description, answer.Marker, len(marked))
	}

	// Markers are numbered from 1 in marker order.
	el := marked[answer.Marker-1]
	return &Resolution{
		Selector:   el.Selector,
		Tier:       TierVision,
		Confidence: parseConfidence(answer.Confidence),
		Reasoning:  answer.Reasoning,
	}, nil
}
