// Package llm provides the reasoning service clients used for structural
// element resolution, visual resolution, and adaptive decision making. The
// wire format is the OpenAI chat completions dialect, which Groq, DeepSeek
// and most local gateways speak.
package llm

import (
	"context"
	"sync/atomic"

	"github.com/webpilot-ai/webpilot/types"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one reasoning call.
type Request struct {
	Messages    []Message
	Model       string // empty uses the client default
	Temperature float64
	MaxTokens   int
	// JSONMode asks the service to emit a strict JSON object response.
	JSONMode bool
}

// Client is a text reasoning service.
type Client interface {
	// Complete returns the assistant text for the request.
	Complete(ctx context.Context, req Request) (string, error)
}

// VisionClient reasons over a screenshot plus a text prompt.
type VisionClient interface {
	CompleteVision(ctx context.Context, prompt string, image []byte) (string, error)
}

// Budget caps reasoning calls charged to a single task. It is safe for
// concurrent use; parallel sub-tasks share one budget.
type Budget struct {
	limit int64
	used  atomic.Int64
}

// NewBudget returns a budget allowing limit calls. A non-positive limit
// means unlimited.
func NewBudget(limit int) *Budget {
	return &Budget{limit: int64(limit)}
}

// Charge consumes one call, or reports exhaustion without consuming.
func (b *Budget) Charge() error {
	if b == nil || b.limit <= 0 {
		return nil
	}
	for {
		cur := b.used.Load()
		if cur >= b.limit {
			return types.Errorf(types.ErrBudgetExhausted, "reasoning call budget of %d exhausted", b.limit)
		}
		if b.used.CompareAndSwap(cur, cur+1) {
			return nil
		}
	}
}

// Used reports calls charged so far.
func (b *Budget) Used() int {
	if b == nil {
		return 0
	}
	return int(b.used.Load())
}
