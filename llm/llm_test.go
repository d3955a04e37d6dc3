package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/config"
	"github.com/webpilot-ai/webpilot/types"
)

// ---------------------------------------------------------------------------
// Budget
// ---------------------------------------------------------------------------

func TestBudgetCharge(t *testing.T) {
	b := NewBudget(3)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Charge())
	}
	err := b.Charge()
	require.Error(t, err)
	assert.Equal(t, types.ErrBudgetExhausted, types.CodeOf(err))
	assert.Equal(t, 3, b.Used(), "failed charge must not consume")
}

func TestBudgetUnlimited(t *testing.T) {
	b := NewBudget(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, b.Charge())
	}
}

func TestBudgetConcurrent(t *testing.T) {
	b := NewBudget(50)

	var wg sync.WaitGroup
	granted := make(chan struct{}, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Charge() == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	assert.Equal(t, 50, len(granted))
	assert.Equal(t, 50, b.Used())
}

// ---------------------------------------------------------------------------
// OpenAIClient
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewOpenAIClient(config.LLMConfig{
		APIKey:      "test-key",
		BaseURL:     srv.URL,
		Model:       "test-model",
		VisionModel: "test-vision-model",
		Timeout:     5 * time.Second,
	}, zap.NewNop())
}

func TestCompleteSuccess(t *testing.T) {
	var gotReq chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hello"}},
			},
		})
	})

	out, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
		JSONMode: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, "test-model", gotReq.Model)
	require.NotNil(t, gotReq.ResponseFormat)
	assert.Equal(t, "json_object", gotReq.ResponseFormat.Type)
}

func TestCompleteServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrAIService, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err), "service errors are transient")
}

func TestCompleteNoChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrAIService, types.CodeOf(err))
}

func TestCompleteVisionUsesVisionModel(t *testing.T) {
	var gotModel string
	var gotParts int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content []json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model
		if len(req.Messages) > 0 {
			gotParts = len(req.Messages[0].Content)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"marker": 3}`}},
			},
		})
	})

	out, err := client.CompleteVision(context.Background(), "pick the login button", []byte{0x89, 0x50})
	require.NoError(t, err)
	assert.Equal(t, `{"marker": 3}`, out)
	assert.Equal(t, "test-vision-model", gotModel)
	assert.Equal(t, 2, gotParts, "text part plus image part")
}
