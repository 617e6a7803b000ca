package consistency

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fpwarden/api/schemas"
	"github.com/xkilldash9x/fpwarden/internal/network"
)

func newTestAssessor(endpoint string) *Assessor {
	cfg := network.NewDefaultClientConfig()
	cfg.ForceHTTP2 = false
	return NewAssessor(AssessorConfig{
		Endpoint:  endpoint,
		Model:     "test-model",
		MaxTokens: 512,
	}, network.NewClient(cfg), zap.NewNop())
}

func chatReply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{
				"role":      "assistant",
				"content":   content,
				"reasoning": "checked signals",
			}},
		},
	})
	return string(b)
}

func TestAssessParsesCleanJSON(t *testing.T) {
	var captured atomic.Pointer[chatRequest]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req chatRequest
		require.NoError(t, json.Unmarshal(body, &req))
		captured.Store(&req)
		io.WriteString(w, chatReply(`{"score": 90, "verdict": "OK", "issues": [], "hints": ["none"], "confidence": 0.9}`))
	}))
	defer srv.Close()

	a := newTestAssessor(srv.URL)
	p := schemas.Profile{"name": "ns-main"}
	result, err := a.Assess(context.Background(), p, &schemas.Findings{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 90, result.Score())
	assert.Equal(t, "OK", result.Verdict())
	assert.Equal(t, "checked signals", result["reasoning"])
	raw, _ := result["raw"].(string)
	assert.Contains(t, raw, `"score": 90`)

	req := captured.Load()
	require.NotNil(t, req)
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, float32(0), req.Temperature)
	assert.Equal(t, 512, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[1].Content, "Fingerprint:")
	assert.Contains(t, req.Messages[1].Content, "Deterministic checks:")
	assert.NotContains(t, req.Messages[1].Content, "Note:")
}

func TestAssessIgnoreGeoNote(t *testing.T) {
	var content atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req chatRequest
		_ = json.Unmarshal(body, &req)
		content.Store(req.Messages[1].Content)
		io.WriteString(w, chatReply(`{"score": 80, "verdict": "WARN"}`))
	}))
	defer srv.Close()

	ignore := true
	a := newTestAssessor(srv.URL)
	_, err := a.Assess(context.Background(), schemas.Profile{}, &schemas.Findings{},
		&schemas.ConsistencyOptions{IgnoreGeoCountry: &ignore})
	require.NoError(t, err)

	assert.Contains(t, content.Load().(string), "Ignore any mismatch between IP-based country")
}

func TestAssessExtractsEmbeddedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, chatReply("Here is my assessment:\n```json\n{\"score\": 42, \"verdict\": \"SUSPICIOUS\", \"issues\": [\"tz drift\"]}\n```\nDone."))
	}))
	defer srv.Close()

	a := newTestAssessor(srv.URL)
	result, err := a.Assess(context.Background(), schemas.Profile{}, &schemas.Findings{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 42, result.Score())
	assert.Equal(t, "SUSPICIOUS", result.Verdict())
	assert.NotContains(t, result, "parse_error")
}

func TestAssessRegexRecovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Broken JSON: trailing brace missing, but fields recoverable.
		io.WriteString(w, chatReply(`The result is "score": 55, "verdict": "WARN" with "issues": ["geo mismatch", "no fonts"] listed above`))
	}))
	defer srv.Close()

	a := newTestAssessor(srv.URL)
	result, err := a.Assess(context.Background(), schemas.Profile{}, &schemas.Findings{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 55, result.Score())
	assert.Equal(t, "WARN", result.Verdict())
	assert.Equal(t, []any{"geo mismatch", "no fonts"}, result["issues"])
}

func TestAssessUnparseableKeepsRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, chatReply("I cannot answer in the requested format."))
	}))
	defer srv.Close()

	a := newTestAssessor(srv.URL)
	result, err := a.Assess(context.Background(), schemas.Profile{}, &schemas.Findings{}, nil)
	require.NoError(t, err)

	assert.Contains(t, result, "parse_error")
	assert.Equal(t, "I cannot answer in the requested format.", result["raw"])
	assert.Equal(t, 0, result.Score())
}

func TestAssessPreemptiveCompaction(t *testing.T) {
	var content atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req chatRequest
		_ = json.Unmarshal(body, &req)
		content.Store(req.Messages[1].Content)
		io.WriteString(w, chatReply(`{"score": 70, "verdict": "WARN"}`))
	}))
	defer srv.Close()

	p := schemas.Profile{
		"name":    "ns-main",
		"cookies": strings.Repeat("c", 40000),
	}

	a := newTestAssessor(srv.URL)
	_, err := a.Assess(context.Background(), p, &schemas.Findings{}, nil)
	require.NoError(t, err)

	sent := content.Load().(string)
	assert.NotContains(t, sent, "cookies")
	assert.Contains(t, sent, "Input was too large")
}

func TestAssessContextOverflowRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error": "the prompt exceeds the model context length, trying to keep the first tokens"}`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req chatRequest
		_ = json.Unmarshal(body, &req)
		assert.Contains(t, req.Messages[1].Content, "Retry with compact fingerprint")
		io.WriteString(w, chatReply(`{"score": 65, "verdict": "WARN"}`))
	}))
	defer srv.Close()

	a := newTestAssessor(srv.URL)
	result, err := a.Assess(context.Background(), schemas.Profile{"name": "ns"}, &schemas.Findings{}, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 65, result.Score())
}

func TestAssessNonOverflowHTTPErrorPropagates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error": "model crashed"}`)
	}))
	defer srv.Close()

	a := newTestAssessor(srv.URL)
	_, err := a.Assess(context.Background(), schemas.Profile{}, &schemas.Findings{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAssessTransportErrorPropagates(t *testing.T) {
	a := newTestAssessor("http://127.0.0.1:1")
	_, err := a.Assess(context.Background(), schemas.Profile{}, &schemas.Findings{}, nil)
	require.Error(t, err)
}
