package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiReply(text string) string {
	resp := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func testProvider(t *testing.T, handler http.HandlerFunc) *GeminiProvider {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	p := NewGeminiProvider(&GeminiConfig{APIKey: "test-key", Model: "gemini-1.5-flash", Timeout: 5 * time.Second})
	p.endpoint = ts.URL
	return p
}

func TestSelectMoments(t *testing.T) {
	moments := `[
		{"start_seconds": 12, "end_seconds": 30, "summary": "surprising turn", "score": 0.7},
		{"start_seconds": 95, "end_seconds": 110, "summary": "the punchline", "score": 0.95}
	]`
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(geminiReply("```json\n" + moments + "\n```")))
	})

	got, err := p.SelectMoments(context.Background(), "a transcript", 3)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// ordered by descending score
	assert.Equal(t, "the punchline", got[0].Summary)
	assert.Equal(t, 95*time.Second, got[0].Start)
	assert.Equal(t, 110*time.Second, got[0].End)
	assert.InDelta(t, 0.95, got[0].Score, 1e-9)
}

func TestSelectMomentsTruncatesToMax(t *testing.T) {
	moments := `[
		{"start_seconds": 1, "end_seconds": 2, "summary": "a", "score": 0.1},
		{"start_seconds": 3, "end_seconds": 4, "summary": "b", "score": 0.9},
		{"start_seconds": 5, "end_seconds": 6, "summary": "c", "score": 0.5}
	]`
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(geminiReply(moments)))
	})

	got, err := p.SelectMoments(context.Background(), "a transcript", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Summary)
	assert.Equal(t, "c", got[1].Summary)
}

func TestWriteScript(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(geminiReply("Here is what happened today.")))
	})

	script, err := p.WriteScript(context.Background(), []MomentSummary{
		{Start: time.Second, End: 2 * time.Second, Summary: "something", Score: 0.5},
	}, 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Here is what happened today.", script)
}

func TestWriteScriptEmptyResponse(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(geminiReply("   ")))
	})

	_, err := p.WriteScript(context.Background(), nil, 60*time.Second)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGenerateServerError(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := p.SelectMoments(context.Background(), "x", 3)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGenerateNoKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	p := NewGeminiProvider(&GeminiConfig{Timeout: time.Second})

	_, err := p.SelectMoments(context.Background(), "x", 3)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"```json\n[1]\n```", "[1]"},
		{"```\nhello\n```", "hello"},
		{"  ```json\n{}\n```  ", "{}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripCodeFence(tt.in))
	}
}
