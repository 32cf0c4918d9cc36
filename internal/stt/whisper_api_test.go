package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWhisper(t *testing.T, handler http.HandlerFunc) *WhisperAPIProvider {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	p := NewWhisperAPIProvider(&WhisperAPIConfig{APIKey: "test-key", Model: "whisper-1", Timeout: 5 * time.Second})
	p.endpoint = ts.URL
	return p
}

func audioFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(path, []byte("fake wav bytes"), 0o644))
	return path
}

func TestTranscribe(t *testing.T) {
	p := testWhisper(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))

		w.Write([]byte(`{
			"text": "hello world",
			"language": "en",
			"duration": 1.5,
			"segments": [
				{"start": 0, "end": 0.7, "text": "hello"},
				{"start": 0.7, "end": 1.5, "text": "world"}
			]
		}`))
	})

	tr, err := p.Transcribe(context.Background(), audioFixture(t))
	require.NoError(t, err)

	assert.Equal(t, "hello world", tr.Text)
	assert.Equal(t, "en", tr.Language)
	assert.Equal(t, 1500*time.Millisecond, tr.Duration)
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, 700*time.Millisecond, tr.Segments[0].End)
}

func TestTranscribeEmptyTextIsValid(t *testing.T) {
	p := testWhisper(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text": "", "duration": 3.0}`))
	})

	tr, err := p.Transcribe(context.Background(), audioFixture(t))
	require.NoError(t, err)
	assert.Empty(t, tr.Text)
}

func TestTranscribeServerError(t *testing.T) {
	p := testWhisper(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := p.Transcribe(context.Background(), audioFixture(t))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTranscribeNoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	p := NewWhisperAPIProvider(nil)

	_, err := p.Transcribe(context.Background(), audioFixture(t))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTranscribeMissingFile(t *testing.T) {
	p := testWhisper(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := p.Transcribe(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	assert.Error(t, err)
}
