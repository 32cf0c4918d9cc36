package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/clipforge/internal/media"
)

func testElevenLabs(t *testing.T, handler http.HandlerFunc) *ElevenLabsProvider {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	p := NewElevenLabsProvider(&ElevenLabsConfig{APIKey: "test-key"})
	p.endpoint = ts.URL
	return p
}

func TestSynthesizeWritesWAV(t *testing.T) {
	// 100 samples of little-endian 16-bit PCM ramp
	pcm := make([]byte, 200)
	for i := 0; i < 100; i++ {
		v := int16(i * 100)
		pcm[2*i] = byte(v)
		pcm[2*i+1] = byte(v >> 8)
	}
	p := testElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("xi-api-key"))
		w.Write(pcm)
	})

	out := filepath.Join(t.TempDir(), "narration.wav")
	err := p.Synthesize(context.Background(), "hello there", DefaultVoice(), out)
	require.NoError(t, err)

	wave, err := media.DecodeWAVFile(out)
	require.NoError(t, err)
	assert.Equal(t, elevenLabsSampleRate, wave.SampleRate)
	assert.Len(t, wave.Samples, 100)
}

func TestSynthesizeErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"quota", http.StatusTooManyRequests, ErrQuotaExceeded},
		{"payment", http.StatusPaymentRequired, ErrQuotaExceeded},
		{"voice", http.StatusNotFound, ErrVoiceNotFound},
		{"server", http.StatusInternalServerError, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tt.name, tt.status)
			})
			out := filepath.Join(t.TempDir(), "narration.wav")
			err := p.Synthesize(context.Background(), "hello", DefaultVoice(), out)
			assert.ErrorIs(t, err, tt.want)
			_, statErr := os.Stat(out)
			assert.True(t, os.IsNotExist(statErr), "no partial output on failure")
		})
	}
}

func TestSynthesizeNoKey(t *testing.T) {
	t.Setenv("ELEVENLABS_API_KEY", "")
	p := NewElevenLabsProvider(&ElevenLabsConfig{})

	err := p.Synthesize(context.Background(), "hello", DefaultVoice(), filepath.Join(t.TempDir(), "out.wav"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestVoiceMapping(t *testing.T) {
	var gotPath string
	p := testElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write(make([]byte, 8))
	})

	voice := DefaultVoice() // "rachel"
	out := filepath.Join(t.TempDir(), "out.wav")
	require.NoError(t, p.Synthesize(context.Background(), "hi", voice, out))
	assert.Contains(t, gotPath, elevenLabsVoiceMap["rachel"])
}
