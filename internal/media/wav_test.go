package media

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeWAV(t *testing.T) {
	samples := make([]float64, 16000)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/16000)
	}

	data := EncodeWAV(samples, 16000)
	w, err := DecodeWAV(data)
	require.NoError(t, err)

	assert.Equal(t, 16000, w.SampleRate)
	assert.Len(t, w.Samples, len(samples))
	assert.InDelta(t, 1.0, w.Duration(), 0.001)

	// 16-bit quantization noise only
	for i := 0; i < len(samples); i += 1000 {
		assert.InDelta(t, samples[i], w.Samples[i], 0.001)
	}
}

func TestDecodeWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	samples := []float64{0, 0.25, -0.25, 0.5, -0.5, 0}
	require.NoError(t, os.WriteFile(path, EncodeWAV(samples, 8000), 0o644))

	w, err := DecodeWAVFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, w.SampleRate)
	assert.Len(t, w.Samples, len(samples))
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	_, err := DecodeWAV([]byte("definitely not a wav file"))
	assert.ErrorIs(t, err, ErrNotWAV)

	_, err = DecodeWAV(nil)
	assert.ErrorIs(t, err, ErrNotWAV)
}
