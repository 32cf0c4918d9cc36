package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/normanking/clipforge/internal/media"
)

const (
	elevenLabsEndpoint     = "https://api.elevenlabs.io/v1"
	elevenLabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM" // Rachel - calm, natural female
	elevenLabsSampleRate   = 22050
)

// friendly name -> ElevenLabs voice id
var elevenLabsVoiceMap = map[string]string{
	"rachel": "21m00Tcm4TlvDq8ikWAM",
	"bella":  "EXAVITQu4vr4xnSDxMaL",
	"emily":  "MF3mGyEYCl7XYWbV9V6O",
	"arnold": "VR6AewLTigWG4xSOukaG",
	"antoni": "ErXwobaYiN019PkySvjV",
	"josh":   "TxGEqnHWrfWFTfGW9XjX",
}

// ElevenLabsConfig holds ElevenLabs API configuration.
type ElevenLabsConfig struct {
	APIKey     string  `json:"api_key"`
	ModelID    string  `json:"model_id"`
	Stability  float64 `json:"stability"`
	Similarity float64 `json:"similarity_boost"`
}

// DefaultElevenLabsConfig returns sensible defaults.
func DefaultElevenLabsConfig() *ElevenLabsConfig {
	return &ElevenLabsConfig{
		ModelID:    "eleven_monolingual_v1",
		Stability:  0.5,
		Similarity: 0.75,
	}
}

// ElevenLabsProvider synthesizes narration through the ElevenLabs API. PCM
// is requested so the output can be wrapped as WAV for downstream feature
// analysis without a re-encode.
type ElevenLabsProvider struct {
	apiKey   string
	client   *http.Client
	config   *ElevenLabsConfig
	endpoint string
}

// NewElevenLabsProvider creates the provider. The key falls back to the
// ELEVENLABS_API_KEY environment variable.
func NewElevenLabsProvider(config *ElevenLabsConfig) *ElevenLabsProvider {
	if config == nil {
		config = DefaultElevenLabsConfig()
	}
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ELEVENLABS_API_KEY")
	}
	return &ElevenLabsProvider{
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 120 * time.Second},
		config:   config,
		endpoint: elevenLabsEndpoint,
	}
}

// Name returns the provider identifier
func (p *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

// Synthesize renders text as speech and writes a WAV file to outPath.
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text string, voice VoiceConfig, outPath string) error {
	if p.apiKey == "" {
		return fmt.Errorf("%w: ElevenLabs API key not configured", ErrUnavailable)
	}

	voiceID := voice.VoiceID
	if voiceID == "" {
		voiceID = elevenLabsDefaultVoice
	}
	if mapped, ok := elevenLabsVoiceMap[voiceID]; ok {
		voiceID = mapped
	}

	payload := map[string]any{
		"text":     text,
		"model_id": p.config.ModelID,
		"voice_settings": map[string]float64{
			"stability":        p.config.Stability,
			"similarity_boost": p.config.Similarity,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=pcm_%d",
		p.endpoint, voiceID, elevenLabsSampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusPaymentRequired:
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, string(msg))
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrVoiceNotFound, voiceID)
		default:
			return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(msg))
		}
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read audio: %w", err)
	}

	samples := make([]float64, len(pcm)/2)
	for i := range samples {
		s := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		samples[i] = float64(s) / 32768.0
	}
	wav := media.EncodeWAV(samples, elevenLabsSampleRate)
	if err := os.WriteFile(outPath, wav, 0o644); err != nil {
		return fmt.Errorf("failed to write narration: %w", err)
	}
	return nil
}
