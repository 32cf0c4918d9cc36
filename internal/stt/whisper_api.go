package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

const whisperAPIEndpoint = "https://api.openai.com/v1/audio/transcriptions"

// WhisperAPIConfig holds OpenAI Whisper API configuration.
type WhisperAPIConfig struct {
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model"`
	Language string        `json:"language"` // empty = auto-detect
	Timeout  time.Duration `json:"timeout"`
}

// DefaultWhisperAPIConfig returns sensible defaults.
func DefaultWhisperAPIConfig() *WhisperAPIConfig {
	return &WhisperAPIConfig{
		Model:   "whisper-1",
		Timeout: 120 * time.Second,
	}
}

// WhisperAPIProvider transcribes via OpenAI's hosted Whisper.
type WhisperAPIProvider struct {
	apiKey   string
	client   *http.Client
	config   *WhisperAPIConfig
	endpoint string
}

// NewWhisperAPIProvider creates the provider. The key falls back to the
// OPENAI_API_KEY environment variable.
func NewWhisperAPIProvider(config *WhisperAPIConfig) *WhisperAPIProvider {
	if config == nil {
		config = DefaultWhisperAPIConfig()
	}
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return &WhisperAPIProvider{
		apiKey:   apiKey,
		client:   &http.Client{Timeout: config.Timeout},
		config:   config,
		endpoint: whisperAPIEndpoint,
	}
}

// Name returns the provider identifier
func (p *WhisperAPIProvider) Name() string {
	return "whisper"
}

// Transcribe uploads the audio file and returns the recognized text.
func (p *WhisperAPIProvider) Transcribe(ctx context.Context, audioPath string) (*Transcript, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key not configured", ErrUnavailable)
	}
	start := time.Now()

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.WriteField("model", p.config.Model); err != nil {
		return nil, fmt.Errorf("failed to write model field: %w", err)
	}
	if p.config.Language != "" {
		if err := writer.WriteField("language", p.config.Language); err != nil {
			return nil, fmt.Errorf("failed to write language field: %w", err)
		}
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("failed to write format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var result struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
		Segments []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	tr := &Transcript{
		Text:           result.Text,
		Language:       result.Language,
		Duration:       time.Duration(result.Duration * float64(time.Second)),
		ProcessingTime: time.Since(start),
	}
	for _, s := range result.Segments {
		tr.Segments = append(tr.Segments, Segment{
			Start: time.Duration(s.Start * float64(time.Second)),
			End:   time.Duration(s.End * float64(time.Second)),
			Text:  s.Text,
		})
	}
	return tr, nil
}
