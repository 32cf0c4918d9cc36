package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiConfig holds Google Gemini API configuration.
type GeminiConfig struct {
	APIKey  string        `json:"api_key"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig() *GeminiConfig {
	return &GeminiConfig{
		Model:   "gemini-1.5-flash",
		Timeout: 60 * time.Second,
	}
}

// GeminiProvider implements both MomentSelector and ScriptWriter over the
// Gemini REST API.
type GeminiProvider struct {
	apiKey   string
	client   *http.Client
	config   *GeminiConfig
	endpoint string
}

// NewGeminiProvider creates the provider. The key falls back to the
// GEMINI_API_KEY environment variable.
func NewGeminiProvider(config *GeminiConfig) *GeminiProvider {
	if config == nil {
		config = DefaultGeminiConfig()
	}
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	return &GeminiProvider{
		apiKey:   apiKey,
		client:   &http.Client{Timeout: config.Timeout},
		config:   config,
		endpoint: geminiEndpoint,
	}
}

// Name returns the provider identifier
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// SelectMoments asks the model for the most notable spans of the transcript
// as structured JSON, ordered by descending score.
func (p *GeminiProvider) SelectMoments(ctx context.Context, transcript string, max int) ([]MomentSummary, error) {
	prompt := fmt.Sprintf(`Analyze this transcript and identify the %d most engaging, surprising, or quotable moments. Respond with ONLY a JSON array, no prose, where each element has:
- "start_seconds": number, approximate start offset into the recording
- "end_seconds": number, approximate end offset
- "summary": string, one sentence describing the moment
- "score": number between 0 and 1, how notable the moment is

Transcript:
%s`, max, transcript)

	text, err := p.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		StartSeconds float64 `json:"start_seconds"`
		EndSeconds   float64 `json:"end_seconds"`
		Summary      string  `json:"summary"`
		Score        float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse moments response: %w", err)
	}

	moments := make([]MomentSummary, 0, len(raw))
	for _, m := range raw {
		moments = append(moments, MomentSummary{
			Start:   time.Duration(m.StartSeconds * float64(time.Second)),
			End:     time.Duration(m.EndSeconds * float64(time.Second)),
			Summary: m.Summary,
			Score:   m.Score,
		})
	}
	sort.SliceStable(moments, func(i, j int) bool { return moments[i].Score > moments[j].Score })
	if len(moments) > max {
		moments = moments[:max]
	}
	return moments, nil
}

// WriteScript asks the model for a clean spoken monologue covering the
// selected moments. The prompt forbids stage directions so the output can be
// fed to TTS verbatim.
func (p *GeminiProvider) WriteScript(ctx context.Context, moments []MomentSummary, target time.Duration) (string, error) {
	var sb strings.Builder
	for i, m := range moments {
		fmt.Fprintf(&sb, "%d. [%s - %s] %s\n", i+1, m.Start.Round(time.Second), m.End.Round(time.Second), m.Summary)
	}

	prompt := fmt.Sprintf(`Write a spoken monologue script of roughly %.0f seconds covering these highlights from a recording:

%s
Rules:
- Plain spoken prose only. No stage directions, no speaker labels, no markdown, no brackets.
- Natural conversational tone, first person.
- Respond with the script text and nothing else.`, target.Seconds(), sb.String())

	text, err := p.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(stripCodeFence(text))
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// generate performs one generateContent call and returns the first candidate
// text.
func (p *GeminiProvider) generate(ctx context.Context, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("%w: Gemini API key not configured", ErrUnavailable)
	}

	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", p.endpoint, p.config.Model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(respBody))
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}

// stripCodeFence removes a surrounding markdown code fence if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
