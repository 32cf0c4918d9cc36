package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// PiperConfig holds local Piper TTS configuration.
type PiperConfig struct {
	BinaryPath string `json:"binary_path"` // empty = "piper" on PATH
	ModelsDir  string `json:"models_dir"`  // directory with .onnx voices
}

// DefaultPiperConfig returns sensible defaults.
func DefaultPiperConfig() *PiperConfig {
	home, _ := os.UserHomeDir()
	return &PiperConfig{
		BinaryPath: "piper",
		ModelsDir:  filepath.Join(home, ".clipforge", "piper-voices"),
	}
}

// voice config id -> piper model name
var piperVoiceMap = map[string]string{
	"rachel": "en_US-amy-medium",
	"bella":  "en_US-amy-medium",
	"josh":   "en_US-lessac-medium",
	"arnold": "en_US-lessac-medium",
}

// PiperProvider runs the local Piper neural TTS binary. Fully offline, no
// quota, used when no hosted provider is configured.
type PiperProvider struct {
	config *PiperConfig
}

// NewPiperProvider creates the provider.
func NewPiperProvider(config *PiperConfig) *PiperProvider {
	if config == nil {
		config = DefaultPiperConfig()
	}
	if config.BinaryPath == "" {
		config.BinaryPath = "piper"
	}
	return &PiperProvider{config: config}
}

// Name returns the provider identifier
func (p *PiperProvider) Name() string {
	return "piper"
}

// Synthesize renders text through the piper binary into a WAV at outPath.
func (p *PiperProvider) Synthesize(ctx context.Context, text string, voice VoiceConfig, outPath string) error {
	model := voice.VoiceID
	if mapped, ok := piperVoiceMap[model]; ok {
		model = mapped
	}
	if model == "" {
		model = "en_US-amy-medium"
	}
	modelPath := filepath.Join(p.config.ModelsDir, model+".onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("%w: model %s not installed", ErrVoiceNotFound, model)
	}

	args := []string{
		"--model", modelPath,
		"--output_file", outPath,
	}
	if voice.Speed > 0 && voice.Speed != 1.0 {
		// piper's length_scale is the inverse of speed
		args = append(args, "--length_scale", strconv.FormatFloat(1.0/voice.Speed, 'f', 2, 64))
	}

	cmd := exec.CommandContext(ctx, p.config.BinaryPath, args...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			return fmt.Errorf("%w: piper binary not found", ErrUnavailable)
		}
		return fmt.Errorf("piper failed: %w: %s", err, stderr.String())
	}
	return nil
}
