// clipforge turns long-form narrated recordings into short stand-alone
// videos with synthesized narration and lip-synced or looped visuals.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/normanking/clipforge/internal/config"
	"github.com/normanking/clipforge/internal/llm"
	"github.com/normanking/clipforge/internal/logging"
	"github.com/normanking/clipforge/internal/pipeline"
	"github.com/normanking/clipforge/internal/stt"
	"github.com/normanking/clipforge/internal/tts"
	"github.com/normanking/clipforge/internal/vision"
)

var rootCmd = &cobra.Command{
	Use:   "clipforge",
	Short: "Turn long recordings into short narrated clips",
	Long: `clipforge runs a source recording through transcription, highlight
selection, script writing, narration synthesis, and video composition,
producing a short stand-alone clip with frame-accurate lip-sync or a
duration-matched background loop.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(runCmd, serveCmd, statusCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads config and opens the shared logger.
func setup() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(logging.DefaultConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logging: %w", err)
	}
	return cfg, logger, nil
}

// buildCollaborators selects provider implementations from config.
func buildCollaborators(cfg *config.Config) (pipeline.Collaborators, error) {
	var c pipeline.Collaborators

	switch cfg.STT.Provider {
	case "whisper":
		wcfg := stt.DefaultWhisperAPIConfig()
		wcfg.Language = cfg.STT.Language
		c.Transcriber = stt.NewWhisperAPIProvider(wcfg)
	default:
		return c, fmt.Errorf("unknown STT provider %q", cfg.STT.Provider)
	}

	switch cfg.TTS.Provider {
	case "elevenlabs":
		c.Synthesizer = tts.NewElevenLabsProvider(nil)
	case "piper":
		c.Synthesizer = tts.NewPiperProvider(nil)
	default:
		return c, fmt.Errorf("unknown TTS provider %q", cfg.TTS.Provider)
	}

	switch cfg.LLM.Provider {
	case "gemini":
		gcfg := llm.DefaultGeminiConfig()
		if cfg.LLM.Model != "" {
			gcfg.Model = cfg.LLM.Model
		}
		if cfg.LLM.Timeout > 0 {
			gcfg.Timeout = cfg.LLM.Timeout
		}
		g := llm.NewGeminiProvider(gcfg)
		c.Moments = g
		c.Scripter = g
	default:
		return c, fmt.Errorf("unknown LLM provider %q", cfg.LLM.Provider)
	}

	c.Detector = vision.NewHeuristicDetector()
	return c, nil
}
