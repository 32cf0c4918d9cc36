// Package config provides configuration management for ClipForge
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Video    VideoConfig    `mapstructure:"video"`
	STT      STTConfig      `mapstructure:"stt"`
	TTS      TTSConfig      `mapstructure:"tts"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Status   StatusConfig   `mapstructure:"status"`
}

// PipelineConfig configures the stage orchestrator
type PipelineConfig struct {
	ArtifactDir  string        `mapstructure:"artifact_dir"`
	MaxAttempts  int           `mapstructure:"max_attempts"`  // retry attempts for transient failures
	RetryBackoff time.Duration `mapstructure:"retry_backoff"` // initial backoff, doubles per attempt
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
}

// AudioConfig configures audio analysis
type AudioConfig struct {
	FrameRate       int     `mapstructure:"frame_rate"`       // feature frames per second
	WindowOverlap   float64 `mapstructure:"window_overlap"`   // 0..1 fraction of window shared with neighbor
	OnsetThreshold  float64 `mapstructure:"onset_threshold"`  // energy rise over trailing average
	TrailingWindows int     `mapstructure:"trailing_windows"` // windows in the trailing average
}

// VideoConfig configures video synthesis
type VideoConfig struct {
	FPS             int    `mapstructure:"fps"`
	Width           int    `mapstructure:"width"`
	Height          int    `mapstructure:"height"`
	CRF             int    `mapstructure:"crf"`
	Preset          string `mapstructure:"preset"`
	AudioBitrate    string `mapstructure:"audio_bitrate"`
	BackgroundClip  string `mapstructure:"background_clip"`
	AvatarImage     string `mapstructure:"avatar_image"`
	MaxHeldFrames   int    `mapstructure:"max_held_frames"` // consecutive detection misses before face is lost
	KeepFeatureDump bool   `mapstructure:"keep_feature_dump"`
}

// STTConfig configures the transcription collaborator
type STTConfig struct {
	Provider  string `mapstructure:"provider"` // whisper, groq, deepgram
	ModelSize string `mapstructure:"model_size"`
	Language  string `mapstructure:"language"`
}

// TTSConfig configures the speech synthesis collaborator
type TTSConfig struct {
	Provider string  `mapstructure:"provider"` // elevenlabs, coqui, piper
	VoiceID  string  `mapstructure:"voice_id"`
	Speed    float64 `mapstructure:"speed"`
	Format   string  `mapstructure:"format"` // wav, mp3
}

// LLMConfig configures the moment-selection and script collaborators
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"` // gemini, openai
	Model          string        `mapstructure:"model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxMoments     int           `mapstructure:"max_moments"`
	ScriptDuration time.Duration `mapstructure:"script_duration"` // target narration length
}

// WatchConfig configures the drop-folder ingester
type WatchConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Dir         string        `mapstructure:"dir"`
	SettleDelay time.Duration `mapstructure:"settle_delay"` // wait for file size to stop changing
}

// StatusConfig configures the WebSocket status server
type StatusConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	ReplaySize int    `mapstructure:"replay_size"` // events replayed to a new subscriber
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Pipeline: PipelineConfig{
			ArtifactDir:  filepath.Join(home, ".clipforge", "runs"),
			MaxAttempts:  3,
			RetryBackoff: 2 * time.Second,
			MaxBackoff:   30 * time.Second,
		},
		Audio: AudioConfig{
			FrameRate:       30,
			WindowOverlap:   0.5,
			OnsetThreshold:  1.5,
			TrailingWindows: 8,
		},
		Video: VideoConfig{
			FPS:           30,
			Width:         1280,
			Height:        720,
			CRF:           20,
			Preset:        "medium",
			AudioBitrate:  "192k",
			MaxHeldFrames: 15,
		},
		STT: STTConfig{
			Provider:  "whisper",
			ModelSize: "base",
			Language:  "en",
		},
		TTS: TTSConfig{
			Provider: "elevenlabs",
			VoiceID:  "rachel",
			Speed:    1.0,
			Format:   "wav",
		},
		LLM: LLMConfig{
			Provider:       "gemini",
			Model:          "gemini-1.5-flash",
			Timeout:        60 * time.Second,
			MaxMoments:     3,
			ScriptDuration: 60 * time.Second,
		},
		Watch: WatchConfig{
			Enabled:     false,
			Dir:         filepath.Join(home, ".clipforge", "inbox"),
			SettleDelay: 2 * time.Second,
		},
		Status: StatusConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:8710",
			ReplaySize: 64,
		},
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return cfg, err
	}

	configDir := filepath.Join(homeDir, ".clipforge")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("CLIPFORGE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(homeDir, ".clipforge")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("pipeline", cfg.Pipeline)
	viper.Set("audio", cfg.Audio)
	viper.Set("video", cfg.Video)
	viper.Set("stt", cfg.STT)
	viper.Set("tts", cfg.TTS)
	viper.Set("llm", cfg.LLM)
	viper.Set("watch", cfg.Watch)
	viper.Set("status", cfg.Status)

	configPath := filepath.Join(configDir, "config.yaml")
	return viper.WriteConfigAs(configPath)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".clipforge"), nil
}
