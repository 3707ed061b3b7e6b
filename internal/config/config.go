package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Voices the backend accepts for the companion.
var Voices = []string{"Ara", "Rex", "Sal", "Eve", "Leo"}

// Config holds all configuration for the voice companion client
type Config struct {
	// Backend API configuration
	APIBaseURL string `envconfig:"API_BASE_URL" default:"http://localhost:5000/api"`

	// Wallet identity used to gate the session
	WalletAddress string `envconfig:"WALLET_ADDRESS" required:"true"`

	// Companion configuration
	Voice string `envconfig:"COMPANION_VOICE" default:"Ara"`                         // Ara, Rex, Sal, Eve, Leo
	Model string `envconfig:"COMPANION_MODEL" default:"grok-4-1-fast-non-reasoning"` // Backend model ID

	// Optional session knobs forwarded to the backend
	UserID             string  `envconfig:"USER_ID" default:""`
	SystemInstructions string  `envconfig:"SYSTEM_INSTRUCTIONS" default:""`
	Temperature        float64 `envconfig:"TEMPERATURE" default:"0.8"`
	UnhingedMode       bool    `envconfig:"UNHINGED_MODE" default:"false"`

	// Audio configuration
	CaptureFramesPerBuffer  int `envconfig:"CAPTURE_FRAMES_PER_BUFFER" default:"4096"`  // Samples per capture callback
	PlaybackFramesPerBuffer int `envconfig:"PLAYBACK_FRAMES_PER_BUFFER" default:"1024"` // Samples per playback write
	JitterMarginMs          int `envconfig:"JITTER_MARGIN_MS" default:"20"`             // Playback jitter buffer in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	MetricsPort    string `envconfig:"METRICS_PORT" default:"9090"`    // Local metrics/health listener
}

// Load reads configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.WalletAddress == "" {
		return fmt.Errorf("WALLET_ADDRESS is required")
	}
	if !validVoice(c.Voice) {
		return fmt.Errorf("unknown companion voice %q (valid: %v)", c.Voice, Voices)
	}
	if c.CaptureFramesPerBuffer <= 0 {
		return fmt.Errorf("CAPTURE_FRAMES_PER_BUFFER must be positive")
	}
	if c.JitterMarginMs < 0 {
		return fmt.Errorf("JITTER_MARGIN_MS must not be negative")
	}
	return nil
}

func validVoice(v string) bool {
	for _, known := range Voices {
		if v == known {
			return true
		}
	}
	return false
}
