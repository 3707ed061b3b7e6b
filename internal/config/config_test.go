package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	os.Setenv("WALLET_ADDRESS", "11111111111111111111111111111111")
	defer os.Unsetenv("WALLET_ADDRESS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.WalletAddress != "11111111111111111111111111111111" {
		t.Errorf("Expected wallet address to be read, got '%s'", cfg.WalletAddress)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("WALLET_ADDRESS")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when WALLET_ADDRESS is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("WALLET_ADDRESS", "wallet-1")
	defer os.Unsetenv("WALLET_ADDRESS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.APIBaseURL != "http://localhost:5000/api" {
		t.Errorf("Expected default APIBaseURL 'http://localhost:5000/api', got '%s'", cfg.APIBaseURL)
	}

	if cfg.Voice != "Ara" {
		t.Errorf("Expected default Voice 'Ara', got '%s'", cfg.Voice)
	}

	if cfg.Model != "grok-4-1-fast-non-reasoning" {
		t.Errorf("Expected default Model 'grok-4-1-fast-non-reasoning', got '%s'", cfg.Model)
	}

	if cfg.CaptureFramesPerBuffer != 4096 {
		t.Errorf("Expected default CaptureFramesPerBuffer 4096, got %d", cfg.CaptureFramesPerBuffer)
	}

	if cfg.JitterMarginMs != 20 {
		t.Errorf("Expected default JitterMarginMs 20, got %d", cfg.JitterMarginMs)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected metrics to be enabled by default")
	}
}

func TestLoad_InvalidVoice(t *testing.T) {
	os.Setenv("WALLET_ADDRESS", "wallet-1")
	os.Setenv("COMPANION_VOICE", "Morgan")
	defer os.Unsetenv("WALLET_ADDRESS")
	defer os.Unsetenv("COMPANION_VOICE")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for unknown voice")
	}
}

func TestLoad_ValidVoices(t *testing.T) {
	os.Setenv("WALLET_ADDRESS", "wallet-1")
	defer os.Unsetenv("WALLET_ADDRESS")
	defer os.Unsetenv("COMPANION_VOICE")

	for _, voice := range Voices {
		os.Setenv("COMPANION_VOICE", voice)
		cfg, err := Load()
		if err != nil {
			t.Errorf("Load() failed for voice %q: %v", voice, err)
			continue
		}
		if cfg.Voice != voice {
			t.Errorf("Expected voice %q, got %q", voice, cfg.Voice)
		}
	}
}
