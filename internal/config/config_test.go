package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.SentraBaseURL != "http://127.0.0.1:8000" {
		t.Errorf("SentraBaseURL = %q", cfg.SentraBaseURL)
	}
	if cfg.AgentMode != "deepwiki_sentra_xml" {
		t.Errorf("AgentMode = %q", cfg.AgentMode)
	}
	if !cfg.StreamEnabled {
		t.Error("StreamEnabled should default to true")
	}
	if cfg.SaveDebounceMS != 600 {
		t.Errorf("SaveDebounceMS = %d", cfg.SaveDebounceMS)
	}
	if cfg.FilePreviewMaxBytes != 16384 {
		t.Errorf("FilePreviewMaxBytes = %d", cfg.FilePreviewMaxBytes)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SENTRA_STREAM_ENABLED", "off")
	t.Setenv("CONVERSATION_SAVE_DEBOUNCE_MS", "10") // 低于 min:50, 应被抬升

	cfg := Load()
	if cfg.StreamEnabled {
		t.Error("StreamEnabled should be off")
	}
	if cfg.SaveDebounceMS != 50 {
		t.Errorf("SaveDebounceMS = %d, want min-clamped 50", cfg.SaveDebounceMS)
	}
}
