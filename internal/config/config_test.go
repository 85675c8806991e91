package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Storage.Collection != "policy_docs" {
		t.Errorf("Collection = %q, want %q", cfg.Storage.Collection, "policy_docs")
	}
	if cfg.Retrieval.TopK != 3 {
		t.Errorf("TopK = %d, want 3", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.MaxPromptChars != 3000 {
		t.Errorf("MaxPromptChars = %d, want 3000", cfg.Retrieval.MaxPromptChars)
	}
	if cfg.Ingest.ChunkSize != 800 || cfg.Ingest.ChunkOverlap != 100 {
		t.Errorf("chunking = %d/%d, want 800/100", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Gemini.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Gemini.Timeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POLICYRAG_PORT", "9100")
	t.Setenv("POLICYRAG_TOP_K", "5")
	t.Setenv("GEMINI_MODEL", "gemini-2.5-pro")
	t.Setenv("POLICYRAG_LLM_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("TopK = %d, want 5", cfg.Retrieval.TopK)
	}
	if cfg.Gemini.Model != "gemini-2.5-pro" {
		t.Errorf("Model = %q, want gemini-2.5-pro", cfg.Gemini.Model)
	}
	if cfg.Gemini.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Gemini.Timeout)
	}
}

func TestLoad_InvalidInt_FallsBackToDefault(t *testing.T) {
	t.Setenv("POLICYRAG_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d, want default 8000", cfg.Server.Port)
	}
}

func TestLoad_RejectsOverlapNotSmallerThanSize(t *testing.T) {
	t.Setenv("POLICYRAG_CHUNK_SIZE", "100")
	t.Setenv("POLICYRAG_CHUNK_OVERLAP", "100")

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted overlap == chunk size, want error")
	}
}

func TestRequireAPIKey(t *testing.T) {
	cfg := defaults()
	if err := cfg.RequireAPIKey(); err == nil {
		t.Error("RequireAPIKey with empty key: want error")
	}
	cfg.Gemini.APIKey = "k"
	if err := cfg.RequireAPIKey(); err != nil {
		t.Errorf("RequireAPIKey with key set: %v", err)
	}
}
