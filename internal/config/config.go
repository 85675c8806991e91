package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Gemini    GeminiConfig
	Retrieval RetrievalConfig
	Ingest    IngestConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	// DataDir holds the SQLite database, the ingestion cursor file,
	// and the default dump output directory.
	DataDir string
	// Collection is the logical name of the vector collection.
	Collection string
	// BackendRoot is the directory policy document paths resolve against.
	BackendRoot string
}

type GeminiConfig struct {
	APIKey string
	// Model is the generation model used to answer queries.
	Model string
	// EmbedModel is the embedding model used for both ingestion and search.
	EmbedModel string
	// Timeout bounds every call to the Gemini API.
	Timeout time.Duration
}

type RetrievalConfig struct {
	// TopK is the default number of PDF chunks returned by similarity search.
	TopK int
	// MaxPromptChars bounds the context section of the assembled prompt.
	MaxPromptChars int
}

type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 8000},
		Storage: StorageConfig{
			DataDir:     "./data",
			Collection:  "policy_docs",
			BackendRoot: ".",
		},
		Gemini: GeminiConfig{
			Model:      "gemini-2.5-flash",
			EmbedModel: "text-embedding-004",
			Timeout:    30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:           3,
			MaxPromptChars: 3000,
		},
		Ingest: IngestConfig{
			ChunkSize:    800,
			ChunkOverlap: 100,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from the environment, with a .env file (if
// present) loaded first. Every value has a default except the Gemini
// API key, which serve and ingest require.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables")
	}

	cfg := defaults()

	cfg.Server.Port = getEnvInt("POLICYRAG_PORT", cfg.Server.Port)
	cfg.Storage.DataDir = getEnv("POLICYRAG_DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.Collection = getEnv("POLICYRAG_COLLECTION", cfg.Storage.Collection)
	cfg.Storage.BackendRoot = getEnv("POLICYRAG_BACKEND_ROOT", cfg.Storage.BackendRoot)
	cfg.Gemini.APIKey = getEnv("GEMINI_API_KEY", "")
	cfg.Gemini.Model = getEnv("GEMINI_MODEL", cfg.Gemini.Model)
	cfg.Gemini.EmbedModel = getEnv("GEMINI_EMBED_MODEL", cfg.Gemini.EmbedModel)
	cfg.Retrieval.TopK = getEnvInt("POLICYRAG_TOP_K", cfg.Retrieval.TopK)
	cfg.Retrieval.MaxPromptChars = getEnvInt("POLICYRAG_MAX_PROMPT_CHARS", cfg.Retrieval.MaxPromptChars)
	cfg.Ingest.ChunkSize = getEnvInt("POLICYRAG_CHUNK_SIZE", cfg.Ingest.ChunkSize)
	cfg.Ingest.ChunkOverlap = getEnvInt("POLICYRAG_CHUNK_OVERLAP", cfg.Ingest.ChunkOverlap)
	cfg.Log.Level = getEnv("POLICYRAG_LOG_LEVEL", cfg.Log.Level)

	if raw := getEnv("POLICYRAG_LLM_TIMEOUT", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parsing POLICYRAG_LLM_TIMEOUT: %w", err)
		}
		cfg.Gemini.Timeout = d
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", cfg.Ingest.ChunkSize)
	}
	if cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d",
			cfg.Ingest.ChunkOverlap, cfg.Ingest.ChunkSize)
	}
	if cfg.Ingest.ChunkOverlap < 0 {
		return fmt.Errorf("chunk overlap must not be negative, got %d", cfg.Ingest.ChunkOverlap)
	}
	if cfg.Retrieval.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.MaxPromptChars <= 0 {
		return fmt.Errorf("prompt budget must be positive, got %d", cfg.Retrieval.MaxPromptChars)
	}
	return nil
}

// RequireAPIKey returns an error when no Gemini API key is configured.
// Commands that never call the Gemini API (dump, status) skip this check.
func (c Config) RequireAPIKey() error {
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("missing required config: Gemini API key. Set it via environment variable GEMINI_API_KEY")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}
