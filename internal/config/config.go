// Package config provides configuration loading and structs for the kaiwa server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	WebSearch WebSearchConfig `yaml:"websearch"`
	Chat      ChatConfig      `yaml:"chat"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the database path and the uploaded-file directory.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	FilesPath    string `yaml:"files_path"`
}

// AuthConfig holds token validation settings. Token issuance is external;
// the server only validates bearer tokens signed with this secret.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LLMConfig holds the generation backend settings. Models maps user-facing
// model names to backend model identifiers; AutoModels is the ordered
// candidate list the "auto" selector expands to.
type LLMConfig struct {
	BaseURL      string            `yaml:"base_url"`
	APIKey       string            `yaml:"api_key"`
	Models       map[string]string `yaml:"models"`
	AutoModels   []string          `yaml:"auto_models"`
	SummaryModel string            `yaml:"summary_model"`
	SystemPrompt string            `yaml:"system_prompt"`
}

// EmbeddingConfig holds the embedding backend settings. Models is the
// ordered fallback list of backend embedding models.
type EmbeddingConfig struct {
	BaseURL    string   `yaml:"base_url"`
	APIKey     string   `yaml:"api_key"`
	Models     []string `yaml:"models"`
	Dimensions int      `yaml:"dimensions"`
	CacheSize  int      `yaml:"cache_size"`
}

// WebSearchConfig holds the web search provider settings. An empty APIKey
// disables the provider; turns then run without search context.
type WebSearchConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	MaxResults int    `yaml:"max_results"`
}

// ChatConfig holds turn assembly settings.
type ChatConfig struct {
	HistoryLimit   int             `yaml:"history_limit"`
	SummarizeAfter int             `yaml:"summarize_after"`
	TitleLength    int             `yaml:"title_length"`
	Retrieval      RetrievalConfig `yaml:"retrieval"`
}

// RetrievalConfig holds similarity search settings. MinScore is the
// relevance threshold a chunk must exceed to enter the context.
type RetrievalConfig struct {
	CandidatePool int     `yaml:"candidate_pool"`
	Limit         int     `yaml:"limit"`
	MinScore      float64 `yaml:"min_score"`
}

// IngestConfig holds upload and chunking settings. Chunk sizes are in
// characters; MaxUploadBytes caps the accepted file size.
type IngestConfig struct {
	ChunkSize      int   `yaml:"chunk_size"`
	ChunkOverlap   int   `yaml:"chunk_overlap"`
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// Load reads and parses the config file at path, expands ${ENV} references
// in secrets and relative paths, and applies defaults. Returns an error if
// the file cannot be read or parsed, or if validation fails.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.LLM.APIKey = expandEnv(cfg.LLM.APIKey)
	cfg.Embedding.APIKey = expandEnv(cfg.Embedding.APIKey)
	cfg.WebSearch.APIKey = expandEnv(cfg.WebSearch.APIKey)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.FilesPath = expandPath(cfg.Storage.FilesPath, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings that have no sensible default.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Embedding.Models) == 0 {
		return fmt.Errorf("embedding.models must list at least one model")
	}
	if len(c.LLM.AutoModels) == 0 {
		return fmt.Errorf("llm.auto_models must list at least one model")
	}
	if c.Chat.Retrieval.MinScore < 0 || c.Chat.Retrieval.MinScore > 1 {
		return fmt.Errorf("chat.retrieval.min_score must be in [0,1]")
	}
	return nil
}

// expandEnv resolves ${VAR} references against the environment; plain
// values pass through unchanged.
func expandEnv(value string) string {
	if strings.Contains(value, "${") {
		return os.ExpandEnv(value)
	}
	return value
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
