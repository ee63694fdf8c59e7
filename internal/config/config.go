package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// WebSearch configures the optional web-search branch of the pipeline.
type WebSearch struct {
	Enabled    bool   `yaml:"enabled"`
	APIKey     string `yaml:"api_key"`
	MaxResults int    `yaml:"max_results"`
}

// Config is the root application configuration. The pipeline never reads it
// as ambient state; callers snapshot the values they need into a per-run
// pipeline.Config.
type Config struct {
	OllamaURL      string    `yaml:"ollama_url"`
	ChatModel      string    `yaml:"chat_model"`
	EmbeddingModel string    `yaml:"embedding_model"`
	FolderPath     string    `yaml:"folder_path"`
	SearchURLs     []string  `yaml:"search_urls"`
	TopK           int       `yaml:"top_k"`
	WebSearch      WebSearch `yaml:"web_search"`
}

// Load reads a config from path. A missing file yields defaults, not an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./localrag.yaml first, then ~/.config/localrag/config.yaml.
func LoadDefault() (*Config, string, error) {
	cwdPath := "localrag.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "localrag", "config.yaml"), nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.OllamaURL == "" {
		cfg.OllamaURL = "http://localhost:11434"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "llama3.2:3b-instruct-fp16"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "mxbai-embed-large:latest"
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.WebSearch.MaxResults <= 0 {
		cfg.WebSearch.MaxResults = 3
	}
}

// applyEnv lets environment variables override file values. TAVILY_API_KEY
// is also honored since that is what the search provider documents (and what
// .env files in the wild contain).
func applyEnv(cfg *Config) {
	if v := os.Getenv("LOCALRAG_OLLAMA_URL"); v != "" {
		cfg.OllamaURL = v
	}
	if v := os.Getenv("LOCALRAG_CHAT_MODEL"); v != "" {
		cfg.ChatModel = v
	}
	if v := os.Getenv("LOCALRAG_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("LOCALRAG_FOLDER"); v != "" {
		cfg.FolderPath = v
	}
	if v := os.Getenv("LOCALRAG_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TopK = n
		}
	}
	if v := os.Getenv("TAVILY_API_KEY"); v != "" {
		cfg.WebSearch.APIKey = v
	}
	if v := os.Getenv("LOCALRAG_WEB_SEARCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.WebSearch.Enabled = b
		}
	}
}
