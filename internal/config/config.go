package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Providers    Providers    `yaml:"providers"`
	Index        Index        `yaml:"index"`
	Analysis     Analysis     `yaml:"analysis"`
	Verification Verification `yaml:"verification"`
	Sources      Sources      `yaml:"sources"`
	Scheduler    Scheduler    `yaml:"scheduler"`
	Server       Server       `yaml:"server"`
	VectorStore  VectorStore  `yaml:"vectorstore"`
	Output       Output       `yaml:"output"`
	Logging      Logging      `yaml:"logging"`
}

// Providers lists the LLM backends in priority order.
type Providers struct {
	Enabled          []string           `yaml:"enabled"`
	LoadBalance      bool               `yaml:"load_balance"`
	TargetDimensions int                `yaml:"target_dimensions"`
	RecoveryCooldown time.Duration      `yaml:"recovery_cooldown"`
	RequestTimeout   time.Duration      `yaml:"request_timeout"`
	Backends         map[string]Backend `yaml:"backends"`
}

// Backend holds per-provider overrides. Empty fields use the adapter defaults.
type Backend struct {
	APIKeyEnv      string `yaml:"api_key_env"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
	BaseURL        string `yaml:"base_url"`
}

type Index struct {
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
	EmbedDelay  time.Duration `yaml:"embed_delay"`
	BatchDelay  time.Duration `yaml:"batch_delay"`
}

type Analysis struct {
	Concurrency  int           `yaml:"concurrency"`
	Delay        time.Duration `yaml:"delay"`
	DefaultLimit int           `yaml:"default_limit"`
	ContentChars int           `yaml:"content_chars"`
}

type Verification struct {
	TopK         int `yaml:"top_k"`
	ContentChars int `yaml:"content_chars"`
}

type Sources struct {
	Feeds     []Feed        `yaml:"feeds"`
	NewsAPI   NewsAPIConfig `yaml:"newsapi"`
	Monitored []Site        `yaml:"monitored"`
}

type Feed struct {
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	Source   string `yaml:"source"`
	Category string `yaml:"category"`
}

type NewsAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
	Query     string `yaml:"query"`
	Language  string `yaml:"language"`
}

// Site is a news portal whose availability is checked periodically.
type Site struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	URL         string `yaml:"url"`
}

type Scheduler struct {
	Enabled             bool          `yaml:"enabled"`
	CollectInterval     time.Duration `yaml:"collect_interval"`
	SourceCheckInterval time.Duration `yaml:"source_check_interval"`
	AnalysisLimit       int           `yaml:"analysis_limit"`
}

type Server struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	APIKeyEnv      string   `yaml:"api_key_env"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
}

type VectorStore struct {
	Qdrant QdrantConfig `yaml:"qdrant"`
}

type QdrantConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for vortex.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "vortex")
}

// DataDir returns the XDG data directory for vortex.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "vortex")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/vortex/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'vortex init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults first and
// environment overrides last.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Providers: Providers{
			Enabled:          []string{"openai", "gemini"},
			TargetDimensions: 1536,
			RequestTimeout:   30 * time.Second,
		},
		Index: Index{
			BatchSize:   50,
			Concurrency: 3,
			EmbedDelay:  1500 * time.Millisecond,
			BatchDelay:  5 * time.Second,
		},
		Analysis: Analysis{
			Concurrency:  3,
			Delay:        2 * time.Second,
			DefaultLimit: 5,
			ContentChars: 4000,
		},
		Verification: Verification{TopK: 5, ContentChars: 1500},
		Sources: Sources{
			NewsAPI: NewsAPIConfig{
				APIKeyEnv: "NEWSAPI_KEY",
				Language:  "pt",
			},
		},
		Scheduler: Scheduler{
			Enabled:             true,
			CollectInterval:     12 * time.Hour,
			SourceCheckInterval: time.Hour,
			AnalysisLimit:       10,
		},
		Server: Server{
			Host:      "127.0.0.1",
			Port:      8000,
			APIKeyEnv: "VORTEX_API_KEY",
			AllowedOrigins: []string{
				"http://localhost",
				"http://127.0.0.1",
				"http://localhost:5173",
			},
			MaxBodyBytes: 1 << 20,
		},
		VectorStore: VectorStore{
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "vortex_articles",
			},
		},
		Logging: Logging{Level: "info", Format: "console"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deployments override the provider list without editing YAML.
func (c *Config) applyEnv() error {
	if v := os.Getenv("VORTEX_ENABLED_PROVIDERS"); v != "" {
		var enabled []string
		for _, name := range strings.Split(v, ",") {
			if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
				enabled = append(enabled, name)
			}
		}
		c.Providers.Enabled = enabled
	}
	if v := os.Getenv("VORTEX_LOAD_BALANCE"); v != "" {
		lb, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing VORTEX_LOAD_BALANCE: %w", err)
		}
		c.Providers.LoadBalance = lb
	}
	if v := os.Getenv("VORTEX_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	return nil
}

// Backend returns the settings for a provider, filling the conventional
// NAME_API_KEY variable and the local Ollama URL when unset.
func (p Providers) Backend(name string) Backend {
	b := p.Backends[name]
	if b.APIKeyEnv == "" {
		b.APIKeyEnv = strings.ToUpper(name) + "_API_KEY"
	}
	if name == "ollama" && b.BaseURL == "" {
		b.BaseURL = "http://localhost:11434"
	}
	return b
}

// APIKey reads the credential for a provider from the environment. Gemini
// also accepts GOOGLE_API_KEY.
func (p Providers) APIKey(name string) string {
	key := os.Getenv(p.Backend(name).APIKeyEnv)
	if key == "" && name == "gemini" {
		key = os.Getenv("GOOGLE_API_KEY")
	}
	return key
}

// ServerAPIKey returns the key clients must send in X-API-Key, or "" when
// authentication is disabled.
func (c *Config) ServerAPIKey() string {
	if c.Server.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Server.APIKeyEnv)
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DatabasePath returns the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.GetDataDir(), "vortex.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
