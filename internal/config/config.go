package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultAppFolder = ".memefax"

// Config is built once at startup and passed by reference into every
// component. Nothing in the pipeline reads the environment after Load.
type Config struct {
	DataDir string `yaml:"data_dir"`

	Telegram struct {
		APIID       int    `yaml:"api_id"`
		APIHash     string `yaml:"api_hash"`
		SessionPath string `yaml:"session_path"`
	} `yaml:"telegram"`

	RateLimit struct {
		RequestsPerSecond int           `yaml:"requests_per_second"`
		MinInterval       time.Duration `yaml:"min_interval"`
	} `yaml:"rate_limit"`

	Media struct {
		MaxBytes int64 `yaml:"max_bytes"`
	} `yaml:"media"`

	Embeddings struct {
		ServerURL  string `yaml:"server_url"`
		ModelID    string `yaml:"model_id"`
		Dimensions int    `yaml:"dimensions"`
	} `yaml:"embeddings"`

	Warehouse struct {
		DSN string `yaml:"dsn"`
	} `yaml:"warehouse"`

	Importer struct {
		MinPassageWords int `yaml:"min_passage_words"`
		CommitBatch     int `yaml:"commit_batch"`
	} `yaml:"importer"`
}

// Load reads the config file at path (or the default location when path is
// empty), then applies MEMEFAX_* environment overrides. A missing file is
// not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(defaultBaseDir(), "config.yaml")
	}
	raw, err := os.ReadFile(filepath.Clean(path))
	if err == nil {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.RateLimit.MinInterval <= 0 {
		cfg.RateLimit.MinInterval = time.Second / time.Duration(cfg.RateLimit.RequestsPerSecond)
	}
	if cfg.Telegram.SessionPath == "" {
		cfg.Telegram.SessionPath = filepath.Join(cfg.DataDir, "session.json")
	}
	return cfg, nil
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() *Config {
	cfg := &Config{}
	cfg.DataDir = filepath.Join(defaultBaseDir(), "data")
	cfg.RateLimit.RequestsPerSecond = 50
	cfg.RateLimit.MinInterval = 20 * time.Millisecond
	cfg.Media.MaxBytes = 50 * 1024 * 1024
	cfg.Embeddings.ServerURL = "http://localhost:8000/embed"
	cfg.Embeddings.ModelID = "llama-server"
	cfg.Embeddings.Dimensions = 1024
	cfg.Warehouse.DSN = "postgres://postgres@localhost:5432/postgres"
	cfg.Importer.MinPassageWords = 10
	cfg.Importer.CommitBatch = 10
	return cfg
}

// ChatDir returns the per-chat storage directory. Negative chat ids keep
// their sign so group and channel directories stay distinct from users.
func (c *Config) ChatDir(chatID int64) string {
	return filepath.Join(c.DataDir, strconv.FormatInt(chatID, 10))
}

func (c *Config) ChatDBPath(chatID int64) string {
	return filepath.Join(c.ChatDir(chatID), "messages.db")
}

func (c *Config) MediaDir(chatID int64) string {
	return filepath.Join(c.ChatDir(chatID), "media")
}

func (c *Config) ManifestDBPath() string {
	return filepath.Join(c.DataDir, "manifest.db")
}

func (c *Config) ManifestJSONPath() string {
	return filepath.Join(c.DataDir, "manifest.json")
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MEMEFAX_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MEMEFAX_API_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Telegram.APIID = id
		}
	}
	if v := os.Getenv("MEMEFAX_API_HASH"); v != "" {
		cfg.Telegram.APIHash = strings.TrimSpace(v)
	}
	if v := os.Getenv("MEMEFAX_EMBED_URL"); v != "" {
		cfg.Embeddings.ServerURL = v
	}
	if v := os.Getenv("MEMEFAX_WAREHOUSE_DSN"); v != "" {
		cfg.Warehouse.DSN = v
	}
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultAppFolder
	}
	return filepath.Join(home, defaultAppFolder)
}
