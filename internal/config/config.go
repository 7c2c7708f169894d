package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Embedding   EmbeddingConfig           `json:"embedding"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	FileBaseDir   string `json:"file_base_dir"`

	// StorageQuotaMB is the physical byte budget per owner, in MiB.
	StorageQuotaMB int64 `json:"storage_quota_mb"`

	// AnalysisProvider selects which entry of Providers drives content
	// analysis (claude, openai or gemini).
	AnalysisProvider string `json:"analysis_provider"`

	MinWorkers        int `json:"min_workers"`
	MaxWorkers        int `json:"max_workers"`
	QueueSize         int `json:"queue_size"`
	WorkerIdleTimeout int `json:"worker_idle_timeout_minutes"`

	// SweepInterval / SweepGrace control the periodic re-enqueue of files
	// left unprocessed by a crash, both in minutes.
	SweepInterval int `json:"sweep_interval_minutes"`
	SweepGrace    int `json:"sweep_grace_minutes"`

	// AITimeout bounds each analysis or embedding round-trip, in seconds.
	AITimeout int `json:"ai_timeout_seconds"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type EmbeddingConfig struct {
	BaseURL    string `json:"base_url"`
	Model      string `json:"model"`
	APIKey     string `json:"api_key"`
	Dimensions int    `json:"dimensions"`
}

const defaultQuotaMB = 10

// QuotaBytes returns the per-owner physical storage budget.
func (c *Config) QuotaBytes() int64 {
	quota := c.BasicConfig.StorageQuotaMB
	if quota <= 0 {
		quota = defaultQuotaMB
	}
	return quota * 1024 * 1024
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("databases must be configured")
	}

	if db, ok := cfg.Databases["sqlite3"]; ok && db.DSN != "" && !filepath.IsAbs(db.DSN) {
		db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
		cfg.Databases["sqlite3"] = db
	}

	return &cfg, nil
}
