package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	EnableCORS bool   `mapstructure:"enable_cors"`
}

// AuthConfig holds admission-control settings.
type AuthConfig struct {
	// APIAccessToken guards all /api routes. Empty disables the check.
	APIAccessToken string `mapstructure:"api_access_token"`
	// DailyRequestLimit caps pipeline runs per identity per day.
	DailyRequestLimit int `mapstructure:"daily_request_limit"`
	// QuotaCacheSize bounds the number of live identity-day buckets.
	QuotaCacheSize int `mapstructure:"quota_cache_size"`
}

// LLMConfig holds generation backend settings.
type LLMConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	StrongModel    string `mapstructure:"strong_model"`
	LightModel     string `mapstructure:"light_model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// EmbeddingConfig holds embedding backend settings.
type EmbeddingConfig struct {
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	CacheSize int    `mapstructure:"cache_size"`
}

// StoreConfig holds vector store settings.
type StoreConfig struct {
	PersistPath string `mapstructure:"persist_path"`
}

// ValidationConfig holds disclosure-check settings.
type ValidationConfig struct {
	// LeakKeywords is the deterministic phase-1 scan list, matched
	// case-insensitively against the drafted email.
	LeakKeywords []string `mapstructure:"leak_keywords"`
	// MaxEmailIterations bounds the email redraft loop.
	MaxEmailIterations int `mapstructure:"max_email_iterations"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Store      StoreConfig      `mapstructure:"store"`
	Validation ValidationConfig `mapstructure:"validation"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DefaultLeakKeywords is the phase-1 internal-terminology scan list used
// when the config does not override it.
var DefaultLeakKeywords = []string{
	"stock level",
	"weeks to oos",
	"risk level",
	"internal analysis",
	"replenishment timeline",
	"wks_to_oos",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("auth.api_access_token", "")
	v.SetDefault("auth.daily_request_limit", 20)
	v.SetDefault("auth.quota_cache_size", 4096)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.strong_model", "gpt-4o")
	v.SetDefault("llm.light_model", "gpt-4o-mini")
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.cache_size", 10000)
	v.SetDefault("store.persist_path", "")
	v.SetDefault("validation.leak_keywords", DefaultLeakKeywords)
	v.SetDefault("validation.max_email_iterations", 3)
	v.SetDefault("logging.level", "info")
}

// Load reads procura-config.yaml from $HOME or the working directory plus
// PROCURA_* environment overrides (e.g. PROCURA_LLM_API_KEY).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("procura-config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PROCURA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; env and defaults still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Auth.DailyRequestLimit <= 0 {
		cfg.Auth.DailyRequestLimit = 20
	}
	if cfg.Validation.MaxEmailIterations <= 0 {
		cfg.Validation.MaxEmailIterations = 3
	}
	if len(cfg.Validation.LeakKeywords) == 0 {
		cfg.Validation.LeakKeywords = append([]string(nil), DefaultLeakKeywords...)
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}

	return &cfg, nil
}
