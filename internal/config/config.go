package config

import "time"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sources   SourcesConfig   `yaml:"sources"`
	APIKeys   APIKeysConfig   `yaml:"api_keys"`
	Registry  RegistryConfig  `yaml:"registry"`
	Inspector InspectorConfig `yaml:"inspector"`
	Spending  SpendingConfig  `yaml:"spending"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// SourcesConfig holds the discovery endpoints for each model source.
// An empty OllamaURL disables the local source.
type SourcesConfig struct {
	OpenRouterURL string `yaml:"openrouter_url"`
	ZenAPIURL     string `yaml:"zen_api_url"`
	ZenDocsURL    string `yaml:"zen_docs_url"`
	OllamaURL     string `yaml:"ollama_url"`
}

type APIKeysConfig struct {
	OpenRouter string `yaml:"openrouter"`
	Zen        string `yaml:"opencode_zen"`
}

type RegistryConfig struct {
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	FetchRPS     float64       `yaml:"fetch_rps"`
}

type InspectorConfig struct {
	Enabled         bool `yaml:"enabled"`
	MaxTransactions int  `yaml:"max_transactions"`
}

type SpendingConfig struct {
	DailyCap      float64 `yaml:"daily_cap"`
	MonthlyCap    float64 `yaml:"monthly_cap"`
	WarnAtPercent int     `yaml:"warn_at_percent"`
	// BoltPath is the embedded counter store used by default. DatabaseDSN,
	// when set, switches the tracker to Postgres instead.
	BoltPath    string `yaml:"bolt_path"`
	DatabaseDSN string `yaml:"database_dsn"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	MetricsPath string `yaml:"metrics_path"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 15 * time.Second,
		},
		Sources: SourcesConfig{
			OpenRouterURL: "https://openrouter.ai/api/v1/models",
			ZenAPIURL:     "https://opencode.ai/zen/v1/models",
			ZenDocsURL:    "https://opencode.ai/docs/zen",
			OllamaURL:     "http://127.0.0.1:11434",
		},
		Registry: RegistryConfig{
			CacheTTL:     time.Hour,
			FetchTimeout: 30 * time.Second,
			FetchRPS:     4,
		},
		Inspector: InspectorConfig{
			Enabled:         true,
			MaxTransactions: 1000,
		},
		Spending: SpendingConfig{
			DailyCap:      5.0,
			MonthlyCap:    50.0,
			WarnAtPercent: 80,
			BoltPath:      "spending.db",
		},
		Redis: RedisConfig{
			PoolSize: 10,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			MetricsPath: "/metrics",
		},
	}
}
