package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/soundprediction/piqa/pkg/model"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Model construction options
	Model model.Config `mapstructure:"model"`

	// Merge scorer configuration
	Merge MergeConfig `mapstructure:"merge"`

	// Embedding configuration
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`

	// Telemetry configuration
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// Checkpoint configuration
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
}

// CircuitBreakerConfig holds configuration for circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	ParquetPath string `mapstructure:"parquet_path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// MergeConfig holds the TF-IDF merge options
type MergeConfig struct {
	TfidfWeight float64 `mapstructure:"tfidf_weight"`
	Draft       bool    `mapstructure:"draft"`
}

// EmbeddingConfig holds embedding configuration
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"` // glove, openai, embedeverything
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	GlovePath  string `mapstructure:"glove_path"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
	CacheSize  int    `mapstructure:"cache_size"`
}

// CheckpointConfig holds checkpoint locations
type CheckpointConfig struct {
	Dir  string `mapstructure:"dir"`
	Name string `mapstructure:"name"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Set defaults
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override with environment variables if present
	overrideWithEnv(config)

	if err := config.Model.Validate(); err != nil {
		return nil, fmt.Errorf("model config: %w", err)
	}
	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "color")

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 9003)
	viper.SetDefault("server.mode", "release")

	// Model defaults
	m := model.DefaultConfig()
	viper.SetDefault("model.hidden_size", m.HiddenSize)
	viper.SetDefault("model.embed_size", m.EmbedSize)
	viper.SetDefault("model.dropout", m.Dropout)
	viper.SetDefault("model.num_heads", m.NumHeads)
	viper.SetDefault("model.num_layers", m.NumLayers)
	viper.SetDefault("model.identity", m.Identity)
	viper.SetDefault("model.max_ans_len", m.MaxAnsLen)
	viper.SetDefault("model.sparse", m.Sparse)
	viper.SetDefault("model.sparse_activation", string(m.SparseActivation))
	viper.SetDefault("model.dense", m.Dense)
	viper.SetDefault("model.max_pool", m.MaxPool)
	viper.SetDefault("model.metric", string(m.Metric))
	viper.SetDefault("model.dual", m.Dual)
	viper.SetDefault("model.dual_init", m.DualInit)
	viper.SetDefault("model.dual_hl", m.DualHL)
	viper.SetDefault("model.phrase_filter", m.PhraseFilter)
	viper.SetDefault("model.filter_th", m.FilterTh)
	viper.SetDefault("model.filter_init", m.FilterInit)
	viper.SetDefault("model.seed", m.Seed)
	viper.SetDefault("model.workers", m.Workers)

	// Merge defaults
	viper.SetDefault("merge.tfidf_weight", 10.0)
	viper.SetDefault("merge.draft", false)

	// Embedding defaults
	viper.SetDefault("embedding.provider", "glove")
	viper.SetDefault("embedding.glove_path", "glove.840B.300d.txt")
	viper.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	viper.SetDefault("embedding.batch_size", 100)
	viper.SetDefault("embedding.cache_size", 50000)

	// Circuit breaker defaults
	viper.SetDefault("circuit_breaker.enabled", false)
	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	// Checkpoint defaults
	viper.SetDefault("checkpoint.dir", "checkpoints")
	viper.SetDefault("checkpoint.name", "latest")

	// Telemetry defaults
	home, err := os.UserHomeDir()
	if err == nil {
		defaultPath := fmt.Sprintf("%s/.piqa/telemetry", home)
		viper.SetDefault("telemetry.parquet_path", defaultPath)
	}
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	// Embedding credentials
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Embedding.APIKey = apiKey
	}
	if path := os.Getenv("GLOVE_PATH"); path != "" {
		config.Embedding.GlovePath = path
	}

	// Server settings
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// Checkpoint settings
	if dir := os.Getenv("PIQA_CHECKPOINT_DIR"); dir != "" {
		config.Checkpoint.Dir = dir
	}

	// Telemetry settings
	if path := os.Getenv("TELEMETRY_PARQUET_PATH"); path != "" {
		config.Telemetry.ParquetPath = path
	}
}
