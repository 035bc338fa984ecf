// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Index, Build, Search, Redis, Kafka, Logging, Metrics).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

// IndexFileName is the name looked up in the working directory, its parents
// and $HOME when no index path is given explicitly.
const IndexFileName = ".csearchindex"

// Config is the top-level application configuration.
type Config struct {
	Index   IndexConfig   `yaml:"index"`
	Build   BuildConfig   `yaml:"build"`
	Search  SearchConfig  `yaml:"search"`
	Redis   RedisConfig   `yaml:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// IndexConfig locates the index artifact.
type IndexConfig struct {
	Path string `yaml:"path"`
}

// BuildConfig controls the index builder's memory budget, checkpoint
// interval, parallelism, shard encoding and per-file extraction limits.
type BuildConfig struct {
	ScratchDir      string `yaml:"scratchDir"`
	MemoryBudget    int64  `yaml:"memoryBudget"`
	CheckpointEvery int    `yaml:"checkpointEvery"`
	Workers         int    `yaml:"workers"`
	ShardCodec      string `yaml:"shardCodec"`
	ReadBytesPerSec int64  `yaml:"readBytesPerSec"`
	MaxFileLen      int64  `yaml:"maxFileLen"`
	MaxLineLen      int    `yaml:"maxLineLen"`
	MaxTrigrams     int    `yaml:"maxTrigrams"`
}

// SearchConfig controls query execution limits.
type SearchConfig struct {
	MaxCandidates int `yaml:"maxCandidates"`
}

// RedisConfig holds the optional candidate-cache connection parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
	Timeout  time.Duration `yaml:"timeout"`
}

// KafkaConfig holds broker and topic settings for build notifications.
type KafkaConfig struct {
	Enabled bool        `yaml:"enabled"`
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexComplete string `yaml:"indexComplete"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the builder cannot run with.
func (c *Config) Validate() error {
	if c.Build.MemoryBudget <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitUsage, "build.memoryBudget must be positive, got %d", c.Build.MemoryBudget)
	}
	if c.Build.Workers <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitUsage, "build.workers must be positive, got %d", c.Build.Workers)
	}
	if c.Build.CheckpointEvery < 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitUsage, "build.checkpointEvery must not be negative, got %d", c.Build.CheckpointEvery)
	}
	switch c.Build.ShardCodec {
	case "none", "lz4", "zstd":
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitUsage, "unknown build.shardCodec %q", c.Build.ShardCodec)
	}
	return nil
}

// defaultConfig returns a Config with defaults suited to indexing a
// developer's checkout on a laptop.
func defaultConfig() *Config {
	return &Config{
		Build: BuildConfig{
			MemoryBudget:    64 << 20,
			CheckpointEvery: 1000,
			Workers:         1,
			ShardCodec:      "lz4",
			MaxFileLen:      1 << 30,
			MaxLineLen:      2000,
			MaxTrigrams:     20000,
		},
		Search: SearchConfig{
			MaxCandidates: 0,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 4,
			CacheTTL: 10 * time.Minute,
			Timeout:  100 * time.Millisecond,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				IndexComplete: "index.complete",
			},
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads CS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CSEARCHINDEX"); v != "" {
		cfg.Index.Path = v
	}
	if v := os.Getenv("CS_INDEX_PATH"); v != "" {
		cfg.Index.Path = v
	}
	if v := os.Getenv("CS_BUILD_SCRATCH_DIR"); v != "" {
		cfg.Build.ScratchDir = v
	}
	if v := os.Getenv("CS_BUILD_MEMORY_BUDGET"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Build.MemoryBudget = n
		}
	}
	if v := os.Getenv("CS_BUILD_CHECKPOINT_EVERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Build.CheckpointEvery = n
		}
	}
	if v := os.Getenv("CS_BUILD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Build.Workers = n
		}
	}
	if v := os.Getenv("CS_BUILD_SHARD_CODEC"); v != "" {
		cfg.Build.ShardCodec = v
	}
	if v := os.Getenv("CS_BUILD_READ_BYTES_PER_SEC"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Build.ReadBytesPerSec = n
		}
	}
	if v := os.Getenv("CS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("CS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("CS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CS_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
			cfg.Metrics.Enabled = true
		}
	}
}

// ResolveIndexPath picks the index file: the explicit path if set, else the
// nearest .csearchindex in the working directory or its parents, else
// $HOME/.csearchindex. With create set, a missing index resolves to
// .csearchindex in the working directory; otherwise ErrIndexNotFound.
func ResolveIndexPath(explicit string, create bool) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	for dir := cwd; ; {
		candidate := filepath.Join(dir, IndexFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, IndexFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if create {
		return filepath.Join(cwd, IndexFileName), nil
	}
	return "", apperrors.New(apperrors.ErrIndexNotFound, apperrors.ExitNotFound, "no .csearchindex found; run cindex first or set CSEARCHINDEX")
}
