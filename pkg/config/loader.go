package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/courtside-data/cbbdx/pkg/utils"
)

// configName is the config file name without extension.
const configName = "cbbdx"

const configType = "yaml"

// envPrefix is the environment variable prefix, e.g. CBBDX_API_BASE_URL.
const envPrefix = "CBBDX"

// Defaults.
const (
	DefaultBaseURL           = "https://api.collegebasketballdata.com"
	DefaultRateLimitPerSec   = 3.0
	DefaultMaxConcurrency    = 5
	DefaultRollingWindowDays = 7
	DefaultChunkDays         = 30
	DefaultFanoutConcurrency = 10
	DefaultGapfillConc       = 10
	DefaultDropRatio         = 0.1
	DefaultCron              = "0 */6 * * *"
)

// Load reads configuration from file, env vars, and defaults. An explicit configPath
// must exist; otherwise cbbdx.yaml is searched in CWD and $HOME and a missing file
// is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.API.Token == "" {
		cfg.API.Token = utils.FirstEnv("CBBD_API_KEY", "BEARER_TOKEN")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", DefaultBaseURL)
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.rate_limit_per_sec", DefaultRateLimitPerSec)
	v.SetDefault("api.burst", 1)
	v.SetDefault("api.max_concurrency", DefaultMaxConcurrency)
	v.SetDefault("api.retry.max_attempts", 5)
	v.SetDefault("api.retry.base_delay", "1s")
	v.SetDefault("api.retry.max_delay", "30s")
	v.SetDefault("api.retry.multiplier", 2.0)
	v.SetDefault("api.retry.jitter", true)

	v.SetDefault("seasons.start", 2010)
	v.SetDefault("seasons.end", 2025)
	v.SetDefault("seasons.range", "")
	v.SetDefault("seasons.excluded", []int{})

	v.SetDefault("lake.backend", "local")
	v.SetDefault("lake.root", "data")
	v.SetDefault("lake.bucket", "cbbdx")
	v.SetDefault("lake.endpoint", "")
	v.SetDefault("lake.region", "us-east-1")
	v.SetDefault("lake.access_key", "")
	v.SetDefault("lake.secret_key", "")
	v.SetDefault("lake.use_ssl", true)
	v.SetDefault("lake.prefixes", map[string]string{})

	v.SetDefault("checkpoint.backend", "memory")
	v.SetDefault("checkpoint.degraded", false)
	v.SetDefault("checkpoint.key_prefix", "cbbdx:")
	v.SetDefault("checkpoint.table", "ingestion_checkpoints")
	v.SetDefault("checkpoint.dsn", "")

	v.SetDefault("catalog.enabled", false)
	v.SetDefault("catalog.dsn", "")
	v.SetDefault("catalog.database", "cbbdx")
	v.SetDefault("catalog.s3_url", "")

	v.SetDefault("ingest.rolling_window_days", DefaultRollingWindowDays)
	v.SetDefault("ingest.chunk_days", DefaultChunkDays)
	v.SetDefault("ingest.fanout_concurrency", DefaultFanoutConcurrency)
	v.SetDefault("ingest.strict_schemas", true)
	v.SetDefault("ingest.incremental_overlap_days", 2)

	v.SetDefault("gapfill.concurrency", DefaultGapfillConc)
	v.SetDefault("gapfill.resume_dir", "tmp")
	v.SetDefault("gapfill.mark_empty", false)

	v.SetDefault("validate.drop_ratio", DefaultDropRatio)
	v.SetDefault("validate.excluded", map[string][]int{})

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cron", DefaultCron)
	v.SetDefault("server.mode", "incremental")

	v.SetDefault("endpoints", map[string]any{})
}
