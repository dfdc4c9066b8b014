package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/courtside-data/cbbdx/pkg/retry"
)

// Config is the top-level configuration. Field tags use mapstructure for viper unmarshalling.
type Config struct {
	API        APIConfig                   `mapstructure:"api"`
	Seasons    SeasonsConfig               `mapstructure:"seasons"`
	Lake       LakeConfig                  `mapstructure:"lake"`
	Checkpoint CheckpointConfig            `mapstructure:"checkpoint"`
	Catalog    CatalogConfig               `mapstructure:"catalog"`
	Ingest     IngestConfig                `mapstructure:"ingest"`
	Gapfill    GapfillConfig               `mapstructure:"gapfill"`
	Validation ValidateConfig              `mapstructure:"validate"`
	Server     ServerConfig                `mapstructure:"server"`
	Endpoints  map[string]EndpointOverride `mapstructure:"endpoints"`
}

// APIConfig holds upstream client settings.
type APIConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Token           string        `mapstructure:"token"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec"`
	Burst           int           `mapstructure:"burst"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	Retry           RetryConfig   `mapstructure:"retry"`
}

// RetryConfig mirrors retry.Config in config-file form.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      bool          `mapstructure:"jitter"`
}

// Backoff converts the section to a retry.Config.
func (r RetryConfig) Backoff() retry.Config {
	return retry.Config{
		MaxAttempts:   r.MaxAttempts,
		InitialDelay:  r.BaseDelay,
		MaxDelay:      r.MaxDelay,
		Multiplier:    r.Multiplier,
		JitterEnabled: r.Jitter,
	}
}

// SeasonsConfig selects the seasons a run covers. Range ("2020-2026") wins over Start/End.
type SeasonsConfig struct {
	Start    int    `mapstructure:"start"`
	End      int    `mapstructure:"end"`
	Range    string `mapstructure:"range"`
	Excluded []int  `mapstructure:"excluded"`
}

// List returns the configured seasons in ascending order, minus exclusions.
func (s SeasonsConfig) List() ([]int, error) {
	start, end := s.Start, s.End
	if s.Range != "" {
		var err error
		if start, end, err = ParseRange(s.Range); err != nil {
			return nil, err
		}
	}
	if start <= 0 || end < start {
		return nil, fmt.Errorf("invalid season range %d-%d", start, end)
	}
	skip := make(map[int]bool, len(s.Excluded))
	for _, e := range s.Excluded {
		skip[e] = true
	}
	out := make([]int, 0, end-start+1)
	for y := start; y <= end; y++ {
		if !skip[y] {
			out = append(out, y)
		}
	}
	return out, nil
}

// ParseRange parses "2020-2026" or a single season "2024".
func ParseRange(s string) (int, int, error) {
	lo, hi, found := strings.Cut(strings.TrimSpace(s), "-")
	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid season range %q", s)
	}
	if !found {
		return start, start, nil
	}
	end, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil || end < start {
		return 0, 0, fmt.Errorf("invalid season range %q", s)
	}
	return start, end, nil
}

// LakeConfig selects the object store and the layer prefixes.
type LakeConfig struct {
	Backend   string            `mapstructure:"backend"`
	Root      string            `mapstructure:"root"`
	Bucket    string            `mapstructure:"bucket"`
	Endpoint  string            `mapstructure:"endpoint"`
	Region    string            `mapstructure:"region"`
	AccessKey string            `mapstructure:"access_key"`
	SecretKey string            `mapstructure:"secret_key"`
	UseSSL    bool              `mapstructure:"use_ssl"`
	Prefixes  map[string]string `mapstructure:"prefixes"`
}

// CheckpointConfig selects the checkpoint backend.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend"`
	// Degraded treats checkpoint read failures as "no checkpoint".
	Degraded  bool   `mapstructure:"degraded"`
	KeyPrefix string `mapstructure:"key_prefix"`
	Table     string `mapstructure:"table"`
	DSN       string `mapstructure:"dsn"`
}

// CatalogConfig controls metadata-catalog registration.
type CatalogConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DSN      string `mapstructure:"dsn"`
	Database string `mapstructure:"database"`
	// S3URL is the base URL ClickHouse reads silver objects from.
	S3URL string `mapstructure:"s3_url"`
}

// IngestConfig holds run planning knobs.
type IngestConfig struct {
	RollingWindowDays  int  `mapstructure:"rolling_window_days"`
	ChunkDays          int  `mapstructure:"chunk_days"`
	FanoutConcurrency  int  `mapstructure:"fanout_concurrency"`
	StrictSchemas      bool `mapstructure:"strict_schemas"`
	IncrementalOverlap int  `mapstructure:"incremental_overlap_days"`
}

// GapfillConfig holds gap-fill defaults.
type GapfillConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	ResumeDir   string `mapstructure:"resume_dir"`
	MarkEmpty   bool   `mapstructure:"mark_empty"`
}

// ValidateConfig holds validator thresholds.
type ValidateConfig struct {
	DropRatio float64          `mapstructure:"drop_ratio"`
	Excluded  map[string][]int `mapstructure:"excluded"`
}

// ServerConfig holds operator server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Cron string `mapstructure:"cron"`
	Mode string `mapstructure:"mode"`
}

// EndpointOverride adjusts one built-in endpoint.
type EndpointOverride struct {
	Skip           bool       `mapstructure:"skip"`
	RequiredParams []string   `mapstructure:"required_params"`
	RequiredAny    [][]string `mapstructure:"required_any"`
}

// Validate checks the values a run cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.RateLimitPerSec <= 0 {
		errs = append(errs, errors.New("api.rate_limit_per_sec must be positive"))
	}
	if c.API.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("api.max_concurrency must be positive"))
	}
	if c.API.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("api.retry.max_attempts must be positive"))
	}
	if _, err := c.Seasons.List(); err != nil {
		errs = append(errs, fmt.Errorf("seasons: %w", err))
	}
	switch c.Lake.Backend {
	case "local":
		if c.Lake.Root == "" {
			errs = append(errs, errors.New("lake.root is required for the local backend"))
		}
	case "s3":
		if c.Lake.Endpoint == "" {
			errs = append(errs, errors.New("lake.endpoint is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("lake.backend %q must be local or s3", c.Lake.Backend))
	}
	switch c.Checkpoint.Backend {
	case "memory", "redis", "postgres":
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend %q must be memory, redis or postgres", c.Checkpoint.Backend))
	}
	if c.Ingest.ChunkDays < 0 || c.Ingest.RollingWindowDays <= 0 {
		errs = append(errs, errors.New("ingest.chunk_days and ingest.rolling_window_days are out of range"))
	}
	if c.Validation.DropRatio <= 0 || c.Validation.DropRatio >= 1 {
		errs = append(errs, errors.New("validate.drop_ratio must be between 0 and 1"))
	}
	return errors.Join(errs...)
}

// RequireToken fails when no API token was configured.
func (c *Config) RequireToken() error {
	if c.API.Token == "" {
		return errors.New("missing API token; set api.token, CBBD_API_KEY or BEARER_TOKEN")
	}
	return nil
}

// EndpointNames returns the overridden endpoint names, sorted.
func (c *Config) EndpointNames() []string {
	out := make([]string, 0, len(c.Endpoints))
	for k := range c.Endpoints {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
