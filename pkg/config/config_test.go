package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cbbdx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CBBD_API_KEY", "")
	t.Setenv("BEARER_TOKEN", "")
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.InDelta(t, DefaultRateLimitPerSec, cfg.API.RateLimitPerSec, 1e-9)
	assert.Equal(t, 5, cfg.API.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.API.Retry.Backoff().InitialDelay)
	assert.Equal(t, "local", cfg.Lake.Backend)
	assert.Equal(t, "memory", cfg.Checkpoint.Backend)
	assert.Equal(t, 7, cfg.Ingest.RollingWindowDays)
	assert.Equal(t, 30, cfg.Ingest.ChunkDays)
	assert.True(t, cfg.Ingest.StrictSchemas)
	assert.InDelta(t, 0.1, cfg.Validation.DropRatio, 1e-9)
	assert.Error(t, cfg.RequireToken())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
api:
  rate_limit_per_sec: 2
  retry:
    max_attempts: 4
    base_delay: 250ms
seasons:
  range: "2020-2024"
  excluded: [2021]
lake:
  backend: s3
  endpoint: minio:9000
  bucket: hoops
checkpoint:
  backend: redis
endpoints:
  plays_player:
    skip: true
  games:
    required_any:
      - [season, startDateRange]
`)
	t.Setenv("CBBDX_API_MAX_CONCURRENCY", "9")
	t.Setenv("CBBD_API_KEY", "")
	t.Setenv("BEARER_TOKEN", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, cfg.API.RateLimitPerSec, 1e-9)
	assert.Equal(t, 9, cfg.API.MaxConcurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.API.Retry.BaseDelay)
	assert.Equal(t, "secret", cfg.API.Token)
	require.NoError(t, cfg.RequireToken())
	assert.Equal(t, "hoops", cfg.Lake.Bucket)

	seasons, err := cfg.Seasons.List()
	require.NoError(t, err)
	assert.Equal(t, []int{2020, 2022, 2023, 2024}, seasons)

	assert.Equal(t, []string{"games", "plays_player"}, cfg.EndpointNames())
	assert.True(t, cfg.Endpoints["plays_player"].Skip)
	assert.Equal(t, [][]string{{"season", "startDateRange"}}, cfg.Endpoints["games"].RequiredAny)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "lake:\n  backend: gcs\ncheckpoint:\n  backend: etcd\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lake.backend")
	assert.Contains(t, err.Error(), "checkpoint.backend")
}

func TestParseRange(t *testing.T) {
	cases := []struct {
		in         string
		start, end int
		wantErr    bool
	}{
		{in: "2020-2026", start: 2020, end: 2026},
		{in: "2024", start: 2024, end: 2024},
		{in: " 2019 - 2020 ", start: 2019, end: 2020},
		{in: "2026-2020", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			start, end, err := ParseRange(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.start, start)
			assert.Equal(t, tc.end, end)
		})
	}
}
