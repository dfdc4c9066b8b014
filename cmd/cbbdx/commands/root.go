package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/courtside-data/cbbdx/app/ingest"
	"github.com/courtside-data/cbbdx/pkg/config"
	"github.com/courtside-data/cbbdx/pkg/logging"
	"github.com/courtside-data/cbbdx/pkg/utils"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath  string
	logLevel    string
	logEncoding string
}

// NewRootCommand creates the cbbdx command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "cbbdx",
		Short: "College basketball stats ingestion engine",
		Long: `cbbdx pulls the college basketball stats API into a layered object-store lake.

Commands:
  ingest     Run a backfill, incremental or single-season pass
  fanout     Run only the per-game and per-player endpoints
  gapfill    Fetch the games a silver table is missing
  validate   Check stored partitions for structural problems
  audit      Check keyed tables for duplicate primary keys
  serve      Serve health, metrics and run triggers, and run on a schedule
  endpoints  Print the endpoint registry`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./cbbdx.yaml, then ~/cbbdx.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", utils.Env("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logEncoding, "log-encoding", utils.Env("LOG_ENCODING", "json"), "log encoding (json or console)")

	rootCmd.AddCommand(newIngestCommand(opts))
	rootCmd.AddCommand(newFanoutCommand(opts))
	rootCmd.AddCommand(newGapfillCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts, false))
	rootCmd.AddCommand(newValidateCommand(opts, true))
	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newEndpointsCommand(opts))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// load reads the configuration and builds the logger.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewWith(o.logLevel, o.logEncoding)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}

// app builds the ingestion app. A non-empty seasons range replaces the configured one.
func (o *rootOptions) app(ctx context.Context, seasons string, needToken bool) (*ingest.App, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	if seasons != "" {
		cfg.Seasons.Range = seasons
		if _, err := cfg.Seasons.List(); err != nil {
			return nil, err
		}
	}
	if needToken {
		if err := cfg.RequireToken(); err != nil {
			return nil, err
		}
	}
	return ingest.New(ctx, cfg, logger)
}
