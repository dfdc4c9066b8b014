package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/courtside-data/cbbdx/app/ingest"
	"github.com/courtside-data/cbbdx/pkg/gapfill"
)

// GapfillCommand holds the flags of the gapfill command.
type GapfillCommand struct {
	root        *rootOptions
	endpoint    string
	seasons     string
	discovery   string
	idsFile     string
	resumeFile  string
	concurrency int
	limit       int
	dryRun      bool
	markEmpty   bool
}

func newGapfillCommand(root *rootOptions) *cobra.Command {
	gc := &GapfillCommand{root: root}

	cobraCmd := &cobra.Command{
		Use:   "gapfill",
		Short: "Fetch the games a fan-out table is missing",
		Long: `Find the games of fct_games that have no rows in the endpoint's silver table
and fetch them. Finished games are appended to a resume file, so an interrupted
gap fill picks up where it stopped.

Discovery:
  scan   Diff the stored silver partitions
  query  Anti-join the catalog tables in ClickHouse (needs catalog.enabled)

The manifest of each season is printed as JSON.`,
		Args: cobra.NoArgs,
		RunE: gc.run,
	}

	cobraCmd.Flags().StringVarP(&gc.endpoint, "endpoint", "e", "plays_game", "fan-out endpoint to fill")
	cobraCmd.Flags().StringVarP(&gc.seasons, "seasons", "s", "", "season range overriding the config")
	cobraCmd.Flags().StringVar(&gc.discovery, "discovery", "scan", "discovery mode (scan, query)")
	cobraCmd.Flags().StringVar(&gc.idsFile, "ids-file", "", "fill the ids listed in this file (id or id,date per line) instead of discovering")
	cobraCmd.Flags().StringVar(&gc.resumeFile, "resume-file", "", "resume file (default <gapfill.resume_dir>/gap_fill_<endpoint>_<season>.txt)")
	cobraCmd.Flags().IntVar(&gc.concurrency, "concurrency", 0, "parallel entities (0 = gapfill.concurrency)")
	cobraCmd.Flags().IntVar(&gc.limit, "limit", 0, "cap the entities per season (0 = no cap)")
	cobraCmd.Flags().BoolVar(&gc.dryRun, "dry-run", false, "fetch but write nothing")
	cobraCmd.Flags().BoolVar(&gc.markEmpty, "mark-empty", false, "record empty answers in the resume file so they are not retried")

	return cobraCmd
}

func (gc *GapfillCommand) run(cmd *cobra.Command, _ []string) error {
	if _, ok := gapfill.TargetTable(gc.endpoint); !ok {
		return fmt.Errorf("endpoint %q has no gap fill target table", gc.endpoint)
	}
	app, err := gc.root.app(cmd.Context(), gc.seasons, true)
	if err != nil {
		return err
	}
	defer app.Stop()

	seasons, err := app.Seasons()
	if err != nil {
		return err
	}
	manifests, err := app.Gapfill(cmd.Context(), ingest.GapfillOptions{
		Endpoint:    gc.endpoint,
		Seasons:     seasons,
		Discovery:   gc.discovery,
		IDsFile:     gc.idsFile,
		Concurrency: gc.concurrency,
		Limit:       gc.limit,
		MarkEmpty:   gc.markEmpty,
		DryRun:      gc.dryRun,
		ResumePath:  gc.resumeFile,
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	for _, m := range manifests {
		if eerr := enc.Encode(m); eerr != nil {
			return eerr
		}
	}
	return err
}
