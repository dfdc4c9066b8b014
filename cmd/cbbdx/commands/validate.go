package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/courtside-data/cbbdx/pkg/lake"
	"github.com/courtside-data/cbbdx/pkg/validate"
)

// ErrValidationFailed is returned when a report holds at least one FAIL finding.
var ErrValidationFailed = errors.New("validation failed")

// ValidateCommand holds the flags of the validate and audit commands.
type ValidateCommand struct {
	root   *rootOptions
	audit  bool
	layer  string
	tables []string
	asJSON bool
}

func newValidateCommand(root *rootOptions, audit bool) *cobra.Command {
	vc := &ValidateCommand{root: root, audit: audit}

	cobraCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check stored partitions for structural problems",
		Long: `Check every table of a layer for mixed partition schemes, missing seasons,
row count drops between seasons and unreadable files.

Exits non-zero when any finding is FAIL.`,
		Args: cobra.NoArgs,
		RunE: vc.run,
	}
	if audit {
		cobraCmd.Use = "audit"
		cobraCmd.Short = "Check keyed tables for duplicate primary keys"
		cobraCmd.Long = `Read every partition of the keyed tables of a layer and report primary keys
that occur more than once.

Exits non-zero when any finding is FAIL.`
	}

	cobraCmd.Flags().StringVar(&vc.layer, "layer", string(lake.Silver), "layer to check (bronze, silver)")
	cobraCmd.Flags().StringSliceVarP(&vc.tables, "tables", "t", nil, "only check these tables (comma-separated)")
	cobraCmd.Flags().BoolVar(&vc.asJSON, "json", false, "print the report as JSON")

	return cobraCmd
}

func (vc *ValidateCommand) run(cmd *cobra.Command, _ []string) error {
	layer := lake.Layer(vc.layer)
	if layer != lake.Bronze && layer != lake.Silver {
		return fmt.Errorf("unsupported layer %q", vc.layer)
	}
	app, err := vc.root.app(cmd.Context(), "", false)
	if err != nil {
		return err
	}
	defer app.Stop()

	v, err := app.Validator(layer)
	if err != nil {
		return err
	}
	var report *validate.Report
	if vc.audit {
		report, err = v.Audit(cmd.Context(), vc.tables)
	} else {
		report, err = v.Validate(cmd.Context(), vc.tables)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if vc.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}
	if report.Failed() {
		return ErrValidationFailed
	}
	return nil
}

func printReport(w io.Writer, r *validate.Report) {
	for _, f := range r.Findings {
		season := ""
		if f.Season != 0 {
			season = fmt.Sprintf("season=%d ", f.Season)
		}
		fmt.Fprintf(w, "%-5s %-28s %-26s %s%s\n", f.Severity, f.Table, f.Kind, season, f.Message)
	}
	fmt.Fprintf(w, "\nworst=%s pass=%d warn=%d fail=%d\n",
		r.Worst(), r.Count(validate.Pass), r.Count(validate.Warn), r.Count(validate.Fail))
}
