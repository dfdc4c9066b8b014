package commands

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/courtside-data/cbbdx/app/ingest"
)

func newEndpointsCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "endpoints",
		Short: "Print the endpoint registry",
		Long: `Print the endpoint registry as YAML, after $CBBDX_ENDPOINTS_FILE and the
endpoints section of the config are applied. The output can be edited and fed
back through $CBBDX_ENDPOINTS_FILE.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}
			r, err := ingest.BuildRegistry(cfg)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(r); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
