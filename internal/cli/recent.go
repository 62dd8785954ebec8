package cli

import (
	"github.com/spf13/cobra"

	"signalpush/internal/app"
	"signalpush/internal/service/dispatch"
)

func newRecentCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Print the most recent notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			notifications, err := a.Dispatch.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"notifications": notifications})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", dispatch.MaxRecent, "number of records to print (at most 50)")
	return cmd
}
