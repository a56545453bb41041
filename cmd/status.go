package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openhkarchive/mingpao-archiver/internal/app"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Reports ledger progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			count, err := a.Ledger.Count(ctx)
			if err != nil {
				return err
			}
			cursor, err := a.Ledger.LastProcessedDate(ctx)
			if err != nil {
				return err
			}
			if cursor == "" {
				cursor = "(none)"
			}

			fmt.Fprintf(cmd.OutOrStdout(), "archived urls:       %d\n", count)
			fmt.Fprintf(cmd.OutOrStdout(), "last processed date: %s\n", cursor)
			return nil
		},
	}
}
