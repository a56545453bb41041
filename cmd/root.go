// Package cmd defines and implements the CLI commands for the archiver.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mingpao-archiver",
		Short: "Mirrors Ming Pao Canada news articles to the Internet Archive.",
		Long: `mingpao-archiver discovers daily news-article pages on Ming Pao Canada,
fetches each one, and durably mirrors it to the Internet Archive, keeping a
local ledger so repeated runs never redo finished work.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default reads MINGPAO_* environment variables)")

	cmd.AddCommand(newArchiveCmd())
	cmd.AddCommand(newCatchupCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
