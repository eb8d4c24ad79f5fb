// Command media-describe runs AI vision descriptions over directories of
// photos and videos: a full pipeline (frame extraction, format conversion,
// description, HTML report) or targeted batch runs over a saved workspace.
package main

import (
	"github.com/spf13/cobra"

	"github.com/fpang/media-describe/internal/config"
)

var (
	flagConfig string

	// cfg is loaded once in the root PersistentPreRunE and shared by all
	// subcommands.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "media-describe",
	Short:         "Describe photos and videos with AI vision models",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := flagConfig
		if path == "" {
			var err error
			path, err = config.DefaultPath()
			if err != nil {
				return err
			}
		}
		var err error
		cfg, err = config.Load(path)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "",
		"config file (default ~/.media-describe/config.yaml)")
	rootCmd.AddCommand(workflowCmd, batchCmd, providersCmd, workspaceCmd)
}
