package cmd

import (
	"github.com/spf13/cobra"
)

var devCmd = &cobra.Command{
	Use:     "dev",
	Aliases: []string{"d", "watch"},
	Short:   "Build, then keep the output in sync with the input",
	Long: `Build every target, then watch the input directories and apply each change
to the output as it happens: changed files are reprocessed, deleted files and
directories are removed, new directories are created. A failing file is
reported and the previous output is kept; the session keeps running until
interrupted.

Examples:
  pkgsmith dev                        # Watch using .pkgsmith.yml
  pkgsmith dev --log-format json      # Machine-readable logs`,
	Args: cobra.NoArgs,
	RunE: runDev,
}

func init() {
	rootCmd.AddCommand(devCmd)
}

func runDev(cmd *cobra.Command, _ []string) error {
	c, logger, err := newController()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	logger.Info(ctx, "Starting watch session (Press Ctrl+C to stop)")
	if err := c.Dev(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "Stopped")
	return nil
}
