package cmd

import (
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build every target once",
	Long: `Build every configured target once. Each output directory is removed and
rebuilt from scratch. Any transform failure, or a failure of a plugin that
must succeed, fails the build with a non-zero exit status.

Examples:
  pkgsmith build                      # Build using .pkgsmith.yml
  pkgsmith build --config ci.yml      # Build using another config file
  pkgsmith build --log-level debug    # Log every processed file`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, _ []string) error {
	c, logger, err := newController()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := c.Build(ctx); err != nil {
		logger.Error(ctx, err, "Build failed")
		return err
	}

	logger.Info(ctx, "Build complete")
	return nil
}
