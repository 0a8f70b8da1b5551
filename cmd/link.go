package cmd

import (
	"github.com/spf13/cobra"

	"github.com/conneroisu/pkgsmith/internal/controller"
)

var linkStrategy string

var linkCmd = &cobra.Command{
	Use:   "link <consumer-dir>",
	Short: "Watch and publish the output into a consumer package",
	Long: `Run a watch session like dev and also keep a copy of every target's output
inside another package's node_modules, under this package's name, so the
consumer sees changes without reinstalling.

Strategies:
  emit    write the consumer copy from the same result as the output (default)
  mirror  watch the output directory and copy each change into the consumer

Examples:
  pkgsmith link ../app                    # Publish into ../app/node_modules
  pkgsmith link ../app --strategy mirror  # Mirror the output directory instead`,
	Args: cobra.ExactArgs(1),
	RunE: runLink,
}

func init() {
	rootCmd.AddCommand(linkCmd)

	linkCmd.Flags().StringVar(&linkStrategy, "strategy", string(controller.StrategyEmit), "how changes reach the consumer (emit, mirror)")
}

func runLink(cmd *cobra.Command, args []string) error {
	strategy, err := controller.ParseStrategy(linkStrategy)
	if err != nil {
		return err
	}

	c, logger, err := newController()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := c.Link(ctx, args[0], strategy); err != nil {
		return err
	}

	logger.Info(ctx, "Stopped")
	return nil
}
