package cmd

import (
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/pkgsmith/internal/config"
	"github.com/conneroisu/pkgsmith/internal/plugins"
	"github.com/conneroisu/pkgsmith/internal/transformers"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved build targets",
	Long: `Print every build target after defaults are merged and validation passes,
as YAML. Environment overrides and the selected config file are applied.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in transforms and plugins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(map[string][]string{
			"transforms": transformers.Names(),
			"plugins":    plugins.Names(),
		})
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configListCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		cmd.PrintErrf("# %s\n", used)
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}
