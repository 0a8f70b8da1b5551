// Package cmd provides the command-line interface for pkgsmith with
// configuration management supporting multiple configuration sources.
//
// Configuration System:
//
//	The CLI supports flexible configuration through multiple sources with clear precedence:
//	1. Command-line flags (--config, --log-level, etc.) - highest priority
//	2. PKGSMITH_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (PKGSMITH_INPUT, PKGSMITH_OUTPUT, etc.)
//	4. Configuration files (.pkgsmith.yml) - lowest priority
//
// A .env file in the working directory is loaded into the environment
// before any of these are consulted. Variables already set win.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/pkgsmith/internal/config"
	"github.com/conneroisu/pkgsmith/internal/controller"
	"github.com/conneroisu/pkgsmith/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PKGSMITH"

var (
	cfgFile string
	// logOutput is where the pipeline logs go; tests swap it.
	logOutput io.Writer = os.Stderr
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pkgsmith",
	Short: "Per-file build pipeline for packages",
	Long: `pkgsmith transforms every file under an input directory into a mirrored
output directory through a configurable chain of transforms, then runs
post-emit plugins such as type declaration generation.

Modes:
  pkgsmith build                  Build every target once
  pkgsmith dev                    Build, then keep the output in sync with the input
  pkgsmith link ../app            Like dev, and also publish into ../app/node_modules

Configuration is read from .pkgsmith.yml in the working directory.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .pkgsmith.yml, can also use PKGSMITH_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// loggingFlags are readable from the environment as well as the command line.
var loggingFlags = []string{"log-level", "log-format"}

func bindFlags(flags *pflag.FlagSet) error {
	for _, name := range loggingFlags {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

// initConfig points viper at the configuration file and the environment.
//
// Configuration Loading Priority (highest to lowest):
//  1. --config flag: Explicitly specified config file path
//  2. PKGSMITH_CONFIG_FILE environment variable: Custom config file path
//  3. Default: .pkgsmith.yml in current directory
func initConfig(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	viper.Reset()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(config.DefaultConfigName)
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	if err := bindFlags(cmd.Flags()); err != nil {
		return err
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	return nil
}

func newLogger() (logging.Logger, error) {
	level, err := logging.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	logFormat := viper.GetString("log-format")
	if logFormat != "text" && logFormat != "json" {
		return nil, fmt.Errorf("unsupported log format: %s (supported: text, json)", logFormat)
	}

	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: logFormat,
		Output: logOutput,
	}), nil
}

// newController loads the configuration and builds a controller for the
// working directory.
func newController() (*controller.Controller, logging.Logger, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	c, err := controller.New(controller.Options{Config: cfg, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return c, logger, nil
}
