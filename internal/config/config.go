// Package config provides configuration management for pkgsmith using Viper
// for loading from files, environment variables, and command-line flags.
//
// A configuration file declares one build target at its root or a list of
// targets under "targets". Every target names an input root, an output root,
// an ordered transform chain, exclude globs, skip-transform patterns and
// post-emit plugins. Defaults are merged per target, never process-wide.
package config

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	pkgerrors "github.com/conneroisu/pkgsmith/internal/errors"
)

// DefaultConfigName is the file viper searches for in the working directory.
const DefaultConfigName = ".pkgsmith"

// DefaultExclude is merged into every target that does not declare its own
// exclude list.
var DefaultExclude = []string{"**/__tests__/**", "**/node_modules/**", "**/dist/**"}

type Config struct {
	Targets []Target `mapstructure:"targets" yaml:"targets"`
}

// Target is one build configuration. Multiple targets in one file are
// processed independently and share no state.
type Target struct {
	Input         string       `mapstructure:"input" yaml:"input"`
	Output        string       `mapstructure:"output" yaml:"output"`
	Transforms    []StepSpec   `mapstructure:"transforms" yaml:"transforms,omitempty"`
	Exclude       []string     `mapstructure:"exclude" yaml:"exclude"`
	SkipTransform []string     `mapstructure:"skip_transform" yaml:"skip_transform,omitempty"`
	Plugins       []PluginSpec `mapstructure:"plugins" yaml:"plugins"`

	skip []*regexp.Regexp
}

// StepSpec declares one transform step. A non-empty Test gates the step on
// a regular expression matched against the file's absolute path.
type StepSpec struct {
	Name    string                 `mapstructure:"name" yaml:"name"`
	Test    string                 `mapstructure:"test" yaml:"test,omitempty"`
	Options map[string]interface{} `mapstructure:"options" yaml:"options,omitempty"`
}

// PluginSpec declares one post-emit plugin.
type PluginSpec struct {
	Name    string                 `mapstructure:"name" yaml:"name"`
	Options map[string]interface{} `mapstructure:"options" yaml:"options,omitempty"`
}

// Load reads the targets out of viper, merges per-target defaults and
// validates the result. Any failure is a ConfigError.
func Load() (*Config, error) {
	var config Config

	// Unmarshal only sees environment overrides for keys viper knows about.
	for _, key := range []string{"input", "output"} {
		if err := viper.BindEnv(key); err != nil {
			return nil, pkgerrors.NewConfigError(pkgerrors.ErrCodeConfigInvalid, "binding "+key, err)
		}
	}

	switch {
	case viper.IsSet("targets"):
		if err := viper.UnmarshalKey("targets", &config.Targets); err != nil {
			return nil, pkgerrors.NewConfigError(pkgerrors.ErrCodeConfigInvalid, "malformed targets", err)
		}
	case viper.IsSet("input") || viper.IsSet("output"):
		var target Target
		if err := viper.Unmarshal(&target); err != nil {
			return nil, pkgerrors.NewConfigError(pkgerrors.ErrCodeConfigInvalid, "malformed configuration", err)
		}
		config.Targets = []Target{target}
	default:
		msg := "no build targets configured"
		if used := viper.ConfigFileUsed(); used != "" {
			msg += " in " + used
		} else {
			msg += fmt.Sprintf(" (unable to find %s.yml in the working directory)", DefaultConfigName)
		}
		return nil, pkgerrors.NewConfigError(pkgerrors.ErrCodeConfigMissing, msg, nil)
	}

	for i := range config.Targets {
		config.Targets[i].applyDefaults()
	}

	if err := validateConfig(&config); err != nil {
		return nil, pkgerrors.NewConfigError(pkgerrors.ErrCodeConfigInvalid, "invalid configuration", err)
	}

	return &config, nil
}

// applyDefaults merges defaults into a single target.
func (t *Target) applyDefaults() {
	if t.Exclude == nil {
		t.Exclude = append([]string(nil), DefaultExclude...)
	}
	if t.Plugins == nil {
		t.Plugins = []PluginSpec{}
	}

	// An output root nested in the input root must never be discovered.
	if rel, ok := nestedOutput(t.Input, t.Output); ok {
		pattern := path.Join(rel, "**")
		for _, p := range t.Exclude {
			if p == pattern {
				return
			}
		}
		t.Exclude = append(t.Exclude, pattern)
	}
}

func nestedOutput(input, output string) (string, bool) {
	if input == "" || output == "" {
		return "", false
	}
	rel, err := filepath.Rel(filepath.Clean(input), filepath.Clean(output))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Compile prepares the skip-transform patterns. Load calls it; targets built
// by hand in code must call it before use.
func (t *Target) Compile() error {
	t.skip = t.skip[:0]
	for _, pattern := range t.SkipTransform {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("skip_transform pattern %q: %w", pattern, err)
		}
		t.skip = append(t.skip, re)
	}
	return nil
}

// SkipsTransform reports whether filePath bypasses the transform chain.
func (t *Target) SkipsTransform(filePath string) bool {
	for _, re := range t.skip {
		if re.MatchString(filePath) {
			return true
		}
	}
	return false
}
