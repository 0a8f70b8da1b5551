package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if len(config.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}

	for i := range config.Targets {
		if err := validateTarget(&config.Targets[i]); err != nil {
			return fmt.Errorf("target %d: %w", i, err)
		}
	}

	return nil
}

// validateTarget validates one target and compiles its patterns
func validateTarget(target *Target) error {
	if err := validatePath(target.Input); err != nil {
		return fmt.Errorf("invalid input '%s': %w", target.Input, err)
	}
	if err := validatePath(target.Output); err != nil {
		return fmt.Errorf("invalid output '%s': %w", target.Output, err)
	}
	if filepath.Clean(target.Input) == filepath.Clean(target.Output) {
		return fmt.Errorf("input and output must differ: %s", target.Input)
	}

	for _, pattern := range target.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude glob: %s", pattern)
		}
	}

	for i, step := range target.Transforms {
		if err := validateName(step.Name); err != nil {
			return fmt.Errorf("transform %d: %w", i, err)
		}
		if step.Test != "" {
			if _, err := regexp.Compile(step.Test); err != nil {
				return fmt.Errorf("transform %d test %q: %w", i, step.Test, err)
			}
		}
	}

	for i, plugin := range target.Plugins {
		if err := validateName(plugin.Name); err != nil {
			return fmt.Errorf("plugin %d: %w", i, err)
		}
	}

	return target.Compile()
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	if filepath.IsAbs(path) {
		return fmt.Errorf("path must be relative to the working directory")
	}

	cleanPath := filepath.Clean(path)

	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}

// validateName checks transform and plugin names: alphanumeric with
// dashes or underscores.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	for _, char := range name {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '-' || char == '_') {
			return fmt.Errorf("name contains invalid character: %s", name)
		}
	}

	return nil
}
