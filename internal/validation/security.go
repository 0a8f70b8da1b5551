// Package validation provides security validation for the external commands
// a transform chain may spawn, preventing command injection and path
// traversal through configuration values.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultAllowedCommands lists the compilers a command transform or plugin
// may spawn without further configuration.
var DefaultAllowedCommands = map[string]bool{
	"swc":     true,
	"esbuild": true,
	"tsc":     true,
	"babel":   true,
	"sass":    true,
	"terser":  true,
	"node":    true,
	"npx":     true,
	"templ":   true,
	"go":      true,
	"cat":     true,
	"tr":      true,
}

// LocalBinPrefix is where package-local compiler binaries are installed.
const LocalBinPrefix = "node_modules/.bin/"

// ValidateArgument validates a command line argument to prevent injection attacks
func ValidateArgument(arg string) error {
	// Check for shell metacharacters that could be used for command injection
	dangerous := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\\", "\"", "'"}
	for _, char := range dangerous {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if strings.Contains(arg, "..") {
		return fmt.Errorf("contains path traversal: %s", arg)
	}

	if filepath.IsAbs(arg) && !strings.HasPrefix(arg, "/usr/bin/") && !strings.HasPrefix(arg, "/bin/") {
		return fmt.Errorf("absolute path not allowed: %s", arg)
	}

	return nil
}

// ValidateCommand validates a command name against an allowlist. Binaries
// under node_modules/.bin are always accepted.
func ValidateCommand(command string, allowedCommands map[string]bool) error {
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}

	if err := ValidateArgument(command); err != nil {
		return fmt.Errorf("invalid command '%s': %w", command, err)
	}

	if strings.HasPrefix(filepath.ToSlash(command), LocalBinPrefix) {
		return nil
	}

	if !allowedCommands[command] {
		return fmt.Errorf("command '%s' is not allowed", command)
	}

	return nil
}

// ValidateCommandLine validates a command and all of its arguments.
func ValidateCommandLine(command string, args []string, allowedCommands map[string]bool) error {
	if err := ValidateCommand(command, allowedCommands); err != nil {
		return err
	}
	for _, arg := range args {
		if err := ValidateArgument(arg); err != nil {
			return fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}
	return nil
}

// ValidateFileExtension validates an extension such as ".js".
func ValidateFileExtension(ext string) error {
	if ext == "" {
		return fmt.Errorf("extension cannot be empty")
	}
	if !strings.HasPrefix(ext, ".") {
		return fmt.Errorf("extension must start with a dot: %s", ext)
	}
	if strings.ContainsAny(ext, `/\`) {
		return fmt.Errorf("extension must not contain path separators: %s", ext)
	}
	return nil
}
