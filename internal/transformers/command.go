package transformers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/conneroisu/pkgsmith/internal/config"
	"github.com/conneroisu/pkgsmith/internal/pipeline"
	"github.com/conneroisu/pkgsmith/internal/validation"
)

// FilePlaceholder in a command argument is replaced by the absolute path of
// the file being transformed.
const FilePlaceholder = "{file}"

// scriptExtensions are rewritten when a command step sets an output
// extension.
var scriptExtensions = []string{".ts", ".tsx", ".jsx", ".mts", ".cts"}

type commandOptions struct {
	Command          string   `mapstructure:"command"`
	Args             []string `mapstructure:"args"`
	Extension        string   `mapstructure:"extension"`
	SourceMapComment bool     `mapstructure:"source_map_comment"`
	MapCommand       string   `mapstructure:"map_command"`
	MapArgs          []string `mapstructure:"map_args"`
}

// Compiler pipes source text through an external program on stdin and
// reads the result from stdout.
type Compiler struct {
	command string
	args    []string
}

// NewCompiler creates a compiler for command and args. The command line is
// validated before every run.
func NewCompiler(command string, args ...string) *Compiler {
	return &Compiler{command: command, args: args}
}

// Compile runs the compiler over input with cwd as its working directory.
func (c *Compiler) Compile(ctx context.Context, cwd, filePath, input string) (string, error) {
	if err := c.validateCommand(); err != nil {
		return "", fmt.Errorf("command validation failed: %w", err)
	}

	name := c.command
	if strings.HasPrefix(filepath.ToSlash(name), validation.LocalBinPrefix) {
		name = filepath.Join(cwd, name)
	}

	args := make([]string, len(c.args))
	for i, arg := range c.args {
		args[i] = strings.ReplaceAll(arg, FilePlaceholder, filePath)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = cwd
	cmd.Stdin = strings.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s cancelled: %w", c.command, ctx.Err())
		}
		return "", fmt.Errorf("%s failed: %w\nOutput: %s", c.command, err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

func (c *Compiler) validateCommand() error {
	return validation.ValidateCommandLine(c.command, c.args, validation.DefaultAllowedCommands)
}

func newCommand(options map[string]interface{}) (pipeline.Transformer, error) {
	var opts commandOptions
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}

	compiler := NewCompiler(opts.Command, opts.Args...)
	if err := compiler.validateCommand(); err != nil {
		return nil, err
	}

	var mapper *Compiler
	if opts.MapCommand != "" {
		mapper = NewCompiler(opts.MapCommand, opts.MapArgs...)
		if err := mapper.validateCommand(); err != nil {
			return nil, err
		}
	}

	if opts.Extension != "" {
		if err := validation.ValidateFileExtension(opts.Extension); err != nil {
			return nil, err
		}
	}

	return func(ctx context.Context, src pipeline.Source, pc *pipeline.Context) (pipeline.Source, error) {
		code, err := compiler.Compile(ctx, pc.Cwd, pc.FilePath, src.Code)
		if err != nil {
			return pipeline.Source{}, err
		}

		out := src.WithCode(code)
		if opts.Extension != "" {
			out = out.WithFileName(rewriteExtension(out.FileName, scriptExtensions, opts.Extension))
		}

		if mapper != nil {
			m, err := mapper.Compile(ctx, pc.Cwd, pc.FilePath, src.Code)
			if err != nil {
				return pipeline.Source{}, fmt.Errorf("source map: %w", err)
			}
			out = out.WithMap(m)
		}

		if opts.SourceMapComment {
			out.Code = strings.TrimRight(out.Code, "\n") +
				"\n" + pipeline.MapCommentPrefix + out.FileName + pipeline.MapExtension + "\n"
		}

		return out, nil
	}, nil
}

// rewriteExtension swaps the extension of name for to when it is one of
// from. Other names are returned unchanged.
func rewriteExtension(name string, from []string, to string) string {
	ext := filepath.Ext(name)
	for _, candidate := range from {
		if ext == candidate {
			return strings.TrimSuffix(name, ext) + to
		}
	}
	return name
}
