package plugins

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/conneroisu/pkgsmith/internal/config"
	"github.com/conneroisu/pkgsmith/internal/logging"
	"github.com/conneroisu/pkgsmith/internal/pipeline"
	"github.com/conneroisu/pkgsmith/internal/validation"
)

// DeclarationsName is the configuration name of the declarations plugin.
const DeclarationsName = "declarations"

// BuildInfoSuffix marks the state file the compiler keeps in its output
// directory between incremental runs. It is not part of the package.
const BuildInfoSuffix = ".tsbuildinfo"

type declarationsOptions struct {
	Command  string   `mapstructure:"command"`
	Project  string   `mapstructure:"project"`
	Args     []string `mapstructure:"args"`
	Optional bool     `mapstructure:"optional"`
}

// DeclarationsPlugin emits type declarations for a whole target by running
// the TypeScript compiler once the per-file work has settled. In watch modes
// the compiler runs in its own watch mode for the rest of the session.
type DeclarationsPlugin struct {
	command string
	project string
	args    []string
	fatal   bool
	cwd     string
	logger  logging.Logger

	hasProject *pipeline.Memo[bool]
}

func newDeclarations(options map[string]interface{}, deps Deps) (pipeline.Plugin, error) {
	opts := declarationsOptions{Command: "tsc", Project: "tsconfig.json"}
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}
	if err := validation.ValidateCommandLine(opts.Command, append([]string{opts.Project}, opts.Args...), validation.DefaultAllowedCommands); err != nil {
		return nil, err
	}

	p := &DeclarationsPlugin{
		command: opts.Command,
		project: opts.Project,
		args:    opts.Args,
		fatal:   !opts.Optional,
		cwd:     deps.Cwd,
		logger:  deps.Logger.WithComponent(DeclarationsName),
	}
	p.hasProject = pipeline.NewMemo(func() (bool, error) {
		info, err := os.Stat(filepath.Join(p.cwd, p.project))
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
		return info.Mode().IsRegular(), nil
	})

	return p, nil
}

// Name returns the plugin name.
func (p *DeclarationsPlugin) Name() string { return DeclarationsName }

// Run does nothing per file; declarations are emitted for the whole target.
func (p *DeclarationsPlugin) Run(context.Context, *pipeline.Source, *pipeline.Context) error {
	return nil
}

// FatalInBuild reports whether a compiler failure aborts a one-shot build.
func (p *DeclarationsPlugin) FatalInBuild() bool { return p.fatal }

// Finalize runs the compiler against the target's output root. Without a
// project file there is nothing to do.
func (p *DeclarationsPlugin) Finalize(ctx context.Context, fc *pipeline.FinalizeContext) error {
	ok, err := p.hasProject.Get()
	if err != nil {
		return fmt.Errorf("checking %s: %w", p.project, err)
	}
	if !ok {
		p.logger.Debug(ctx, "No project file, skipping declarations", "project", p.project)
		return nil
	}

	args, err := p.commandArgs(fc)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, p.executable(), args...)
	cmd.Dir = p.cwd

	if !fc.Mode.Watching() {
		op := logging.StartOperation(p.logger, "declarations", "output", fc.Config.Output)
		output, err := cmd.CombinedOutput()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%s cancelled: %w", p.command, ctx.Err())
			}
			return fmt.Errorf("%s failed: %w\nOutput: %s", p.command, err, strings.TrimSpace(string(output)))
		}
		op.End(ctx, "Emitted declarations")
		return nil
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", p.command, err)
	}
	p.logger.Info(ctx, "Watching declarations", "output", fc.Config.Output)

	go func() {
		err := cmd.Wait()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.logger.Warn(ctx, err, "Declaration compiler exited", "output", strings.TrimSpace(output.String()))
		}
	}()

	return nil
}

func (p *DeclarationsPlugin) commandArgs(fc *pipeline.FinalizeContext) ([]string, error) {
	outDir, err := filepath.Rel(p.cwd, fc.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("output %s is not under %s: %w", fc.OutputDir, p.cwd, err)
	}

	args := []string{
		"--project", p.project,
		"--outDir", filepath.ToSlash(outDir),
		"--declaration",
		"--emitDeclarationOnly",
	}
	if fc.Mode.Watching() {
		args = append(args, "--watch", "--incremental", "--preserveWatchOutput")
	}
	args = append(args, p.args...)

	if err := validation.ValidateCommandLine(p.command, args, validation.DefaultAllowedCommands); err != nil {
		return nil, err
	}
	return args, nil
}

// executable prefers a package-local compiler over one on PATH.
func (p *DeclarationsPlugin) executable() string {
	if strings.HasPrefix(filepath.ToSlash(p.command), validation.LocalBinPrefix) {
		return filepath.Join(p.cwd, p.command)
	}

	local := filepath.Join(p.cwd, validation.LocalBinPrefix, p.command)
	if info, err := os.Stat(local); err == nil && info.Mode().IsRegular() {
		return local
	}
	return p.command
}
