// Package controller drives the build pipeline over whole targets: one-shot
// builds, watch sessions that keep an output tree in sync with its input,
// and linking into a consumer package.
package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/pkgsmith/internal/config"
	pkgerrors "github.com/conneroisu/pkgsmith/internal/errors"
	"github.com/conneroisu/pkgsmith/internal/logging"
	"github.com/conneroisu/pkgsmith/internal/pipeline"
	"github.com/conneroisu/pkgsmith/internal/plugins"
	"github.com/conneroisu/pkgsmith/internal/scanner"
	"github.com/conneroisu/pkgsmith/internal/transformers"
)

// Options configures a Controller.
type Options struct {
	// Cwd is the project directory target paths are relative to.
	Cwd    string
	Config *config.Config
	Logger logging.Logger
	// Concurrency bounds the files processed at once per target. Zero means
	// twice GOMAXPROCS.
	Concurrency int
}

// Controller runs the configured targets. Targets never share state.
type Controller struct {
	cwd    string
	cfg    *config.Config
	logger logging.Logger
	limit  int
}

// New creates a controller.
func New(opts Options) (*Controller, error) {
	if opts.Config == nil || len(opts.Config.Targets) == 0 {
		return nil, pkgerrors.NewConfigError(pkgerrors.ErrCodeConfigMissing, "no build targets configured", nil)
	}

	cwd := opts.Cwd
	if cwd == "" {
		var err error
		if cwd, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
	}
	cwd, err := filepath.Abs(cwd)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0) * 2
	}

	return &Controller{
		cwd:    cwd,
		cfg:    opts.Config,
		logger: logger.WithComponent("controller"),
		limit:  limit,
	}, nil
}

// pipelineFor assembles the per-file pipeline of one target. Extra roots
// receive a copy of every emitted file.
func (c *Controller) pipelineFor(target *config.Target, mode pipeline.Mode, extraRoots ...string) (*pipeline.Pipeline, error) {
	steps, err := transformers.Resolve(target.Transforms)
	if err != nil {
		return nil, err
	}

	pls, err := plugins.Resolve(target.Plugins, plugins.Deps{Cwd: c.cwd, Logger: c.logger})
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithSteps(steps...),
		pipeline.WithPlugins(pls...),
		pipeline.WithLogger(c.logger),
	}
	for _, root := range extraRoots {
		opts = append(opts, pipeline.WithEmitRoot(root))
	}

	return pipeline.New(pipeline.Params{
		Cwd:       c.cwd,
		InputDir:  filepath.Join(c.cwd, target.Input),
		OutputDir: filepath.Join(c.cwd, target.Output),
		Target:    target,
		Mode:      mode,
	}, opts...)
}

// pipelines resolves every target up front, so a bad declaration fails
// before anything is touched on disk.
func (c *Controller) pipelines(mode pipeline.Mode, extraRoots func(*config.Target) []string) ([]*pipeline.Pipeline, error) {
	pipes := make([]*pipeline.Pipeline, 0, len(c.cfg.Targets))
	for i := range c.cfg.Targets {
		target := &c.cfg.Targets[i]

		var extra []string
		if extraRoots != nil {
			extra = extraRoots(target)
		}

		p, err := c.pipelineFor(target, mode, extra...)
		if err != nil {
			return nil, err
		}
		pipes = append(pipes, p)
	}
	return pipes, nil
}

// Build processes every target once. Targets run concurrently and each
// settles completely; the first fatal failure is returned.
func (c *Controller) Build(ctx context.Context) error {
	pipes, err := c.pipelines(pipeline.ModeBuild, nil)
	if err != nil {
		return err
	}

	collector := pkgerrors.NewErrorCollector()
	var g errgroup.Group
	for _, p := range pipes {
		g.Go(func() error {
			if err := c.buildTarget(ctx, p); err != nil {
				collector.AddError(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return collector.First()
}

func (c *Controller) buildTarget(ctx context.Context, p *pipeline.Pipeline) error {
	params := p.Params()
	logger := c.logger.With("target", params.Target.Input)

	if err := clean(p.EmitRoots()); err != nil {
		return err
	}

	files, err := scanner.Scan(params.InputDir, params.Target.Exclude)
	if err != nil {
		return pkgerrors.NewIOError(pkgerrors.ErrCodeReadFailed, "unable to scan "+params.InputDir, err)
	}
	if err := os.MkdirAll(params.OutputDir, 0o755); err != nil {
		return pkgerrors.NewIOError(pkgerrors.ErrCodeMkdirFailed, "unable to create "+params.OutputDir, err)
	}

	op := logging.StartOperation(logger, "build", "files", len(files))

	// The first failure stops new files from starting; files already in
	// flight finish before the failure is reported.
	collector := pkgerrors.NewErrorCollector()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)
	for _, file := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := p.Process(gctx, file); err != nil {
				collector.AddError(err)
				return err
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := collector.First(); err != nil {
		if files := collector.Files(); len(files) > 1 {
			logger.Error(ctx, collector.Join(), "Files failed", "count", len(files))
		}
		op.EndWithError(ctx, err, "Build failed")
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := p.Finalize(ctx); err != nil {
		op.EndWithError(ctx, err, "Build failed")
		return err
	}

	op.End(ctx, "Built")
	return nil
}

// clean removes output roots left by an earlier run.
func clean(roots []string) error {
	for _, root := range roots {
		if err := os.RemoveAll(root); err != nil {
			return pkgerrors.NewIOError(pkgerrors.ErrCodeRemoveFailed, "unable to clean "+root, err)
		}
	}
	return nil
}
