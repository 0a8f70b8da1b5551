package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/pkgsmith/internal/config"
	pkgerrors "github.com/conneroisu/pkgsmith/internal/errors"
	"github.com/conneroisu/pkgsmith/internal/logging"
	"github.com/conneroisu/pkgsmith/internal/pipeline"
	"github.com/conneroisu/pkgsmith/internal/pkgjson"
	"github.com/conneroisu/pkgsmith/internal/plugins"
	"github.com/conneroisu/pkgsmith/internal/scanner"
	"github.com/conneroisu/pkgsmith/internal/watcher"
)

// Strategy selects how link mode reaches the consumer package.
type Strategy string

const (
	// StrategyEmit writes every file into the consumer from the same
	// in-memory result that goes to the output root. Files plugins write
	// into the output root are mirrored.
	StrategyEmit Strategy = "emit"
	// StrategyMirror watches the output root and copies each change into
	// the consumer.
	StrategyMirror Strategy = "mirror"
)

// ParseStrategy validates a strategy name. The empty string selects
// StrategyEmit.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyEmit:
		return StrategyEmit, nil
	case StrategyMirror:
		return StrategyMirror, nil
	default:
		return "", fmt.Errorf("unknown link strategy %q (want %q or %q)", s, StrategyEmit, StrategyMirror)
	}
}

// session is one target's watch loop.
type session struct {
	pipe   *pipeline.Pipeline
	logger logging.Logger
	input  <-chan watcher.Event

	// mirror is set in link mode: changes under mirrorFrom that pass the
	// strategy's filter are copied to mirrorTo.
	mirror     <-chan watcher.Event
	mirrorFrom string
	mirrorTo   string
}

// Dev cleans each target's output, processes every existing file and then
// keeps the output in sync with the input until ctx is cancelled.
func (c *Controller) Dev(ctx context.Context) error {
	pipes, err := c.pipelines(pipeline.ModeDev, nil)
	if err != nil {
		return err
	}
	return c.watchAll(ctx, pipes, nil, "")
}

// Link behaves like Dev and additionally keeps a copy of each target's
// output inside consumerDir's node_modules, under this package's name.
func (c *Controller) Link(ctx context.Context, consumerDir string, strategy Strategy) error {
	consumer, err := filepath.Abs(consumerDir)
	if err != nil {
		return fmt.Errorf("getting absolute path: %w", err)
	}
	if !pkgjson.IsPackageDir(consumer) {
		return pkgerrors.NewConfigError(pkgerrors.ErrCodeInvalidPackage,
			fmt.Sprintf("%s is not a package: no %s", consumer, pkgjson.FileName), nil)
	}

	pkg, err := pkgjson.Read(c.cwd)
	if err != nil {
		return err
	}

	base := func(t *config.Target) string {
		return pkgjson.LinkedPath(consumer, pkg.Name, t.Output)
	}

	c.logger.Info(ctx, "Linking", "package", pkg.Name, "consumer", consumer, "strategy", string(strategy))

	switch strategy {
	case StrategyEmit, "":
		pipes, err := c.pipelines(pipeline.ModeLink, func(t *config.Target) []string {
			return []string{base(t)}
		})
		if err != nil {
			return err
		}
		return c.watchAll(ctx, pipes, base, StrategyEmit)

	case StrategyMirror:
		pipes, err := c.pipelines(pipeline.ModeLink, nil)
		if err != nil {
			return err
		}
		return c.watchAll(ctx, pipes, base, StrategyMirror)

	default:
		return fmt.Errorf("unknown link strategy %q", strategy)
	}
}

// watchAll runs one session per target. With mirrorBase set, each target's
// output is mirrored to the root it returns. A setup failure in any target
// ends every session.
func (c *Controller) watchAll(ctx context.Context, pipes []*pipeline.Pipeline, mirrorBase func(*config.Target) string, strategy Strategy) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pipes {
		g.Go(func() error {
			s, err := c.startSession(gctx, p, mirrorBase, strategy)
			if err != nil {
				return err
			}
			return c.serve(gctx, s)
		})
	}
	return g.Wait()
}

func (c *Controller) startSession(ctx context.Context, p *pipeline.Pipeline, mirrorBase func(*config.Target) string, strategy Strategy) (*session, error) {
	params := p.Params()
	s := &session{
		pipe:   p,
		logger: c.logger.With("target", params.Target.Input),
	}

	roots := p.EmitRoots()
	if mirrorBase != nil {
		s.mirrorFrom = params.OutputDir
		s.mirrorTo = mirrorBase(params.Target)
		if strategy != StrategyEmit {
			roots = append(roots, s.mirrorTo)
		}
	}

	if err := clean(roots); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(params.OutputDir, 0o755); err != nil {
		return nil, pkgerrors.NewIOError(pkgerrors.ErrCodeMkdirFailed, "unable to create "+params.OutputDir, err)
	}

	// The input watch starts before the initial scan so nothing changed
	// during the scan is missed.
	in, err := watcher.New(params.InputDir, params.Target.Exclude, c.logger)
	if err != nil {
		return nil, err
	}
	if s.input, err = in.Start(ctx); err != nil {
		in.Stop()
		return nil, pkgerrors.NewIOError(pkgerrors.ErrCodeReadFailed, "unable to watch "+params.InputDir, err)
	}

	if s.mirrorFrom != "" {
		out, err := watcher.New(s.mirrorFrom, nil, c.logger)
		if err != nil {
			return nil, err
		}
		keep := mirrorFilter(p, strategy)
		out.AddFilter(keep)
		if s.mirror, err = out.Start(ctx); err != nil {
			out.Stop()
			return nil, pkgerrors.NewIOError(pkgerrors.ErrCodeReadFailed, "unable to watch "+s.mirrorFrom, err)
		}
		if err := mirrorExisting(s.mirrorFrom, s.mirrorTo, keep); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// serve processes every existing input file, runs the whole-target plugin
// hooks, then applies events until ctx is cancelled. Per-file failures are
// logged and never end the session.
func (c *Controller) serve(ctx context.Context, s *session) error {
	params := s.pipe.Params()
	d := NewDispatcher(ctx, c.limit)

	dirs, err := scanner.Dirs(params.InputDir, params.Target.Exclude)
	if err != nil {
		return pkgerrors.NewIOError(pkgerrors.ErrCodeReadFailed, "unable to scan "+params.InputDir, err)
	}
	files, err := scanner.Scan(params.InputDir, params.Target.Exclude)
	if err != nil {
		return pkgerrors.NewIOError(pkgerrors.ErrCodeReadFailed, "unable to scan "+params.InputDir, err)
	}

	for _, dir := range dirs[1:] {
		if err := s.pipe.Mkdir(ctx, dir); err != nil {
			s.logger.Warn(ctx, err, "Mkdir failed", "path", dir)
		}
	}

	op := logging.StartOperation(s.logger, "initial build", "files", len(files))
	for _, file := range files {
		e := watcher.Event{Kind: watcher.Created, Path: file}
		d.Submit(file, func(ctx context.Context) { c.apply(ctx, s, e) })
	}
	d.Wait()
	op.End(ctx, "Initial build complete")

	if err := s.pipe.Finalize(ctx); err != nil {
		s.logger.Warn(ctx, err, "Finalize failed")
	}

	s.logger.Info(ctx, "Watching for changes", "input", params.InputDir)

	input, mirror := s.input, s.mirror
	for input != nil || mirror != nil {
		select {
		case <-ctx.Done():
			d.Wait()
			return nil

		case e, ok := <-input:
			if !ok {
				input = nil
				continue
			}
			d.Submit(e.Path, func(ctx context.Context) { c.apply(ctx, s, e) })

		case e, ok := <-mirror:
			if !ok {
				mirror = nil
				continue
			}
			d.Submit(e.Path, func(ctx context.Context) { c.applyMirror(ctx, s, e) })
		}
	}

	d.Wait()
	return nil
}

// apply carries one input event through the pipeline.
func (c *Controller) apply(ctx context.Context, s *session, e watcher.Event) {
	var err error
	switch e.Kind {
	case watcher.Created, watcher.Modified:
		err = s.pipe.Process(ctx, e.Path)
	case watcher.RemovedFile:
		err = s.pipe.Remove(ctx, e.Path, false)
	case watcher.RemovedDir:
		err = s.pipe.Remove(ctx, e.Path, true)
	case watcher.CreatedDir:
		err = s.pipe.Mkdir(ctx, e.Path)
	}

	if err != nil && ctx.Err() == nil {
		s.logger.Warn(ctx, err, "Unable to apply change", "event", e.Kind.String(), "path", e.Path)
	}
}

// applyMirror copies one output change into the linked base.
func (c *Controller) applyMirror(ctx context.Context, s *session, e watcher.Event) {
	rel, err := filepath.Rel(s.mirrorFrom, e.Path)
	if err != nil || rel == "." {
		return
	}
	dst := filepath.Join(s.mirrorTo, rel)

	// A path that exists again was recreated after this removal; its own
	// creation reaches the linked base.
	if e.Kind == watcher.RemovedFile || e.Kind == watcher.RemovedDir {
		if _, statErr := os.Lstat(e.Path); statErr == nil {
			return
		}
	}

	switch e.Kind {
	case watcher.Created, watcher.Modified:
		err = pkgerrors.IgnoreNotExist(pipeline.CopyFile(e.Path, dst))
	case watcher.RemovedFile:
		err = pkgerrors.IgnoreNotExist(os.Remove(dst))
	case watcher.RemovedDir:
		err = os.RemoveAll(dst)
	case watcher.CreatedDir:
		err = os.MkdirAll(dst, 0o755)
	}

	if err != nil && ctx.Err() == nil {
		s.logger.Warn(ctx, err, "Unable to mirror change", "event", e.Kind.String(), "path", filepath.ToSlash(rel))
	}
}

// mirrorFilter selects the output paths copied to the linked base. Temporary
// files and incremental compiler state never are. In emit mode neither are
// the pipeline's own outputs, which it already writes to the linked base, so
// only files plugins write into the output root remain.
func mirrorFilter(p *pipeline.Pipeline, strategy Strategy) watcher.FileFilter {
	filters := []watcher.FileFilter{
		watcher.IgnoreSuffix(pipeline.TempSuffix),
		watcher.IgnoreSuffix(plugins.BuildInfoSuffix),
	}
	if strategy == StrategyEmit {
		filters = append(filters, func(path string) bool { return !p.Owns(path) })
	}

	return func(path string) bool {
		for _, keep := range filters {
			if !keep(path) {
				return false
			}
		}
		return true
	}
}

// mirrorExisting copies everything already under from that keep accepts
// into to.
func mirrorExisting(from, to string, keep watcher.FileFilter) error {
	files, err := scanner.Scan(from, nil)
	if err != nil {
		return err
	}
	for _, file := range files {
		if !keep(file) {
			continue
		}
		rel, err := filepath.Rel(from, file)
		if err != nil {
			return err
		}
		if err := pipeline.CopyFile(file, filepath.Join(to, rel)); err != nil {
			return pkgerrors.NewIOError(pkgerrors.ErrCodeWriteFailed, "unable to mirror "+rel, err)
		}
	}
	return os.MkdirAll(to, 0o755)
}
