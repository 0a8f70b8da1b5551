package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	pkgerrors "github.com/conneroisu/pkgsmith/internal/errors"
	"github.com/conneroisu/pkgsmith/internal/logging"
)

// Pipeline is the per-file operation for one build target: transform, emit,
// then run plugins. It is safe for concurrent use by many files.
type Pipeline struct {
	params    Params
	steps     []Step
	plugins   []Plugin
	emitRoots []string
	logger    logging.Logger

	// outputs remembers which names each source produced so a deleted
	// source also removes outputs whose name the chain rewrote. owned counts
	// the sources behind each output-relative path.
	mu      sync.Mutex
	outputs map[string][]string
	owned   map[string]int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSteps sets the transform chain.
func WithSteps(steps ...Step) Option {
	return func(p *Pipeline) {
		p.steps = append(p.steps, steps...)
	}
}

// WithPlugins sets the post-emit plugins.
func WithPlugins(plugins ...Plugin) Option {
	return func(p *Pipeline) {
		p.plugins = append(p.plugins, plugins...)
	}
}

// WithEmitRoot adds a root every file is emitted to after the primary
// output root. Link mode uses it to write the consumer's copy from the same
// in-memory Source, so the chain runs once per change.
func WithEmitRoot(root string) Option {
	return func(p *Pipeline) {
		p.emitRoots = append(p.emitRoots, root)
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates the per-file pipeline for a target.
func New(params Params, opts ...Option) (*Pipeline, error) {
	if params.Target == nil {
		return nil, fmt.Errorf("pipeline requires a target")
	}
	if !filepath.IsAbs(params.InputDir) || !filepath.IsAbs(params.OutputDir) {
		return nil, fmt.Errorf("pipeline roots must be absolute: %q, %q", params.InputDir, params.OutputDir)
	}

	p := &Pipeline{
		params:    params,
		emitRoots: []string{params.OutputDir},
		outputs:   make(map[string][]string),
		owned:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	p.logger = p.logger.WithComponent("pipeline").With("target", params.Target.Input)

	return p, nil
}

// Params returns the parameters the pipeline was created with.
func (p *Pipeline) Params() Params {
	return p.params
}

// Plugins returns the pipeline's plugins.
func (p *Pipeline) Plugins() []Plugin {
	return p.plugins
}

// EmitRoots returns the primary output root followed by any extra roots.
func (p *Pipeline) EmitRoots() []string {
	return append([]string(nil), p.emitRoots...)
}

// Process runs the whole pipeline for one file.
//
// In build mode every failure is returned. In watch modes a failing
// transform is logged and the file is left alone: nothing is emitted and the
// previous output stays in place.
func (p *Pipeline) Process(ctx context.Context, filePath string) error {
	pc, err := NewContext(p.params, filePath)
	if err != nil {
		return err
	}

	op := logging.StartOperation(p.logger, "process", "file", pc.ContextPath)

	var src *Source
	if !pc.Config.SkipsTransform(pc.FilePath) {
		out, err := RunTransforms(ctx, pc, p.steps)
		if err != nil {
			if p.params.Mode.Watching() && pkgerrors.IsTransformError(err) {
				p.logger.Warn(ctx, err, "Transform failed, keeping previous output", "file", pc.ContextPath)
				return nil
			}
			return err
		}
		src = &out
	}

	// Outputs are claimed before they are written so an output watcher
	// never mistakes them for files some other tool produced.
	p.recordOutputs(pc.ContextPath, OutputNames(src, pc))

	for _, root := range p.emitRoots {
		if _, err := Emit(src, pc, root); err != nil {
			return err
		}
	}

	failures := RunPlugins(ctx, p.plugins, src, pc)
	for _, failure := range failures {
		p.logger.Warn(ctx, failure, "Plugin failed", "file", pc.ContextPath)
	}
	if fatal := FirstFatal(failures); fatal != nil {
		return fatal
	}

	if p.params.Mode.Watching() {
		op.End(ctx, "Processed")
	} else {
		p.logger.Debug(ctx, "Processed", "file", pc.ContextPath, "duration", op.Elapsed().String())
	}
	return nil
}

// Finalize runs the whole-target hooks of every BuildPlugin.
func (p *Pipeline) Finalize(ctx context.Context) error {
	fc := &FinalizeContext{
		Cwd:       p.params.Cwd,
		InputDir:  p.params.InputDir,
		OutputDir: p.params.OutputDir,
		Config:    p.params.Target,
		Mode:      p.params.Mode,
	}

	failures := FinalizePlugins(ctx, p.plugins, fc)
	for _, failure := range failures {
		p.logger.Warn(ctx, failure, "Plugin finalize failed")
	}
	return FirstFatal(failures)
}

// Remove deletes the mirror of an input path from every emit root. For a
// directory the whole mirrored subtree goes. For a file, any renamed outputs
// it produced go too.
func (p *Pipeline) Remove(ctx context.Context, inputPath string, isDir bool) error {
	rel, err := relativeTo(p.params.InputDir, inputPath)
	if err != nil {
		return err
	}

	produced := p.forgetOutputs(rel, isDir)

	for _, root := range p.emitRoots {
		target := filepath.Join(root, rel)
		if err := os.RemoveAll(target); err != nil {
			return pkgerrors.NewIOError(pkgerrors.ErrCodeRemoveFailed, "unable to remove "+target, err).WithFile(inputPath)
		}

		dir := filepath.Join(root, filepath.Dir(rel))
		for _, name := range produced {
			out := filepath.Join(dir, name)
			if err := pkgerrors.IgnoreNotExist(os.Remove(out)); err != nil {
				return pkgerrors.NewIOError(pkgerrors.ErrCodeRemoveFailed, "unable to remove "+out, err).WithFile(inputPath)
			}
		}
	}

	p.logger.Info(ctx, "Removed", "path", filepath.ToSlash(rel))

	failures := RemovePlugins(ctx, p.plugins, filepath.ToSlash(rel), isDir, p.params.Mode)
	for _, failure := range failures {
		p.logger.Warn(ctx, failure, "Plugin failed", "path", filepath.ToSlash(rel))
	}
	return FirstFatal(failures)
}

// Mkdir creates the mirror of an input directory under every emit root.
func (p *Pipeline) Mkdir(ctx context.Context, inputDir string) error {
	rel, err := relativeTo(p.params.InputDir, inputDir)
	if err != nil {
		return err
	}

	for _, root := range p.emitRoots {
		target := filepath.Join(root, rel)
		if err := os.MkdirAll(target, 0o755); err != nil {
			return pkgerrors.NewIOError(pkgerrors.ErrCodeMkdirFailed, "unable to create "+target, err).WithFile(inputDir)
		}
	}

	p.logger.Info(ctx, "Created", "path", filepath.ToSlash(rel))
	return nil
}

// Owns reports whether path, under the primary output root, is an output
// the pipeline emitted for some source still present.
func (p *Pipeline) Owns(path string) bool {
	rel, err := filepath.Rel(p.params.OutputDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owned[rel] > 0
}

func (p *Pipeline) recordOutputs(contextPath string, names []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.release(contextPath)
	p.outputs[contextPath] = names
	dir := filepath.Dir(contextPath)
	for _, name := range names {
		p.owned[filepath.Join(dir, name)]++
	}
}

// release drops the ownership claims of one source. The caller holds mu.
func (p *Pipeline) release(contextPath string) {
	dir := filepath.Dir(contextPath)
	for _, name := range p.outputs[contextPath] {
		key := filepath.Join(dir, name)
		if p.owned[key]--; p.owned[key] <= 0 {
			delete(p.owned, key)
		}
	}
	delete(p.outputs, contextPath)
}

// forgetOutputs drops the bookkeeping for rel and returns the names rel
// produced that differ from its own base name and that no other source
// still produces.
func (p *Pipeline) forgetOutputs(rel string, isDir bool) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if isDir {
		prefix := rel + string(filepath.Separator)
		for key := range p.outputs {
			if strings.HasPrefix(key, prefix) {
				p.release(key)
			}
		}
		return nil
	}

	names := p.outputs[rel]
	p.release(rel)

	base, dir := filepath.Base(rel), filepath.Dir(rel)
	var produced []string
	for _, name := range names {
		if name != base && p.owned[filepath.Join(dir, name)] == 0 {
			produced = append(produced, name)
		}
	}
	return produced
}
