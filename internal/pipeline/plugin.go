package pipeline

import (
	"context"
	"fmt"

	"github.com/conneroisu/pkgsmith/internal/config"
	pkgerrors "github.com/conneroisu/pkgsmith/internal/errors"
)

// Plugin is a post-emit hook. It observes the final Source (nil when the file
// was copied untransformed) and the file's context. What it does cannot
// change what was already written to the primary output.
type Plugin interface {
	Name() string
	Run(ctx context.Context, src *Source, pc *Context) error
}

// BuildPlugin is a plugin with work that runs once per target rather than
// once per file, after every per-file operation has settled.
type BuildPlugin interface {
	Plugin
	Finalize(ctx context.Context, fc *FinalizeContext) error
}

// RemovePlugin is a plugin that hears about deletions. Removed runs after
// the outputs of a source path have been deleted from every emit root; rel
// is the slash-separated path relative to the input root.
type RemovePlugin interface {
	Plugin
	Removed(ctx context.Context, rel string, isDir bool) error
}

// FatalPlugin marks plugins whose failure aborts a one-shot build. The same
// failure in a watch session is only reported.
type FatalPlugin interface {
	FatalInBuild() bool
}

// FinalizeContext is the whole-target context handed to BuildPlugin.
type FinalizeContext struct {
	Cwd       string
	InputDir  string
	OutputDir string
	Config    *config.Target
	Mode      Mode
}

// PluginFunc adapts a function to the Plugin interface.
type PluginFunc struct {
	PluginName string
	Fn         func(ctx context.Context, src *Source, pc *Context) error
}

// Name returns the plugin name.
func (f PluginFunc) Name() string { return f.PluginName }

// Run calls Fn.
func (f PluginFunc) Run(ctx context.Context, src *Source, pc *Context) error {
	return f.Fn(ctx, src, pc)
}

func isFatal(p Plugin, mode Mode) bool {
	if mode != ModeBuild {
		return false
	}
	fp, ok := p.(FatalPlugin)
	return ok && fp.FatalInBuild()
}

// RunPlugins invokes every plugin in order for one file. A failing plugin
// does not stop its siblings. Each failure is returned as a PluginError;
// failures that must abort the build are marked non-recoverable.
func RunPlugins(ctx context.Context, plugins []Plugin, src *Source, pc *Context) []error {
	var failures []error

	for _, p := range plugins {
		err := safeRun(func() error { return p.Run(ctx, src, pc) })
		if err == nil {
			continue
		}

		pe := pkgerrors.NewPluginError(p.Name(), pc.FilePath, err)
		pe.Recoverable = !isFatal(p, pc.Mode)
		failures = append(failures, pe)
	}

	return failures
}

// FinalizePlugins runs Finalize on every BuildPlugin in order, with the same
// failure policy as RunPlugins.
func FinalizePlugins(ctx context.Context, plugins []Plugin, fc *FinalizeContext) []error {
	var failures []error

	for _, p := range plugins {
		bp, ok := p.(BuildPlugin)
		if !ok {
			continue
		}

		err := safeRun(func() error { return bp.Finalize(ctx, fc) })
		if err == nil {
			continue
		}

		pe := pkgerrors.NewPluginError(p.Name(), "", err)
		pe.Recoverable = !isFatal(p, fc.Mode)
		failures = append(failures, pe)
	}

	return failures
}

// RemovePlugins notifies every RemovePlugin of a deleted source path, with
// the same failure policy as RunPlugins.
func RemovePlugins(ctx context.Context, plugins []Plugin, rel string, isDir bool, mode Mode) []error {
	var failures []error

	for _, p := range plugins {
		rp, ok := p.(RemovePlugin)
		if !ok {
			continue
		}

		err := safeRun(func() error { return rp.Removed(ctx, rel, isDir) })
		if err == nil {
			continue
		}

		pe := pkgerrors.NewPluginError(p.Name(), rel, err)
		pe.Recoverable = !isFatal(p, mode)
		failures = append(failures, pe)
	}

	return failures
}

// FirstFatal returns the first non-recoverable failure, or nil.
func FirstFatal(failures []error) error {
	for _, err := range failures {
		if !pkgerrors.IsRecoverable(err) {
			return err
		}
	}
	return nil
}

// safeRun turns a panicking hook into an error so one plugin cannot take
// down a watch session.
func safeRun(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.NewInternalError(pkgerrors.ErrCodeInternalError, fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	return fn()
}
