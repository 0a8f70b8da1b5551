// Package plugins provides the built-in post-emit plugins a target's
// configuration can name.
package plugins

import (
	"fmt"
	"sort"

	"github.com/conneroisu/pkgsmith/internal/config"
	pkgerrors "github.com/conneroisu/pkgsmith/internal/errors"
	"github.com/conneroisu/pkgsmith/internal/logging"
	"github.com/conneroisu/pkgsmith/internal/pipeline"
)

// Deps carries what plugin factories need beyond their own options.
type Deps struct {
	// Cwd is the directory package.json and tsconfig.json are read from.
	Cwd    string
	Logger logging.Logger
}

// Factory builds a plugin from the options map of a plugin declaration.
type Factory func(options map[string]interface{}, deps Deps) (pipeline.Plugin, error)

var builtins = map[string]Factory{
	DeclarationsName: newDeclarations,
	LinkName:         newLink,
	ManifestName:     newManifest,
}

// Names returns the registered plugin names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve instantiates plugin declarations in order. Every call returns
// fresh instances, so targets never share plugin state.
func Resolve(specs []config.PluginSpec, deps Deps) ([]pipeline.Plugin, error) {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}

	plugins := make([]pipeline.Plugin, 0, len(specs))
	for i, spec := range specs {
		factory, ok := builtins[spec.Name]
		if !ok {
			return nil, pkgerrors.NewConfigError(pkgerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("plugins[%d]: unknown plugin %q", i, spec.Name), nil)
		}

		p, err := factory(spec.Options, deps)
		if err != nil {
			return nil, pkgerrors.NewConfigError(pkgerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("plugins[%d]: %s", i, spec.Name), err)
		}
		plugins = append(plugins, p)
	}

	return plugins, nil
}
