// Package transformers provides the built-in transform steps a target's
// configuration can name: external compilers, templ generation and a few
// text rewrites.
package transformers

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/conneroisu/pkgsmith/internal/config"
	pkgerrors "github.com/conneroisu/pkgsmith/internal/errors"
	"github.com/conneroisu/pkgsmith/internal/pipeline"
)

// Factory builds a transformer from the options map of a step declaration.
type Factory func(options map[string]interface{}) (pipeline.Transformer, error)

var builtins = map[string]Factory{
	"command":   newCommand,
	"templ":     newTempl,
	"extension": newExtension,
	"banner":    newBanner,
	"replace":   newReplace,
}

// Names returns the registered transformer names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve turns step declarations into pipeline steps, in order. A
// declaration with a test pattern becomes a gated step.
func Resolve(specs []config.StepSpec) ([]pipeline.Step, error) {
	steps := make([]pipeline.Step, 0, len(specs))

	for i, spec := range specs {
		factory, ok := builtins[spec.Name]
		if !ok {
			return nil, pkgerrors.NewConfigError(pkgerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("transforms[%d]: unknown transformer %q", i, spec.Name), nil)
		}

		t, err := factory(spec.Options)
		if err != nil {
			return nil, pkgerrors.NewConfigError(pkgerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("transforms[%d]: %s", i, spec.Name), err)
		}

		if spec.Test == "" {
			steps = append(steps, pipeline.Plain(spec.Name, t))
			continue
		}

		re, err := regexp.Compile(spec.Test)
		if err != nil {
			return nil, pkgerrors.NewConfigError(pkgerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("transforms[%d]: test pattern %q", i, spec.Test), err)
		}
		steps = append(steps, pipeline.Gated(spec.Name, t, re))
	}

	return steps, nil
}
