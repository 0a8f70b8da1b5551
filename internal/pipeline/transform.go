package pipeline

import (
	"context"
	"fmt"
	"os"
	"regexp"

	pkgerrors "github.com/conneroisu/pkgsmith/internal/errors"
)

// Transformer turns one Source into the next. It receives the full per-file
// context and may fail, e.g. on a syntax error in the source text.
type Transformer func(ctx context.Context, src Source, pc *Context) (Source, error)

// StepKind tags the variants of Step.
type StepKind int

const (
	// StepPlain applies its transformer to every file.
	StepPlain StepKind = iota
	// StepGated applies its transformer only to files whose absolute path
	// matches the step's test pattern.
	StepGated
)

// String returns the string representation of the StepKind
func (k StepKind) String() string {
	switch k {
	case StepPlain:
		return "plain"
	case StepGated:
		return "gated"
	default:
		return "unknown"
	}
}

// Step is one entry of a transform chain.
type Step struct {
	Kind      StepKind
	Name      string
	Transform Transformer
	Test      *regexp.Regexp
}

// Plain creates a step applied to every file.
func Plain(name string, t Transformer) Step {
	return Step{Kind: StepPlain, Name: name, Transform: t}
}

// Gated creates a step applied only when test matches the file path.
func Gated(name string, t Transformer, test *regexp.Regexp) Step {
	return Step{Kind: StepGated, Name: name, Transform: t, Test: test}
}

// Applies reports whether the step runs for filePath.
func (s Step) Applies(filePath string) bool {
	switch s.Kind {
	case StepPlain:
		return true
	case StepGated:
		return s.Test != nil && s.Test.MatchString(filePath)
	default:
		return false
	}
}

// ReadSource loads the file behind pc as the initial Source of a chain.
func ReadSource(pc *Context) (Source, error) {
	data, err := os.ReadFile(pc.FilePath)
	if err != nil {
		return Source{}, pkgerrors.NewIOError(pkgerrors.ErrCodeReadFailed, "unable to read source", err).WithFile(pc.FilePath)
	}
	return Source{FileName: pc.FileName, Code: string(data)}, nil
}

// RunTransforms reads the file behind pc and applies steps in order. Each
// applied step sees the Source produced by the previous one, so a rename
// done early is visible to every later step. A failing step aborts the
// chain with a TransformError naming the file and the step.
func RunTransforms(ctx context.Context, pc *Context, steps []Step) (Source, error) {
	src, err := ReadSource(pc)
	if err != nil {
		return Source{}, err
	}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return Source{}, err
		}

		if !step.Applies(pc.FilePath) {
			continue
		}

		if step.Transform == nil {
			return Source{}, pkgerrors.NewTransformError(pc.FilePath, i, fmt.Errorf("step %q has no transformer", step.Name))
		}

		next, err := step.Transform(ctx, src, pc)
		if err != nil {
			return Source{}, pkgerrors.NewTransformError(pc.FilePath, i, err).WithContext("step", step.Name)
		}
		if next.FileName == "" {
			next.FileName = src.FileName
		}
		src = next
	}

	return src, nil
}
