package transformers

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/a-h/templ"
	"github.com/a-h/templ/generator"
	parser "github.com/a-h/templ/parser/v2"

	"github.com/conneroisu/pkgsmith/internal/config"
	"github.com/conneroisu/pkgsmith/internal/pipeline"
)

// TemplExtension is the suffix of templ sources.
const TemplExtension = ".templ"

type templOptions struct {
	SkipGeneratedComment bool `mapstructure:"skip_generated_comment"`
}

// newTempl compiles .templ sources into their _templ.go counterparts. Files
// with any other extension pass through untouched.
func newTempl(options map[string]interface{}) (pipeline.Transformer, error) {
	var opts templOptions
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}

	return func(_ context.Context, src pipeline.Source, pc *pipeline.Context) (pipeline.Source, error) {
		if !strings.HasSuffix(src.FileName, TemplExtension) {
			return src, nil
		}

		tf, err := parser.ParseString(src.Code)
		if err != nil {
			return pipeline.Source{}, fmt.Errorf("parsing %s: %w", pc.ContextPath, err)
		}

		genOpts := []generator.GenerateOpt{
			generator.WithFileName(pc.ContextPath),
			generator.WithVersion(templ.Version()),
		}
		if opts.SkipGeneratedComment {
			genOpts = append(genOpts, generator.WithSkipCodeGeneratedComment())
		}

		var buf bytes.Buffer
		if _, err := generator.Generate(tf, &buf, genOpts...); err != nil {
			return pipeline.Source{}, fmt.Errorf("generating %s: %w", pc.ContextPath, err)
		}

		name := strings.TrimSuffix(src.FileName, TemplExtension) + "_templ.go"
		return src.WithCode(buf.String()).WithFileName(name), nil
	}, nil
}
