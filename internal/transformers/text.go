package transformers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/conneroisu/pkgsmith/internal/config"
	"github.com/conneroisu/pkgsmith/internal/pipeline"
	"github.com/conneroisu/pkgsmith/internal/validation"
)

type extensionOptions struct {
	From []string `mapstructure:"from"`
	To   string   `mapstructure:"to"`
}

func newExtension(options map[string]interface{}) (pipeline.Transformer, error) {
	var opts extensionOptions
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}
	if len(opts.From) == 0 {
		return nil, fmt.Errorf("extension: from is required")
	}
	for _, ext := range opts.From {
		if err := validation.ValidateFileExtension(ext); err != nil {
			return nil, err
		}
	}
	if err := validation.ValidateFileExtension(opts.To); err != nil {
		return nil, err
	}

	return func(_ context.Context, src pipeline.Source, _ *pipeline.Context) (pipeline.Source, error) {
		return src.WithFileName(rewriteExtension(src.FileName, opts.From, opts.To)), nil
	}, nil
}

type bannerOptions struct {
	Text string `mapstructure:"text"`
}

func newBanner(options map[string]interface{}) (pipeline.Transformer, error) {
	var opts bannerOptions
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}
	if opts.Text == "" {
		return nil, fmt.Errorf("banner: text is required")
	}

	header := opts.Text
	if !strings.HasSuffix(header, "\n") {
		header += "\n"
	}

	return func(_ context.Context, src pipeline.Source, _ *pipeline.Context) (pipeline.Source, error) {
		return src.WithCode(header + src.Code), nil
	}, nil
}

type replaceOptions struct {
	Pattern     string `mapstructure:"pattern"`
	Replacement string `mapstructure:"replacement"`
}

// newReplace rewrites every match of a regular expression. The replacement
// may use $1-style group references.
func newReplace(options map[string]interface{}) (pipeline.Transformer, error) {
	var opts replaceOptions
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}
	if opts.Pattern == "" {
		return nil, fmt.Errorf("replace: pattern is required")
	}

	re, err := regexp.Compile(opts.Pattern)
	if err != nil {
		return nil, fmt.Errorf("replace: %w", err)
	}

	return func(_ context.Context, src pipeline.Source, _ *pipeline.Context) (pipeline.Source, error) {
		return src.WithCode(re.ReplaceAllString(src.Code, opts.Replacement)), nil
	}, nil
}
