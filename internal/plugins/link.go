package plugins

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/conneroisu/pkgsmith/internal/config"
	"github.com/conneroisu/pkgsmith/internal/logging"
	"github.com/conneroisu/pkgsmith/internal/pipeline"
	"github.com/conneroisu/pkgsmith/internal/pkgjson"
)

// LinkName is the configuration name of the link plugin.
const LinkName = "link"

type linkOptions struct {
	Output string `mapstructure:"output"`
}

// LinkPlugin writes every processed file a second time into a consumer
// package's node_modules, as if this package were installed there.
type LinkPlugin struct {
	consumer string
	logger   logging.Logger

	name *pipeline.Memo[string]
}

func newLink(options map[string]interface{}, deps Deps) (pipeline.Plugin, error) {
	var opts linkOptions
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}
	if opts.Output == "" {
		return nil, fmt.Errorf("link: output is required")
	}

	consumer := opts.Output
	if !filepath.IsAbs(consumer) {
		consumer = filepath.Join(deps.Cwd, consumer)
	}

	return NewLink(consumer, deps.Cwd, deps.Logger), nil
}

// NewLink creates a link plugin targeting consumerDir. The package name is
// read from cwd's package.json on first use.
func NewLink(consumerDir, cwd string, logger logging.Logger) *LinkPlugin {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LinkPlugin{
		consumer: consumerDir,
		logger:   logger.WithComponent(LinkName),
		name: pipeline.NewMemo(func() (string, error) {
			pkg, err := pkgjson.Read(cwd)
			if err != nil {
				return "", err
			}
			return pkg.Name, nil
		}),
	}
}

// Name returns the plugin name.
func (p *LinkPlugin) Name() string { return LinkName }

// Run emits the file's final form under the consumer's copy of the target
// output root.
func (p *LinkPlugin) Run(_ context.Context, src *pipeline.Source, pc *pipeline.Context) error {
	base, err := p.Base(pc.Config.Output)
	if err != nil {
		return err
	}

	_, err = pipeline.Emit(src, pc, base)
	return err
}

// Base returns the linked output root for a target output directory.
func (p *LinkPlugin) Base(output string) (string, error) {
	if !pkgjson.IsPackageDir(p.consumer) {
		return "", fmt.Errorf("%s is not a package: no %s", p.consumer, pkgjson.FileName)
	}

	name, err := p.name.Get()
	if err != nil {
		return "", err
	}
	return pkgjson.LinkedPath(p.consumer, name, output), nil
}
