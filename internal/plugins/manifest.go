package plugins

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/conneroisu/pkgsmith/internal/config"
	"github.com/conneroisu/pkgsmith/internal/logging"
	"github.com/conneroisu/pkgsmith/internal/pipeline"
)

// ManifestName is the configuration name of the manifest plugin.
const ManifestName = "manifest"

// ManifestFile is written at the root of the target output.
const ManifestFile = ".pkgsmith-manifest.json"

type manifestOptions struct {
	File string `mapstructure:"file"`
}

// Manifest is the on-disk form: output-relative slash paths mapped to the
// hex BLAKE3 digest of their content.
type Manifest struct {
	Target string            `json:"target"`
	Files  map[string]string `json:"files"`
}

// ManifestPlugin records a digest of every output file. Finalize writes the
// manifest; in watch modes every later change or deletion rewrites it.
type ManifestPlugin struct {
	file   string
	logger logging.Logger

	mu        sync.Mutex
	digests   map[string]string
	finalized *pipeline.FinalizeContext

	// writeMu serializes manifest writes, which share one temporary name.
	writeMu sync.Mutex
}

func newManifest(options map[string]interface{}, deps Deps) (pipeline.Plugin, error) {
	opts := manifestOptions{File: ManifestFile}
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}
	if opts.File == "" || filepath.Base(opts.File) != opts.File {
		return nil, fmt.Errorf("manifest: file must be a plain file name, got %q", opts.File)
	}

	return &ManifestPlugin{
		file:    opts.File,
		logger:  deps.Logger.WithComponent(ManifestName),
		digests: make(map[string]string),
	}, nil
}

// Name returns the plugin name.
func (p *ManifestPlugin) Name() string { return ManifestName }

// Run records the digests of the outputs of one file.
func (p *ManifestPlugin) Run(_ context.Context, src *pipeline.Source, pc *pipeline.Context) error {
	entries := make(map[string]string, 2)
	dir := filepath.ToSlash(pc.ContextDir)

	if src == nil {
		data, err := os.ReadFile(filepath.Join(pc.OutputDir, pc.ContextDir, pc.FileName))
		if err != nil {
			return err
		}
		entries[joinSlash(dir, pc.FileName)] = digest(data)
	} else {
		name := filepath.Base(src.FileName)
		entries[joinSlash(dir, name)] = digest([]byte(src.Code))
		if src.HasMap {
			entries[joinSlash(dir, name+pipeline.MapExtension)] = digest([]byte(src.Map))
		}
	}

	p.mu.Lock()
	for k, v := range entries {
		p.digests[k] = v
	}
	fc := p.finalized
	p.mu.Unlock()

	if fc != nil && fc.Mode.Watching() {
		return p.write(fc)
	}
	return nil
}

// Removed rewrites the manifest without the outputs of a deleted source
// once the session has finalized. write drops entries whose file is gone.
func (p *ManifestPlugin) Removed(context.Context, string, bool) error {
	p.mu.Lock()
	fc := p.finalized
	p.mu.Unlock()

	if fc != nil && fc.Mode.Watching() {
		return p.write(fc)
	}
	return nil
}

// Finalize writes the manifest for the target.
func (p *ManifestPlugin) Finalize(ctx context.Context, fc *pipeline.FinalizeContext) error {
	p.mu.Lock()
	p.finalized = fc
	p.mu.Unlock()

	if err := p.write(fc); err != nil {
		return err
	}
	p.logger.Debug(ctx, "Wrote manifest", "file", p.file)
	return nil
}

// Digests returns a copy of the recorded digests.
func (p *ManifestPlugin) Digests() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]string, len(p.digests))
	for k, v := range p.digests {
		out[k] = v
	}
	return out
}

// write serializes the digests of files still present in the output.
// encoding/json sorts map keys, so identical outputs give identical bytes.
func (p *ManifestPlugin) write(fc *pipeline.FinalizeContext) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	m := Manifest{Target: fc.Config.Input, Files: make(map[string]string, len(p.digests))}
	for rel, sum := range p.digests {
		if _, err := os.Stat(filepath.Join(fc.OutputDir, filepath.FromSlash(rel))); err != nil {
			delete(p.digests, rel)
			continue
		}
		m.Files[rel] = sum
	}
	p.mu.Unlock()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(fc.OutputDir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(fc.OutputDir, "."+p.file+pipeline.TempSuffix)
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(fc.OutputDir, p.file))
}

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func joinSlash(dir, name string) string {
	if dir == "." || dir == "" {
		return name
	}
	return dir + "/" + name
}
