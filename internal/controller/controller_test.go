package controller

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pkgsmith/internal/config"
	pkgerrors "github.com/conneroisu/pkgsmith/internal/errors"
	"github.com/conneroisu/pkgsmith/internal/plugins"
)

func TestNewRequiresTargets(t *testing.T) {
	_, err := New(Options{Cwd: t.TempDir()})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConfigError(err))

	_, err = New(Options{Cwd: t.TempDir(), Config: &config.Config{}})
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	p := newProject(t)
	p.write(t, "src/index.ts", "export const a: number = 1;")
	p.write(t, "src/lib/util.ts", "export const b: string = '';")
	p.write(t, "src/types.d.ts", "declare const x: number;")
	p.write(t, "src/styles/app.css", "body{}")
	p.write(t, "src/__tests__/index.test.ts", "test()")
	p.write(t, "dist/stale.js", "old")

	c := p.controller(t, tsTarget("src", "dist"))
	require.NoError(t, c.Build(context.Background()))

	assert.Equal(t, "export const a = 1;", p.read(t, "dist/index.js"))
	assert.Equal(t, "export const b = '';", p.read(t, "dist/lib/util.js"))
	assert.Equal(t, "declare const x: number;", p.read(t, "dist/types.d.ts"))
	assert.Equal(t, "body{}", p.read(t, "dist/styles/app.css"))
	assert.NoFileExists(t, p.path("dist/index.ts"))
	assert.NoFileExists(t, p.path("dist/stale.js"))
	assert.NoDirExists(t, p.path("dist/__tests__"))
}

func TestBuildIsIdempotent(t *testing.T) {
	p := newProject(t)
	p.write(t, "src/a.ts", "let a: number;")
	p.write(t, "src/deep/b/c.css", "c")

	c := p.controller(t, tsTarget("src", "dist"))

	snapshot := func() map[string]string {
		out := make(map[string]string)
		require.NoError(t, filepath.WalkDir(p.path("dist"), func(path string, d os.DirEntry, err error) error {
			require.NoError(t, err)
			if !d.IsDir() {
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				out[path] = string(data)
			}
			return nil
		}))
		return out
	}

	require.NoError(t, c.Build(context.Background()))
	first := snapshot()
	require.NoError(t, c.Build(context.Background()))

	assert.Equal(t, first, snapshot())
	assert.Len(t, first, 2)
}

func TestBuildMultipleTargets(t *testing.T) {
	p := newProject(t)
	p.write(t, "src/a.ts", "let a: number;")
	p.write(t, "assets/logo.svg", "<svg/>")

	assetTarget := config.Target{Input: "assets", Output: "dist/assets", Exclude: []string{}}
	c := p.controller(t, tsTarget("src", "lib"), assetTarget)
	require.NoError(t, c.Build(context.Background()))

	assert.Equal(t, "let a;", p.read(t, "lib/a.js"))
	assert.Equal(t, "<svg/>", p.read(t, "dist/assets/logo.svg"))
}

func TestBuildTransformFailureIsFatal(t *testing.T) {
	p := newProject(t)
	p.write(t, "src/good.templ", "package views\n\ntempl Good() {\n\t<p>ok</p>\n}\n")
	p.write(t, "src/bad.templ", "package views\n\ntempl Bad() {\n\t<div>\n")

	target := config.Target{
		Input:      "src",
		Output:     "dist",
		Transforms: []config.StepSpec{{Name: "templ", Test: `\.templ$`}},
	}
	c := p.controller(t, target)

	err := c.Build(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsTransformError(err))
	assert.Contains(t, err.Error(), "bad.templ")
	assert.NoFileExists(t, p.path("dist/bad_templ.go"))
}

func TestBuildUnknownTransformerTouchesNothing(t *testing.T) {
	p := newProject(t)
	p.write(t, "src/a.ts", "x")
	p.write(t, "dist/keep.js", "keep")

	target := config.Target{Input: "src", Output: "dist", Transforms: []config.StepSpec{{Name: "minify"}}}
	c := p.controller(t, target)

	err := c.Build(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConfigError(err))
	assert.Equal(t, "keep", p.read(t, "dist/keep.js"))
}

func TestBuildRunsFinalize(t *testing.T) {
	p := newProject(t)
	p.write(t, "src/a.css", "a")
	p.write(t, "src/b/c.css", "c")

	target := config.Target{Input: "src", Output: "dist", Plugins: []config.PluginSpec{{Name: "manifest"}}}
	c := p.controller(t, target)
	require.NoError(t, c.Build(context.Background()))

	manifest := p.read(t, "dist/"+plugins.ManifestFile)
	assert.Contains(t, manifest, `"a.css"`)
	assert.Contains(t, manifest, `"b/c.css"`)
}

func TestBuildMissingInputYieldsEmptyOutput(t *testing.T) {
	p := newProject(t)
	c := p.controller(t, tsTarget("src", "dist"))

	require.NoError(t, c.Build(context.Background()))
	assert.DirExists(t, p.path("dist"))
}

func TestBuildCancelled(t *testing.T) {
	p := newProject(t)
	for _, name := range []string{"a", "b", "c", "d"} {
		p.write(t, "src/"+name+".ts", "x")
	}
	c := p.controller(t, tsTarget("src", "dist"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, c.Build(ctx))
}
