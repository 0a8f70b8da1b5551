package controller

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pkgsmith/internal/config"
	pkgerrors "github.com/conneroisu/pkgsmith/internal/errors"
	"github.com/conneroisu/pkgsmith/internal/logging"
	"github.com/conneroisu/pkgsmith/internal/pipeline"
	"github.com/conneroisu/pkgsmith/internal/plugins"
	"github.com/conneroisu/pkgsmith/internal/watcher"
)

// manifestLists reports whether the manifest at path exists and has an
// entry for rel.
func manifestLists(path, rel string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var m plugins.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	_, ok := m.Files[rel]
	return ok
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyEmit, s)

	s, err = ParseStrategy("mirror")
	require.NoError(t, err)
	assert.Equal(t, StrategyMirror, s)

	_, err = ParseStrategy("symlink")
	assert.Error(t, err)
}

// TestServeSyntheticEvents drives a session from a hand-fed event channel,
// so every change kind is checked without filesystem notification timing.
func TestServeSyntheticEvents(t *testing.T) {
	p := newProject(t)
	p.write(t, "src/existing.ts", "let e: number;")
	c := p.controller(t, tsTarget("src", "dist"))

	pipe, err := c.pipelineFor(&c.cfg.Targets[0], pipeline.ModeDev)
	require.NoError(t, err)

	events := make(chan watcher.Event)
	s := &session{pipe: pipe, logger: logging.Discard(), input: events}

	done := make(chan error, 1)
	go func() { done <- c.serve(context.Background(), s) }()

	send := func(kind watcher.EventKind, rel string) {
		events <- watcher.Event{Kind: kind, Path: p.path(rel)}
	}

	// The initial scan covers files that existed before the session.
	p.eventuallyContent(t, "dist/existing.js", "let e;")

	p.write(t, "src/lib/a.ts", "let a: string;")
	send(watcher.CreatedDir, "src/lib")
	send(watcher.Created, "src/lib/a.ts")
	p.eventuallyContent(t, "dist/lib/a.js", "let a;")

	p.write(t, "src/lib/a.ts", "let a2: string;")
	send(watcher.Modified, "src/lib/a.ts")
	p.eventuallyContent(t, "dist/lib/a.js", "let a2;")

	require.NoError(t, os.Remove(p.path("src/lib/a.ts")))
	send(watcher.RemovedFile, "src/lib/a.ts")
	p.eventuallyGone(t, "dist/lib/a.js")

	require.NoError(t, os.MkdirAll(p.path("src/empty"), 0o755))
	send(watcher.CreatedDir, "src/empty")
	assert.Eventually(t, func() bool {
		info, err := os.Stat(p.path("dist/empty"))
		return err == nil && info.IsDir()
	}, settle, 10*time.Millisecond)

	require.NoError(t, os.RemoveAll(p.path("src/lib")))
	send(watcher.RemovedDir, "src/lib")
	p.eventuallyGone(t, "dist/lib")

	close(events)
	require.NoError(t, <-done)
	assert.Equal(t, "let e;", p.read(t, "dist/existing.js"))
}

func TestServeSameFileEventsApplyInOrder(t *testing.T) {
	p := newProject(t)
	c := p.controller(t, tsTarget("src", "dist"))

	pipe, err := c.pipelineFor(&c.cfg.Targets[0], pipeline.ModeDev)
	require.NoError(t, err)

	events := make(chan watcher.Event, 3)
	s := &session{pipe: pipe, logger: logging.Discard(), input: events}

	file := p.write(t, "src/a.css", "final")
	events <- watcher.Event{Kind: watcher.Created, Path: file}
	events <- watcher.Event{Kind: watcher.RemovedFile, Path: file}
	events <- watcher.Event{Kind: watcher.Modified, Path: file}
	close(events)

	require.NoError(t, c.serve(context.Background(), s))
	assert.Equal(t, "final", p.read(t, "dist/a.css"))
}

func TestDev(t *testing.T) {
	p := newProject(t)
	p.write(t, "src/index.ts", "let i: number;")
	p.write(t, "dist/stale.js", "old")

	c := p.controller(t, tsTarget("src", "dist"))
	stop := runInBackground(t, c.Dev)

	p.eventuallyContent(t, "dist/index.js", "let i;")
	p.eventuallyGone(t, "dist/stale.js")

	p.write(t, "src/added.ts", "let n: number;")
	p.eventuallyContent(t, "dist/added.js", "let n;")

	p.write(t, "src/index.ts", "let j: number;")
	p.eventuallyContent(t, "dist/index.js", "let j;")

	staging := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "feature", "deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "feature", "deep", "x.ts"), []byte("let x: X;"), 0o644))
	require.NoError(t, os.Rename(filepath.Join(staging, "feature"), p.path("src/feature")))
	p.eventuallyContent(t, "dist/feature/deep/x.js", "let x;")

	require.NoError(t, os.Remove(p.path("src/added.ts")))
	p.eventuallyGone(t, "dist/added.js")

	require.NoError(t, os.RemoveAll(p.path("src/feature")))
	p.eventuallyGone(t, "dist/feature")

	require.NoError(t, stop())
}

func TestDevTransformFailureKeepsOutput(t *testing.T) {
	p := newProject(t)
	good := "package views\n\ntempl Hello() {\n\t<p>hi</p>\n}\n"
	p.write(t, "src/hello.templ", good)

	target := tsTarget("src", "dist")
	target.Transforms = append(target.Transforms, config.StepSpec{Name: "templ", Test: `\.templ$`})
	c := p.controller(t, target)

	stop := runInBackground(t, c.Dev)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(p.path("dist/hello_templ.go"))
		return err == nil
	}, settle, 10*time.Millisecond)
	before := p.read(t, "dist/hello_templ.go")

	p.write(t, "src/hello.templ", "package views\n\ntempl Hello() {\n\t<div>\n")
	p.write(t, "src/sentinel.css", "s")
	p.eventuallyContent(t, "dist/sentinel.css", "s")

	assert.Equal(t, before, p.read(t, "dist/hello_templ.go"))
	require.NoError(t, stop())
}

func TestLinkRequiresConsumerPackage(t *testing.T) {
	p := newProject(t)
	p.write(t, "package.json", `{"name":"lib"}`)
	c := p.controller(t, tsTarget("src", "dist"))

	err := c.Link(context.Background(), t.TempDir(), StrategyEmit)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConfigError(err))
	assert.NoDirExists(t, p.path("dist"))
}

func TestLinkRequiresOwnPackage(t *testing.T) {
	p := newProject(t)
	consumer := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(consumer, "package.json"), []byte(`{"name":"app"}`), 0o644))
	c := p.controller(t, tsTarget("src", "dist"))

	assert.Error(t, c.Link(context.Background(), consumer, StrategyEmit))
}

func TestLink(t *testing.T) {
	for _, strategy := range []Strategy{StrategyEmit, StrategyMirror} {
		t.Run(string(strategy), func(t *testing.T) {
			p := newProject(t)
			p.write(t, "package.json", `{"name": "@acme/ui", /* jsonc */ }`)
			p.write(t, "src/button.ts", "let b: B;")

			consumer := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(consumer, "package.json"), []byte(`{"name":"app"}`), 0o644))
			linked := func(rel string) string {
				return filepath.Join(consumer, "node_modules", "@acme", "ui", "dist", filepath.FromSlash(rel))
			}
			require.NoError(t, os.MkdirAll(filepath.Dir(linked("stale.js")), 0o755))
			require.NoError(t, os.WriteFile(linked("stale.js"), []byte("old"), 0o644))

			c := p.controller(t, tsTarget("src", "dist"))
			stop := runInBackground(t, func(ctx context.Context) error {
				return c.Link(ctx, consumer, strategy)
			})

			eventually := func(rel, want string) {
				t.Helper()
				assert.Eventually(t, func() bool {
					data, err := os.ReadFile(linked(rel))
					return err == nil && string(data) == want
				}, settle, 10*time.Millisecond, "linked %s never became %q", rel, want)
			}
			gone := func(rel string) {
				t.Helper()
				assert.Eventually(t, func() bool {
					_, err := os.Stat(linked(rel))
					return os.IsNotExist(err)
				}, settle, 10*time.Millisecond, "linked %s never went away", rel)
			}

			eventually("button.js", "let b;")
			gone("stale.js")
			p.eventuallyContent(t, "dist/button.js", "let b;")

			p.write(t, "src/ui/card.ts", "let c: C;")
			eventually("ui/card.js", "let c;")

			require.NoError(t, os.Remove(p.path("src/button.ts")))
			gone("button.js")

			require.NoError(t, os.MkdirAll(p.path("src/empty"), 0o755))
			assert.Eventually(t, func() bool {
				info, err := os.Stat(linked("empty"))
				return err == nil && info.IsDir()
			}, settle, 10*time.Millisecond)

			require.NoError(t, os.RemoveAll(p.path("src/ui")))
			gone("ui")

			require.NoError(t, stop())
		})
	}
}

func TestDevManifestDropsDeletedFiles(t *testing.T) {
	p := newProject(t)
	p.write(t, "src/a.css", "a")
	p.write(t, "src/b.css", "b")

	target := tsTarget("src", "dist")
	target.Plugins = []config.PluginSpec{{Name: plugins.ManifestName}}
	c := p.controller(t, target)
	stop := runInBackground(t, c.Dev)

	manifest := p.path("dist/" + plugins.ManifestFile)
	assert.Eventually(t, func() bool {
		return manifestLists(manifest, "a.css") && manifestLists(manifest, "b.css")
	}, settle, 10*time.Millisecond)

	require.NoError(t, os.Remove(p.path("src/b.css")))
	p.eventuallyGone(t, "dist/b.css")
	assert.Eventually(t, func() bool {
		return manifestLists(manifest, "a.css") && !manifestLists(manifest, "b.css")
	}, settle, 10*time.Millisecond, "manifest still lists the deleted file")

	require.NoError(t, stop())
}

// Files plugins write into the output root, such as the manifest or
// compiler-emitted declarations, reach the consumer under both strategies.
func TestLinkPluginOutputs(t *testing.T) {
	for _, strategy := range []Strategy{StrategyEmit, StrategyMirror} {
		t.Run(string(strategy), func(t *testing.T) {
			p := newProject(t)
			p.write(t, "package.json", `{"name":"lib"}`)
			p.write(t, "src/button.ts", "let b: B;")

			consumer := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(consumer, "package.json"), []byte(`{"name":"app"}`), 0o644))
			linked := func(rel string) string {
				return filepath.Join(consumer, "node_modules", "lib", "dist", filepath.FromSlash(rel))
			}

			target := tsTarget("src", "dist")
			target.Plugins = []config.PluginSpec{{Name: plugins.ManifestName}}
			c := p.controller(t, target)
			stop := runInBackground(t, func(ctx context.Context) error {
				return c.Link(ctx, consumer, strategy)
			})

			assert.Eventually(t, func() bool {
				return manifestLists(linked(plugins.ManifestFile), "button.js")
			}, settle, 10*time.Millisecond, "linked manifest never listed button.js")

			// What an external declaration compiler leaves in the output.
			p.write(t, "dist/tsconfig"+plugins.BuildInfoSuffix, "{}")
			p.write(t, "dist/types/button.d.ts", "declare let b: B;")

			assert.Eventually(t, func() bool {
				data, err := os.ReadFile(linked("types/button.d.ts"))
				return err == nil && string(data) == "declare let b: B;"
			}, settle, 10*time.Millisecond, "declarations never reached the consumer")

			p.write(t, "dist/types/button.d.ts", "declare let b: Button;")
			assert.Eventually(t, func() bool {
				data, err := os.ReadFile(linked("types/button.d.ts"))
				return err == nil && string(data) == "declare let b: Button;"
			}, settle, 10*time.Millisecond, "rewritten declarations never reached the consumer")

			assert.NoFileExists(t, linked("tsconfig"+plugins.BuildInfoSuffix))

			data, err := os.ReadFile(linked("button.js"))
			require.NoError(t, err)
			assert.Equal(t, "let b;", string(data))

			require.NoError(t, stop())
		})
	}
}

func TestMirrorFilter(t *testing.T) {
	p := newProject(t)
	file := p.write(t, "src/a.ts", "let a: A;")
	c := p.controller(t, tsTarget("src", "dist"))

	pipe, err := c.pipelineFor(&c.cfg.Targets[0], pipeline.ModeLink)
	require.NoError(t, err)
	require.NoError(t, pipe.Process(context.Background(), file))

	emitted := p.path("dist/a.js")
	declared := p.path("dist/a.d.ts")
	buildInfo := p.path("dist/tsconfig" + plugins.BuildInfoSuffix)
	temp := p.path("dist/a.js" + pipeline.TempSuffix)

	emit := mirrorFilter(pipe, StrategyEmit)
	assert.False(t, emit(emitted))
	assert.True(t, emit(declared))
	assert.False(t, emit(buildInfo))
	assert.False(t, emit(temp))

	mirror := mirrorFilter(pipe, StrategyMirror)
	assert.True(t, mirror(emitted))
	assert.True(t, mirror(declared))
	assert.False(t, mirror(buildInfo))
	assert.False(t, mirror(temp))

	require.NoError(t, pipe.Remove(context.Background(), file, false))
	assert.True(t, emit(emitted))
}
