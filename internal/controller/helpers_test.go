package controller

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pkgsmith/internal/config"
)

const settle = 5 * time.Second

type project struct {
	cwd string
}

func newProject(t *testing.T) *project {
	t.Helper()
	return &project{cwd: t.TempDir()}
}

func (p *project) path(rel string) string {
	return filepath.Join(p.cwd, filepath.FromSlash(rel))
}

func (p *project) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := p.path(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (p *project) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(p.path(rel))
	require.NoError(t, err)
	return string(data)
}

// tsTarget compiles .ts files by renaming them to .js and tagging the code,
// and copies .d.ts files untouched.
func tsTarget(input, output string) config.Target {
	return config.Target{
		Input:  input,
		Output: output,
		Transforms: []config.StepSpec{
			{Name: "replace", Test: `\.ts$`, Options: map[string]interface{}{"pattern": `: \w+`, "replacement": ""}},
			{Name: "extension", Options: map[string]interface{}{"from": []interface{}{".ts"}, "to": ".js"}},
		},
		Exclude:       []string{"**/__tests__/**"},
		SkipTransform: []string{`\.d\.ts$`},
	}
}

func (p *project) controller(t *testing.T, targets ...config.Target) *Controller {
	t.Helper()
	for i := range targets {
		require.NoError(t, targets[i].Compile())
	}

	c, err := New(Options{Cwd: p.cwd, Config: &config.Config{Targets: targets}, Concurrency: 4})
	require.NoError(t, err)
	return c
}

func (p *project) eventuallyContent(t *testing.T, rel, want string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(p.path(rel))
		return err == nil && string(data) == want
	}, settle, 10*time.Millisecond, "%s never became %q", rel, want)
}

func (p *project) eventuallyGone(t *testing.T, rel string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		_, err := os.Stat(p.path(rel))
		return os.IsNotExist(err)
	}, settle, 10*time.Millisecond, "%s never went away", rel)
}

// runInBackground starts fn and returns a stop function that cancels it and
// returns its error.
func runInBackground(t *testing.T, fn func(ctx context.Context) error) func() error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(settle):
			t.Fatal("session did not stop")
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}
