package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pkgsmith/internal/config"
)

type fixture struct {
	cwd    string
	input  string
	output string
	target *config.Target
}

func newFixture(t *testing.T, target *config.Target) *fixture {
	t.Helper()
	cwd := t.TempDir()
	if target == nil {
		target = &config.Target{Input: "src", Output: "dist"}
	}
	require.NoError(t, target.Compile())

	f := &fixture{
		cwd:    cwd,
		input:  filepath.Join(cwd, target.Input),
		output: filepath.Join(cwd, target.Output),
		target: target,
	}
	require.NoError(t, os.MkdirAll(f.input, 0o755))
	return f
}

func (f *fixture) params(mode Mode) Params {
	return Params{
		Cwd:       f.cwd,
		InputDir:  f.input,
		OutputDir: f.output,
		Target:    f.target,
		Mode:      mode,
	}
}

func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	p := filepath.Join(f.input, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(data)
}
