package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/conneroisu/pkgsmith/internal/errors"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		setup         func()
		expectError   bool
		expectTargets int
	}{
		{
			name: "single target at the root",
			setup: func() {
				viper.Reset()
				viper.Set("input", "src")
				viper.Set("output", "dist")
			},
			expectTargets: 1,
		},
		{
			name: "list of targets",
			setup: func() {
				viper.Reset()
				viper.Set("targets", []map[string]interface{}{
					{"input": "src", "output": "dist/esm"},
					{"input": "src", "output": "dist/cjs"},
				})
			},
			expectTargets: 2,
		},
		{
			name: "nothing configured",
			setup: func() {
				viper.Reset()
			},
			expectError: true,
		},
		{
			name: "absolute input rejected",
			setup: func() {
				viper.Reset()
				viper.Set("input", "/etc")
				viper.Set("output", "dist")
			},
			expectError: true,
		},
		{
			name: "traversal output rejected",
			setup: func() {
				viper.Reset()
				viper.Set("input", "src")
				viper.Set("output", "../elsewhere")
			},
			expectError: true,
		},
		{
			name: "same input and output rejected",
			setup: func() {
				viper.Reset()
				viper.Set("input", "src")
				viper.Set("output", "./src")
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer viper.Reset()

			config, err := Load()

			if tt.expectError {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsConfigError(err))
				return
			}

			require.NoError(t, err)
			assert.Len(t, config.Targets, tt.expectTargets)
		})
	}
}

func TestLoadDefaultsArePerTarget(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("targets", []map[string]interface{}{
		{"input": "src", "output": "dist"},
		{"input": "lib", "output": "out", "exclude": []string{"**/*.snap"}},
	})

	config, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultExclude, config.Targets[0].Exclude)
	assert.Equal(t, []string{"**/*.snap"}, config.Targets[1].Exclude)
	assert.NotNil(t, config.Targets[0].Plugins)
	assert.Empty(t, config.Targets[0].Plugins)

	// Mutating one target's defaults must not leak into the other or into
	// the package-level default.
	config.Targets[0].Exclude[0] = "changed"
	assert.Equal(t, "**/__tests__/**", DefaultExclude[0])
}

func TestLoadExcludesNestedOutput(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("input", ".")
	viper.Set("output", "build/out")

	config, err := Load()
	require.NoError(t, err)

	assert.Contains(t, config.Targets[0].Exclude, "build/out/**")
}

func TestLoadTransformsAndPlugins(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("input", "src")
	viper.Set("output", "dist")
	viper.Set("skip_transform", []string{`\.json$`})
	viper.Set("transforms", []map[string]interface{}{
		{"name": "banner", "options": map[string]interface{}{"text": "/* x */"}},
		{"name": "extension", "test": `\.ts$`, "options": map[string]interface{}{"from": ".ts", "to": ".js"}},
	})
	viper.Set("plugins", []map[string]interface{}{
		{"name": "manifest"},
	})

	config, err := Load()
	require.NoError(t, err)

	target := config.Targets[0]
	require.Len(t, target.Transforms, 2)
	assert.Equal(t, "banner", target.Transforms[0].Name)
	assert.Equal(t, `\.ts$`, target.Transforms[1].Test)
	assert.Equal(t, "/* x */", target.Transforms[0].Options["text"])
	require.Len(t, target.Plugins, 1)
	assert.Equal(t, "manifest", target.Plugins[0].Name)

	assert.True(t, target.SkipsTransform("/work/src/data.json"))
	assert.False(t, target.SkipsTransform("/work/src/index.ts"))
}

func TestLoadInvalidPatterns(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
	}{
		{"bad skip regex", "skip_transform", []string{"("}},
		{"bad exclude glob", "exclude", []string{"[unterminated"}},
		{"bad test regex", "transforms", []map[string]interface{}{{"name": "banner", "test": "(["}}},
		{"bad transform name", "transforms", []map[string]interface{}{{"name": "rm -rf"}}},
		{"empty plugin name", "plugins", []map[string]interface{}{{"name": ""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()

			viper.Set("input", "src")
			viper.Set("output", "dist")
			viper.Set(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.True(t, pkgerrors.IsConfigError(err))
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	dir := t.TempDir()
	file := filepath.Join(dir, ".pkgsmith.yml")
	content := `targets:
  - input: src
    output: dist
    skip_transform:
      - '\.css$'
    transforms:
      - name: extension
        test: '\.tsx?$'
        options:
          to: .js
    plugins:
      - name: declarations
        options:
          args: ["--declarationMap"]
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))

	viper.SetConfigFile(file)
	require.NoError(t, viper.ReadInConfig())

	config, err := Load()
	require.NoError(t, err)
	require.Len(t, config.Targets, 1)

	target := config.Targets[0]
	assert.Equal(t, "src", target.Input)
	assert.Equal(t, "dist", target.Output)
	assert.Equal(t, `\.tsx?$`, target.Transforms[0].Test)
	assert.Equal(t, "declarations", target.Plugins[0].Name)
	assert.True(t, target.SkipsTransform("/x/src/a.css"))
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"src", false},
		{"./src/lib", false},
		{".", false},
		{"", true},
		{"/abs", true},
		{"..", true},
		{"../up", true},
		{"src/../../up", true},
		{"src;rm", true},
		{"src/..hidden", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := validatePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
