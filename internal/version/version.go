// Package version reports build information for the pkgsmith binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/a-h/templ"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string    `json:"version" yaml:"version"`
	GitCommit string    `json:"git_commit" yaml:"git_commit"`
	BuildTime time.Time `json:"build_time,omitempty" yaml:"build_time,omitempty"`
	GoVersion string    `json:"go_version" yaml:"go_version"`
	Platform  string    `json:"platform" yaml:"platform"`
	Templ     string    `json:"templ" yaml:"templ"`
	Dirty     bool      `json:"dirty" yaml:"dirty"`
}

// These variables are set at build time using -ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	// BuildTime is RFC3339.
	BuildTime = "unknown"
)

// Get collects the build information, falling back to the module's
// embedded VCS settings when ldflags were not set.
func Get() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Templ:     templ.Version(),
	}
	if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
		info.BuildTime = t
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}

	settings := make(map[string]string, len(bi.Settings))
	for _, s := range bi.Settings {
		settings[s.Key] = s.Value
	}

	if info.GitCommit == "unknown" && settings["vcs.revision"] != "" {
		info.GitCommit = settings["vcs.revision"]
	}
	if info.BuildTime.IsZero() {
		if t, err := time.Parse(time.RFC3339, settings["vcs.time"]); err == nil {
			info.BuildTime = t
		}
	}
	info.Dirty = settings["vcs.modified"] == "true"

	if info.Version == "dev" || info.Version == "" {
		switch {
		case bi.Main.Version != "" && bi.Main.Version != "(devel)":
			info.Version = bi.Main.Version
		case len(info.GitCommit) >= 7 && info.GitCommit != "unknown":
			info.Version = "dev-" + info.GitCommit[:7]
		default:
			info.Version = "dev"
		}
	}

	return info
}

// IsRelease reports whether the info describes a tagged build.
func (b BuildInfo) IsRelease() bool {
	return b.Version != "dev" && !strings.HasPrefix(b.Version, "dev-")
}

// Short returns a one-line version string.
func (b BuildInfo) Short() string {
	s := b.Version
	if b.GitCommit != "unknown" && len(b.GitCommit) >= 7 && !strings.HasSuffix(s, b.GitCommit[:7]) {
		s += " (" + b.GitCommit[:7] + ")"
	}
	if b.Dirty {
		s += " (dirty)"
	}
	return s
}

// String returns the detailed multi-line form.
func (b BuildInfo) String() string {
	parts := []string{"Version: " + b.Version}
	if b.GitCommit != "unknown" {
		parts = append(parts, "Commit: "+b.GitCommit)
	}
	if !b.BuildTime.IsZero() {
		parts = append(parts, "Built: "+b.BuildTime.Format(time.RFC3339))
	}
	parts = append(parts,
		"Go: "+b.GoVersion,
		"Platform: "+b.Platform,
		fmt.Sprintf("templ: %s", b.Templ),
	)
	return strings.Join(parts, "\n")
}
