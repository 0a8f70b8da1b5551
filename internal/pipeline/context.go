package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/conneroisu/pkgsmith/internal/config"
)

// Mode is the command a pipeline serves.
type Mode int

const (
	ModeBuild Mode = iota
	ModeDev
	ModeLink
)

// String returns the command name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeBuild:
		return "build"
	case ModeDev:
		return "dev"
	case ModeLink:
		return "link"
	default:
		return "unknown"
	}
}

// Watching reports whether the mode runs a live watch session, where
// per-file failures are reported and skipped instead of aborting.
func (m Mode) Watching() bool {
	return m == ModeDev || m == ModeLink
}

// Params binds a pipeline to one build target. InputDir and OutputDir are
// absolute.
type Params struct {
	Cwd       string
	InputDir  string
	OutputDir string
	Target    *config.Target
	Mode      Mode
}

// Context is the per-file record every stage receives. It is read-only
// after construction.
type Context struct {
	Cwd       string
	InputDir  string
	OutputDir string
	Config    *config.Target
	Mode      Mode

	// FilePath is the absolute path of the source file.
	FilePath string
	// FileName is the base name of FilePath.
	FileName string
	// ContextPath is FilePath relative to this target's own input root.
	ContextPath string
	// ContextDir is the directory part of ContextPath, "." at the root.
	ContextDir string
}

// NewContext derives the per-file context for filePath. The context path is
// always computed against the target's own input root.
func NewContext(params Params, filePath string) (*Context, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", filePath, err)
	}

	contextPath, err := relativeTo(params.InputDir, absPath)
	if err != nil {
		return nil, err
	}

	return &Context{
		Cwd:         params.Cwd,
		InputDir:    params.InputDir,
		OutputDir:   params.OutputDir,
		Config:      params.Target,
		Mode:        params.Mode,
		FilePath:    absPath,
		FileName:    filepath.Base(absPath),
		ContextPath: contextPath,
		ContextDir:  filepath.Dir(contextPath),
	}, nil
}

// relativeTo returns p relative to root, rejecting paths outside root.
func relativeTo(root, p string) (string, error) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", fmt.Errorf("%s is not under %s: %w", p, root, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not under %s", p, root)
	}
	return rel, nil
}
