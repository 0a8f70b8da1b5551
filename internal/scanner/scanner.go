// Package scanner enumerates the files of an input root that a build target
// should process, pruning everything matched by the target's exclude globs.
//
// Globs are matched with doublestar against the slash-separated path
// relative to the root, so "**/node_modules/**" excludes a dependency
// directory at any depth. The same matcher is shared with the watcher so a
// path is either discovered and watched or neither.
package scanner

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// dirProbe is a child name no real file can carry. A directory is pruned
// when a pattern matches the directory itself or anything below it.
const dirProbe = "\x00"

// Matcher decides whether a path under a root is excluded.
type Matcher struct {
	root     string
	patterns []string
}

// NewMatcher creates a matcher for root. Patterns are assumed valid; config
// validation rejects malformed globs before they reach here.
func NewMatcher(root string, patterns []string) *Matcher {
	return &Matcher{
		root:     filepath.Clean(root),
		patterns: patterns,
	}
}

// Root returns the cleaned root the matcher was created for.
func (m *Matcher) Root() string {
	return m.root
}

// Excluded reports whether absPath is excluded. Paths outside the root are
// always excluded.
func (m *Matcher) Excluded(absPath string, isDir bool) bool {
	rel, err := filepath.Rel(m.root, absPath)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return true
	}

	for _, pattern := range m.patterns {
		if doublestar.MatchUnvalidated(pattern, rel) {
			return true
		}
		if isDir && doublestar.MatchUnvalidated(pattern, path.Join(rel, dirProbe)) {
			return true
		}
	}
	return false
}

// Scan walks root and returns the absolute paths of every regular file not
// excluded by patterns, sorted lexically. A missing root yields no files.
func Scan(root string, patterns []string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(absRoot); os.IsNotExist(err) {
		return nil, nil
	}

	matcher := NewMatcher(absRoot, patterns)
	var files []string

	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if p != absRoot && matcher.Excluded(p, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || matcher.Excluded(p, false) {
			return nil
		}

		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// Dirs returns the absolute paths of every non-excluded directory under
// root, root included, in walk order. Watch sessions mirror each of them
// before the initial scan so empty directories show up in the output too.
func Dirs(root string, patterns []string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	matcher := NewMatcher(absRoot, patterns)
	var dirs []string

	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != absRoot && matcher.Excluded(p, true) {
			return filepath.SkipDir
		}
		dirs = append(dirs, p)
		return nil
	})

	return dirs, err
}
