package pipeline

import "strings"

// MapExtension is appended to an output file name to form its sidecar
// source map.
const MapExtension = ".map"

// MapCommentPrefix starts the comment linking generated code to its map.
const MapCommentPrefix = "//# sourceMappingURL="

// Source is the artifact flowing through the transform chain. Transform
// steps return a new Source rather than mutating the one they received.
type Source struct {
	// FileName is the output base name. Steps may rewrite it, e.g. to swap
	// a .ts extension for .js.
	FileName string
	Code     string
	// Map is the companion source map, meaningful only when HasMap is set.
	Map    string
	HasMap bool
}

// WithCode returns a copy of s carrying new code. The source map is
// dropped, since it no longer describes the code, and so is any map comment
// the new code still carries from s: no sidecar will exist for it.
func (s Source) WithCode(code string) Source {
	if s.HasMap {
		code = stripMapComment(code)
	}
	return Source{FileName: s.FileName, Code: code}
}

func stripMapComment(code string) string {
	if !strings.Contains(code, MapCommentPrefix) {
		return code
	}

	var b strings.Builder
	for _, line := range strings.SplitAfter(code, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), MapCommentPrefix) {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

// WithMap returns a copy of s carrying a source map.
func (s Source) WithMap(m string) Source {
	s.Map = m
	s.HasMap = true
	return s
}

// WithFileName returns a copy of s renamed to name.
func (s Source) WithFileName(name string) Source {
	s.FileName = name
	return s
}
