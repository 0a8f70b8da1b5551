// Package pipeline implements the per-file processing pipeline: a source file
// is read into a Source, carried through an ordered chain of transform
// steps, emitted under one or more output roots, and finally observed by
// post-emit plugins.
//
// Every file is processed independently. A Context is built fresh for each
// file on each trigger, and nothing produced for one file is consulted when
// processing another. The same Pipeline value serves a one-shot batch scan
// and a live watch stream; the Mode it was created with decides whether a
// failing transform aborts the build or is reported and skipped.
package pipeline
