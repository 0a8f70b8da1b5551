package errors

import (
	"errors"
	"sort"
	"sync"
)

// ErrorCollector collects errors from concurrent per-file operations so the
// build can report every failure while returning the first fatal one.
type ErrorCollector struct {
	errors []error
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make([]error, 0),
	}
}

// AddError adds an error to the collector
func (ec *ErrorCollector) AddError(err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, err)
}

// GetAllErrors returns all collected errors in arrival order
func (ec *ErrorCollector) GetAllErrors() []error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]error, len(ec.errors))
	copy(result, ec.errors)
	return result
}

// First returns the first collected error, or nil.
func (ec *ErrorCollector) First() error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	if len(ec.errors) == 0 {
		return nil
	}
	return ec.errors[0]
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.errors) > 0
}

// Files returns the sorted set of file paths that failed.
func (ec *ErrorCollector) Files() []string {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	seen := make(map[string]struct{})
	for _, err := range ec.errors {
		var pe *PipelineError
		if errors.As(err, &pe) && pe.FilePath != "" {
			seen[pe.FilePath] = struct{}{}
		}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Join returns all collected errors joined into one, or nil.
func (ec *ErrorCollector) Join() error {
	return errors.Join(ec.GetAllErrors()...)
}
