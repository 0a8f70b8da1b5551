// Package pkgjson reads the package.json manifest that names a package and
// marks a directory as a package root.
package pkgjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	pkgerrors "github.com/conneroisu/pkgsmith/internal/errors"
)

// FileName is the manifest file name.
const FileName = "package.json"

// DependencyDir is where a consumer package installs its dependencies.
const DependencyDir = "node_modules"

// Package holds the manifest fields the pipeline needs.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Dir     string `json:"-"`
}

// Read parses dir/package.json. Comments and trailing commas are tolerated.
func Read(dir string) (*Package, error) {
	path := filepath.Join(dir, FileName)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.NewIOError(pkgerrors.ErrCodeReadFailed, "unable to read "+path, err)
	}

	var pkg Package
	if err := json.Unmarshal(jsonc.ToJSON(data), &pkg); err != nil {
		return nil, pkgerrors.NewConfigError(pkgerrors.ErrCodeInvalidPackage, "malformed "+path, err)
	}

	if pkg.Name == "" {
		return nil, pkgerrors.NewConfigError(pkgerrors.ErrCodeInvalidPackage, fmt.Sprintf("%s has no name", path), nil)
	}

	pkg.Dir = dir
	return &pkg, nil
}

// IsPackageDir reports whether dir contains a package.json.
func IsPackageDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil && info.Mode().IsRegular()
}

// LinkedPath returns where the package's output lands inside a consumer:
// <consumer>/node_modules/<name>/<output>.
func LinkedPath(consumerDir, name, output string) string {
	return filepath.Join(consumerDir, DependencyDir, filepath.FromSlash(name), output)
}
