package pipeline

import (
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	pkgerrors "github.com/conneroisu/pkgsmith/internal/errors"
)

// TempSuffix marks the short-lived files Emit renames into place. Watchers
// over an output tree ignore them.
const TempSuffix = ".pkgsmith-tmp"

// Emit writes src under destRoot, mirroring the file's directory relative to
// its input root. With a nil src the original file is copied byte-for-byte
// under its original name. It returns the base names written.
//
// The destination directory is created first; a concurrent creation by a
// sibling operation counts as success. Every file is written to a temporary
// name and renamed into place, so readers never see a partial write.
func Emit(src *Source, pc *Context, destRoot string) ([]string, error) {
	destDir := filepath.Join(destRoot, pc.ContextDir)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, pkgerrors.NewIOError(pkgerrors.ErrCodeMkdirFailed, "unable to create "+destDir, err).WithFile(pc.FilePath)
	}

	if src == nil {
		if err := copyFile(pc.FilePath, filepath.Join(destDir, pc.FileName)); err != nil {
			return nil, pkgerrors.NewIOError(pkgerrors.ErrCodeWriteFailed, "unable to copy source", err).WithFile(pc.FilePath)
		}
		return []string{pc.FileName}, nil
	}

	written := OutputNames(src, pc)
	outPath := filepath.Join(destDir, written[0])

	var g errgroup.Group
	g.Go(func() error {
		return writeFileAtomic(outPath, []byte(src.Code), 0o644)
	})
	if src.HasMap {
		g.Go(func() error {
			return writeFileAtomic(outPath+MapExtension, []byte(src.Map), 0o644)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, pkgerrors.NewIOError(pkgerrors.ErrCodeWriteFailed, "unable to write "+outPath, err).WithFile(pc.FilePath)
	}

	return written, nil
}

// OutputNames returns the base names Emit writes for src: the output file
// and, when present, its map sidecar. A nil src keeps the original name.
func OutputNames(src *Source, pc *Context) []string {
	if src == nil {
		return []string{pc.FileName}
	}

	name := filepath.Base(src.FileName)
	if src.FileName == "" {
		name = pc.FileName
	}
	if src.HasMap {
		return []string{name, name + MapExtension}
	}
	return []string{name}
}

// writeFileAtomic writes data to a temporary file next to path and renames
// it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir, base := filepath.Split(path)

	tmp, err := os.CreateTemp(dir, "."+base+".*"+TempSuffix)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// copyFile copies src to dst through a temporary file, keeping src's mode.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	dir, base := filepath.Split(dst)
	tmp, err := os.CreateTemp(dir, "."+base+".*"+TempSuffix)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// CopyFile copies an already-produced file to dst, creating dst's directory
// first. Output mirroring uses it.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return copyFile(src, dst)
}
