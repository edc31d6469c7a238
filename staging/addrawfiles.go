package staging

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nomad-coe/uploadfiles/internal/dcontext"
	"github.com/nomad-coe/uploadfiles/internal/uerr"
	"github.com/nomad-coe/uploadfiles/internal/uuid"
	"github.com/nomad-coe/uploadfiles/rawpath"
)

// AddRawFiles merges the contents of srcPath (a file, directory, zip
// archive, or tar/tar.gz archive) into the upload's raw tree at
// targetDir, per spec.md §4.3. moveSource selects move vs copy semantics
// for plain files and directories; files extracted from an archive are
// always moved out of their temp extraction directory regardless of
// moveSource, since that directory is throwaway either way.
//
// All temporary directories created during the call are removed on every
// exit path (success or failure), matching the teacher's scoped-cleanup
// discipline for add-raw-files' resource management.
func (s *Store) AddRawFiles(ctx context.Context, srcPath, targetDir string, moveSource bool) (err error) {
	if err := s.requireNotFrozen("staging.AddRawFiles"); err != nil {
		return err
	}
	if !rawpath.IsWellFormed(targetDir) {
		return uerr.New("staging.AddRawFiles", uerr.NotFound, targetDir)
	}
	if _, statErr := os.Stat(srcPath); statErr != nil {
		return uerr.Wrap("staging.AddRawFiles", srcPath, statErr)
	}

	var tmpDir string
	defer func() {
		if tmpDir != "" {
			if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
				dcontext.GetLogger(ctx).WithError(rmErr).Warn("staging: failed to remove temp extraction dir")
			}
		}
	}()

	fi, err := os.Stat(srcPath)
	if err != nil {
		return uerr.Wrap("staging.AddRawFiles", srcPath, err)
	}

	sourceDir := srcPath
	forceMove := moveSource

	switch {
	case fi.IsDir():
		// merge directly from srcPath
	case isZip(srcPath):
		tmpDir, err = s.mkTempDir()
		if err != nil {
			return err
		}
		if err := extractZip(srcPath, tmpDir); err != nil {
			return uerr.Wrap("staging.AddRawFiles", srcPath, err)
		}
		sourceDir = tmpDir
		forceMove = true
	case isTar(srcPath):
		tmpDir, err = s.mkTempDir()
		if err != nil {
			return err
		}
		if err := extractTar(srcPath, tmpDir); err != nil {
			return uerr.Wrap("staging.AddRawFiles", srcPath, err)
		}
		sourceDir = tmpDir
		forceMove = true
	default:
		// single plain file: treat its parent as the merge source dir,
		// merging only that one file.
		parent := filepath.Dir(srcPath)
		targetDirHandle, err := s.rawDir.JoinSubdir(targetDir)
		if err != nil {
			return uerr.Wrap("staging.AddRawFiles", targetDir, err)
		}
		return mergeOne(srcPath, targetDirHandle.String(), filepath.Base(srcPath), forceMove, parent)
	}

	targetDirHandle, err := s.rawDir.JoinSubdir(targetDir)
	if err != nil {
		return uerr.Wrap("staging.AddRawFiles", targetDir, err)
	}
	if err := mergeTree(sourceDir, targetDirHandle.String(), forceMove); err != nil {
		return err
	}
	// mergeTree only moves/copies the individual files it finds; for a
	// directory source (the archive branches clean up tmpDir via the
	// defer above) the now-empty directory tree rooted at srcPath is
	// still ours to remove when the caller asked to move the source.
	if fi.IsDir() && moveSource {
		if rmErr := os.RemoveAll(srcPath); rmErr != nil {
			dcontext.GetLogger(ctx).WithError(rmErr).Warn("staging: failed to remove moved source directory")
		}
	}
	return nil
}

func (s *Store) mkTempDir() (string, error) {
	dir := filepath.Join(s.tempRoot, "addrawfiles-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return "", uerr.Wrap("staging.AddRawFiles", dir, err)
	}
	return dir, nil
}

func isZip(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var sig [4]byte
	if _, err := io.ReadFull(f, sig[:]); err != nil {
		return false
	}
	// A zip with no entries starts directly with its end-of-central-directory
	// record.
	return sig == [4]byte{'P', 'K', 0x03, 0x04} || sig == [4]byte{'P', 'K', 0x05, 0x06}
}

func isTar(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") || strings.HasSuffix(path, ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return false
		}
		defer gz.Close()
		r = gz
	}
	tr := tar.NewReader(r)
	_, err = tr.Next()
	return err == nil
}

func extractZip(path, dest string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target := filepath.Join(dest, filepath.FromSlash(f.Name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o777); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o777); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

func extractTar(path, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") || strings.HasSuffix(path, ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o777); err != nil {
				return err
			}
		case tar.TypeSymlink:
			// Symbolic links in the source are skipped (security).
			continue
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o777); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			_, copyErr := io.Copy(out, tr)
			out.Close()
			if copyErr != nil {
				return copyErr
			}
		}
	}
}

// mergeTree walks sourceDir and merges every element into osTargetDir.
func mergeTree(sourceDir, osTargetDir string, move bool) error {
	return filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == sourceDir {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		targetPath := filepath.Join(osTargetDir, rel)

		if isSymlink(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if existingIsFile(targetPath) {
				if err := os.Remove(targetPath); err != nil {
					return err
				}
			}
			return os.MkdirAll(targetPath, 0o777)
		}

		if existingIsDir(targetPath) {
			if err := os.RemoveAll(targetPath); err != nil {
				return err
			}
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o777); err != nil {
			return err
		}
		if move {
			return moveFile(path, targetPath)
		}
		return copyFile(path, targetPath)
	})
}

// mergeOne merges a single named file from sourceParent into osTargetDir.
func mergeOne(srcPath, osTargetDir, name string, move bool, sourceParent string) error {
	if isSymlink(srcPath) {
		return nil
	}
	targetPath := filepath.Join(osTargetDir, name)
	if existingIsDir(targetPath) {
		if err := os.RemoveAll(targetPath); err != nil {
			return uerr.Wrap("staging.AddRawFiles", targetPath, err)
		}
	}
	if err := os.MkdirAll(osTargetDir, 0o777); err != nil {
		return uerr.Wrap("staging.AddRawFiles", osTargetDir, err)
	}
	var err error
	if move {
		err = moveFile(srcPath, targetPath)
	} else {
		err = copyFile(srcPath, targetPath)
	}
	if err != nil {
		return uerr.Wrap("staging.AddRawFiles", srcPath, err)
	}
	return nil
}

func isSymlink(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.Mode()&os.ModeSymlink != 0
}

func existingIsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func existingIsFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// os.Rename fails across filesystems (e.g. temp root on another
	// mount than staging root); fall back to copy-then-remove.
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
