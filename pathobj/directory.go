package pathobj

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/nomad-coe/uploadfiles/internal/uerr"
)

// Directory is a composite over Path that knows how to navigate into
// files and subdirectories beneath it. Any intermediate directories are
// created on construct iff create is true, and that create policy is
// inherited by every JoinSubdir call.
type Directory struct {
	Path
	create bool
}

// NewDirectory builds a Directory rooted at abs. If create is true, abs
// (and any missing parents) are created immediately ("mkdir-on-construct").
func NewDirectory(abs string, create bool) (Directory, error) {
	d := Directory{Path: New(abs), create: create}
	if create {
		if err := os.MkdirAll(abs, 0o777); err != nil {
			return Directory{}, uerr.Wrap("pathobj.NewDirectory", abs, err)
		}
	}
	return d, nil
}

// JoinFile returns the Path of a file at rel, relative to d. Any
// intermediate directories are created first if d.create is set; any path
// component that exists as a plain file and blocks directory creation is
// removed, matching add-raw-files' "intermediate component that exists as
// a file is deleted before the directory is created" rule.
func (d Directory) JoinFile(rel string) (Path, error) {
	abs := filepath.Join(d.abs(), rel)
	if d.create {
		parent := filepath.Dir(abs)
		if err := ensureDir(parent); err != nil {
			return Path{}, uerr.Wrap("pathobj.JoinFile", abs, err)
		}
	}
	return New(abs), nil
}

// JoinSubdir returns a Directory at rel, relative to d, inheriting d's
// create policy.
func (d Directory) JoinSubdir(rel string) (Directory, error) {
	abs := filepath.Join(d.abs(), rel)
	return NewDirectory(abs, d.create)
}

func (d Directory) abs() string { return d.Path.abs }

// ensureDir creates dir and its parents, first removing any path component
// along the way that exists as a regular file (which would otherwise make
// MkdirAll fail with ENOTDIR).
func ensureDir(dir string) error {
	clean := filepath.Clean(dir)
	abs := clean
	if !filepath.IsAbs(abs) {
		var err error
		abs, err = filepath.Abs(abs)
		if err != nil {
			return err
		}
	}

	segments := strings.Split(strings.TrimPrefix(abs, string(filepath.Separator)), string(filepath.Separator))
	cur := string(filepath.Separator)
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		cur = filepath.Join(cur, seg)
		fi, err := os.Stat(cur)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		if err == nil && !fi.IsDir() {
			if rmErr := os.Remove(cur); rmErr != nil {
				return rmErr
			}
			err = os.ErrNotExist
		}
		if err != nil {
			if mkErr := os.Mkdir(cur, 0o777); mkErr != nil && !os.IsExist(mkErr) {
				return mkErr
			}
		}
	}
	return nil
}
