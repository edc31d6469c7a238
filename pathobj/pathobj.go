// Package pathobj implements the Path Object and Directory Object: thin,
// bucket-relative wrappers over OS paths with optional hashed-prefix
// sharding, modeled on registry/storage/driver/filesystem's storage driver
// (atomic writes via temp-file-then-rename, Stat/Delete/Walk) and on its
// path-sharding scheme for content-addressed blobs
// (registry/storage/paths.go's digestPathComponents, which expands a
// digest's hex string to "<hex[:2]>/<hex>" so no single directory holds
// more than a bounded fan-out of entries).
package pathobj

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/nomad-coe/uploadfiles/internal/dcontext"
	"github.com/nomad-coe/uploadfiles/internal/uerr"
	"github.com/nomad-coe/uploadfiles/internal/uuid"
)

// Shard expands id to its sharded form "<id[:n]>/<id>" under root when n > 0
// and id is at least n bytes long, or to "<id>" directly otherwise. This is
// the one fan-out rule used for every bucket root in the system: the
// upload's staging directory, its public directory, and (indirectly,
// through those two) everything nested beneath them.
func Shard(root, id string, n int) string {
	if n <= 0 || len(id) < n {
		return filepath.Join(root, id)
	}
	return filepath.Join(root, id[:n], id)
}

// Path wraps a single absolute OS path. It carries no bucket/id structure
// of its own; use Shard to compute one before constructing a Path for an
// object root, or Directory.JoinFile/JoinSubdir to derive one relative to
// an already-sharded directory.
type Path struct {
	abs string
}

// New wraps an already-computed absolute (or process-relative) path.
func New(abs string) Path { return Path{abs: abs} }

// String returns the OS path.
func (p Path) String() string { return p.abs }

// Exists reports whether the path refers to an existing file or directory.
func (p Path) Exists() bool {
	_, err := os.Stat(p.abs)
	return err == nil
}

// IsFile reports whether the path exists and is a regular file.
func (p Path) IsFile() bool {
	fi, err := os.Stat(p.abs)
	return err == nil && !fi.IsDir()
}

// Size returns the size in bytes of the file at p.
func (p Path) Size() (int64, error) {
	fi, err := os.Stat(p.abs)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, uerr.New("pathobj.Size", uerr.NotFound, p.abs)
		}
		return 0, uerr.Wrap("pathobj.Size", p.abs, err)
	}
	return fi.Size(), nil
}

// Delete removes the file or subtree at p. It is not an error for p to
// already be absent.
func (p Path) Delete() error {
	if err := os.RemoveAll(p.abs); err != nil {
		return uerr.Wrap("pathobj.Delete", p.abs, err)
	}
	return nil
}

// DeleteShard deletes p and then, best-effort, removes its parent shard
// directory if that parent is exactly the n-character sharding prefix of
// id and is left empty. Shard-directory cleanup failures are logged and
// swallowed — they never fail the caller's delete. Shard directory
// cleanup is best-effort by design: logged, never fatal.
func (p Path) DeleteShard(ctx context.Context, id string, n int) error {
	if err := p.Delete(); err != nil {
		return err
	}
	if n <= 0 || len(id) < n {
		return nil
	}
	shardDir := filepath.Dir(p.abs)
	if filepath.Base(shardDir) != id[:n] {
		return nil
	}
	entries, err := os.ReadDir(shardDir)
	if err != nil {
		if !os.IsNotExist(err) {
			dcontext.GetLogger(ctx).WithError(err).Warnf("pathobj: could not inspect shard dir %s for cleanup", shardDir)
		}
		return nil
	}
	if len(entries) == 0 {
		if err := os.Remove(shardDir); err != nil {
			dcontext.GetLogger(ctx).WithError(err).Warnf("pathobj: could not remove empty shard dir %s", shardDir)
		}
	}
	return nil
}

// Reader opens p for reading from the given byte offset.
func (p Path) Reader(offset int64) (io.ReadCloser, error) {
	f, err := os.Open(p.abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, uerr.New("pathobj.Reader", uerr.NotFound, p.abs)
		}
		return nil, uerr.Wrap("pathobj.Reader", p.abs, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, uerr.Wrap("pathobj.Reader", p.abs, err)
		}
	}
	return f, nil
}

// PutContent atomically replaces the content at p: it writes to a sibling
// temp file and renames it into place, so readers never observe a
// partially written file. Grounded on the filesystem storage driver's
// PutContent (write to "<path>.<uuid>.tmp", then os.Rename over the
// target).
func (p Path) PutContent(content []byte) error {
	if err := os.MkdirAll(filepath.Dir(p.abs), 0o777); err != nil {
		return uerr.Wrap("pathobj.PutContent", p.abs, err)
	}
	tmp := p.abs + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		os.Remove(tmp)
		return uerr.Wrap("pathobj.PutContent", p.abs, err)
	}
	if err := os.Rename(tmp, p.abs); err != nil {
		os.Remove(tmp)
		return uerr.Wrap("pathobj.PutContent", p.abs, err)
	}
	return nil
}
