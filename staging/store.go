// Package staging implements the Staging Store (spec.md §4.3): the
// mutable per-upload working tree, rooted at
// <staging-root>/<upload_id[:N]>/<upload_id>/, holding a raw/ tree, one
// archive/<entry_id>.msg file per entry, and a .frozen sentinel written
// once pack has consumed the upload.
package staging

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"io"
	"os"
	"sort"

	"github.com/nomad-coe/uploadfiles/access"
	"github.com/nomad-coe/uploadfiles/archivecodec"
	"github.com/nomad-coe/uploadfiles/internal/dcontext"
	"github.com/nomad-coe/uploadfiles/internal/uerr"
	"github.com/nomad-coe/uploadfiles/pathobj"
	"github.com/nomad-coe/uploadfiles/rawpath"
	"github.com/nomad-coe/uploadfiles/uploadmeta"
)

const frozenSentinel = ".frozen"

// Store is the mutable staging-side view of one upload.
type Store struct {
	uploadID      string
	tempRoot      string
	prefixSize    int
	auxFileCutoff int
	access        access.Predicate

	root    pathobj.Directory
	rawDir  pathobj.Directory
	archDir pathobj.Directory
}

// New opens (creating on first use when create is true) the staging
// store for uploadID, sharded under stagingRoot by its first prefixSize
// characters.
func New(stagingRoot, tempRoot, uploadID string, prefixSize, auxFileCutoff int, create bool, userAccess access.Predicate) (*Store, error) {
	rootPath := pathobj.Shard(stagingRoot, uploadID, prefixSize)
	root, err := pathobj.NewDirectory(rootPath, create)
	if err != nil {
		return nil, err
	}
	rawDir, err := root.JoinSubdir("raw")
	if err != nil {
		return nil, err
	}
	archDir, err := root.JoinSubdir("archive")
	if err != nil {
		return nil, err
	}
	return &Store{
		uploadID:      uploadID,
		tempRoot:      tempRoot,
		prefixSize:    prefixSize,
		auxFileCutoff: auxFileCutoff,
		access:        userAccess,
		root:          root,
		rawDir:        rawDir,
		archDir:       archDir,
	}, nil
}

// UploadID returns the upload this store was opened for.
func (s *Store) UploadID() string { return s.uploadID }

// RawDir exposes the raw/ subtree's Directory for callers (e.g.
// lifecycle) that need to enumerate or stream its files directly.
func (s *Store) RawDir() pathobj.Directory { return s.rawDir }

// ArchiveDir exposes the archive/ subtree's Directory.
func (s *Store) ArchiveDir() pathobj.Directory { return s.archDir }

// Frozen reports whether .frozen has been written.
func (s *Store) Frozen() bool {
	f, err := s.root.JoinFile(frozenSentinel)
	if err != nil {
		return false
	}
	return f.Exists()
}

// Freeze writes .frozen, after which no further staging mutation is
// permitted. It fails with Frozen if already frozen.
func (s *Store) Freeze() error {
	if s.Frozen() {
		return uerr.New("staging.Freeze", uerr.Frozen, s.uploadID)
	}
	f, err := s.root.JoinFile(frozenSentinel)
	if err != nil {
		return uerr.Wrap("staging.Freeze", s.uploadID, err)
	}
	return f.PutContent([]byte("frozen"))
}

func (s *Store) requireNotFrozen(op string) error {
	if s.Frozen() {
		return uerr.New(op, uerr.Frozen, s.uploadID)
	}
	return nil
}

func (s *Store) checkAccess(op, rawPath string) error {
	if s.access == nil || s.access() {
		return nil
	}
	return uerr.New(op, uerr.Restricted, rawPath)
}

// RawPathExists reports whether path resolves to an existing file or
// directory in the raw tree. Malformed paths report false rather than
// erroring, per spec.md §3.
func (s *Store) RawPathExists(path string) bool {
	if !rawpath.IsWellFormed(path) {
		return false
	}
	p, err := s.rawDir.JoinFile(path)
	if err != nil {
		return false
	}
	return p.Exists()
}

// RawPathIsFile reports whether path resolves to an existing regular file.
func (s *Store) RawPathIsFile(path string) bool {
	if !rawpath.IsWellFormed(path) || rawpath.IsDir(path) {
		return false
	}
	p, err := s.rawDir.JoinFile(path)
	if err != nil {
		return false
	}
	return p.IsFile()
}

// RawFile opens path for reading. Requires the access predicate to pass.
func (s *Store) RawFile(path string) (io.ReadCloser, error) {
	if !rawpath.IsWellFormed(path) {
		return nil, uerr.New("staging.RawFile", uerr.NotFound, path)
	}
	p, err := s.rawDir.JoinFile(path)
	if err != nil {
		return nil, uerr.Wrap("staging.RawFile", path, err)
	}
	if !p.IsFile() {
		return nil, uerr.New("staging.RawFile", uerr.NotFound, path)
	}
	if err := s.checkAccess("staging.RawFile", path); err != nil {
		return nil, err
	}
	return p.Reader(0)
}

// RawFileSize returns the byte size of the file at path.
func (s *Store) RawFileSize(path string) (int64, error) {
	if !rawpath.IsWellFormed(path) {
		return 0, uerr.New("staging.RawFileSize", uerr.NotFound, path)
	}
	p, err := s.rawDir.JoinFile(path)
	if err != nil {
		return 0, uerr.Wrap("staging.RawFileSize", path, err)
	}
	if !p.IsFile() {
		return 0, uerr.New("staging.RawFileSize", uerr.NotFound, path)
	}
	if err := s.checkAccess("staging.RawFileSize", path); err != nil {
		return 0, err
	}
	return p.Size()
}

// RawDirectoryList lists the contents of the raw directory at path,
// lexicographically sorted, depth-first when recursive.
func (s *Store) RawDirectoryList(path string, recursive, filesOnly bool) ([]uploadmeta.PathInfo, error) {
	if !rawpath.IsWellFormed(path) {
		return nil, nil
	}
	if err := s.checkAccess("staging.RawDirectoryList", path); err != nil {
		return nil, err
	}
	dir, err := s.rawDir.JoinSubdir(path)
	if err != nil {
		return nil, uerr.Wrap("staging.RawDirectoryList", path, err)
	}
	if !dir.Exists() {
		return nil, nil
	}
	return s.listDir(dir.String(), path, recursive, filesOnly)
}

func (s *Store) listDir(osDir, rawDirPath string, recursive, filesOnly bool) ([]uploadmeta.PathInfo, error) {
	entries, err := os.ReadDir(osDir)
	if err != nil {
		return nil, uerr.Wrap("staging.RawDirectoryList", rawDirPath, err)
	}
	names := make([]string, 0, len(entries))
	byName := make(map[string]os.DirEntry, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
		byName[e.Name()] = e
	}
	sort.Strings(names)

	var out []uploadmeta.PathInfo
	for _, name := range names {
		e := byName[name]
		childRawPath := rawpath.Join(rawDirPath, name)
		isFile := !e.IsDir()
		var size int64
		if isFile {
			if fi, err := e.Info(); err == nil {
				size = fi.Size()
			}
		}
		if !filesOnly || isFile {
			out = append(out, uploadmeta.PathInfo{
				Path:   childRawPath,
				IsFile: isFile,
				Size:   size,
				Access: uploadmeta.AccessUnpublished,
			})
		}
		if recursive && !isFile {
			children, err := s.listDir(osDir+string(os.PathSeparator)+name, childRawPath, recursive, filesOnly)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		}
	}
	return out, nil
}

// WriteArchiveRecord serializes value under entry_id's archive file.
func (s *Store) WriteArchiveRecord(entryID string, value any) error {
	if err := s.requireNotFrozen("staging.WriteArchiveRecord"); err != nil {
		return err
	}
	p, err := s.archDir.JoinFile(entryID + ".msg")
	if err != nil {
		return uerr.Wrap("staging.WriteArchiveRecord", entryID, err)
	}
	w, err := archivecodec.Create(p.String(), 1)
	if err != nil {
		return err
	}
	if err := w.WriteRecord(entryID, value); err != nil {
		return err
	}
	return w.Close()
}

// ReadArchive decodes entry_id's archive record into out. Returns
// NotFound if no archive file exists for entry_id, and Restricted if the
// access predicate denies the read.
func (s *Store) ReadArchive(entryID string, out any) error {
	p, err := s.archDir.JoinFile(entryID + ".msg")
	if err != nil {
		return uerr.Wrap("staging.ReadArchive", entryID, err)
	}
	if !p.IsFile() {
		return uerr.New("staging.ReadArchive", uerr.NotFound, entryID)
	}
	if err := s.checkAccess("staging.ReadArchive", entryID); err != nil {
		return err
	}
	r, err := archivecodec.Open(p.String())
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Get(entryID, out)
}

// HasArchiveRecord reports whether entry_id has an archive file.
func (s *Store) HasArchiveRecord(entryID string) bool {
	p, err := s.archDir.JoinFile(entryID + ".msg")
	if err != nil {
		return false
	}
	return p.IsFile()
}

// RawArchiveRecord returns entry_id's still-encoded record bytes, for
// callers (pack's archive partition) that copy records into another
// archive container without a decode/re-encode round trip.
func (s *Store) RawArchiveRecord(entryID string) ([]byte, error) {
	p, err := s.archDir.JoinFile(entryID + ".msg")
	if err != nil {
		return nil, uerr.Wrap("staging.RawArchiveRecord", entryID, err)
	}
	if !p.IsFile() {
		return nil, uerr.New("staging.RawArchiveRecord", uerr.NotFound, entryID)
	}
	r, err := archivecodec.Open(p.String())
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.GetRaw(entryID)
}

// WriteRawArchiveRecord writes an already-encoded record directly to
// entry_id's archive file, for callers (ToStaging rehydration) that move a
// record from another archive container without decoding it first.
func (s *Store) WriteRawArchiveRecord(entryID string, raw []byte) error {
	if err := s.requireNotFrozen("staging.WriteRawArchiveRecord"); err != nil {
		return err
	}
	p, err := s.archDir.JoinFile(entryID + ".msg")
	if err != nil {
		return uerr.Wrap("staging.WriteRawArchiveRecord", entryID, err)
	}
	w, err := archivecodec.Create(p.String(), 1)
	if err != nil {
		return err
	}
	if err := w.WriteRawRecord(entryID, raw); err != nil {
		return err
	}
	return w.Close()
}

// CalcFiles computes mainfile's file group: the mainfile itself (if
// withMainfile) followed by lexicographically sorted sibling files in
// its directory, excluding other entries' mainfiles is the caller's
// concern — this only excludes mainfile itself and non-files. When
// withCutoff, the sibling list is capped at the store's aux-file cutoff.
func (s *Store) CalcFiles(mainfile string, withMainfile, withCutoff bool) ([]string, error) {
	mf, err := s.rawDir.JoinFile(mainfile)
	if err != nil {
		return nil, uerr.Wrap("staging.CalcFiles", mainfile, err)
	}
	if !mf.IsFile() {
		return nil, uerr.New("staging.CalcFiles", uerr.NotFound, mainfile)
	}

	calcDir := rawpath.Dir(mainfile)
	mainfileBase := rawpath.Base(mainfile)

	dirHandle, err := s.rawDir.JoinSubdir(calcDir)
	if err != nil {
		return nil, uerr.Wrap("staging.CalcFiles", mainfile, err)
	}
	entries, err := os.ReadDir(dirHandle.String())
	if err != nil {
		return nil, uerr.Wrap("staging.CalcFiles", mainfile, err)
	}

	var aux []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == mainfileBase {
			continue
		}
		aux = append(aux, rawpath.Join(calcDir, e.Name()))
		if withCutoff && len(aux) >= s.auxFileCutoff {
			break
		}
	}
	sort.Strings(aux)

	if withMainfile {
		return append([]string{mainfile}, aux...), nil
	}
	return aux, nil
}

// CalcID derives a deterministic entry_id from (upload_id, mainfile).
func CalcID(uploadID, mainfile string) string {
	sum := sha512.Sum512_256([]byte(uploadID + ":" + mainfile))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// CalcHash computes the SHA-512 content hash over mainfile's bytes
// followed by each aux file's bytes, in calc-files order, websave-encoded
// (URL-safe base64, no padding).
func (s *Store) CalcHash(mainfile string) (string, error) {
	files, err := s.CalcFiles(mainfile, true, true)
	if err != nil {
		return "", err
	}
	h := sha512.New()
	for _, f := range files {
		p, err := s.rawDir.JoinFile(f)
		if err != nil {
			return "", uerr.Wrap("staging.CalcHash", f, err)
		}
		r, err := p.Reader(0)
		if err != nil {
			return "", err
		}
		_, copyErr := io.Copy(h, r)
		r.Close()
		if copyErr != nil {
			return "", uerr.Wrap("staging.CalcHash", f, copyErr)
		}
	}
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

// Delete removes the entire staging tree for this upload, including the
// shard directory if it is left empty afterwards.
func (s *Store) Delete(ctx context.Context) error {
	return s.root.DeleteShard(ctx, s.uploadID, s.prefixSize)
}

// RawFileManifest lists every raw path under the raw tree, in the order
// a depth-first filesystem walk visits them (used by pack to compute the
// restricted partition's complement).
func (s *Store) RawFileManifest(ctx context.Context) ([]string, error) {
	var manifest []string
	err := filepathWalk(s.rawDir.String(), func(relRawPath string, isDir bool) error {
		if !isDir {
			manifest = append(manifest, relRawPath)
		}
		return nil
	})
	if err != nil {
		dcontext.GetLogger(ctx).WithError(err).Warn("staging: error walking raw tree for manifest")
		return nil, uerr.Wrap("staging.RawFileManifest", s.uploadID, err)
	}
	return manifest, nil
}
