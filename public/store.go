// Package public implements the Public Store: the immutable,
// access-gated read side of a published upload — a pair of
// raw zip files (public/restricted) and a pair of archive files
// (public/restricted), consulted together on every read through a
// lazily built, once-constructed directory view.
package public

import (
	"archive/zip"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/nomad-coe/uploadfiles/access"
	"github.com/nomad-coe/uploadfiles/archivecodec"
	"github.com/nomad-coe/uploadfiles/internal/uerr"
	"github.com/nomad-coe/uploadfiles/pathobj"
	"github.com/nomad-coe/uploadfiles/rawpath"
	"github.com/nomad-coe/uploadfiles/uploadmeta"
)

// Store is the immutable public-side view of one upload.
type Store struct {
	uploadID         string
	archiveVersion   string
	alwaysRestricted access.NamePredicate
	userAccess       access.Predicate
	root             pathobj.Directory

	mu      sync.Mutex
	closed  bool

	dirOnce sync.Once
	dirErr  error
	dirView map[string]map[string]uploadmeta.PathInfo
	files   map[string]*zip.File // raw path -> zip.File, across both buckets

	publicZip     *zip.ReadCloser
	restrictedZip *zip.ReadCloser

	archiveOnce       sync.Once
	archiveErr        error
	publicArchive     *archivecodec.Reader
	restrictedArchive *archivecodec.Reader
}

// New opens the Public Store for uploadID. The public directory must
// already exist (the lifecycle Pack operation is what creates it); if it
// does not, New fails with NotFound.
func New(publicRoot, uploadID string, prefixSize int, archiveVersion string, alwaysRestricted access.NamePredicate, userAccess access.Predicate) (*Store, error) {
	root, err := Root(publicRoot, uploadID, prefixSize, false)
	if err != nil {
		return nil, err
	}
	if !root.Exists() {
		return nil, uerr.New("public.New", uerr.NotFound, uploadID)
	}
	return &Store{
		uploadID:         uploadID,
		archiveVersion:   archiveVersion,
		alwaysRestricted: alwaysRestricted,
		userAccess:       userAccess,
		root:             root,
	}, nil
}

// UploadID returns the upload this store was opened for.
func (s *Store) UploadID() string { return s.uploadID }

func (s *Store) filePath(name string) pathobj.Path {
	p, _ := s.root.JoinFile(name)
	return p
}

func (s *Store) ensureDirView() error {
	s.dirOnce.Do(func() {
		rawPublicName, rawRestrictedName, _, _ := FileNames(s.archiveVersion, "")

		view := map[string]map[string]uploadmeta.PathInfo{}
		files := map[string]*zip.File{}

		add := func(zr *zip.ReadCloser, bucketName string) {
			for _, f := range zr.File {
				name := strings.TrimSuffix(f.Name, "/")
				if name == "" {
					continue
				}
				isFile := !strings.HasSuffix(f.Name, "/")
				if isFile {
					// The public bucket is added first and keeps a name
					// that also appears in the restricted bucket.
					if _, seen := files[name]; seen {
						continue
					}
					files[name] = f
					dir := rawpath.Dir(name)
					base := rawpath.Base(name)
					if view[dir] == nil {
						view[dir] = map[string]uploadmeta.PathInfo{}
					}
					view[dir][base] = uploadmeta.PathInfo{
						Path:   name,
						IsFile: true,
						Size:   int64(f.UncompressedSize64),
						Access: bucketName,
					}
				}
				ensureDirNode(view, rawpath.Dir(name), bucketName)
			}
		}

		if p := s.filePath(rawPublicName); p.Exists() {
			zr, err := zip.OpenReader(p.String())
			if err != nil {
				s.dirErr = uerr.WithKind("public.ensureDirView", uerr.Corrupt, p.String(), err)
				return
			}
			s.publicZip = zr
			add(zr, uploadmeta.AccessPublic)
		}
		if p := s.filePath(rawRestrictedName); p.Exists() {
			zr, err := zip.OpenReader(p.String())
			if err != nil {
				s.dirErr = uerr.WithKind("public.ensureDirView", uerr.Corrupt, p.String(), err)
				return
			}
			s.restrictedZip = zr
			add(zr, uploadmeta.AccessRestricted)
		}

		s.dirView = view
		s.files = files
	})
	return s.dirErr
}

// ensureDirNode registers dirPath, and every ancestor of dirPath, as a
// directory entry in its parent's view map (idempotent: the first bucket
// to reach a shared directory wins its displayed Access).
func ensureDirNode(view map[string]map[string]uploadmeta.PathInfo, dirPath, bucketName string) {
	if dirPath == "" {
		return
	}
	parent := rawpath.Dir(dirPath)
	base := rawpath.Base(dirPath)
	if view[parent] == nil {
		view[parent] = map[string]uploadmeta.PathInfo{}
	}
	if _, exists := view[parent][base]; !exists {
		view[parent][base] = uploadmeta.PathInfo{Path: dirPath, IsFile: false, Access: bucketName}
		ensureDirNode(view, parent, bucketName)
	}
}

func (s *Store) checkAccess(op, rawPath, bucketName string) error {
	bucketRestricted := bucketName == uploadmeta.AccessRestricted
	if !access.Require(bucketRestricted, rawPath, s.alwaysRestricted, s.userAccess) {
		return uerr.New(op, uerr.Restricted, rawPath)
	}
	return nil
}

// RawPathExists reports whether path resolves to an existing file or
// directory in either bucket. Existence checks carry no error channel and
// so are not access-gated; only content-exposing reads are.
func (s *Store) RawPathExists(path string) bool {
	if !rawpath.IsWellFormed(path) {
		return false
	}
	if err := s.ensureDirView(); err != nil {
		return false
	}
	if path == "" {
		return true
	}
	dir := rawpath.Dir(path)
	base := rawpath.Base(path)
	_, ok := s.dirView[dir][base]
	return ok
}

// RawPathIsFile reports whether path resolves to an existing regular file.
func (s *Store) RawPathIsFile(path string) bool {
	if !rawpath.IsWellFormed(path) {
		return false
	}
	if err := s.ensureDirView(); err != nil {
		return false
	}
	info, ok := s.dirView[rawpath.Dir(path)][rawpath.Base(path)]
	return ok && info.IsFile
}

// RawFile opens path for reading. The file is located in whichever bucket
// holds it (public checked before restricted) and requires the access
// predicate to pass when the bucket is restricted, or when the
// always-restricted name predicate matches path regardless of bucket.
func (s *Store) RawFile(path string) (io.ReadCloser, error) {
	if !rawpath.IsWellFormed(path) {
		return nil, uerr.New("public.RawFile", uerr.NotFound, path)
	}
	if err := s.ensureDirView(); err != nil {
		return nil, err
	}
	info, ok := s.dirView[rawpath.Dir(path)][rawpath.Base(path)]
	if !ok || !info.IsFile {
		return nil, uerr.New("public.RawFile", uerr.NotFound, path)
	}
	if err := s.checkAccess("public.RawFile", path, info.Access); err != nil {
		return nil, err
	}
	f := s.files[path]
	rc, err := f.Open()
	if err != nil {
		return nil, uerr.Wrap("public.RawFile", path, err)
	}
	return rc, nil
}

// RawFileSize returns the byte size of the file at path.
func (s *Store) RawFileSize(path string) (int64, error) {
	if !rawpath.IsWellFormed(path) {
		return 0, uerr.New("public.RawFileSize", uerr.NotFound, path)
	}
	if err := s.ensureDirView(); err != nil {
		return 0, err
	}
	info, ok := s.dirView[rawpath.Dir(path)][rawpath.Base(path)]
	if !ok || !info.IsFile {
		return 0, uerr.New("public.RawFileSize", uerr.NotFound, path)
	}
	if err := s.checkAccess("public.RawFileSize", path, info.Access); err != nil {
		return 0, err
	}
	return info.Size, nil
}

// RawDirectoryList lists the contents of the raw directory at path.
// Restricted entries the caller's predicate rejects are silently omitted
// rather than failing the whole call.
func (s *Store) RawDirectoryList(path string, recursive, filesOnly bool) ([]uploadmeta.PathInfo, error) {
	if !rawpath.IsWellFormed(path) {
		return nil, nil
	}
	if err := s.ensureDirView(); err != nil {
		return nil, err
	}
	dirKey := strings.TrimSuffix(path, "/")
	return s.listDir(dirKey, recursive, filesOnly), nil
}

func (s *Store) listDir(dirKey string, recursive, filesOnly bool) []uploadmeta.PathInfo {
	children := s.dirView[dirKey]
	if len(children) == 0 {
		return nil
	}
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []uploadmeta.PathInfo
	for _, name := range names {
		info := children[name]
		if err := s.checkAccess("public.RawDirectoryList", info.Path, info.Access); err != nil {
			continue
		}
		if !filesOnly || info.IsFile {
			out = append(out, info)
		}
		if recursive && !info.IsFile {
			out = append(out, s.listDir(info.Path, recursive, filesOnly)...)
		}
	}
	return out
}

func (s *Store) ensureArchives() error {
	s.archiveOnce.Do(func() {
		_, _, archivePublicName, archiveRestrictedName := FileNames(s.archiveVersion, "")
		if p := s.filePath(archivePublicName); p.Exists() {
			r, err := archivecodec.Open(p.String())
			if err != nil {
				s.archiveErr = err
				return
			}
			s.publicArchive = r
		}
		if p := s.filePath(archiveRestrictedName); p.Exists() {
			r, err := archivecodec.Open(p.String())
			if err != nil {
				s.archiveErr = err
				return
			}
			s.restrictedArchive = r
		}
	})
	return s.archiveErr
}

// ReadArchive decodes entry_id's archive record into out, consulting the
// public archive before the restricted one.
func (s *Store) ReadArchive(entryID string, out any) error {
	if err := s.ensureArchives(); err != nil {
		return err
	}
	if s.publicArchive != nil && s.publicArchive.Has(entryID) {
		if err := s.checkAccess("public.ReadArchive", entryID, uploadmeta.AccessPublic); err != nil {
			return err
		}
		return s.publicArchive.Get(entryID, out)
	}
	if s.restrictedArchive != nil && s.restrictedArchive.Has(entryID) {
		if err := s.checkAccess("public.ReadArchive", entryID, uploadmeta.AccessRestricted); err != nil {
			return err
		}
		return s.restrictedArchive.Get(entryID, out)
	}
	return uerr.New("public.ReadArchive", uerr.NotFound, entryID)
}

// Close releases every cached zip and archive handle. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.publicZip != nil {
		record(s.publicZip.Close())
	}
	if s.restrictedZip != nil {
		record(s.restrictedZip.Close())
	}
	if s.publicArchive != nil {
		record(s.publicArchive.Close())
	}
	if s.restrictedArchive != nil {
		record(s.restrictedArchive.Close())
	}
	if firstErr != nil {
		return uerr.Wrap("public.Close", s.uploadID, firstErr)
	}
	return nil
}
