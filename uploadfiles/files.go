// Package uploadfiles is the top-level capability façade over the two
// concrete upload stores: a single Files interface that staging.Store
// and public.Store both satisfy, and Get as the static dispatcher
// between them, so callers never branch on which lifecycle state an
// upload is in.
package uploadfiles

import (
	"io"
	"os"

	"github.com/nomad-coe/uploadfiles/access"
	"github.com/nomad-coe/uploadfiles/internal/uerr"
	"github.com/nomad-coe/uploadfiles/pathobj"
	"github.com/nomad-coe/uploadfiles/public"
	"github.com/nomad-coe/uploadfiles/staging"
	"github.com/nomad-coe/uploadfiles/uploadmeta"
)

// Config groups the directory layout and tuning knobs a Get lookup needs
// to locate either side of an upload.
type Config struct {
	StagingRoot      string
	PublicRoot       string
	TempRoot         string
	PrefixSize       int
	AuxFileCutoff    int
	ArchiveVersion   string
	AlwaysRestricted access.NamePredicate
}

// Files is the read surface common to a staging and a public upload: the
// raw-path queries, file reads, directory listing, and archive-record
// reads, independent of which lifecycle state the upload is in.
type Files interface {
	UploadID() string
	RawPathExists(path string) bool
	RawPathIsFile(path string) bool
	RawFile(path string) (io.ReadCloser, error)
	RawFileSize(path string) (int64, error)
	RawDirectoryList(path string, recursive, filesOnly bool) ([]uploadmeta.PathInfo, error)
	ReadArchive(entryID string, out any) error
}

var (
	_ Files = (*staging.Store)(nil)
	_ Files = (*public.Store)(nil)
)

// Get resolves uploadID to whichever of staging or public currently holds
// it: an upload exists in exactly one of absent, staging, or public.
// pool, if non-nil, is consulted for a public-side handle
// instead of opening a fresh one every call — see PublicPool for the
// access-scoping rule that governs when a pool may be reused.
func Get(cfg Config, uploadID string, userAccess access.Predicate, pool *PublicPool) (Files, error) {
	if isDir(pathobj.Shard(cfg.StagingRoot, uploadID, cfg.PrefixSize)) {
		return staging.New(cfg.StagingRoot, cfg.TempRoot, uploadID, cfg.PrefixSize, cfg.AuxFileCutoff, false, userAccess)
	}
	if isDir(pathobj.Shard(cfg.PublicRoot, uploadID, cfg.PrefixSize)) {
		if pool != nil {
			return pool.Get(uploadID)
		}
		return public.New(cfg.PublicRoot, uploadID, cfg.PrefixSize, cfg.ArchiveVersion, cfg.AlwaysRestricted, userAccess)
	}
	return nil, uerr.New("uploadfiles.Get", uerr.NotFound, uploadID)
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
