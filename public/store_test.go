package public

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/nomad-coe/uploadfiles/access"
	"github.com/nomad-coe/uploadfiles/archivecodec"
	"github.com/nomad-coe/uploadfiles/internal/uerr"
	"github.com/nomad-coe/uploadfiles/uploadmeta"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func writeArchive(t *testing.T, path string, records map[string]int) {
	t.Helper()
	w, err := archivecodec.Create(path, len(records))
	require.NoError(t, err)
	for id, v := range records {
		require.NoError(t, w.WriteRecord(id, v))
	}
	require.NoError(t, w.Close())
}

func newTestPublicTree(t *testing.T, uploadID string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, uploadID)
	require.NoError(t, os.MkdirAll(dir, 0o777))
	rawPublic, rawRestricted, archivePublic, archiveRestricted := FileNames("", "")
	writeZip(t, filepath.Join(dir, rawPublic), map[string]string{
		"a/main.x": "public-main",
		"a/aux.y":  "public-aux",
	})
	writeZip(t, filepath.Join(dir, rawRestricted), map[string]string{
		"b/secret.x": "restricted-main",
	})
	writeArchive(t, filepath.Join(dir, archivePublic), map[string]int{"e1": 1})
	writeArchive(t, filepath.Join(dir, archiveRestricted), map[string]int{"e2": 2})
	return root
}

func TestNewFailsWhenUploadDirMissing(t *testing.T) {
	root := t.TempDir()
	_, err := New(root, "nope", 0, "", access.NoneRestricted, access.Allow)
	assert.True(t, uerr.Is(err, uerr.NotFound), "got %v, want NotFound", err)
}

func TestRawFilePublicReadableWithoutUserPredicate(t *testing.T) {
	root := newTestPublicTree(t, "up1")
	s, err := New(root, "up1", 0, "", access.NoneRestricted, access.Deny)
	require.NoError(t, err)
	defer s.Close()

	rc, err := s.RawFile("a/main.x")
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "public-main", string(b))
}

func TestRawFileRestrictedRequiresUserPredicate(t *testing.T) {
	root := newTestPublicTree(t, "up1")
	s, err := New(root, "up1", 0, "", access.NoneRestricted, access.Deny)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.RawFile("b/secret.x")
	assert.True(t, uerr.Is(err, uerr.Restricted), "got %v, want Restricted", err)

	s2, err := New(root, "up1", 0, "", access.NoneRestricted, access.Allow)
	require.NoError(t, err)
	defer s2.Close()
	rc, err := s2.RawFile("b/secret.x")
	require.NoError(t, err)
	rc.Close()
}

func TestAlwaysRestrictedOverridesPublicBucket(t *testing.T) {
	root := newTestPublicTree(t, "up1")
	alwaysRestricted := access.GlobNamePredicate([]string{"a/main.x"})
	s, err := New(root, "up1", 0, "", alwaysRestricted, access.Deny)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.RawFile("a/main.x")
	assert.True(t, uerr.Is(err, uerr.Restricted), "got %v, want Restricted even though the file lives in the public zip", err)
	// A sibling not matched by the always-restricted rule stays public.
	_, err = s.RawFile("a/aux.y")
	assert.NoError(t, err)
}

func TestRawFileMissingIsNotFound(t *testing.T) {
	root := newTestPublicTree(t, "up1")
	s, err := New(root, "up1", 0, "", access.NoneRestricted, access.Allow)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.RawFile("nope.x")
	assert.True(t, uerr.Is(err, uerr.NotFound), "got %v, want NotFound", err)
}

// TestRawFileMalformedPathIsNotFound mirrors scenario S5 from spec.md §8:
// a raw path escaping the upload root via ".." must report NotFound
// without ever reaching the filesystem.
func TestRawFileMalformedPathIsNotFound(t *testing.T) {
	root := newTestPublicTree(t, "up1")
	s, err := New(root, "up1", 0, "", access.NoneRestricted, access.Allow)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.RawFile("../etc/passwd")
	assert.True(t, uerr.Is(err, uerr.NotFound), "got %v, want NotFound", err)
	assert.False(t, s.RawPathExists("../etc/passwd"), "malformed path reported as existing")
}

func TestRawDirectoryListOmitsRestrictedWithoutAccess(t *testing.T) {
	root := newTestPublicTree(t, "up1")
	s, err := New(root, "up1", 0, "", access.NoneRestricted, access.Deny)
	require.NoError(t, err)
	defer s.Close()

	infos, err := s.RawDirectoryList("", true, true)
	require.NoError(t, err)
	for _, i := range infos {
		assert.NotEqual(t, uploadmeta.AccessRestricted, i.Access, "expected restricted entries to be omitted, got %+v", i)
	}
	var sawPublic bool
	for _, i := range infos {
		if i.Path == "a/main.x" {
			sawPublic = true
		}
	}
	assert.True(t, sawPublic, "expected public entry to be present")
}

func TestReadArchivePublicAndRestricted(t *testing.T) {
	root := newTestPublicTree(t, "up1")
	s, err := New(root, "up1", 0, "", access.NoneRestricted, access.Allow)
	require.NoError(t, err)
	defer s.Close()

	var v int
	require.NoError(t, s.ReadArchive("e1", &v))
	assert.Equal(t, 1, v)
	require.NoError(t, s.ReadArchive("e2", &v))
	assert.Equal(t, 2, v)
	err = s.ReadArchive("nope", &v)
	assert.True(t, uerr.Is(err, uerr.NotFound), "got %v, want NotFound", err)
}

func TestReadArchiveRestrictedDeniedWithoutAccess(t *testing.T) {
	root := newTestPublicTree(t, "up1")
	s, err := New(root, "up1", 0, "", access.NoneRestricted, access.Deny)
	require.NoError(t, err)
	defer s.Close()

	var v int
	err = s.ReadArchive("e2", &v)
	assert.True(t, uerr.Is(err, uerr.Restricted), "got %v, want Restricted", err)
}

func TestCloseIsIdempotent(t *testing.T) {
	root := newTestPublicTree(t, "up1")
	s, err := New(root, "up1", 0, "", access.NoneRestricted, access.Allow)
	require.NoError(t, err)
	// force handles open
	_, err = s.RawFile("a/main.x")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestArchiveVersionSuffixSelectsFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "up1")
	require.NoError(t, os.MkdirAll(dir, 0o777))
	rawPublic, rawRestricted, archivePublic, archiveRestricted := FileNames("v2", "")
	writeZip(t, filepath.Join(dir, rawPublic), map[string]string{"a/main.x": "m"})
	writeZip(t, filepath.Join(dir, rawRestricted), map[string]string{})
	writeArchive(t, filepath.Join(dir, archivePublic), map[string]int{"e1": 7})
	writeArchive(t, filepath.Join(dir, archiveRestricted), map[string]int{})

	s, err := New(root, "up1", 0, "v2", access.NoneRestricted, access.Allow)
	require.NoError(t, err)
	defer s.Close()

	var v int
	require.NoError(t, s.ReadArchive("e1", &v))
	assert.Equal(t, 7, v)
}
