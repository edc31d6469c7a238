package pathobj

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShard(t *testing.T) {
	cases := []struct {
		root, id string
		n        int
		want     string
	}{
		{"/data", "abcdef", 2, "/data/ab/abcdef"},
		{"/data", "abcdef", 0, "/data/abcdef"},
		{"/data", "a", 2, "/data/a"},
	}
	for _, c := range cases {
		require.Equal(t, filepath.Clean(c.want), Shard(c.root, c.id, c.n))
	}
}

func TestPathPutContentAtomicAndReader(t *testing.T) {
	dir := t.TempDir()
	p := New(filepath.Join(dir, "a", "b", "file"))

	require.NoError(t, p.PutContent([]byte("hello")))
	require.True(t, p.Exists() && p.IsFile(), "expected file to exist after PutContent")

	entries, err := os.ReadDir(filepath.Dir(p.String()))
	require.NoError(t, err)
	for _, e := range entries {
		require.NotEqual(t, ".tmp", filepath.Ext(e.Name()), "leftover temp file: %s", e.Name())
	}

	r, err := p.Reader(0)
	require.NoError(t, err)
	defer r.Close()
	buf := make([]byte, 5)
	_, err = r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

func TestDeleteShardRemovesEmptyShardDir(t *testing.T) {
	root := t.TempDir()
	id := "abcdef0123"
	objDir := Shard(root, id, 2)
	require.NoError(t, os.MkdirAll(objDir, 0o777))

	p := New(objDir)
	require.NoError(t, p.DeleteShard(context.Background(), id, 2))

	shardDir := filepath.Join(root, id[:2])
	_, err := os.Stat(shardDir)
	require.True(t, os.IsNotExist(err), "expected shard dir %s to be removed, stat err = %v", shardDir, err)
}

func TestDeleteShardKeepsNonEmptyShardDir(t *testing.T) {
	root := t.TempDir()
	id1, id2 := "ab1111", "ab2222"
	require.NoError(t, os.MkdirAll(Shard(root, id1, 2), 0o777))
	require.NoError(t, os.MkdirAll(Shard(root, id2, 2), 0o777))

	p := New(Shard(root, id1, 2))
	require.NoError(t, p.DeleteShard(context.Background(), id1, 2))

	shardDir := filepath.Join(root, "ab")
	_, err := os.Stat(shardDir)
	require.NoError(t, err, "expected shard dir to survive since id2 still lives there")
}

func TestDirectoryJoinFileCreatesIntermediateDirs(t *testing.T) {
	root := t.TempDir()
	d, err := NewDirectory(root, true)
	require.NoError(t, err)

	fp, err := d.JoinFile("a/b/c.txt")
	require.NoError(t, err)
	require.NoError(t, fp.PutContent([]byte("x")))
	require.True(t, fp.Exists())
}

func TestDirectoryJoinFileRemovesBlockingFile(t *testing.T) {
	root := t.TempDir()
	d, err := NewDirectory(root, true)
	require.NoError(t, err)
	blocker := filepath.Join(root, "raw")
	require.NoError(t, os.WriteFile(blocker, []byte("oops"), 0o644))

	fp, err := d.JoinFile("raw/main.out")
	require.NoError(t, err)
	require.NoError(t, fp.PutContent([]byte("data")))
	fi, err := os.Stat(blocker)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "expected raw/ to have become a directory")
}

func TestDirectoryJoinSubdirInheritsCreatePolicy(t *testing.T) {
	root := t.TempDir()
	d, err := NewDirectory(root, false)
	require.NoError(t, err)
	sub, err := d.JoinSubdir("child")
	require.NoError(t, err)
	require.False(t, sub.Exists(), "expected child dir not to be created when parent's create policy is false")
}
