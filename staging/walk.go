package staging

import (
	"os"
	"sort"
)

// walkFn is called once per entry found by filepathWalk, given its raw
// path relative to root and whether it is a directory.
type walkFn func(relPath string, isDir bool) error

// filepathWalk performs the same depth-first, lexicographically sorted
// traversal as the teacher storage driver's Walk (registry/storage/driver/walk.go),
// adapted to walk a plain OS directory tree directly instead of through a
// pluggable StorageDriver — this system has exactly one storage backend
// (local disk), so the driver abstraction that walk.go was written
// against does not apply here.
func filepathWalk(root string, f walkFn) error {
	return doWalk(root, "", f)
}

func doWalk(osDir, relDir string, f walkFn) error {
	entries, err := os.ReadDir(osDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	names := make([]string, 0, len(entries))
	byName := make(map[string]os.DirEntry, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
		byName[e.Name()] = e
	}
	sort.Strings(names)

	for _, name := range names {
		e := byName[name]
		rel := name
		if relDir != "" {
			rel = relDir + "/" + name
		}
		if err := f(rel, e.IsDir()); err != nil {
			return err
		}
		if e.IsDir() {
			if err := doWalk(osDir+string(os.PathSeparator)+name, rel, f); err != nil {
				return err
			}
		}
	}
	return nil
}
