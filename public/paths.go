package public

import (
	"github.com/nomad-coe/uploadfiles/pathobj"
)

// FileNames returns the four on-disk file names a Public Store holds for
// one upload, given the configured archive version suffix
// ("" for unsuffixed) and an optional name suffix inserted right after
// the access bucket name (e.g. "-repacked", used by the lifecycle Repack
// operation's scratch outputs before they are renamed over the live
// files). Shared between the read-side Store and the lifecycle
// Pack/Repack writers so both agree on exactly one naming scheme.
func FileNames(archiveVersion, nameSuffix string) (rawPublic, rawRestricted, archivePublic, archiveRestricted string) {
	verSuffix := ""
	if archiveVersion != "" {
		verSuffix = "-" + archiveVersion
	}
	return "raw-public" + nameSuffix + ".plain.zip",
		"raw-restricted" + nameSuffix + ".plain.zip",
		"archive-public" + nameSuffix + verSuffix + ".msg.msg",
		"archive-restricted" + nameSuffix + verSuffix + ".msg.msg"
}

// Root returns the sharded Directory Object for an upload's public tree,
// under publicRoot. create controls whether the directory (and its shard
// parent) is created on construction: the lifecycle Pack operation passes
// true to materialize a fresh public upload; Store's read side passes
// false since the directory must already exist.
func Root(publicRoot, uploadID string, prefixSize int, create bool) (pathobj.Directory, error) {
	return pathobj.NewDirectory(pathobj.Shard(publicRoot, uploadID, prefixSize), create)
}
