package lifecycle

import (
	"context"

	"github.com/nomad-coe/uploadfiles/notify"
	"github.com/nomad-coe/uploadfiles/pathobj"
)

// Delete tears down both sides of an upload: its staging tree (if any)
// and its public tree (if any), including best-effort shard-directory
// cleanup on each side. Deleting an upload that has only ever existed in
// one state (absent from the other) is not an error.
func Delete(ctx context.Context, cfg Config, uploadID string) error {
	stagingRoot := pathobj.New(pathobj.Shard(cfg.StagingRoot, uploadID, cfg.PrefixSize))
	if err := stagingRoot.DeleteShard(ctx, uploadID, cfg.PrefixSize); err != nil {
		return err
	}
	publicRoot := pathobj.New(pathobj.Shard(cfg.PublicRoot, uploadID, cfg.PrefixSize))
	if err := publicRoot.DeleteShard(ctx, uploadID, cfg.PrefixSize); err != nil {
		return err
	}
	cfg.emit(notify.EventActionDeleted, uploadID, "", "", false, "")
	return nil
}
