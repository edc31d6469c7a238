// Package lifecycle implements the staging-to-public transitions
// described in spec.md §4.6-4.8: Pack, Repack, and ToStaging, plus the
// Delete operation that tears down both sides of an upload.
package lifecycle

import (
	"github.com/nomad-coe/uploadfiles/access"
	"github.com/nomad-coe/uploadfiles/internal/uuid"
	"github.com/nomad-coe/uploadfiles/notify"
)

// Config carries the knobs every lifecycle operation needs to locate and
// shard an upload's staging and public trees, consistently with how the
// Staging and Public Stores were themselves constructed.
type Config struct {
	StagingRoot      string
	PublicRoot       string
	TempRoot         string
	PrefixSize       int
	AuxFileCutoff    int
	ArchiveVersion   string
	AlwaysRestricted access.NamePredicate

	// Notify receives one entry-metadata event per entry packed or
	// repacked, and one event (with an empty entry id) per upload
	// deleted. May be nil, in which case no events are emitted.
	Notify *notify.Queue
}

func (c Config) emit(action notify.EventAction, uploadID, entryID, mainfile string, withEmbargo bool, contentHash string) {
	if c.Notify == nil {
		return
	}
	_ = c.Notify.Emit(uuid.NewString(), action, uploadID, entryID, mainfile, withEmbargo, contentHash)
}
