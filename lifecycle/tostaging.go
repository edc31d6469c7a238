package lifecycle

import (
	"context"

	"github.com/nomad-coe/uploadfiles/access"
	"github.com/nomad-coe/uploadfiles/archivecodec"
	"github.com/nomad-coe/uploadfiles/internal/uerr"
	"github.com/nomad-coe/uploadfiles/pathobj"
	"github.com/nomad-coe/uploadfiles/public"
	"github.com/nomad-coe/uploadfiles/staging"
)

// ToStaging implements spec.md §4.8: it materializes a staging store
// backed by the contents of uploadID's public store, for in-place editing
// or as re-pack's intermediate copy. When includeArchive is true, archive
// records are rehydrated into per-entry staging archive files; otherwise
// only raw contents are extracted. A second call against an upload already
// staged this way fails with AlreadyExists.
func ToStaging(ctx context.Context, cfg Config, uploadID string, includeArchive bool) (*staging.Store, error) {
	pubRoot, err := public.Root(cfg.PublicRoot, uploadID, cfg.PrefixSize, false)
	if err != nil {
		return nil, err
	}
	if !pubRoot.Exists() {
		return nil, uerr.New("lifecycle.ToStaging", uerr.NotFound, uploadID)
	}

	st, err := staging.New(cfg.StagingRoot, cfg.TempRoot, uploadID, cfg.PrefixSize, cfg.AuxFileCutoff, true, access.Allow)
	if err != nil {
		return nil, err
	}

	manifest, err := st.RawFileManifest(ctx)
	if err != nil {
		return nil, err
	}
	if len(manifest) > 0 {
		return nil, uerr.New("lifecycle.ToStaging", uerr.AlreadyExists, uploadID)
	}

	rawPublicName, rawRestrictedName, archivePublicName, archiveRestrictedName := public.FileNames(cfg.ArchiveVersion, "")

	for _, name := range []string{rawPublicName, rawRestrictedName} {
		p, err := pubRoot.JoinFile(name)
		if err != nil {
			return nil, err
		}
		if !p.IsFile() {
			continue
		}
		if err := st.AddRawFiles(ctx, p.String(), "", true); err != nil {
			return nil, err
		}
	}

	if includeArchive {
		for _, name := range []string{archivePublicName, archiveRestrictedName} {
			if err := rehydrateArchive(st, pubRoot, name); err != nil {
				return nil, err
			}
		}
	}

	return st, nil
}

func rehydrateArchive(st *staging.Store, pubRoot pathobj.Directory, name string) error {
	p, err := pubRoot.JoinFile(name)
	if err != nil {
		return err
	}
	if !p.IsFile() {
		return nil
	}
	r, err := archivecodec.Open(p.String())
	if err != nil {
		return err
	}
	defer r.Close()

	for _, id := range r.EntryIDs() {
		raw, err := r.GetRaw(id)
		if err != nil {
			return err
		}
		if err := st.WriteRawArchiveRecord(id, raw); err != nil {
			return err
		}
	}
	return nil
}
