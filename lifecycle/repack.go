package lifecycle

import (
	"context"
	"os"

	"github.com/nomad-coe/uploadfiles/internal/dcontext"
	"github.com/nomad-coe/uploadfiles/internal/uerr"
	"github.com/nomad-coe/uploadfiles/notify"
	"github.com/nomad-coe/uploadfiles/pathobj"
	"github.com/nomad-coe/uploadfiles/public"
	"github.com/nomad-coe/uploadfiles/uploadmeta"
)

// Repack implements spec.md §4.7: it rewrites an existing public upload
// under updated entry embargo flags, without disturbing the live files
// until the new ones are fully written. Concretely: reject if any
// "-repacked" output already exists (a concurrent re-pack is in
// progress), seed a temporary staging store from the live public upload
// via ToStaging(includeArchive=true), run the same packing algorithm Pack
// uses against that temporary copy with a "-repacked" name suffix, always
// discard the temporary staging, and rename the repacked outputs over the
// live ones only once packing has fully succeeded.
func Repack(ctx context.Context, cfg Config, uploadID string, entries []uploadmeta.EntryMetadata, skipRaw, skipArchive bool) error {
	target, err := public.Root(cfg.PublicRoot, uploadID, cfg.PrefixSize, false)
	if err != nil {
		return err
	}
	if !target.Exists() {
		return uerr.New("lifecycle.Repack", uerr.NotFound, uploadID)
	}

	repackedNames := namesSlice(public.FileNames(cfg.ArchiveVersion, "-repacked"))
	for _, name := range repackedNames {
		p, err := target.JoinFile(name)
		if err != nil {
			return err
		}
		if p.IsFile() {
			return uerr.New("lifecycle.Repack", uerr.AlreadyExists, uploadID)
		}
	}

	st, err := ToStaging(ctx, cfg, uploadID, true)
	if err != nil {
		return err
	}

	packErr := packTo(ctx, cfg, st, entries, target, "-repacked", skipRaw, skipArchive, notify.EventActionRepacked)

	// The temporary staging copy is scratch regardless of outcome: on
	// success its contents have already been written out as the repacked
	// public files, and on failure there is nothing worth keeping.
	if delErr := st.Delete(ctx); delErr != nil {
		dcontext.GetLogger(ctx).WithError(delErr).Warn("lifecycle: failed to remove temporary re-pack staging")
	}

	if packErr != nil {
		for _, name := range repackedNames {
			if p, err := target.JoinFile(name); err == nil {
				_ = p.Delete()
			}
		}
		return packErr
	}

	return promoteRepacked(target, cfg.ArchiveVersion)
}

func namesSlice(a, b, c, d string) []string { return []string{a, b, c, d} }

// promoteRepacked renames every "-repacked" output over its live
// counterpart. Any output Pack skipped (skip_raw / skip_archive) simply
// has no "-repacked" file and is left untouched.
func promoteRepacked(target pathobj.Directory, archiveVersion string) error {
	live := namesSlice(public.FileNames(archiveVersion, ""))
	repacked := namesSlice(public.FileNames(archiveVersion, "-repacked"))

	for i, repackedName := range repacked {
		src, err := target.JoinFile(repackedName)
		if err != nil {
			return err
		}
		if !src.IsFile() {
			continue
		}
		dst, err := target.JoinFile(live[i])
		if err != nil {
			return err
		}
		if err := os.Rename(src.String(), dst.String()); err != nil {
			return uerr.Wrap("lifecycle.Repack", dst.String(), err)
		}
	}
	return nil
}
