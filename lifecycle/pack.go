package lifecycle

import (
	"archive/zip"
	"context"
	"io"
	"os"

	"github.com/nomad-coe/uploadfiles/archivecodec"
	"github.com/nomad-coe/uploadfiles/internal/dcontext"
	"github.com/nomad-coe/uploadfiles/internal/uerr"
	"github.com/nomad-coe/uploadfiles/notify"
	"github.com/nomad-coe/uploadfiles/pathobj"
	"github.com/nomad-coe/uploadfiles/public"
	"github.com/nomad-coe/uploadfiles/staging"
	"github.com/nomad-coe/uploadfiles/uploadmeta"
)

// Pack implements the staging → public transition (spec.md §4.6). st must
// not already be frozen. entries carries every entry's mainfile and
// embargo flag; skipRaw/skipArchive each suppress one of the two output
// partitions.
func Pack(ctx context.Context, cfg Config, st *staging.Store, entries []uploadmeta.EntryMetadata, skipRaw, skipArchive bool) error {
	if err := st.Freeze(); err != nil {
		return err
	}
	target, err := public.Root(cfg.PublicRoot, st.UploadID(), cfg.PrefixSize, true)
	if err != nil {
		return err
	}
	return packTo(ctx, cfg, st, entries, target, "", skipRaw, skipArchive, notify.EventActionPacked)
}

// packTo is the shared implementation behind Pack and Repack: target is
// the already-resolved public directory to write into, and nameSuffix
// (e.g. "-repacked") is inserted into every output file name.
func packTo(ctx context.Context, cfg Config, st *staging.Store, entries []uploadmeta.EntryMetadata, target pathobj.Directory, nameSuffix string, skipRaw, skipArchive bool, action notify.EventAction) error {
	log := dcontext.GetLogger(ctx)
	rawPublicName, rawRestrictedName, archivePublicName, archiveRestrictedName := public.FileNames(cfg.ArchiveVersion, nameSuffix)

	if !skipArchive {
		if err := packArchives(target, archivePublicName, archiveRestrictedName, st, entries, log); err != nil {
			return err
		}
	}

	if !skipRaw {
		if _, err := packRaw(target, rawPublicName, rawRestrictedName, st, entries, cfg, ctx, log); err != nil {
			return err
		}
	}

	for _, e := range entries {
		hash, err := st.CalcHash(e.Mainfile)
		if err != nil {
			log.WithError(err).WithField("entry_id", e.EntryID).Warn("lifecycle: could not compute content hash for notification")
			hash = ""
		}
		cfg.emit(action, st.UploadID(), e.EntryID, e.Mainfile, e.WithEmbargo, hash)
	}
	return nil
}

func packArchives(target pathobj.Directory, publicName, restrictedName string, st *staging.Store, entries []uploadmeta.EntryMetadata, log dcontext.Logger) error {
	writeBucket := func(name string, withEmbargo bool) error {
		p, err := target.JoinFile(name)
		if err != nil {
			return uerr.Wrap("lifecycle.Pack", name, err)
		}
		count := 0
		for _, e := range entries {
			if e.WithEmbargo == withEmbargo {
				count++
			}
		}
		w, err := archivecodec.Create(p.String(), count)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.WithEmbargo != withEmbargo {
				continue
			}
			if st.HasArchiveRecord(e.EntryID) {
				raw, err := st.RawArchiveRecord(e.EntryID)
				if err != nil {
					log.WithError(err).WithField("entry_id", e.EntryID).Error("lifecycle: exception during packing archives, substituting empty record")
					if err := w.WriteRecord(e.EntryID, map[string]any{}); err != nil {
						return err
					}
					continue
				}
				if err := w.WriteRawRecord(e.EntryID, raw); err != nil {
					return err
				}
			} else {
				if err := w.WriteRecord(e.EntryID, map[string]any{}); err != nil {
					return err
				}
			}
		}
		return w.Close()
	}

	if err := writeBucket(publicName, false); err != nil {
		return err
	}
	return writeBucket(restrictedName, true)
}

func packRaw(target pathobj.Directory, publicName, restrictedName string, st *staging.Store, entries []uploadmeta.EntryMetadata, cfg Config, ctx context.Context, log dcontext.Logger) (map[string]bool, error) {
	publicFiles := map[string]bool{}

	// Phase A: every non-embargo entry's whole file group, minus names the
	// always-restricted predicate flags, is provisionally public.
	for _, e := range entries {
		if e.WithEmbargo {
			continue
		}
		files, err := st.CalcFiles(e.Mainfile, true, false)
		if err != nil {
			log.WithError(err).WithField("mainfile", e.Mainfile).Error("lifecycle: exception during packing raw files")
			continue
		}
		for _, f := range files {
			if cfg.AlwaysRestricted == nil || !cfg.AlwaysRestricted(f) {
				publicFiles[f] = true
			}
		}
	}

	// Phase B: an embargoed entry's own mainfile is never public, even if
	// it was pulled in as an aux file of a public sibling.
	for _, e := range entries {
		if e.WithEmbargo {
			delete(publicFiles, e.Mainfile)
		}
	}

	publicPath, err := target.JoinFile(publicName)
	if err != nil {
		return nil, uerr.Wrap("lifecycle.Pack", publicName, err)
	}
	restrictedPath, err := target.JoinFile(restrictedName)
	if err != nil {
		return nil, uerr.Wrap("lifecycle.Pack", restrictedName, err)
	}

	publicOut, err := os.OpenFile(publicPath.String(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, uerr.Wrap("lifecycle.Pack", publicPath.String(), err)
	}
	defer publicOut.Close()
	restrictedOut, err := os.OpenFile(restrictedPath.String(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, uerr.Wrap("lifecycle.Pack", restrictedPath.String(), err)
	}
	defer restrictedOut.Close()

	publicZip := zip.NewWriter(publicOut)
	restrictedZip := zip.NewWriter(restrictedOut)

	manifest, err := st.RawFileManifest(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range manifest {
		zw := restrictedZip
		if publicFiles[f] {
			zw = publicZip
		}
		if err := copyIntoZip(zw, st, f); err != nil {
			log.WithError(err).WithField("path", f).Error("lifecycle: exception during packing raw files")
		}
	}

	if err := publicZip.Close(); err != nil {
		return nil, uerr.Wrap("lifecycle.Pack", publicPath.String(), err)
	}
	if err := restrictedZip.Close(); err != nil {
		return nil, uerr.Wrap("lifecycle.Pack", restrictedPath.String(), err)
	}
	return publicFiles, nil
}

func copyIntoZip(zw *zip.Writer, st *staging.Store, rawPath string) error {
	src, err := st.RawDir().JoinFile(rawPath)
	if err != nil {
		return err
	}
	r, err := src.Reader(0)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := zw.Create(rawPath)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	return err
}
