// Package archivecodec implements a self-indexed, random-access archive
// container: a sequence of records, each addressable by entry-id without
// scanning the file.
//
// The wire format is msgpack (github.com/vmihailenco/msgpack/v5, with
// SetSortMapKeys for deterministic bytes), the same codec the research
// pack's gfbonny-cxdb Go client uses for its content-addressed blobs
// (EncodeMsgpack/DecodeMsgpack in its clients/go/encoding.go). This keeps
// the archive schema-owned and cross-language rather than tied to one
// runtime's pickle format.
//
// File layout:
//
//	magic(4) version(1) count(uint32 BE)   <- header
//	record_0 record_1 ... record_{n-1}     <- raw msgpack bytes, back to back
//	index                                   <- msgpack-encoded []indexEntry
//	footerOffset(uint64 BE)                 <- trailer, always the last 8 bytes
package archivecodec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nomad-coe/uploadfiles/internal/uerr"
)

var magic = [4]byte{'N', 'U', 'A', 'F'}

const (
	formatVersion = 1
	headerLen     = 4 + 1 + 4 // magic + version + count
	trailerLen    = 8
)

type indexEntry struct {
	EntryID string `msgpack:"id"`
	Offset  int64  `msgpack:"off"`
	Length  int64  `msgpack:"len"`
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Writer streams (entry_id, value) pairs into a new archive file. Create a
// Writer with Create, call WriteRecord for every entry (including entries
// whose record the caller substitutes with an empty value), and call
// Close exactly once. If any write fails, the partially written file is
// removed — callers never observe a half-written archive.
type Writer struct {
	f       *os.File
	bw      *bufio.Writer
	path    string
	offset  int64
	index   []indexEntry
	wantLen int
	poisoned bool
}

// Create opens path for writing a new archive expected to hold wantLen
// records (informational only; WriteRecord may be called a different
// number of times and the true count is what's written to the header).
func Create(path string, wantLen int) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, uerr.Wrap("archivecodec.Create", path, err)
	}
	w := &Writer{f: f, bw: bufio.NewWriter(f), path: path, wantLen: wantLen}

	// Reserve the header; it is rewritten with the true count in Close.
	if _, err := w.bw.Write(make([]byte, headerLen)); err != nil {
		w.abort()
		return nil, uerr.Wrap("archivecodec.Create", path, err)
	}
	w.offset = headerLen
	return w, nil
}

// WriteRecord appends value, msgpack-encoded, under entryID.
func (w *Writer) WriteRecord(entryID string, value any) error {
	if w.poisoned {
		return uerr.New("archivecodec.WriteRecord", uerr.IO, w.path)
	}
	b, err := encode(value)
	if err != nil {
		w.abort()
		return uerr.WithKind("archivecodec.WriteRecord", uerr.IO, w.path, err)
	}
	if _, err := w.bw.Write(b); err != nil {
		w.abort()
		return uerr.Wrap("archivecodec.WriteRecord", w.path, err)
	}
	w.index = append(w.index, indexEntry{EntryID: entryID, Offset: w.offset, Length: int64(len(b))})
	w.offset += int64(len(b))
	return nil
}

// WriteRawRecord appends an already-encoded record under entryID, skipping
// the encode step. Used to copy a record from one archive into another
// (e.g. pack's archive partition, or Public-to-Staging rehydration)
// without a decode/re-encode round trip.
func (w *Writer) WriteRawRecord(entryID string, raw []byte) error {
	if w.poisoned {
		return uerr.New("archivecodec.WriteRawRecord", uerr.IO, w.path)
	}
	if _, err := w.bw.Write(raw); err != nil {
		w.abort()
		return uerr.Wrap("archivecodec.WriteRawRecord", w.path, err)
	}
	w.index = append(w.index, indexEntry{EntryID: entryID, Offset: w.offset, Length: int64(len(raw))})
	w.offset += int64(len(raw))
	return nil
}

// Close writes the footer and header and finalizes the file. Idempotent:
// calling Close twice is a no-op the second time.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	if w.poisoned {
		w.f.Close()
		os.Remove(w.path)
		w.f = nil
		return nil
	}

	footerOffset := w.offset
	footer, err := encode(w.index)
	if err != nil {
		w.abort()
		return uerr.WithKind("archivecodec.Close", uerr.IO, w.path, err)
	}
	if _, err := w.bw.Write(footer); err != nil {
		w.abort()
		return uerr.Wrap("archivecodec.Close", w.path, err)
	}

	var trailer [trailerLen]byte
	binary.BigEndian.PutUint64(trailer[:], uint64(footerOffset))
	if _, err := w.bw.Write(trailer[:]); err != nil {
		w.abort()
		return uerr.Wrap("archivecodec.Close", w.path, err)
	}

	if err := w.bw.Flush(); err != nil {
		w.abort()
		return uerr.Wrap("archivecodec.Close", w.path, err)
	}

	// Patch in the real header now that the record count is known.
	var header [headerLen]byte
	copy(header[:4], magic[:])
	header[4] = formatVersion
	binary.BigEndian.PutUint32(header[5:], uint32(len(w.index)))
	if _, err := w.f.WriteAt(header[:], 0); err != nil {
		w.abort()
		return uerr.Wrap("archivecodec.Close", w.path, err)
	}

	if err := w.f.Sync(); err != nil {
		w.abort()
		return uerr.Wrap("archivecodec.Close", w.path, err)
	}
	err = w.f.Close()
	w.f = nil
	if err != nil {
		os.Remove(w.path)
		return uerr.Wrap("archivecodec.Close", w.path, err)
	}
	return nil
}

// abort removes the partially written file: a failed write must leave no
// partial file behind, so the caller always sees either the old file or
// nothing.
func (w *Writer) abort() {
	w.poisoned = true
	if w.f != nil {
		w.f.Close()
		os.Remove(w.path)
		w.f = nil
	}
}

// Len returns the number of records written so far.
func (w *Writer) Len() int { return len(w.index) }
