package archivecodec

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nomad-coe/uploadfiles/internal/uerr"
)

// Reader exposes a mapping-like, O(1) view over the entry-ids of an
// archive file written by Writer. Close is idempotent; Closed reports
// whether a prior Close has already run, so a caller can tell a closed
// Reader apart and Open the file again. The Public Store opens its
// archives once and does not reopen them after Close.
type Reader struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	index  map[string]indexEntry
	closed bool
}

// Open parses path's header and footer and returns a Reader ready for
// O(1) lookups. It does not read any record bodies eagerly.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, uerr.New("archivecodec.Open", uerr.NotFound, path)
		}
		return nil, uerr.Wrap("archivecodec.Open", path, err)
	}

	r, err := openFrom(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func openFrom(f *os.File, path string) (*Reader, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, uerr.Wrap("archivecodec.Open", path, err)
	}
	if fi.Size() < int64(headerLen+trailerLen) {
		return nil, uerr.New("archivecodec.Open", uerr.Corrupt, path)
	}

	var header [headerLen]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		return nil, uerr.Wrap("archivecodec.Open", path, err)
	}
	if string(header[:4]) != string(magic[:]) || header[4] != formatVersion {
		return nil, uerr.New("archivecodec.Open", uerr.Corrupt, path)
	}
	declaredCount := binary.BigEndian.Uint32(header[5:])

	var trailer [trailerLen]byte
	if _, err := f.ReadAt(trailer[:], fi.Size()-trailerLen); err != nil {
		return nil, uerr.Wrap("archivecodec.Open", path, err)
	}
	footerOffset := int64(binary.BigEndian.Uint64(trailer[:]))
	if footerOffset < headerLen || footerOffset > fi.Size()-trailerLen {
		return nil, uerr.New("archivecodec.Open", uerr.Corrupt, path)
	}

	footerLen := fi.Size() - trailerLen - footerOffset
	footerBytes := make([]byte, footerLen)
	if _, err := f.ReadAt(footerBytes, footerOffset); err != nil {
		return nil, uerr.Wrap("archivecodec.Open", path, err)
	}

	var entries []indexEntry
	if err := msgpack.Unmarshal(footerBytes, &entries); err != nil {
		return nil, uerr.WithKind("archivecodec.Open", uerr.Corrupt, path, err)
	}
	if uint32(len(entries)) != declaredCount {
		return nil, uerr.New("archivecodec.Open", uerr.Corrupt, path)
	}

	index := make(map[string]indexEntry, len(entries))
	for _, e := range entries {
		index[e.EntryID] = e
	}

	return &Reader{f: f, path: path, index: index}, nil
}

// Len returns the number of records in the archive.
func (r *Reader) Len() int { return len(r.index) }

// Has reports whether entryID has a record in the archive.
func (r *Reader) Has(entryID string) bool {
	_, ok := r.index[entryID]
	return ok
}

// EntryIDs returns every entry-id with a record in the archive, in no
// particular order.
func (r *Reader) EntryIDs() []string {
	ids := make([]string, 0, len(r.index))
	for id := range r.index {
		ids = append(ids, id)
	}
	return ids
}

// Get looks up entryID and msgpack-decodes its record into out.
func (r *Reader) Get(entryID string, out any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return uerr.New("archivecodec.Get", uerr.IO, r.path)
	}
	e, ok := r.index[entryID]
	if !ok {
		return uerr.New("archivecodec.Get", uerr.NotFound, entryID)
	}
	buf := make([]byte, e.Length)
	if _, err := r.f.ReadAt(buf, e.Offset); err != nil && err != io.EOF {
		return uerr.Wrap("archivecodec.Get", r.path, err)
	}
	if err := msgpack.Unmarshal(buf, out); err != nil {
		return uerr.WithKind("archivecodec.Get", uerr.Corrupt, entryID, err)
	}
	return nil
}

// GetRaw returns the raw, still-encoded bytes of entryID's record, useful
// for copying a record into another archive without a decode/re-encode
// round trip (e.g. Public-to-Staging rehydration in to-staging).
func (r *Reader) GetRaw(entryID string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, uerr.New("archivecodec.GetRaw", uerr.IO, r.path)
	}
	e, ok := r.index[entryID]
	if !ok {
		return nil, uerr.New("archivecodec.GetRaw", uerr.NotFound, entryID)
	}
	buf := make([]byte, e.Length)
	if _, err := r.f.ReadAt(buf, e.Offset); err != nil && err != io.EOF {
		return nil, uerr.Wrap("archivecodec.GetRaw", r.path, err)
	}
	return buf, nil
}

// Closed reports whether Close has already been called.
func (r *Reader) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close releases the underlying file handle. Idempotent.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.f.Close()
}
