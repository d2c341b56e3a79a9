// Package memstore implements [objectstore.Store] entirely in memory,
// generalizing the teacher's sector-chunked ordmap storage
// (vfs/ordmap-mvcc/memdb.go's memDB) from a single shared SQLite
// database into a named, multi-blob object store. It backs the
// sanity-check harness and both VFS strategies' tests, where a real
// disk or network round trip would only add noise.
package memstore

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/edofic/go-ordmap/v2"
	"github.com/tursodatabase/oosvfs/objectstore"
)

const sectorSize = 4096

type Store struct {
	mu    sync.Mutex
	blobs ordmap.NodeBuiltin[string, *blob]
}

func New() *Store {
	return &Store{blobs: ordmap.NewBuiltin[string, *blob]()}
}

type blob struct {
	mu   sync.Mutex
	size int64
	// data stores fixed sectorSize chunks keyed by sector index, the
	// same representation memdb.go uses for page-aligned sqlite I/O.
	data ordmap.NodeBuiltin[int64, []byte]
}

func newBlob() *blob {
	return &blob{data: ordmap.NewBuiltin[int64, []byte]()}
}

func (s *Store) get(name string) (*blob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs.Get(name)
}

func (s *Store) Stat(_ context.Context, name string) (int64, bool, error) {
	b, ok := s.get(name)
	if !ok {
		return 0, false, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size, true, nil
}

// List enumerates the names directly under dir, stripping the dir
// prefix so callers get the same basenames diskstore.List returns —
// names are stored as flat "dir/basename" keys with no real hierarchy.
func (s *Store) List(_ context.Context, dir string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := dir + "/"
	var names []string
	for it := s.blobs.Iterate(); !it.Done(); it.Next() {
		key := it.GetKey()
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, rest)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) MkdirAll(context.Context, string) error { return nil }

func (s *Store) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = s.blobs.Remove(name)
	return nil
}

// blobFor returns name's blob, creating it when create is true.
func (s *Store) blobFor(name string, create bool) (*blob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs.Get(name)
	if !ok {
		if !create {
			return nil, false
		}
		b = newBlob()
		s.blobs = s.blobs.Insert(name, b)
	}
	return b, true
}

// ReadAt, WriteAt and Truncate are the plain async path's in-memory
// stand-in, operating on the same blob representation AcquireSync's
// handles use but without requiring one held open across calls.
func (s *Store) ReadAt(_ context.Context, name string, p []byte, off int64) (int, error) {
	b, ok := s.blobFor(name, false)
	if !ok {
		return 0, io.EOF
	}
	return (&handle{blob: b}).ReadAt(p, off)
}

func (s *Store) WriteAt(_ context.Context, name string, p []byte, off int64) (int, error) {
	b, _ := s.blobFor(name, true)
	return (&handle{blob: b}).WriteAt(p, off)
}

func (s *Store) Truncate(_ context.Context, name string, size int64) error {
	b, _ := s.blobFor(name, true)
	return (&handle{blob: b}).Truncate(size)
}

func (s *Store) AcquireSync(_ context.Context, name string, create bool) (objectstore.SyncHandle, error) {
	b, ok := s.blobFor(name, create)
	if !ok {
		return nil, &objectstore.CapabilityError{Op: "AcquireSync", Reason: "not found"}
	}
	return &handle{blob: b}, nil
}

type handle struct{ *blob }

func (h *handle) ReadAt(p []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if off >= h.size {
		return 0, io.EOF
	}
	avail := h.size - off
	want := int64(len(p))
	short := false
	if want > avail {
		want = avail
		short = true
	}

	n := 0
	for n < int(want) {
		cur := off + int64(n)
		base := cur / sectorSize
		rest := cur % sectorSize
		chunkLen := int64(len(p)) - int64(n)
		if rest+chunkLen > sectorSize {
			chunkLen = sectorSize - rest
		}
		if int64(n)+chunkLen > want {
			chunkLen = want - int64(n)
		}
		page, ok := h.data.Get(base)
		if !ok {
			clear(p[n : int64(n)+chunkLen])
		} else {
			copy(p[n:int64(n)+chunkLen], page[rest:])
		}
		n += int(chunkLen)
	}
	if short {
		return n, io.EOF
	}
	return n, nil
}

func (h *handle) WriteAt(p []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for n < len(p) {
		cur := off + int64(n)
		base := cur / sectorSize
		rest := cur % sectorSize
		chunkLen := int64(len(p) - n)
		if rest+chunkLen > sectorSize {
			chunkLen = sectorSize - rest
		}

		page, ok := h.data.Get(base)
		var newPage []byte
		if ok {
			newPage = make([]byte, sectorSize)
			copy(newPage, page)
		} else {
			newPage = make([]byte, sectorSize)
		}
		copy(newPage[rest:], p[n:int64(n)+chunkLen])
		h.data = h.data.Insert(base, newPage)
		n += int(chunkLen)
	}

	if end := off + int64(len(p)); end > h.size {
		h.size = end
	}
	return n, nil
}

func (h *handle) Truncate(size int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if size < 0 {
		size = 0
	}
	h.size = size
	if size == 0 {
		h.data = ordmap.NewBuiltin[int64, []byte]()
		return nil
	}
	lastBase := (size - 1) / sectorSize
	for it := h.data.Iterate(); !it.Done(); it.Next() {
		if it.GetKey() > lastBase {
			h.data = h.data.Remove(it.GetKey())
		}
	}
	return nil
}

func (h *handle) Flush() error { return nil }

func (h *handle) Size() (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size, nil
}

func (h *handle) Close() error { return nil }
