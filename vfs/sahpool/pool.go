// Package sahpool implements Strategy A of spec.md: a fixed pool of
// exclusive, long-lived synchronous handles onto backing objects in an
// [objectstore.Store], multiplexing virtual database names onto that
// pool via the header codec in header.go. No cross-thread proxy and no
// shared memory are needed; every VFS entry point is an ordinary
// synchronous Go call, by construction.
package sahpool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/edofic/go-ordmap/v2"
	"github.com/google/uuid"
	"github.com/tursodatabase/oosvfs/objectstore"
	"github.com/tursodatabase/oosvfs/sqlite3"
	"github.com/tursodatabase/oosvfs/vfs"
)

// DefaultCapacity is the initial pool size when no slots exist yet,
// spec §4.3.1/§6.3.
const DefaultCapacity = 6

// DefaultDir is the private directory under the store's root, spec §6.3.
const DefaultDir = ".sqlite3-opfs-sahpool"

// slot is one physical backing object in the pool, holding the
// synchronous handle acquired for it at pool-construction (or
// AddCapacity) time and held for the VFS's entire lifetime.
type slot struct {
	name   string
	handle objectstore.SyncHandle
}

// Pool owns a fixed set of slots and the path↔slot associations layered
// over them, per spec §3/§4.3.
type Pool struct {
	store objectstore.Store
	dir   string

	mu sync.Mutex
	// slots holds every slot this pool has acquired a handle for,
	// keyed by its stable physical name — the "handle→name" map of
	// spec §3, with the handle itself alongside its name.
	slots ordmap.NodeBuiltin[string, *slot]
	// free holds the names of slots with no current path association.
	free ordmap.NodeBuiltin[string, struct{}]
	// byPath maps an associated virtual path to its slot's name.
	byPath ordmap.NodeBuiltin[string, string]

	lastErr error
	logger  *slog.Logger
}

// SetVerbosity adjusts how much the pool logs, per spec §6.3's
// `opfs-verbose` level (0 disables logging entirely; 1 warnings; 2 adds
// lifecycle events; 3 adds per-call bookkeeping). A freshly opened pool
// logs at level 0 until a caller opts in.
func (p *Pool) SetVerbosity(level int) {
	var handlerLevel slog.Level
	switch {
	case level <= 0:
		p.mu.Lock()
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		p.mu.Unlock()
		return
	case level == 1:
		handlerLevel = slog.LevelWarn
	case level == 2:
		handlerLevel = slog.LevelInfo
	default:
		handlerLevel = slog.LevelDebug
	}
	p.mu.Lock()
	p.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: handlerLevel}))
	p.mu.Unlock()
}

// Open performs spec §4.3.1's initialization: probing the capability,
// creating the metadata directory, scanning any existing slots, and
// growing to defaultCapacity if the scan found none.
func Open(ctx context.Context, store objectstore.Store, dir string, defaultCapacity int) (*Pool, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if defaultCapacity <= 0 {
		defaultCapacity = DefaultCapacity
	}

	if err := probeSyncCapability(ctx, store); err != nil {
		return nil, err
	}

	if err := store.MkdirAll(ctx, dir); err != nil {
		return nil, fmt.Errorf("sahpool: creating pool directory %q: %w", dir, err)
	}

	p := &Pool{
		store:  store,
		dir:    dir,
		slots:  ordmap.NewBuiltin[string, *slot](),
		free:   ordmap.NewBuiltin[string, struct{}](),
		byPath: ordmap.NewBuiltin[string, string](),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	names, err := store.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("sahpool: scanning pool directory %q: %w", dir, err)
	}

	for _, name := range names {
		if err := p.adoptExisting(ctx, name); err != nil {
			p.rollback(ctx)
			return nil, err
		}
	}

	if p.Capacity() == 0 {
		if err := p.AddCapacity(ctx, defaultCapacity); err != nil {
			p.rollback(ctx)
			return nil, err
		}
	}

	p.logger.Info("pool opened", "dir", dir, "capacity", p.Capacity(), "associated", p.FileCount())
	return p, nil
}

// probeSyncCapability creates a throwaway object, acquires then closes
// a synchronous handle, and confirms the store actually supports
// AcquireSync — spec §4.3.1 step 1. A store without it (e.g.
// objectstore/httpstore) fails installation here rather than later,
// mid-scan. The probe object lives at the store's root, since the pool
// directory is only created after the probe succeeds.
func probeSyncCapability(ctx context.Context, store objectstore.Store) error {
	probeName := ".sahpool-probe-" + uuid.NewString()
	h, err := store.AcquireSync(ctx, probeName, true)
	if err != nil {
		return &capabilityMissing{reason: err.Error()}
	}
	if err := h.Close(); err != nil {
		store.Remove(ctx, probeName)
		return &capabilityMissing{reason: err.Error()}
	}
	store.Remove(ctx, probeName)
	return nil
}

type capabilityMissing struct{ reason string }

func (e *capabilityMissing) Error() string {
	return "sahpool: store does not support synchronous access handles: " + e.reason
}

// adoptExisting acquires a handle for an already-present slot file and
// classifies it via the header codec, per spec §4.3.1 steps 3-4.
func (p *Pool) adoptExisting(ctx context.Context, name string) error {
	h, err := p.store.AcquireSync(ctx, p.dir+"/"+name, false)
	if err != nil {
		return fmt.Errorf("sahpool: acquiring handle for existing slot %q: %w", name, err)
	}

	s := &slot{name: name, handle: h}
	p.slots = p.slots.Insert(name, s)

	raw := make([]byte, headerSize)
	n, _ := h.ReadAt(raw, 0)
	dec := decodeHeader(raw[:n])

	switch dec.state {
	case stateCorrupt:
		p.logger.Warn("recovered slot with corrupt header, returning it to the free set", "slot", name)
		if err := p.writeEmptyHeader(s); err != nil {
			return err
		}
		p.free = p.free.Insert(name, struct{}{})
	case stateStaleFlags:
		// The on-disk path and data region are not already clean — an
		// interrupted close (e.g. DELETEONCLOSE never reached) left them
		// behind. Dissociate for real before the slot re-enters the free
		// set, or a later associate() would hand out a "free" slot whose
		// data region still holds the previous file's bytes.
		p.logger.Warn("recovered slot with stale flags, dissociating", "slot", name, "path", dec.path)
		if err := p.writeEmptyHeader(s); err != nil {
			return err
		}
		p.free = p.free.Insert(name, struct{}{})
	case stateUnassociated:
		p.free = p.free.Insert(name, struct{}{})
	case stateAssociated:
		p.byPath = p.byPath.Insert(dec.path, name)
	}
	return nil
}

// rollback releases every handle this Pool has acquired so far. It is
// used when initialization fails partway through, per spec §4.5: "a
// failed pool-scan ... releases all acquired handles before returning".
func (p *Pool) rollback(ctx context.Context) {
	for it := p.slots.Iterate(); !it.Done(); it.Next() {
		it.GetValue().handle.Close()
	}
}

// writeEmptyHeader rewrites s's header as unassociated and truncates its
// data region to the 4KiB boundary, per spec §3's free-set invariant.
func (p *Pool) writeEmptyHeader(s *slot) error {
	hdr, err := buildHeader("", 0)
	if err != nil {
		return err
	}
	if _, err := s.handle.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("sahpool: writing empty header for slot %q: %w", s.name, err)
	}
	if err := s.handle.Truncate(headerSize); err != nil {
		return fmt.Errorf("sahpool: truncating slot %q to header boundary: %w", s.name, err)
	}
	return nil
}

// Capacity is the total number of slots this pool owns.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return countSlots(p.slots)
}

// FileCount is the number of slots currently associated with a path.
func (p *Pool) FileCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return countPaths(p.byPath)
}

// countSlots, countPaths and countFree count entries by iterating,
// rather than relying on a Size/Len method the ordmap API may or may
// not expose for every instantiation.
func countSlots(n ordmap.NodeBuiltin[string, *slot]) int {
	c := 0
	for it := n.Iterate(); !it.Done(); it.Next() {
		c++
	}
	return c
}

func countPaths(n ordmap.NodeBuiltin[string, string]) int {
	c := 0
	for it := n.Iterate(); !it.Done(); it.Next() {
		c++
	}
	return c
}

func countFree(n ordmap.NodeBuiltin[string, struct{}]) int {
	c := 0
	for it := n.Iterate(); !it.Done(); it.Next() {
		c++
	}
	return c
}

// Stats is a point-in-time snapshot of pool state, added (spec_full.md)
// so callers and tests can assert the invariants of spec §8 from
// outside the VFS.
type Stats struct {
	Capacity   int
	Free       int
	Associated int
	LastError  string
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Capacity: countSlots(p.slots), Free: countFree(p.free), Associated: countPaths(p.byPath)}
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
	}
	return s
}

// fail stashes err for later retrieval by xGetLastError (spec
// §4.3.4/§4.3.5/§7) and returns err's own code if it carries one, else
// fallback, so every I/O method can write `return p.fail(err, sqlite3.IOERR)`.
func (p *Pool) fail(err error, fallback sqlite3.ErrorCode) sqlite3.ErrorCode {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	return sqlite3.AsErrorCode(err, fallback)
}

// GetLastError implements spec §4.3.5's xGetLastError: a consume-once
// read of the stashed message.
func (p *Pool) GetLastError(buf []byte) (int, error) {
	p.mu.Lock()
	err := p.lastErr
	p.lastErr = nil
	p.mu.Unlock()
	if err == nil {
		return 0, nil
	}
	msg := err.Error()
	n := copy(buf, msg)
	if n < len(buf) {
		buf[n] = 0
	} else if len(buf) > 0 {
		buf[len(buf)-1] = 0
		n = len(buf) - 1
	}
	return n, nil
}

// AddCapacity creates n new backing slots with fresh random names and
// adds them to the free set, per spec §4.3.2.
func (p *Pool) AddCapacity(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		name := uuid.NewString()
		h, err := p.store.AcquireSync(ctx, p.dir+"/"+name, true)
		if err != nil {
			return fmt.Errorf("sahpool: creating slot %q: %w", name, err)
		}
		s := &slot{name: name, handle: h}
		if err := p.writeEmptyHeader(s); err != nil {
			h.Close()
			return err
		}

		p.mu.Lock()
		p.slots = p.slots.Insert(name, s)
		p.free = p.free.Insert(name, struct{}{})
		p.mu.Unlock()
	}
	p.logger.Info("added capacity", "count", n)
	return nil
}

// ReduceCapacity closes and removes up to n slots from the free set,
// never touching an associated slot, per spec §4.3.2/§8. It returns the
// number actually removed.
func (p *Pool) ReduceCapacity(ctx context.Context, n int) (int, error) {
	p.mu.Lock()
	var names []string
	for it := p.free.Iterate(); !it.Done() && len(names) < n; it.Next() {
		names = append(names, it.GetKey())
	}
	p.mu.Unlock()

	removed := 0
	for _, name := range names {
		p.mu.Lock()
		s, ok := p.slots.Get(name)
		p.mu.Unlock()
		if !ok {
			continue
		}
		if err := s.handle.Close(); err != nil {
			return removed, fmt.Errorf("sahpool: closing slot %q: %w", name, err)
		}
		if err := p.store.Remove(ctx, p.dir+"/"+name); err != nil {
			return removed, fmt.Errorf("sahpool: removing slot %q: %w", name, err)
		}
		p.mu.Lock()
		p.slots = p.slots.Remove(name)
		p.free = p.free.Remove(name)
		p.mu.Unlock()
		removed++
	}
	p.logger.Info("reduced capacity", "requested", n, "removed", removed)
	return removed, nil
}

// Close releases every slot handle this pool holds, without touching
// the backing objects themselves.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for it := p.slots.Iterate(); !it.Done(); it.Next() {
		if err := it.GetValue().handle.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// resolve looks up path's associated slot, if any.
func (p *Pool) resolve(path string) (*slot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.byPath.Get(path)
	if !ok {
		return nil, false
	}
	s, ok := p.slots.Get(name)
	return s, ok
}

// associate binds path to a free slot, popping one from the free set
// and rewriting its header, per spec §4.3.3. It fails with
// errPoolFull if no slot is free.
func (p *Pool) associate(path string, flags vfs.OpenFlag) (*slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	it := p.free.Iterate()
	if it.Done() {
		return nil, errPoolFull
	}
	name := it.GetKey()
	s, _ := p.slots.Get(name)

	hdr, err := buildHeader(path, flags)
	if err != nil {
		return nil, err
	}
	if _, err := s.handle.WriteAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("sahpool: associating slot %q with %q: %w", name, path, err)
	}

	p.free = p.free.Remove(name)
	p.byPath = p.byPath.Insert(path, name)
	p.logger.Debug("associated slot", "slot", name, "path", path)
	return s, nil
}

// dissociate unbinds path from its slot, returning the slot to the free
// set with an empty header and truncated data region, per spec §4.3.5
// (xDelete) and §4.3.6 (DELETEONCLOSE).
func (p *Pool) dissociate(path string) error {
	p.mu.Lock()
	name, ok := p.byPath.Get(path)
	if !ok {
		p.mu.Unlock()
		return nil // unknown paths are a silent no-op
	}
	s, _ := p.slots.Get(name)
	p.mu.Unlock()

	if err := p.writeEmptyHeader(s); err != nil {
		return err
	}

	p.mu.Lock()
	p.byPath = p.byPath.Remove(path)
	p.free = p.free.Insert(name, struct{}{})
	p.mu.Unlock()
	p.logger.Debug("dissociated slot", "slot", name, "path", path)
	return nil
}

// Access reports whether path is currently associated, spec §4.3.5's
// xAccess.
func (p *Pool) Access(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byPath.Get(path)
	return ok
}

type poolError string

func (e poolError) Error() string { return string(e) }

const errPoolFull = poolError("sahpool: pool is full, no free slot to associate")
