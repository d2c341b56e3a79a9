// Package abi implements the struct-binder: it projects the engine's C
// struct layouts (file, io_methods, vfs) onto the sandboxed module's
// linear memory, and installs host functions so the module can call
// back into Go.
//
// The actual conversion of a Go closure into a C-callable pointer is the
// job of the FFI/trampoline layer, an external collaborator
// (spec §1, §6.4) represented here only by the [FunctionInstaller]
// interface; [WazeroInstaller] is this repository's concrete default,
// built on the same wazero runtime the teacher repo hosts its compiled
// SQLite module with.
package abi

import (
	"context"
	"fmt"
)

// Kind names one of the C struct layouts the binder knows how to lay
// out, per spec §4.1.
type Kind int

const (
	KindFile Kind = iota
	KindIOMethods
	KindVFS
	KindValue
	KindContext
	KindIndexInfo
)

// layoutSize is the host-memory footprint struct_of allocates for a
// fresh instance of each kind, mirroring the matching C struct's
// sizeof. These are deliberately generous/round: the binder's job is to
// reserve a stable region the caller's Set/Get calls index into, not to
// bit-pack it.
var layoutSize = map[Kind]uint32{
	KindFile:      64,
	KindIOMethods: 96,
	KindVFS:       128,
	KindValue:     32,
	KindContext:   16,
	KindIndexInfo: 160,
}

// Memory is the narrow slice of the module's linear memory the binder
// needs: byte-addressable read/write at arbitrary offsets. wazero's
// api.Memory satisfies this directly.
type Memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// Allocator is the pstack-style short-term allocator named in spec
// §6.4: a stack-discipline allocator for marshaling output parameters.
// struct_of uses it to obtain memory for structs it allocates instead
// of wrapping an existing address.
type Allocator interface {
	Alloc(ctx context.Context, size uint32) (ptr uint32, err error)
	Free(ctx context.Context, ptr uint32)
}

// FunctionInstaller is the named-but-unspecified FFI/trampoline
// collaborator (spec §6.4): it turns a Go function into something the
// sandboxed module's function table can call, and back out again.
type FunctionInstaller interface {
	// Install binds fn as a callable entry and returns its function-table
	// index. index 0 is never returned for a successful Install.
	Install(fn any) (index uint32, err error)
	// Uninstall releases a previously Install-ed index. It must be safe
	// to call at most once per successful Install.
	Uninstall(index uint32) error
	// ValidIndex reports whether index names a currently-live entry,
	// used by SetMethod to validate a caller-supplied raw index.
	ValidIndex(index uint32) bool
}

// cleanup is one entry in a Handle's LIFO dispose list.
type cleanup func()

// Handle is a host-language handle onto a struct instance living in the
// module's linear memory: either one the binder allocated itself, or an
// existing address the caller already has (e.g. a pointer the engine
// passed into a trampoline).
//
// Handle.dispose runs its cleanups last-registered-first, which is what
// makes struct_of/set_method/dispose safe to nest: a VFS's io_methods
// sub-struct is disposed before the VFS struct that embeds it, because
// it was bound after.
type Handle struct {
	kind Kind
	mem  Memory
	base uint32
	size uint32
	self bool // true if struct_of allocated this memory and owns freeing it

	installer FunctionInstaller
	alloc     Allocator
	ctx       context.Context

	cleanups []cleanup
	disposed bool
}

// StructOf wraps an existing address (ptr != 0) or allocates a fresh
// zeroed instance of kind (ptr == 0), per spec §4.1's struct_of.
func StructOf(ctx context.Context, mem Memory, alloc Allocator, installer FunctionInstaller, kind Kind, ptr uint32) (*Handle, error) {
	size := layoutSize[kind]
	if ptr != 0 {
		return &Handle{kind: kind, mem: mem, base: ptr, size: size, installer: installer, alloc: alloc, ctx: ctx}, nil
	}

	base, err := alloc.Alloc(ctx, size)
	if err != nil {
		return nil, fmt.Errorf("abi: struct_of(%v): %w", kind, err)
	}
	zero := make([]byte, size)
	if !mem.Write(base, zero) {
		alloc.Free(ctx, base)
		return nil, fmt.Errorf("abi: struct_of(%v): zeroing new instance out of bounds", kind)
	}
	h := &Handle{kind: kind, mem: mem, base: base, size: size, self: true, installer: installer, alloc: alloc, ctx: ctx}
	return h, nil
}

// Ptr is the struct's address in the module's linear memory.
func (h *Handle) Ptr() uint32 { return h.base }

// SetMethod installs fn (a host function, or an already-installed
// function-table index when fn is a uint32) at byte offset member
// within the struct. For a host function it installs fn and schedules
// its uninstallation for dispose time; a raw index is validated and
// written as is, with no uninstallation scheduled for it.
// Passing index 0 writes a null entry and installs nothing, matching
// spec §4.1: "0 ⇒ null".
func (h *Handle) SetMethod(member uint32, fn any) error {
	var index uint32
	switch v := fn.(type) {
	case uint32:
		if v != 0 {
			if !h.installer.ValidIndex(v) {
				return fmt.Errorf("abi: SetMethod: index %d is not a live function-table entry", v)
			}
		}
		index = v
	default:
		idx, err := h.installer.Install(fn)
		if err != nil {
			return fmt.Errorf("abi: SetMethod: installing method at offset %d: %w", member, err)
		}
		index = idx
		h.cleanups = append(h.cleanups, func() { h.installer.Uninstall(idx) })
	}

	var buf [4]byte
	buf[0] = byte(index)
	buf[1] = byte(index >> 8)
	buf[2] = byte(index >> 16)
	buf[3] = byte(index >> 24)
	if !h.mem.Write(h.base+member, buf[:]) {
		return fmt.Errorf("abi: SetMethod: offset %d out of bounds for %v", member, h.kind)
	}
	return nil
}

// Adopt registers an additional cleanup to run when h is disposed, in
// particular for chaining a sub-struct's Handle (e.g. io_methods bound
// inside a file's Handle) so it is disposed before its parent.
func (h *Handle) Adopt(sub *Handle) {
	h.cleanups = append(h.cleanups, func() { sub.Dispose() })
}

// FreeCString schedules freeing a C string previously written into this
// struct's memory, matching spec §4.1's "free C-string fields".
func (h *Handle) FreeCString(ptr uint32) {
	h.cleanups = append(h.cleanups, func() { h.alloc.Free(h.ctx, ptr) })
}

// Dispose runs every registered cleanup in LIFO order, then frees the
// struct's own memory if struct_of allocated it. Dispose is idempotent:
// calling it twice runs the cleanups once.
func (h *Handle) Dispose() {
	if h.disposed {
		return
	}
	h.disposed = true
	for i := len(h.cleanups) - 1; i >= 0; i-- {
		h.cleanups[i]()
	}
	if h.self {
		h.alloc.Free(h.ctx, h.base)
	}
}
