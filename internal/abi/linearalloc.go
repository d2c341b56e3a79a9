package abi

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
)

// LinearAllocator is an [Allocator] that claims raw, never-reclaimed
// space directly from a module's own exported linear memory, growing
// it via api.Memory.Grow as needed. Use it against a host module that
// exports memory but has no malloc/free of its own to delegate to —
// see [ModuleAllocator] for the case where the module does. Free never
// returns space: memory handed out for a struct that is later disposed
// (such as the file struct vfs/sahpool's binding allocates on every
// xOpen and disposes on xClose) is not reused, so the claimed region
// only grows.
type LinearAllocator struct {
	mod api.Module

	mu   sync.Mutex
	next uint32
}

// NewLinearAllocator returns a LinearAllocator over mod's own exported
// memory.
func NewLinearAllocator(mod api.Module) *LinearAllocator {
	return &LinearAllocator{mod: mod, next: 8} // keep 0 reserved as "null"
}

const linearAllocAlign = 8

func (a *LinearAllocator) Alloc(_ context.Context, size uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ptr := (a.next + linearAllocAlign - 1) &^ (linearAllocAlign - 1)
	need := ptr + size

	mem := a.mod.Memory()
	if need > mem.Size() {
		deltaBytes := need - mem.Size()
		deltaPages := (deltaBytes + 65535) / 65536
		if _, ok := mem.Grow(deltaPages); !ok {
			return 0, fmt.Errorf("abi: linear allocator: growing memory by %d page(s) failed", deltaPages)
		}
	}

	a.next = need
	return ptr, nil
}

// Free is a no-op: see the type doc comment.
func (a *LinearAllocator) Free(context.Context, uint32) {}
