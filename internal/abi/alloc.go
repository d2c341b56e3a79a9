package abi

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// ModuleAllocator is an [Allocator] backed by a sandboxed module's own
// exported allocator functions (e.g. sqlite3_malloc/sqlite3_free). It is
// a thin adapter, not the pstack itself: the pstack (spec §6.4) is the
// collaborator's own short-term, stack-discipline allocator; this type
// only needs to present it as the narrow Alloc/Free shape package abi
// requires.
type ModuleAllocator struct {
	malloc api.Function
	free   api.Function
}

func NewModuleAllocator(mod api.Module, mallocName, freeName string) (*ModuleAllocator, error) {
	malloc := mod.ExportedFunction(mallocName)
	if malloc == nil {
		return nil, fmt.Errorf("abi: module has no exported %q", mallocName)
	}
	free := mod.ExportedFunction(freeName)
	if free == nil {
		return nil, fmt.Errorf("abi: module has no exported %q", freeName)
	}
	return &ModuleAllocator{malloc: malloc, free: free}, nil
}

func (a *ModuleAllocator) Alloc(ctx context.Context, size uint32) (uint32, error) {
	res, err := a.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("abi: alloc %d bytes: %w", size, err)
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return 0, fmt.Errorf("abi: alloc %d bytes: module allocator returned null", size)
	}
	return ptr, nil
}

func (a *ModuleAllocator) Free(ctx context.Context, ptr uint32) {
	if ptr == 0 {
		return
	}
	a.free.Call(ctx, uint64(ptr))
}
