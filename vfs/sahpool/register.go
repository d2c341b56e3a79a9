package sahpool

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"golang.org/x/sync/singleflight"

	"github.com/tursodatabase/oosvfs/objectstore"
	"github.com/tursodatabase/oosvfs/vfs"
)

// Installed is the outcome of a successful one-shot installation.
type Installed struct {
	VFS   *VFS
	Pool  *Pool
	Bound *Bound
}

// Close releases the wazero runtime backing Bound, and the resources
// that hang off it (installed host functions, hosted linear memory).
// It does not close Pool: the pool's lifetime is the process's, managed
// by its own Close method.
func (i *Installed) Close(ctx context.Context) error {
	return i.Bound.runtime.Close(ctx)
}

// Installer performs the one-shot, outcome-caching installation
// lifecycle of spec §4.5: "installation is one-shot per process ...
// installation attempts after the first return a cached terminal
// outcome". A zero Installer is ready to use.
type Installer struct {
	group singleflight.Group

	mu     sync.Mutex
	done   bool
	result *Installed
	err    error
}

// Install registers name against a Pool opened over store, or returns
// the cached outcome of whichever call actually performed it. It is
// safe to call concurrently and repeatedly; only the first caller's
// work happens, per singleflight.Group's own de-duplication plus the
// cached-forever terminal outcome spec §4.5 additionally requires
// (singleflight alone only de-dupes calls still in flight).
func (i *Installer) Install(ctx context.Context, name string, store objectstore.Store, dir string, defaultCapacity int) (*Installed, error) {
	i.mu.Lock()
	if i.done {
		result, err := i.result, i.err
		i.mu.Unlock()
		return result, err
	}
	i.mu.Unlock()

	v, err, _ := i.group.Do("install", func() (any, error) {
		pool, err := Open(ctx, store, dir, defaultCapacity)
		if err != nil {
			return nil, err
		}
		impl := New(pool)
		vfs.Register(name, impl)

		// Project impl's method table onto a real wazero-hosted module so
		// it is reachable the way the engine's own FFI trampoline (an
		// external collaborator, spec §6.4) would expect to find it.
		runtime := wazero.NewRuntime(ctx)
		bound, err := BindVFS(ctx, runtime, impl)
		if err != nil {
			runtime.Close(ctx)
			return nil, err
		}

		return &Installed{VFS: impl, Pool: pool, Bound: bound}, nil
	})

	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.done {
		i.done = true
		i.err = err
		if err == nil {
			i.result = v.(*Installed)
		}
	}
	return i.result, i.err
}

// DefaultInstaller is the process-wide installer used by [Install].
var DefaultInstaller Installer

// Install is a convenience wrapper around DefaultInstaller.Install.
func Install(ctx context.Context, name string, store objectstore.Store, dir string, defaultCapacity int) (*Installed, error) {
	return DefaultInstaller.Install(ctx, name, store, dir, defaultCapacity)
}
