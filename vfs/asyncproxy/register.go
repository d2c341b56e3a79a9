package asyncproxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tursodatabase/oosvfs/objectstore"
	"github.com/tursodatabase/oosvfs/vfs"
)

// handshakeTimeout bounds the only timed step in Strategy B, spec
// §4.4.5's "installs a startup timer (e.g. 4s) that rejects
// initialization on expiry".
const handshakeTimeout = 4 * time.Second

// Installer performs the one-shot, outcome-caching installation
// lifecycle of spec §4.5, the Strategy B counterpart of
// vfs/sahpool.Installer: only one worker goroutine and one VFS
// registration may exist per name, so every call after the first
// returns the original terminal outcome instead of starting a second
// worker.
type Installer struct {
	group singleflight.Group

	mu     sync.Mutex
	done   bool
	result *VFS
	err    error
}

// Install starts the worker over store, waits for it to report ready
// (the spec's "opfs-async-loaded"/"opfs-async-inited" handshake,
// collapsed here to "the worker goroutine has started and is waiting on
// WHICH_OP"), registers the resulting VFS under name, and caches the
// outcome for every subsequent call.
func (i *Installer) Install(ctx context.Context, name string, store objectstore.Store) (*VFS, error) {
	i.mu.Lock()
	if i.done {
		result, err := i.result, i.err
		i.mu.Unlock()
		return result, err
	}
	i.mu.Unlock()

	v, err, _ := i.group.Do("install", func() (any, error) {
		impl := New(ctx, store)
		if err := impl.awaitHandshake(handshakeTimeout); err != nil {
			impl.Close()
			return nil, err
		}
		vfs.Register(name, impl)
		return impl, nil
	})

	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.done {
		i.done = true
		i.err = err
		if err == nil {
			i.result = v.(*VFS)
		}
	}
	return i.result, i.err
}

// awaitHandshake confirms the worker goroutine is live by round-tripping
// a no-op xAccess on an empty path, the async analogue of waiting for
// the browser worker's "loaded"/"inited" messages before trusting the
// shared state.
func (v *VFS) awaitHandshake(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		v.Access("", 0)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("asyncproxy: startup handshake timed out after %s", timeout)
	}
}

// DefaultInstaller is the process-wide installer used by [Install].
var DefaultInstaller Installer

// Install is a convenience wrapper around DefaultInstaller.Install.
func Install(ctx context.Context, name string, store objectstore.Store) (*VFS, error) {
	return DefaultInstaller.Install(ctx, name, store)
}
