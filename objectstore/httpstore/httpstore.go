// Package httpstore implements a read-only [objectstore.Store] backed
// by HTTP range requests, using github.com/psanford/httpreadat. Every
// operation genuinely crosses the network, so this backend cannot offer
// AcquireSync (there is no way to hold a remote "exclusive handle" open
// indefinitely over plain HTTP) — it is the concrete motivation for
// Strategy B's async-proxy VFS existing at all: a backend whose async
// latency is real, not simulated.
package httpstore

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/psanford/httpreadat"
	"github.com/tursodatabase/oosvfs/objectstore"
)

// Store resolves object names to URLs by joining them onto baseURL.
type Store struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, client *http.Client) *Store {
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

func (s *Store) url(name string) string {
	return s.baseURL + "/" + strings.TrimPrefix(name, "/")
}

func (s *Store) Stat(_ context.Context, name string) (int64, bool, error) {
	ra := httpreadat.NewClient(s.client, s.url(name))
	size, err := ra.Size()
	if err != nil {
		return 0, false, nil
	}
	return size, true, nil
}

func (s *Store) List(context.Context, string) ([]string, error) {
	return nil, fmt.Errorf("httpstore: directory listing is not supported over plain HTTP")
}

func (s *Store) MkdirAll(context.Context, string) error {
	return fmt.Errorf("httpstore: read-only store")
}

func (s *Store) Remove(context.Context, string) error {
	return fmt.Errorf("httpstore: read-only store")
}

// ReadAt performs a single HTTP range read. It is the only one of the
// three primary async operations this backend can actually serve — the
// whole reason Strategy B's worker is written against these three
// methods rather than against AcquireSync.
func (s *Store) ReadAt(_ context.Context, name string, p []byte, off int64) (int, error) {
	return s.ReaderAt(name).ReadAt(p, off)
}

func (s *Store) WriteAt(context.Context, string, []byte, int64) (int, error) {
	return 0, fmt.Errorf("httpstore: read-only store")
}

func (s *Store) Truncate(context.Context, string, int64) error {
	return fmt.Errorf("httpstore: read-only store")
}

func (s *Store) AcquireSync(context.Context, string, bool) (objectstore.SyncHandle, error) {
	return nil, &objectstore.CapabilityError{
		Op:     "AcquireSync",
		Reason: "httpstore is range-request backed and cannot hold an exclusive remote handle open",
	}
}

// ReaderAt returns a range-request io.ReaderAt over name, for callers
// that want to drive reads directly without going through AcquireSync.
// Store.ReadAt above is built on it.
func (s *Store) ReaderAt(name string) *httpreadat.HTTPReaderAt {
	return httpreadat.NewClient(s.client, s.url(name))
}
