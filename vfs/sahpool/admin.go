package sahpool

import (
	"fmt"
	"io"

	"github.com/tursodatabase/oosvfs/vfs"
)

// ImportDB associates path with a slot (reusing one if already
// associated, else popping a free one) and writes data as its entire
// data region, per spec §4.3.6. It is a supplemented feature: spec.md
// names import_db/export_db/unlink as part of the post-open
// administration surface but does not spell out their exact mechanics.
func (p *Pool) ImportDB(path string, data []byte) error {
	s, ok := p.resolve(path)
	if !ok {
		var err error
		s, err = p.associate(path, vfs.OPEN_MAIN_DB|vfs.OPEN_CREATE|vfs.OPEN_READWRITE)
		if err != nil {
			return fmt.Errorf("sahpool: import_db %q: %w", path, err)
		}
	}

	if err := s.handle.Truncate(HeaderOffsetData); err != nil {
		return fmt.Errorf("sahpool: import_db %q: resetting data region: %w", path, err)
	}
	if _, err := s.handle.WriteAt(data, HeaderOffsetData); err != nil {
		return fmt.Errorf("sahpool: import_db %q: %w", path, err)
	}
	return nil
}

// ExportDB streams path's raw data region back out, with no header
// prefix — the bytes a file copy of the underlying database would
// contain.
func (p *Pool) ExportDB(path string) ([]byte, error) {
	s, ok := p.resolve(path)
	if !ok {
		return nil, fmt.Errorf("sahpool: export_db %q: not associated", path)
	}
	sz, err := s.handle.Size()
	if err != nil {
		return nil, fmt.Errorf("sahpool: export_db %q: %w", path, err)
	}

	out := make([]byte, sz-HeaderOffsetData)
	n, err := s.handle.ReadAt(out, HeaderOffsetData)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("sahpool: export_db %q: %w", path, err)
	}
	return out[:n], nil
}

// Unlink is xDelete exposed as a public administration method.
func (p *Pool) Unlink(path string) error {
	return p.dissociate(path)
}
