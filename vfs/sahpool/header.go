package sahpool

import (
	"encoding/binary"

	"github.com/tursodatabase/oosvfs/vfs"
)

// Fixed header layout, bit-exact per spec §3/§6.2.
const (
	headerOffsetPath  = 0
	headerPathSize    = 512
	headerOffsetFlags = 512
	headerFlagsSize   = 4
	headerOffsetDigest = 516
	headerDigestSize   = 8
	headerSize         = 4096 // sector_size; offset where the data region begins

	// digestedSize is the number of leading header bytes the digest
	// covers: the path field plus the flags field, [0, 516).
	digestedSize = headerOffsetDigest
)

// HeaderOffsetData is the byte offset where a slot's engine-visible data
// region begins.
const HeaderOffsetData = headerSize

// decodedState is the result of decoding a slot's header.
type decodedState int

const (
	// stateCorrupt is a header whose digest doesn't match its corpus:
	// a torn write or bit flip, per spec §4.2/§9.
	stateCorrupt decodedState = iota
	// stateUnassociated is a slot already clean on disk: byte[0] of the
	// path field is NUL, spec §3's "free slot" encoding.
	stateUnassociated
	// stateStaleFlags is a slot whose digest checks out and whose path
	// field is non-empty, but whose flags are unrecognized or carry
	// DELETEONCLOSE — spec §4.2's "treated as Unassociated and the slot
	// is dissociated (header rewritten with empty path, data truncated)"
	// (spec §9's conservative reading of the ambiguous drafts rule).
	// Unlike stateUnassociated, the on-disk path and data region are not
	// already clean and must be rewritten before the slot re-enters the
	// free set.
	stateStaleFlags
	stateAssociated
)

type decoded struct {
	state decodedState
	path  string
	flags vfs.OpenFlag
}

// encodeHeader produces the 516-byte digested corpus for (path, flags):
// the 512-byte NUL-padded path followed by the little-endian flags word.
// It errors if path's UTF-8 encoding would not fit, including exactly
// filling all 512 bytes (spec §8: "encoded path of exactly 512 bytes:
// rejected").
func encodeHeader(path string, flags vfs.OpenFlag) ([digestedSize]byte, error) {
	var corpus [digestedSize]byte
	b := []byte(path)
	if len(b) >= headerPathSize {
		return corpus, errPathTooLong
	}
	copy(corpus[headerOffsetPath:], b)
	binary.LittleEndian.PutUint32(corpus[headerOffsetFlags:], uint32(flags))
	return corpus, nil
}

// digestHeader computes the two-word fingerprint over corpus, per spec
// §4.2. It is deliberately weak: a fingerprint to catch torn writes and
// bit flips, not a MAC, and must be reproduced bit-exactly to remain
// on-disk compatible with any other implementation of this layout.
func digestHeader(corpus []byte) (uint64, uint64) {
	h0, h1 := uint32(0xDEADBEEF), uint32(0x41C6CE57)
	for _, b := range corpus {
		h0 = 31*h0 + 307*uint32(b)
		h1 = 31*h1 + 307*uint32(b)
	}
	return uint64(h0), uint64(h1)
}

// buildHeader encodes (path, flags) and appends the digest and
// reserved-zero tail, producing the full 4096-byte preamble to write to
// a slot.
func buildHeader(path string, flags vfs.OpenFlag) ([headerSize]byte, error) {
	var out [headerSize]byte
	corpus, err := encodeHeader(path, flags)
	if err != nil {
		return out, err
	}
	copy(out[:digestedSize], corpus[:])
	h0, h1 := digestHeader(corpus[:])
	binary.LittleEndian.PutUint32(out[headerOffsetDigest:], uint32(h0))
	binary.LittleEndian.PutUint32(out[headerOffsetDigest+4:], uint32(h1))
	// out[524:4096] stays zero: reserved, per spec §6.2/§9.
	return out, nil
}

// decodeHeader parses a 4096-byte preamble previously produced by
// buildHeader, per spec §4.2.
func decodeHeader(raw []byte) decoded {
	if len(raw) < headerSize {
		return decoded{state: stateCorrupt}
	}

	corpus := raw[:digestedSize]
	wantH0 := binary.LittleEndian.Uint32(raw[headerOffsetDigest:])
	wantH1 := binary.LittleEndian.Uint32(raw[headerOffsetDigest+4:])
	gotH0, gotH1 := digestHeader(corpus)
	if uint32(gotH0) != wantH0 || uint32(gotH1) != wantH1 {
		return decoded{state: stateCorrupt}
	}

	if raw[0] == 0 {
		return decoded{state: stateUnassociated}
	}

	end := headerOffsetPath
	for end < headerPathSize && raw[end] != 0 {
		end++
	}
	path := string(raw[headerOffsetPath:end])
	flags := vfs.OpenFlag(binary.LittleEndian.Uint32(raw[headerOffsetFlags:]))

	// Unrecognized flag combinations are treated as unassociated and the
	// slot is dissociated on reload (spec §4.2, the conservative reading
	// of the ambiguous-in-the-drafts rule recorded in spec §9). The path
	// is still on disk, so the caller must rewrite the header rather than
	// simply reclassify it.
	if flags&vfs.Persistent == 0 || flags&vfs.OPEN_DELETEONCLOSE != 0 {
		return decoded{state: stateStaleFlags, path: path, flags: flags}
	}

	return decoded{state: stateAssociated, path: path, flags: flags}
}

type headerError string

func (e headerError) Error() string { return string(e) }

const errPathTooLong = headerError("sahpool: encoded path does not fit in the 512-byte header field")
