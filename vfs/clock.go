package vfs

import (
	"crypto/rand"
	"time"

	"github.com/ncruces/julianday"
)

// CurrentTime returns the current time as a Julian day number, the value
// xCurrentTime must report (spec §4.3.5). The fixed epoch offset named in
// spec §3 (2440587.5) is exactly what julianday.Float64 computes; we
// reuse the teacher's own dependency instead of reimplementing it.
func CurrentTime() float64 {
	return julianday.Float64(time.Now())
}

// CurrentTimeInt64 returns the current time as Julian-day milliseconds,
// the value xCurrentTimeInt64 must report.
func CurrentTimeInt64() int64 {
	return julianday.Int64(time.Now())
}

// DefaultRandomness fills p with cryptographically-sourced random bytes.
// It is the fallback spec §4.3.5 describes for a VFS without its own
// xRandomness: "inherited from the default VFS if available, else a
// uniform per-byte generator".
func DefaultRandomness(p []byte) int {
	n, _ := rand.Read(p)
	return n
}

// DefaultSleep is the fallback spec §4.3.5 describes for a VFS without
// its own xSleep: a no-op, since there is no "default VFS" underneath a
// Go process to inherit a real sleep from.
func DefaultSleep(micros int64) error {
	return nil
}
