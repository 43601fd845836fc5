package id

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// NewRun returns a run id that sorts by creation time, e.g.
// 20261019T120000-1a2b3c4d.
func NewRun() string {
	return newRunAt(time.Now())
}

func newRunAt(t time.Time) string {
	stamp := t.UTC().Format("20060102T150405")
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return stamp + "-00000000"
	}
	return stamp + "-" + hex.EncodeToString(b[:])
}
