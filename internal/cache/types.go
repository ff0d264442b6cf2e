package cache

import "errors"

// Errors for cache operations.
var (
	// ErrExhausted is returned when the budget cannot be honored even
	// after evicting every unpinned entry. The offending asset is not
	// admitted.
	ErrExhausted = errors.New("cache budget exhausted")

	// ErrNotFound is returned when a key is not resident.
	ErrNotFound = errors.New("asset not cached")

	// ErrDecodeFailed wraps decode errors surfaced through load handles.
	ErrDecodeFailed = errors.New("asset decode failed")
)

// Asset is an immutable, fully decoded audio asset: interleaved stereo
// float32 samples at the engine sample rate. Shared by reference among all
// voices playing it.
type Asset struct {
	Key        string
	SampleRate int
	Frames     int
	Samples    []float32 // len == Frames*2
}

// SizeBytes returns the resident size charged against the budget.
func (a *Asset) SizeBytes() int64 {
	return int64(len(a.Samples)) * 4
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	BytesUsed int64
	Budget    int64
	Entries   int
	Evictions uint64
	Hits      uint64
	Misses    uint64

	// ContendedTouches counts render-thread recency updates skipped
	// because the cache lock was held elsewhere.
	ContendedTouches uint64
}

// FileInfo describes one resident entry, most-recently-used first.
type FileInfo struct {
	Key    string
	Bytes  int64
	Pinned bool
}
