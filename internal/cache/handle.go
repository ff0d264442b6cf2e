package cache

import "sync/atomic"

// Handle is a client's reference to a cached asset. A handle created on a
// cache miss starts pending and resolves asynchronously once the decode
// worker finishes; the render thread treats a pending handle as silence.
//
// Each handle holds one pin on its entry from resolution until Release.
type Handle struct {
	key   string
	asset atomic.Pointer[Asset]
	entry atomic.Pointer[entry]
	err   error
	done  chan struct{}
}

func newHandle(key string) *Handle {
	return &Handle{key: key, done: make(chan struct{})}
}

// Key returns the asset key this handle refers to.
func (h *Handle) Key() string { return h.key }

// Asset returns the decoded asset, or nil while the load is pending or
// after it failed. Safe from the render thread: a single atomic load.
func (h *Handle) Asset() *Asset { return h.asset.Load() }

// Done is closed when the load has resolved, successfully or not.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the load error, if any. Valid after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *Handle) resolve(a *Asset, e *entry) {
	h.entry.Store(e)
	h.asset.Store(a)
	close(h.done)
}

func (h *Handle) fail(err error) {
	h.err = err
	close(h.done)
}
