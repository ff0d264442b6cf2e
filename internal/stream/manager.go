// Package stream implements incremental playback of assets that are too
// large or too short-lived to cache whole. Each open session pairs a fixed
// ring buffer with a background decode task; the render thread reads from
// the ring and never blocks.
package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// OpenFunc opens a decode source for an asset key.
type OpenFunc func(key string) (Source, error)

// Manager owns all live stream sessions and enforces the concurrent
// stream limit.
type Manager struct {
	mu       sync.Mutex
	sessions map[ID]*Session
	nextID   ID

	maxStreams int
	ringFrames int
	open       OpenFunc

	logger         *log.Logger
	underrunLogLim *rate.Limiter
	loggedUnderrun uint64

	wg sync.WaitGroup
}

// NewManager creates a stream manager. ringFrames must be a power of two;
// the config layer validates that before construction.
func NewManager(maxStreams, ringFrames int, open OpenFunc, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		sessions:       make(map[ID]*Session),
		maxStreams:     maxStreams,
		ringFrames:     ringFrames,
		open:           open,
		logger:         logger,
		underrunLogLim: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Open starts a stream session for key. It fails without leaking a ring
// when the concurrent stream limit is reached, and blocks the (non-RT)
// caller until the first ring fill has completed or failed.
func (m *Manager) Open(key string) (*Session, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.maxStreams {
		m.mu.Unlock()
		return nil, fmt.Errorf("open %q: %w", key, ErrLimitExceeded)
	}

	src, err := m.open(key)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("open %q: %w", key, err)
	}

	ring, err := NewRing(m.ringFrames)
	if err != nil {
		m.mu.Unlock()
		src.Close()
		return nil, err
	}

	m.nextID++
	s := newSession(m.nextID, key, ring)
	s.transition(StateIdle, StateOpening)
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.fill(src)
	}()

	<-s.firstFill
	if s.fillErr != nil {
		m.remove(s.id)
		return nil, fmt.Errorf("open %q: %w: %v", key, ErrDecodeFailed, s.fillErr)
	}

	m.logger.Debug("stream opened", "id", s.id, "key", key, "ring_frames", m.ringFrames)
	return s, nil
}

// Get resolves a session id.
func (m *Manager) Get(id ID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close marks a session for teardown. The decode task stops, the render
// thread drains the remaining frames, and the sweep reclaims the session
// once the render thread has detached.
func (m *Manager) Close(id ID) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.RequestClose()
	return nil
}

// Sweep reclaims sessions that are Closed and no longer referenced by the
// render thread. Called periodically from the engine's maintenance loop,
// never from the render path.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	var dead []ID
	for id, s := range m.sessions {
		if s.Closed() && s.rtDetached.Load() {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, id := range dead {
		m.logger.Debug("stream reclaimed", "id", id)
	}
	return len(dead)
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Underruns sums underrun counts across live sessions.
func (m *Manager) Underruns() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, s := range m.sessions {
		total += s.Underruns()
	}
	return total
}

// LogUnderruns emits a throttled warning when new underruns appeared since
// the last call. Diagnostics only; playback already degraded to silence.
func (m *Manager) LogUnderruns() {
	total := m.Underruns()
	if total > m.loggedUnderrun && m.underrunLogLim.Allow() {
		m.logger.Warn("stream underruns", "total", total, "new", total-m.loggedUnderrun)
		m.loggedUnderrun = total
	}
}

// CloseAll requests teardown of every session and waits for the decode
// tasks to exit. Used on engine shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	for _, s := range m.sessions {
		s.RequestClose()
		s.Detach()
	}
	m.mu.Unlock()
	m.wg.Wait()
	m.mu.Lock()
	m.sessions = make(map[ID]*Session)
	m.mu.Unlock()
}

func (m *Manager) remove(id ID) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
