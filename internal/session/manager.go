package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"roster/internal/attendance"
	"roster/internal/metrics"
	"roster/internal/store"
)

// Collection names used in blob keys.
const (
	Courses    = "courses"
	Students   = "students"
	Attendance = "attendance"
)

// DefaultInterval is how often an active session is written back.
const DefaultInterval = 5 * time.Second

// Session is the roster of one signed-in identity plus its snapshot loop.
type Session struct {
	Identity string
	Roster   *attendance.Roster

	blob     store.Blob
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}

	now      func() time.Time
	gate     sync.RWMutex
	closed   bool
	lastUsed atomic.Int64
}

// ErrReleased is returned by Enter once the session has been released.
var ErrReleased = errors.New("session released")

// slot is a manager entry. busy is non-nil while the session is loading or
// closing and is closed when that transition ends.
type slot struct {
	s    *Session
	busy chan struct{}
}

// Manager scopes rosters to identities and owns their snapshot loops.
type Manager struct {
	blob     store.Blob
	interval time.Duration
	opts     attendance.Options
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*slot
}

// NewManager creates a manager writing to blob every interval.
func NewManager(blob store.Blob, interval time.Duration, opts attendance.Options) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Manager{
		blob:     blob,
		interval: interval,
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*slot),
	}
}

// Acquire loads the identity's collections and starts snapshotting them.
// An already active session is returned as is. While the identity is
// being loaded or released, Acquire waits for that to finish first.
func (m *Manager) Acquire(ctx context.Context, identity string) (*Session, error) {
	if identity == "" {
		return nil, errors.New("identity required")
	}
	for {
		m.mu.Lock()
		sl, ok := m.sessions[identity]
		if ok && sl.busy == nil {
			sl.s.touch(m.now())
			m.mu.Unlock()
			return sl.s, nil
		}
		if ok {
			m.mu.Unlock()
			if err := wait(ctx, sl.busy); err != nil {
				return nil, err
			}
			continue
		}
		busy := make(chan struct{})
		m.sessions[identity] = &slot{busy: busy}
		m.mu.Unlock()

		s, err := m.open(ctx, identity)

		m.mu.Lock()
		if err != nil {
			delete(m.sessions, identity)
		} else {
			m.sessions[identity] = &slot{s: s}
		}
		close(busy)
		m.mu.Unlock()
		return s, err
	}
}

func (m *Manager) open(ctx context.Context, identity string) (*Session, error) {
	snap, err := load(ctx, m.blob, identity)
	if err != nil {
		return nil, err
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		Identity: identity,
		Roster:   attendance.FromSnapshot(snap, m.opts),
		blob:     m.blob,
		interval: m.interval,
		cancel:   cancel,
		done:     make(chan struct{}),
		now:      m.now,
	}
	s.touch(m.now())
	go s.run(loopCtx)
	metrics.ActiveSessions.Inc()
	log.Printf("session %s loaded: %d courses, %d students, %d lectures",
		identity, len(snap.Courses), len(snap.Students), len(snap.Attendance))
	return s, nil
}

// Enter acquires the identity's session and pins it until leave is called.
// A session released between the two steps is replaced by a fresh one.
func (m *Manager) Enter(ctx context.Context, identity string) (*Session, func(), error) {
	for {
		s, err := m.Acquire(ctx, identity)
		if err != nil {
			return nil, nil, err
		}
		leave, err := s.Enter()
		if errors.Is(err, ErrReleased) {
			continue
		}
		return s, leave, nil
	}
}

// Get returns the active session of identity.
func (m *Manager) Get(identity string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.sessions[identity]
	if !ok || sl.busy != nil {
		return nil, false
	}
	return sl.s, true
}

// Release stops the identity's snapshot loop and writes its state one last
// time. Releasing an inactive identity is a no-op. The identity stays
// reserved until the final write is done, so a concurrent Acquire loads
// the flushed state.
func (m *Manager) Release(ctx context.Context, identity string) error {
	_, err := m.release(ctx, identity, time.Time{})
	return err
}

// release skips sessions used after idleSince when idleSince is set.
func (m *Manager) release(ctx context.Context, identity string, idleSince time.Time) (bool, error) {
	for {
		m.mu.Lock()
		sl, ok := m.sessions[identity]
		if !ok {
			m.mu.Unlock()
			return false, nil
		}
		if sl.busy != nil {
			m.mu.Unlock()
			if err := wait(ctx, sl.busy); err != nil {
				return false, err
			}
			if !idleSince.IsZero() {
				return false, nil
			}
			continue
		}
		if !idleSince.IsZero() && sl.s.LastUsed().After(idleSince) {
			m.mu.Unlock()
			return false, nil
		}
		busy := make(chan struct{})
		m.sessions[identity] = &slot{s: sl.s, busy: busy}
		m.mu.Unlock()

		s := sl.s
		s.seal()
		s.stop()
		err := s.Flush(ctx)

		m.mu.Lock()
		delete(m.sessions, identity)
		close(busy)
		m.mu.Unlock()
		metrics.ActiveSessions.Dec()
		return true, err
	}
}

// EvictIdle releases every session not used within ttl and returns how
// many were released.
func (m *Manager) EvictIdle(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := m.now().Add(-ttl)
	m.mu.Lock()
	var ids []string
	for id, sl := range m.sessions {
		if sl.busy == nil && !sl.s.LastUsed().After(cutoff) {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var errs []error
	n := 0
	for _, id := range ids {
		released, err := m.release(ctx, id, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", id, err))
		}
		if released {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// Sweep runs EvictIdle every interval until ctx is cancelled.
func (m *Manager) Sweep(ctx context.Context, ttl, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := m.EvictIdle(ctx, ttl)
			if err != nil {
				log.Printf("evict idle sessions: %v", err)
			}
			if n > 0 {
				log.Printf("evicted %d idle sessions", n)
			}
		}
	}
}

// Close releases every active session.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Release(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enter pins the session for one unit of work. Release waits for pinned
// work to leave before the final write; after that Enter returns
// ErrReleased.
func (s *Session) Enter() (leave func(), err error) {
	s.gate.RLock()
	if s.closed {
		s.gate.RUnlock()
		return nil, ErrReleased
	}
	s.touch(s.now())
	return s.gate.RUnlock, nil
}

// LastUsed reports when the session was last acquired or entered.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Session) touch(t time.Time) {
	if n := t.UnixNano(); n > s.lastUsed.Load() {
		s.lastUsed.Store(n)
	}
}

func (s *Session) seal() {
	s.gate.Lock()
	s.closed = true
	s.gate.Unlock()
}

func (s *Session) stop() {
	s.cancel()
	<-s.done
}

// run writes the roster every interval until ctx is cancelled. Writes are
// unconditional; failures are logged and retried only by the next tick.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			flushCtx, cancel := context.WithTimeout(ctx, s.interval)
			if err := s.Flush(flushCtx); err != nil {
				log.Printf("snapshot %s failed: %v", s.Identity, err)
			}
			cancel()
		}
	}
}

// Flush writes the three collections of the session to the blob store.
func (s *Session) Flush(ctx context.Context) error {
	snap := s.Roster.Snapshot()
	parts := []struct {
		collection string
		value      any
	}{
		{Courses, snap.Courses},
		{Students, snap.Students},
		{Attendance, snap.Attendance},
	}
	var errs []error
	for _, p := range parts {
		data, err := json.Marshal(p.value)
		if err == nil {
			err = s.blob.Put(ctx, store.Key(p.collection, s.Identity), data)
		}
		metrics.SnapshotWrites.WithLabelValues(metrics.Result(err)).Inc()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.collection, err))
		}
	}
	return errors.Join(errs...)
}

// load reads the identity's collections. Missing or unparsable values fall
// back to empty collections; only store failures are returned.
func load(ctx context.Context, blob store.Blob, identity string) (attendance.Snapshot, error) {
	var snap attendance.Snapshot
	targets := []struct {
		collection string
		into       any
	}{
		{Courses, &snap.Courses},
		{Students, &snap.Students},
		{Attendance, &snap.Attendance},
	}
	for _, t := range targets {
		data, err := blob.Get(ctx, store.Key(t.collection, identity))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return attendance.Snapshot{}, fmt.Errorf("load %s: %w", t.collection, err)
		}
		if err := json.Unmarshal(data, t.into); err != nil {
			log.Printf("session %s: discarding unreadable %s: %v", identity, t.collection, err)
			resetCollection(t.into)
		}
	}
	return snap, nil
}

func resetCollection(into any) {
	switch v := into.(type) {
	case *[]attendance.Course:
		*v = nil
	case *[]attendance.Student:
		*v = nil
	case *attendance.Record:
		*v = nil
	}
}
