package store

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore keeps drafts in process memory. Drafts are lost on restart.
type MemorySessionStore struct {
	mu     sync.RWMutex
	drafts map[string][]byte
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		drafts: map[string][]byte{},
	}
}

func (s *MemorySessionStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.drafts[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemorySessionStore) Set(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drafts[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.drafts, key)
	return nil
}

// MemoryLocker hands out locks scoped to one process.
type MemoryLocker struct {
	mu       sync.Mutex
	held     map[string]time.Time
	released chan struct{}
	now      func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:     map[string]time.Time{},
		released: make(chan struct{}),
		now:      time.Now,
	}
}

func (l *MemoryLocker) Obtain(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, _ := l.obtain(key, ttl)
	if lock == nil {
		return nil, ErrNotObtained
	}
	return lock, nil
}

// ObtainWait blocks until the lock is free, wait elapses or ctx is done.
func (l *MemoryLocker) ObtainWait(ctx context.Context, key string, ttl, wait time.Duration) (Lock, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	for {
		l.mu.Lock()
		lock, retryIn := l.obtain(key, ttl)
		released := l.released
		l.mu.Unlock()
		if lock != nil {
			return lock, nil
		}

		timer := time.NewTimer(retryIn)
		select {
		case <-released:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ErrNotObtained
		}
		timer.Stop()
	}
}

// obtain must be called with l.mu held. When the key is taken it returns
// how long until the current holder expires.
func (l *MemoryLocker) obtain(key string, ttl time.Duration) (*memoryLock, time.Duration) {
	now := l.now()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return nil, max(expiry.Sub(now), time.Millisecond)
	}

	expiry := now.Add(ttl)
	l.held[key] = expiry
	return &memoryLock{locker: l, key: key, expiry: expiry}, 0
}

type memoryLock struct {
	locker *MemoryLocker
	key    string
	expiry time.Time
}

func (m *memoryLock) Release(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()

	// A lock that expired may already belong to someone else.
	if m.locker.held[m.key].Equal(m.expiry) {
		delete(m.locker.held, m.key)
		close(m.locker.released)
		m.locker.released = make(chan struct{})
	}
	return nil
}
