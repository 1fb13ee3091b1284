package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/target/inkwell/internal/core"
)

// Locker is a process-local core.Locker with TTL expiry.
type Locker struct {
	mu    sync.Mutex
	clock core.Clock
	held  map[string]lockEntry
	seq   uint64
}

type lockEntry struct {
	token   uint64
	expires time.Time
}

var _ core.Locker = (*Locker)(nil)

// NewLocker creates a Locker. A nil clock uses the system time.
func NewLocker(clock core.Clock) *Locker {
	if clock == nil {
		clock = systemClock{}
	}
	return &Locker{clock: clock, held: make(map[string]lockEntry)}
}

// TryAcquire takes key unless an unexpired holder exists.
func (l *Locker) TryAcquire(_ context.Context, key string, ttl time.Duration) (core.Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, false, nil
	}
	l.seq++
	l.held[key] = lockEntry{token: l.seq, expires: now.Add(ttl)}
	return &memLease{l: l, key: key, token: l.seq}, true, nil
}

type memLease struct {
	l     *Locker
	key   string
	token uint64
}

func (m *memLease) Release(context.Context) error {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	if e, ok := m.l.held[m.key]; ok && e.token == m.token {
		delete(m.l.held, m.key)
	}
	return nil
}
