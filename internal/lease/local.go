package lease

import (
	"context"
	"sort"
	"sync"
)

// LocalLocker guards tenants within a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryLock claims the tenant if no other goroutine holds it. A local claim
// cannot be lost, so the held context only ends with ctx or release.
func (l *LocalLocker) TryLock(ctx context.Context, tenantID string) (context.Context, func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[tenantID]; busy {
		return nil, nil, false, nil
	}
	l.held[tenantID] = struct{}{}
	held, cancel := context.WithCancel(ctx)
	var once sync.Once
	return held, func() {
		once.Do(func() {
			cancel()
			l.mu.Lock()
			delete(l.held, tenantID)
			l.mu.Unlock()
		})
	}, true, nil
}

// Held lists tenant IDs currently locked, sorted.
func (l *LocalLocker) Held(context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.held))
	for id := range l.held {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
