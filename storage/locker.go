package storage

import (
	"context"
	"sort"
	"sync"
)

// LocalLocker serializes scopes within a single process. A scope's slot is
// dropped once nobody holds or waits for it.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
}

type localSlot struct {
	key  string
	ch   chan struct{}
	refs int
}

// NewLocalLocker returns a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: map[string]*localSlot{}}
}

func (l *LocalLocker) acquireSlot(key string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl, ok := l.slots[key]
	if !ok {
		sl = &localSlot{key: key, ch: make(chan struct{}, 1)}
		l.slots[key] = sl
	}
	sl.refs++
	return sl
}

func (l *LocalLocker) releaseSlot(sl *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.slots, sl.key)
	}
}

// Lock acquires every key in sorted order.
func (l *LocalLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedUnique(keys)
	held := make([]*localSlot, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].ch
			l.releaseSlot(held[i])
		}
	}
	for _, k := range keys {
		sl := l.acquireSlot(k)
		select {
		case sl.ch <- struct{}{}:
			held = append(held, sl)
		case <-ctx.Done():
			l.releaseSlot(sl)
			release()
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

// slotCount reports how many scopes currently have a slot.
func (l *LocalLocker) slotCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func sortedUnique(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
