package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// kvMap is the in-memory table shared by the memory and file backends.
type kvMap map[string][]byte

func (m kvMap) keys(prefix string) []string {
	out := make([]string, 0, 8)
	for k := range m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (m kvMap) usage(prefix string) int64 {
	var n int64
	for k, v := range m {
		if strings.HasPrefix(k, prefix) {
			n += entrySize(k, v)
		}
	}
	return n
}

// apply returns a copy of m with b applied, or ErrQuotaExceeded.
func (m kvMap) apply(b Batch) (kvMap, error) {
	next := make(kvMap, len(m)+len(b.Put))
	for k, v := range m {
		next[k] = v
	}
	for _, k := range b.Delete {
		delete(next, k)
	}
	for k, v := range b.Put {
		next[k] = append([]byte(nil), v...)
	}
	if b.Limit > 0 {
		before, after := m.usage(b.LimitPrefix), next.usage(b.LimitPrefix)
		if after > b.Limit && after > before {
			return nil, ErrQuotaExceeded
		}
	}
	return next, nil
}

type memBackend struct {
	mu   sync.RWMutex
	data kvMap
}

// NewMemory returns a Backend that lives in process memory.
func NewMemory() Backend {
	return &memBackend{data: kvMap{}}
}

func (m *memBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *memBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.keys(prefix), nil
}

func (m *memBackend) Usage(ctx context.Context, prefix string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.usage(prefix), nil
}

func (m *memBackend) Commit(ctx context.Context, b Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := m.data.apply(b)
	if err != nil {
		return err
	}
	m.data = next
	return nil
}

func (m *memBackend) Close() error { return nil }
