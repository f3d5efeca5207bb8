package repository

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu     sync.RWMutex
	data   map[string]map[string][]byte
	limits map[string]int
}

// NewMemory returns an in-memory Repository. It backs unit tests and the
// daemon when no data path is configured.
func NewMemory() Repository {
	return &memoryRepository{
		data:   make(map[string]map[string][]byte),
		limits: make(map[string]int),
	}
}

// NewMemoryWithLimit caps the named namespace at n entries; a Put of a new
// key beyond the cap fails with ErrQuotaExceeded.
func NewMemoryWithLimit(namespace string, n int) Repository {
	r := &memoryRepository{
		data:   make(map[string]map[string][]byte),
		limits: make(map[string]int),
	}
	r.limits[namespace] = n
	return r
}

func (r *memoryRepository) Get(_ context.Context, namespace, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ns, ok := r.data[namespace]
	if !ok {
		return nil, ErrNotFound
	}
	value, ok := ns[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (r *memoryRepository) Put(_ context.Context, namespace, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ns, ok := r.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		r.data[namespace] = ns
	}
	if limit, capped := r.limits[namespace]; capped && limit > 0 {
		if _, exists := ns[key]; !exists && len(ns) >= limit {
			return ErrQuotaExceeded
		}
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	ns[key] = stored
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, namespace, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ns, ok := r.data[namespace]; ok {
		delete(ns, key)
	}
	return nil
}

func (r *memoryRepository) List(_ context.Context, namespace string) (map[string][]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ns, ok := r.data[namespace]
	if !ok {
		return map[string][]byte{}, nil
	}
	out := make(map[string][]byte, len(ns))
	for k, v := range ns {
		value := make([]byte, len(v))
		copy(value, v)
		out[k] = value
	}
	return out, nil
}
