package filecache

import (
	"context"
	"sync"
	"time"

	"dqinsight/internal/llm"
)

// MemoryStore keeps the reference in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	ref     llm.FileRef
	expires time.Time
	set     bool
	now     func() time.Time
}

// NewMemoryStore creates an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now}
}

func (m *MemoryStore) Get(ctx context.Context) (llm.FileRef, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set || !m.now().Before(m.expires) {
		return llm.FileRef{}, false, nil
	}
	return m.ref, true, nil
}

func (m *MemoryStore) Set(ctx context.Context, ref llm.FileRef, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ref = ref
	m.expires = m.now().Add(ttl)
	m.set = true
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ref = llm.FileRef{}
	m.set = false
	return nil
}
