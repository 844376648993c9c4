package featurestore

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemoryStore keeps feature rows in process. It backs tests and the local demo.
type MemoryStore struct {
	*HistoricalStore
	fetcher *memoryFetcher
}

type memoryFetcher struct {
	mu     sync.RWMutex
	groups map[string][]Row
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	f := &memoryFetcher{groups: make(map[string][]Row)}
	opts = append([]StoreOption{WithBackendName("memory")}, opts...)
	return &MemoryStore{
		HistoricalStore: NewHistoricalStore(f, opts...),
		fetcher:         f,
	}
}

// Push appends rows to group.
func (m *MemoryStore) Push(_ context.Context, group string, rows ...Row) error {
	if err := ValidateIdentifier("feature.group", group); err != nil {
		return err
	}
	m.fetcher.mu.Lock()
	defer m.fetcher.mu.Unlock()
	for _, r := range rows {
		r.Values = maps.Clone(r.Values)
		m.fetcher.groups[group] = append(m.fetcher.groups[group], r)
	}
	return nil
}

func (f *memoryFetcher) Fetch(ctx context.Context, group string, names []string, keys []int64, upTo time.Time) ([]Row, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	stored, ok := f.groups[group]
	if !ok {
		return nil, ErrUnknownGroup
	}
	want := make(map[int64]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var out []Row
	for _, r := range stored {
		if want[r.Key] && !r.Timestamp.After(upTo) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *memoryFetcher) Close() error {
	return nil
}
