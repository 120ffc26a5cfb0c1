package jobs

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
)

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	records map[string]Record
}

// MemoryRegistry is the default in-process registry. Records are spread over
// fixed shards so writers on different jobs rarely contend.
type MemoryRegistry struct {
	shards [shardCount]*shard
}

func NewMemoryRegistry() *MemoryRegistry {
	m := &MemoryRegistry{}
	for i := range m.shards {
		m.shards[i] = &shard{records: make(map[string]Record)}
	}
	return m
}

func (m *MemoryRegistry) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return m.shards[h.Sum32()%shardCount]
}

func (m *MemoryRegistry) Create(_ context.Context, id, originalFilename string) (Record, error) {
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; ok {
		return Record{}, fmt.Errorf("%w: %s", ErrExists, id)
	}
	rec := newRecord(id, originalFilename, now())
	s.records[id] = rec
	return rec.clone(), nil
}

func (m *MemoryRegistry) Get(_ context.Context, id string) (Record, error) {
	s := m.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.clone(), nil
}

func (m *MemoryRegistry) Update(_ context.Context, id string, mutate Mutator) (Record, error) {
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	next, err := applyMutator(rec, mutate)
	if err != nil {
		return Record{}, err
	}
	s.records[id] = next.clone()
	return next, nil
}

func (m *MemoryRegistry) Delete(_ context.Context, id string) error {
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (m *MemoryRegistry) List(_ context.Context) ([]Record, error) {
	var out []Record
	for _, s := range m.shards {
		s.mu.RLock()
		for _, rec := range s.records {
			out = append(out, rec.clone())
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadTime.Before(out[j].UploadTime) })
	return out, nil
}

func (m *MemoryRegistry) Close() error { return nil }
