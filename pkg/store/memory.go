package store

import (
	"sync"
)

type memRecord struct {
	key    string
	fields map[string]string
}

// MemStore is a map-backed Store. It backs unit tests and ephemeral runs
// where no database file is wanted.
type MemStore struct {
	mu          sync.RWMutex
	collections map[string][]string
	records     map[string][]*memRecord
	*CollectionLocks
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		collections:     make(map[string][]string),
		records:         make(map[string][]*memRecord),
		CollectionLocks: NewCollectionLocks(),
	}
}

func (m *MemStore) EnsureCollection(collection string, requiredFields []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.collections[collection]
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[f] = true
	}
	for _, f := range requiredFields {
		if !seen[f] {
			seen[f] = true
			existing = append(existing, f)
		}
	}
	m.collections[collection] = existing
	return nil
}

func (m *MemStore) ListRecords(collection string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	required := m.collections[collection]
	out := make([]Record, 0, len(m.records[collection]))
	for _, r := range m.records[collection] {
		fields := make(map[string]string, len(r.fields))
		for k, v := range r.fields {
			fields[k] = v
		}
		for _, f := range required {
			if _, ok := fields[f]; !ok {
				fields[f] = ""
			}
		}
		out = append(out, Record{Key: r.key, Fields: fields})
	}
	return out, nil
}

func (m *MemStore) UpsertRecord(collection, key string, fields map[string]string) error {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records[collection] {
		if r.key == key {
			r.fields = copied
			return nil
		}
	}
	m.records[collection] = append(m.records[collection], &memRecord{key: key, fields: copied})
	return nil
}

func (m *MemStore) DeleteRecord(collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.records[collection]
	for i, r := range recs {
		if r.key == key {
			m.records[collection] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemStore) Flush() error { return nil }

func (m *MemStore) Close() error { return nil }
