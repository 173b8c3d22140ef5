package store

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// Memory is a process-local Store. Checkpoints do not survive a restart.
type Memory struct {
	mu        sync.RWMutex
	instances map[string]InstanceRecord
	records   map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{
		instances: make(map[string]InstanceRecord),
		records:   make(map[string][]byte),
	}
}

func (m *Memory) SaveInstance(_ context.Context, rec InstanceRecord) error {
	if err := validateKey(rec.ID); err != nil {
		return wrap("save instance", rec.ID, err)
	}
	rec.Data = slices.Clone(rec.Data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[rec.ID] = rec
	return nil
}

func (m *Memory) GetInstance(_ context.Context, id string) (InstanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.instances[id]
	if !ok {
		return InstanceRecord{}, wrap("get instance", id, ErrNotFound)
	}
	rec.Data = slices.Clone(rec.Data)
	return rec, nil
}

func (m *Memory) ListActive(_ context.Context) ([]InstanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []InstanceRecord
	for _, rec := range m.instances {
		if rec.Active {
			rec.Data = slices.Clone(rec.Data)
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutRecord(_ context.Context, key string, payload []byte) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, wrap("put record", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[key]; exists {
		return false, nil
	}
	m.records[key] = slices.Clone(payload)
	return true, nil
}

func (m *Memory) GetRecord(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payload, ok := m.records[key]
	if !ok {
		return nil, wrap("get record", key, ErrNotFound)
	}
	return slices.Clone(payload), nil
}

func (m *Memory) Close() error {
	return nil
}
