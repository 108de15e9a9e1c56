package commands

import (
	"context"
	"sync"
)

// OverrideStore persists system command overrides keyed by command id.
type OverrideStore interface {
	LoadOverrides(ctx context.Context) (map[string]Override, error)
	SaveOverride(ctx context.Context, o Override) error
	DeleteOverride(ctx context.Context, id string) error
}

// CustomCommandStore persists user-authored commands keyed by id.
type CustomCommandStore interface {
	LoadAll(ctx context.Context) (map[string]CustomCommand, error)
	Save(ctx context.Context, cmd CustomCommand) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps overrides and custom commands in memory. It backs tests
// and runs without a database.
type MemoryStore struct {
	mu        sync.RWMutex
	overrides map[string]Override
	customs   map[string]CustomCommand
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		overrides: make(map[string]Override),
		customs:   make(map[string]CustomCommand),
	}
}

func (m *MemoryStore) LoadOverrides(ctx context.Context) (map[string]Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Override, len(m.overrides))
	for k, v := range m.overrides {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) SaveOverride(ctx context.Context, o Override) error {
	m.mu.Lock()
	m.overrides[o.ID] = o
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteOverride(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.overrides, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadAll(ctx context.Context) (map[string]CustomCommand, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CustomCommand, len(m.customs))
	for k, v := range m.customs {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Save(ctx context.Context, cmd CustomCommand) error {
	m.mu.Lock()
	m.customs[cmd.ID] = cmd
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.customs, id)
	m.mu.Unlock()
	return nil
}
