package store

import (
	"fmt"

	"TrancheBank/internal/model"
)

// Store persists the bank's state between runs.
type Store interface {
	// Load returns nil, nil when nothing has been saved yet.
	Load() (*model.BankState, error)
	Save(state *model.BankState) error
	Close() error
}

// Open picks a Store implementation by driver name ("file" or "sqlite").
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "file":
		return NewFileStore(path), nil
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// MemoryStore keeps the last saved state in memory. Used when persistence is off.
type MemoryStore struct {
	state *model.BankState
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load() (*model.BankState, error) {
	if m.state == nil {
		return nil, nil
	}
	cp := *m.state
	return &cp, nil
}

func (m *MemoryStore) Save(state *model.BankState) error {
	cp := *state
	m.state = &cp
	return nil
}

func (m *MemoryStore) Close() error { return nil }
