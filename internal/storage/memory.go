package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"RealmLedger/internal/model"
)

// Memory keeps accounts in a map. Used in tests and for throwaway servers.
type Memory struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*model.Account
	saveErr  error
	saves    int
}

func NewMemory() *Memory {
	return &Memory{accounts: make(map[uuid.UUID]*model.Account)}
}

func (m *Memory) Name() string                       { return "memory" }
func (m *Memory) Initialize(_ context.Context) error { return nil }
func (m *Memory) Close() error                       { return nil }

// FailSaves makes every subsequent Save return err (nil restores saving).
func (m *Memory) FailSaves(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

// Saves reports how many successful saves have happened.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *Memory) Load(_ context.Context, id uuid.UUID) (*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *Memory) Save(_ context.Context, acct *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.accounts[acct.ID] = acct.Clone()
	m.saves++
	return nil
}

func (m *Memory) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accounts[id]
	return ok, nil
}

func (m *Memory) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	delete(m.accounts, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) IDs(_ context.Context) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}
