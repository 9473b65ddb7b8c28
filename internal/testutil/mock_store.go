// Package testutil provides in-memory fakes for the store and the external
// clients, with call recording and error injection for unit tests.
package testutil

import (
	"sync"
	"time"

	"github.com/embyguard/emby-guard/internal/store"
)

// MockStore is an in-memory store.Store.
type MockStore struct {
	mu    sync.Mutex
	users map[string]store.UserRecord // emby id -> record
	tgIdx map[int64]string

	// Error injection
	GetErr     error
	UpdateErr  error
	CheckinErr error

	// Call recording
	TrustLevelCalls []string
	CheckinCalls    int
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users: make(map[string]store.UserRecord),
		tgIdx: make(map[int64]string),
	}
}

// Seed inserts a record without error-injection interference.
func (m *MockStore) Seed(rec store.UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[rec.EmbyID] = rec
	if rec.TelegramID != 0 {
		m.tgIdx[rec.TelegramID] = rec.EmbyID
	}
}

// Get returns a copy of the stored record, for assertions.
func (m *MockStore) Get(embyID string) (store.UserRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[embyID]
	return rec, ok
}

func (m *MockStore) GetByEmbyID(embyID string) (*store.UserRecord, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[embyID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	copied := rec
	return &copied, nil
}

func (m *MockStore) GetByTelegramID(tgID int64) (*store.UserRecord, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	embyID, ok := m.tgIdx[tgID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	rec := m.users[embyID]
	return &rec, nil
}

func (m *MockStore) UpsertUser(rec store.UserRecord) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.Seed(rec)
	return nil
}

func (m *MockStore) SetTrustLevel(embyID string, level store.TrustLevel) error {
	m.mu.Lock()
	m.TrustLevelCalls = append(m.TrustLevelCalls, embyID+":"+string(level))
	m.mu.Unlock()

	if m.UpdateErr != nil {
		return m.UpdateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[embyID]
	if !ok {
		return store.ErrUserNotFound
	}
	rec.Level = level
	m.users[embyID] = rec
	return nil
}

func (m *MockStore) ApplyCheckin(tgID int64, reward int64, now time.Time) (*store.CheckinResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CheckinCalls++

	if m.CheckinErr != nil {
		return nil, m.CheckinErr
	}
	embyID, ok := m.tgIdx[tgID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	rec := m.users[embyID]
	if store.CheckinBlocked(rec.LastCheckin, now) {
		return nil, store.ErrAlreadyCheckedIn
	}
	rec.Balance += reward
	rec.LastCheckin = now
	m.users[embyID] = rec
	return &store.CheckinResult{Reward: reward, NewBalance: rec.Balance}, nil
}

func (m *MockStore) SizeBytes() (int64, error) { return 0, nil }
func (m *MockStore) Close() error              { return nil }
