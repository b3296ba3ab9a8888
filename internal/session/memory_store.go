package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory session store for demo/development mode.
type MemoryStore struct {
	sessions map[string]*Session
	deposits map[string]*DepositAddress
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		deposits: make(map[string]*DepositAddress),
	}
}

func (m *MemoryStore) EnsureSession(ctx context.Context, device string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[device]; ok {
		cp := *s
		return &cp, nil
	}
	now := time.Now()
	s := &Session{DeviceID: device, CreatedAt: now, UpdatedAt: now}
	m.sessions[device] = s
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetSession(ctx context.Context, device string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[device]
	if !ok {
		return nil, ErrSessionNotFound
	}
	// Return a copy to prevent races on the shared pointer.
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) LinkAddress(ctx context.Context, device, address string) error {
	return m.update(device, func(s *Session) {
		s.LinkedAddress = address
		s.PendingStake = 0
	})
}

func (m *MemoryStore) SetPendingStake(ctx context.Context, device string, amount int64) error {
	return m.update(device, func(s *Session) {
		s.PendingStake = amount
	})
}

func (m *MemoryStore) ResetPendingStake(ctx context.Context, device string) error {
	return m.update(device, func(s *Session) {
		s.PendingStake = 0
	})
}

func (m *MemoryStore) SetEscrowAddress(ctx context.Context, device, address string) error {
	return m.update(device, func(s *Session) {
		s.EscrowAddress = address
	})
}

func (m *MemoryStore) update(device string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[device]
	if !ok {
		return ErrSessionNotFound
	}
	fn(s)
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) BindDeposit(ctx context.Context, d *DepositAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.deposits[d.Address]; ok && existing.DeviceID != d.DeviceID {
		return ErrAddressTaken
	}
	cp := *d
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.deposits[d.Address] = &cp
	return nil
}

func (m *MemoryStore) GetDeposit(ctx context.Context, address string) (*DepositAddress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.deposits[address]
	if !ok {
		return nil, ErrDepositNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
