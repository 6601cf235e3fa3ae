package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

// LeaseManager is a process-local lease table for single-node deployments.
type LeaseManager struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

type lease struct {
	token     string
	expiresAt time.Time
}

func NewLeaseManager() *LeaseManager {
	return &LeaseManager{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

func (m *LeaseManager) Acquire(_ context.Context, name string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if current, ok := m.leases[name]; ok && now.Before(current.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	m.leases[name] = lease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (m *LeaseManager) Extend(_ context.Context, name, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	current, ok := m.held(name, token, now)
	if !ok {
		return domain.WrapError(domain.ErrLeaseLost, "extend lease", errors.New(name))
	}
	current.expiresAt = now.Add(ttl)
	m.leases[name] = current
	return nil
}

// Release is a no-op when the lease expired or belongs to another token.
func (m *LeaseManager) Release(_ context.Context, name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held(name, token, m.now()); ok {
		delete(m.leases, name)
	}
	return nil
}

func (m *LeaseManager) held(name, token string, now time.Time) (lease, bool) {
	current, ok := m.leases[name]
	if !ok || current.token != token || !now.Before(current.expiresAt) {
		return lease{}, false
	}
	return current, true
}
