package folderlock

import (
	"context"
	"sync"
	"time"

	"github.com/jun/erpdrive/internal/model"
)

// MockRegistry implements Registry using an in-memory map.
// It is shared between resolvers to simulate several processes.
type MockRegistry struct {
	claims map[string]*model.FolderClaim
	mu     sync.Mutex
	now    func() time.Time
}

// NewMockRegistry creates a new MockRegistry.
func NewMockRegistry() *MockRegistry {
	return &MockRegistry{
		claims: make(map[string]*model.FolderClaim),
		now:    time.Now,
	}
}

func (m *MockRegistry) Claim(ctx context.Context, key, token string) (*model.FolderClaim, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.claims[key]; ok && existing.ExpiresAt >= now.Unix() {
		c := *existing
		return &c, false, nil
	}

	claim := &model.FolderClaim{FolderKey: key, Token: token, ExpiresAt: now.Add(PendingTTL).Unix()}
	m.claims[key] = claim
	c := *claim
	return &c, true, nil
}

func (m *MockRegistry) Complete(ctx context.Context, key, token, folderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.claims[key]
	if !ok || existing.Token != token {
		return ErrClaimLost
	}
	existing.FolderID = folderID
	existing.ExpiresAt = m.now().Add(CompletedTTL).Unix()
	return nil
}

func (m *MockRegistry) Release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.claims[key]; ok && existing.Token == token {
		delete(m.claims, key)
	}
	return nil
}

func (m *MockRegistry) Get(ctx context.Context, key string) (*model.FolderClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.claims[key]
	if !ok || existing.ExpiresAt < m.now().Unix() {
		return nil, nil
	}
	c := *existing
	return &c, nil
}

// Put stores a claim as is. Tests use it to plant stale or foreign entries.
func (m *MockRegistry) Put(claim model.FolderClaim) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[claim.FolderKey] = &claim
}
