package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dharsanguruparan/ScanVault/internal/model"
)

// RoleStore keeps provisioned roles in memory.
type RoleStore struct {
	mu    sync.RWMutex
	roles map[string]model.RoleRecord
}

// NewRoleStore constructs an empty RoleStore.
func NewRoleStore() *RoleStore {
	return &RoleStore{roles: make(map[string]model.RoleRecord)}
}

// Get returns the stored role record or ErrNotFound.
func (s *RoleStore) Get(ctx context.Context, principalID string) (*model.RoleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get role: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.roles[principalID]
	if !ok {
		return nil, fmt.Errorf("role for %q: %w", principalID, ErrNotFound)
	}
	return &rec, nil
}

// Provision stores rec unless the principal already has a role, and returns
// whichever record is stored afterwards.
func (s *RoleStore) Provision(ctx context.Context, rec model.RoleRecord) (*model.RoleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("provision role: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.roles[rec.PrincipalID]; ok {
		return &existing, nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.roles[rec.PrincipalID] = rec
	out := rec
	return &out, nil
}
