// Package store persists platform registrations and user authorizations.
package store

import (
	"context"
	"sync"

	"github.com/blacktop/xpub/internal/xpub"
)

// Memory is a process-local store.
type Memory struct {
	mu    sync.RWMutex
	regs  map[string]xpub.PlatformRegistration
	auths map[string]xpub.UserAuthorization
}

// NewMemory returns an empty [Memory] store.
func NewMemory() *Memory {
	return &Memory{
		regs:  make(map[string]xpub.PlatformRegistration),
		auths: make(map[string]xpub.UserAuthorization),
	}
}

func (m *Memory) FindRegistration(ctx context.Context, platformID string) (*xpub.PlatformRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.regs[platformID]
	if !ok {
		return nil, nil
	}
	return &reg, nil
}

// SaveRegistration stores reg unless platformID already has one; registrations never change.
func (m *Memory) SaveRegistration(ctx context.Context, reg xpub.PlatformRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regs[reg.PlatformID]; ok {
		return nil
	}
	m.regs[reg.PlatformID] = reg
	return nil
}

func (m *Memory) FindAuthorization(ctx context.Context, platformID string) (*xpub.UserAuthorization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	auth, ok := m.auths[platformID]
	if !ok {
		return nil, nil
	}
	return &auth, nil
}

// SaveAuthorization replaces any previous authorization for the platform.
func (m *Memory) SaveAuthorization(ctx context.Context, auth xpub.UserAuthorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auths[auth.PlatformID] = auth
	return nil
}
