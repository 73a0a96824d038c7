//go:build integration

// Package containers starts the testcontainers used by integration tests.
// Containers are started lazily and shared by every suite in the process.
package containers

import (
	"sync"
	"testing"
)

type Manager struct {
	mu       sync.Mutex
	redis    *RedisContainer
	postgres *PostgresContainer
	redpanda *RedpandaContainer
}

var (
	manager     *Manager
	managerOnce sync.Once
)

// GetManager returns the process-wide container manager.
func GetManager() *Manager {
	managerOnce.Do(func() {
		manager = &Manager{}
	})
	return manager
}

func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis == nil {
		m.redis = newRedisContainer(t)
	}
	return m.redis
}

func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postgres == nil {
		m.postgres = newPostgresContainer(t)
	}
	return m.postgres
}

func (m *Manager) GetRedpanda(t *testing.T) *RedpandaContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redpanda == nil {
		m.redpanda = newRedpandaContainer(t)
	}
	return m.redpanda
}
