//go:build integration

package containers

import (
	"sync"
	"testing"
)

// Manager hands out one container of each kind per test binary. Suites share
// them and isolate themselves by truncating or flushing in SetupTest.
type Manager struct {
	mu       sync.Mutex
	postgres *PostgresContainer
	redis    *RedisContainer
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

// GetPostgres starts Postgres on first use.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postgres == nil {
		m.postgres = NewPostgresContainer(t)
	}
	return m.postgres
}

// GetRedis starts Redis on first use.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis == nil {
		m.redis = NewRedisContainer(t)
	}
	return m.redis
}
