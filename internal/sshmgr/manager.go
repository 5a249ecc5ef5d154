package sshmgr

import (
	"time"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/jobs"
)

// Manager is the facade the tool executor calls into: a connection pool
// plus the job registry backing detached execution, follow, and tail.
type Manager struct {
	pool   *Pool
	jobs   *jobs.Registry
	budget time.Duration
}

func NewManager(pool *Pool, registry *jobs.Registry, budget time.Duration) *Manager {
	return &Manager{pool: pool, jobs: registry, budget: budget}
}

func (m *Manager) defaultBudget() time.Duration {
	if m.budget <= 0 {
		return 55 * time.Second
	}
	return m.budget
}
