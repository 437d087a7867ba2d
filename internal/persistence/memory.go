package persistence

import (
	"context"
	"sync"

	"github.com/artemis/schema-migrate/internal/migration"
)

// Memory is an in-process Store backed by a map, guarded by an RWMutex. It
// is used by unit tests; nothing it holds survives a restart.
type Memory struct {
	mu        sync.RWMutex
	byProject map[string][]migration.Migration
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{byProject: make(map[string][]migration.Migration)}
}

func (m *Memory) GetLastMigration(_ context.Context, projectID string) (migration.Migration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	migs := m.byProject[projectID]
	if len(migs) == 0 {
		return migration.Migration{}, ErrNotFound
	}
	return migs[len(migs)-1], nil
}

func (m *Memory) GetMigration(_ context.Context, projectID string, revision int64) (migration.Migration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, mig := range m.byProject[projectID] {
		if mig.Revision == revision {
			return mig, nil
		}
	}
	return migration.Migration{}, ErrNotFound
}

func (m *Memory) Create(_ context.Context, mig migration.Migration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	migs := m.byProject[mig.ProjectID]
	for _, existing := range migs {
		if existing.Status == migration.StatusPending {
			return migration.ErrDeploymentInProgress
		}
	}
	m.byProject[mig.ProjectID] = append(migs, mig)
	return nil
}

func (m *Memory) UpdateStatus(_ context.Context, projectID string, revision int64, status migration.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	migs := m.byProject[projectID]
	for i := range migs {
		if migs[i].Revision == revision {
			migs[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ScanPending(_ context.Context) ([]migration.Migration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []migration.Migration
	for _, migs := range m.byProject {
		for _, mig := range migs {
			if mig.Status == migration.StatusPending {
				pending = append(pending, mig)
			}
		}
	}
	return pending, nil
}

func (m *Memory) Close() error { return nil }
