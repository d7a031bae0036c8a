package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
)

// MemoryMirror keeps snapshots in process memory. Everything is lost on
// restart; it backs tests, local runs and `flowq run`.
type MemoryMirror struct {
	mu       sync.RWMutex
	projects map[string]map[string]*domain.QueueItem
}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{projects: make(map[string]map[string]*domain.QueueItem)}
}

func (m *MemoryMirror) Save(_ context.Context, item *domain.QueueItem) error {
	if err := validSnapshot(item); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	items, ok := m.projects[item.ProjectID]
	if !ok {
		items = make(map[string]*domain.QueueItem)
		m.projects[item.ProjectID] = items
	}
	items[item.ID] = item.DeepCopy()
	return nil
}

func (m *MemoryMirror) Get(_ context.Context, projectID, itemID string) (*domain.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.projects[projectID][itemID]
	if !ok {
		return nil, notFound(projectID, itemID)
	}
	return item.DeepCopy(), nil
}

func (m *MemoryMirror) ListByProject(_ context.Context, projectID string) ([]*domain.QueueItem, error) {
	m.mu.RLock()
	items := make([]*domain.QueueItem, 0, len(m.projects[projectID]))
	for _, item := range m.projects[projectID] {
		items = append(items, item.DeepCopy())
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	return items, nil
}

func (m *MemoryMirror) Delete(_ context.Context, projectID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, ok := m.projects[projectID]
	if !ok {
		return notFound(projectID, itemID)
	}
	if _, ok := items[itemID]; !ok {
		return notFound(projectID, itemID)
	}
	delete(items, itemID)
	if len(items) == 0 {
		delete(m.projects, projectID)
	}
	return nil
}

func (m *MemoryMirror) HealthCheck(context.Context) error {
	return nil
}

func (m *MemoryMirror) Close() error {
	return nil
}
