package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dolores/internal/model"
)

// Memory is an in-process Store used by tests and as a degraded fallback.
type Memory struct {
	mu          sync.RWMutex
	tasks       map[model.TaskID]model.Task
	categories  map[model.CategoryID]model.Category
	completions map[string]Completion // keyed by taskID + "-" + instanceDate
}

func NewMemory() *Memory {
	return &Memory{
		tasks:       map[model.TaskID]model.Task{},
		categories:  map[model.CategoryID]model.Category{},
		completions: map[string]Completion{},
	}
}

func (m *Memory) CreateTask(_ context.Context, t model.Task) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	t.ID = uuid.NewString()
	t.CreatedAt = now
	t.UpdatedAt = now
	m.tasks[t.ID] = t
	return t, nil
}

func (m *Memory) GetTask(_ context.Context, userID string, id model.TaskID) (model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok || t.UserID != userID {
		return model.Task{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) UpdateTask(_ context.Context, userID string, id model.TaskID, p model.TaskPatch) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok || t.UserID != userID {
		return model.Task{}, ErrNotFound
	}
	applyTaskPatch(&t, p)
	t.UpdatedAt = time.Now()
	m.tasks[id] = t
	return t, nil
}

func (m *Memory) DeleteTask(_ context.Context, userID string, id model.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok || t.UserID != userID {
		return ErrNotFound
	}
	delete(m.tasks, id)
	for key, c := range m.completions {
		if c.TaskID == id {
			delete(m.completions, key)
		}
	}
	return nil
}

func (m *Memory) ListTasks(_ context.Context, userID string) ([]model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) CreateCategory(_ context.Context, c model.Category) (model.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	c.ID = uuid.NewString()
	c.CreatedAt = now
	c.UpdatedAt = now
	m.categories[c.ID] = c
	return c, nil
}

func (m *Memory) UpdateCategory(_ context.Context, userID string, id model.CategoryID, p model.CategoryPatch) (model.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.categories[id]
	if !ok || c.UserID != userID {
		return model.Category{}, ErrNotFound
	}
	applyCategoryPatch(&c, p)
	c.UpdatedAt = time.Now()
	m.categories[id] = c
	return c, nil
}

func (m *Memory) DeleteCategory(_ context.Context, userID string, id model.CategoryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.categories[id]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}
	delete(m.categories, id)
	return nil
}

func (m *Memory) ListCategories(_ context.Context, userID string) ([]model.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Category, 0, len(m.categories))
	for _, c := range m.categories {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *Memory) ListCompletions(_ context.Context, userID string) ([]Completion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Completion, 0, len(m.completions))
	for _, c := range m.completions {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskID != out[j].TaskID {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].InstanceDate < out[j].InstanceDate
	})
	return out, nil
}

func (m *Memory) ToggleTaskInstanceCompletion(_ context.Context, taskID model.TaskID, instanceDate, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok || t.UserID != userID {
		return false, ErrNotFound
	}

	if !t.Frequency.IsRecurring() {
		t.Completed = !t.Completed
		t.UpdatedAt = time.Now()
		m.tasks[taskID] = t
		return t.Completed, nil
	}

	key := model.InstanceKey(taskID, instanceDate)
	if _, done := m.completions[key]; done {
		delete(m.completions, key)
		return false, nil
	}
	m.completions[key] = Completion{TaskID: taskID, InstanceDate: instanceDate, UserID: userID}
	return true, nil
}

func (m *Memory) UndoTaskInstanceCompletion(_ context.Context, taskID model.TaskID, instanceDate, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok || t.UserID != userID {
		return ErrNotFound
	}

	if !t.Frequency.IsRecurring() {
		t.Completed = false
		t.UpdatedAt = time.Now()
		m.tasks[taskID] = t
		return nil
	}
	delete(m.completions, model.InstanceKey(taskID, instanceDate))
	return nil
}

func (m *Memory) Close() error { return nil }
