// Package store is the boundary to the durable row store. The coordinator
// and the recurrence engine depend only on the Store interface; SQLite is
// the shipped backend and Memory backs tests.
package store

import (
	"context"
	"errors"

	"dolores/internal/model"
)

var (
	ErrNotFound = errors.New("row not found")
)

// Completion is a persisted marker that one specific recurring occurrence
// is done. Existence = completed, absence = pending. Non-recurring tasks
// keep completion on the task row instead.
type Completion struct {
	TaskID       model.TaskID `json:"taskId"`
	InstanceDate string       `json:"instanceDate"`
	UserID       string       `json:"userId"`
}

// Store issues authenticated CRUD against the row store. Every row is
// scoped to a user; implementations must never return another user's rows.
type Store interface {
	CreateTask(ctx context.Context, t model.Task) (model.Task, error)
	GetTask(ctx context.Context, userID string, id model.TaskID) (model.Task, error)
	UpdateTask(ctx context.Context, userID string, id model.TaskID, p model.TaskPatch) (model.Task, error)
	// DeleteTask cascades to the task's completion records.
	DeleteTask(ctx context.Context, userID string, id model.TaskID) error
	// ListTasks returns the user's templates ordered by created_at descending.
	ListTasks(ctx context.Context, userID string) ([]model.Task, error)

	CreateCategory(ctx context.Context, c model.Category) (model.Category, error)
	UpdateCategory(ctx context.Context, userID string, id model.CategoryID, p model.CategoryPatch) (model.Category, error)
	DeleteCategory(ctx context.Context, userID string, id model.CategoryID) error
	// ListCategories returns the user's categories ordered by sort_order.
	ListCategories(ctx context.Context, userID string) ([]model.Category, error)

	ListCompletions(ctx context.Context, userID string) ([]Completion, error)

	// ToggleTaskInstanceCompletion is the store-side atomic toggle: for a
	// non-recurring task it flips the row's completed flag; for a recurring
	// task it inserts or deletes the (taskID, instanceDate) completion
	// record. Returns the resulting completed state.
	ToggleTaskInstanceCompletion(ctx context.Context, taskID model.TaskID, instanceDate, userID string) (bool, error)

	// UndoTaskInstanceCompletion forces the occurrence back to pending,
	// whatever its current state.
	UndoTaskInstanceCompletion(ctx context.Context, taskID model.TaskID, instanceDate, userID string) error

	Close() error
}

func applyTaskPatch(t *model.Task, p model.TaskPatch) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.CategoryID != nil {
		t.CategoryID = *p.CategoryID
	}
	if p.Frequency != nil {
		t.Frequency = *p.Frequency
	}
	if p.CustomFrequencyMonths != nil {
		t.CustomFrequencyMonths = *p.CustomFrequencyMonths
	}
	if p.Value != nil {
		t.Value = *p.Value
	}
	if p.Time != nil {
		t.Time = *p.Time
	}
}

func applyCategoryPatch(c *model.Category, p model.CategoryPatch) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Color != nil {
		c.Color = *p.Color
	}
	if p.SortOrder != nil {
		c.SortOrder = *p.SortOrder
	}
}
