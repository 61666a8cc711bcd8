package model

import (
	"errors"
	"strings"
	"time"
)

type CategoryID = string

// Category groups tasks for filtering and display. A user always has at
// least one category; the coordinator refuses to delete the last one.
type Category struct {
	ID        CategoryID `json:"id"`
	Name      string     `json:"name"`
	Color     string     `json:"color"`
	SortOrder int        `json:"sortOrder"`
	UserID    string     `json:"userId"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

var ErrMissingCategoryName = errors.New("category name is required")

func (c *Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrMissingCategoryName
	}
	if strings.TrimSpace(c.Color) == "" {
		c.Color = "#6366f1"
	}
	return nil
}

// CategoryPatch is a partial update. nil pointer => no change.
type CategoryPatch struct {
	Name      *string `json:"name,omitempty"`
	Color     *string `json:"color,omitempty"`
	SortOrder *int    `json:"sortOrder,omitempty"`
}
