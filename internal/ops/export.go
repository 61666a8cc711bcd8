package ops

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"dolores/internal/model"
	"dolores/internal/store"
)

// UserExport is a portable JSON snapshot of one user's rows.
type UserExport struct {
	UserID      string             `json:"userId"`
	ExportedAt  time.Time          `json:"exportedAt"`
	Tasks       []model.Task       `json:"tasks"`
	Categories  []model.Category   `json:"categories"`
	Completions []store.Completion `json:"completions"`
}

// ExportUser reads every row the user owns into a snapshot.
func ExportUser(ctx context.Context, st store.Store, userID string) (UserExport, error) {
	tasks, err := st.ListTasks(ctx, userID)
	if err != nil {
		return UserExport{}, err
	}
	categories, err := st.ListCategories(ctx, userID)
	if err != nil {
		return UserExport{}, err
	}
	completions, err := st.ListCompletions(ctx, userID)
	if err != nil {
		return UserExport{}, err
	}
	return UserExport{
		UserID:      userID,
		ExportedAt:  time.Now().UTC(),
		Tasks:       tasks,
		Categories:  categories,
		Completions: completions,
	}, nil
}

// WriteUserExport exports the user and writes the snapshot as indented
// JSON to path.
func WriteUserExport(ctx context.Context, st store.Store, userID, path string) error {
	snap, err := ExportUser(ctx, st, userID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
