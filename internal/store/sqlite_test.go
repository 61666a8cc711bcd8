package store

import (
	"context"
	"path/filepath"
	"testing"

	"dolores/internal/model"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_TaskRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	created, err := s.CreateTask(ctx, model.Task{
		Title:       "Pagar aluguel",
		Description: "todo dia 5",
		Date:        "2026-03-05",
		UserID:      "u1",
		Frequency:   model.FreqMonthly,
		Value:       150000,
		Time:        "09:00",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("create did not fill metadata: %+v", created)
	}

	got, err := s.GetTask(ctx, "u1", created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != created.Title || got.Value != 150000 || got.Frequency != model.FreqMonthly || got.Time != "09:00" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := s.GetTask(ctx, "u2", created.ID); err != ErrNotFound {
		t.Fatalf("cross-user get: expected ErrNotFound, got %v", err)
	}

	value := int64(160000)
	updated, err := s.UpdateTask(ctx, "u1", created.ID, model.TaskPatch{Value: &value})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Value != 160000 || updated.Title != created.Title {
		t.Fatalf("patch result: %+v", updated)
	}

	tasks, err := s.ListTasks(ctx, "u1")
	if err != nil || len(tasks) != 1 {
		t.Fatalf("list: %v len=%d", err, len(tasks))
	}
}

func TestSQLite_ToggleMatchesFrequency(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	single, err := s.CreateTask(ctx, model.Task{Title: "unica", Date: "2026-03-10", UserID: "u1", Frequency: model.FreqNone})
	if err != nil {
		t.Fatalf("create single: %v", err)
	}
	recurring, err := s.CreateTask(ctx, model.Task{Title: "diaria", Date: "2026-03-10", UserID: "u1", Frequency: model.FreqDaily})
	if err != nil {
		t.Fatalf("create recurring: %v", err)
	}

	done, err := s.ToggleTaskInstanceCompletion(ctx, single.ID, "2026-03-10", "u1")
	if err != nil || !done {
		t.Fatalf("single toggle: done=%v err=%v", done, err)
	}
	got, _ := s.GetTask(ctx, "u1", single.ID)
	if !got.Completed {
		t.Fatalf("single toggle should flip the row")
	}
	recs, _ := s.ListCompletions(ctx, "u1")
	if len(recs) != 0 {
		t.Fatalf("single toggle must not write records, got %d", len(recs))
	}

	done, err = s.ToggleTaskInstanceCompletion(ctx, recurring.ID, "2026-03-11", "u1")
	if err != nil || !done {
		t.Fatalf("recurring toggle: done=%v err=%v", done, err)
	}
	recs, _ = s.ListCompletions(ctx, "u1")
	if len(recs) != 1 || recs[0].InstanceDate != "2026-03-11" {
		t.Fatalf("expected one record for 03-11, got %+v", recs)
	}

	done, err = s.ToggleTaskInstanceCompletion(ctx, recurring.ID, "2026-03-11", "u1")
	if err != nil || done {
		t.Fatalf("recurring untoggle: done=%v err=%v", done, err)
	}
	recs, _ = s.ListCompletions(ctx, "u1")
	if len(recs) != 0 {
		t.Fatalf("record should be deleted, got %+v", recs)
	}

	if _, err := s.ToggleTaskInstanceCompletion(ctx, "missing", "2026-03-11", "u1"); err != ErrNotFound {
		t.Fatalf("missing task toggle: expected ErrNotFound, got %v", err)
	}
}

func TestSQLite_DeleteTaskCascades(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, model.Task{Title: "diaria", Date: "2026-03-10", UserID: "u1", Frequency: model.FreqDaily})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, date := range []string{"2026-03-10", "2026-03-11"} {
		if _, err := s.ToggleTaskInstanceCompletion(ctx, task.ID, date, "u1"); err != nil {
			t.Fatalf("toggle %s: %v", date, err)
		}
	}

	if err := s.DeleteTask(ctx, "u1", task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteTask(ctx, "u1", task.ID); err != ErrNotFound {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
	recs, _ := s.ListCompletions(ctx, "u1")
	if len(recs) != 0 {
		t.Fatalf("completions should cascade, got %+v", recs)
	}
}

func TestSQLite_CategoryOrderingAndUpdate(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	for _, c := range []model.Category{
		{Name: "Contas", Color: "#f00", SortOrder: 2, UserID: "u1"},
		{Name: "Casa", Color: "#0f0", SortOrder: 1, UserID: "u1"},
	} {
		if _, err := s.CreateCategory(ctx, c); err != nil {
			t.Fatalf("create category: %v", err)
		}
	}

	cats, err := s.ListCategories(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cats) != 2 || cats[0].Name != "Casa" {
		t.Fatalf("unexpected order: %+v", cats)
	}

	name := "Moradia"
	updated, err := s.UpdateCategory(ctx, "u1", cats[0].ID, model.CategoryPatch{Name: &name})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Moradia" || updated.Color != "#0f0" {
		t.Fatalf("patch result: %+v", updated)
	}

	if err := s.DeleteCategory(ctx, "u2", cats[0].ID); err != ErrNotFound {
		t.Fatalf("cross-user delete: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteCategory(ctx, "u1", cats[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
