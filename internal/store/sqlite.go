package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"dolores/internal/model"
)

// SQLite is the durable Store backend. One file holds every table,
// including the auth tables managed by internal/auth over the same handle.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(dbPath string) (*SQLite, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, err
	}
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for the auth repository, which shares
// the same database file.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) ensureSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	push_token TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL,
	last_seen TEXT NOT NULL,
	expires_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS password_resets (
	token_hash TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	expires_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS categories (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT '',
	sort_order INTEGER NOT NULL DEFAULT 0,
	user_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	completed INTEGER NOT NULL DEFAULT 0,
	date TEXT NOT NULL,
	category_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL,
	frequency TEXT NOT NULL DEFAULT 'none',
	custom_frequency_months INTEGER NOT NULL DEFAULT 0,
	value INTEGER NOT NULL DEFAULT 0,
	time TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS task_completions (
	task_id TEXT NOT NULL,
	instance_date TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (task_id, instance_date, user_id)
);
CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);
CREATE INDEX IF NOT EXISTS idx_categories_user ON categories(user_id);
CREATE INDEX IF NOT EXISTS idx_completions_user ON task_completions(user_id);
`
	_, err := s.db.Exec(ddl)
	return err
}

const taskColumns = `id, title, description, completed, date, category_id, user_id, frequency, custom_frequency_months, value, time, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (model.Task, error) {
	var t model.Task
	var completed int
	var createdStr, updatedStr string
	err := row.Scan(&t.ID, &t.Title, &t.Description, &completed, &t.Date, &t.CategoryID,
		&t.UserID, &t.Frequency, &t.CustomFrequencyMonths, &t.Value, &t.Time, &createdStr, &updatedStr)
	if err != nil {
		return model.Task{}, err
	}
	t.Completed = completed == 1
	t.CreatedAt = parseTimestamp(createdStr)
	t.UpdatedAt = parseTimestamp(updatedStr)
	return t, nil
}

func (s *SQLite) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	t.ID = uuid.NewString()
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		t.ID, t.Title, t.Description, boolInt(t.Completed), t.Date, t.CategoryID, t.UserID,
		string(t.Frequency), t.CustomFrequencyMonths, t.Value, t.Time,
		formatTimestamp(now), formatTimestamp(now))
	if err != nil {
		return model.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return s.GetTask(ctx, t.UserID, t.ID)
}

func (s *SQLite) GetTask(ctx context.Context, userID string, id model.TaskID) (model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?;`, id, userID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	if err != nil {
		return model.Task{}, err
	}
	return t, nil
}

func (s *SQLite) UpdateTask(ctx context.Context, userID string, id model.TaskID, p model.TaskPatch) (model.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Task{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?;`, id, userID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	if err != nil {
		return model.Task{}, err
	}

	applyTaskPatch(&t, p)
	t.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, completed = ?, date = ?, category_id = ?,
			frequency = ?, custom_frequency_months = ?, value = ?, time = ?, updated_at = ?
		WHERE id = ? AND user_id = ?;`,
		t.Title, t.Description, boolInt(t.Completed), t.Date, t.CategoryID,
		string(t.Frequency), t.CustomFrequencyMonths, t.Value, t.Time,
		formatTimestamp(t.UpdatedAt), id, userID)
	if err != nil {
		return model.Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Task{}, err
	}
	return t, nil
}

func (s *SQLite) DeleteTask(ctx context.Context, userID string, id model.TaskID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?;`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	// Cascade: a template's completion records make no sense without it.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM task_completions WHERE task_id = ? AND user_id = ?;`, id, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) ListTasks(ctx context.Context, userID string) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY created_at DESC, id;`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

const categoryColumns = `id, name, color, sort_order, user_id, created_at, updated_at`

func scanCategory(row interface{ Scan(...any) error }) (model.Category, error) {
	var c model.Category
	var createdStr, updatedStr string
	err := row.Scan(&c.ID, &c.Name, &c.Color, &c.SortOrder, &c.UserID, &createdStr, &updatedStr)
	if err != nil {
		return model.Category{}, err
	}
	c.CreatedAt = parseTimestamp(createdStr)
	c.UpdatedAt = parseTimestamp(updatedStr)
	return c, nil
}

func (s *SQLite) CreateCategory(ctx context.Context, c model.Category) (model.Category, error) {
	c.ID = uuid.NewString()
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (`+categoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		c.ID, c.Name, c.Color, c.SortOrder, c.UserID, formatTimestamp(now), formatTimestamp(now))
	if err != nil {
		return model.Category{}, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

func (s *SQLite) UpdateCategory(ctx context.Context, userID string, id model.CategoryID, p model.CategoryPatch) (model.Category, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Category{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = ? AND user_id = ?;`, id, userID)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Category{}, ErrNotFound
	}
	if err != nil {
		return model.Category{}, err
	}

	applyCategoryPatch(&c, p)
	c.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE categories SET name = ?, color = ?, sort_order = ?, updated_at = ? WHERE id = ? AND user_id = ?;`,
		c.Name, c.Color, c.SortOrder, formatTimestamp(c.UpdatedAt), id, userID)
	if err != nil {
		return model.Category{}, fmt.Errorf("update category: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Category{}, err
	}
	return c, nil
}

func (s *SQLite) DeleteCategory(ctx context.Context, userID string, id model.CategoryID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM categories WHERE id = ? AND user_id = ?;`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListCategories(ctx context.Context, userID string) ([]model.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE user_id = ? ORDER BY sort_order, name;`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cats := []model.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (s *SQLite) ListCompletions(ctx context.Context, userID string) ([]Completion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, instance_date, user_id FROM task_completions WHERE user_id = ? ORDER BY task_id, instance_date;`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Completion{}
	for rows.Next() {
		var c Completion
		if err := rows.Scan(&c.TaskID, &c.InstanceDate, &c.UserID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ToggleTaskInstanceCompletion flips one occurrence inside a single
// transaction so concurrent toggles cannot interleave reads and writes.
func (s *SQLite) ToggleTaskInstanceCompletion(ctx context.Context, taskID model.TaskID, instanceDate, userID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var frequency string
	var completed int
	err = tx.QueryRowContext(ctx,
		`SELECT frequency, completed FROM tasks WHERE id = ? AND user_id = ?;`, taskID, userID).
		Scan(&frequency, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}

	if !model.Frequency(frequency).IsRecurring() {
		next := completed == 0
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET completed = ?, updated_at = ? WHERE id = ? AND user_id = ?;`,
			boolInt(next), formatTimestamp(time.Now().UTC()), taskID, userID); err != nil {
			return false, err
		}
		return next, tx.Commit()
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM task_completions WHERE task_id = ? AND instance_date = ? AND user_id = ?;`,
		taskID, instanceDate, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO task_completions (task_id, instance_date, user_id) VALUES (?, ?, ?);`,
		taskID, instanceDate, userID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *SQLite) UndoTaskInstanceCompletion(ctx context.Context, taskID model.TaskID, instanceDate, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var frequency string
	err = tx.QueryRowContext(ctx,
		`SELECT frequency FROM tasks WHERE id = ? AND user_id = ?;`, taskID, userID).
		Scan(&frequency)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if !model.Frequency(frequency).IsRecurring() {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET completed = 0, updated_at = ? WHERE id = ? AND user_id = ?;`,
			formatTimestamp(time.Now().UTC()), taskID, userID); err != nil {
			return err
		}
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM task_completions WHERE task_id = ? AND instance_date = ? AND user_id = ?;`,
		taskID, instanceDate, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Set("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}
