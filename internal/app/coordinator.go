// Package app is the per-user coordinator between HTTP handlers and the
// row store. It keeps an in-memory mirror of the user's rows, answers view
// queries through the recurrence engine, and reconciles the mirror from
// the row each mutation returns.
package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"dolores/internal/currency"
	"dolores/internal/dateutil"
	"dolores/internal/model"
	"dolores/internal/recur"
	"dolores/internal/store"
)

var (
	ErrLastCategory = errors.New("cannot delete the last remaining category")
	ErrBadView      = errors.New("unknown view mode")
)

// ViewMode selects the calendar window a query covers.
type ViewMode string

const (
	ViewDay   ViewMode = "day"
	ViewWeek  ViewMode = "week"
	ViewMonth ViewMode = "month"
	ViewYear  ViewMode = "year"
)

func ParseViewMode(s string) (ViewMode, error) {
	switch m := ViewMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ViewDay, ViewWeek, ViewMonth, ViewYear:
		return m, nil
	case "":
		return ViewDay, nil
	default:
		return "", ErrBadView
	}
}

// CompletionFilter narrows instances by resolved completion state.
type CompletionFilter string

const (
	FilterAll       CompletionFilter = "all"
	FilterCompleted CompletionFilter = "completed"
	FilterPending   CompletionFilter = "pending"
)

// ViewFilter narrows a view query. Zero value means no narrowing.
type ViewFilter struct {
	CategoryID string
	Completion CompletionFilter
}

// Status reports whether the mirror reflects the row store.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Totals sums instance values for a view window, in cents, with the
// display strings rendered alongside.
type Totals struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Pending   int64 `json:"pending"`
	Count     int   `json:"count"`

	FormattedTotal     string `json:"formattedTotal"`
	FormattedCompleted string `json:"formattedCompleted"`
	FormattedPending   string `json:"formattedPending"`
}

// Coordinator owns one user's cached state. All exported methods are safe
// for concurrent use; mutations serialize per entity so the mirror never
// interleaves two writes to the same kind of row.
type Coordinator struct {
	store  store.Store
	engine *recur.Engine
	logger *log.Logger
	userID string

	loadTimeout time.Duration

	mu          sync.RWMutex
	tasks       []model.Task
	categories  []model.Category
	completions recur.CompletionMap
	status      Status
	loaded      bool

	taskMu     sync.Mutex
	categoryMu sync.Mutex

	toggleMu sync.Mutex
	inFlight map[string]*toggleFlight // instance key
}

// toggleFlight is a toggle in progress. Callers that arrive while it is
// running wait on done and share its outcome.
type toggleFlight struct {
	done      chan struct{}
	completed bool
	err       error
}

func NewCoordinator(st store.Store, logger *log.Logger, userID string, loadTimeout time.Duration) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	if loadTimeout <= 0 {
		loadTimeout = 10 * time.Second
	}
	return &Coordinator{
		store:       st,
		engine:      recur.NewEngine(logger),
		logger:      logger.With("user", userID),
		userID:      userID,
		loadTimeout: loadTimeout,
		completions: recur.CompletionMap{},
		status:      StatusDisconnected,
		inFlight:    map[string]*toggleFlight{},
	}
}

// Load fills the mirror from the store. A failed or timed-out load marks
// the coordinator disconnected instead of blocking callers; any rows from
// an earlier successful load keep serving in the meantime.
func (c *Coordinator) Load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()

	tasks, err := c.store.ListTasks(ctx, c.userID)
	if err != nil {
		return c.degrade("load tasks", err)
	}
	categories, err := c.store.ListCategories(ctx, c.userID)
	if err != nil {
		return c.degrade("load categories", err)
	}
	completions, err := c.store.ListCompletions(ctx, c.userID)
	if err != nil {
		return c.degrade("load completions", err)
	}

	cm := recur.CompletionMap{}
	for _, rec := range completions {
		cm[model.InstanceKey(rec.TaskID, rec.InstanceDate)] = true
	}

	c.mu.Lock()
	c.tasks = tasks
	c.categories = categories
	c.completions = cm
	c.status = StatusConnected
	c.loaded = true
	c.mu.Unlock()

	c.logger.Info("state loaded", "tasks", len(tasks), "categories", len(categories), "completions", len(completions))
	return nil
}

// degrade marks the mirror disconnected. A reload failure keeps the
// previously loaded rows so views stay usable; only a coordinator that
// never loaded falls back to empty state.
func (c *Coordinator) degrade(op string, err error) error {
	c.mu.Lock()
	c.status = StatusDisconnected
	if !c.loaded {
		c.tasks = nil
		c.categories = nil
		c.completions = recur.CompletionMap{}
	}
	stale := c.loaded
	c.mu.Unlock()

	c.logger.Error("store unavailable", "op", op, "stale_cache", stale, "err", err)
	return err
}

func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Tasks returns the cached templates, newest first.
func (c *Coordinator) Tasks() []model.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// Task looks up one cached template.
func (c *Coordinator) Task(id model.TaskID) (model.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return model.Task{}, false
}

func (c *Coordinator) Categories() []model.Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Category, len(c.categories))
	copy(out, c.categories)
	return out
}

// ViewRange resolves a mode and pivot into the inclusive window the view
// covers.
func ViewRange(mode ViewMode, pivot dateutil.Date) (dateutil.Date, dateutil.Date, error) {
	switch mode {
	case ViewDay:
		return pivot, pivot, nil
	case ViewWeek:
		start, end := dateutil.WeekRange(pivot)
		return start, end, nil
	case ViewMonth:
		start, end := dateutil.MonthRange(pivot)
		return start, end, nil
	case ViewYear:
		start, end := dateutil.YearRange(pivot)
		return start, end, nil
	default:
		return dateutil.Date{}, dateutil.Date{}, ErrBadView
	}
}

// snapshot copies the cached templates and completion map so expansion
// can run without holding the lock while mutations rewrite the cache.
func (c *Coordinator) snapshot() ([]model.Task, recur.CompletionMap) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tasks := make([]model.Task, len(c.tasks))
	copy(tasks, c.tasks)
	completions := make(recur.CompletionMap, len(c.completions))
	for key, done := range c.completions {
		completions[key] = done
	}
	return tasks, completions
}

// TasksForView expands the cached templates over the window that mode and
// pivot describe, then applies the filter.
func (c *Coordinator) TasksForView(mode ViewMode, pivot dateutil.Date, filter ViewFilter) ([]model.TaskInstance, error) {
	start, end, err := ViewRange(mode, pivot)
	if err != nil {
		return nil, err
	}

	tasks, completions := c.snapshot()
	instances := c.engine.InstancesForRange(tasks, start, end, completions)
	return applyFilter(instances, filter), nil
}

// TasksForDate is the single-day expansion used by calendar cells.
func (c *Coordinator) TasksForDate(date dateutil.Date, filter ViewFilter) []model.TaskInstance {
	tasks, completions := c.snapshot()
	return applyFilter(c.engine.InstancesForDate(tasks, date, completions), filter)
}

func applyFilter(in []model.TaskInstance, f ViewFilter) []model.TaskInstance {
	out := make([]model.TaskInstance, 0, len(in))
	for _, inst := range in {
		if f.CategoryID != "" && inst.CategoryID != f.CategoryID {
			continue
		}
		switch f.Completion {
		case FilterCompleted:
			if !inst.Completed {
				continue
			}
		case FilterPending:
			if inst.Completed {
				continue
			}
		}
		out = append(out, inst)
	}
	return out
}

// SearchTasks matches the query case-insensitively against template titles
// and descriptions.
func (c *Coordinator) SearchTasks(query string) []model.Task {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []model.Task{}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := []model.Task{}
	for _, t := range c.tasks {
		if strings.Contains(strings.ToLower(t.Title), q) ||
			strings.Contains(strings.ToLower(t.Description), q) {
			out = append(out, t)
		}
	}
	return out
}

// TotalsForView sums instance values over a view window.
func (c *Coordinator) TotalsForView(mode ViewMode, pivot dateutil.Date, filter ViewFilter) (Totals, error) {
	instances, err := c.TasksForView(mode, pivot, filter)
	if err != nil {
		return Totals{}, err
	}
	var tot Totals
	for _, inst := range instances {
		tot.Total += inst.Value
		if inst.Completed {
			tot.Completed += inst.Value
		} else {
			tot.Pending += inst.Value
		}
	}
	tot.Count = len(instances)
	tot.FormattedTotal = currency.FormatCents(tot.Total)
	tot.FormattedCompleted = currency.FormatCents(tot.Completed)
	tot.FormattedPending = currency.FormatCents(tot.Pending)
	return tot, nil
}

func (c *Coordinator) CreateTask(ctx context.Context, in model.TaskUpsert) (model.Task, error) {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()

	t := model.Task{
		Title:                 in.Title,
		Description:           in.Description,
		Completed:             in.Completed,
		Date:                  in.Date,
		CategoryID:            in.CategoryID,
		UserID:                c.userID,
		Frequency:             in.Frequency,
		CustomFrequencyMonths: in.CustomFrequencyMonths,
		Value:                 in.Value,
		Time:                  in.Time,
	}
	if err := t.Validate(); err != nil {
		return model.Task{}, err
	}

	created, err := c.store.CreateTask(ctx, t)
	if err != nil {
		return model.Task{}, err
	}

	c.mu.Lock()
	c.tasks = append([]model.Task{created}, c.tasks...)
	c.mu.Unlock()
	return created, nil
}

func (c *Coordinator) UpdateTask(ctx context.Context, id model.TaskID, p model.TaskPatch) (model.Task, error) {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()

	if p.Frequency != nil {
		f, err := model.ParseFrequency(string(*p.Frequency))
		if err != nil {
			return model.Task{}, err
		}
		p.Frequency = &f
		if f == model.FreqCustom && (p.CustomFrequencyMonths == nil || *p.CustomFrequencyMonths < 1) {
			return model.Task{}, model.ErrBadCustom
		}
	}
	if p.Date != nil {
		if _, err := dateutil.Parse(*p.Date); err != nil {
			return model.Task{}, err
		}
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return model.Task{}, model.ErrMissingTitle
	}
	if p.Value != nil && *p.Value < 0 {
		return model.Task{}, model.ErrNegativeValue
	}

	updated, err := c.store.UpdateTask(ctx, c.userID, id, p)
	if err != nil {
		return model.Task{}, err
	}

	c.mu.Lock()
	for i := range c.tasks {
		if c.tasks[i].ID == id {
			c.tasks[i] = updated
			break
		}
	}
	c.mu.Unlock()
	return updated, nil
}

// DeleteTask removes the template and every cached completion derived
// from it, matching the store-side cascade.
func (c *Coordinator) DeleteTask(ctx context.Context, id model.TaskID) error {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()

	if err := c.store.DeleteTask(ctx, c.userID, id); err != nil {
		return err
	}

	c.mu.Lock()
	kept := c.tasks[:0]
	for _, t := range c.tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	c.tasks = kept
	prefix := string(id) + "-"
	for key := range c.completions {
		if strings.HasPrefix(key, prefix) {
			delete(c.completions, key)
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) CreateCategory(ctx context.Context, cat model.Category) (model.Category, error) {
	c.categoryMu.Lock()
	defer c.categoryMu.Unlock()

	cat.UserID = c.userID
	if err := cat.Validate(); err != nil {
		return model.Category{}, err
	}
	created, err := c.store.CreateCategory(ctx, cat)
	if err != nil {
		return model.Category{}, err
	}

	c.mu.Lock()
	c.categories = append(c.categories, created)
	sortCategories(c.categories)
	c.mu.Unlock()
	return created, nil
}

func (c *Coordinator) UpdateCategory(ctx context.Context, id model.CategoryID, p model.CategoryPatch) (model.Category, error) {
	c.categoryMu.Lock()
	defer c.categoryMu.Unlock()

	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return model.Category{}, model.ErrMissingCategoryName
	}

	updated, err := c.store.UpdateCategory(ctx, c.userID, id, p)
	if err != nil {
		return model.Category{}, err
	}

	c.mu.Lock()
	for i := range c.categories {
		if c.categories[i].ID == id {
			c.categories[i] = updated
			break
		}
	}
	sortCategories(c.categories)
	c.mu.Unlock()
	return updated, nil
}

// DeleteCategory refuses to drop the user's last category. The refusal is
// decided on cached state and never reaches the store.
func (c *Coordinator) DeleteCategory(ctx context.Context, id model.CategoryID) error {
	c.categoryMu.Lock()
	defer c.categoryMu.Unlock()

	c.mu.RLock()
	remaining := len(c.categories)
	c.mu.RUnlock()
	if remaining <= 1 {
		return ErrLastCategory
	}

	if err := c.store.DeleteCategory(ctx, c.userID, id); err != nil {
		return err
	}

	c.mu.Lock()
	kept := c.categories[:0]
	for _, cat := range c.categories {
		if cat.ID != id {
			kept = append(kept, cat)
		}
	}
	c.categories = kept
	c.mu.Unlock()
	return nil
}

func sortCategories(cats []model.Category) {
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].SortOrder != cats[j].SortOrder {
			return cats[i].SortOrder < cats[j].SortOrder
		}
		return cats[i].Name < cats[j].Name
	})
}

// ToggleInstance flips one occurrence's completion in the store and
// reconciles the mirror with the returned state. Concurrent toggles for
// the same occurrence collapse into one store call: later callers wait
// for the in-flight toggle and share its result, so rapid double-clicks
// cannot ping-pong a record.
func (c *Coordinator) ToggleInstance(ctx context.Context, taskID model.TaskID, instanceDate string) (bool, error) {
	if _, err := dateutil.Parse(instanceDate); err != nil {
		return false, err
	}

	key := model.InstanceKey(taskID, instanceDate)
	c.toggleMu.Lock()
	if f, ok := c.inFlight[key]; ok {
		c.toggleMu.Unlock()
		<-f.done
		return f.completed, f.err
	}
	f := &toggleFlight{done: make(chan struct{})}
	c.inFlight[key] = f
	c.toggleMu.Unlock()

	f.completed, f.err = c.store.ToggleTaskInstanceCompletion(ctx, taskID, instanceDate, c.userID)
	if f.err == nil {
		c.reconcileCompletion(taskID, instanceDate, f.completed)
	}

	c.toggleMu.Lock()
	delete(c.inFlight, key)
	c.toggleMu.Unlock()
	close(f.done)

	return f.completed, f.err
}

// UndoInstance forces an occurrence back to pending regardless of its
// current state.
func (c *Coordinator) UndoInstance(ctx context.Context, taskID model.TaskID, instanceDate string) error {
	if _, err := dateutil.Parse(instanceDate); err != nil {
		return err
	}
	if err := c.store.UndoTaskInstanceCompletion(ctx, taskID, instanceDate, c.userID); err != nil {
		return err
	}
	c.reconcileCompletion(taskID, instanceDate, false)
	return nil
}

func (c *Coordinator) reconcileCompletion(taskID model.TaskID, instanceDate string, completed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.tasks {
		if c.tasks[i].ID != taskID {
			continue
		}
		if !c.tasks[i].Frequency.IsRecurring() {
			c.tasks[i].Completed = completed
			return
		}
		break
	}

	key := model.InstanceKey(taskID, instanceDate)
	if completed {
		c.completions[key] = true
	} else {
		delete(c.completions, key)
	}
}
