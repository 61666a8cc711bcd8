package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"dolores/internal/dateutil"
	"dolores/internal/model"
	"dolores/internal/store"
)

// Handler exposes the coordinator over /api. The resolver picks the
// per-user coordinator from the request's session.
type Handler struct {
	resolver func(*http.Request) *Coordinator
}

func NewHandler(resolver func(*http.Request) *Coordinator) *Handler {
	return &Handler{resolver: resolver}
}

func (h *Handler) coordinator(w http.ResponseWriter, r *http.Request) *Coordinator {
	c := h.resolver(r)
	if c == nil {
		writeErr(w, http.StatusUnauthorized, "no session")
	}
	return c
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

func writeStoreErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, model.ErrMissingTitle),
		errors.Is(err, model.ErrBadCustom),
		errors.Is(err, model.ErrNegativeValue),
		errors.Is(err, model.ErrBadTime),
		errors.Is(err, model.ErrMissingCategoryName),
		errors.Is(err, model.ErrUnknownFrequency),
		errors.Is(err, dateutil.ErrBadDate):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrLastCategory):
		writeErr(w, http.StatusConflict, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}

// /api/tasks  (collection)
func (h *Handler) TasksRoot(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, c.Tasks())

	case http.MethodPost:
		var in model.TaskUpsert
		if err := decodeJSON(r, &in); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		t, err := c.CreateTask(r.Context(), in)
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, t)

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// /api/tasks/{id} and /api/tasks/{id}/{action}
func (h *Handler) TasksSub(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}

	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tasks/"), "/")
	if tail == "" {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	parts := strings.Split(tail, "/")
	id := model.TaskID(parts[0])

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodPatch:
			var p model.TaskPatch
			if err := decodeJSON(r, &p); err != nil {
				writeErr(w, http.StatusBadRequest, "bad json")
				return
			}
			t, err := c.UpdateTask(r.Context(), id, p)
			if err != nil {
				writeStoreErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, t)

		case http.MethodDelete:
			if err := c.DeleteTask(r.Context(), id); err != nil {
				writeStoreErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})

		default:
			writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if len(parts) == 2 && parts[1] == "calendar.ics" {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		t, ok := c.Task(id)
		if !ok {
			writeErr(w, http.StatusNotFound, "not found")
			return
		}
		ics, err := BuildTaskCalendarICS(t, time.Now())
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="task.ics"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(ics))
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		var in struct {
			InstanceDate string `json:"instanceDate"`
		}
		if err := decodeJSON(r, &in); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		if strings.TrimSpace(in.InstanceDate) == "" {
			writeErr(w, http.StatusBadRequest, `missing field "instanceDate"`)
			return
		}

		switch parts[1] {
		case "toggle":
			completed, err := c.ToggleInstance(r.Context(), id, in.InstanceDate)
			if err != nil {
				writeStoreErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"taskId":       id,
				"instanceDate": in.InstanceDate,
				"completed":    completed,
			})
			return

		case "undo":
			if err := c.UndoInstance(r.Context(), id, in.InstanceDate); err != nil {
				writeStoreErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"taskId":       id,
				"instanceDate": in.InstanceDate,
				"completed":    false,
			})
			return
		}
	}

	writeErr(w, http.StatusNotFound, "not found")
}

// /api/categories  (collection)
func (h *Handler) CategoriesRoot(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, c.Categories())

	case http.MethodPost:
		var in model.Category
		if err := decodeJSON(r, &in); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		cat, err := c.CreateCategory(r.Context(), in)
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, cat)

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// /api/categories/{id}
func (h *Handler) CategoriesSub(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/categories/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var p model.CategoryPatch
		if err := decodeJSON(r, &p); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		cat, err := c.UpdateCategory(r.Context(), model.CategoryID(id), p)
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cat)

	case http.MethodDelete:
		if err := c.DeleteCategory(r.Context(), model.CategoryID(id)); err != nil {
			writeStoreErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func viewQuery(r *http.Request) (ViewMode, dateutil.Date, ViewFilter, error) {
	q := r.URL.Query()

	mode, err := ParseViewMode(q.Get("mode"))
	if err != nil {
		return "", dateutil.Date{}, ViewFilter{}, err
	}

	pivot := dateutil.Today()
	if s := strings.TrimSpace(q.Get("date")); s != "" {
		pivot, err = dateutil.Parse(s)
		if err != nil {
			return "", dateutil.Date{}, ViewFilter{}, err
		}
	}

	filter := ViewFilter{CategoryID: strings.TrimSpace(q.Get("category"))}
	switch f := CompletionFilter(strings.ToLower(strings.TrimSpace(q.Get("completion")))); f {
	case FilterCompleted, FilterPending:
		filter.Completion = f
	case FilterAll, "":
		filter.Completion = FilterAll
	default:
		return "", dateutil.Date{}, ViewFilter{}, errors.New(`completion must be "all", "completed" or "pending"`)
	}

	return mode, pivot, filter, nil
}

// /api/views/tasks?mode=week&date=2026-09-01&category=...&completion=pending
func (h *Handler) ViewTasks(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	mode, pivot, filter, err := viewQuery(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	instances, err := c.TasksForView(mode, pivot, filter)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	start, end, _ := ViewRange(mode, pivot)
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":      mode,
		"start":     start.String(),
		"end":       end.String(),
		"status":    c.Status(),
		"instances": instances,
	})
}

// /api/views/totals?mode=month&date=2026-09-01
func (h *Handler) ViewTotals(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	mode, pivot, filter, err := viewQuery(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	totals, err := c.TotalsForView(mode, pivot, filter)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// /api/search?q=groceries
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	c := h.coordinator(w, r)
	if c == nil {
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, c.SearchTasks(r.URL.Query().Get("q")))
}
