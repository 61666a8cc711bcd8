package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dolores/internal/model"
	"dolores/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, *Coordinator) {
	t.Helper()
	c := NewCoordinator(store.NewMemory(), nil, "u1", time.Second)
	require.NoError(t, c.Load(context.Background()))
	h := NewHandler(func(*http.Request) *Coordinator { return c })
	return h, c
}

func doJSON(t *testing.T, fn http.HandlerFunc, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func TestTasksRoot_CreateAndList(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.TasksRoot, http.MethodPost, "/api/tasks", model.TaskUpsert{
		Title: "Pagar aluguel", Date: "2026-03-10", Frequency: model.FreqMonthly, Value: 150000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created model.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.FreqMonthly, created.Frequency)

	rec = doJSON(t, h.TasksRoot, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []model.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)
}

func TestTasksRoot_RejectsInvalidPayloads(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.TasksRoot, http.MethodPost, "/api/tasks", model.TaskUpsert{Date: "2026-03-10"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.TasksRoot, http.MethodPost, "/api/tasks", model.TaskUpsert{
		Title: "x", Date: "2026-03-10", Frequency: "fortnightly",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.TasksRoot, http.MethodDelete, "/api/tasks", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTasksSub_PatchToggleUndoDelete(t *testing.T) {
	h, c := newTestHandler(t)
	ctx := context.Background()

	task, err := c.CreateTask(ctx, model.TaskUpsert{
		Title: "Diaria", Date: "2026-03-08", Frequency: model.FreqDaily,
	})
	require.NoError(t, err)

	rec := doJSON(t, h.TasksSub, http.MethodPatch, "/api/tasks/"+task.ID, map[string]any{
		"title": "Diaria renomeada",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h.TasksSub, http.MethodPost, "/api/tasks/"+task.ID+"/toggle", map[string]any{
		"instanceDate": "2026-03-09",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var toggled struct {
		Completed bool `json:"completed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &toggled))
	assert.True(t, toggled.Completed)

	rec = doJSON(t, h.TasksSub, http.MethodPost, "/api/tasks/"+task.ID+"/undo", map[string]any{
		"instanceDate": "2026-03-09",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h.TasksSub, http.MethodPost, "/api/tasks/"+task.ID+"/toggle", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing instanceDate must be rejected")

	rec = doJSON(t, h.TasksSub, http.MethodDelete, "/api/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h.TasksSub, http.MethodPatch, "/api/tasks/"+task.ID, map[string]any{"title": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTasksSub_CalendarExport(t *testing.T) {
	h, c := newTestHandler(t)

	task, err := c.CreateTask(context.Background(), model.TaskUpsert{
		Title: "Revisao trimestral", Date: "2026-01-15",
		Frequency: model.FreqCustom, CustomFrequencyMonths: 3,
	})
	require.NoError(t, err)

	rec := doJSON(t, h.TasksSub, http.MethodGet, "/api/tasks/"+task.ID+"/calendar.ics", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"SUMMARY:Revisao trimestral",
		"DTSTART;VALUE=DATE:20260115",
		"RRULE:FREQ=MONTHLY;INTERVAL=3",
		"END:VCALENDAR",
	} {
		assert.Contains(t, body, want)
	}
}

func TestCategories_LastCategoryRefusalOverHTTP(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.CategoriesRoot, http.MethodPost, "/api/categories", map[string]any{
		"name": "Geral",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var cat model.Category
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cat))
	assert.Equal(t, "#6366f1", cat.Color, "color defaults when omitted")

	rec = doJSON(t, h.CategoriesSub, http.MethodDelete, "/api/categories/"+cat.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestViewTasks_QueryParameters(t *testing.T) {
	h, c := newTestHandler(t)
	ctx := context.Background()

	_, err := c.CreateTask(ctx, model.TaskUpsert{
		Title: "Diaria", Date: "2026-03-08", Frequency: model.FreqDaily,
	})
	require.NoError(t, err)

	rec := doJSON(t, h.ViewTasks, http.MethodGet, "/api/views/tasks?mode=week&date=2026-03-11", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Mode      string               `json:"mode"`
		Start     string               `json:"start"`
		End       string               `json:"end"`
		Status    string               `json:"status"`
		Instances []model.TaskInstance `json:"instances"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "week", out.Mode)
	assert.Equal(t, "2026-03-08", out.Start)
	assert.Equal(t, "2026-03-14", out.End)
	assert.Equal(t, string(StatusConnected), out.Status)
	assert.Len(t, out.Instances, 7)

	rec = doJSON(t, h.ViewTasks, http.MethodGet, "/api/views/tasks?mode=decade", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.ViewTasks, http.MethodGet, "/api/views/tasks?date=03-11-2026", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestViewTotals_Endpoint(t *testing.T) {
	h, c := newTestHandler(t)
	ctx := context.Background()

	_, err := c.CreateTask(ctx, model.TaskUpsert{Title: "Conta", Date: "2026-03-12", Value: 9900})
	require.NoError(t, err)

	rec := doJSON(t, h.ViewTotals, http.MethodGet, "/api/views/totals?mode=month&date=2026-03-01", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var totals Totals
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &totals))
	assert.Equal(t, int64(9900), totals.Total)
	assert.Equal(t, int64(9900), totals.Pending)
	assert.Equal(t, "R$ 99,00", totals.FormattedTotal)
	assert.Equal(t, "R$ 0,00", totals.FormattedCompleted)
	assert.Equal(t, "R$ 99,00", totals.FormattedPending)
}

func TestHandler_NoCoordinatorIsUnauthorized(t *testing.T) {
	h := NewHandler(func(*http.Request) *Coordinator { return nil })
	rec := doJSON(t, h.TasksRoot, http.MethodGet, "/api/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
