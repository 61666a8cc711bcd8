// Package serverapp wires the HTTP surface: storage, auth, per-user
// coordinators and the route table.
package serverapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"dolores/internal/app"
	"dolores/internal/auth"
	"dolores/internal/config"
	"dolores/internal/httpmw"
	"dolores/internal/model"
	"dolores/internal/store"
)

type Options struct {
	Config *config.Config
	Logger *log.Logger
}

// App owns the wired server and its storage handle.
type App struct {
	handler http.Handler
	store   *store.SQLite
	logger  *log.Logger
	cfg     *config.Config

	coordMu sync.Mutex
	coords  map[string]*app.Coordinator
}

func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	st, err := store.OpenSQLite(opts.Config.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	a := &App{
		store:  st,
		logger: opts.Logger,
		cfg:    opts.Config,
		coords: map[string]*app.Coordinator{},
	}

	authRepo := auth.NewRepo(st.DB())
	authService := auth.NewService(authRepo, opts.Logger)
	authService.SetSessionTTL(opts.Config.SessionTTL())
	authService.SetBcryptCost(opts.Config.Auth.BcryptCost)
	authHandler := auth.NewHandler(authService)

	appHandler := app.NewHandler(func(r *http.Request) *app.Coordinator {
		u, ok := auth.UserFromContext(r.Context())
		if !ok {
			return nil
		}
		return a.coordinatorFor(r.Context(), u.ID)
	})

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "dolores",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := st.DB().PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":    false,
				"error": "storage unavailable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "dolores",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/api/auth/signup", authHandler.SignUp)
	mux.HandleFunc("/api/auth/signin", authHandler.SignIn)
	mux.HandleFunc("/api/auth/session", authHandler.Session)
	mux.HandleFunc("/api/auth/signout", authHandler.SignOut)
	mux.HandleFunc("/api/auth/request-reset", authHandler.RequestReset)
	mux.HandleFunc("/api/auth/reset-password", authHandler.ResetPassword)
	mux.Handle("/api/auth/change-password", authService.RequireAPI(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("/api/auth/push-token", authService.RequireAPI(http.HandlerFunc(authHandler.PushToken)))

	mux.Handle("/api/tasks", authService.RequireAPI(http.HandlerFunc(appHandler.TasksRoot)))
	mux.Handle("/api/tasks/", authService.RequireAPI(http.HandlerFunc(appHandler.TasksSub)))
	mux.Handle("/api/categories", authService.RequireAPI(http.HandlerFunc(appHandler.CategoriesRoot)))
	mux.Handle("/api/categories/", authService.RequireAPI(http.HandlerFunc(appHandler.CategoriesSub)))
	mux.Handle("/api/views/tasks", authService.RequireAPI(http.HandlerFunc(appHandler.ViewTasks)))
	mux.Handle("/api/views/totals", authService.RequireAPI(http.HandlerFunc(appHandler.ViewTotals)))
	mux.Handle("/api/search", authService.RequireAPI(http.HandlerFunc(appHandler.Search)))

	mux.Handle("/api/config", authService.RequireAPI(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(opts.Config); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})))

	a.handler = httpmw.Chain(
		mux,
		httpmw.WithAccessLog(opts.Logger),
		httpmw.WithRequestID,
		httpmw.WithRecover(opts.Logger),
	)
	return a, nil
}

func (a *App) Handler() http.Handler { return a.handler }

func (a *App) Close() error { return a.store.Close() }

// coordinatorFor returns the user's coordinator, creating and loading it
// on first use. A load failure still yields a coordinator; it serves
// empty state with a disconnected status and the next request retries.
func (a *App) coordinatorFor(ctx context.Context, userID string) *app.Coordinator {
	a.coordMu.Lock()
	c, ok := a.coords[userID]
	if !ok {
		c = app.NewCoordinator(a.store, a.logger, userID, a.cfg.LoadTimeout())
		a.coords[userID] = c
	}
	a.coordMu.Unlock()

	if c.Status() != app.StatusConnected {
		if err := c.Load(ctx); err != nil {
			return c
		}
		a.ensureDefaultCategory(ctx, c)
	}
	return c
}

// ensureDefaultCategory seeds the starter category so the last-category
// rule always has one row to protect.
func (a *App) ensureDefaultCategory(ctx context.Context, c *app.Coordinator) {
	if len(c.Categories()) > 0 {
		return
	}
	_, err := c.CreateCategory(ctx, model.Category{
		Name:  a.cfg.Views.DefaultCategoryName,
		Color: a.cfg.Views.DefaultCategoryColor,
	})
	if err != nil {
		a.logger.Warn("could not seed default category", "err", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
