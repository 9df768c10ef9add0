// Package api serves the read-only status API of berth.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/polarfoxDev/berth/internal/auth"
	"github.com/polarfoxDev/berth/internal/logging"
	"github.com/polarfoxDev/berth/internal/model"
	"github.com/polarfoxDev/berth/internal/runner"
	"github.com/polarfoxDev/berth/internal/state"
)

// StatusSource provides the current operator view
type StatusSource interface {
	Status() (runner.Status, error)
}

// RunStore is the read side of the run history
type RunStore interface {
	GetRuns(ctx context.Context, configID int, limit int) ([]*model.Run, error)
	GetRunByID(ctx context.Context, runID int) (*model.Run, error)
	LatestRuns(ctx context.Context) (map[int]*model.Run, error)
}

// LogStore returns the log lines of one sync attempt
type LogStore interface {
	QueryByRun(runID int, limit int) ([]logging.LogEntry, error)
}

type Options struct {
	Status      StatusSource
	Runs        RunStore   // optional
	Logs        LogStore   // optional
	Auth        *auth.Auth // optional
	CORSOrigins []string   // added to DefaultCORSOrigins
	AccessLog   bool
}

// DefaultCORSOrigins allows local development frontends
var DefaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://localhost:8080",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
	"http://127.0.0.1:8080",
}

// NewRouter builds the router for the status API; callers may mount more routes outside /api
func NewRouter(opts Options) *chi.Mux {
	if opts.Auth == nil {
		opts.Auth = auth.New("")
	}
	origins := append(append([]string(nil), DefaultCORSOrigins...), opts.CORSOrigins...)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handleHealth())
		r.Post("/login", handleLogin(opts.Auth))
		r.Post("/logout", handleLogout(opts.Auth))

		r.Group(func(r chi.Router) {
			r.Use(opts.Auth.Middleware)

			r.Get("/status", handleStatus(opts.Status, opts.Runs))
			r.Route("/runs", func(r chi.Router) {
				r.Get("/", handleGetRuns(opts.Runs))
				r.Get("/{id}", handleGetRun(opts.Runs))
				r.Get("/{id}/logs", handleGetRunLogs(opts.Logs))
			})
		})
	})

	return r
}

// Health check endpoint
func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]any{
			"status": "ok",
			"time":   time.Now().UTC(),
		})
	}
}

// POST /api/login - exchange the password for a token
func handleLogin(a *auth.Auth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.IsEnabled() {
			respondJSON(w, map[string]any{"authEnabled": false})
			return
		}

		var body struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if !a.ValidatePassword(body.Password) {
			respondError(w, http.StatusUnauthorized, "Invalid password")
			return
		}

		token, err := a.GenerateToken()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to create token")
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     auth.CookieName,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
			MaxAge:   int(auth.TokenExpiry.Seconds()),
		})
		respondJSON(w, map[string]any{"authEnabled": true, "token": token})
	}
}

// POST /api/logout - drop the current token
func handleLogout(a *auth.Auth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := a.GetTokenFromRequest(r); token != "" {
			a.InvalidateToken(token)
		}
		http.SetCookie(w, &http.Cookie{Name: auth.CookieName, Value: "", Path: "/", MaxAge: -1})
		respondJSON(w, map[string]any{"ok": true})
	}
}

type statusResponse struct {
	runner.Status
	LatestRuns map[int]*model.Run `json:"latestRuns,omitempty"`
}

// GET /api/status - destination, configurations and their staleness
func handleStatus(src StatusSource, runs RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := src.Status()
		if err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read state: %v", err))
			return
		}
		resp := statusResponse{Status: st}
		if runs != nil {
			latest, err := runs.LatestRuns(r.Context())
			if err != nil {
				log.Printf("latest runs: %v", err)
			} else {
				resp.LatestRuns = latest
			}
		}
		respondJSON(w, resp)
	}
}

// GET /api/runs?config=ID&limit=N - run history, newest first
func handleGetRuns(runs RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runs == nil {
			respondError(w, http.StatusServiceUnavailable, "Run history not available")
			return
		}
		configID, err := queryInt(r, "config", 0)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid config ID")
			return
		}
		limit, err := queryInt(r, "limit", 100)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}

		list, err := runs.GetRuns(r.Context(), configID, limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get runs: %v", err))
			return
		}
		respondJSON(w, list)
	}
}

// GET /api/runs/{id} - a single run
func handleGetRun(runs RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runs == nil {
			respondError(w, http.StatusServiceUnavailable, "Run history not available")
			return
		}
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil || id <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid run ID")
			return
		}
		run, err := runs.GetRunByID(r.Context(), id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get run: %v", err))
			return
		}
		if run == nil {
			respondError(w, http.StatusNotFound, "Run not found")
			return
		}
		respondJSON(w, run)
	}
}

// GET /api/runs/{id}/logs?limit=N - log lines of one run, oldest first
func handleGetRunLogs(logs LogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if logs == nil {
			respondError(w, http.StatusServiceUnavailable, "Logs not available")
			return
		}
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil || id <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid run ID")
			return
		}
		// Get limit from query parameter (default: 1000)
		limit, err := queryInt(r, "limit", 1000)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}

		entries, err := logs.QueryByRun(id, limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get logs: %v", err))
			return
		}
		respondJSON(w, entries)
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

// Helper to respond with JSON
func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON: %v", err)
	}
}

func respondError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// RunnerStatus serves the in-memory state of a running daemon
type RunnerStatus struct {
	Runner *runner.Runner
}

func (s RunnerStatus) Status() (runner.Status, error) {
	return s.Runner.Status(), nil
}

// FileStatus serves the state file, re-read on every request
type FileStatus struct {
	Store      *state.Store
	StaleAfter time.Duration
	Now        func() time.Time
}

func (s FileStatus) Status() (runner.Status, error) {
	st, _, err := s.Store.Read()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return runner.Status{}, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return runner.BuildStatus(st, now(), s.StaleAfter), nil
}
