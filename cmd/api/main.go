package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/polarfoxDev/berth/internal/api"
	"github.com/polarfoxDev/berth/internal/auth"
	"github.com/polarfoxDev/berth/internal/config"
	"github.com/polarfoxDev/berth/internal/database"
	"github.com/polarfoxDev/berth/internal/logging"
	"github.com/polarfoxDev/berth/internal/state"
)

// API server exposing backup status, run history and logs, and serving the frontend.
// It reads the state file on every request, so it can run next to the CLI or a daemon.
func main() {
	configFlag := flag.String("config", "", "Path to the config file (default $BERTH_CONFIG or ~/.berth/config.yml)")
	listen := flag.String("listen", "", "Listen address (overrides api.listen, default :8080)")
	staticFlag := flag.String("static", "", "Frontend build directory (overrides api.staticDir)")
	flag.Parse()

	path, explicit := config.Path(*configFlag)
	cfg, err := config.Load(path, !explicit)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	opts := api.Options{
		Status: api.FileStatus{
			Store:      state.New(cfg.StateFile),
			StaleAfter: cfg.StaleAfterDuration(),
		},
		CORSOrigins: cfg.API.CORSOrigins,
		AccessLog:   true,
	}

	// Run history and logs need the database the daemon writes to
	if cfg.Database != "" {
		db, err := database.InitDB(cfg.Database)
		if err != nil {
			log.Fatalf("init database: %v", err)
		}
		defer db.Close()

		logger, err := logging.New(db.GetDB(), os.Stdout, nil)
		if err != nil {
			log.Fatalf("init logger: %v", err)
		}
		opts.Runs = db
		opts.Logs = logger
	}

	guard := auth.New(cfg.API.Password)
	defer guard.Close()
	opts.Auth = guard
	if guard.IsEnabled() {
		log.Printf("Password authentication enabled")
	}

	r := api.NewRouter(opts)

	staticDir := firstNonEmpty(*staticFlag, cfg.API.StaticDir)
	indexPath := filepath.Join(staticDir, "index.html")
	if _, err := os.Stat(indexPath); staticDir != "" && err == nil {
		log.Printf("Serving static files from %s", staticDir)
		fileServer(r, "/", http.Dir(staticDir))
	} else {
		r.Get("/", placeholder)
	}

	addr := firstNonEmpty(*listen, cfg.API.Listen, ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("Starting berth API server on %s (state %s)", addr, cfg.StateFile)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func placeholder(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>berth status</title></head>
<body>
	<h1>berth backup status API</h1>
	<h2>Available Endpoints:</h2>
	<ul>
		<li><a href="/api/health">/api/health</a> - Health check</li>
		<li><a href="/api/status">/api/status</a> - Destination and backup configurations</li>
		<li><a href="/api/runs">/api/runs</a> - Sync attempts, newest first</li>
		<li>/api/runs/{id}/logs - Log lines of one sync attempt</li>
	</ul>
</body>
</html>`)
}

// fileServer conveniently sets up a http.FileServer handler to serve
// static files from a http.FileSystem with SPA support (serves index.html for routes)
func fileServer(r chi.Router, path string, root http.FileSystem) {
	if strings.ContainsAny(path, "{}*") {
		panic("FileServer does not permit any URL parameters.")
	}

	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", http.StatusMovedPermanently).ServeHTTP)
		path += "/"
	}
	path += "*"

	r.Get(path, func(w http.ResponseWriter, r *http.Request) {
		rctx := chi.RouteContext(r.Context())
		pathPrefix := strings.TrimSuffix(rctx.RoutePattern(), "/*")
		fs := http.StripPrefix(pathPrefix, http.FileServer(root))

		if f, err := root.Open(r.URL.Path); err == nil {
			f.Close()
		} else if index, err := root.Open("/index.html"); err == nil {
			// unknown paths belong to the SPA router
			index.Close()
			r.URL.Path = "/"
		}
		fs.ServeHTTP(w, r)
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
