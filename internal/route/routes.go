package route

import (
	"net/http"
	"os"
	"path/filepath"

	"polo/internal/config"
	"polo/internal/handler"
	"polo/internal/logger"
	"polo/internal/metrics"
	"polo/internal/middleware"
	"polo/internal/service"
)

// dynamicHTMLHandler serves /path as /static/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		path = "/index"
	}

	filePath := filepath.Join("static", filepath.Clean(path)+".html")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filePath)
}

// SetupRoutes registers HTTP routes, static file serving, API endpoints,
// and wraps the mux with the authentication middleware.
func SetupRoutes(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()
	sessions := middleware.NewSessions(middleware.SessionTTL)

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	// Loaded runs
	mux.HandleFunc("GET /api/runs", handler.GetRunsHandler(manager, logger))
	mux.HandleFunc("POST /api/runs/import", handler.ImportRunHandler(manager, logger))
	mux.HandleFunc("POST /api/runs/relink", handler.RelinkHandler(manager, logger))
	mux.HandleFunc("POST /api/runs/classify", handler.ClassifyAllHandler(manager, logger))
	mux.HandleFunc("GET /api/run", handler.GetRunHandler(manager, logger))
	mux.HandleFunc("GET /api/run/linked", handler.GetLinkedRunsHandler(manager, logger))
	mux.HandleFunc("POST /api/run/splice", handler.SpliceHandler(manager, logger))
	mux.HandleFunc("POST /api/run/unsplice", handler.UnspliceHandler(manager, logger))
	mux.HandleFunc("POST /api/run/classify", handler.ClassifyRunHandler(manager, logger))
	mux.HandleFunc("POST /api/run/classify/cancel", handler.CancelClassifyHandler(manager, logger))
	mux.HandleFunc("POST /api/run/save", handler.SaveRunHandler(manager, logger))
	mux.HandleFunc("POST /api/run/load", handler.LoadRunHandler(manager, logger))
	mux.HandleFunc("POST /api/run/delete", handler.DeleteRunHandler(manager, logger))

	// Images
	mux.HandleFunc("GET /api/image", handler.GetImageHandler(manager, logger))
	mux.HandleFunc("GET /api/image/view", handler.ViewImageHandler(manager, logger))
	mux.HandleFunc("POST /api/image", handler.UpdateImageHandler(manager, logger))

	// Saved runs
	mux.HandleFunc("GET /api/catalog", handler.GetSavedRunsHandler(manager, logger))
	mux.HandleFunc("GET /api/catalog/stats", handler.GetStatsHandler(manager, logger))
	mux.HandleFunc("GET /api/store", handler.GetStoredHandler(manager, logger))

	// Classification progress
	mux.HandleFunc("/api/progress", handler.ProgressWebsocketHandler(manager, logger))

	// Log endpoints
	mux.HandleFunc("/logs/info", handler.ShowInfoLogsHandler(logger))
	mux.HandleFunc("/logs/warning", handler.ShowWarningLogsHandler(logger))
	mux.HandleFunc("/logs/error", handler.ShowErrorLogsHandler(logger))

	mux.HandleFunc("/logs/info/clear", handler.ClearInfoLogsHandler(logger))
	mux.HandleFunc("/logs/warning/clear", handler.ClearWarningLogsHandler(logger))
	mux.HandleFunc("/logs/error/clear", handler.ClearErrorLogsHandler(logger))

	// Auth endpoints
	mux.HandleFunc("/auth/login", handler.LoginHandler(cfg, sessions, logger))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler(sessions))

	mux.Handle("/metrics", metrics.Handler())

	// Automatic HTML handler mapping for example: /settings -> /static/settings.html
	mux.HandleFunc("/", dynamicHTMLHandler)

	// Apply middleware
	return middleware.AuthMiddleware(sessions, mux)
}
