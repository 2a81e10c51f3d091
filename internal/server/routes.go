// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 5:31:09 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"
	"strings"

	"github.com/ternarybob/imprimo/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Jobs
	mux.HandleFunc("/v1/pdf-jobs", s.rateLimitMiddleware(s.app.JobHandler.SubmitHandler))
	mux.HandleFunc("/v1/pdf-jobs/", s.handleJobRoutes) // GET /{id} and /{id}/file

	// API routes - System
	mux.HandleFunc("/healthz", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobRoutes dispatches /v1/pdf-jobs/{id} and /v1/pdf-jobs/{id}/file
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/pdf-jobs/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		s.app.JobHandler.StatusHandler(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "file":
		s.app.JobHandler.FileHandler(w, r, parts[0])
	default:
		handlers.WriteError(w, http.StatusNotFound, "Not found")
	}
}
