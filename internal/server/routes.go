package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.Hub.HandleWebSocket)

	// API routes - Validation (synchronous, no job created)
	mux.HandleFunc("/api/validate", s.app.ValidateHandler.ValidateFileHandler)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)  // GET (list), POST (create import)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // Handles /api/jobs/{id} and subpaths
	mux.HandleFunc("/api/sync", s.app.JobHandler.CreateSyncHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute routes /api/jobs requests (list and create)
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.JobHandler.ListJobsHandler(w, r)
	case "POST":
		s.app.JobHandler.CreateJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobRoutes routes /api/jobs/{id} requests and subpaths to the
// appropriate handler
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	suffix := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if suffix == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	parts := strings.Split(strings.TrimSuffix(suffix, "/"), "/")
	jobID := parts[0]

	// GET /api/jobs/{id}
	if len(parts) == 1 {
		s.app.JobHandler.GetJobHandler(w, r, jobID)
		return
	}

	switch strings.Join(parts[1:], "/") {
	case "status":
		s.app.JobHandler.GetStatusHandler(w, r, jobID)
	case "cancel":
		s.app.JobHandler.CancelJobHandler(w, r, jobID)
	case "commit":
		s.app.JobHandler.CommitJobHandler(w, r, jobID)
	case "pending-entities":
		s.app.JobHandler.ListPendingEntitiesHandler(w, r, jobID)
	case "pending-entities/resolve":
		s.app.JobHandler.ResolveEntityHandler(w, r, jobID)
	case "pending-entities/abandon":
		s.app.JobHandler.AbandonEntitiesHandler(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}
