// Package anchorapi exposes the anchor's control surface over HTTP:
// submitting measurements, browsing stored results, worker liveness,
// recurring schedules and a live event stream.
package anchorapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/netpulse/netpulse/internal/core/domain"
	"github.com/netpulse/netpulse/internal/core/ports"
	"github.com/netpulse/netpulse/internal/core/services"
)

// Dispatcher publishes measurement jobs.
type Dispatcher interface {
	Submit(ctx context.Context, kind domain.ProbeKind, target string) (domain.JobID, error)
}

// JobDirectory lists submitted jobs.
type JobDirectory interface {
	List() []domain.Job
}

// WorkerDirectory lists known workers.
type WorkerDirectory interface {
	List() []domain.WorkerRecord
}

// ScheduleManager manages recurring measurements.
type ScheduleManager interface {
	Add(kind domain.ProbeKind, target, spec string) (services.Schedule, error)
	Remove(id services.ScheduleID) bool
	List() []services.Schedule
}

// EventSource attaches SSE clients to the event stream.
type EventSource interface {
	Subscribe() (<-chan ports.Event, func())
}

// BusStatus reports transport health for the health endpoint.
type BusStatus interface {
	Connected() bool
}

type Server struct {
	logger     *slog.Logger
	dispatcher Dispatcher
	store      ports.MeasurementStore
	jobs       JobDirectory
	workers    WorkerDirectory
	schedules  ScheduleManager
	events     EventSource
	bus        BusStatus
}

func NewServer(
	logger *slog.Logger,
	dispatcher Dispatcher,
	store ports.MeasurementStore,
	jobs JobDirectory,
	workers WorkerDirectory,
	schedules ScheduleManager,
	events EventSource,
	bus BusStatus,
) *Server {
	return &Server{
		logger:     logger,
		dispatcher: dispatcher,
		store:      store,
		jobs:       jobs,
		workers:    workers,
		schedules:  schedules,
		events:     events,
		bus:        bus,
	}
}

// Handler returns the http.Handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/measurements", s.handleSubmitMeasurement)
	mux.HandleFunc("GET /v1/measurements", s.handleListMeasurements)
	mux.HandleFunc("GET /v1/measurements/stats", s.handleMeasurementStats)
	mux.HandleFunc("POST /v1/measurements/export", s.handleExportMeasurements)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/workers", s.handleListWorkers)
	mux.HandleFunc("POST /v1/schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /v1/schedules", s.handleListSchedules)
	mux.HandleFunc("DELETE /v1/schedules/{id}", s.handleDeleteSchedule)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

// handleSubmitMeasurement dispatches a one-off measurement job.
// POST /v1/measurements
// Body: {"type":"ping","target":"example.com"}
func (s *Server) handleSubmitMeasurement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type   string `json:"type"`
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error())
		return
	}

	id, err := s.dispatcher.Submit(r.Context(), domain.ProbeKind(req.Type), req.Target)
	switch {
	case errors.Is(err, domain.ErrUnsupportedKind):
		s.writeError(w, http.StatusBadRequest, "UNSUPPORTED_KIND", err.Error())
		return
	case errors.Is(err, domain.ErrInvalidTarget):
		s.writeError(w, http.StatusBadRequest, "INVALID_TARGET", err.Error())
		return
	case err != nil:
		s.logger.Error("measurement submit failed", "type", req.Type, "target", req.Target, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "DISPATCH_FAILED", err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     id,
		"status": domain.JobStatusSubmitted,
	})
}

// handleListMeasurements returns stored measurements, newest first.
// GET /v1/measurements?type=ping&jobId=job_123&limit=50
func (s *Server) handleListMeasurements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter ports.MeasurementFilter
	if v := q.Get("type"); v != "" {
		kind, err := domain.ParseProbeKind(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "UNSUPPORTED_KIND", err.Error())
			return
		}
		filter.Kind = kind
	}
	filter.JobID = domain.JobID(q.Get("jobId"))

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
			return
		}
		limit = n
	}

	items, err := s.store.Query(r.Context(), filter, limit)
	if err != nil {
		s.logger.Error("measurement query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "STORAGE_FAILURE", "could not query measurements")
		return
	}
	if items == nil {
		items = []domain.StoredMeasurement{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"measurements": items,
		"count":        len(items),
	})
}

// handleMeasurementStats returns aggregate counts per kind.
// GET /v1/measurements/stats
func (s *Server) handleMeasurementStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "STORAGE_FAILURE", "could not compute stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleExportMeasurements writes a JSON snapshot of the store to disk.
// POST /v1/measurements/export
// Body (optional): {"name":"before-maintenance"}
func (s *Server) handleExportMeasurements(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		req.Name = "measurements"
	}

	path, err := s.store.ExportSnapshot(r.Context(), req.Name)
	if err != nil {
		s.logger.Error("export failed", "name", req.Name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "STORAGE_FAILURE", "could not export measurements")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{"path": path})
}

// handleListJobs returns every submitted job, newest first.
// GET /v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.jobs.List()
	if jobs == nil {
		jobs = []domain.Job{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleListWorkers returns all announced workers and their health.
// GET /v1/workers
func (s *Server) handleListWorkers(w http.ResponseWriter, _ *http.Request) {
	workers := s.workers.List()
	if workers == nil {
		workers = []domain.WorkerRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"workers": workers,
		"count":   len(workers),
	})
}

// handleCreateSchedule registers a recurring measurement.
// POST /v1/schedules
// Body: {"type":"http","target":"example.com","spec":"@every 1m"}
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type   string `json:"type"`
		Target string `json:"target"`
		Spec   string `json:"spec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error())
		return
	}

	sched, err := s.schedules.Add(domain.ProbeKind(req.Type), req.Target, req.Spec)
	switch {
	case errors.Is(err, domain.ErrUnsupportedKind):
		s.writeError(w, http.StatusBadRequest, "UNSUPPORTED_KIND", err.Error())
		return
	case errors.Is(err, domain.ErrInvalidTarget):
		s.writeError(w, http.StatusBadRequest, "INVALID_TARGET", err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusBadRequest, "INVALID_SCHEDULE", err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, sched)
}

// handleListSchedules returns all registered schedules.
// GET /v1/schedules
func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	scheds := s.schedules.List()
	if scheds == nil {
		scheds = []services.Schedule{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"schedules": scheds,
		"count":     len(scheds),
	})
}

// handleDeleteSchedule removes a schedule.
// DELETE /v1/schedules/{id}
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "missing schedule id")
		return
	}
	if !s.schedules.Remove(services.ScheduleID(id)) {
		s.writeError(w, http.StatusNotFound, "NOT_FOUND", "no such schedule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealthz reports process and transport health.
// GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	connected := s.bus.Connected()
	if !connected {
		status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"bus_connected": connected,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}
