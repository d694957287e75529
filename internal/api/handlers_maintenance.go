package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sydlexius/massaction/internal/backup"
	"github.com/sydlexius/massaction/internal/maintenance"
)

// handleMaintenanceStatus reports database size and the retention sweep.
// GET /api/v1/maintenance
func (r *Router) handleMaintenanceStatus(w http.ResponseWriter, req *http.Request) {
	if r.maintenance == nil {
		writeError(w, req, http.StatusServiceUnavailable, "maintenance service not available")
		return
	}

	status, err := r.maintenance.Status(req.Context())
	if err != nil {
		r.logger.Error("getting maintenance status", slog.String("error", err.Error()))
		writeError(w, req, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleMaintenanceRun prunes expired batch jobs and optimizes the database
// now instead of waiting for the schedule.
// POST /api/v1/maintenance/run
func (r *Router) handleMaintenanceRun(w http.ResponseWriter, req *http.Request) {
	if r.maintenance == nil {
		writeError(w, req, http.StatusServiceUnavailable, "maintenance service not available")
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), 60*time.Second)
	defer cancel()

	res, err := r.maintenance.Run(ctx)
	if err != nil {
		if errors.Is(err, maintenance.ErrRunning) {
			writeError(w, req, http.StatusConflict, err.Error())
			return
		}
		r.logger.Error("maintenance run failed", slog.String("error", err.Error()))
		writeError(w, req, http.StatusInternalServerError, "maintenance failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleMaintenanceVacuum rebuilds the database file.
// POST /api/v1/maintenance/vacuum
func (r *Router) handleMaintenanceVacuum(w http.ResponseWriter, req *http.Request) {
	if r.maintenance == nil {
		writeError(w, req, http.StatusServiceUnavailable, "maintenance service not available")
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Minute)
	defer cancel()

	if err := r.maintenance.Vacuum(ctx); err != nil {
		r.logger.Error("vacuum failed", slog.String("error", err.Error()))
		writeError(w, req, http.StatusInternalServerError, "vacuum failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "vacuumed"})
}

// handleListBackups lists database snapshots, newest first.
// GET /api/v1/maintenance/backups
func (r *Router) handleListBackups(w http.ResponseWriter, req *http.Request) {
	if r.backup == nil {
		writeError(w, req, http.StatusServiceUnavailable, "backup service not available")
		return
	}
	backups, err := r.backup.List()
	if err != nil {
		r.logger.Error("listing backups", slog.String("error", err.Error()))
		writeError(w, req, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, backups)
}

// handleCreateBackup snapshots the database.
// POST /api/v1/maintenance/backups
func (r *Router) handleCreateBackup(w http.ResponseWriter, req *http.Request) {
	if r.backup == nil {
		writeError(w, req, http.StatusServiceUnavailable, "backup service not available")
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Minute)
	defer cancel()

	info, err := r.backup.Create(ctx)
	if err != nil {
		if errors.Is(err, backup.ErrInProgress) {
			writeError(w, req, http.StatusConflict, err.Error())
			return
		}
		r.logger.Error("backup failed", slog.String("error", err.Error()))
		writeError(w, req, http.StatusInternalServerError, "backup failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, info)
}
