package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"gridwatch/backend/services/telemetry-service/internal/models"
	"gridwatch/backend/services/telemetry-service/internal/service"
)

const (
	downloadName = "sensor_logs.xlsx"
	xlsxMime     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Views is the read side used by the query endpoints.
type Views interface {
	RecentWindow(count int) []models.TelemetryRecord
	Range(start, end time.Time) []models.TelemetryRecord
	FaultEvents(limit int) []models.TelemetryRecord
	Statistics(window time.Duration) (*models.Statistics, error)
}

// Backupper creates log backups.
type Backupper interface {
	CreateBackup() (string, error)
}

// LogFile opens the raw log for download.
type LogFile interface {
	Open() (*os.File, error)
}

// DataDefaults holds the default page sizes of the query endpoints.
type DataDefaults struct {
	RecentCount int
	FaultLimit  int
}

// DataHandlers serves the telemetry query, export and backup endpoints.
type DataHandlers struct {
	views    Views
	backups  Backupper
	file     LogFile
	defaults DataDefaults
	logger   *zap.Logger
}

// NewDataHandlers returns handler.
func NewDataHandlers(views Views, backups Backupper, file LogFile, defaults DataDefaults, logger *zap.Logger) *DataHandlers {
	if defaults.RecentCount <= 0 {
		defaults.RecentCount = 12
	}
	if defaults.FaultLimit <= 0 {
		defaults.FaultLimit = 50
	}
	return &DataHandlers{views: views, backups: backups, file: file, defaults: defaults, logger: logger}
}

// Recent handles GET /api/data/recent.
func (h *DataHandlers) Recent(w http.ResponseWriter, r *http.Request) {
	data := h.views.RecentWindow(queryInt(r, "count", h.defaults.RecentCount))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
		"count":   len(data),
	})
}

// Range handles GET /api/data/range?start=&end=.
func (h *DataHandlers) Range(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	start, err := service.ParseRangeBound(r.URL.Query().Get("start"), false, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start")
		return
	}
	end, err := service.ParseRangeBound(r.URL.Query().Get("end"), true, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end")
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end is before start")
		return
	}
	data := h.views.Range(start, end)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
		"count":   len(data),
	})
}

// Stats handles GET /api/data/stats.
func (h *DataHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.views.Statistics(service.DefaultStatsWindow)
	if errors.Is(err, service.ErrNoData) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "No data available for the last 24 hours",
			"stats":   nil,
		})
		return
	}
	if err != nil {
		h.logger.Error("failed to calculate statistics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to calculate statistics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "stats": stats})
}

// Faults handles GET /api/data/faults.
func (h *DataHandlers) Faults(w http.ResponseWriter, r *http.Request) {
	faults := h.views.FaultEvents(queryInt(r, "limit", h.defaults.FaultLimit))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"faults":  faults,
		"count":   len(faults),
	})
}

// Download handles GET /api/data/download.
func (h *DataHandlers) Download(w http.ResponseWriter, r *http.Request) {
	f, err := h.file.Open()
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, "Log file not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to open log for download", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to download file")
		return
	}
	defer f.Close()

	var modTime time.Time
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}
	w.Header().Set("Content-Type", xlsxMime)
	w.Header().Set("Content-Disposition", `attachment; filename="`+downloadName+`"`)
	http.ServeContent(w, r, downloadName, modTime, f)
}

// Backup handles POST /api/data/backup.
func (h *DataHandlers) Backup(w http.ResponseWriter, r *http.Request) {
	path, err := h.backups.CreateBackup()
	if err != nil {
		h.logger.Error("failed to create backup", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create backup")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"message":    "Backup created successfully",
		"backupPath": path,
	})
}
