package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gridwatch/backend/services/telemetry-service/internal/models"
	"gridwatch/backend/services/telemetry-service/internal/service"
)

type stubViews struct {
	records    []models.TelemetryRecord
	stats      *models.Statistics
	statsErr   error
	lastCount  int
	lastLimit  int
	rangeStart time.Time
	rangeEnd   time.Time
}

func (s *stubViews) RecentWindow(count int) []models.TelemetryRecord {
	s.lastCount = count
	return s.records
}

func (s *stubViews) Range(start, end time.Time) []models.TelemetryRecord {
	s.rangeStart, s.rangeEnd = start, end
	return s.records
}

func (s *stubViews) FaultEvents(limit int) []models.TelemetryRecord {
	s.lastLimit = limit
	return s.records
}

func (s *stubViews) Statistics(time.Duration) (*models.Statistics, error) {
	return s.stats, s.statsErr
}

type stubBackups struct {
	path string
	err  error
}

func (s stubBackups) CreateBackup() (string, error) { return s.path, s.err }

type stubLogFile struct {
	path string
}

func (s stubLogFile) Open() (*os.File, error) {
	return os.Open(s.path)
}

func serve(t *testing.T, h http.HandlerFunc, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var out map[string]interface{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func sampleRecords() []models.TelemetryRecord {
	at := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	return []models.TelemetryRecord{
		{CapturedAt: at, RV: 230, YV: 230, BV: 230, RI: 2, YI: 2, BI: 2},
		{CapturedAt: at.Add(time.Minute), RV: 231, YV: models.InvalidReading(), BV: 230, RI: 2, YI: 2, BI: 2, Fault: true, FaultType: "LG"},
	}
}

func TestRecentUsesDefaultAndQueryCount(t *testing.T) {
	views := &stubViews{records: sampleRecords()}
	h := NewDataHandlers(views, nil, nil, DataDefaults{}, zap.NewNop())

	rec, out := serve(t, h.Recent, "/api/data/recent")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 12, views.lastCount)
	assert.Equal(t, 2.0, out["count"])

	data := out["data"].([]interface{})
	second := data[1].(map[string]interface{})
	assert.Nil(t, second["Y_V"])
	assert.Equal(t, "LG", second["fault_type"])

	serve(t, h.Recent, "/api/data/recent?count=40")
	assert.Equal(t, 40, views.lastCount)

	serve(t, h.Recent, "/api/data/recent?count=-3")
	assert.Equal(t, 12, views.lastCount)
}

func TestRangeBounds(t *testing.T) {
	views := &stubViews{}
	h := NewDataHandlers(views, nil, nil, DataDefaults{}, zap.NewNop())

	rec, _ := serve(t, h.Range, "/api/data/range?start=2026-10-17&end=2026-10-17")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), views.rangeStart)
	assert.Equal(t, time.Date(2026, 10, 17, 23, 59, 59, 0, time.UTC), views.rangeEnd)

	rec, _ = serve(t, h.Range, "/api/data/range?start=2026-10-17T08:00:00%2B02:00&end=2026-10-17T09:00:00Z")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC), views.rangeStart)

	for _, target := range []string{
		"/api/data/range",
		"/api/data/range?start=yesterday",
		"/api/data/range?start=2026-10-17&end=nope",
		"/api/data/range?start=2026-10-18&end=2026-10-17",
	} {
		rec, out := serve(t, h.Range, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, false, out["success"], target)
	}
}

func TestStatsWithoutData(t *testing.T) {
	h := NewDataHandlers(&stubViews{statsErr: service.ErrNoData}, nil, nil, DataDefaults{}, zap.NewNop())

	rec, out := serve(t, h.Stats, "/api/data/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "No data available for the last 24 hours", out["message"])
	stats, present := out["stats"]
	assert.True(t, present)
	assert.Nil(t, stats)
}

func TestStatsPayload(t *testing.T) {
	avg := 230.0
	h := NewDataHandlers(&stubViews{stats: &models.Statistics{
		RPhase:     models.PhaseStats{Voltage: models.MetricStats{Avg: &avg, Min: &avg, Max: &avg}},
		DataPoints: 1,
		Period:     "24 hours",
	}}, nil, nil, DataDefaults{}, zap.NewNop())

	rec, out := serve(t, h.Stats, "/api/data/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	stats := out["stats"].(map[string]interface{})
	assert.Equal(t, 1.0, stats["dataPoints"])
	assert.Equal(t, "24 hours", stats["period"])
	r := stats["R_Phase"].(map[string]interface{})
	assert.Contains(t, r, "voltage")

	h = NewDataHandlers(&stubViews{statsErr: errors.New("boom")}, nil, nil, DataDefaults{}, zap.NewNop())
	rec, _ = serve(t, h.Stats, "/api/data/stats")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestFaultsLimit(t *testing.T) {
	views := &stubViews{records: sampleRecords()[1:]}
	h := NewDataHandlers(views, nil, nil, DataDefaults{FaultLimit: 5}, zap.NewNop())

	_, out := serve(t, h.Faults, "/api/data/faults")
	assert.Equal(t, 5, views.lastLimit)
	assert.Equal(t, 1.0, out["count"])
	assert.Len(t, out["faults"], 1)

	serve(t, h.Faults, "/api/data/faults?limit=2")
	assert.Equal(t, 2, views.lastLimit)
}

func TestDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("workbook bytes"), 0o644))
	h := NewDataHandlers(&stubViews{}, nil, stubLogFile{path: path}, DataDefaults{}, zap.NewNop())

	rec, _ := serve(t, h.Download, "/api/data/download")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxMime, rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="sensor_logs.xlsx"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "workbook bytes", rec.Body.String())

	require.NoError(t, os.Remove(path))
	rec, out := serve(t, h.Download, "/api/data/download")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Log file not found", out["error"])
}

func TestBackup(t *testing.T) {
	h := NewDataHandlers(&stubViews{}, stubBackups{path: "/data/backups/logs_backup_x.xlsx"}, nil, DataDefaults{}, zap.NewNop())
	rec, out := serve(t, h.Backup, "/api/data/backup")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/data/backups/logs_backup_x.xlsx", out["backupPath"])

	h = NewDataHandlers(&stubViews{}, stubBackups{err: errors.New("disk full")}, nil, DataDefaults{}, zap.NewNop())
	rec, out = serve(t, h.Backup, "/api/data/backup")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to create backup", out["error"])
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler(time.Now().Add(-time.Minute), func() int { return 3 })
	rec, out := serve(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, 3.0, out["subscribers"])
	assert.GreaterOrEqual(t, out["uptime"].(float64), 60.0)
}
