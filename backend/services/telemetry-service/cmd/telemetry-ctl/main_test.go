package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gridwatch/backend/services/telemetry-service/internal/models"
	"gridwatch/backend/services/telemetry-service/internal/repository"
	"gridwatch/backend/services/telemetry-service/internal/service"
)

func writeConfig(t *testing.T) (configPath, logPath string) {
	t.Helper()
	dir := t.TempDir()
	logPath = filepath.Join(dir, "data", "logs.xlsx")
	configPath = filepath.Join(dir, "config.yaml")
	body := "store:\n" +
		"  path: " + logPath + "\n" +
		"  backupDir: " + filepath.Join(dir, "backups") + "\n" +
		"  lockPollInterval: 5ms\n"
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o644))
	return configPath, logPath
}

func seed(t *testing.T, logPath string, records ...models.TelemetryRecord) {
	t.Helper()
	store, err := repository.NewLogStore(repository.Options{Path: logPath}, zap.NewNop())
	require.NoError(t, err)
	for _, rec := range records {
		_, err := store.Append(context.Background(), rec)
		require.NoError(t, err)
	}
}

func runCtl(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, run(args, &out))
	return out.String()
}

func TestInitCreatesLog(t *testing.T) {
	configPath, logPath := writeConfig(t)

	out := runCtl(t, "--config", configPath, "init")
	assert.Contains(t, out, logPath)
	_, err := os.Stat(logPath)
	assert.NoError(t, err)
}

func TestTailAndFaults(t *testing.T) {
	configPath, logPath := writeConfig(t)
	at := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	seed(t, logPath,
		models.TelemetryRecord{CapturedAt: at, RV: 230, YV: 230, BV: 230, RI: 2, YI: 2, BI: 2},
		models.TelemetryRecord{CapturedAt: at.Add(time.Minute), RV: 231, YV: 230, BV: 230, RI: 2, YI: 2, BI: 2, Fault: true, FaultType: "LG"},
		models.TelemetryRecord{CapturedAt: at.Add(2 * time.Minute), RV: 232, YV: 230, BV: 230, RI: 2, YI: 2, BI: 2},
	)

	var tail []models.TelemetryRecord
	require.NoError(t, json.Unmarshal([]byte(runCtl(t, "--config", configPath, "tail", "-n", "2")), &tail))
	require.Len(t, tail, 2)
	assert.Equal(t, models.Reading(231), tail[0].RV)
	assert.Equal(t, models.Reading(232), tail[1].RV)

	var faults []models.TelemetryRecord
	require.NoError(t, json.Unmarshal([]byte(runCtl(t, "--config", configPath, "faults")), &faults))
	require.Len(t, faults, 1)
	assert.Equal(t, "LG", faults[0].FaultType)

	stats := runCtl(t, "--config", configPath, "stats", "--window", "2h")
	assert.Contains(t, stats, `"dataPoints": 3`)
}

func TestBackupAndExport(t *testing.T) {
	configPath, logPath := writeConfig(t)
	runCtl(t, "--config", configPath, "init")

	var created map[string]string
	require.NoError(t, json.Unmarshal([]byte(runCtl(t, "--config", configPath, "backup")), &created))
	assert.True(t, strings.HasPrefix(filepath.Base(created["backupPath"]), "logs_backup_"))

	var listed []string
	require.NoError(t, json.Unmarshal([]byte(runCtl(t, "--config", configPath, "backups")), &listed))
	assert.Equal(t, []string{created["backupPath"]}, listed)

	target := filepath.Join(t.TempDir(), "export.xlsx")
	runCtl(t, "--config", configPath, "export", "-o", target)
	want, err := os.ReadFile(logPath)
	require.NoError(t, err)
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUnknownCommandAndHelp(t *testing.T) {
	configPath, _ := writeConfig(t)

	var out bytes.Buffer
	err := run([]string{"--config", configPath, "compact"}, &out)
	assert.Error(t, err)
	assert.Contains(t, out.String(), "Usage: telemetry-ctl")

	assert.Contains(t, runCtl(t, "--help"), "Commands:")
	assert.Contains(t, runCtl(t), "Commands:")
}

func TestPushPostsEverySample(t *testing.T) {
	configPath, logPath := writeConfig(t)

	var received []service.IngestInput
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in service.IngestInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		received = append(received, in)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success":   true,
			"rowIndex":  len(received),
			"timestamp": "2026-10-18T10:00:00Z",
		})
	}))
	defer srv.Close()

	samples := filepath.Join(t.TempDir(), "samples.json")
	require.NoError(t, os.WriteFile(samples, []byte(
		`{"R_V":230,"Y_V":230,"B_V":230,"R_I":2,"Y_I":2,"B_I":2,"fault":false}`+"\n"+
			`{"R_V":231,"Y_V":230,"B_V":230,"R_I":2,"Y_I":2,"B_I":2,"fault":true,"fault_type":"LL"}`+"\n"), 0o644))

	out := runCtl(t, "--config", configPath, "push", "--url", srv.URL, "-f", samples)
	require.Len(t, received, 2)
	assert.Equal(t, 231.0, *received[1].RV)
	assert.Equal(t, "LL", *received[1].FaultType)
	assert.Equal(t, 2, strings.Count(out, "rowIndex"))

	_, err := os.Stat(logPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRangeAcceptsPlainDates(t *testing.T) {
	configPath, logPath := writeConfig(t)
	day := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	seed(t, logPath,
		models.TelemetryRecord{CapturedAt: day.Add(-time.Minute), RV: 229},
		models.TelemetryRecord{CapturedAt: day.Add(9 * time.Hour), RV: 230},
		models.TelemetryRecord{CapturedAt: day.Add(23*time.Hour + 30*time.Minute), RV: 231},
		models.TelemetryRecord{CapturedAt: day.Add(24 * time.Hour), RV: 232},
	)

	var got []models.TelemetryRecord
	out := runCtl(t, "--config", configPath, "range", "--start", "2026-10-17", "--end", "2026-10-17")
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.Equal(t, models.Reading(230), got[0].RV)
	assert.Equal(t, models.Reading(231), got[1].RV)

	var out2 bytes.Buffer
	assert.Error(t, run([]string{"--config", configPath, "range", "--start", "2026-10-18", "--end", "2026-10-17"}, &out2))
}
