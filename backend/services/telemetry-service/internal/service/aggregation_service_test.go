package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"gridwatch/backend/services/telemetry-service/internal/models"
	"gridwatch/backend/services/telemetry-service/internal/repository"
)

var fixedNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *repository.LogStore {
	t.Helper()
	store, err := repository.NewLogStore(repository.Options{
		Path:             filepath.Join(t.TempDir(), "logs.xlsx"),
		LockPollInterval: 2 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return store
}

func appendRecords(t *testing.T, store *repository.LogStore, records ...models.TelemetryRecord) {
	t.Helper()
	for _, rec := range records {
		_, err := store.Append(context.Background(), rec)
		require.NoError(t, err)
	}
}

func reading(at time.Time, rv, ri float64, fault bool) models.TelemetryRecord {
	return models.TelemetryRecord{
		CapturedAt: at,
		RV:         models.Reading(rv),
		YV:         230,
		BV:         230,
		RI:         models.Reading(ri),
		YI:         2,
		BI:         2,
		Fault:      fault,
	}
}

func newAggregation(store *repository.LogStore) *AggregationService {
	s := NewAggregationService(store)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestStatisticsPerPhase(t *testing.T) {
	store := newStore(t)
	appendRecords(t, store,
		reading(fixedNow.Add(-3*time.Hour), 10, 1, false),
		reading(fixedNow.Add(-2*time.Hour), 20, 2, false),
		reading(fixedNow.Add(-1*time.Hour), 30, 4, false),
	)

	stats, err := newAggregation(store).Statistics(DefaultStatsWindow)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.DataPoints)
	assert.Equal(t, "24 hours", stats.Period)

	v := stats.RPhase.Voltage
	require.NotNil(t, v.Avg)
	assert.Equal(t, 20.0, *v.Avg)
	assert.Equal(t, 10.0, *v.Min)
	assert.Equal(t, 30.0, *v.Max)

	c := stats.RPhase.Current
	assert.Equal(t, 2.33, *c.Avg)
	assert.Equal(t, 1.0, *c.Min)
	assert.Equal(t, 4.0, *c.Max)

	assert.Equal(t, 230.0, *stats.YPhase.Voltage.Avg)
	assert.Equal(t, 2.0, *stats.BPhase.Current.Max)
}

func TestStatisticsWindowExcludesOldRecords(t *testing.T) {
	store := newStore(t)
	appendRecords(t, store,
		reading(fixedNow.Add(-48*time.Hour), 100, 9, false),
		reading(fixedNow.Add(-time.Hour), 200, 3, false),
	)

	stats, err := newAggregation(store).Statistics(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DataPoints)
	assert.Equal(t, 200.0, *stats.RPhase.Voltage.Min)
}

func TestStatisticsNoData(t *testing.T) {
	store := newStore(t)

	_, err := newAggregation(store).Statistics(DefaultStatsWindow)
	assert.True(t, errors.Is(err, ErrNoData))

	appendRecords(t, store, reading(fixedNow.Add(-30*time.Hour), 100, 1, false))
	_, err = newAggregation(store).Statistics(DefaultStatsWindow)
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestStatisticsSkipsUnparsableCells(t *testing.T) {
	store := newStore(t)
	appendRecords(t, store,
		reading(fixedNow.Add(-2*time.Hour), 10, 1, false),
		reading(fixedNow.Add(-1*time.Hour), 30, 3, false),
	)

	f, err := excelize.OpenFile(store.Path())
	require.NoError(t, err)
	require.NoError(t, f.SetCellStr(repository.DefaultSheet, "C2", "err"))
	// Y_V is unusable in every row.
	require.NoError(t, f.SetCellStr(repository.DefaultSheet, "D2", "--"))
	require.NoError(t, f.SetCellStr(repository.DefaultSheet, "D3", ""))
	require.NoError(t, f.Save())
	require.NoError(t, f.Close())

	stats, err := newAggregation(store).Statistics(DefaultStatsWindow)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.DataPoints)
	assert.Equal(t, 30.0, *stats.RPhase.Voltage.Avg)
	assert.Equal(t, 2.0, *stats.RPhase.Current.Avg)
	assert.Nil(t, stats.YPhase.Voltage.Avg)
	assert.Nil(t, stats.YPhase.Voltage.Min)
	assert.Nil(t, stats.YPhase.Voltage.Max)
}

func TestFaultEventsNewestFirstWithLimit(t *testing.T) {
	store := newStore(t)
	base := fixedNow.Add(-time.Hour)
	for i := 0; i < 7; i++ {
		appendRecords(t, store, reading(base.Add(time.Duration(i)*time.Minute), float64(200+i), 1, i != 3))
	}

	faults := newAggregation(store).FaultEvents(4)
	require.Len(t, faults, 4)
	got := make([]float64, 0, len(faults))
	for _, f := range faults {
		assert.True(t, f.Fault)
		got = append(got, float64(f.RV))
	}
	assert.Equal(t, []float64{206, 205, 204, 202}, got)

	assert.Len(t, newAggregation(store).FaultEvents(50), 6)
}

func TestFaultEventsStableForEqualTimestamps(t *testing.T) {
	store := newStore(t)
	at := fixedNow.Add(-time.Minute)
	appendRecords(t, store,
		reading(at, 201, 1, true),
		reading(at, 202, 1, true),
		reading(at, 203, 1, true),
	)

	faults := newAggregation(store).FaultEvents(2)
	require.Len(t, faults, 2)
	assert.Equal(t, models.Reading(203), faults[0].RV)
	assert.Equal(t, models.Reading(202), faults[1].RV)
}

func TestRecentWindowAndRange(t *testing.T) {
	store := newStore(t)
	base := fixedNow.Add(-time.Hour)
	for i := 0; i < 5; i++ {
		appendRecords(t, store, reading(base.Add(time.Duration(i)*time.Minute), float64(220+i), 1, false))
	}
	views := newAggregation(store)

	recent := views.RecentWindow(2)
	require.Len(t, recent, 2)
	assert.Equal(t, models.Reading(223), recent[0].RV)
	assert.Equal(t, models.Reading(224), recent[1].RV)

	ranged := views.Range(base.Add(time.Minute), base.Add(3*time.Minute))
	assert.Len(t, ranged, 3)
}
