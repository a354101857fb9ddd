package service

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gridwatch/backend/services/telemetry-service/internal/models"
	"gridwatch/backend/services/telemetry-service/internal/repository"
)

// DefaultStatsWindow is the rolling window used by the statistics view.
const DefaultStatsWindow = 24 * time.Hour

// ErrNoData marks a view that found no qualifying records. It is a valid, empty result.
var ErrNoData = errors.New("no data available")

// LogReader is the read side of the telemetry log.
type LogReader interface {
	ReadAll() []models.TelemetryRecord
	Tail(n int) []models.TelemetryRecord
	RangeFilter(start, end time.Time) []models.TelemetryRecord
	PredicateFilter(pred func(models.TelemetryRecord) bool, limit int, order repository.Order) []models.TelemetryRecord
}

// AggregationService derives the read-side views from the log.
type AggregationService struct {
	reader LogReader
	now    func() time.Time
}

// NewAggregationService returns view accessor.
func NewAggregationService(reader LogReader) *AggregationService {
	return &AggregationService{reader: reader, now: time.Now}
}

// RecentWindow returns the last count records in arrival order.
func (s *AggregationService) RecentWindow(count int) []models.TelemetryRecord {
	return s.reader.Tail(count)
}

// Range returns records captured within [start, end].
func (s *AggregationService) Range(start, end time.Time) []models.TelemetryRecord {
	return s.reader.RangeFilter(start, end)
}

// FaultEvents returns up to limit fault records, most recent first.
func (s *AggregationService) FaultEvents(limit int) []models.TelemetryRecord {
	return s.reader.PredicateFilter(func(rec models.TelemetryRecord) bool {
		return rec.Fault
	}, limit, repository.OrderNewestFirst)
}

// Statistics summarises every phase over the trailing window. It returns ErrNoData when
// no record falls inside the window.
func (s *AggregationService) Statistics(window time.Duration) (*models.Statistics, error) {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	cutoff := s.now().Add(-window)

	var inWindow []models.TelemetryRecord
	for _, rec := range s.reader.ReadAll() {
		if !rec.CapturedAt.IsZero() && !rec.CapturedAt.Before(cutoff) {
			inWindow = append(inWindow, rec)
		}
	}
	if len(inWindow) == 0 {
		return nil, ErrNoData
	}

	stats := &models.Statistics{
		DataPoints: len(inWindow),
		Period:     formatPeriod(window),
	}
	for _, phase := range models.Phases {
		ps := stats.Phase(phase)
		ps.Voltage = summarize(inWindow, func(rec models.TelemetryRecord) models.Reading { return rec.Voltage(phase) })
		ps.Current = summarize(inWindow, func(rec models.TelemetryRecord) models.Reading { return rec.Current(phase) })
	}
	return stats, nil
}

// summarize skips unparsable cells; a column without any numeric value yields nil fields.
func summarize(records []models.TelemetryRecord, pick func(models.TelemetryRecord) models.Reading) models.MetricStats {
	var (
		sum      float64
		count    int
		min, max float64
	)
	for _, rec := range records {
		r := pick(rec)
		if !r.Valid() {
			continue
		}
		v := float64(r)
		if count == 0 || v < min {
			min = v
		}
		if count == 0 || v > max {
			max = v
		}
		sum += v
		count++
	}
	if count == 0 {
		return models.MetricStats{}
	}
	avg := round2(sum / float64(count))
	min, max = round2(min), round2(max)
	return models.MetricStats{Avg: &avg, Min: &min, Max: &max}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatPeriod(window time.Duration) string {
	hours := window.Hours()
	if hours == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%g hours", hours)
}
