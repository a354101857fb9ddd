package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gridwatch/backend/services/telemetry-service/internal/models"
	"gridwatch/backend/services/telemetry-service/internal/repository"
)

const (
	maxPhaseVoltage = 300
	maxPhaseCurrent = 50
)

// Appender persists records. Implemented by repository.LogStore.
type Appender interface {
	Append(ctx context.Context, rec models.TelemetryRecord) (int, error)
}

// Publisher fans a persisted record out to live viewers.
type Publisher interface {
	Publish(ctx context.Context, rec models.TelemetryRecord) error
}

// IngestInput is the payload posted by the sensing device.
type IngestInput struct {
	Timestamp string   `json:"timestamp"`
	RV        *float64 `json:"R_V"`
	YV        *float64 `json:"Y_V"`
	BV        *float64 `json:"B_V"`
	RI        *float64 `json:"R_I"`
	YI        *float64 `json:"Y_I"`
	BI        *float64 `json:"B_I"`
	Fault     *bool    `json:"fault"`
	FaultType *string  `json:"fault_type"`
}

// ValidationError lists every contract violation found in a payload.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "invalid telemetry payload: " + strings.Join(e.Details, "; ")
}

// Validate checks required fields and physical ranges.
func (in IngestInput) Validate() error {
	var details []string
	check := func(name string, v *float64, max float64) {
		switch {
		case v == nil:
			details = append(details, fmt.Sprintf("%q is required", name))
		case *v < 0 || *v > max:
			details = append(details, fmt.Sprintf("%q must be between 0 and %g", name, max))
		}
	}
	check("R_V", in.RV, maxPhaseVoltage)
	check("Y_V", in.YV, maxPhaseVoltage)
	check("B_V", in.BV, maxPhaseVoltage)
	check("R_I", in.RI, maxPhaseCurrent)
	check("Y_I", in.YI, maxPhaseCurrent)
	check("B_I", in.BI, maxPhaseCurrent)

	if in.Fault == nil {
		details = append(details, `"fault" is required`)
	}
	if ts := strings.TrimSpace(in.Timestamp); ts != "" {
		if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
			details = append(details, `"timestamp" must be an ISO 8601 date`)
		}
	}
	if len(details) > 0 {
		return &ValidationError{Details: details}
	}
	return nil
}

// record converts a validated payload; a missing timestamp becomes receivedAt.
func (in IngestInput) record(receivedAt time.Time) models.TelemetryRecord {
	ts := receivedAt.UTC()
	if raw := strings.TrimSpace(in.Timestamp); raw != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ts = parsed.UTC()
		}
	}
	rec := models.TelemetryRecord{
		CapturedAt: ts,
		RV:         models.Reading(*in.RV),
		YV:         models.Reading(*in.YV),
		BV:         models.Reading(*in.BV),
		RI:         models.Reading(*in.RI),
		YI:         models.Reading(*in.YI),
		BI:         models.Reading(*in.BI),
		Fault:      *in.Fault,
	}
	if rec.Fault && in.FaultType != nil {
		rec.FaultType = strings.TrimSpace(*in.FaultType)
	}
	return rec
}

// IngestResult is returned to the device after a successful write.
type IngestResult struct {
	RowIndex  int       `json:"rowIndex"`
	Timestamp time.Time `json:"timestamp"`
}

// IngestOptions tunes retry behaviour on lock contention.
type IngestOptions struct {
	LockRetries  int
	RetryBackoff time.Duration
}

// TelemetryService is the only writer of the telemetry log. It persists accepted samples
// and publishes them after the write succeeded.
type TelemetryService struct {
	store     Appender
	publisher Publisher
	opts      IngestOptions
	logger    *zap.Logger
	now       func() time.Time
}

// NewTelemetryService returns service instance.
func NewTelemetryService(store Appender, publisher Publisher, opts IngestOptions, logger *zap.Logger) *TelemetryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LockRetries < 0 {
		opts.LockRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	return &TelemetryService{
		store:     store,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest validates, persists and broadcasts one sample. A record is never published
// unless the append succeeded.
func (s *TelemetryService) Ingest(ctx context.Context, input IngestInput) (IngestResult, error) {
	if err := input.Validate(); err != nil {
		return IngestResult{}, err
	}
	rec := input.record(s.now())

	rowIndex, err := s.appendWithRetry(ctx, rec)
	if err != nil {
		return IngestResult{}, err
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, rec); err != nil {
			s.logger.Warn("failed to publish telemetry record", zap.Int("row", rowIndex), zap.Error(err))
		}
	}

	return IngestResult{RowIndex: rowIndex, Timestamp: rec.CapturedAt}, nil
}

func (s *TelemetryService) appendWithRetry(ctx context.Context, rec models.TelemetryRecord) (int, error) {
	for attempt := 0; ; attempt++ {
		rowIndex, err := s.store.Append(ctx, rec)
		if err == nil {
			return rowIndex, nil
		}
		if !errors.Is(err, repository.ErrLockTimeout) || attempt >= s.opts.LockRetries || ctx.Err() != nil {
			return 0, err
		}
		s.logger.Info("retrying telemetry append after lock timeout", zap.Int("attempt", attempt+1))

		timer := time.NewTimer(s.opts.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, err
		case <-timer.C:
		}
	}
}
