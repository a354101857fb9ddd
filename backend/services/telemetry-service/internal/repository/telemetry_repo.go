package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"gridwatch/backend/services/telemetry-service/internal/models"
)

// DefaultSheet is the worksheet that holds the telemetry rows.
const DefaultSheet = "Sensor Data"

// Order selects the direction of filtered results.
type Order int

const (
	OrderOldestFirst Order = iota
	OrderNewestFirst
)

// Options configures a LogStore.
type Options struct {
	Path             string
	Sheet            string
	LockTimeout      time.Duration
	LockPollInterval time.Duration
}

// LogStore is the append-only telemetry log kept in a single workbook. Writers are
// serialized by a sentinel file lock; readers never take the lock and may observe a
// file that a concurrent writer is still rewriting.
type LogStore struct {
	path   string
	sheet  string
	lock   *FileLock
	logger *zap.Logger
	now    func() time.Time
}

// NewLogStore returns a store for opts.Path and makes sure the file exists.
func NewLogStore(opts Options, logger *zap.Logger) (*LogStore, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("log store: empty path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sheet := opts.Sheet
	if sheet == "" {
		sheet = DefaultSheet
	}
	s := &LogStore{
		path:   opts.Path,
		sheet:  sheet,
		lock:   NewFileLock(opts.Path+".lock", opts.LockTimeout, opts.LockPollInterval),
		logger: logger,
		now:    time.Now,
	}
	if err := s.EnsureInitialized(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the log file location.
func (s *LogStore) Path() string {
	return s.path
}

// Lock exposes the writer lock.
func (s *LogStore) Lock() *FileLock {
	return s.lock
}

// EnsureInitialized creates the parent directory and a header-only workbook when the
// log file does not exist yet. It is a no-op otherwise.
func (s *LogStore) EnsureInitialized() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return ioError("init", s.path, err)
	}
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return ioError("init", s.path, err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), s.sheet); err != nil {
		return ioError("init", s.path, err)
	}
	if err := f.SetSheetRow(s.sheet, "A1", &Header); err != nil {
		return ioError("init", s.path, err)
	}
	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return ioError("init", s.path, err)
		}
		if err := f.SetColWidth(s.sheet, col, col, width); err != nil {
			return ioError("init", s.path, err)
		}
	}
	if err := s.setExtent(f, 1); err != nil {
		return ioError("init", s.path, err)
	}

	// O_EXCL: a concurrent initializer that got there first wins and this one backs off.
	out, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return ioError("init", s.path, err)
	}
	if err := writeWorkbook(out, f); err != nil {
		return ioError("init", s.path, err)
	}

	s.logger.Info("created telemetry log", zap.String("path", s.path), zap.String("sheet", s.sheet))
	return nil
}

// Append stores rec as the next row and returns its 1-based data row index. The write
// lock is held for the whole read-modify-write cycle and released on every exit path.
func (s *LogStore) Append(ctx context.Context, rec models.TelemetryRecord) (int, error) {
	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = s.now().UTC()
	}

	var rowIndex int
	err := s.lock.WithLock(ctx, func() error {
		idx, err := s.appendLocked(rec)
		if err != nil {
			return err
		}
		rowIndex = idx
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			s.logger.Warn("telemetry append timed out waiting for lock", zap.String("lock", s.lock.Path()))
		}
		return 0, err
	}

	s.logger.Info("telemetry row appended",
		zap.Int("row", rowIndex),
		zap.Time("captured_at", rec.CapturedAt),
		zap.Bool("fault", rec.Fault),
	)
	return rowIndex, nil
}

func (s *LogStore) appendLocked(rec models.TelemetryRecord) (int, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return 0, ioError("append", s.path, err)
	}
	defer f.Close()

	lastRow, err := s.lastRow(f)
	if err != nil {
		return 0, ioError("append", s.path, err)
	}

	// The header occupies sheet row 1, so the last sheet row number doubles as the
	// data row index of the new record.
	rowIndex := lastRow
	cell, err := excelize.CoordinatesToCellName(1, lastRow+1)
	if err != nil {
		return 0, ioError("append", s.path, err)
	}
	row := encodeRow(rec)
	if err := f.SetSheetRow(s.sheet, cell, &row); err != nil {
		return 0, ioError("append", s.path, err)
	}
	if err := s.setExtent(f, lastRow+1); err != nil {
		return 0, ioError("append", s.path, err)
	}

	out, err := os.OpenFile(s.path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, ioError("append", s.path, err)
	}
	if err := writeWorkbook(out, f); err != nil {
		return 0, ioError("append", s.path, err)
	}
	return rowIndex, nil
}

// lastRow reads the recorded extent of the sheet, falling back to counting rows when the
// workbook carries no dimension.
func (s *LogStore) lastRow(f *excelize.File) (int, error) {
	dim, err := f.GetSheetDimension(s.sheet)
	if err != nil {
		return 0, err
	}
	if dim != "" {
		ref := dim
		if i := strings.LastIndex(dim, ":"); i >= 0 {
			ref = dim[i+1:]
		}
		if _, row, err := excelize.CellNameToCoordinates(ref); err == nil && row >= 1 {
			return row, nil
		}
	}
	rows, err := f.GetRows(s.sheet)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 1, nil
	}
	return len(rows), nil
}

func (s *LogStore) setExtent(f *excelize.File, lastRow int) error {
	end, err := excelize.CoordinatesToCellName(len(Header), lastRow)
	if err != nil {
		return err
	}
	return f.SetSheetDimension(s.sheet, "A1:"+end)
}

func writeWorkbook(out *os.File, f *excelize.File) error {
	if err := f.Write(out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ReadAll returns every stored record in file order. It does not take the write lock.
// A missing or unreadable log yields an empty result so that monitoring stays available.
func (s *LogStore) ReadAll() []models.TelemetryRecord {
	records, err := s.readAll()
	if err != nil {
		s.logger.Warn("failed to read telemetry log", zap.String("path", s.path), zap.Error(err))
		return []models.TelemetryRecord{}
	}
	return records
}

func (s *LogStore) readAll() ([]models.TelemetryRecord, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := f.GetRows(s.sheet)
	if err != nil {
		return nil, err
	}
	records := make([]models.TelemetryRecord, 0, len(rows))
	for i, cells := range rows {
		if i == 0 {
			continue
		}
		if rec, ok := decodeRow(cells); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Tail returns the last n records in arrival order.
func (s *LogStore) Tail(n int) []models.TelemetryRecord {
	if n <= 0 {
		return []models.TelemetryRecord{}
	}
	records := s.ReadAll()
	if len(records) <= n {
		return records
	}
	return records[len(records)-n:]
}

// RangeFilter returns records captured within [start, end], both ends inclusive.
func (s *LogStore) RangeFilter(start, end time.Time) []models.TelemetryRecord {
	return s.PredicateFilter(func(rec models.TelemetryRecord) bool {
		if rec.CapturedAt.IsZero() {
			return false
		}
		return !rec.CapturedAt.Before(start) && !rec.CapturedAt.After(end)
	}, 0, OrderOldestFirst)
}

// PredicateFilter returns the records matching pred. A positive limit keeps only the last
// limit matches in file order; OrderNewestFirst then reverses them. Equal timestamps keep
// their file order.
func (s *LogStore) PredicateFilter(pred func(models.TelemetryRecord) bool, limit int, order Order) []models.TelemetryRecord {
	matched := make([]models.TelemetryRecord, 0)
	for _, rec := range s.ReadAll() {
		if pred == nil || pred(rec) {
			matched = append(matched, rec)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	if order == OrderNewestFirst {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	return matched
}

// Export streams the raw workbook into w.
func (s *LogStore) Export(w io.Writer) (int64, error) {
	f, err := s.Open()
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := io.Copy(w, f)
	if err != nil {
		return n, ioError("export", s.path, err)
	}
	return n, nil
}

// Open returns the log file for reading. A missing log is reported with fs.ErrNotExist.
func (s *LogStore) Open() (*os.File, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, ioError("open", s.path, fmt.Errorf("open log: %w", err))
	}
	return f, nil
}
