package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const backupPrefix = "logs_backup_"

var backupStamp = strings.NewReplacer(":", "-", ".", "-")

// LogSource opens the current log file for copying.
type LogSource interface {
	Open() (*os.File, error)
	Path() string
}

// BackupService copies the log file into a backup directory. It does not take the writer
// lock, so a copy made during an append may be torn.
type BackupService struct {
	source LogSource
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewBackupService returns backup service writing into dir.
func NewBackupService(source LogSource, dir string, logger *zap.Logger) *BackupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(filepath.Dir(source.Path()), "backups")
	}
	return &BackupService{source: source, dir: dir, logger: logger, now: time.Now}
}

// Dir returns the backup directory.
func (s *BackupService) Dir() string {
	return s.dir
}

// CreateBackup writes a byte-for-byte copy of the log and returns its path.
func (s *BackupService) CreateBackup() (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("backup: create dir: %w", err)
	}

	src, err := s.source.Open()
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	defer src.Close()

	stamp := backupStamp.Replace(s.now().UTC().Format("2006-01-02T15:04:05.000Z"))
	path := filepath.Join(s.dir, backupPrefix+stamp+filepath.Ext(s.source.Path()))

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("backup: create copy: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("backup: copy: %w", err)
	}
	if err := errors.Join(dst.Sync(), dst.Close()); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("backup: flush: %w", err)
	}

	s.logger.Info("telemetry log backup created", zap.String("path", path))
	return path, nil
}

// ListBackups returns the existing backup paths, oldest first.
func (s *BackupService) ListBackups() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backup: list: %w", err)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), backupPrefix) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
