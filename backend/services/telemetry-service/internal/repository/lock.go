package repository

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"
)

const (
	defaultLockTimeout      = 5 * time.Second
	defaultLockPollInterval = 50 * time.Millisecond
)

// FileLock serializes writers through a sentinel file next to the log. It works across
// processes: the marker is created with O_EXCL, so only one writer can hold it at a time.
// The marker body is the pid of the holder and is advisory only.
type FileLock struct {
	path     string
	timeout  time.Duration
	interval time.Duration
}

// NewFileLock returns a lock guarding path. Non-positive durations fall back to 5s / 50ms.
func NewFileLock(path string, timeout, interval time.Duration) *FileLock {
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	if interval <= 0 {
		interval = defaultLockPollInterval
	}
	return &FileLock{path: path, timeout: timeout, interval: interval}
}

// Path returns the marker location.
func (l *FileLock) Path() string {
	return l.path
}

// Acquire polls until the marker can be created, the timeout elapses or ctx is done.
// On failure the marker is left untouched.
func (l *FileLock) Acquire(ctx context.Context) error {
	deadline := time.Now().Add(l.timeout)
	for {
		created, err := l.tryCreate()
		if err != nil {
			return ioError("lock", l.path, err)
		}
		if created {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &StoreError{Op: "lock", Path: l.path, Kind: ErrLockTimeout}
		}

		wait := l.interval
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &StoreError{Op: "lock", Path: l.path, Kind: ErrLockTimeout, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

func (l *FileLock) tryCreate() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(l.path)
		return false, errors.Join(werr, cerr)
	}
	return true, nil
}

// Release removes the marker. Releasing a lock that is not held is not an error.
func (l *FileLock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ioError("unlock", l.path, err)
	}
	return nil
}

// WithLock runs fn while holding the lock and releases it on every exit path,
// including panics inside fn.
func (l *FileLock) WithLock(ctx context.Context, fn func() error) (err error) {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if rerr := l.Release(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	return fn()
}
