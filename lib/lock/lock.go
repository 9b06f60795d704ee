// Package lock keeps two collection runs from overlapping, including runs in
// separate processes such as a cron-started CLI and the server.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DefaultStaleAfter is how old a lock file must be before it is considered
// abandoned by a crashed run.
const DefaultStaleAfter = 2 * time.Hour

// FileLock is a lock file per key in a directory.
type FileLock struct {
	dir        string
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewFileLock creates locks under dir, or under the system temp directory
// when dir is empty.
func NewFileLock(dir string, staleAfter time.Duration, logger *slog.Logger) *FileLock {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "trendwatch-locks")
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &FileLock{dir: dir, staleAfter: staleAfter, logger: logger}
}

// TryLock attempts to take key, polling until wait elapses. It returns false
// without error when someone else holds the lock.
func (fl *FileLock) TryLock(ctx context.Context, key string, wait time.Duration) (bool, error) {
	lockFile := fl.path(key)

	if err := os.MkdirAll(fl.dir, 0750); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	deadline := time.Now().Add(wait)
	for {
		// #nosec G304 - lockFile is built from the lock directory and key
		file, err := os.OpenFile(lockFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			_, werr := fmt.Fprintf(file, "%d\n%d\n", time.Now().Unix(), os.Getpid())
			cerr := file.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(lockFile)
				return false, fmt.Errorf("failed to write lock file: %w", firstErr(werr, cerr))
			}
			fl.logger.Debug("Acquired lock", slog.String("key", key), slog.String("file", lockFile))
			return true, nil
		}
		if !os.IsExist(err) {
			return false, fmt.Errorf("failed to create lock file: %w", err)
		}

		if fl.isStale(lockFile) {
			fl.logger.Warn("Removing stale lock file", slog.String("file", lockFile))
			if err := os.Remove(lockFile); err != nil && !os.IsNotExist(err) {
				return false, fmt.Errorf("failed to remove stale lock file: %w", err)
			}
			continue
		}

		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Unlock releases key. Releasing a lock that is not held is not an error.
func (fl *FileLock) Unlock(_ context.Context, key string) error {
	lockFile := fl.path(key)
	if err := os.Remove(lockFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	fl.logger.Debug("Released lock", slog.String("key", key), slog.String("file", lockFile))
	return nil
}

func (fl *FileLock) path(key string) string {
	// Base strips any directory components from the key.
	return filepath.Join(fl.dir, filepath.Base(filepath.Clean(key))+".lock")
}

func (fl *FileLock) isStale(lockFile string) bool {
	info, err := os.Stat(lockFile)
	if err != nil {
		return os.IsNotExist(err)
	}
	return time.Since(info.ModTime()) > fl.staleAfter
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
