package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/roach88/btdebug/internal/apperr"
)

// CompanionSuffixes are the files SQLite keeps next to a database.
var CompanionSuffixes = []string{"-wal", "-shm", "-journal"}

// DatabaseFiles returns path followed by its companion files.
func DatabaseFiles(path string) []string {
	files := []string{path}
	for _, suffix := range CompanionSuffixes {
		files = append(files, path+suffix)
	}
	return files
}

// CleanupDatabase deletes the database file and its companions before a new
// run. Each file is retried up to attempts times, delay apart; a file that
// still cannot be removed yields a LockedFile error. Missing files are fine.
func CleanupDatabase(ctx context.Context, path string, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	for _, file := range DatabaseFiles(path) {
		if err := removeWithRetry(ctx, file, attempts, delay); err != nil {
			return err
		}
	}
	return nil
}

func removeWithRetry(ctx context.Context, file string, attempts int, delay time.Duration) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := os.Remove(file)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		lastErr = err
		slog.Debug("remove database file failed", "path", file, "attempt", attempt, "error", err)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return apperr.Wrap(apperr.CodeLockedFile,
		fmt.Sprintf("could not delete %s after %d attempts", file, attempts), lastErr)
}
