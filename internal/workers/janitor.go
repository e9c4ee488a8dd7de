package workers

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// UploadPrefix names every document saved from the API and the Telegram bot.
const UploadPrefix = "financial_document_"

// UploadPattern matches saved uploads.
const UploadPattern = UploadPrefix + "*"

// UploadJanitor removes uploaded documents left behind by runs that never
// cleaned up after themselves, e.g. after a crash.
type UploadJanitor struct {
	*BaseWorker
	dir    string
	maxAge time.Duration
	now    func() time.Time
}

// NewUploadJanitor creates the janitor for dir.
func NewUploadJanitor(dir string, maxAge, interval time.Duration) *UploadJanitor {
	return &UploadJanitor{
		BaseWorker: NewBaseWorker("upload_janitor", interval, dir != "" && maxAge > 0),
		dir:        dir,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Run deletes uploads older than the configured age.
func (j *UploadJanitor) Run(ctx context.Context) error {
	matches, err := filepath.Glob(filepath.Join(j.dir, UploadPattern))
	if err != nil {
		return err
	}

	cutoff := j.now().Add(-j.maxAge)
	removed := 0
	for _, path := range matches {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			j.Log().Warnw("Failed to remove stale upload", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		j.Log().Infow("Removed stale uploads", "count", removed, "dir", j.dir)
	}
	return nil
}
