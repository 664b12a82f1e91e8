package daemon

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/capture"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
)

// DefaultRetention is how long unconsumed capture files survive before
// the age sweep removes them.
const DefaultRetention = time.Hour

// cleanupPatterns matches everything the capture grabbers leave behind.
var cleanupPatterns = []string{
	"cap_*.json",
	"click_cap_*.json",
	"text_cap_*.json",
	"shortcut_cap_*.json",
	"full_*.png",
	"crop_*.png",
}

// CleanupManager removes consumed capture artifacts from the watched
// directory so the grabbers' output never accumulates on disk.
type CleanupManager struct {
	watchDir string
	log      zerolog.Logger
}

func NewCleanupManager(watchDir string) *CleanupManager {
	return &CleanupManager{
		watchDir: watchDir,
		log:      logger.Component("cleanup"),
	}
}

// CleanupSession deletes a processed segment's capture files: each
// record's JSON plus its screenshots. Missing files are skipped silently.
// Returns the number of files removed.
func (m *CleanupManager) CleanupSession(seg *capture.Segment) int {
	if seg == nil {
		return 0
	}
	deleted := 0
	for _, rec := range seg.Captures {
		deleted += m.safeDelete(rec.JSONPath)
		deleted += m.safeDelete(rec.Screenshots.Full)
		deleted += m.safeDelete(rec.Screenshots.Cropped)
	}
	if deleted > 0 {
		m.log.Debug().
			Str("session", seg.SessionID).
			Int("files", deleted).
			Msg("session files cleaned up")
	}
	return deleted
}

// CleanupOldFiles deletes capture-pattern files whose modification time
// is older than the retention. Non-positive retention falls back to
// DefaultRetention. Returns the deleted file names.
func (m *CleanupManager) CleanupOldFiles(retention time.Duration) []string {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := time.Now().Add(-retention)

	var deleted []string
	for _, pattern := range cleanupPatterns {
		matches, err := filepath.Glob(filepath.Join(m.watchDir, pattern))
		if err != nil {
			continue
		}
		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if info.ModTime().Before(cutoff) && m.safeDelete(path) == 1 {
				deleted = append(deleted, filepath.Base(path))
			}
		}
	}
	if len(deleted) > 0 {
		m.log.Info().Int("files", len(deleted)).Msg("stale capture files removed")
	}
	return deleted
}

// safeDelete removes one file, tolerating absence. Returns 1 when a file
// was actually removed.
func (m *CleanupManager) safeDelete(path string) int {
	if path == "" {
		return 0
	}
	err := os.Remove(path)
	if err == nil {
		return 1
	}
	if !os.IsNotExist(err) {
		m.log.Warn().Err(err).Str("path", path).Msg("file not removed")
	}
	return 0
}
