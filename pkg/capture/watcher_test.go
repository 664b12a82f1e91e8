package capture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "github.com/kazuyaegusa/8891-screen-shot/pkg/domain/errors"
)

func writeRecordFile(t *testing.T, dir, name, ts string) string {
	t.Helper()
	rec := Record{
		CaptureID:  name,
		Timestamp:  ts,
		UserAction: UserAction{Type: "click", X: f64(10), Y: f64(20)},
		App:        AppInfo{Name: "メモ", BundleID: "com.apple.Notes"},
	}
	data, err := json.Marshal(&rec)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()
	w, err := NewWatcher(dir, AgentProcessedLog)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestNewWatcherCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "captures", "nested")
	w := newTestWatcher(t, dir)
	assert.Equal(t, dir, w.Dir())
	assert.DirExists(t, dir)
}

func TestNewWatcherUnusableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := NewWatcher(filepath.Join(file, "sub"), AgentProcessedLog)
	require.Error(t, err)
	assert.Equal(t, agenterrors.CodeWatchDirUnreadable, agenterrors.CodeOf(err))
}

func TestScanNewFilesSortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "cap_late.json", "2025-01-15T09:30:05")
	writeRecordFile(t, dir, "cap_early.json", "2025-01-15T09:30:01")
	writeRecordFile(t, dir, "text_cap_mid.json", "2025-01-15T09:30:03")
	writeRecordFile(t, dir, "unrelated.json", "2025-01-15T09:30:02")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("memo"), 0o644))

	w := newTestWatcher(t, dir)
	recs := w.ScanNewFiles()
	require.Len(t, recs, 3)
	assert.Equal(t, "cap_early.json", recs[0].CaptureID)
	assert.Equal(t, "text_cap_mid.json", recs[1].CaptureID)
	assert.Equal(t, "cap_late.json", recs[2].CaptureID)
	assert.Equal(t, filepath.Join(dir, "cap_early.json"), recs[0].JSONPath)
}

func TestScanSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "cap_ok.json", "2025-01-15T09:30:01")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cap_broken.json"), []byte("{nope"), 0o644))

	w := newTestWatcher(t, dir)
	recs := w.ScanNewFiles()
	require.Len(t, recs, 1)
	assert.Equal(t, "cap_ok.json", recs[0].CaptureID)
}

func TestMarkProcessedIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeRecordFile(t, dir, "cap_a.json", "2025-01-15T09:30:01")
	writeRecordFile(t, dir, "cap_b.json", "2025-01-15T09:30:02")

	w := newTestWatcher(t, dir)
	require.NoError(t, w.MarkProcessed(path))
	require.NoError(t, w.MarkProcessed(path))
	assert.True(t, w.IsProcessed(path))

	data, err := os.ReadFile(filepath.Join(dir, AgentProcessedLog))
	require.NoError(t, err)
	assert.Equal(t, "cap_a.json\n", string(data))

	recs := w.ScanNewFiles()
	require.Len(t, recs, 1)
	assert.Equal(t, "cap_b.json", recs[0].CaptureID)
}

func TestProcessedLogSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := writeRecordFile(t, dir, "cap_a.json", "2025-01-15T09:30:01")

	w := newTestWatcher(t, dir)
	require.NoError(t, w.MarkProcessed(path))

	again := newTestWatcher(t, dir)
	assert.True(t, again.IsProcessed(path))
	assert.Empty(t, again.ScanNewFiles())
	assert.Len(t, again.LoadAll(), 1)
}

func TestSeparateProcessedLogs(t *testing.T) {
	dir := t.TempDir()
	path := writeRecordFile(t, dir, "cap_a.json", "2025-01-15T09:30:01")

	agent := newTestWatcher(t, dir)
	require.NoError(t, agent.MarkProcessed(path))

	pipe, err := NewWatcher(dir, PipelineProcessedLog)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pipe.Close() })
	assert.False(t, pipe.IsProcessed(path))
	assert.Len(t, pipe.ScanNewFiles(), 1)
}

func TestCustomPrefixes(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "cap_a.json", "2025-01-15T09:30:01")
	writeRecordFile(t, dir, "click_cap_b.json", "2025-01-15T09:30:02")

	w, err := NewWatcher(dir, AgentProcessedLog, "click_cap_")
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	recs := w.ScanNewFiles()
	require.Len(t, recs, 1)
	assert.Equal(t, "click_cap_b.json", recs[0].CaptureID)
}

func TestEventsWakeup(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)
	if w.Events() == nil {
		t.Skip("notifier unavailable, polling only")
	}

	writeRecordFile(t, dir, "cap_new.json", "2025-01-15T09:30:01")
	select {
	case <-w.Events():
	case <-time.After(3 * time.Second):
		t.Fatal("no wakeup for new capture file")
	}
}

func TestEventsIgnoreNonCaptureFiles(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)
	if w.Events() == nil {
		t.Skip("notifier unavailable, polling only")
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	select {
	case <-w.Events():
		t.Fatal("wakeup for unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}
