package capture

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	agenterrors "github.com/kazuyaegusa/8891-screen-shot/pkg/domain/errors"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
)

// Processed-log filenames. The agent and the skills pipeline track their
// consumption independently in the same watched directory.
const (
	AgentProcessedLog    = "_agent_processed.txt"
	PipelineProcessedLog = "_processed.txt"
)

var defaultPrefixes = []string{"cap_", "click_cap_", "text_cap_", "shortcut_cap_"}

// Watcher discovers unprocessed capture records in the watched directory.
// Polling via ScanNewFiles is the correctness mechanism; Events only shortens
// the wait between polls.
type Watcher struct {
	dir       string
	logPath   string
	prefixes  []string
	processed map[string]struct{}
	events    chan struct{}
	fsw       *fsnotify.Watcher
	log       zerolog.Logger
}

// NewWatcher opens the watched directory, creating it when absent, and loads
// the processed log. An unreadable directory is a fatal configuration error.
// With no prefixes, all four grabber patterns are watched.
func NewWatcher(dir, processedLogName string, prefixes ...string) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, agenterrors.New(agenterrors.CodeWatchDirUnreadable, "capture",
			fmt.Sprintf("watch directory %s is not usable", dir), err)
	}
	if _, err := os.ReadDir(dir); err != nil {
		return nil, agenterrors.New(agenterrors.CodeWatchDirUnreadable, "capture",
			fmt.Sprintf("watch directory %s is not readable", dir), err)
	}
	if len(prefixes) == 0 {
		prefixes = defaultPrefixes
	}
	w := &Watcher{
		dir:       dir,
		logPath:   filepath.Join(dir, processedLogName),
		prefixes:  prefixes,
		processed: make(map[string]struct{}),
		log:       logger.Component("capture-watcher"),
	}
	w.loadProcessed()
	w.initNotify()
	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Events delivers an advisory wakeup when a capture file appears. The channel
// is nil when the underlying notifier could not start; receiving from it then
// blocks forever, which select loops tolerate.
func (w *Watcher) Events() <-chan struct{} { return w.events }

// Close stops the notifier. The watcher remains usable for scanning.
func (w *Watcher) Close() error {
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

// ScanNewFiles loads every matching record absent from the processed log,
// sorted by timestamp ascending. Malformed JSON is logged and skipped.
func (w *Watcher) ScanNewFiles() []*Record {
	var out []*Record
	for _, rec := range w.LoadAll() {
		if _, done := w.processed[filepath.Base(rec.JSONPath)]; done {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// LoadAll loads every matching record regardless of the processed log,
// sorted by timestamp ascending.
func (w *Watcher) LoadAll() []*Record {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Error().Err(err).Str("dir", w.dir).Msg("watch directory unreadable")
		return nil
	}
	var out []*Record
	for _, e := range entries {
		if e.IsDir() || !w.matches(e.Name()) {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			w.log.Warn().Err(err).Str("file", e.Name()).Msg("capture skipped")
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			w.log.Warn().Err(err).Str("file", e.Name()).Msg("capture skipped")
			continue
		}
		rec.JSONPath = path
		out = append(out, &rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// MarkProcessed appends the record's basename to the processed log.
// Marking an already-processed file again is a no-op.
func (w *Watcher) MarkProcessed(path string) error {
	name := filepath.Base(path)
	if _, done := w.processed[name]; done {
		return nil
	}
	f, err := os.OpenFile(w.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open processed log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(name + "\n"); err != nil {
		return fmt.Errorf("append processed log: %w", err)
	}
	w.processed[name] = struct{}{}
	return nil
}

// IsProcessed reports whether the basename is already in the log.
func (w *Watcher) IsProcessed(path string) bool {
	_, done := w.processed[filepath.Base(path)]
	return done
}

func (w *Watcher) matches(name string) bool {
	if !strings.HasSuffix(name, ".json") {
		return false
	}
	for _, p := range w.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func (w *Watcher) loadProcessed() {
	data, err := os.ReadFile(w.logPath)
	if err != nil {
		return
	}
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			w.processed[line] = struct{}{}
		}
	}
}

// initNotify starts the fsnotify feed. Failure only costs the early wakeups,
// so it is logged and ignored.
func (w *Watcher) initNotify() {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn().Err(err).Msg("fsnotify unavailable, polling only")
		return
	}
	if err := fsw.Add(w.dir); err != nil {
		w.log.Warn().Err(err).Str("dir", w.dir).Msg("fsnotify watch failed, polling only")
		_ = fsw.Close()
		return
	}
	w.fsw = fsw
	w.events = make(chan struct{}, 1)
	go func() {
		for {
			select {
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
					continue
				}
				if !w.matches(filepath.Base(ev.Name)) {
					continue
				}
				select {
				case w.events <- struct{}{}:
				default:
				}
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}
