// Package recovery learns which recovery action repairs which execution
// error and suggests the best-rated pattern back to the executor.
package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/store"
)

const (
	// PatternsFile is the learner's file name inside the workflow directory.
	PatternsFile = "recovery_patterns.json"

	minSamplesForSuggestion     = 3
	minSuccessRateForSuggestion = 0.6
)

// Learner accumulates recovery outcomes in a single JSON file. Safe for
// concurrent use.
type Learner struct {
	mu       sync.RWMutex
	path     string
	patterns []*workflow.RecoveryPattern
	log      zerolog.Logger
}

// NewLearner loads the pattern file at path. A missing file starts empty;
// an unreadable or non-list file resets to empty with a warning.
func NewLearner(path string) *Learner {
	l := &Learner{path: path, log: logger.Component("recovery")}
	l.patterns = l.load()
	return l
}

// RecordRecovery upserts the (error, app, action, recovery) pattern,
// recomputes its success rate, and persists the file.
func (l *Learner) RecordRecovery(errorCode, appName, failedAction, recoveryAction string, success bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p := l.find(errorCode, appName, failedAction, recoveryAction); p != nil {
		p.SampleCount++
		if success {
			p.SuccessCount++
		}
		p.SuccessRate = float64(p.SuccessCount) / float64(p.SampleCount)
		l.log.Info().
			Str("error_code", errorCode).
			Str("app", appName).
			Str("failed_action", failedAction).
			Str("recovery_action", recoveryAction).
			Float64("success_rate", p.SuccessRate).
			Msg("recovery pattern updated")
	} else {
		p := &workflow.RecoveryPattern{
			ErrorCode:      errorCode,
			AppName:        appName,
			FailedAction:   failedAction,
			RecoveryAction: recoveryAction,
			SampleCount:    1,
		}
		if success {
			p.SuccessCount = 1
			p.SuccessRate = 1.0
		}
		l.patterns = append(l.patterns, p)
		l.log.Info().
			Str("error_code", errorCode).
			Str("app", appName).
			Str("failed_action", failedAction).
			Str("recovery_action", recoveryAction).
			Msg("recovery pattern created")
	}
	return l.save()
}

// GetLearnedRecovery finds the best learned pattern, relaxing the match
// stepwise: exact, then any app, then error code alone. Only patterns with
// at least 3 samples and a 60% success rate qualify; the highest rate wins.
func (l *Learner) GetLearnedRecovery(errorCode, appName, failedAction string) *workflow.RecoveryPattern {
	l.mu.RLock()
	defer l.mu.RUnlock()

	keys := []struct{ app, action string }{
		{appName, failedAction},
		{"", failedAction},
		{"", ""},
	}
	for _, key := range keys {
		var best *workflow.RecoveryPattern
		for _, p := range l.patterns {
			if p.ErrorCode != errorCode || p.AppName != key.app || p.FailedAction != key.action {
				continue
			}
			if p.SampleCount < minSamplesForSuggestion || p.SuccessRate < minSuccessRateForSuggestion {
				continue
			}
			if best == nil || p.SuccessRate > best.SuccessRate {
				best = p
			}
		}
		if best != nil {
			out := *best
			return &out
		}
	}
	return nil
}

// GetReliablePatterns lists the qualifying patterns, best rate first.
func (l *Learner) GetReliablePatterns() []*workflow.RecoveryPattern {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*workflow.RecoveryPattern
	for _, p := range l.patterns {
		if p.SampleCount >= minSamplesForSuggestion && p.SuccessRate >= minSuccessRateForSuggestion {
			dup := *p
			out = append(out, &dup)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SuccessRate > out[j].SuccessRate })
	return out
}

func (l *Learner) find(errorCode, appName, failedAction, recoveryAction string) *workflow.RecoveryPattern {
	for _, p := range l.patterns {
		if p.ErrorCode == errorCode && p.AppName == appName &&
			p.FailedAction == failedAction && p.RecoveryAction == recoveryAction {
			return p
		}
	}
	return nil
}

func (l *Learner) save() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create pattern directory: %w", err)
	}
	return store.AtomicWriteJSON(l.path, l.patterns)
}

func (l *Learner) load() []*workflow.RecoveryPattern {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.log.Warn().Err(err).Str("path", l.path).Msg("pattern file unreadable, starting empty")
		}
		return nil
	}
	var patterns []*workflow.RecoveryPattern
	if err := json.Unmarshal(data, &patterns); err != nil {
		l.log.Warn().Err(err).Str("path", l.path).Msg("pattern file malformed, starting empty")
		return nil
	}
	return patterns
}
