package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/capture"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/extract"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/refine"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/report"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/store"
)

type learnerFixture struct {
	learner  *Learner
	store    *store.WorkflowStore
	feedback *store.FeedbackStore
	watchDir string
}

func newLearnerFixture(t *testing.T, opts LearnerOptions, analyzer extract.Analyzer) *learnerFixture {
	t.Helper()
	watchDir := t.TempDir()
	st, err := store.NewWorkflowStore(filepath.Join(t.TempDir(), "workflows"))
	require.NoError(t, err)
	fb, err := store.NewFeedbackStore(filepath.Join(t.TempDir(), "feedback"))
	require.NoError(t, err)
	w, err := capture.NewWatcher(watchDir, capture.AgentProcessedLog)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	ex := extract.New(w, st, analyzer, extract.Options{})
	l := NewLearner(ex, refine.New(st, fb), report.NewGenerator(st, fb), opts)
	return &learnerFixture{learner: l, store: st, feedback: fb, watchDir: watchDir}
}

func writeCapture(t *testing.T, dir, name, ts string) {
	t.Helper()
	x, y := 100.0, 200.0
	rec := capture.Record{
		CaptureID:  strings.TrimSuffix(name, ".json"),
		Timestamp:  ts,
		UserAction: capture.UserAction{Type: "click", X: &x, Y: &y},
		App:        capture.AppInfo{Name: "メモ"},
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestLearnerDefaults(t *testing.T) {
	l := NewLearner(nil, nil, nil, LearnerOptions{})
	assert.Equal(t, DefaultPollInterval, l.poll)
	assert.Equal(t, DefaultRefineEvery, l.refineEvery)
	assert.Equal(t, DefaultReportInterval, l.reportEvery)
}

func TestRunOnceExtracts(t *testing.T) {
	analyzer := &scriptedAnalyzer{analysis: &oracle.SegmentAnalysis{
		Name:        "メモ保存",
		Description: "メモを開いて保存する",
		Confidence:  0.9,
		IsWorkflow:  true,
	}}
	fix := newLearnerFixture(t, LearnerOptions{}, analyzer)
	writeCapture(t, fix.watchDir, "cap_0001.json", "2026-02-16T12:00:00.000000")
	writeCapture(t, fix.watchDir, "cap_0002.json", "2026-02-16T12:00:05.000000")

	got := fix.learner.RunOnce(context.Background())
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, fix.store.Count())

	// Processed files are not re-extracted on the next cycle.
	assert.Zero(t, fix.learner.RunOnce(context.Background()))
	assert.Equal(t, 1, fix.store.Count())
}

func TestRunOnceRefinePromotes(t *testing.T) {
	fix := newLearnerFixture(t, LearnerOptions{RefineEvery: 1}, &scriptedAnalyzer{})

	wf := &workflow.Workflow{
		Name:       "メモ保存",
		Status:     workflow.StatusDraft,
		Confidence: 0.7,
		Steps:      []workflow.ActionStep{{ActionType: workflow.ActionClick}},
	}
	id, err := fix.store.Save(wf)
	require.NoError(t, err)
	_, err = fix.feedback.Record(&workflow.ExecutionFeedback{
		FeedbackID:     workflow.NewFeedbackID(),
		WorkflowID:     id,
		Goal:           "メモ保存",
		Success:        true,
		StepsExecuted:  1,
		StepsSucceeded: 1,
		Timestamp:      time.Now().Format(workflow.TimeLayout),
		ExecutionMode:  workflow.ModeWorkflow,
	})
	require.NoError(t, err)

	fix.learner.RunOnce(context.Background())

	got, err := fix.store.Get(id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, workflow.StatusTested, got.Status)
}

func TestFirstCycleWritesReport(t *testing.T) {
	fix := newLearnerFixture(t, LearnerOptions{}, &scriptedAnalyzer{})
	fix.learner.RunOnce(context.Background())

	path := filepath.Join(fix.store.Dir(), "reports", "report_"+time.Now().Format("20060102")+".md")
	assert.FileExists(t, path)
}

func TestLearnerRunStopAndEvents(t *testing.T) {
	m := NewMetrics()
	events := make(chan struct{}, 1)
	fix := newLearnerFixture(t, LearnerOptions{
		PollInterval: 5 * time.Second,
		Metrics:      m,
		Events:       events,
	}, &scriptedAnalyzer{})

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		fix.learner.Run(ctx)
		close(done)
	}()

	waitForCounter(t, m.cycles, 1)

	// A capture event cuts the poll wait short.
	events <- struct{}{}
	waitForCounter(t, m.cycles, 2)

	fix.learner.Stop()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("learner did not stop")
	}
}

func TestLearnerStopBeforeRun(t *testing.T) {
	fix := newLearnerFixture(t, LearnerOptions{PollInterval: time.Hour}, &scriptedAnalyzer{})
	fix.learner.Stop()
	fix.learner.Stop()

	fix.learner.Run(context.Background())
	assert.Equal(t, 1, fix.learner.cycles)
}

func TestLearnerContextCancel(t *testing.T) {
	fix := newLearnerFixture(t, LearnerOptions{PollInterval: time.Hour}, &scriptedAnalyzer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		fix.learner.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("learner ignored cancellation")
	}
}

func waitForCounter(t *testing.T, c prometheus.Counter, want float64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(c) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("counter did not reach %v", want)
}
