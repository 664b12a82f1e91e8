package analyze

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/store"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, *store.WorkflowStore, *store.FeedbackStore) {
	t.Helper()
	st, err := store.NewWorkflowStore(t.TempDir())
	require.NoError(t, err)
	fb, err := store.NewFeedbackStore(t.TempDir())
	require.NoError(t, err)
	return New(st, fb), st, fb
}

func seedWorkflow(t *testing.T, st *store.WorkflowStore, wf *workflow.Workflow) {
	t.Helper()
	if wf.Status == "" {
		wf.Status = workflow.StatusDraft
	}
	_, err := st.Save(wf)
	require.NoError(t, err)
}

func recordFeedback(t *testing.T, fb *store.FeedbackStore, entry *workflow.ExecutionFeedback) {
	t.Helper()
	if entry.FeedbackID == "" {
		entry.FeedbackID = workflow.NewFeedbackID()
	}
	_, err := fb.Record(entry)
	require.NoError(t, err)
}

// seedSeries records outcomes with minute-ascending timestamps.
func seedSeries(t *testing.T, fb *store.FeedbackStore, workflowID string, outcomes []bool) {
	t.Helper()
	for i, success := range outcomes {
		recordFeedback(t, fb, &workflow.ExecutionFeedback{
			WorkflowID: workflowID,
			Success:    success,
			Timestamp:  fmt.Sprintf("2026-02-16T12:%02d:00", i),
		})
	}
}

func outcomes(successes, failures int) []bool {
	out := make([]bool, 0, successes+failures)
	for i := 0; i < successes; i++ {
		out = append(out, true)
	}
	for i := 0; i < failures; i++ {
		out = append(out, false)
	}
	return out
}

func TestGenerateReport(t *testing.T) {
	a, st, fb := newTestAnalyzer(t)
	seedWorkflow(t, st, &workflow.Workflow{WorkflowID: "wf-aaaa0001", Name: "メモ保存", AppName: "Notes", Confidence: 0.8})

	now := time.Now()
	ts := func(age time.Duration) string { return now.Add(-age).Format(workflow.TimeLayout) }

	recordFeedback(t, fb, &workflow.ExecutionFeedback{WorkflowID: "wf-aaaa0001", AppName: "Notes", Success: true, DurationSeconds: 2, Timestamp: ts(1 * time.Hour)})
	recordFeedback(t, fb, &workflow.ExecutionFeedback{WorkflowID: "wf-aaaa0001", AppName: "Notes", Success: true, DurationSeconds: 4, Timestamp: ts(2 * time.Hour)})
	recordFeedback(t, fb, &workflow.ExecutionFeedback{WorkflowID: "wf-aaaa0001", AppName: "Notes", Success: false, DurationSeconds: 6, Timestamp: ts(3 * time.Hour)})
	recordFeedback(t, fb, &workflow.ExecutionFeedback{Success: true, DurationSeconds: 1, Timestamp: ts(4 * time.Hour)})
	recordFeedback(t, fb, &workflow.ExecutionFeedback{WorkflowID: "wf-gone0001", AppName: "Mail", Success: false, DurationSeconds: 3, Timestamp: ts(5 * time.Hour)})
	recordFeedback(t, fb, &workflow.ExecutionFeedback{WorkflowID: "wf-gone0001", AppName: "Mail", Success: false, DurationSeconds: 5, Timestamp: ts(6 * time.Hour)})
	// Outside the window and unparseable entries are ignored.
	recordFeedback(t, fb, &workflow.ExecutionFeedback{WorkflowID: "wf-aaaa0001", AppName: "Notes", Success: true, Timestamp: "2020-01-01T00:00:00"})
	recordFeedback(t, fb, &workflow.ExecutionFeedback{WorkflowID: "wf-aaaa0001", AppName: "Notes", Success: true, Timestamp: "いつか"})

	report := a.GenerateReport(0)

	assert.Equal(t, DefaultReportDays, report.PeriodDays)
	assert.Equal(t, 6, report.TotalFeedbacks)
	assert.InDelta(t, 0.5, report.OverallSuccessRate, 1e-9)

	require.Contains(t, report.AppStats, "Notes")
	assert.Equal(t, 3, report.AppStats["Notes"].Count)
	assert.InDelta(t, 2.0/3.0, report.AppStats["Notes"].SuccessRate, 1e-9)
	assert.InDelta(t, 4.0, report.AppStats["Notes"].AvgDuration, 1e-9)
	require.Contains(t, report.AppStats, "Unknown")
	assert.Equal(t, 1, report.AppStats["Unknown"].Count)
	require.Contains(t, report.AppStats, "Mail")
	assert.InDelta(t, 4.0, report.AppStats["Mail"].AvgDuration, 1e-9)

	require.Len(t, report.TopFailures, 2)
	assert.Equal(t, "wf-gone0001", report.TopFailures[0].WorkflowID)
	assert.Equal(t, "wf-gone0001", report.TopFailures[0].Name)
	assert.Equal(t, 2, report.TopFailures[0].FailureCount)
	assert.Equal(t, "メモ保存", report.TopFailures[1].Name)
	assert.Equal(t, 1, report.TopFailures[1].FailureCount)

	require.Len(t, report.TopUsed, 2)
	assert.Equal(t, "wf-aaaa0001", report.TopUsed[0].WorkflowID)
	assert.Equal(t, 3, report.TopUsed[0].ExecutionCount)
	assert.InDelta(t, 2.0/3.0, report.TopUsed[0].SuccessRate, 1e-9)

	assert.Equal(t, map[string]int{"draft": 1, "tested": 0, "active": 0, "deprecated": 0}, report.StatusDistribution)
}

func TestGenerateReportRankingCap(t *testing.T) {
	a, _, fb := newTestAnalyzer(t)
	now := time.Now()
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("wf-cap%05d", i)
		for j := 0; j <= i; j++ {
			recordFeedback(t, fb, &workflow.ExecutionFeedback{
				WorkflowID: id,
				Success:    false,
				Timestamp:  now.Add(-time.Duration(i*10+j) * time.Minute).Format(workflow.TimeLayout),
			})
		}
	}

	report := a.GenerateReport(7)
	require.Len(t, report.TopFailures, 5)
	require.Len(t, report.TopUsed, 5)
	assert.Equal(t, 7, report.TopFailures[0].FailureCount)
	assert.Equal(t, 3, report.TopFailures[4].FailureCount)
}

func TestDetectRegression(t *testing.T) {
	t.Run("sharp drop", func(t *testing.T) {
		a, _, fb := newTestAnalyzer(t)
		seedSeries(t, fb, "wf-bbbb0001", outcomes(10, 10))
		assert.True(t, a.DetectRegression("wf-bbbb0001"))
	})

	t.Run("drop of exactly the threshold", func(t *testing.T) {
		a, _, fb := newTestAnalyzer(t)
		series := outcomes(18, 0)
		series[10] = false
		series[11] = false
		seedSeries(t, fb, "wf-bbbb0002", append(series, true, true))
		assert.True(t, a.DetectRegression("wf-bbbb0002"))
	})

	t.Run("mild drop", func(t *testing.T) {
		a, _, fb := newTestAnalyzer(t)
		series := outcomes(20, 0)
		series[0] = false
		series[10] = false
		series[11] = false
		seedSeries(t, fb, "wf-bbbb0003", series)
		assert.False(t, a.DetectRegression("wf-bbbb0003"))
	})

	t.Run("too few executions", func(t *testing.T) {
		a, _, fb := newTestAnalyzer(t)
		seedSeries(t, fb, "wf-bbbb0004", outcomes(10, 9))
		assert.False(t, a.DetectRegression("wf-bbbb0004"))
	})
}

func TestSuggestImprovements(t *testing.T) {
	a, st, fb := newTestAnalyzer(t)

	seedWorkflow(t, st, &workflow.Workflow{WorkflowID: "wf-low00001", Name: "メモ保存", AppName: "Notes", Confidence: 0.9})
	seedSeries(t, fb, "wf-low00001", outcomes(1, 2))

	seedWorkflow(t, st, &workflow.Workflow{WorkflowID: "wf-app00001", Name: "資料送信", AppName: "Ghostty", Confidence: 0.8})
	for i := 0; i < 5; i++ {
		recordFeedback(t, fb, &workflow.ExecutionFeedback{
			WorkflowID: "wf-gone0002",
			AppName:    "Ghostty",
			Success:    i == 0,
			Timestamp:  fmt.Sprintf("2026-02-16T13:%02d:00", i),
		})
	}

	seedWorkflow(t, st, &workflow.Workflow{WorkflowID: "wf-dep00001", Name: "旧手順", AppName: "Finder", Confidence: 0.7, Status: workflow.StatusDeprecated})

	suggestions := a.SuggestImprovements()
	require.Len(t, suggestions, 3)

	assert.Equal(t, "wf-low00001", suggestions[0].WorkflowID)
	assert.Equal(t, "high", suggestions[0].Priority)
	assert.True(t, suggestions[0].AutoApplicable)
	assert.Equal(t, "成功率が低い。バリアント生成を検討", suggestions[0].Text)

	assert.Equal(t, "wf-app00001", suggestions[1].WorkflowID)
	assert.Equal(t, "high", suggestions[1].Priority)
	assert.False(t, suggestions[1].AutoApplicable)
	assert.Contains(t, suggestions[1].Text, "Ghostty")

	assert.Equal(t, "wf-dep00001", suggestions[2].WorkflowID)
	assert.Equal(t, "medium", suggestions[2].Priority)
	assert.Equal(t, "非推奨。代替ワークフローの作成を推奨", suggestions[2].Text)
}

func TestSuggestionsStack(t *testing.T) {
	a, st, fb := newTestAnalyzer(t)
	seedWorkflow(t, st, &workflow.Workflow{WorkflowID: "wf-cccc0001", Name: "議事録作成", Confidence: 0.8})
	seedSeries(t, fb, "wf-cccc0001", outcomes(10, 10))

	suggestions := a.SuggestImprovements()
	require.Len(t, suggestions, 2)
	assert.Equal(t, "成功率が低い。バリアント生成を検討", suggestions[0].Text)
	assert.Equal(t, "回帰検出：直近の成功率が低下", suggestions[1].Text)
}
