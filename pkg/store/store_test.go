package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
)

func newTestStores(t *testing.T) (*WorkflowStore, *FeedbackStore) {
	t.Helper()
	st, err := NewWorkflowStore(t.TempDir())
	require.NoError(t, err)
	fb, err := NewFeedbackStore(t.TempDir())
	require.NoError(t, err)
	return st, fb
}

func testWorkflow(name, app string, confidence float64) *workflow.Workflow {
	return &workflow.Workflow{
		WorkflowID:  workflow.NewWorkflowID(),
		Name:        name,
		Description: name + "の説明",
		AppName:     app,
		Steps: []workflow.ActionStep{
			{ActionType: workflow.ActionClick, AppName: app},
		},
		Tags:       []string{app},
		Confidence: confidence,
		Status:     workflow.StatusDraft,
		CreatedAt:  time.Now().Format(workflow.TimeLayout),
	}
}

func recordFeedback(t *testing.T, fb *FeedbackStore, workflowID string, success bool, failedSteps ...int) {
	t.Helper()
	_, err := fb.Record(&workflow.ExecutionFeedback{
		FeedbackID:        workflow.NewFeedbackID(),
		WorkflowID:        workflowID,
		Success:           success,
		FailedStepIndices: failedSteps,
		Timestamp:         time.Now().Format(workflow.TimeLayout),
		ExecutionMode:     workflow.ModeWorkflow,
	})
	require.NoError(t, err)
}

func TestSaveAndGet(t *testing.T) {
	st, _ := newTestStores(t)
	wf := testWorkflow("メモ保存", "メモ", 0.8)

	path, err := st.Save(wf)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(st.Dir(), wf.WorkflowID+".json"), path)

	got, err := st.Get(wf.WorkflowID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, wf.Name, got.Name)
	assert.Equal(t, wf.Confidence, got.Confidence)
	assert.Equal(t, workflow.StatusDraft, got.Status)
}

func TestSaveRequiresID(t *testing.T) {
	st, _ := newTestStores(t)
	_, err := st.Save(&workflow.Workflow{Name: "no id"})
	assert.Error(t, err)
}

func TestGetMissingIsNil(t *testing.T) {
	st, _ := newTestStores(t)
	got, err := st.Get("wf_nothing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	st, _ := newTestStores(t)
	wf := testWorkflow("メモ保存", "メモ", 0.5)
	_, err := st.Save(wf)
	require.NoError(t, err)

	wf.Confidence = 0.9
	_, err = st.Save(wf)
	require.NoError(t, err)

	got, err := st.Get(wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Confidence)
	// No temp file remains after the rename.
	assert.NoFileExists(t, filepath.Join(st.Dir(), wf.WorkflowID+".json.tmp"))
	assert.Equal(t, 1, st.Count())
}

func TestListAllOrdersByConfidence(t *testing.T) {
	st, _ := newTestStores(t)
	low := testWorkflow("低", "メモ", 0.3)
	high := testWorkflow("高", "メモ", 0.9)
	mid := testWorkflow("中", "メモ", 0.6)
	for _, wf := range []*workflow.Workflow{low, high, mid} {
		_, err := st.Save(wf)
		require.NoError(t, err)
	}

	all := st.ListAll()
	require.Len(t, all, 3)
	assert.Equal(t, "高", all[0].Name)
	assert.Equal(t, "中", all[1].Name)
	assert.Equal(t, "低", all[2].Name)
}

func TestListAllSkipsForeignFiles(t *testing.T) {
	st, _ := newTestStores(t)
	_, err := st.Save(testWorkflow("メモ保存", "メモ", 0.8))
	require.NoError(t, err)

	// recovery_patterns.json and malformed files share the directory.
	require.NoError(t, os.WriteFile(filepath.Join(st.Dir(), "recovery_patterns.json"), []byte(`{"patterns": []}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(st.Dir(), "broken.json"), []byte("{"), 0o644))

	assert.Len(t, st.ListAll(), 1)
	assert.Equal(t, 3, st.Count())
}

func TestSearchKeywordsAndRanking(t *testing.T) {
	st, fb := newTestStores(t)

	popular := testWorkflow("メモ整理", "メモ", 0.5)
	popular.ExecutionCount = 10
	fresh := testWorkflow("メモ保存", "メモ", 0.9)
	other := testWorkflow("ブラウザ検索", "Safari", 0.8)
	for _, wf := range []*workflow.Workflow{popular, fresh, other} {
		_, err := st.Save(wf)
		require.NoError(t, err)
	}
	for i := 0; i < 4; i++ {
		recordFeedback(t, fb, popular.WorkflowID, true)
	}

	results := st.Search("メモ", fb)
	require.Len(t, results, 2)
	// 3.0 + 2.0*1.0 + 0.3*ln(11) beats 3.0 + 0 + 0.
	assert.Equal(t, popular.WorkflowID, results[0].WorkflowID)
	assert.Equal(t, fresh.WorkflowID, results[1].WorkflowID)

	// Every keyword must match.
	assert.Empty(t, st.Search("メモ Safari", fb))
	assert.Len(t, st.Search("ブラウザ 検索", fb), 1)
}

func TestSearchHidesDeprecated(t *testing.T) {
	st, _ := newTestStores(t)
	wf := testWorkflow("メモ保存", "メモ", 0.8)
	wf.Status = workflow.StatusDeprecated
	_, err := st.Save(wf)
	require.NoError(t, err)

	assert.Empty(t, st.Search("メモ", nil))
	// ListAll still surfaces it for refinement.
	assert.Len(t, st.ListAll(), 1)
}

func TestSearchWithoutFeedbackStore(t *testing.T) {
	st, _ := newTestStores(t)
	_, err := st.Save(testWorkflow("メモ保存", "メモ", 0.8))
	require.NoError(t, err)
	assert.Len(t, st.Search("メモ", nil), 1)
}

func TestDelete(t *testing.T) {
	st, _ := newTestStores(t)
	wf := testWorkflow("メモ保存", "メモ", 0.8)
	_, err := st.Save(wf)
	require.NoError(t, err)

	assert.True(t, st.Delete(wf.WorkflowID))
	assert.False(t, st.Delete(wf.WorkflowID))
	got, err := st.Get(wf.WorkflowID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindDuplicate(t *testing.T) {
	st, _ := newTestStores(t)
	wf := testWorkflow("Invoice Entry", "Excel", 0.8)
	_, err := st.Save(wf)
	require.NoError(t, err)

	dup := st.FindDuplicate("invoice entry")
	require.NotNil(t, dup)
	assert.Equal(t, wf.WorkflowID, dup.WorkflowID)
	assert.Nil(t, st.FindDuplicate("別の名前"))
}

func TestWorkflowRoundTripKeepsUnknownKeys(t *testing.T) {
	st, _ := newTestStores(t)
	wf := testWorkflow("メモ保存", "メモ", 0.8)
	path, err := st.Save(wf)
	require.NoError(t, err)

	// A newer schema adds a key this build does not know.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	patched := append([]byte(`{"future_field": {"nested": true},`), data[1:]...)
	require.NoError(t, os.WriteFile(path, patched, 0o644))

	got, err := st.Get(wf.WorkflowID)
	require.NoError(t, err)
	_, err = st.Save(got)
	require.NoError(t, err)

	final, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(final), "future_field")
}

func TestFeedbackRecordAndQuery(t *testing.T) {
	_, fb := newTestStores(t)
	recordFeedback(t, fb, "wf_a", true)
	recordFeedback(t, fb, "wf_a", false, 1)
	recordFeedback(t, fb, "wf_b", true)

	assert.Equal(t, 3, fb.Count())
	assert.Len(t, fb.GetByWorkflow("wf_a"), 2)
	assert.Len(t, fb.GetByWorkflow("wf_b"), 1)
	assert.Empty(t, fb.GetByWorkflow("wf_c"))
	assert.Len(t, fb.ListAll(), 3)
}

func TestFeedbackNewestFirst(t *testing.T) {
	_, fb := newTestStores(t)
	base := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := fb.Record(&workflow.ExecutionFeedback{
			FeedbackID: workflow.NewFeedbackID(),
			WorkflowID: "wf_a",
			Goal:       fmt.Sprintf("goal-%d", i),
			Timestamp:  base.Add(time.Duration(i) * time.Minute).Format(workflow.TimeLayout),
		})
		require.NoError(t, err)
	}

	got := fb.GetByWorkflow("wf_a")
	require.Len(t, got, 3)
	assert.Equal(t, "goal-2", got[0].Goal)
	assert.Equal(t, "goal-0", got[2].Goal)
}

func TestGetSuccessRate(t *testing.T) {
	_, fb := newTestStores(t)
	assert.Zero(t, fb.GetSuccessRate("wf_a"))

	recordFeedback(t, fb, "wf_a", true)
	recordFeedback(t, fb, "wf_a", true)
	recordFeedback(t, fb, "wf_a", false)
	assert.InDelta(t, 2.0/3.0, fb.GetSuccessRate("wf_a"), 1e-9)
}

func TestGetStepFailureRates(t *testing.T) {
	_, fb := newTestStores(t)
	assert.Empty(t, fb.GetStepFailureRates("wf_a"))

	recordFeedback(t, fb, "wf_a", false, 1, 3)
	recordFeedback(t, fb, "wf_a", false, 1)
	recordFeedback(t, fb, "wf_a", true)
	recordFeedback(t, fb, "wf_b", false, 0)

	rates := fb.GetStepFailureRates("wf_a")
	assert.InDelta(t, 2.0/3.0, rates[1], 1e-9)
	assert.InDelta(t, 1.0/3.0, rates[3], 1e-9)
	_, ok := rates[0]
	assert.False(t, ok)
}

func TestFeedbackRequiresID(t *testing.T) {
	_, fb := newTestStores(t)
	_, err := fb.Record(&workflow.ExecutionFeedback{WorkflowID: "wf_a"})
	assert.Error(t, err)
}

func TestAtomicWriteJSONKeepsUTF8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, AtomicWriteJSON(path, map[string]string{"name": "メモ保存 <v2>"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "メモ保存 <v2>")
	assert.NotContains(t, string(data), `<`)
}
