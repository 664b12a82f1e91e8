package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.CycleDone(3)
	m.CycleDone(0)
	m.OracleCall("analyze_segment", true)
	m.OracleCall("analyze_segment", false)
	m.ThrottleSlept(0)
	m.ThrottleSlept(time.Second)
	m.FilesDeleted(4)
	m.FilesDeleted(0)
	m.SkillWritten()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycles))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.workflows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.oracleCalls.WithLabelValues("analyze_segment", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.oracleCalls.WithLabelValues("analyze_segment", "empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.throttles))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.cleanups))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skills))
	assert.Greater(t, testutil.ToFloat64(m.lastCycle), 0.0)
}

func TestMetricsIndependentRegistries(t *testing.T) {
	// Two collector sets must never collide on a shared registry.
	a := NewMetrics()
	b := NewMetrics()
	a.CycleDone(1)

	_, err := a.Registry().Gather()
	require.NoError(t, err)
	_, err = b.Registry().Gather()
	require.NoError(t, err)
	assert.Zero(t, testutil.ToFloat64(b.cycles))
}

type scriptedAnalyzer struct {
	analysis *oracle.SegmentAnalysis
	calls    int
}

func (a *scriptedAnalyzer) AnalyzeWorkflowSegment(_ context.Context, _, _ string) *oracle.SegmentAnalysis {
	a.calls++
	return a.analysis
}

func TestInstrumentAnalyzer(t *testing.T) {
	m := NewMetrics()

	empty := &scriptedAnalyzer{}
	wrapped := m.InstrumentAnalyzer(empty)
	assert.Nil(t, wrapped.AnalyzeWorkflowSegment(context.Background(), "actions", "メモ"))

	answered := &scriptedAnalyzer{analysis: &oracle.SegmentAnalysis{Name: "メモ保存", IsWorkflow: true}}
	wrapped = m.InstrumentAnalyzer(answered)
	res := wrapped.AnalyzeWorkflowSegment(context.Background(), "actions", "メモ")
	require.NotNil(t, res)
	assert.Equal(t, "メモ保存", res.Name)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.oracleCalls.WithLabelValues("analyze_segment", "empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.oracleCalls.WithLabelValues("analyze_segment", "ok")))
	assert.Equal(t, 1, empty.calls)
	assert.Equal(t, 1, answered.calls)
}

func TestInstrumentAnalyzerNil(t *testing.T) {
	var m *Metrics
	assert.Nil(t, m.InstrumentAnalyzer(nil))
	assert.Nil(t, NewMetrics().InstrumentAnalyzer(nil))
}
