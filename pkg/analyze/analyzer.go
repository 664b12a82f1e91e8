// Package analyze builds cross-session performance summaries from stored
// execution feedbacks: per-app statistics, failure and usage rankings,
// regression detection, and improvement suggestions.
package analyze

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/capture"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/store"
)

const (
	// DefaultReportDays is the trailing window GenerateReport covers when
	// the caller passes no positive day count.
	DefaultReportDays = 7

	rankingSize = 5

	regressionMinFeedbacks = 20
	regressionWindow       = 10
	regressionDrop         = 0.2

	suggestMinExecutions = 3
	suggestFailureRate   = 0.5
	appMinFeedbacks      = 5
	appLowSuccessRate    = 0.3

	unknownApp = "Unknown"

	priorityHigh   = "high"
	priorityMedium = "medium"
)

// AppStats aggregates one app's feedbacks within the report window.
type AppStats struct {
	Count       int     `json:"count"`
	SuccessRate float64 `json:"success_rate"`
	AvgDuration float64 `json:"avg_duration"`
}

// FailureRanking is one row of the most-failing list.
type FailureRanking struct {
	WorkflowID   string  `json:"workflow_id"`
	Name         string  `json:"name"`
	FailureCount int     `json:"failure_count"`
	SuccessRate  float64 `json:"success_rate"`
}

// UsageRanking is one row of the most-executed list.
type UsageRanking struct {
	WorkflowID     string  `json:"workflow_id"`
	Name           string  `json:"name"`
	ExecutionCount int     `json:"execution_count"`
	SuccessRate    float64 `json:"success_rate"`
}

// Suggestion is one improvement recommendation for a workflow.
type Suggestion struct {
	WorkflowID     string `json:"workflow_id"`
	Name           string `json:"name"`
	Priority       string `json:"priority"`
	Text           string `json:"suggestion"`
	AutoApplicable bool   `json:"auto_applicable"`
}

// Report is the performance summary for a trailing window.
type Report struct {
	PeriodDays         int                 `json:"period_days"`
	TotalFeedbacks     int                 `json:"total_feedbacks"`
	OverallSuccessRate float64             `json:"overall_success_rate"`
	AppStats           map[string]AppStats `json:"app_stats"`
	TopFailures        []FailureRanking    `json:"top_failures"`
	TopUsed            []UsageRanking      `json:"top_used"`
	StatusDistribution map[string]int      `json:"status_distribution"`
	Suggestions        []Suggestion        `json:"suggestions"`
}

// Analyzer reads the workflow and feedback stores; it never writes.
type Analyzer struct {
	store    *store.WorkflowStore
	feedback *store.FeedbackStore
	log      zerolog.Logger
}

func New(st *store.WorkflowStore, fb *store.FeedbackStore) *Analyzer {
	return &Analyzer{
		store:    st,
		feedback: fb,
		log:      logger.Component("analyze"),
	}
}

// GenerateReport summarizes the feedbacks of the trailing days-day window.
// Feedbacks with unparseable timestamps are skipped.
func (a *Analyzer) GenerateReport(days int) *Report {
	if days <= 0 {
		days = DefaultReportDays
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	var period []*workflow.ExecutionFeedback
	for _, fb := range a.feedback.ListAll() {
		ts, ok := capture.ParseTimestamp(fb.Timestamp)
		if !ok || ts.Before(cutoff) {
			continue
		}
		period = append(period, fb)
	}

	appData := map[string][]*workflow.ExecutionFeedback{}
	wfData := map[string][]*workflow.ExecutionFeedback{}
	var wfOrder []string
	for _, fb := range period {
		app := fb.AppName
		if app == "" {
			app = unknownApp
		}
		appData[app] = append(appData[app], fb)
		if fb.WorkflowID != "" {
			if _, seen := wfData[fb.WorkflowID]; !seen {
				wfOrder = append(wfOrder, fb.WorkflowID)
			}
			wfData[fb.WorkflowID] = append(wfData[fb.WorkflowID], fb)
		}
	}

	appStats := make(map[string]AppStats, len(appData))
	for app, fbs := range appData {
		total := 0.0
		for _, fb := range fbs {
			total += fb.DurationSeconds
		}
		appStats[app] = AppStats{
			Count:       len(fbs),
			SuccessRate: successRate(fbs),
			AvgDuration: round2(total / float64(len(fbs))),
		}
	}

	failures := make([]FailureRanking, 0, len(wfOrder))
	usage := make([]UsageRanking, 0, len(wfOrder))
	for _, id := range wfOrder {
		fbs := wfData[id]
		succeeded := 0
		for _, fb := range fbs {
			if fb.Success {
				succeeded++
			}
		}
		name := a.workflowName(id)
		rate := float64(succeeded) / float64(len(fbs))
		failures = append(failures, FailureRanking{
			WorkflowID:   id,
			Name:         name,
			FailureCount: len(fbs) - succeeded,
			SuccessRate:  rate,
		})
		usage = append(usage, UsageRanking{
			WorkflowID:     id,
			Name:           name,
			ExecutionCount: len(fbs),
			SuccessRate:    rate,
		})
	}
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].FailureCount > failures[j].FailureCount })
	if len(failures) > rankingSize {
		failures = failures[:rankingSize]
	}
	sort.SliceStable(usage, func(i, j int) bool { return usage[i].ExecutionCount > usage[j].ExecutionCount })
	if len(usage) > rankingSize {
		usage = usage[:rankingSize]
	}

	distribution := map[string]int{"draft": 0, "tested": 0, "active": 0, "deprecated": 0}
	for _, wf := range a.store.ListAll() {
		if _, ok := distribution[string(wf.Status)]; ok {
			distribution[string(wf.Status)]++
		}
	}

	report := &Report{
		PeriodDays:         days,
		TotalFeedbacks:     len(period),
		OverallSuccessRate: round4(successRate(period)),
		AppStats:           appStats,
		TopFailures:        failures,
		TopUsed:            usage,
		StatusDistribution: distribution,
		Suggestions:        a.SuggestImprovements(),
	}
	a.log.Info().Int("days", days).Int("feedbacks", len(period)).Msg("performance report generated")
	return report
}

// DetectRegression compares the last ten executions against the ten before
// them and reports true when the success rate dropped by 0.2 or more.
func (a *Analyzer) DetectRegression(workflowID string) bool {
	feedbacks := a.feedback.GetByWorkflow(workflowID)
	if len(feedbacks) < regressionMinFeedbacks {
		return false
	}
	sort.SliceStable(feedbacks, func(i, j int) bool { return feedbacks[i].Timestamp < feedbacks[j].Timestamp })

	previous := feedbacks[len(feedbacks)-2*regressionWindow : len(feedbacks)-regressionWindow]
	recent := feedbacks[len(feedbacks)-regressionWindow:]
	prevRate := successRate(previous)
	recentRate := successRate(recent)
	if prevRate-recentRate >= regressionDrop {
		a.log.Warn().
			Str("workflow_id", workflowID).
			Float64("previous_rate", prevRate).
			Float64("recent_rate", recentRate).
			Msg("regression detected")
		return true
	}
	return false
}

// SuggestImprovements walks every stored workflow and applies the
// suggestion rules in order; a workflow can collect several suggestions.
func (a *Analyzer) SuggestImprovements() []Suggestion {
	appFeedback := map[string][]*workflow.ExecutionFeedback{}
	for _, fb := range a.feedback.ListAll() {
		app := fb.AppName
		if app == "" {
			app = unknownApp
		}
		appFeedback[app] = append(appFeedback[app], fb)
	}

	var suggestions []Suggestion
	for _, wf := range a.store.ListAll() {
		feedbacks := a.feedback.GetByWorkflow(wf.WorkflowID)
		if len(feedbacks) >= suggestMinExecutions && 1.0-successRate(feedbacks) >= suggestFailureRate {
			suggestions = append(suggestions, Suggestion{
				WorkflowID:     wf.WorkflowID,
				Name:           wf.Name,
				Priority:       priorityHigh,
				Text:           "成功率が低い。バリアント生成を検討",
				AutoApplicable: true,
			})
		}

		if a.DetectRegression(wf.WorkflowID) {
			suggestions = append(suggestions, Suggestion{
				WorkflowID: wf.WorkflowID,
				Name:       wf.Name,
				Priority:   priorityHigh,
				Text:       "回帰検出：直近の成功率が低下",
			})
		}

		app := wf.AppName
		if app == "" {
			app = unknownApp
		}
		if fbs := appFeedback[app]; len(fbs) >= appMinFeedbacks && successRate(fbs) < appLowSuccessRate {
			suggestions = append(suggestions, Suggestion{
				WorkflowID: wf.WorkflowID,
				Name:       wf.Name,
				Priority:   priorityHigh,
				Text:       fmt.Sprintf("アプリ '%s' での操作成功率が低い", app),
			})
		}

		if wf.Status == workflow.StatusDeprecated {
			suggestions = append(suggestions, Suggestion{
				WorkflowID: wf.WorkflowID,
				Name:       wf.Name,
				Priority:   priorityMedium,
				Text:       "非推奨。代替ワークフローの作成を推奨",
			})
		}
	}
	a.log.Info().Int("count", len(suggestions)).Msg("improvement suggestions generated")
	return suggestions
}

func (a *Analyzer) workflowName(id string) string {
	if wf, err := a.store.Get(id); err == nil && wf != nil {
		return wf.Name
	}
	return id
}

func successRate(fbs []*workflow.ExecutionFeedback) float64 {
	if len(fbs) == 0 {
		return 0
	}
	n := 0
	for _, fb := range fbs {
		if fb.Success {
			n++
		}
	}
	return float64(n) / float64(len(fbs))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
