// Package extract turns capture records into stored workflows: it segments
// the capture stream, asks the oracle whether each segment is a reusable
// workflow, and saves accepted ones with duplicate resolution by confidence.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/capture"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/store"
)

// DefaultMinConfidence is the acceptance threshold for oracle verdicts.
const DefaultMinConfidence = 0.5

// Rendering limits for the oracle's actions text.
const (
	maxValueChars = 50
	maxTextChars  = 30
)

// Analyzer is the slice of the oracle the extractor needs.
// *oracle.Adapter satisfies it.
type Analyzer interface {
	AnalyzeWorkflowSegment(ctx context.Context, actionsText, appName string) *oracle.SegmentAnalysis
}

// Options tune segmentation and acceptance. Zero values take the defaults.
type Options struct {
	MinConfidence float64
	GapSeconds    float64
	MaxRecords    int
}

// Extractor drives the capture-to-workflow path. It is not safe for
// concurrent use; the daemon and the CLI each own their instance.
type Extractor struct {
	watcher  *capture.Watcher
	store    *store.WorkflowStore
	analyzer Analyzer

	minConfidence float64
	gapSeconds    float64
	maxRecords    int
	log           zerolog.Logger
}

// New builds an extractor over an opened watcher and workflow store.
func New(w *capture.Watcher, st *store.WorkflowStore, analyzer Analyzer, opts Options) *Extractor {
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.GapSeconds <= 0 {
		opts.GapSeconds = capture.DefaultSegmentGapSeconds
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = capture.DefaultSegmentMaxRecords
	}
	return &Extractor{
		watcher:       w,
		store:         st,
		analyzer:      analyzer,
		minConfidence: opts.MinConfidence,
		gapSeconds:    opts.GapSeconds,
		maxRecords:    opts.MaxRecords,
		log:           logger.Component("extract"),
	}
}

// ExtractAll analyzes every capture in the watched directory, ignoring the
// processed log, and returns the workflows that were saved.
func (e *Extractor) ExtractAll(ctx context.Context) []*workflow.Workflow {
	out, _ := e.extractFrom(ctx, e.segmentRecords(e.watcher.LoadAll()))
	return out
}

// ExtractIncremental analyzes only captures absent from the processed log.
// Every consumed capture is marked processed whether or not it produced a
// workflow; on interruption nothing is marked, so the next cycle rescans.
func (e *Extractor) ExtractIncremental(ctx context.Context) []*workflow.Workflow {
	records := e.watcher.ScanNewFiles()
	if len(records) == 0 {
		e.log.Info().Msg("no new captures")
		return nil
	}
	e.log.Info().Int("captures", len(records)).Msg("new captures found")

	out, completed := e.extractFrom(ctx, e.segmentRecords(records))
	if !completed {
		return out
	}
	for _, rec := range records {
		if err := e.watcher.MarkProcessed(rec.JSONPath); err != nil {
			e.log.Warn().Err(err).Str("file", rec.JSONPath).Msg("processed log append failed")
		}
	}
	return out
}

// BuildSegments splits all captures into segments without oracle analysis.
func (e *Extractor) BuildSegments() []*capture.Segment {
	return e.segmentRecords(e.watcher.LoadAll())
}

func (e *Extractor) segmentRecords(records []*capture.Record) []*capture.Segment {
	return capture.NewSegmenter(e.gapSeconds, e.maxRecords).SegmentAll(records)
}

// extractFrom runs the analyze-and-save loop. The bool reports whether the
// loop ran to completion rather than being cut short by ctx.
func (e *Extractor) extractFrom(ctx context.Context, segments []*capture.Segment) ([]*workflow.Workflow, bool) {
	if len(segments) == 0 {
		e.log.Warn().Msg("no segments to analyze")
		return nil, true
	}
	e.log.Info().Int("segments", len(segments)).Msg("starting segment analysis")

	var out []*workflow.Workflow
	for i, seg := range segments {
		if ctx.Err() != nil {
			e.log.Warn().Int("remaining", len(segments)-i).Msg("extraction interrupted")
			return out, false
		}
		e.log.Info().
			Int("segment", i+1).
			Int("total", len(segments)).
			Int("steps", len(seg.Steps)).
			Str("app", seg.AppName).
			Msg("analyzing segment")
		wf := e.analyzeSegment(ctx, seg)
		if wf == nil {
			continue
		}
		if e.saveDeduped(wf) {
			out = append(out, wf)
		}
	}
	e.log.Info().Int("workflows", len(out)).Msg("extraction complete")
	return out, true
}

// analyzeSegment asks the oracle about one segment and builds the workflow.
// Returns nil when the segment is empty, the oracle declines, or confidence
// is below the threshold.
func (e *Extractor) analyzeSegment(ctx context.Context, seg *capture.Segment) *workflow.Workflow {
	if len(seg.Steps) == 0 {
		return nil
	}

	analysis := e.analyzer.AnalyzeWorkflowSegment(ctx, renderActionsText(seg), seg.AppName)
	if analysis == nil {
		return nil
	}
	if analysis.Confidence < e.minConfidence {
		e.log.Debug().
			Str("app", seg.AppName).
			Float64("confidence", analysis.Confidence).
			Msg("segment below confidence threshold")
		return nil
	}

	steps := make([]workflow.ActionStep, len(seg.Steps))
	copy(steps, seg.Steps)

	params := make([]workflow.Parameter, 0, len(analysis.Parameters))
	for _, p := range analysis.Parameters {
		params = append(params, workflow.Parameter{
			Name:        p.Name,
			Description: p.Description,
			StepIndex:   p.StepIndex,
		})
		if p.StepIndex >= 0 && p.StepIndex < len(steps) {
			steps[p.StepIndex].Parameterized = workflow.Parameterized{
				IsParameterized: true,
				ParamName:       p.Name,
			}
		}
	}

	name := analysis.Name
	if name == "" {
		name = "不明なワークフロー"
	}
	tags := analysis.Tags
	if tags == nil {
		tags = []string{}
	}

	return &workflow.Workflow{
		WorkflowID:       workflow.NewWorkflowID(),
		Name:             name,
		Description:      analysis.Description,
		Steps:            steps,
		AppName:          seg.AppName,
		Tags:             tags,
		Parameters:       params,
		Confidence:       analysis.Confidence,
		SourceSessionIDs: []string{seg.SessionID},
		CreatedAt:        time.Now().Format(workflow.TimeLayout),
		Status:           workflow.StatusDraft,
	}
}

// saveDeduped saves wf unless a same-named workflow with equal or higher
// confidence already exists. A lower-confidence duplicate is replaced.
func (e *Extractor) saveDeduped(wf *workflow.Workflow) bool {
	existing := e.store.FindDuplicate(wf.Name)
	if existing == nil {
		if _, err := e.store.Save(wf); err != nil {
			e.log.Error().Err(err).Str("name", wf.Name).Msg("workflow save failed")
			return false
		}
		e.log.Info().
			Str("name", wf.Name).
			Float64("confidence", wf.Confidence).
			Msg("new workflow extracted")
		return true
	}

	if wf.Confidence > existing.Confidence {
		e.store.Delete(existing.WorkflowID)
		if _, err := e.store.Save(wf); err != nil {
			e.log.Error().Err(err).Str("name", wf.Name).Msg("workflow save failed")
			return false
		}
		e.log.Info().
			Str("name", wf.Name).
			Float64("old_confidence", existing.Confidence).
			Float64("new_confidence", wf.Confidence).
			Msg("workflow replaced")
		return true
	}

	e.log.Info().Str("name", wf.Name).Msg("duplicate skipped, existing confidence is higher")
	return false
}

// renderActionsText flattens a segment into one line per capture for the
// oracle prompt. Values and typed text are truncated by rune count.
func renderActionsText(seg *capture.Segment) string {
	lines := make([]string, 0, len(seg.Captures))
	for i, rec := range seg.Captures {
		actionType := rec.UserAction.Type
		if actionType == "" {
			actionType = "unknown"
		}

		parts := []string{fmt.Sprintf("[%d] %s %s", i+1, rec.Timestamp, actionType)}
		if rec.Target.Name != "" {
			parts = append(parts, "target="+rec.Target.Name)
		}
		if rec.Target.Role != "" {
			parts = append(parts, "role="+rec.Target.Role)
		}
		if rec.Target.Value != "" {
			parts = append(parts, "value="+truncateRunes(rec.Target.Value, maxValueChars))
		}
		if rec.Window.Name != "" {
			parts = append(parts, "window="+rec.Window.Name)
		}

		switch actionType {
		case "text_input":
			if rec.UserAction.Text != "" {
				parts = append(parts, "text='"+truncateRunes(rec.UserAction.Text, maxTextChars)+"'")
			}
		case "shortcut", "key_shortcut":
			mods := rec.UserAction.Modifiers
			if len(mods) > 0 || rec.UserAction.Key != "" {
				keys := append(append(make([]string, 0, len(mods)+1), mods...), rec.UserAction.Key)
				parts = append(parts, "shortcut="+strings.Join(keys, "+"))
			}
		}

		lines = append(lines, strings.Join(parts, " "))
	}
	return strings.Join(lines, "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
