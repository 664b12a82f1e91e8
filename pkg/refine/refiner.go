// Package refine maintains the workflow population from execution feedback:
// lifecycle promotion and demotion, confidence blending, pruning of failing
// steps, variant generation from failure patterns, and merging of similar
// workflows.
package refine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog"

	agenterrors "github.com/kazuyaegusa/8891-screen-shot/pkg/domain/errors"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/store"
)

// Lifecycle thresholds.
const (
	promoteTestedMinCount = 1
	promoteActiveMinCount = 5
	promoteActiveMinRate  = 0.7
	demoteMinCount        = 3
	demoteMaxRate         = 0.2
)

// Variant-generation thresholds.
const (
	minFailuresForVariant  = 3
	stepErrorShare         = 0.5
	clickXYMinCount        = 5
	maxVariantsPerWorkflow = 3
	variantWaitSeconds     = 0.5
	timeoutGrowthFactor    = 1.5
)

// Step-pruning thresholds.
const (
	stepPruneFailureRate  = 0.8
	stepPruneMinFeedbacks = 3
)

// Name similarity bounds for merging.
const (
	mergeMaxNameDistance = 3
	mergeMinTagJaccard   = 0.5
)

const (
	outcomePromoted = "promoted"
	outcomeDemoted  = "demoted"
)

// Stats counts the outcomes of one refinement pass.
type Stats struct {
	Refined  int `json:"refined"`
	Promoted int `json:"promoted"`
	Demoted  int `json:"demoted"`
	Variants int `json:"variants"`
	Merged   int `json:"merged"`
}

// Refiner rewrites stored workflows from their feedback. Not safe for
// concurrent passes; the daemon runs one at a time.
type Refiner struct {
	store    *store.WorkflowStore
	feedback *store.FeedbackStore
	log      zerolog.Logger
}

// New builds a refiner over the two stores.
func New(st *store.WorkflowStore, fb *store.FeedbackStore) *Refiner {
	return &Refiner{
		store:    st,
		feedback: fb,
		log:      logger.Component("refine"),
	}
}

// RefineAll runs one pass over every non-deprecated workflow: confidence
// blend, lifecycle transition, step pruning, variant generation, then a
// merge sweep across the whole population.
func (r *Refiner) RefineAll() Stats {
	workflows := r.store.ListAll()
	var stats Stats

	for _, wf := range workflows {
		if wf.Status == workflow.StatusDeprecated {
			continue
		}
		if r.updateConfidence(wf) {
			stats.Refined++
		}
		switch r.promoteOrDemote(wf) {
		case outcomePromoted:
			stats.Promoted++
		case outcomeDemoted:
			stats.Demoted++
		}
		r.pruneFailedSteps(wf)
		if r.tryCreateVariant(wf) {
			stats.Variants++
		}
	}

	stats.Merged = r.mergeSimilar(workflows)

	r.log.Info().
		Int("refined", stats.Refined).
		Int("promoted", stats.Promoted).
		Int("demoted", stats.Demoted).
		Int("variants", stats.Variants).
		Int("merged", stats.Merged).
		Msg("refinement pass complete")
	return stats
}

// SelectBestVariant returns the id of the best-performing workflow among the
// original and its variants with at least 3 executions. Candidates need at
// least 3 feedbacks to be judged; the original wins by default.
func (r *Refiner) SelectBestVariant(originalID string) string {
	candidates := []string{originalID}
	for _, wf := range r.store.ListAll() {
		if wf.ParentID == originalID && wf.ExecutionCount >= 3 {
			candidates = append(candidates, wf.WorkflowID)
		}
	}

	bestID := originalID
	bestRate := -1.0
	for _, id := range candidates {
		if len(r.feedback.GetByWorkflow(id)) < 3 {
			continue
		}
		if rate := r.feedback.GetSuccessRate(id); rate > bestRate {
			bestRate = rate
			bestID = id
		}
	}
	return bestID
}

// updateConfidence blends the stored confidence toward the observed success
// rate. Persisted only when the change exceeds 0.01.
func (r *Refiner) updateConfidence(wf *workflow.Workflow) bool {
	if len(r.feedback.GetByWorkflow(wf.WorkflowID)) == 0 {
		return false
	}
	rate := r.feedback.GetSuccessRate(wf.WorkflowID)
	blended := wf.Confidence*0.7 + rate*0.3
	if math.Abs(blended-wf.Confidence) <= 0.01 {
		return false
	}

	old := wf.Confidence
	wf.Confidence = blended
	if _, err := r.store.Save(wf); err != nil {
		r.log.Error().Err(err).Str("workflow_id", wf.WorkflowID).Msg("confidence update failed")
		wf.Confidence = old
		return false
	}
	r.log.Info().
		Str("name", wf.Name).
		Float64("old_confidence", old).
		Float64("new_confidence", blended).
		Msg("confidence updated")
	return true
}

// promoteOrDemote applies the lifecycle rules. Demotion has the highest
// precedence; tested is reachable only from draft. Any transition also
// records the feedback count as the execution count.
func (r *Refiner) promoteOrDemote(wf *workflow.Workflow) string {
	count := len(r.feedback.GetByWorkflow(wf.WorkflowID))
	if count == 0 {
		return ""
	}
	rate := r.feedback.GetSuccessRate(wf.WorkflowID)

	old := wf.Status
	wf.ExecutionCount = count
	switch {
	case count >= demoteMinCount && rate < demoteMaxRate:
		wf.Status = workflow.StatusDeprecated
	case count >= promoteActiveMinCount && rate >= promoteActiveMinRate:
		wf.Status = workflow.StatusActive
	case count >= promoteTestedMinCount && rate > 0 && wf.Status == workflow.StatusDraft:
		wf.Status = workflow.StatusTested
	}
	if wf.Status == old {
		return ""
	}

	if _, err := r.store.Save(wf); err != nil {
		r.log.Error().Err(err).Str("workflow_id", wf.WorkflowID).Msg("status transition failed")
		wf.Status = old
		return ""
	}
	r.log.Info().
		Str("name", wf.Name).
		Str("from", string(old)).
		Str("to", string(wf.Status)).
		Int("count", count).
		Float64("rate", rate).
		Msg("status changed")
	if wf.Status == workflow.StatusDeprecated {
		return outcomeDemoted
	}
	return outcomePromoted
}

// pruneFailedSteps removes steps whose failure rate is 0.8 or higher, given
// at least 3 feedbacks. Indices are removed descending so earlier positions
// stay valid. Returns the number of steps removed.
func (r *Refiner) pruneFailedSteps(wf *workflow.Workflow) int {
	if len(r.feedback.GetByWorkflow(wf.WorkflowID)) < stepPruneMinFeedbacks {
		return 0
	}

	var indices []int
	for idx, rate := range r.feedback.GetStepFailureRates(wf.WorkflowID) {
		if rate >= stepPruneFailureRate {
			indices = append(indices, idx)
		}
	}
	if len(indices) == 0 {
		return 0
	}
	sort.Sort(sort.Reverse(sort.IntSlice(indices)))

	removed := 0
	for _, idx := range indices {
		if idx < 0 || idx >= len(wf.Steps) {
			continue
		}
		step := wf.Steps[idx]
		wf.Steps = append(wf.Steps[:idx], wf.Steps[idx+1:]...)
		removed++

		label := step.Description
		if label == "" {
			label = string(step.ActionType)
		}
		r.log.Info().
			Str("name", wf.Name).
			Int("step", idx).
			Str("action", label).
			Msg("failing step pruned")
	}
	if removed == 0 {
		return 0
	}

	if _, err := r.store.Save(wf); err != nil {
		r.log.Error().Err(err).Str("workflow_id", wf.WorkflowID).Msg("pruned workflow save failed")
	}
	return removed
}

// tryCreateVariant derives an improved copy when the workflow has
// accumulated enough failures and has fewer than 3 variants already.
func (r *Refiner) tryCreateVariant(wf *workflow.Workflow) bool {
	var failed []*workflow.ExecutionFeedback
	for _, fb := range r.feedback.GetByWorkflow(wf.WorkflowID) {
		if !fb.Success {
			failed = append(failed, fb)
		}
	}
	if len(failed) < minFailuresForVariant {
		return false
	}

	children := 0
	for _, w := range r.store.ListAll() {
		if w.ParentID == wf.WorkflowID {
			children++
		}
	}
	if children >= maxVariantsPerWorkflow {
		return false
	}

	mods := detectImprovements(failed)
	if len(mods) == 0 {
		return false
	}
	return r.createVariant(wf, mods, children+2) != nil
}

type modKind int

const (
	modClickXY modKind = iota
	modInsertWait
	modIncreaseTimeout
	modFocusCheck
)

type modification struct {
	stepIndex int
	kind      modKind
}

// detectImprovements maps per-step error-code counts onto step fixes. A step
// qualifies when it collected at least 3 errors and one code holds at least
// half of them; codes are checked in fix-priority order, one fix per step.
func detectImprovements(failed []*workflow.ExecutionFeedback) []modification {
	stepErrors := make(map[int]map[string]int)
	for _, fb := range failed {
		for _, d := range fb.ErrorDetails {
			if d.StepIndex < 0 {
				continue
			}
			if stepErrors[d.StepIndex] == nil {
				stepErrors[d.StepIndex] = make(map[string]int)
			}
			stepErrors[d.StepIndex][d.ErrorCode]++
		}
	}

	indices := make([]int, 0, len(stepErrors))
	for idx := range stepErrors {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var mods []modification
	for _, idx := range indices {
		counts := stepErrors[idx]
		total := 0
		for _, n := range counts {
			total += n
		}
		if total < minFailuresForVariant {
			continue
		}

		hint := counts[string(agenterrors.CodeHintNotFound)]
		timeout := counts[string(agenterrors.CodeTimeout)]
		input := counts[string(agenterrors.CodeInputFailed)]
		share := func(n int) float64 { return float64(n) / float64(total) }

		switch {
		case share(hint) >= stepErrorShare:
			if hint >= clickXYMinCount {
				mods = append(mods, modification{stepIndex: idx, kind: modClickXY})
			} else {
				mods = append(mods, modification{stepIndex: idx, kind: modInsertWait})
			}
		case share(timeout) >= stepErrorShare:
			mods = append(mods, modification{stepIndex: idx, kind: modIncreaseTimeout})
		case share(input) >= stepErrorShare:
			mods = append(mods, modification{stepIndex: idx, kind: modFocusCheck})
		}
	}
	return mods
}

// createVariant copies the original, applies the fixes, and saves the copy
// as a draft child at 80% of the original's confidence.
func (r *Refiner) createVariant(orig *workflow.Workflow, mods []modification, version int) *workflow.Workflow {
	steps := append([]workflow.ActionStep(nil), orig.Steps...)
	for _, mod := range mods {
		if mod.stepIndex >= len(steps) {
			continue
		}
		step := &steps[mod.stepIndex]
		switch mod.kind {
		case modClickXY:
			step.Target.Role = ""
			step.Target.Title = ""
			step.Description = fmt.Sprintf("(v%d) 座標クリックに変更: (%g, %g)",
				version, step.Coordinates.X, step.Coordinates.Y)
		case modInsertWait:
			step.WaitBeforeSeconds = variantWaitSeconds
			step.Description = fmt.Sprintf("(v%d) %s +wait %gs",
				version, step.Description, variantWaitSeconds)
		case modIncreaseTimeout:
			base := step.TimeoutSeconds
			if base <= 0 {
				base = workflow.DefaultStepTimeoutSeconds
			}
			step.TimeoutSeconds = base * timeoutGrowthFactor
		case modFocusCheck:
			step.FocusCheck = true
		}
	}

	variant := &workflow.Workflow{
		WorkflowID:       workflow.NewWorkflowID(),
		Name:             fmt.Sprintf("%s_v%d", orig.Name, version),
		Description:      orig.Description,
		Steps:            steps,
		AppName:          orig.AppName,
		Tags:             append([]string(nil), orig.Tags...),
		Parameters:       append([]workflow.Parameter(nil), orig.Parameters...),
		Confidence:       orig.Confidence * 0.8,
		SourceSessionIDs: append([]string(nil), orig.SourceSessionIDs...),
		CreatedAt:        time.Now().Format(workflow.TimeLayout),
		Status:           workflow.StatusDraft,
		ParentID:         orig.WorkflowID,
	}
	if _, err := r.store.Save(variant); err != nil {
		r.log.Error().Err(err).Str("name", variant.Name).Msg("variant save failed")
		return nil
	}
	r.log.Info().
		Str("original", orig.Name).
		Str("variant", variant.Name).
		Int("modifications", len(mods)).
		Msg("variant created")
	return variant
}

// mergeSimilar absorbs near-duplicate workflows pairwise. Variants never
// participate. The workflow with more steps survives and inherits the mean
// confidence, the tag union, and the combined execution count.
func (r *Refiner) mergeSimilar(workflows []*workflow.Workflow) int {
	merged := 0
	absorbed := make(map[string]bool)

	for _, wf := range workflows {
		if absorbed[wf.WorkflowID] || wf.IsVariant() {
			continue
		}
		for _, cand := range workflows {
			if cand.WorkflowID == wf.WorkflowID || absorbed[cand.WorkflowID] || cand.IsVariant() {
				continue
			}
			if !similar(wf, cand) {
				continue
			}

			base, other := wf, cand
			if len(cand.Steps) > len(wf.Steps) {
				base, other = cand, wf
			}
			base.Confidence = (base.Confidence + other.Confidence) / 2
			base.Tags = unionTags(base.Tags, other.Tags)
			base.ExecutionCount += other.ExecutionCount

			if _, err := r.store.Save(base); err != nil {
				r.log.Error().Err(err).Str("workflow_id", base.WorkflowID).Msg("merge save failed")
				continue
			}
			r.store.Delete(other.WorkflowID)
			absorbed[other.WorkflowID] = true
			merged++
			r.log.Info().
				Str("kept", base.Name).
				Str("absorbed", other.Name).
				Msg("workflows merged")

			if base != wf {
				// wf itself was absorbed; stop scanning on its behalf.
				break
			}
		}
	}
	return merged
}

func similar(a, b *workflow.Workflow) bool {
	if a.AppName != b.AppName {
		return false
	}
	if levenshtein.ComputeDistance(a.Name, b.Name) > mergeMaxNameDistance {
		return false
	}
	return tagJaccard(a.Tags, b.Tags) >= mergeMinTagJaccard
}

// tagJaccard is |A∩B| / |A∪B|, 0 when both sides are empty.
func tagJaccard(a, b []string) float64 {
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}

	union := len(setA)
	inter := 0
	for t := range setB {
		if setA[t] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// unionTags keeps base's order and appends other's unseen tags.
func unionTags(base, other []string) []string {
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(other))
	for _, t := range base {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range other {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
