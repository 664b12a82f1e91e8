package execute

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/config"
	agenterrors "github.com/kazuyaegusa/8891-screen-shot/pkg/domain/errors"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/observe"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/probe"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/recovery"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/store"
)

const (
	// verifySettle waits for the UI to repaint before the after shot.
	verifySettle = 500 * time.Millisecond

	// waitActionDelay is how long an oracle-chosen "wait" pauses.
	waitActionDelay = 2 * time.Second

	// recoveryRetryDelay precedes an insert_wait retry.
	recoveryRetryDelay = 500 * time.Millisecond

	// goalCheckInterval is how many autonomous steps pass between goal
	// checks.
	goalCheckInterval = 5

	// goalMinConfidence gates declaring the goal achieved.
	goalMinConfidence = 0.7
)

// Oracle is the full oracle surface execution needs.
type Oracle interface {
	ActionPicker
	Judge
	Vision
}

// StateSource observes the desktop between steps.
type StateSource interface {
	ObserveCurrentState() observe.State
	TakeScreenshot(prefix string) string
}

// Options carries the optional executor collaborators.
type Options struct {
	// Confirmer approves dangerous steps. Nil prompts on the terminal.
	Confirmer Confirmer
}

// Executor replays workflows and explores autonomously.
type Executor struct {
	cfg       *config.AgentConfig
	store     *store.WorkflowStore
	feedback  *store.FeedbackStore
	observer  StateSource
	player    *Player
	verifier  *Verifier
	selector  *Selector
	recovery  *recovery.Learner
	confirmer Confirmer
	log       zerolog.Logger
}

// New wires an executor. orc may be nil (no oracle configured): replay then
// runs unverified and autonomous mode is unavailable. learner may be nil to
// disable recovery.
func New(cfg *config.AgentConfig, st *store.WorkflowStore, fb *store.FeedbackStore, orc Oracle, p probe.Probe, obs StateSource, learner *recovery.Learner, opts Options) *Executor {
	confirmer := opts.Confirmer
	if confirmer == nil {
		confirmer = StdinConfirmer{}
	}
	var vision Vision
	var picker ActionPicker
	var judge Judge
	if orc != nil {
		vision = orc
		picker = orc
		judge = orc
	}
	var shots Screenshots
	if obs != nil {
		shots = obs
	}
	return &Executor{
		cfg:       cfg,
		store:     st,
		feedback:  fb,
		observer:  obs,
		player:    NewPlayer(p, vision, shots),
		verifier:  NewVerifier(judge),
		selector:  NewSelector(cfg, picker),
		recovery:  learner,
		confirmer: confirmer,
		log:       logger.Component("execute"),
	}
}

// Run resolves what to execute for the goal: an explicitly requested
// workflow, the best search hit, or free autonomous exploration.
func (e *Executor) Run(ctx context.Context, execCtx workflow.ExecutionContext) *workflow.ExecutionResult {
	if execCtx.WorkflowID != "" {
		wf, err := e.store.Get(execCtx.WorkflowID)
		if err == nil && wf != nil {
			return e.runWorkflow(ctx, wf, execCtx)
		}
		e.log.Warn().
			Str("workflow_id", execCtx.WorkflowID).
			Msg("requested workflow not found, falling back to search")
	}
	if hits := e.store.Search(execCtx.Goal, e.feedback); len(hits) > 0 {
		e.log.Info().
			Str("workflow_id", hits[0].WorkflowID).
			Str("name", hits[0].Name).
			Msg("matching workflow found")
		return e.runWorkflow(ctx, hits[0], execCtx)
	}
	return e.runAutonomous(ctx, execCtx)
}

// PlayWorkflow replays a stored workflow directly. delay overrides the
// default step delay when positive (seconds).
func (e *Executor) PlayWorkflow(ctx context.Context, id string, dryRun bool, delay float64, params map[string]string) *workflow.ExecutionResult {
	wf, err := e.store.Get(id)
	if err != nil || wf == nil {
		return &workflow.ExecutionResult{
			Error: fmt.Sprintf("ワークフロー %s が見つかりません", id),
		}
	}
	execCtx := workflow.NewExecutionContext(wf.Name)
	execCtx.WorkflowID = id
	execCtx.DryRun = dryRun
	execCtx.Parameters = params
	if delay > 0 {
		execCtx.StepDelay = secondsToDuration(delay)
	}
	if e.cfg != nil {
		execCtx.MaxConsecutiveFailures = e.cfg.MaxConsecutiveFailures
		execCtx.ConfirmDangerous = e.cfg.ConfirmDangerous
	}
	return e.runWorkflow(ctx, wf, execCtx)
}

func (e *Executor) runWorkflow(ctx context.Context, wf *workflow.Workflow, execCtx workflow.ExecutionContext) *workflow.ExecutionResult {
	start := time.Now()
	res := &workflow.ExecutionResult{}
	consecutive := 0
	e.log.Info().
		Str("workflow_id", wf.WorkflowID).
		Str("name", wf.Name).
		Int("steps", len(wf.Steps)).
		Bool("dry_run", execCtx.DryRun).
		Msg("workflow replay started")

	for i := range wf.Steps {
		if ctx.Err() != nil {
			res.Error = ctx.Err().Error()
			break
		}
		if consecutive >= execCtx.MaxConsecutiveFailures {
			e.log.Warn().Int("failures", consecutive).Msg("too many consecutive failures, aborting")
			break
		}
		before := ""
		if !execCtx.DryRun && e.observer != nil {
			before = e.observer.ObserveCurrentState().ScreenshotPath
		}
		step := e.selector.SelectFromWorkflow(wf, i, execCtx.Parameters)
		if step == nil {
			break
		}
		sr := workflow.StepResult{StepIndex: i, ActionType: step.ActionType}

		if e.isDangerous(step.AppName) && execCtx.ConfirmDangerous && !execCtx.DryRun {
			if !e.confirmStep(step) {
				sr.Skipped = true
				sr.ErrorCode = string(agenterrors.CodeSkippedDangerous)
				e.log.Info().Int("step", i).Str("app", step.AppName).Msg("dangerous step skipped")
				res.StepResults = append(res.StepResults, sr)
				res.StepsExecuted++
				continue
			}
		}

		err := e.playWithRecovery(ctx, step, execCtx.DryRun)
		sr.Success = err == nil
		if err != nil {
			sr.ErrorCode = string(agenterrors.CodeOf(err))
			sr.ErrorMsg = err.Error()
			e.log.Warn().Int("step", i).Str("code", sr.ErrorCode).Err(err).Msg("step failed")
		}

		if sr.Success && !execCtx.DryRun {
			e.sleep(ctx, verifySettle)
			after := ""
			if e.observer != nil {
				after = e.observer.TakeScreenshot("state")
			}
			expected := step.Description
			if expected == "" {
				expected = string(step.ActionType)
			}
			v := e.verifier.VerifyStep(ctx, before, after, expected, false)
			if v.Verified {
				sr.Verified = true
				sr.Success = v.Success
				if !v.Success {
					sr.ErrorCode = string(agenterrors.CodeExecutionFailed)
					sr.ErrorMsg = v.Reasoning
				}
			}
		}

		res.StepResults = append(res.StepResults, sr)
		res.StepsExecuted++
		if sr.Success {
			res.StepsSucceeded++
			consecutive = 0
		} else if !sr.Skipped {
			consecutive++
		}
		if i < len(wf.Steps)-1 {
			e.sleep(ctx, execCtx.StepDelay)
		}
	}

	res.Success = res.StepsSucceeded > 0
	res.GoalAchieved = res.StepsSucceeded == len(wf.Steps)
	res.StepsFailed = res.StepsExecuted - res.StepsSucceeded
	res.TotalTimeSeconds = time.Since(start).Seconds()
	if !execCtx.DryRun {
		e.recordFeedback(wf.WorkflowID, execCtx.Goal, wf.AppName, workflow.ModeWorkflow, res)
	}
	e.log.Info().
		Str("workflow_id", wf.WorkflowID).
		Bool("success", res.Success).
		Int("succeeded", res.StepsSucceeded).
		Int("executed", res.StepsExecuted).
		Msg("workflow replay finished")
	return res
}

func (e *Executor) runAutonomous(ctx context.Context, execCtx workflow.ExecutionContext) *workflow.ExecutionResult {
	start := time.Now()
	res := &workflow.ExecutionResult{}
	var history []oracle.HistoryEntry
	consecutive := 0
	lastApp := ""
	e.log.Info().Str("goal", execCtx.Goal).Msg("autonomous execution started")

	for step := 1; step <= execCtx.MaxSteps; step++ {
		if ctx.Err() != nil {
			res.Error = ctx.Err().Error()
			break
		}
		if consecutive >= execCtx.MaxConsecutiveFailures {
			e.log.Warn().Int("failures", consecutive).Msg("too many consecutive failures, aborting")
			break
		}
		var obs observe.State
		if e.observer != nil {
			obs = e.observer.ObserveCurrentState()
		}
		state := oracle.State{ScreenshotPath: obs.ScreenshotPath}
		if obs.App != nil {
			state.AppName = obs.App.Name
			state.BundleID = obs.App.BundleID
			lastApp = obs.App.Name
		}

		if step > 1 && step%goalCheckInterval == 0 {
			g := e.verifier.CheckGoal(ctx, execCtx.Goal, state, history)
			if g.Achieved && g.Confidence >= goalMinConfidence {
				e.log.Info().
					Float64("confidence", g.Confidence).
					Str("reasoning", g.Reasoning).
					Msg("goal achieved")
				res.Success = true
				res.GoalAchieved = true
				break
			}
		}

		choice := e.selector.SelectAutonomous(ctx, execCtx.Goal, state, history)
		if choice == nil {
			e.log.Warn().Msg("action selection unavailable, stopping")
			break
		}
		if choice.ActionType == "done" {
			e.log.Info().Str("reasoning", choice.Reasoning).Msg("oracle reported done")
			break
		}
		if choice.ActionType == "wait" {
			e.sleep(ctx, waitActionDelay)
			history = append(history, oracle.HistoryEntry{Step: step, Action: "wait", Result: "success"})
			continue
		}
		if choice.RequiresConfirmation && execCtx.ConfirmDangerous && !execCtx.DryRun {
			prompt := fmt.Sprintf("危険操作: %s (%s)。実行しますか? (y/N): ", choice.ActionType, choice.TargetDescription)
			if !e.confirmer.Confirm(prompt) {
				e.log.Info().Str("action", choice.ActionType).Msg("dangerous action declined, stopping")
				break
			}
		}

		actStep := e.selector.ChoiceToStep(choice, obs.App)
		err := e.playWithRecovery(ctx, &actStep, execCtx.DryRun)
		sr := workflow.StepResult{
			StepIndex:  step - 1,
			ActionType: actStep.ActionType,
			Success:    err == nil,
		}
		result := "success"
		if err != nil {
			sr.ErrorCode = string(agenterrors.CodeOf(err))
			sr.ErrorMsg = err.Error()
			result = "failed: " + err.Error()
		}

		if sr.Success && !execCtx.DryRun {
			e.sleep(ctx, verifySettle)
			after := ""
			if e.observer != nil {
				after = e.observer.TakeScreenshot("state")
			}
			expected := choice.TargetDescription
			if expected == "" {
				expected = choice.ActionType
			}
			v := e.verifier.VerifyStep(ctx, state.ScreenshotPath, after, expected, false)
			if v.Verified {
				sr.Verified = true
				sr.Success = v.Success
				if !v.Success {
					sr.ErrorCode = string(agenterrors.CodeExecutionFailed)
					sr.ErrorMsg = v.Reasoning
					result = "failed: " + v.Reasoning
				}
			}
		}

		history = append(history, oracle.HistoryEntry{Step: step, Action: choice.ActionType, Result: result})
		res.StepResults = append(res.StepResults, sr)
		res.StepsExecuted++
		if sr.Success {
			res.StepsSucceeded++
			consecutive = 0
		} else {
			consecutive++
		}
		e.sleep(ctx, execCtx.StepDelay)
	}

	if !res.GoalAchieved {
		res.Success = res.StepsSucceeded > 0
	}
	res.StepsFailed = res.StepsExecuted - res.StepsSucceeded
	res.TotalTimeSeconds = time.Since(start).Seconds()
	if !execCtx.DryRun {
		e.recordFeedback("", execCtx.Goal, lastApp, workflow.ModeAutonomous, res)
	}
	e.log.Info().
		Bool("success", res.Success).
		Bool("goal_achieved", res.GoalAchieved).
		Int("executed", res.StepsExecuted).
		Msg("autonomous execution finished")
	return res
}

// playWithRecovery plays the step and, on failure, applies at most one
// learned recovery. The attempt's outcome feeds back into the learner.
func (e *Executor) playWithRecovery(ctx context.Context, step *workflow.ActionStep, dryRun bool) error {
	err := e.player.Play(ctx, step, dryRun)
	if err == nil || dryRun || e.recovery == nil {
		return err
	}
	code := string(agenterrors.CodeOf(err))
	pattern := e.recovery.GetLearnedRecovery(code, step.AppName, string(step.ActionType))
	if pattern == nil {
		return err
	}
	e.log.Info().
		Str("code", code).
		Str("recovery", pattern.RecoveryAction).
		Float64("rate", pattern.SuccessRate).
		Msg("applying learned recovery")

	var retryErr error
	switch pattern.RecoveryAction {
	case "click_xy":
		if (step.ActionType != workflow.ActionClick && step.ActionType != workflow.ActionRightClick) ||
			(step.Coordinates.X == 0 && step.Coordinates.Y == 0) {
			return err
		}
		blind := *step
		blind.Target = workflow.TargetHint{}
		retryErr = e.player.Play(ctx, &blind, false)
	case "insert_wait":
		e.sleep(ctx, recoveryRetryDelay)
		retryErr = e.player.Play(ctx, step, false)
	default:
		return err
	}
	if recErr := e.recovery.RecordRecovery(code, step.AppName, string(step.ActionType), pattern.RecoveryAction, retryErr == nil); recErr != nil {
		e.log.Warn().Err(recErr).Msg("recovery outcome not recorded")
	}
	return retryErr
}

func (e *Executor) recordFeedback(workflowID, goal, appName string, mode workflow.ExecutionMode, res *workflow.ExecutionResult) {
	if e.feedback == nil {
		return
	}
	fb := &workflow.ExecutionFeedback{
		FeedbackID:      workflow.NewFeedbackID(),
		WorkflowID:      workflowID,
		Goal:            goal,
		Success:         res.Success,
		StepsExecuted:   res.StepsExecuted,
		StepsSucceeded:  res.StepsSucceeded,
		Timestamp:       time.Now().Format(workflow.TimeLayout),
		ExecutionMode:   mode,
		DurationSeconds: res.TotalTimeSeconds,
		AppName:         appName,
	}
	for _, sr := range res.StepResults {
		if sr.Success {
			continue
		}
		fb.FailedStepIndices = append(fb.FailedStepIndices, sr.StepIndex)
		if sr.ErrorCode != "" {
			fb.ErrorDetails = append(fb.ErrorDetails, workflow.ErrorDetail{
				StepIndex: sr.StepIndex,
				ErrorCode: sr.ErrorCode,
				ErrorMsg:  sr.ErrorMsg,
			})
		}
	}
	if _, err := e.feedback.Record(fb); err != nil {
		e.log.Warn().Err(err).Msg("feedback not recorded")
	}
}

func (e *Executor) isDangerous(appName string) bool {
	return e.cfg != nil && e.cfg.IsDangerousApp(appName)
}

func (e *Executor) confirmStep(step *workflow.ActionStep) bool {
	prompt := fmt.Sprintf("危険アプリ「%s」で %s を実行します。実行しますか? (y/N): ", step.AppName, step.ActionType)
	return e.confirmer.Confirm(prompt)
}

// sleep waits context-aware; cancellation cuts it short.
func (e *Executor) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
