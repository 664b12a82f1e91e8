package oracle

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/capture"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/errors"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
)

// Adapter implements the oracle operations on any Client. Operations do not
// return errors: once the retry budget is spent they degrade to a neutral
// result (nil, achieved=false, success=false) and log the cause, so the
// loops above never have to unwind on a flaky service.
type Adapter struct {
	client Client
	log    zerolog.Logger

	// retryInitial seeds the backoff policy, shortened in tests.
	retryInitial time.Duration
}

// NewAdapter wraps a provider client.
func NewAdapter(client Client) *Adapter {
	return &Adapter{
		client:       client,
		log:          logger.Component("oracle"),
		retryInitial: retryInitialInterval,
	}
}

// Provider returns the wrapped provider's name.
func (a *Adapter) Provider() string {
	return a.client.Name()
}

// AnalyzeSession summarizes the segment's operations in natural language.
// Returns "" when the oracle cannot answer.
func (a *Adapter) AnalyzeSession(ctx context.Context, seg *capture.Segment) string {
	out, err := a.completeWithRetry(ctx, Request{Prompt: buildSessionSummaryPrompt(seg)})
	if err != nil {
		a.log.Error().Err(err).Str("app", seg.AppName).Msg("session analysis failed")
		return ""
	}
	return strings.TrimSpace(out)
}

// ExtractSkill asks whether the segment holds a reusable operation pattern.
// Returns nil when the oracle answers is_skill=false or cannot answer.
func (a *Adapter) ExtractSkill(ctx context.Context, seg *capture.Segment) *workflow.ExtractedSkill {
	payload, err := a.completeJSON(ctx, Request{Prompt: buildSkillPrompt(seg)}, skillSchema)
	if err != nil {
		a.log.Error().Err(err).Str("app", seg.AppName).Msg("skill extraction failed")
		return nil
	}
	var skill workflow.ExtractedSkill
	if err := json.Unmarshal(payload, &skill); err != nil {
		a.log.Error().Err(err).Msg("skill response undecodable")
		return nil
	}
	if !skill.IsSkill {
		a.log.Debug().Str("app", seg.AppName).Msg("segment is not a skill")
		return nil
	}
	return &skill
}

// AnalyzeWorkflowSegment asks whether the rendered action text is a reusable
// workflow. Returns nil when is_workflow=false or the oracle cannot answer.
func (a *Adapter) AnalyzeWorkflowSegment(ctx context.Context, actionsText, appName string) *SegmentAnalysis {
	payload, err := a.completeJSON(ctx, Request{Prompt: buildSegmentPrompt(actionsText, appName)}, segmentSchema)
	if err != nil {
		a.log.Error().Err(err).Str("app", appName).Msg("segment analysis failed")
		return nil
	}
	var analysis SegmentAnalysis
	if err := json.Unmarshal(payload, &analysis); err != nil {
		a.log.Error().Err(err).Msg("segment response undecodable")
		return nil
	}
	if !analysis.IsWorkflow {
		a.log.Debug().Str("app", appName).Msg("segment is not a workflow")
		return nil
	}
	return &analysis
}

// SelectNextAction asks for the next action toward the goal. Returns nil
// when the oracle cannot answer.
func (a *Adapter) SelectNextAction(ctx context.Context, goal string, state State, availableActions string, history []HistoryEntry) *ActionChoice {
	payload, err := a.completeJSON(ctx, Request{Prompt: buildActionPrompt(goal, state, availableActions, history)}, actionSchema)
	if err != nil {
		a.log.Error().Err(err).Str("goal", goal).Msg("action selection failed")
		return nil
	}
	var choice ActionChoice
	if err := json.Unmarshal(payload, &choice); err != nil {
		a.log.Error().Err(err).Msg("action response undecodable")
		return nil
	}
	return &choice
}

// VerifyExecution judges whether the expected change happened between the
// two screenshots. A service failure reports success=false with a reasoning,
// never an error.
func (a *Adapter) VerifyExecution(ctx context.Context, beforeImg, afterImg, expectedChange string) VerifyResult {
	payload, err := a.completeJSON(ctx, Request{Prompt: buildVerifyPrompt(beforeImg, afterImg, expectedChange)}, verifySchema)
	if err != nil {
		a.log.Error().Err(err).Msg("execution verify failed")
		return VerifyResult{Reasoning: "検証エラー: " + err.Error()}
	}
	var res VerifyResult
	if err := json.Unmarshal(payload, &res); err != nil {
		a.log.Error().Err(err).Msg("verify response undecodable")
		return VerifyResult{Reasoning: "検証エラー: " + err.Error()}
	}
	return res
}

// CheckGoalAchieved judges goal completion from the current state and the
// recent history. A service failure reports achieved=false with a reasoning.
func (a *Adapter) CheckGoalAchieved(ctx context.Context, goal string, state State, history []HistoryEntry) GoalResult {
	payload, err := a.completeJSON(ctx, Request{Prompt: buildGoalPrompt(goal, state, history)}, goalSchema)
	if err != nil {
		a.log.Error().Err(err).Str("goal", goal).Msg("goal check failed")
		return GoalResult{Reasoning: "判定エラー: " + err.Error()}
	}
	var res GoalResult
	if err := json.Unmarshal(payload, &res); err != nil {
		a.log.Error().Err(err).Msg("goal response undecodable")
		return GoalResult{Reasoning: "判定エラー: " + err.Error()}
	}
	return res
}

// FindElementByVision locates the described element on a screenshot.
// Returns nil when the oracle cannot answer.
func (a *Adapter) FindElementByVision(ctx context.Context, imagePath, description string) *VisionHit {
	payload, err := a.completeJSON(ctx, Request{Prompt: buildVisionPrompt(imagePath, description)}, visionSchema)
	if err != nil {
		a.log.Error().Err(err).Str("image", imagePath).Msg("vision lookup failed")
		return nil
	}
	var hit VisionHit
	if err := json.Unmarshal(payload, &hit); err != nil {
		a.log.Error().Err(err).Msg("vision response undecodable")
		return nil
	}
	return &hit
}

// completeJSON runs a structured request: forces JSON output, validates the
// completion against the schema, and retries the whole request once when the
// response does not conform.
func (a *Adapter) completeJSON(ctx context.Context, req Request, schema *jsonschema.Schema) ([]byte, error) {
	req.ForceJSON = true

	raw, err := a.completeWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	payload, verr := validateAgainst(schema, raw)
	if verr == nil {
		return payload, nil
	}

	a.log.Warn().Err(verr).Str("provider", a.client.Name()).Msg("response failed schema check, retrying once")
	raw, err = a.completeWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	payload, verr = validateAgainst(schema, raw)
	if verr != nil {
		return nil, errors.New(errors.CodeSchemaInvalid, "oracle", "response does not match the expected schema", verr)
	}
	return payload, nil
}
