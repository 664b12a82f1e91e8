package execute

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
)

// historyWindow caps how much execution history the oracle sees.
const historyWindow = 10

// Judge is the oracle surface the verifier consumes.
type Judge interface {
	VerifyExecution(ctx context.Context, beforeImg, afterImg, expectedChange string) oracle.VerifyResult
	CheckGoalAchieved(ctx context.Context, goal string, state oracle.State, history []oracle.HistoryEntry) oracle.GoalResult
}

// Verification is the outcome of one before/after comparison. Verified
// false means "no signal": callers keep their own success flag.
type Verification struct {
	Success    bool
	Confidence float64
	Reasoning  string
	Verified   bool
}

// Verifier judges step outcomes and goal completion through the oracle.
type Verifier struct {
	judge Judge
	log   zerolog.Logger
}

// NewVerifier wires the oracle; judge may be nil, which makes every
// verification report "no signal".
func NewVerifier(judge Judge) *Verifier {
	return &Verifier{
		judge: judge,
		log:   logger.Component("verify"),
	}
}

// VerifyStep compares the before/after screenshots against the expected
// change. Dry runs, missing screenshots, and oracle failures all come back
// unverified with a neutral reasoning.
func (v *Verifier) VerifyStep(ctx context.Context, beforeImg, afterImg, expectedChange string, dryRun bool) Verification {
	if dryRun {
		return Verification{Reasoning: "dry-run: 検証スキップ"}
	}
	if beforeImg == "" || afterImg == "" {
		return Verification{Reasoning: "スクリーンショットなし: 検証不可"}
	}
	if v.judge == nil {
		return Verification{Reasoning: "APIキー未設定: 検証不可"}
	}
	res := v.judge.VerifyExecution(ctx, beforeImg, afterImg, expectedChange)
	if res.Confidence <= 0 {
		// The adapter reports failures as zero-confidence results.
		v.log.Debug().Str("reasoning", res.Reasoning).Msg("verification had no signal")
		return Verification{Reasoning: res.Reasoning}
	}
	return Verification{
		Success:    res.Success,
		Confidence: res.Confidence,
		Reasoning:  res.Reasoning,
		Verified:   true,
	}
}

// CheckGoal asks whether the goal looks achieved from the current state and
// the last ten history entries. Without an oracle the goal is never
// achieved.
func (v *Verifier) CheckGoal(ctx context.Context, goal string, state oracle.State, history []oracle.HistoryEntry) oracle.GoalResult {
	if v.judge == nil {
		return oracle.GoalResult{Reasoning: "APIキー未設定: 判定不可"}
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	return v.judge.CheckGoalAchieved(ctx, goal, state, history)
}
