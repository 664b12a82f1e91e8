// Package oracle fronts the remote AI service. A provider-pluggable Client
// carries raw completions; the Adapter on top turns them into the structured
// decisions the learning and execution loops consume, degrading to neutral
// results when the service cannot answer.
package oracle

import "context"

// Request is a single completion request to a provider.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float32
	// ForceJSON asks the provider for a bare JSON object response, using
	// whatever mechanism the provider supports.
	ForceJSON bool
}

// Client is the provider contract. Implementations live in the openai,
// azure, and gemini subpackages.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	// Name identifies the provider in logs.
	Name() string
}

// State is the slice of an observed desktop state shown to the oracle.
type State struct {
	AppName        string
	BundleID       string
	WindowName     string
	ScreenshotPath string
}

// HistoryEntry is one already-executed step shown to the oracle as context.
type HistoryEntry struct {
	Step   int
	Action string
	Result string
}

// SegmentParameter is a substitutable input the oracle spotted in a segment.
type SegmentParameter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	StepIndex   int    `json:"step_index"`
}

// SegmentAnalysis is the oracle's verdict on one operation segment.
type SegmentAnalysis struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Tags        []string           `json:"tags"`
	Parameters  []SegmentParameter `json:"parameters"`
	Confidence  float64            `json:"confidence"`
	IsWorkflow  bool               `json:"is_workflow"`
}

// ActionChoice is the oracle's pick for the next autonomous action.
type ActionChoice struct {
	ActionType           string   `json:"action_type"`
	TargetDescription    string   `json:"target_description"`
	X                    float64  `json:"x"`
	Y                    float64  `json:"y"`
	Text                 string   `json:"text"`
	Keycode              *int     `json:"keycode"`
	Flags                *int64   `json:"flags"`
	Modifiers            []string `json:"modifiers"`
	Reasoning            string   `json:"reasoning"`
	Confidence           float64  `json:"confidence"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
}

// VerifyResult is the oracle's judgement of a before/after comparison.
type VerifyResult struct {
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// GoalResult is the oracle's judgement of goal completion.
type GoalResult struct {
	Achieved   bool    `json:"achieved"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// VisionHit locates a described element on a screenshot. Confidence below
// the caller's threshold means the element was not found.
type VisionHit struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}
