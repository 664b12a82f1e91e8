// Package workflow defines the domain model shared by the learning,
// refinement, and execution components: workflows and their steps, execution
// feedback, and recovery patterns.
package workflow

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a workflow.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusTested     Status = "tested"
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
)

// IsValid reports whether s is one of the known lifecycle states.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusTested, StatusActive, StatusDeprecated:
		return true
	}
	return false
}

// ActionType identifies the kind of UI action a step performs.
type ActionType string

const (
	ActionClick       ActionType = "click"
	ActionRightClick  ActionType = "right_click"
	ActionTextInput   ActionType = "text_input"
	ActionKeyInput    ActionType = "key_input"
	ActionKeyShortcut ActionType = "key_shortcut"
)

// ExecutionMode distinguishes workflow replay from free exploration.
type ExecutionMode string

const (
	ModeWorkflow   ExecutionMode = "workflow"
	ModeAutonomous ExecutionMode = "autonomous"
)

// TargetHint describes the UI element a step acts on. Empty fields mean the
// capture carried no such attribute.
type TargetHint struct {
	Role        string `json:"role"`
	Title       string `json:"title"`
	Value       string `json:"value"`
	Description string `json:"description"`
	Identifier  string `json:"identifier"`
}

// Empty reports whether the hint carries no locating attribute at all.
func (t TargetHint) Empty() bool {
	return t.Role == "" && t.Title == "" && t.Value == "" && t.Description == "" && t.Identifier == ""
}

// Coordinates is a screen position in points.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// KeyEvent is a single keystroke inside a text_input step.
type KeyEvent struct {
	Keycode int    `json:"keycode"`
	Flags   int64  `json:"flags"`
	Text    string `json:"text,omitempty"`
}

// KeyData carries the keystroke payload of key_input, key_shortcut, and
// text_input steps.
type KeyData struct {
	Keycode   *int       `json:"keycode"`
	Flags     *int64     `json:"flags"`
	KeyEvents []KeyEvent `json:"key_events"`
	Text      string     `json:"text"`
	Modifiers []string   `json:"modifiers"`
}

// Parameterized marks a step whose text is substituted at replay time.
type Parameterized struct {
	IsParameterized bool   `json:"is_parameterized"`
	ParamName       string `json:"param_name"`
}

// ActionStep is one executable unit of a workflow.
type ActionStep struct {
	ActionType     ActionType    `json:"action_type"`
	AppBundleID    string        `json:"app_bundle_id"`
	AppName        string        `json:"app_name"`
	Target         TargetHint    `json:"target"`
	Coordinates    Coordinates   `json:"coordinates"`
	Key            KeyData       `json:"key"`
	Parameterized  Parameterized `json:"parameterized"`
	Description    string        `json:"description"`
	ScreenshotPath string        `json:"screenshot_path,omitempty"`

	// Refiner-applied adjustments. WaitBeforeSeconds delays the step,
	// TimeoutSeconds bounds it, FocusCheck re-activates the app first.
	WaitBeforeSeconds float64 `json:"wait_before_seconds,omitempty"`
	TimeoutSeconds    float64 `json:"timeout_seconds,omitempty"`
	FocusCheck        bool    `json:"focus_check,omitempty"`
}

// Parameter describes one substitutable input an extracted workflow accepts.
type Parameter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	StepIndex   int    `json:"step_index"`
}

// Workflow is a named, parameterizable sequence of steps with a lifecycle.
type Workflow struct {
	SchemaVersion    int          `json:"schema_version,omitempty"`
	WorkflowID       string       `json:"workflow_id"`
	Name             string       `json:"name"`
	Description      string       `json:"description"`
	Steps            []ActionStep `json:"steps"`
	AppName          string       `json:"app_name"`
	Tags             []string     `json:"tags"`
	Parameters       []Parameter  `json:"parameters"`
	Confidence       float64      `json:"confidence"`
	SourceSessionIDs []string     `json:"source_session_ids"`
	CreatedAt        string       `json:"created_at"`
	Status           Status       `json:"status"`
	ExecutionCount   int          `json:"execution_count"`
	ParentID         string       `json:"parent_id,omitempty"`

	// Raw holds keys written by newer schema versions so that loading and
	// saving a workflow never drops them.
	Raw map[string]json.RawMessage `json:"-"`
}

var knownWorkflowKeys = map[string]bool{
	"schema_version":     true,
	"workflow_id":        true,
	"name":               true,
	"description":        true,
	"steps":              true,
	"app_name":           true,
	"tags":               true,
	"parameters":         true,
	"confidence":         true,
	"source_session_ids": true,
	"created_at":         true,
	"status":             true,
	"execution_count":    true,
	"parent_id":          true,
}

// UnmarshalJSON decodes a workflow while keeping unknown keys in Raw.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	type plain Workflow
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*w = Workflow(p)

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, v := range all {
		if knownWorkflowKeys[k] {
			continue
		}
		if w.Raw == nil {
			w.Raw = make(map[string]json.RawMessage)
		}
		w.Raw[k] = v
	}
	return nil
}

// MarshalJSON re-emits preserved unknown keys next to the known fields.
func (w Workflow) MarshalJSON() ([]byte, error) {
	type plain Workflow
	b, err := json.Marshal(plain(w))
	if err != nil {
		return nil, err
	}
	if len(w.Raw) == 0 {
		return b, nil
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	for k, v := range w.Raw {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// IsVariant reports whether the workflow was derived from another one.
func (w *Workflow) IsVariant() bool {
	return w.ParentID != ""
}

// ErrorDetail records one failed step inside a feedback entry.
type ErrorDetail struct {
	StepIndex int    `json:"step_index"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// ExecutionFeedback is the append-only outcome of a single execution.
type ExecutionFeedback struct {
	FeedbackID        string        `json:"feedback_id"`
	WorkflowID        string        `json:"workflow_id,omitempty"`
	Goal              string        `json:"goal"`
	Success           bool          `json:"success"`
	StepsExecuted     int           `json:"steps_executed"`
	StepsSucceeded    int           `json:"steps_succeeded"`
	FailedStepIndices []int         `json:"failed_step_indices"`
	ErrorDetails      []ErrorDetail `json:"error_details"`
	Timestamp         string        `json:"timestamp"`
	ExecutionMode     ExecutionMode `json:"execution_mode"`
	DurationSeconds   float64       `json:"duration_seconds"`
	AppName           string        `json:"app_name"`
}

// RecoveryPattern is one learned (error, app, action) -> recovery mapping.
type RecoveryPattern struct {
	ErrorCode      string  `json:"error_code"`
	AppName        string  `json:"app_name"`
	FailedAction   string  `json:"failed_action"`
	RecoveryAction string  `json:"recovery_action"`
	SampleCount    int     `json:"sample_count"`
	SuccessCount   int     `json:"success_count"`
	SuccessRate    float64 `json:"success_rate"`
}

// ExtractedSkill is the oracle's structured summary of a capture session.
type ExtractedSkill struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
	App         string   `json:"app"`
	Triggers    []string `json:"triggers"`
	Confidence  float64  `json:"confidence"`
	IsSkill     bool     `json:"is_skill"`
}

// ExecutionContext carries the knobs for one run of the execution loop.
type ExecutionContext struct {
	Goal                   string
	WorkflowID             string
	DryRun                 bool
	MaxSteps               int
	MaxConsecutiveFailures int
	StepDelay              time.Duration
	ConfirmDangerous       bool
	Parameters             map[string]string
}

// NewExecutionContext returns a context with the default limits.
func NewExecutionContext(goal string) ExecutionContext {
	return ExecutionContext{
		Goal:                   goal,
		MaxSteps:               50,
		MaxConsecutiveFailures: 5,
		StepDelay:              time.Second,
		ConfirmDangerous:       true,
	}
}

// StepResult is the per-step outcome appended during execution.
type StepResult struct {
	StepIndex  int        `json:"step_index"`
	ActionType ActionType `json:"action_type"`
	Success    bool       `json:"success"`
	ErrorCode  string     `json:"error_code,omitempty"`
	ErrorMsg   string     `json:"error_msg,omitempty"`
	Skipped    bool       `json:"skipped,omitempty"`
	Verified   bool       `json:"verified,omitempty"`
}

// ExecutionResult summarizes one run of the loop.
type ExecutionResult struct {
	Success          bool         `json:"success"`
	StepsExecuted    int          `json:"steps_executed"`
	StepsSucceeded   int          `json:"steps_succeeded"`
	StepsFailed      int          `json:"steps_failed"`
	GoalAchieved     bool         `json:"goal_achieved"`
	Error            string       `json:"error,omitempty"`
	StepResults      []StepResult `json:"step_results"`
	TotalTimeSeconds float64      `json:"total_time_seconds"`
}

// TimeLayout is the timestamp layout of persisted documents. It matches the
// microsecond format the capture grabber writes.
const TimeLayout = "2006-01-02T15:04:05.000000"

// DefaultStepTimeoutSeconds bounds a step that carries no explicit timeout.
const DefaultStepTimeoutSeconds = 10.0

// NewWorkflowID returns a fresh wf-prefixed 8-hex-char identifier.
func NewWorkflowID() string {
	return "wf-" + uuid.NewString()[:8]
}

// NewFeedbackID returns a fresh fb-prefixed 8-hex-char identifier.
func NewFeedbackID() string {
	return "fb-" + uuid.NewString()[:8]
}
