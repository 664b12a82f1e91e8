// Package execute replays learned workflows and drives autonomous
// exploration through the UI probe, with oracle-backed verification and
// learned error recovery.
package execute

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/config"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/probe"
)

// availableActions is the menu shown to the oracle when it picks the next
// autonomous action.
const availableActions = `click(x,y) - 指定座標をクリック
right_click(x,y) - 右クリック
text_input(text) - テキスト入力
key_shortcut(keycode, flags) - キーボードショートカット
wait - 待機
done - 目標達成完了`

// ActionPicker asks the oracle for the next autonomous action.
type ActionPicker interface {
	SelectNextAction(ctx context.Context, goal string, state oracle.State, availableActions string, history []oracle.HistoryEntry) *oracle.ActionChoice
}

// Selector resolves the next step, either from a stored workflow or from
// the oracle.
type Selector struct {
	cfg    *config.AgentConfig
	picker ActionPicker
	log    zerolog.Logger
}

func NewSelector(cfg *config.AgentConfig, picker ActionPicker) *Selector {
	return &Selector{
		cfg:    cfg,
		picker: picker,
		log:    logger.Component("select"),
	}
}

// SelectFromWorkflow returns step stepIndex with parameters bound, or nil
// when the index is out of range. The stored step is never mutated: the
// parameter value lands in a copy's text and target value, and recorded
// key events are dropped so the substituted text is what gets typed.
func (s *Selector) SelectFromWorkflow(wf *workflow.Workflow, stepIndex int, params map[string]string) *workflow.ActionStep {
	if wf == nil || stepIndex < 0 || stepIndex >= len(wf.Steps) {
		return nil
	}
	step := wf.Steps[stepIndex]
	if !step.Parameterized.IsParameterized || step.Parameterized.ParamName == "" {
		return &step
	}
	value := params[step.Parameterized.ParamName]
	if value == "" {
		return &step
	}
	if step.Key.Text != "" || step.ActionType == workflow.ActionTextInput {
		step.Key.Text = value
		step.Key.KeyEvents = nil
	}
	if step.Target.Value != "" {
		step.Target.Value = value
	}
	s.log.Debug().
		Str("param", step.Parameterized.ParamName).
		Int("step", stepIndex).
		Msg("parameter substituted")
	return &step
}

// SelectAutonomous asks the oracle for the next action toward goal. When the
// frontmost app is on the dangerous list the choice always requires
// confirmation, whatever the oracle said.
func (s *Selector) SelectAutonomous(ctx context.Context, goal string, state oracle.State, history []oracle.HistoryEntry) *oracle.ActionChoice {
	if s.picker == nil {
		return nil
	}
	choice := s.picker.SelectNextAction(ctx, goal, state, availableActions, history)
	if choice == nil {
		return nil
	}
	if s.cfg != nil && s.cfg.IsDangerousApp(state.AppName) {
		choice.RequiresConfirmation = true
	}
	return choice
}

// ChoiceToStep converts an oracle action choice into a playable step. The
// frontmost app, when known, becomes the step's activation target.
func (s *Selector) ChoiceToStep(choice *oracle.ActionChoice, app *probe.AppInfo) workflow.ActionStep {
	step := workflow.ActionStep{
		ActionType:  workflow.ActionType(choice.ActionType),
		Coordinates: workflow.Coordinates{X: choice.X, Y: choice.Y},
		Target:      workflow.TargetHint{Description: choice.TargetDescription},
		Key: workflow.KeyData{
			Keycode:   choice.Keycode,
			Flags:     choice.Flags,
			Text:      choice.Text,
			Modifiers: choice.Modifiers,
		},
		Description: choice.TargetDescription,
	}
	if app != nil {
		step.AppName = app.Name
		step.AppBundleID = app.BundleID
	}
	return step
}
