package execute

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/probe"
)

func parameterizedWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		WorkflowID: "wf-param001",
		Name:       "メッセージ送信",
		Steps: []workflow.ActionStep{
			{
				ActionType: workflow.ActionTextInput,
				Key: workflow.KeyData{
					Text: "定型文",
					KeyEvents: []workflow.KeyEvent{
						{Keycode: 8, Text: "定"},
					},
				},
				Parameterized: workflow.Parameterized{IsParameterized: true, ParamName: "メッセージ"},
			},
			{
				ActionType: workflow.ActionClick,
				Target:     workflow.TargetHint{Identifier: "send", Value: "旧値"},
				Parameterized: workflow.Parameterized{
					IsParameterized: true,
					ParamName:       "宛先",
				},
			},
		},
	}
}

func TestSelectFromWorkflowRange(t *testing.T) {
	s := NewSelector(testConfig(), nil)
	wf := parameterizedWorkflow()

	assert.Nil(t, s.SelectFromWorkflow(wf, -1, nil))
	assert.Nil(t, s.SelectFromWorkflow(wf, len(wf.Steps), nil))
	assert.Nil(t, s.SelectFromWorkflow(nil, 0, nil))
	require.NotNil(t, s.SelectFromWorkflow(wf, 0, nil))
}

func TestSelectFromWorkflowSubstitution(t *testing.T) {
	s := NewSelector(testConfig(), nil)
	wf := parameterizedWorkflow()
	params := map[string]string{"メッセージ": "こんにちは", "宛先": "tanaka"}

	step := s.SelectFromWorkflow(wf, 0, params)
	require.NotNil(t, step)
	assert.Equal(t, "こんにちは", step.Key.Text)
	assert.Nil(t, step.Key.KeyEvents, "recorded key events give way to the substituted text")

	step = s.SelectFromWorkflow(wf, 1, params)
	require.NotNil(t, step)
	assert.Equal(t, "tanaka", step.Target.Value)

	// The stored workflow stays untouched.
	assert.Equal(t, "定型文", wf.Steps[0].Key.Text)
	assert.Len(t, wf.Steps[0].Key.KeyEvents, 1)
	assert.Equal(t, "旧値", wf.Steps[1].Target.Value)
}

func TestSelectFromWorkflowMissingParam(t *testing.T) {
	s := NewSelector(testConfig(), nil)
	wf := parameterizedWorkflow()

	step := s.SelectFromWorkflow(wf, 0, map[string]string{"別名": "x"})
	require.NotNil(t, step)
	assert.Equal(t, "定型文", step.Key.Text)
	assert.Len(t, step.Key.KeyEvents, 1)
}

func TestSelectAutonomous(t *testing.T) {
	choice := &oracle.ActionChoice{ActionType: "click", X: 10, Y: 20, Confidence: 0.9}

	t.Run("dangerous app forces confirmation", func(t *testing.T) {
		orc := &fakeOracle{choices: []*oracle.ActionChoice{choice}}
		s := NewSelector(testConfig(), orc)

		got := s.SelectAutonomous(context.Background(), "送信する", oracle.State{AppName: "Slack"}, nil)
		require.NotNil(t, got)
		assert.True(t, got.RequiresConfirmation)
	})

	t.Run("safe app keeps the oracle's flag", func(t *testing.T) {
		orc := &fakeOracle{choices: []*oracle.ActionChoice{choice}}
		s := NewSelector(testConfig(), orc)

		got := s.SelectAutonomous(context.Background(), "保存する", oracle.State{AppName: "Finder"}, nil)
		require.NotNil(t, got)
		assert.False(t, got.RequiresConfirmation)
	})

	t.Run("action menu reaches the oracle", func(t *testing.T) {
		orc := &fakeOracle{choices: []*oracle.ActionChoice{choice}}
		s := NewSelector(testConfig(), orc)

		s.SelectAutonomous(context.Background(), "保存する", oracle.State{}, nil)
		assert.Contains(t, orc.gotActions, "click(x,y)")
		assert.Contains(t, orc.gotActions, "done - 目標達成完了")
	})

	t.Run("no oracle", func(t *testing.T) {
		s := NewSelector(testConfig(), nil)
		assert.Nil(t, s.SelectAutonomous(context.Background(), "保存する", oracle.State{}, nil))
	})

	t.Run("oracle out of answers", func(t *testing.T) {
		s := NewSelector(testConfig(), &fakeOracle{})
		assert.Nil(t, s.SelectAutonomous(context.Background(), "保存する", oracle.State{}, nil))
	})
}

func TestChoiceToStep(t *testing.T) {
	s := NewSelector(testConfig(), nil)
	choice := &oracle.ActionChoice{
		ActionType:        "key_shortcut",
		TargetDescription: "保存ショートカット",
		X:                 5,
		Y:                 6,
		Text:              "x",
		Keycode:           intPtr(1),
		Flags:             int64Ptr(0x100000),
		Modifiers:         []string{"cmd"},
	}

	step := s.ChoiceToStep(choice, &probe.AppInfo{Name: "Notes", BundleID: "com.apple.Notes"})
	assert.Equal(t, workflow.ActionKeyShortcut, step.ActionType)
	assert.Equal(t, "Notes", step.AppName)
	assert.Equal(t, "com.apple.Notes", step.AppBundleID)
	assert.Equal(t, workflow.Coordinates{X: 5, Y: 6}, step.Coordinates)
	assert.Equal(t, "保存ショートカット", step.Target.Description)
	assert.Equal(t, "保存ショートカット", step.Description)
	require.NotNil(t, step.Key.Keycode)
	assert.Equal(t, 1, *step.Key.Keycode)
	require.NotNil(t, step.Key.Flags)
	assert.Equal(t, int64(0x100000), *step.Key.Flags)
	assert.Equal(t, []string{"cmd"}, step.Key.Modifiers)

	step = s.ChoiceToStep(choice, nil)
	assert.Empty(t, step.AppName)
	assert.Empty(t, step.AppBundleID)
}
