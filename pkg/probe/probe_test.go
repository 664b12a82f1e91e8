package probe

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "github.com/kazuyaegusa/8891-screen-shot/pkg/domain/errors"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
)

func clickStep() workflow.ActionStep {
	return workflow.ActionStep{
		ActionType:  workflow.ActionClick,
		AppBundleID: "com.apple.Notes",
		Target:      workflow.TargetHint{Role: "AXButton", Title: "保存"},
		Coordinates: workflow.Coordinates{X: 120, Y: 240},
	}
}

func TestExecProbeClick(t *testing.T) {
	runner := &FakeCommandRunner{}
	p := NewExecProbe("agent-probe", runner)

	require.NoError(t, p.Click(100, 200, ButtonRight))
	require.Len(t, runner.Calls, 1)
	assert.Equal(t, "agent-probe", runner.Calls[0][0])
	assert.Equal(t, "click", runner.Calls[0][1])

	var req clickRequest
	require.NoError(t, json.Unmarshal([]byte(runner.Calls[0][2]), &req))
	assert.Equal(t, 100.0, req.X)
	assert.Equal(t, 200.0, req.Y)
	assert.Equal(t, "right", req.Button)
}

func TestExecProbeClickDefaultsButton(t *testing.T) {
	runner := &FakeCommandRunner{}
	p := NewExecProbe("agent-probe", runner)

	require.NoError(t, p.Click(1, 2, ""))
	var req clickRequest
	require.NoError(t, json.Unmarshal([]byte(runner.Calls[0][2]), &req))
	assert.Equal(t, "left", req.Button)
}

func TestExecProbeErrorCodes(t *testing.T) {
	runner := &FakeCommandRunner{ErrStr: "helper crashed"}
	p := NewExecProbe("agent-probe", runner)

	assert.Equal(t, agenterrors.CodeInputFailed, agenterrors.CodeOf(p.Click(1, 2, ButtonLeft)))
	assert.Equal(t, agenterrors.CodeInputFailed, agenterrors.CodeOf(p.TypeKeys(36, 0x100, "")))
	assert.Equal(t, agenterrors.CodeAppActivationFailed, agenterrors.CodeOf(p.ActivateApp("com.apple.Notes")))
}

func TestExecProbeWithoutHelper(t *testing.T) {
	runner := &FakeCommandRunner{}
	p := NewExecProbe("", runner)

	assert.Error(t, p.Click(1, 2, ButtonLeft))
	assert.Error(t, p.TypeKeys(36, 0, "こんにちは"))
	assert.Error(t, p.ActivateApp("com.apple.Notes"))
	assert.Nil(t, p.FrontmostApp())
	assert.Nil(t, p.VisibleElements(123, 5))

	hit := p.FindElement(clickStep())
	assert.Equal(t, MethodCoordinateFallback, hit.Method)
	assert.Equal(t, 120.0, hit.X)
	assert.Equal(t, 240.0, hit.Y)

	// The helper is never invoked.
	assert.Empty(t, runner.Calls)
}

func TestExecProbeActivateEmptyBundleIsNoop(t *testing.T) {
	runner := &FakeCommandRunner{}
	p := NewExecProbe("agent-probe", runner)
	require.NoError(t, p.ActivateApp(""))
	assert.Empty(t, runner.Calls)
}

func TestExecProbeFindElement(t *testing.T) {
	t.Run("helper reply wins", func(t *testing.T) {
		runner := &FakeCommandRunner{Output: `{"x": 512, "y": 384, "method": "identifier"}`}
		p := NewExecProbe("agent-probe", runner)

		hit := p.FindElement(clickStep())
		assert.Equal(t, Hit{X: 512, Y: 384, Method: MethodIdentifier}, hit)

		var req findRequest
		require.NoError(t, json.Unmarshal([]byte(runner.Calls[0][2]), &req))
		assert.Equal(t, "com.apple.Notes", req.BundleID)
		assert.Equal(t, "AXButton", req.Role)
		assert.Equal(t, "保存", req.Title)
		assert.Equal(t, 120.0, req.X)
	})

	t.Run("helper failure falls back to coordinates", func(t *testing.T) {
		runner := &FakeCommandRunner{ErrStr: "no accessibility permission"}
		p := NewExecProbe("agent-probe", runner)

		hit := p.FindElement(clickStep())
		assert.Equal(t, Hit{X: 120, Y: 240, Method: MethodCoordinateFallback}, hit)
	})

	t.Run("garbage reply falls back to coordinates", func(t *testing.T) {
		runner := &FakeCommandRunner{Output: "not json"}
		p := NewExecProbe("agent-probe", runner)

		hit := p.FindElement(clickStep())
		assert.Equal(t, MethodCoordinateFallback, hit.Method)
	})
}

func TestExecProbeInspection(t *testing.T) {
	t.Run("frontmost app", func(t *testing.T) {
		runner := &FakeCommandRunner{Output: `{"name": "Safari", "bundle_id": "com.apple.Safari", "pid": 321}`}
		p := NewExecProbe("agent-probe", runner)

		app := p.FrontmostApp()
		require.NotNil(t, app)
		assert.Equal(t, "Safari", app.Name)
		assert.Equal(t, 321, app.PID)
	})

	t.Run("visible elements", func(t *testing.T) {
		runner := &FakeCommandRunner{Output: `[{"role": "AXButton", "title": "OK", "frame": {"x": 1, "y": 2, "width": 30, "height": 20}, "depth": 2}]`}
		p := NewExecProbe("agent-probe", runner)

		elements := p.VisibleElements(321, 0)
		require.Len(t, elements, 1)
		assert.Equal(t, "AXButton", elements[0].Role)
		require.NotNil(t, elements[0].Frame)
		assert.Equal(t, 30.0, elements[0].Frame.Width)

		var req elementsRequest
		require.NoError(t, json.Unmarshal([]byte(runner.Calls[0][2]), &req))
		assert.Equal(t, DefaultElementDepth, req.MaxDepth)
	})

	t.Run("element at position", func(t *testing.T) {
		runner := &FakeCommandRunner{Output: `{"role": "AXTextField", "value": "宛先"}`}
		p := NewExecProbe("agent-probe", runner)

		el := p.ElementAt(10, 20)
		require.NotNil(t, el)
		assert.Equal(t, "AXTextField", el.Role)
	})

	t.Run("inspection failures are silent", func(t *testing.T) {
		runner := &FakeCommandRunner{ErrStr: "boom"}
		p := NewExecProbe("agent-probe", runner)
		assert.Nil(t, p.FrontmostApp())
		assert.Nil(t, p.ElementAt(1, 2))
		assert.Nil(t, p.VisibleElements(1, 1))
	})
}

func TestNopProbe(t *testing.T) {
	var p Probe = NopProbe{}
	assert.NoError(t, p.ActivateApp("com.apple.Notes"))
	assert.NoError(t, p.Click(1, 2, ButtonLeft))
	assert.NoError(t, p.TypeKeys(36, 0, "x"))
	assert.Nil(t, p.FrontmostApp())

	hit := p.FindElement(clickStep())
	assert.Equal(t, Hit{X: 120, Y: 240, Method: MethodCoordinateFallback}, hit)
}
