package probe

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	agenterrors "github.com/kazuyaegusa/8891-screen-shot/pkg/domain/errors"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
)

// ExecProbe drives the desktop through an external helper command. Each
// primitive becomes one invocation `<cmd> <op> <json-payload>`; inspection
// ops read a JSON reply from stdout. Without a configured helper, actions
// fail with coded errors and searches fall back to recorded coordinates.
type ExecProbe struct {
	command string
	runner  CommandRunner
	log     zerolog.Logger
}

var _ Probe = (*ExecProbe)(nil)

// NewExecProbe wraps the helper named by command, typically
// config.AgentConfig.ProbeCommand. A nil runner defaults to os/exec.
func NewExecProbe(command string, runner CommandRunner) *ExecProbe {
	if runner == nil {
		runner = ExecCommandRunner{}
	}
	return &ExecProbe{command: command, runner: runner, log: logger.Component("probe")}
}

type clickRequest struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Button string  `json:"button"`
}

type typeRequest struct {
	Keycode int    `json:"keycode"`
	Flags   int64  `json:"flags"`
	Text    string `json:"text"`
}

type findRequest struct {
	BundleID    string  `json:"bundle_id,omitempty"`
	Role        string  `json:"role,omitempty"`
	Title       string  `json:"title,omitempty"`
	Value       string  `json:"value,omitempty"`
	Description string  `json:"description,omitempty"`
	Identifier  string  `json:"identifier,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
}

type elementsRequest struct {
	PID      int `json:"pid"`
	MaxDepth int `json:"max_depth"`
}

type positionRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p *ExecProbe) ActivateApp(bundleID string) error {
	if bundleID == "" {
		return nil
	}
	if p.command == "" {
		return agenterrors.New(agenterrors.CodeAppActivationFailed, "probe", "no probe helper configured", nil)
	}
	payload, _ := json.Marshal(map[string]string{"bundle_id": bundleID})
	if out, err := p.runner.RunCommand(p.command, "activate", string(payload)); err != nil {
		return agenterrors.New(agenterrors.CodeAppActivationFailed, "probe", strings.TrimSpace(out), err)
	}
	return nil
}

func (p *ExecProbe) Click(x, y float64, button Button) error {
	if p.command == "" {
		return agenterrors.New(agenterrors.CodeInputFailed, "probe", "no probe helper configured", nil)
	}
	if button == "" {
		button = ButtonLeft
	}
	payload, _ := json.Marshal(clickRequest{X: x, Y: y, Button: string(button)})
	if out, err := p.runner.RunCommand(p.command, "click", string(payload)); err != nil {
		return agenterrors.New(agenterrors.CodeInputFailed, "probe", strings.TrimSpace(out), err)
	}
	return nil
}

func (p *ExecProbe) TypeKeys(keycode int, flags int64, text string) error {
	if p.command == "" {
		return agenterrors.New(agenterrors.CodeInputFailed, "probe", "no probe helper configured", nil)
	}
	payload, _ := json.Marshal(typeRequest{Keycode: keycode, Flags: flags, Text: text})
	if out, err := p.runner.RunCommand(p.command, "type", string(payload)); err != nil {
		return agenterrors.New(agenterrors.CodeInputFailed, "probe", strings.TrimSpace(out), err)
	}
	return nil
}

func (p *ExecProbe) FindElement(step workflow.ActionStep) Hit {
	fallback := Hit{X: step.Coordinates.X, Y: step.Coordinates.Y, Method: MethodCoordinateFallback}
	if p.command == "" {
		return fallback
	}
	payload, _ := json.Marshal(findRequest{
		BundleID:    step.AppBundleID,
		Role:        step.Target.Role,
		Title:       step.Target.Title,
		Value:       step.Target.Value,
		Description: step.Target.Description,
		Identifier:  step.Target.Identifier,
		X:           step.Coordinates.X,
		Y:           step.Coordinates.Y,
	})
	out, err := p.runner.RunCommand(p.command, "find", string(payload))
	if err != nil {
		p.log.Warn().Err(err).Msg("element search helper failed")
		return fallback
	}
	var hit Hit
	if err := json.Unmarshal([]byte(out), &hit); err != nil || hit.Method == "" {
		p.log.Warn().Str("output", strings.TrimSpace(out)).Msg("element search reply unreadable")
		return fallback
	}
	return hit
}

func (p *ExecProbe) VisibleElements(pid, maxDepth int) []Element {
	if p.command == "" {
		return nil
	}
	if maxDepth <= 0 {
		maxDepth = DefaultElementDepth
	}
	payload, _ := json.Marshal(elementsRequest{PID: pid, MaxDepth: maxDepth})
	out, err := p.runner.RunCommand(p.command, "elements", string(payload))
	if err != nil {
		return nil
	}
	var elements []Element
	if err := json.Unmarshal([]byte(out), &elements); err != nil {
		return nil
	}
	return elements
}

func (p *ExecProbe) FrontmostApp() *AppInfo {
	if p.command == "" {
		return nil
	}
	out, err := p.runner.RunCommand(p.command, "frontmost", "{}")
	if err != nil {
		return nil
	}
	var app AppInfo
	if err := json.Unmarshal([]byte(out), &app); err != nil || app.Name == "" {
		return nil
	}
	return &app
}

func (p *ExecProbe) ElementAt(x, y float64) *Element {
	if p.command == "" {
		return nil
	}
	payload, _ := json.Marshal(positionRequest{X: x, Y: y})
	out, err := p.runner.RunCommand(p.command, "element_at", string(payload))
	if err != nil {
		return nil
	}
	var el Element
	if err := json.Unmarshal([]byte(out), &el); err != nil || el.Role == "" {
		return nil
	}
	return &el
}
