package execute

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/config"
	agenterrors "github.com/kazuyaegusa/8891-screen-shot/pkg/domain/errors"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/observe"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/probe"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/store"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

type clickCall struct {
	x, y   float64
	button probe.Button
}

type typeCall struct {
	keycode int
	flags   int64
	text    string
}

// fakeProbe records every action. FindElement reports findMethod at
// (findX, findY) for hinted steps and a coordinate fallback otherwise.
type fakeProbe struct {
	activated []string
	clicks    []clickCall
	typed     []typeCall

	findMethod   string
	findX, findY float64

	activateErr error
	clickErr    error
	typeErr     error
	failClicks  int
	clickDelay  time.Duration

	front    *probe.AppInfo
	atPos    *probe.Element
	elements []probe.Element
}

func (f *fakeProbe) ActivateApp(bundleID string) error {
	f.activated = append(f.activated, bundleID)
	return f.activateErr
}

func (f *fakeProbe) Click(x, y float64, button probe.Button) error {
	if f.clickDelay > 0 {
		time.Sleep(f.clickDelay)
	}
	f.clicks = append(f.clicks, clickCall{x, y, button})
	if f.failClicks > 0 {
		f.failClicks--
		return agenterrors.New(agenterrors.CodeInputFailed, "probe", "click failed", nil)
	}
	return f.clickErr
}

func (f *fakeProbe) TypeKeys(keycode int, flags int64, text string) error {
	f.typed = append(f.typed, typeCall{keycode, flags, text})
	return f.typeErr
}

func (f *fakeProbe) FindElement(step workflow.ActionStep) probe.Hit {
	if f.findMethod == "" || step.Target.Empty() {
		return probe.Hit{X: step.Coordinates.X, Y: step.Coordinates.Y, Method: probe.MethodCoordinateFallback}
	}
	return probe.Hit{X: f.findX, Y: f.findY, Method: f.findMethod}
}

func (f *fakeProbe) VisibleElements(pid, maxDepth int) []probe.Element { return f.elements }

func (f *fakeProbe) FrontmostApp() *probe.AppInfo { return f.front }

func (f *fakeProbe) ElementAt(x, y float64) *probe.Element { return f.atPos }

// fakeOracle scripts choices in order and records what it was asked.
type fakeOracle struct {
	choices   []*oracle.ActionChoice
	choiceIdx int

	gotStates  []oracle.State
	gotActions string
	gotHistory [][]oracle.HistoryEntry

	verify         *oracle.VerifyResult
	goal           oracle.GoalResult
	goalCalls      int
	gotGoalHistory [][]oracle.HistoryEntry

	vision      *oracle.VisionHit
	visionDescs []string
}

func (f *fakeOracle) SelectNextAction(ctx context.Context, goal string, state oracle.State, availableActions string, history []oracle.HistoryEntry) *oracle.ActionChoice {
	f.gotStates = append(f.gotStates, state)
	f.gotActions = availableActions
	f.gotHistory = append(f.gotHistory, append([]oracle.HistoryEntry(nil), history...))
	if f.choiceIdx >= len(f.choices) {
		return nil
	}
	c := f.choices[f.choiceIdx]
	f.choiceIdx++
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

func (f *fakeOracle) VerifyExecution(ctx context.Context, beforeImg, afterImg, expectedChange string) oracle.VerifyResult {
	if f.verify != nil {
		return *f.verify
	}
	return oracle.VerifyResult{Reasoning: "検証エラー: no signal"}
}

func (f *fakeOracle) CheckGoalAchieved(ctx context.Context, goal string, state oracle.State, history []oracle.HistoryEntry) oracle.GoalResult {
	f.goalCalls++
	f.gotGoalHistory = append(f.gotGoalHistory, append([]oracle.HistoryEntry(nil), history...))
	return f.goal
}

func (f *fakeOracle) FindElementByVision(ctx context.Context, imagePath, description string) *oracle.VisionHit {
	f.visionDescs = append(f.visionDescs, description)
	return f.vision
}

// fakeObserver hands out synthetic screenshot paths without touching disk.
type fakeObserver struct {
	app   *probe.AppInfo
	shots int
}

func (f *fakeObserver) ObserveCurrentState() observe.State {
	f.shots++
	return observe.State{
		App:            f.app,
		ScreenshotPath: fmt.Sprintf("/tmp/state_%d.png", f.shots),
		Timestamp:      time.Now().Format(workflow.TimeLayout),
	}
}

func (f *fakeObserver) TakeScreenshot(prefix string) string {
	f.shots++
	return fmt.Sprintf("/tmp/%s_%d.png", prefix, f.shots)
}

type fixedConfirmer struct {
	answer  bool
	prompts []string
}

func (c *fixedConfirmer) Confirm(prompt string) bool {
	c.prompts = append(c.prompts, prompt)
	return c.answer
}

func testConfig() *config.AgentConfig {
	return &config.AgentConfig{
		MaxSteps:               50,
		MaxConsecutiveFailures: 5,
		ConfirmDangerous:       true,
		DangerousApps:          []string{"Mail", "メール", "Slack"},
		MinConfidence:          0.5,
	}
}

func newTestExecutor(t *testing.T, cfg *config.AgentConfig, orc Oracle, p probe.Probe, obs StateSource, confirmer Confirmer) (*Executor, *store.WorkflowStore, *store.FeedbackStore) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewWorkflowStore(filepath.Join(dir, "workflows"))
	require.NoError(t, err)
	fb, err := store.NewFeedbackStore(filepath.Join(dir, "feedback"))
	require.NoError(t, err)
	e := New(cfg, st, fb, orc, p, obs, nil, Options{Confirmer: confirmer})
	return e, st, fb
}
