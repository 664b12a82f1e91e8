package execute

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	agenterrors "github.com/kazuyaegusa/8891-screen-shot/pkg/domain/errors"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/probe"
)

const (
	// baseFlags is always OR-ed into key event flags. Events recorded
	// without flags replay with exactly this value.
	baseFlags int64 = 0x100

	// interKeyDelay paces successive key events of one text_input step.
	interKeyDelay = 30 * time.Millisecond

	// activationSettle gives the app a beat to come frontmost.
	activationSettle = 300 * time.Millisecond

	// visionMinConfidence gates adopting a vision lookup's coordinates.
	visionMinConfidence = 0.5
)

// Vision locates elements on screenshots when accessibility hints fail.
type Vision interface {
	FindElementByVision(ctx context.Context, imagePath, description string) *oracle.VisionHit
}

// Screenshots supplies screenshots for the vision fallback.
type Screenshots interface {
	TakeScreenshot(prefix string) string
}

// Player executes a single action step against the probe.
type Player struct {
	probe  probe.Probe
	vision Vision
	shots  Screenshots
	log    zerolog.Logger
}

// NewPlayer wires the probe with an optional vision fallback. vision and
// shots may be nil; the fallback is then skipped.
func NewPlayer(p probe.Probe, vision Vision, shots Screenshots) *Player {
	if p == nil {
		p = probe.NopProbe{}
	}
	return &Player{
		probe:  p,
		vision: vision,
		shots:  shots,
		log:    logger.Component("play"),
	}
}

// Play executes one step. Dry-run logs the step and succeeds without
// touching the probe. Errors carry the step's failure code.
func (p *Player) Play(ctx context.Context, step *workflow.ActionStep, dryRun bool) error {
	if step.WaitBeforeSeconds > 0 {
		time.Sleep(secondsToDuration(step.WaitBeforeSeconds))
	}
	if dryRun {
		p.log.Info().
			Str("action", string(step.ActionType)).
			Str("app", step.AppName).
			Msg("dry-run step")
		return nil
	}
	return p.runWithTimeout(step.TimeoutSeconds, func() error {
		return p.playStep(ctx, step)
	})
}

func (p *Player) playStep(ctx context.Context, step *workflow.ActionStep) error {
	if step.AppBundleID != "" {
		if err := p.activate(step); err != nil {
			return err
		}
	}
	switch step.ActionType {
	case workflow.ActionTextInput, workflow.ActionKeyInput, workflow.ActionKeyShortcut:
		return p.playKey(step)
	case workflow.ActionClick, workflow.ActionRightClick:
		return p.playClick(ctx, step)
	default:
		return agenterrors.New(agenterrors.CodeExecutionFailed, "execute",
			fmt.Sprintf("unsupported action type %q", step.ActionType), nil)
	}
}

func (p *Player) activate(step *workflow.ActionStep) error {
	if err := p.probe.ActivateApp(step.AppBundleID); err != nil {
		return err
	}
	time.Sleep(activationSettle)
	if step.FocusCheck {
		front := p.probe.FrontmostApp()
		if front == nil || front.BundleID != step.AppBundleID {
			p.log.Debug().Str("bundle", step.AppBundleID).Msg("focus lost, reactivating")
			if err := p.probe.ActivateApp(step.AppBundleID); err != nil {
				return err
			}
			time.Sleep(activationSettle)
		}
	}
	return nil
}

func (p *Player) playKey(step *workflow.ActionStep) error {
	switch step.ActionType {
	case workflow.ActionTextInput:
		if len(step.Key.KeyEvents) > 0 {
			for i, ev := range step.Key.KeyEvents {
				if i > 0 {
					time.Sleep(interKeyDelay)
				}
				if err := p.probe.TypeKeys(ev.Keycode, ev.Flags|baseFlags, ev.Text); err != nil {
					return err
				}
			}
			return nil
		}
		if step.Key.Text != "" {
			return p.probe.TypeKeys(0, baseFlags, step.Key.Text)
		}
		return agenterrors.New(agenterrors.CodeInputFailed, "execute",
			"text_input step has neither key events nor text", nil)
	default: // key_input, key_shortcut
		if step.Key.Keycode == nil {
			return agenterrors.New(agenterrors.CodeInputFailed, "execute",
				fmt.Sprintf("%s step is missing a keycode", step.ActionType), nil)
		}
		return p.probe.TypeKeys(*step.Key.Keycode, normalizeFlags(step.Key.Flags), "")
	}
}

// playClick locates the target and issues exactly one click. A coordinate
// fallback on a hinted target first consults the vision oracle; only when
// that also misses do the recorded coordinates get clicked blind.
func (p *Player) playClick(ctx context.Context, step *workflow.ActionStep) error {
	hit := p.probe.FindElement(*step)
	if hit.Method == probe.MethodCoordinateFallback && !step.Target.Empty() {
		if v := p.findByVision(ctx, step); v != nil {
			hit = *v
		}
	}
	button := probe.ButtonLeft
	if step.ActionType == workflow.ActionRightClick {
		button = probe.ButtonRight
	}
	p.log.Debug().
		Str("method", hit.Method).
		Float64("x", hit.X).
		Float64("y", hit.Y).
		Msg("click target resolved")
	if err := p.probe.Click(hit.X, hit.Y, button); err != nil {
		if hit.Method == probe.MethodCoordinateFallback && !step.Target.Empty() {
			return agenterrors.New(agenterrors.CodeHintNotFound, "execute",
				"target element not found, blind click failed", err)
		}
		return err
	}
	return nil
}

func (p *Player) findByVision(ctx context.Context, step *workflow.ActionStep) *probe.Hit {
	if p.vision == nil {
		return nil
	}
	imagePath := step.ScreenshotPath
	if imagePath == "" && p.shots != nil {
		imagePath = p.shots.TakeScreenshot("state")
	}
	if imagePath == "" {
		return nil
	}
	v := p.vision.FindElementByVision(ctx, imagePath, visionDescription(step))
	if v == nil || v.Confidence < visionMinConfidence {
		return nil
	}
	p.log.Info().
		Float64("confidence", v.Confidence).
		Msg("vision fallback located element")
	return &probe.Hit{X: v.X, Y: v.Y, Method: probe.MethodVisionFallback}
}

// visionDescription flattens the step's target hints into a prompt line.
func visionDescription(step *workflow.ActionStep) string {
	var parts []string
	t := step.Target
	if t.Role != "" {
		parts = append(parts, "role="+t.Role)
	}
	if t.Title != "" {
		parts = append(parts, "title="+t.Title)
	}
	if t.Description != "" {
		parts = append(parts, "description="+t.Description)
	}
	if t.Value != "" {
		parts = append(parts, "value="+t.Value)
	}
	if t.Identifier != "" {
		parts = append(parts, "identifier="+t.Identifier)
	}
	if step.Description != "" {
		parts = append(parts, step.Description)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s target", step.ActionType)
	}
	return strings.Join(parts, ", ")
}

// runWithTimeout bounds fn when the step carries an explicit timeout. The
// goroutine may outlive the deadline; probe calls finish on their own and
// the result is discarded.
func (p *Player) runWithTimeout(timeoutSeconds float64, fn func() error) error {
	if timeoutSeconds <= 0 {
		return fn()
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	timer := time.NewTimer(secondsToDuration(timeoutSeconds))
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return agenterrors.New(agenterrors.CodeTimeout, "execute",
			fmt.Sprintf("step timed out after %.1fs", timeoutSeconds), nil)
	}
}

func normalizeFlags(flags *int64) int64 {
	if flags == nil {
		return baseFlags
	}
	return *flags | baseFlags
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
