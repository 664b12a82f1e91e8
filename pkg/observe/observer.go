// Package observe captures the current desktop state: the frontmost app,
// full-screen screenshots, and visible accessibility elements. Every
// operation degrades silently when the platform layer is unavailable.
package observe

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/probe"
)

// State is one observation of the screen.
type State struct {
	App            *probe.AppInfo `json:"app"`
	ScreenshotPath string         `json:"screenshot_path,omitempty"`
	Timestamp      string         `json:"timestamp"`
}

// PositionInfo describes what sits under a screen coordinate.
type PositionInfo struct {
	App         *probe.AppInfo       `json:"app"`
	Element     *probe.Element       `json:"element"`
	Coordinates workflow.Coordinates `json:"coordinates"`
}

// Screenshotter captures the whole screen into a file.
type Screenshotter interface {
	Capture(path string) error
}

// ExecScreenshotter shells out to the platform capture tool, trying
// screencapture first and then ImageMagick's import.
type ExecScreenshotter struct {
	Runner probe.CommandRunner
}

func (s ExecScreenshotter) Capture(path string) error {
	runner := s.Runner
	if runner == nil {
		runner = probe.ExecCommandRunner{}
	}
	if _, err := runner.RunCommand("screencapture", "-x", path); err == nil {
		return nil
	}
	if _, err := runner.RunCommand("import", "-window", "root", path); err == nil {
		return nil
	}
	return fmt.Errorf("no screenshot tool available")
}

// Observer reads the desktop through a probe and a screenshotter.
type Observer struct {
	probe   probe.Probe
	shooter Screenshotter
	dir     string
	log     zerolog.Logger
}

// NewObserver stores screenshots under dir (default ./screenshots). A nil
// shooter defaults to the exec-based one; a nil probe disables app and
// element inspection.
func NewObserver(dir string, p probe.Probe, shooter Screenshotter) *Observer {
	if dir == "" {
		dir = "screenshots"
	}
	if shooter == nil {
		shooter = ExecScreenshotter{}
	}
	return &Observer{
		probe:   p,
		shooter: shooter,
		dir:     dir,
		log:     logger.Component("observe"),
	}
}

// ObserveCurrentState reports the frontmost app and a fresh screenshot.
// Either part may be missing.
func (o *Observer) ObserveCurrentState() State {
	state := State{Timestamp: time.Now().Format(workflow.TimeLayout)}
	if o.probe != nil {
		state.App = o.probe.FrontmostApp()
	}
	state.ScreenshotPath = o.TakeScreenshot("state")
	return state
}

// ObserveAtPosition reports the app and element under a screen coordinate.
func (o *Observer) ObserveAtPosition(x, y float64) PositionInfo {
	info := PositionInfo{Coordinates: workflow.Coordinates{X: x, Y: y}}
	if o.probe == nil {
		return info
	}
	info.App = o.probe.FrontmostApp()
	info.Element = o.probe.ElementAt(x, y)
	return info
}

// TakeScreenshot captures the screen into <dir>/<prefix>_<ts>.png and
// returns the absolute path, or "" when capturing is not possible.
func (o *Observer) TakeScreenshot(prefix string) string {
	if prefix == "" {
		prefix = "screenshot"
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		o.log.Debug().Err(err).Str("dir", o.dir).Msg("screenshot directory unavailable")
		return ""
	}
	path := filepath.Join(o.dir, fmt.Sprintf("%s_%s.png", prefix, time.Now().Format("20060102_150405")))
	if err := o.shooter.Capture(path); err != nil {
		o.log.Debug().Err(err).Msg("screenshot capture failed")
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// GetVisibleElements lists an app's accessibility nodes up to maxDepth
// (default 5). Nil without a probe.
func (o *Observer) GetVisibleElements(pid, maxDepth int) []probe.Element {
	if o.probe == nil {
		return nil
	}
	if maxDepth <= 0 {
		maxDepth = probe.DefaultElementDepth
	}
	return o.probe.VisibleElements(pid, maxDepth)
}
