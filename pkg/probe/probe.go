// Package probe is the contract between the agent and the platform UI
// layer: activating apps, synthesizing clicks and keystrokes, and locating
// recorded elements on the current screen.
package probe

import (
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
)

// Button selects the mouse button of a click.
type Button string

const (
	ButtonLeft  Button = "left"
	ButtonRight Button = "right"
)

// Element search methods, strongest match first. The executor treats
// coordinate_fallback as "element not actually located".
const (
	MethodIdentifier         = "identifier"
	MethodValue              = "value"
	MethodDescription        = "description"
	MethodTitleRole          = "title_role"
	MethodRole               = "role"
	MethodAppWideIdentifier  = "app_wide_identifier"
	MethodAppWideValue       = "app_wide_value"
	MethodAppWideDescription = "app_wide_description"
	MethodAppWideTitleRole   = "app_wide_title_role"
	MethodCoordinateFallback = "coordinate_fallback"

	// MethodVisionFallback is never reported by a probe; the executor sets
	// it after rescuing a coordinate fallback with a vision lookup.
	MethodVisionFallback = "vision_fallback"
)

// DefaultElementDepth bounds the accessibility-tree walk of VisibleElements.
const DefaultElementDepth = 5

// Hit is where FindElement located a step's target and how.
type Hit struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Method string  `json:"method"`
}

// AppInfo identifies a running app.
type AppInfo struct {
	Name     string `json:"name"`
	BundleID string `json:"bundle_id"`
	PID      int    `json:"pid"`
}

// Frame is an element's on-screen bounds.
type Frame struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element is one accessibility node reported by the platform layer.
type Element struct {
	Role        string `json:"role"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Identifier  string `json:"identifier,omitempty"`
	Value       string `json:"value,omitempty"`
	Frame       *Frame `json:"frame,omitempty"`
	Depth       int    `json:"depth,omitempty"`
}

// Probe drives and inspects the desktop. Action primitives return coded
// errors; inspection primitives degrade silently to nil/empty.
type Probe interface {
	ActivateApp(bundleID string) error
	Click(x, y float64, button Button) error
	TypeKeys(keycode int, flags int64, text string) error
	FindElement(step workflow.ActionStep) Hit
	VisibleElements(pid, maxDepth int) []Element
	FrontmostApp() *AppInfo
	ElementAt(x, y float64) *Element
}

// NopProbe satisfies Probe without touching the desktop. Dry runs and tests
// use it.
type NopProbe struct{}

var _ Probe = NopProbe{}

func (NopProbe) ActivateApp(string) error             { return nil }
func (NopProbe) Click(float64, float64, Button) error { return nil }
func (NopProbe) TypeKeys(int, int64, string) error    { return nil }

func (NopProbe) FindElement(step workflow.ActionStep) Hit {
	return Hit{X: step.Coordinates.X, Y: step.Coordinates.Y, Method: MethodCoordinateFallback}
}

func (NopProbe) VisibleElements(int, int) []Element { return nil }
func (NopProbe) FrontmostApp() *AppInfo             { return nil }
func (NopProbe) ElementAt(float64, float64) *Element { return nil }
