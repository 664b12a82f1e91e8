// Package capture ingests the JSON records an external grabber writes into
// the watched directory, and groups them into time/app/size-bounded segments.
package capture

import (
	"time"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
)

// Frame is a bounding box in screen points.
type Frame struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Target describes the UI element the user acted on.
type Target struct {
	Role        string `json:"role"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Value       string `json:"value"`
	Description string `json:"description"`
	Identifier  string `json:"identifier"`
	Frame       Frame  `json:"frame"`
	IsSecure    bool   `json:"is_secure"`
}

// UserAction is the discriminated action payload of a capture record.
type UserAction struct {
	Type      string              `json:"type"`
	Button    string              `json:"button,omitempty"`
	X         *float64            `json:"x,omitempty"`
	Y         *float64            `json:"y,omitempty"`
	Text      string              `json:"text,omitempty"`
	Key       string              `json:"key,omitempty"`
	Keycode   *int                `json:"keycode,omitempty"`
	Flags     *int64              `json:"flags,omitempty"`
	KeyEvents []workflow.KeyEvent `json:"key_events,omitempty"`
	Modifiers []string            `json:"modifiers,omitempty"`
}

// SessionHint carries the grabber's own session grouping.
type SessionHint struct {
	SessionID string `json:"session_id"`
	Sequence  int    `json:"sequence"`
}

// AppInfo identifies the frontmost application at capture time.
type AppInfo struct {
	Name     string `json:"name"`
	BundleID string `json:"bundle_id"`
	PID      int    `json:"pid"`
}

// Browser is set when the frontmost app is a web browser.
type Browser struct {
	IsBrowser bool   `json:"is_browser"`
	URL       string `json:"url"`
	PageTitle string `json:"page_title"`
}

// Window names the frontmost window.
type Window struct {
	Name   string `json:"name"`
	Bounds Frame  `json:"bounds"`
}

// Screenshots holds the paths of the full and element-cropped images.
type Screenshots struct {
	Full    string `json:"full"`
	Cropped string `json:"cropped"`
}

// Mouse is the pointer position some grabbers record beside user_action.
type Mouse struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// Record is one capture document plus the path it was loaded from.
type Record struct {
	CaptureID   string      `json:"capture_id"`
	Timestamp   string      `json:"timestamp"`
	Session     SessionHint `json:"session"`
	UserAction  UserAction  `json:"user_action"`
	Target      Target      `json:"target"`
	App         AppInfo     `json:"app"`
	Browser     Browser     `json:"browser"`
	Window      Window      `json:"window"`
	Screenshots Screenshots `json:"screenshots"`
	Mouse       *Mouse      `json:"mouse,omitempty"`

	// JSONPath is the source file, set by the loader.
	JSONPath string `json:"-"`
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ParseTimestamp parses the grabber's timestamp formats in order.
func ParseTimestamp(ts string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ToActionStep converts the record into an executable step. Capture type
// "shortcut" normalizes to key_shortcut; a missing type defaults to click.
func (r *Record) ToActionStep() workflow.ActionStep {
	actionType := workflow.ActionType(r.UserAction.Type)
	switch r.UserAction.Type {
	case "shortcut":
		actionType = workflow.ActionKeyShortcut
	case "":
		actionType = workflow.ActionClick
	}

	title := r.Target.Title
	if title == "" {
		title = r.Target.Name
	}

	x, y := r.coordinates()

	return workflow.ActionStep{
		ActionType:  actionType,
		AppBundleID: r.App.BundleID,
		AppName:     r.App.Name,
		Target: workflow.TargetHint{
			Role:        r.Target.Role,
			Title:       title,
			Value:       r.Target.Value,
			Description: r.Target.Description,
			Identifier:  r.Target.Identifier,
		},
		Coordinates: workflow.Coordinates{X: x, Y: y},
		Key: workflow.KeyData{
			Keycode:   r.UserAction.Keycode,
			Flags:     r.UserAction.Flags,
			KeyEvents: r.UserAction.KeyEvents,
			Text:      r.UserAction.Text,
			Modifiers: r.UserAction.Modifiers,
		},
		ScreenshotPath: r.Screenshots.Full,
	}
}

// coordinates resolves the click position: the recorded pointer first, then
// the action's own coordinates, then the element frame's center.
func (r *Record) coordinates() (float64, float64) {
	if r.Mouse != nil && r.Mouse.X != nil && r.Mouse.Y != nil {
		return *r.Mouse.X, *r.Mouse.Y
	}
	if r.UserAction.X != nil && r.UserAction.Y != nil {
		return *r.UserAction.X, *r.UserAction.Y
	}
	if f := r.Target.Frame; f.W > 0 || f.H > 0 {
		return f.X + f.W/2, f.Y + f.H/2
	}
	return 0, 0
}
