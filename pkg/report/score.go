package report

import (
	"math"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
)

// axCompatibility rates how reliably each app exposes accessibility
// metadata. Unknown apps are estimated from their steps' target descriptors.
var axCompatibility = map[string]float64{
	"Finder":             0.95,
	"Safari":             0.90,
	"Google Chrome":      0.85,
	"Firefox":            0.85,
	"Arc":                0.80,
	"Cursor":             0.80,
	"Code":               0.80,
	"Visual Studio Code": 0.80,
	"Terminal":           0.75,
	"iTerm2":             0.75,
	"Ghostty":            0.60,
	"Notion":             0.70,
	"Slack":              0.65,
	"Discord":            0.40,
	"LINE":               0.50,
	"Messages":           0.70,
	"Mail":               0.80,
	"System Preferences": 0.90,
	"System Settings":    0.90,
}

// Detail is the component breakdown behind a reproducibility score.
type Detail struct {
	Confidence      float64 `json:"confidence"`
	SuccessRate     float64 `json:"success_rate"`
	StepQuality     float64 `json:"step_quality"`
	AXCompatibility float64 `json:"ax_compatibility"`
}

// Reproducibility is the replay-likelihood assessment of one workflow.
type Reproducibility struct {
	Score  float64 `json:"score"`
	Rank   string  `json:"rank"`
	Detail Detail  `json:"detail"`
}

// Evaluate scores one workflow:
// 0.30·confidence + 0.30·success_rate + 0.25·step_quality + 0.15·ax.
// Without any feedback the success-rate term is a flat 0.15.
func (g *Generator) Evaluate(wf *workflow.Workflow) Reproducibility {
	effective := 0.15
	if len(g.feedback.GetByWorkflow(wf.WorkflowID)) > 0 {
		effective = g.feedback.GetSuccessRate(wf.WorkflowID)
	}

	quality := stepQuality(wf.Steps)
	ax := axCompat(wf.AppName, wf.Steps)
	score := wf.Confidence*0.30 + effective*0.30 + quality*0.25 + ax*0.15

	rank := "C"
	switch {
	case score >= 0.7:
		rank = "A"
	case score >= 0.4:
		rank = "B"
	}

	return Reproducibility{
		Score: score,
		Rank:  rank,
		Detail: Detail{
			Confidence:      wf.Confidence,
			SuccessRate:     effective,
			StepQuality:     round3(quality),
			AXCompatibility: round3(ax),
		},
	}
}

// stepQuality is the mean per-step replayability. Key shortcuts replay best;
// clicks depend on how well their target is described.
func stepQuality(steps []workflow.ActionStep) float64 {
	if len(steps) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range steps {
		switch s.ActionType {
		case workflow.ActionKeyShortcut:
			sum += 0.95
		case workflow.ActionTextInput:
			sum += 0.80
		case workflow.ActionClick, workflow.ActionRightClick:
			switch {
			case s.Target.Identifier != "":
				sum += 0.90
			case s.Target.Role != "" && s.Target.Title != "":
				sum += 0.70
			default:
				sum += 0.30
			}
		default:
			sum += 0.50
		}
	}
	return sum / float64(len(steps))
}

func axCompat(appName string, steps []workflow.ActionStep) float64 {
	if v, ok := axCompatibility[appName]; ok {
		return v
	}
	if len(steps) == 0 {
		return 0.50
	}
	withTarget := 0
	for _, s := range steps {
		if s.Target.Identifier != "" || s.Target.Role != "" || s.Target.Title != "" {
			withTarget++
		}
	}
	return 0.40 + float64(withTarget)/float64(len(steps))*0.40
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
