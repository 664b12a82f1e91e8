package report

import (
	"strings"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
)

// categoryOther collects workflows no rule claims.
const categoryOther = "その他"

// categoryRule binds a business category to the apps and tags that select it.
type categoryRule struct {
	name string
	apps []string
	tags []string
}

// Rule order is precedence order. App names are matched exactly, tags
// case-insensitively.
var categoryRules = []categoryRule{
	{
		name: "開発",
		apps: []string{"Cursor", "Code", "Visual Studio Code", "Ghostty", "Terminal", "iTerm2", "Xcode"},
		tags: []string{"開発", "コーディング", "ビルド", "デバッグ", "git"},
	},
	{
		name: "コミュニケーション",
		apps: []string{"LINE", "Discord", "Slack", "Mail", "Messages", "メール", "Zoom", "Teams"},
		tags: []string{"チャット", "メール", "通話", "会議"},
	},
	{
		name: "ブラウザ/Web",
		apps: []string{"Google Chrome", "Safari", "Firefox", "Arc"},
		tags: []string{"ブラウザ", "Web", "検索"},
	},
	{
		name: "AI/LLM",
		apps: []string{"Claude", "Google Gemini", "ChatGPT"},
		tags: []string{"AI", "LLM", "GPT", "Gemini", "Claude"},
	},
	{
		name: "システム操作",
		apps: []string{"Finder", "System Preferences", "System Settings", "Activity Monitor"},
		tags: []string{"Finder", "システム", "設定"},
	},
	{
		name: "プロジェクト管理",
		apps: []string{"Linear", "Notion", "Jira", "Asana", "Trello"},
		tags: []string{"タスク管理", "プロジェクト", "チケット"},
	},
}

// Classify maps a workflow to its business category. The app name is
// checked against every rule before any tag is considered.
func Classify(wf *workflow.Workflow) string {
	for _, rule := range categoryRules {
		for _, app := range rule.apps {
			if wf.AppName == app {
				return rule.name
			}
		}
	}

	wfTags := make(map[string]bool, len(wf.Tags))
	for _, t := range wf.Tags {
		wfTags[strings.ToLower(t)] = true
	}
	for _, rule := range categoryRules {
		for _, tag := range rule.tags {
			if wfTags[strings.ToLower(tag)] {
				return rule.name
			}
		}
	}
	return categoryOther
}

func categorizeAll(workflows []*workflow.Workflow) map[string][]*workflow.Workflow {
	out := make(map[string][]*workflow.Workflow)
	for _, wf := range workflows {
		cat := Classify(wf)
		out[cat] = append(out[cat], wf)
	}
	return out
}
