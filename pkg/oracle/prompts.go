package oracle

import (
	"fmt"
	"strings"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/capture"
)

// historyWindow bounds how many past steps are shown to the oracle.
const historyWindow = 10

func buildSessionSummaryPrompt(seg *capture.Segment) string {
	lines := make([]string, 0, len(seg.Captures))
	for _, r := range seg.Captures {
		actionType := r.UserAction.Type
		if actionType == "" {
			actionType = "unknown"
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s: %s", r.Timestamp, actionType, r.Target.Name))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "以下はアプリ '%s' での操作ログです。\n", seg.AppName)
	fmt.Fprintf(&b, "期間: %s ~ %s\n", seg.StartTime, seg.EndTime)
	fmt.Fprintf(&b, "操作数: %d\n\n", len(seg.Captures))
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\nこの操作セッションの内容を簡潔に要約してください。")
	return b.String()
}

func buildSkillPrompt(seg *capture.Segment) string {
	lines := make([]string, 0, len(seg.Captures))
	for _, r := range seg.Captures {
		actionType := r.UserAction.Type
		if actionType == "" {
			actionType = "unknown"
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s(%s) target=%s window=%s",
			r.Timestamp, actionType, r.UserAction.Button, r.Target.Name, r.Window.Name))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "以下はアプリ '%s' での操作ログです。\n", seg.AppName)
	fmt.Fprintf(&b, "期間: %s ~ %s\n", seg.StartTime, seg.EndTime)
	fmt.Fprintf(&b, "操作数: %d\n\n", len(seg.Captures))
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\nこの操作列から以下を分析してください:\n")
	b.WriteString("1. 繰り返されている操作パターンがあるか\n")
	b.WriteString("2. 手順化できる操作フローがあるか\n")
	b.WriteString("3. スキル（再利用可能な操作手順）として抽出できるか\n\n")
	b.WriteString(`次のJSONオブジェクトのみで回答してください:
{"name": スキル名, "description": 説明, "steps": 手順の配列, "app": アプリ名, "triggers": 起動キーワードの配列, "confidence": 0~1の確信度, "is_skill": 真偽値}

`)
	b.WriteString("スキルとして抽出できる場合は is_skill=true、できない場合は is_skill=false としてください。\n")
	b.WriteString("confidence は抽出の確信度を 0~1 で設定してください。")
	return b.String()
}

func buildSegmentPrompt(actionsText, appName string) string {
	count := 0
	if strings.TrimSpace(actionsText) != "" {
		count = len(strings.Split(strings.TrimSpace(actionsText), "\n"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "以下はアプリ '%s' での操作ログです。\n", appName)
	fmt.Fprintf(&b, "操作数: %d\n\n", count)
	b.WriteString(actionsText)
	b.WriteString("\n\nこの操作列が再利用可能なワークフロー（定型の操作手順）かどうかを分析してください。\n\n")
	b.WriteString(`次のJSONオブジェクトのみで回答してください:
{"name": ワークフロー名, "description": 説明, "tags": タグの配列, "parameters": [{"name": パラメータ名, "description": 説明, "step_index": 対象ステップ番号}], "confidence": 0~1の確信度, "is_workflow": 真偽値}

`)
	b.WriteString("ワークフローとして抽出できる場合は is_workflow=true、できない場合は is_workflow=false としてください。\n")
	b.WriteString("confidence は抽出の確信度を 0~1 で設定してください。\n")
	b.WriteString("実行のたびに変わりうる入力値（ファイル名、検索語など）があれば parameters に step_index とともに挙げてください。")
	return b.String()
}

func buildActionPrompt(goal string, state State, availableActions string, history []HistoryEntry) string {
	var b strings.Builder
	b.WriteString("あなたはデスクトップを操作するエージェントです。\n\n")
	fmt.Fprintf(&b, "目標: %s\n\n", goal)
	b.WriteString("現在の状態:\n")
	b.WriteString(renderState(state))
	b.WriteString("\n\nこれまでの操作:\n")
	b.WriteString(renderHistory(history))
	b.WriteString("\n\n利用可能なアクション:\n")
	b.WriteString(availableActions)
	b.WriteString("\n\n目標に向けた次のアクションを1つ選び、次のJSONオブジェクトのみで回答してください:\n")
	b.WriteString(`{"action_type": アクション種別, "target_description": 操作対象の説明, "x": X座標, "y": Y座標, "text": 入力テキスト, "keycode": キーコード, "flags": 修飾キーフラグ, "modifiers": 修飾キーの配列, "reasoning": 判断理由, "confidence": 0~1の確信度}`)
	b.WriteString("\n\n目標を達成済みと判断した場合は action_type=done としてください。\n")
	b.WriteString("画面の変化を待つべき場合は action_type=wait としてください。")
	return b.String()
}

func buildVerifyPrompt(beforeImg, afterImg, expectedChange string) string {
	var b strings.Builder
	b.WriteString("デスクトップ操作の実行結果を検証してください。\n\n")
	fmt.Fprintf(&b, "実行前スクリーンショット: %s\n", beforeImg)
	fmt.Fprintf(&b, "実行後スクリーンショット: %s\n", afterImg)
	fmt.Fprintf(&b, "期待される変化: %s\n\n", expectedChange)
	b.WriteString("期待される変化が起きたかどうかを判断し、次のJSONオブジェクトのみで回答してください:\n")
	b.WriteString(`{"success": 真偽値, "confidence": 0~1の確信度, "reasoning": 判断理由}`)
	return b.String()
}

func buildGoalPrompt(goal string, state State, history []HistoryEntry) string {
	var b strings.Builder
	b.WriteString("デスクトップ操作の目標が達成されたか判定してください。\n\n")
	fmt.Fprintf(&b, "目標: %s\n\n", goal)
	b.WriteString("現在の状態:\n")
	b.WriteString(renderState(state))
	b.WriteString("\n\nこれまでの操作:\n")
	b.WriteString(renderHistory(history))
	b.WriteString("\n\n次のJSONオブジェクトのみで回答してください:\n")
	b.WriteString(`{"achieved": 真偽値, "confidence": 0~1の確信度, "reasoning": 判断理由}`)
	return b.String()
}

func buildVisionPrompt(imagePath, description string) string {
	var b strings.Builder
	b.WriteString("スクリーンショットからUI要素を探してください。\n\n")
	fmt.Fprintf(&b, "スクリーンショット: %s\n", imagePath)
	fmt.Fprintf(&b, "探す要素: %s\n\n", description)
	b.WriteString("要素の中心座標を推定し、次のJSONオブジェクトのみで回答してください:\n")
	b.WriteString(`{"x": X座標, "y": Y座標, "confidence": 0~1の確信度, "description": 見つけた要素の説明}`)
	b.WriteString("\n\n見つからない場合は confidence を 0 にしてください。")
	return b.String()
}

func renderState(state State) string {
	lines := []string{
		"アプリ: " + state.AppName,
		"ウィンドウ: " + state.WindowName,
	}
	if state.ScreenshotPath != "" {
		lines = append(lines, "スクリーンショット: "+state.ScreenshotPath)
	}
	return strings.Join(lines, "\n")
}

func renderHistory(history []HistoryEntry) string {
	if len(history) == 0 {
		return "（なし）"
	}
	start := 0
	if len(history) > historyWindow {
		start = len(history) - historyWindow
	}
	lines := make([]string, 0, historyWindow)
	for _, h := range history[start:] {
		lines = append(lines, fmt.Sprintf("Step %d: %s → %s", h.Step, h.Action, h.Result))
	}
	return strings.Join(lines, "\n")
}
