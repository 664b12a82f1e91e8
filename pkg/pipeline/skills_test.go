package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
)

func sampleSkill() *workflow.ExtractedSkill {
	return &workflow.ExtractedSkill{
		Name:        "ファイル整理",
		Description: "Finderでファイルをフォルダに移動する操作",
		Steps:       []string{"フォルダを開く", "ファイルをドラッグ"},
		App:         "Finder",
		Triggers:    []string{"ファイル移動", "整理"},
		Confidence:  0.85,
		IsSkill:     true,
	}
}

func TestWriteSkill(t *testing.T) {
	dir := t.TempDir()
	w := NewSkillWriter(dir)

	path, err := w.WriteSkill(sampleSkill())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ファイル整理", "SKILL.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "---\n"))
	assert.Contains(t, content, "name: ファイル整理")
	assert.Contains(t, content, "description: Finderでファイルをフォルダに移動する操作")
	assert.Contains(t, content, "app: Finder")
	assert.Contains(t, content, "confidence: 0.85")
	assert.Contains(t, content, "auto_generated: true")
	assert.Contains(t, content, "generated_at:")
	assert.Contains(t, content, "# ファイル整理")
	assert.Contains(t, content, "## 手順")
	assert.Contains(t, content, "1. フォルダを開く")
	assert.Contains(t, content, "2. ファイルをドラッグ")

	assert.True(t, w.SkillExists("ファイル整理"))
	assert.False(t, w.SkillExists("メール送信"))
}

func TestWriteSkillOverwrites(t *testing.T) {
	w := NewSkillWriter(t.TempDir())
	skill := sampleSkill()
	_, err := w.WriteSkill(skill)
	require.NoError(t, err)

	skill.Description = "更新された説明"
	path, err := w.WriteSkill(skill)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "更新された説明")
	assert.NotContains(t, string(data), "フォルダに移動する操作")
}

func TestWriteSkillUpdatesIndex(t *testing.T) {
	dir := t.TempDir()
	w := NewSkillWriter(dir)
	_, err := w.WriteSkill(sampleSkill())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "_index.md"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# Skills Index")
	assert.Contains(t, content, autoMarkerStart)
	assert.Contains(t, content, autoMarkerEnd)
	assert.Contains(t, content, "## 自動生成スキル")
	assert.Contains(t, content, "- **ファイル整理**: Finderでファイルをフォルダに移動する操作")
}

func TestIndexPreservesHandwrittenContent(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "_index.md")
	require.NoError(t, os.WriteFile(indexPath, []byte("# My Skills\n\n手書きのメモ\n"), 0o644))

	w := NewSkillWriter(dir)
	_, err := w.WriteSkill(sampleSkill())
	require.NoError(t, err)

	second := sampleSkill()
	second.Name = "メール送信"
	second.Description = "Mailで定型メールを送る"
	_, err = w.WriteSkill(second)
	require.NoError(t, err)

	data, err := os.ReadFile(indexPath)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "手書きのメモ")
	assert.Contains(t, content, "- **ファイル整理**")
	assert.Contains(t, content, "- **メール送信**: Mailで定型メールを送る")
	// The marker block is replaced in place, never duplicated.
	assert.Equal(t, 1, strings.Count(content, autoMarkerStart))
}

func TestIndexSkipsManualSkills(t *testing.T) {
	dir := t.TempDir()
	manual := filepath.Join(dir, "手動スキル")
	require.NoError(t, os.MkdirAll(manual, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(manual, "SKILL.md"),
		[]byte("---\nname: 手動スキル\n---\n\n# 手動スキル\n"), 0o644))

	w := NewSkillWriter(dir)
	_, err := w.WriteSkill(sampleSkill())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "_index.md"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "手動スキル")
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "メモ整理", safeName(" メモ整理 "))
	assert.Equal(t, "_etc_passwd", safeName("../etc/passwd"))
	assert.Equal(t, "skill", safeName(""))
	assert.Equal(t, "skill", safeName("..."))
}
