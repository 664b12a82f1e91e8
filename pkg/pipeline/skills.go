package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"sigs.k8s.io/yaml"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
)

const (
	autoMarkerStart = "<!-- auto-generated-skills-start -->"
	autoMarkerEnd   = "<!-- auto-generated-skills-end -->"

	autoGeneratedFlag = "auto_generated: true"
)

var autoSectionRe = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(autoMarkerStart) + `.*?` + regexp.QuoteMeta(autoMarkerEnd))

// skillFrontmatter is the YAML header of a generated SKILL.md.
type skillFrontmatter struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	App           string   `json:"app,omitempty"`
	Triggers      []string `json:"triggers,omitempty"`
	Confidence    float64  `json:"confidence"`
	AutoGenerated bool     `json:"auto_generated"`
	GeneratedAt   string   `json:"generated_at"`
}

// SkillWriter renders extracted skills as SKILL.md files under the skills
// directory and keeps the auto-generated section of _index.md current.
type SkillWriter struct {
	dir string
	log zerolog.Logger
}

func NewSkillWriter(dir string) *SkillWriter {
	return &SkillWriter{
		dir: dir,
		log: logger.Component("skills"),
	}
}

// Dir returns the skills directory.
func (w *SkillWriter) Dir() string { return w.dir }

// WriteSkill renders the skill to <dir>/<name>/SKILL.md, overwriting any
// previous version, and refreshes the index. Returns the written path.
func (w *SkillWriter) WriteSkill(skill *workflow.ExtractedSkill) (string, error) {
	name := safeName(skill.Name)
	skillDir := filepath.Join(w.dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		return "", fmt.Errorf("create skill directory: %w", err)
	}

	content, err := renderSkill(skill)
	if err != nil {
		return "", err
	}
	path := filepath.Join(skillDir, "SKILL.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write skill file: %w", err)
	}
	w.log.Info().Str("skill", skill.Name).Str("path", path).Msg("skill written")

	if err := w.UpdateIndex(); err != nil {
		w.log.Warn().Err(err).Msg("skill index not refreshed")
	}
	return path, nil
}

// SkillExists reports whether a SKILL.md already exists for the name.
func (w *SkillWriter) SkillExists(name string) bool {
	_, err := os.Stat(filepath.Join(w.dir, safeName(name), "SKILL.md"))
	return err == nil
}

// UpdateIndex rewrites the auto-generated section of _index.md from the
// skills currently on disk. Hand-written index content outside the marker
// block is preserved.
func (w *SkillWriter) UpdateIndex() error {
	skills := w.collectAutoSkills()
	if len(skills) == 0 {
		return nil
	}
	section := buildAutoSection(skills)

	indexPath := filepath.Join(w.dir, "_index.md")
	var content string
	if data, err := os.ReadFile(indexPath); err == nil {
		content = replaceAutoSection(string(data), section)
	} else {
		content = "# Skills Index\n\n" + section + "\n"
	}
	return os.WriteFile(indexPath, []byte(content), 0o644)
}

type indexEntry struct {
	name, description string
}

// collectAutoSkills scans <dir>/*/SKILL.md for auto-generated skills.
func (w *SkillWriter) collectAutoSkills() []indexEntry {
	matches, err := filepath.Glob(filepath.Join(w.dir, "*", "SKILL.md"))
	if err != nil {
		return nil
	}
	sort.Strings(matches)

	var out []indexEntry
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		text := string(data)
		if !strings.Contains(text, autoGeneratedFlag) {
			continue
		}
		entry := indexEntry{name: filepath.Base(filepath.Dir(path))}
		for _, line := range strings.Split(text, "\n") {
			if rest, ok := strings.CutPrefix(line, "description:"); ok {
				entry.description = strings.TrimSpace(rest)
				break
			}
		}
		out = append(out, entry)
	}
	return out
}

func renderSkill(skill *workflow.ExtractedSkill) (string, error) {
	front, err := yaml.Marshal(skillFrontmatter{
		Name:          skill.Name,
		Description:   skill.Description,
		App:           skill.App,
		Triggers:      skill.Triggers,
		Confidence:    skill.Confidence,
		AutoGenerated: true,
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("render frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(front)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", skill.Name)
	fmt.Fprintf(&b, "%s\n\n", skill.Description)
	b.WriteString("## 手順\n\n")
	for i, step := range skill.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	return b.String(), nil
}

func buildAutoSection(skills []indexEntry) string {
	var b strings.Builder
	b.WriteString(autoMarkerStart + "\n")
	b.WriteString("## 自動生成スキル\n\n")
	for _, s := range skills {
		fmt.Fprintf(&b, "- **%s**: %s\n", s.name, s.description)
	}
	b.WriteString("\n" + autoMarkerEnd)
	return b.String()
}

func replaceAutoSection(content, section string) string {
	if autoSectionRe.MatchString(content) {
		return autoSectionRe.ReplaceAllLiteralString(content, section)
	}
	return strings.TrimRight(content, "\n") + "\n\n" + section + "\n"
}

// safeName keeps oracle-chosen skill names usable as directory names.
func safeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "skill"
	}
	return name
}
