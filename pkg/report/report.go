// Package report scores how reproducible stored workflows are, groups them
// into business categories, and renders the reproducibility report plus the
// parts catalog consumed by other tooling.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/store"
)

// Format selects the report output format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

const reportTimeLayout = "2006-01-02T15:04:05"

var rankIcons = map[string]string{"A": "●", "B": "▲", "C": "×"}

// Generator renders reproducibility reports over the workflow store.
type Generator struct {
	store    *store.WorkflowStore
	feedback *store.FeedbackStore
	log      zerolog.Logger
}

func NewGenerator(st *store.WorkflowStore, fb *store.FeedbackStore) *Generator {
	return &Generator{
		store:    st,
		feedback: fb,
		log:      logger.Component("report"),
	}
}

type evaluated struct {
	wf    *workflow.Workflow
	repro Reproducibility
}

type reportStats struct {
	Total      int            `json:"total"`
	ByRank     map[string]int `json:"by_rank"`
	Categories int            `json:"categories"`
}

// Generate renders the report. The parts catalog is rewritten from the full
// workflow population first; the category filter only narrows what is
// rendered. An unknown format falls back to markdown.
func (g *Generator) Generate(format Format, category string) string {
	categorized := categorizeAll(g.store.ListAll())

	if _, err := g.writeCatalog(categorized); err != nil {
		g.log.Error().Err(err).Msg("catalog write failed")
	}

	if category != "" {
		if wfs, ok := categorized[category]; ok {
			categorized = map[string][]*workflow.Workflow{category: wfs}
		} else {
			categorized = map[string][]*workflow.Workflow{}
		}
	}

	eval := make(map[string][]evaluated, len(categorized))
	for cat, wfs := range categorized {
		items := make([]evaluated, 0, len(wfs))
		for _, wf := range wfs {
			items = append(items, evaluated{wf: wf, repro: g.Evaluate(wf)})
		}
		eval[cat] = items
	}

	stats := reportStats{ByRank: map[string]int{"A": 0, "B": 0, "C": 0}}
	for _, items := range eval {
		for _, it := range items {
			stats.Total++
			stats.ByRank[it.repro.Rank]++
		}
	}
	stats.Categories = len(eval)

	if format == FormatJSON {
		return g.renderJSON(eval, stats)
	}
	return g.renderMarkdown(eval, stats)
}

// WriteReport renders the full report and writes it under <store>/reports as
// report_YYYYMMDD.md or .json, returning the path.
func (g *Generator) WriteReport(format Format) (string, error) {
	content := g.Generate(format, "")

	ext := "md"
	if format == FormatJSON {
		ext = "json"
	}
	dir := filepath.Join(g.store.Dir(), "reports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("report_%s.%s", time.Now().Format("20060102"), ext))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	g.log.Info().Str("path", path).Msg("report written")
	return path, nil
}

// UpdateCatalog rewrites the parts catalog without rendering a report.
func (g *Generator) UpdateCatalog() (string, error) {
	return g.writeCatalog(categorizeAll(g.store.ListAll()))
}

// GetByCategory returns the stored workflows classified into category.
func (g *Generator) GetByCategory(category string) []*workflow.Workflow {
	var out []*workflow.Workflow
	for _, wf := range g.store.ListAll() {
		if Classify(wf) == category {
			out = append(out, wf)
		}
	}
	return out
}

type catalogScore struct {
	Score float64 `json:"score"`
	Rank  string  `json:"rank"`
}

type catalogItem struct {
	WorkflowID      string       `json:"workflow_id"`
	Name            string       `json:"name"`
	AppName         string       `json:"app_name"`
	Reproducibility catalogScore `json:"reproducibility"`
	StepsCount      int          `json:"steps_count"`
}

type catalogCategory struct {
	Workflows []catalogItem `json:"workflows"`
}

type catalogStats struct {
	Total  int            `json:"total"`
	ByRank map[string]int `json:"by_rank"`
}

type catalogDoc struct {
	UpdatedAt  string                     `json:"updated_at"`
	Categories map[string]catalogCategory `json:"categories"`
	Stats      catalogStats               `json:"stats"`
}

func (g *Generator) writeCatalog(categorized map[string][]*workflow.Workflow) (string, error) {
	doc := catalogDoc{
		UpdatedAt:  time.Now().Format(reportTimeLayout),
		Categories: make(map[string]catalogCategory, len(categorized)),
		Stats:      catalogStats{ByRank: map[string]int{"A": 0, "B": 0, "C": 0}},
	}
	for cat, wfs := range categorized {
		items := make([]catalogItem, 0, len(wfs))
		for _, wf := range wfs {
			repro := g.Evaluate(wf)
			doc.Stats.Total++
			doc.Stats.ByRank[repro.Rank]++
			items = append(items, catalogItem{
				WorkflowID:      wf.WorkflowID,
				Name:            wf.Name,
				AppName:         wf.AppName,
				Reproducibility: catalogScore{Score: round2(repro.Score), Rank: repro.Rank},
				StepsCount:      len(wf.Steps),
			})
		}
		doc.Categories[cat] = catalogCategory{Workflows: items}
	}

	dir := filepath.Join(g.store.Dir(), "parts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create parts directory: %w", err)
	}
	path := filepath.Join(dir, "catalog.json")
	if err := store.AtomicWriteJSON(path, doc); err != nil {
		return "", err
	}
	g.log.Info().Str("path", path).Int("workflows", doc.Stats.Total).Msg("catalog updated")
	return path, nil
}

func (g *Generator) renderMarkdown(eval map[string][]evaluated, stats reportStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 再現性レポート (%s)\n\n", time.Now().Format("2006-01-02 15:04"))
	b.WriteString("## サマリー\n\n")
	fmt.Fprintf(&b, "- 総ワークフロー数: %d\n", stats.Total)
	fmt.Fprintf(&b, "- カテゴリ数: %d\n", stats.Categories)
	fmt.Fprintf(&b, "- ランク A（再現可能）: %d\n", stats.ByRank["A"])
	fmt.Fprintf(&b, "- ランク B（要検証）: %d\n", stats.ByRank["B"])
	fmt.Fprintf(&b, "- ランク C（再現困難）: %d\n\n", stats.ByRank["C"])

	cats := make([]string, 0, len(eval))
	for cat := range eval {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	for _, cat := range cats {
		items := append([]evaluated(nil), eval[cat]...)
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].repro.Score > items[j].repro.Score
		})

		fmt.Fprintf(&b, "## %s (%d件)\n\n", cat, len(items))
		b.WriteString("| ランク | ワークフロー | アプリ | スコア | ステップ数 | ステータス |\n")
		b.WriteString("|--------|------------|-------|--------|-----------|-----------|\n")
		for _, it := range items {
			fmt.Fprintf(&b, "| %s %s | %s | %s | %.2f | %d | %s |\n",
				rankIcons[it.repro.Rank], it.repro.Rank, it.wf.Name, it.wf.AppName,
				it.repro.Score, len(it.wf.Steps), it.wf.Status)
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

type jsonReproducibility struct {
	Score  float64 `json:"score"`
	Rank   string  `json:"rank"`
	Detail Detail  `json:"detail"`
}

type jsonItem struct {
	WorkflowID      string              `json:"workflow_id"`
	Name            string              `json:"name"`
	AppName         string              `json:"app_name"`
	Status          workflow.Status     `json:"status"`
	StepsCount      int                 `json:"steps_count"`
	Reproducibility jsonReproducibility `json:"reproducibility"`
}

type jsonReport struct {
	GeneratedAt string                `json:"generated_at"`
	Stats       reportStats           `json:"stats"`
	Categories  map[string][]jsonItem `json:"categories"`
}

func (g *Generator) renderJSON(eval map[string][]evaluated, stats reportStats) string {
	doc := jsonReport{
		GeneratedAt: time.Now().Format(reportTimeLayout),
		Stats:       stats,
		Categories:  make(map[string][]jsonItem, len(eval)),
	}
	for cat, items := range eval {
		out := make([]jsonItem, 0, len(items))
		for _, it := range items {
			out = append(out, jsonItem{
				WorkflowID: it.wf.WorkflowID,
				Name:       it.wf.Name,
				AppName:    it.wf.AppName,
				Status:     it.wf.Status,
				StepsCount: len(it.wf.Steps),
				Reproducibility: jsonReproducibility{
					Score:  round2(it.repro.Score),
					Rank:   it.repro.Rank,
					Detail: it.repro.Detail,
				},
			})
		}
		doc.Categories[cat] = out
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		g.log.Error().Err(err).Msg("report encode failed")
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}
