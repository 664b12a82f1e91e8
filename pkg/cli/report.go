package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/analyze"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/capture"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/config"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/recovery"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/report"
)

func newReportCmd(configFile *string) *cobra.Command {
	var (
		workflowDir string
		category    string
		format      string
		output      string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "再現性レポート + 業務パーツカタログ生成",
		RunE: func(_ *cobra.Command, _ []string) error {
			if format != string(report.FormatMarkdown) && format != string(report.FormatJSON) {
				return fmt.Errorf("unknown format %q (markdown or json)", format)
			}
			cfg, err := config.LoadAgent(*configFile)
			if err != nil {
				return err
			}
			dir := workflowDir
			if dir == "" {
				dir = cfg.WorkflowDir
			}
			st, fb, err := openStores(dir)
			if err != nil {
				return err
			}

			gen := report.NewGenerator(st, fb)
			out := gen.Generate(report.Format(format), category)

			// Daily snapshot keeps the category filter, unlike the
			// daemon's WriteReport.
			ext := "md"
			if format == string(report.FormatJSON) {
				ext = "json"
			}
			reportsDir := filepath.Join(st.Dir(), "reports")
			if err := os.MkdirAll(reportsDir, 0o755); err != nil {
				return err
			}
			datedPath := filepath.Join(reportsDir, fmt.Sprintf("report_%s.%s", time.Now().Format("20060102"), ext))
			if err := os.WriteFile(datedPath, []byte(out), 0o644); err != nil {
				return err
			}

			catalogPath := filepath.Join(st.Dir(), "parts", "catalog.json")
			if output != "" {
				if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(output, []byte(out), 0o644); err != nil {
					return err
				}
				fmt.Printf("レポート保存: %s\n", output)
				fmt.Printf("カタログ更新完了: %s\n", catalogPath)
				return nil
			}
			fmt.Println(out)
			if format != string(report.FormatJSON) {
				fmt.Printf("カタログ更新完了: %s\n", catalogPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workflowDir, "workflow-dir", "", "ワークフローディレクトリ")
	cmd.Flags().StringVar(&category, "category", "", "カテゴリフィルタ（例: 開発, ブラウザ/Web）")
	cmd.Flags().StringVar(&format, "format", string(report.FormatMarkdown), "出力形式 (markdown/json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "出力ファイルパス")
	return cmd
}

func newStatsCmd(configFile *string) *cobra.Command {
	var (
		workflowDir string
		days        int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "学習統計表示",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadAgent(*configFile)
			if err != nil {
				return err
			}
			dir := workflowDir
			if dir == "" {
				dir = cfg.WorkflowDir
			}
			st, fb, err := openStores(dir)
			if err != nil {
				return err
			}

			rep := analyze.New(st, fb).GenerateReport(days)
			printStats(rep, days)

			printProcessedCount(filepath.Join(cfg.ScreenshotDir, capture.AgentProcessedLog))
			printRecoveryPatterns(filepath.Join(dir, recovery.PatternsFile))
			return nil
		},
	}

	cmd.Flags().StringVar(&workflowDir, "workflow-dir", "", "ワークフローディレクトリ")
	cmd.Flags().IntVar(&days, "days", 7, "集計期間（日数）")
	return cmd
}

var priorityIcons = map[string]string{"high": "!!!", "medium": "!!", "low": "!"}

func printStats(rep *analyze.Report, days int) {
	total := 0
	for _, n := range rep.StatusDistribution {
		total += n
	}
	fmt.Printf("=== 学習統計（直近%d日間） ===\n\n", days)
	fmt.Printf("ワークフロー数: %d\n", total)
	fmt.Printf("  DRAFT: %d\n", rep.StatusDistribution["draft"])
	fmt.Printf("  TESTED: %d\n", rep.StatusDistribution["tested"])
	fmt.Printf("  ACTIVE: %d\n", rep.StatusDistribution["active"])
	fmt.Printf("  DEPRECATED: %d\n", rep.StatusDistribution["deprecated"])
	fmt.Printf("\nフィードバック数: %d\n", rep.TotalFeedbacks)
	fmt.Printf("全体成功率: %.1f%%\n", rep.OverallSuccessRate*100)

	if len(rep.AppStats) > 0 {
		fmt.Println("\n--- アプリ別統計 ---")
		apps := make([]string, 0, len(rep.AppStats))
		for app := range rep.AppStats {
			apps = append(apps, app)
		}
		sort.Strings(apps)
		for _, app := range apps {
			s := rep.AppStats[app]
			fmt.Printf("  %s: %d回 成功率:%.0f%% 平均:%.1f秒\n", app, s.Count, s.SuccessRate*100, s.AvgDuration)
		}
	}

	if len(rep.TopUsed) > 0 {
		fmt.Println("\n--- よく使うワークフロー Top5 ---")
		for _, item := range rep.TopUsed {
			fmt.Printf("  %s: %d回 成功率:%.0f%%\n", item.Name, item.ExecutionCount, item.SuccessRate*100)
		}
	}

	if len(rep.TopFailures) > 0 {
		fmt.Println("\n--- 失敗が多いワークフロー Top5 ---")
		for _, item := range rep.TopFailures {
			fmt.Printf("  %s: 失敗%d回 成功率:%.0f%%\n", item.Name, item.FailureCount, item.SuccessRate*100)
		}
	}

	if len(rep.Suggestions) > 0 {
		fmt.Printf("\n--- 改善提案 (%d件) ---\n", len(rep.Suggestions))
		for _, s := range rep.Suggestions {
			icon, ok := priorityIcons[s.Priority]
			if !ok {
				icon = "!"
			}
			auto := ""
			if s.AutoApplicable {
				auto = " [自動適用可]"
			}
			fmt.Printf("  [%s] %s: %s%s\n", icon, s.Name, s.Text, auto)
		}
	}
}

func printProcessedCount(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	fmt.Printf("\n処理済みキャプチャ: %d件\n", count)
}

func printRecoveryPatterns(path string) {
	reliable := recovery.NewLearner(path).GetReliablePatterns()
	if len(reliable) == 0 {
		return
	}
	fmt.Printf("\n--- 学習済みリカバリパターン (%d件) ---\n", len(reliable))
	if len(reliable) > 5 {
		reliable = reliable[:5]
	}
	for _, p := range reliable {
		app := p.AppName
		if app == "" {
			app = "*"
		}
		fmt.Printf("  %s@%s → %s (成功率:%.0f%%, %d件)\n",
			p.ErrorCode, app, p.RecoveryAction, p.SuccessRate*100, p.SampleCount)
	}
}
