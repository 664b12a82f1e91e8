package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/capture"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/config"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/extract"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle/providers"
)

func newLearnCmd(configFile *string) *cobra.Command {
	var (
		jsonDir       string
		workflowDir   string
		model         string
		minConfidence float64
		segmentsOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "learn",
		Short: "キャプチャJSONからワークフロー抽出",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAgent(*configFile)
			if err != nil {
				return err
			}
			if jsonDir == "" {
				jsonDir = cfg.ScreenshotDir
			}
			if workflowDir == "" {
				workflowDir = cfg.WorkflowDir
			}

			fmt.Printf("学習開始: %s\n", jsonDir)
			fmt.Printf("保存先: %s\n", workflowDir)

			watcher, err := capture.NewWatcher(jsonDir, capture.AgentProcessedLog)
			if err != nil {
				return err
			}
			defer watcher.Close()
			st, _, err := openStores(workflowDir)
			if err != nil {
				return err
			}

			if segmentsOnly {
				ex := extract.New(watcher, st, nil, extract.Options{MinConfidence: minConfidence})
				segments := ex.BuildSegments()
				fmt.Printf("\nセグメント数: %d\n", len(segments))
				for i, seg := range segments {
					fmt.Printf("  [%d] %s (%d操作) %s ~ %s\n",
						i+1, seg.AppName, len(seg.Steps), seg.StartTime, seg.EndTime)
				}
				return nil
			}

			client, err := providers.NewWithProvider(cmd.Context(), cfg, cfg.Provider, pickModel(cfg, model))
			if err != nil {
				return err
			}
			ex := extract.New(watcher, st, oracle.NewAdapter(client), extract.Options{MinConfidence: minConfidence})
			workflows := ex.ExtractAll(cmd.Context())

			fmt.Printf("\n抽出完了: %d ワークフロー\n", len(workflows))
			for _, wf := range workflows {
				fmt.Printf("  - %s (confidence: %.2f, %dステップ)\n", wf.Name, wf.Confidence, len(wf.Steps))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&jsonDir, "json-dir", "", "キャプチャJSONディレクトリ")
	cmd.Flags().StringVar(&workflowDir, "workflow-dir", "", "ワークフロー保存先")
	cmd.Flags().StringVar(&model, "model", "", "AIモデル名")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0.5, "最低confidence")
	cmd.Flags().BoolVar(&segmentsOnly, "segments-only", false, "セグメント分割のみ（AI分析なし）")
	return cmd
}

func pickModel(cfg *config.AgentConfig, override string) string {
	if override != "" {
		return override
	}
	return cfg.Model()
}

func newListCmd(configFile *string) *cobra.Command {
	var (
		workflowDir string
		query       string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "保存済みワークフロー一覧",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAgent(*configFile)
			if err != nil {
				return err
			}
			if workflowDir == "" {
				workflowDir = cfg.WorkflowDir
			}
			st, fb, err := openStores(workflowDir)
			if err != nil {
				return err
			}

			workflows := st.ListAll()
			if len(workflows) == 0 {
				fmt.Println("保存済みワークフローはありません")
				return nil
			}

			fmt.Printf("ワークフロー一覧 (%d件):\n\n", len(workflows))
			for _, wf := range workflows {
				tags := "-"
				if len(wf.Tags) > 0 {
					tags = strings.Join(wf.Tags, ", ")
				}
				fmt.Printf("  ID: %s\n", wf.WorkflowID)
				fmt.Printf("  名前: %s\n", wf.Name)
				fmt.Printf("  説明: %s\n", wf.Description)
				fmt.Printf("  アプリ: %s\n", wf.AppName)
				fmt.Printf("  ステップ数: %d\n", len(wf.Steps))
				fmt.Printf("  タグ: %s\n", tags)
				fmt.Printf("  confidence: %.2f\n", wf.Confidence)
				fmt.Printf("  ステータス: %s (実行:%d回)\n", wf.Status, wf.ExecutionCount)
				fmt.Printf("  作成日: %s\n", wf.CreatedAt)
				if wf.ParentID != "" {
					fmt.Printf("  バリアント元: %s\n", wf.ParentID)
				}
				fmt.Println()
			}

			if query != "" {
				results := st.Search(query, fb)
				fmt.Printf("\n検索結果 '%s': %d件\n", query, len(results))
				for _, wf := range results {
					fmt.Printf("  - %s: %s\n", wf.WorkflowID, wf.Name)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workflowDir, "workflow-dir", "", "ワークフローディレクトリ")
	cmd.Flags().StringVarP(&query, "query", "q", "", "キーワード検索")
	return cmd
}
