package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/config"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/workflow"
)

func newRunCmd(configFile *string) *cobra.Command {
	var (
		workflowID string
		dryRun     bool
		maxSteps   int
		delay      float64
		noConfirm  bool
	)

	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "目標テキストから自律実行",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := args[0]
			cfg, err := config.LoadAgent(*configFile)
			if err != nil {
				return err
			}
			st, fb, err := openStores(cfg.WorkflowDir)
			if err != nil {
				return err
			}
			adapter, err := newOracle(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			execCtx := workflow.NewExecutionContext(goal)
			execCtx.WorkflowID = workflowID
			execCtx.DryRun = dryRun
			execCtx.MaxSteps = maxSteps
			execCtx.StepDelay = time.Duration(delay * float64(time.Second))
			execCtx.ConfirmDangerous = !noConfirm

			fmt.Printf("目標: %s\n", goal)
			fmt.Printf("dry-run: %v\n", dryRun)
			fmt.Printf("最大ステップ: %d\n\n", maxSteps)

			result := newExecutor(cfg, st, fb, adapter).Run(cmd.Context(), execCtx)
			printRunResult(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&workflowID, "workflow-id", "", "使用するワークフローID")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "実際に操作しない")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 50, "最大ステップ数")
	cmd.Flags().Float64Var(&delay, "delay", 1.0, "ステップ間待機秒数")
	cmd.Flags().BoolVar(&noConfirm, "no-confirm", false, "危険操作の確認をスキップ")
	return cmd
}

func newPlayCmd(configFile *string) *cobra.Command {
	var (
		dryRun bool
		delay  float64
		params []string
	)

	cmd := &cobra.Command{
		Use:   "play <workflow_id>",
		Short: "ワークフロー直接再生",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			cfg, err := config.LoadAgent(*configFile)
			if err != nil {
				return err
			}
			st, fb, err := openStores(cfg.WorkflowDir)
			if err != nil {
				return err
			}
			// Replay works without an oracle; verification and the
			// vision fallback just switch off.
			adapter, oerr := newOracle(cmd.Context(), cfg)
			if oerr != nil {
				fmt.Println("APIキー未設定: 検証なしで再生します")
				adapter = nil
			}

			fmt.Printf("ワークフロー再生: %s\n", id)
			fmt.Printf("dry-run: %v\n\n", dryRun)

			result := newExecutor(cfg, st, fb, adapter).
				PlayWorkflow(cmd.Context(), id, dryRun, delay, parseParams(params))
			printPlayResult(result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "実際に操作しない")
	cmd.Flags().Float64Var(&delay, "delay", 1.0, "ステップ間待機秒数")
	cmd.Flags().StringArrayVar(&params, "param", nil, "パラメータ (key=value)")
	return cmd
}

func parseParams(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	params := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, _ := strings.Cut(p, "=")
		params[key] = value
	}
	return params
}

func printRunResult(res *workflow.ExecutionResult) {
	rule := strings.Repeat("=", 50)
	fmt.Println("\n" + rule)
	fmt.Printf("結果: %s\n", yesNo(res.Success, "成功", "失敗"))
	fmt.Printf("ステップ数: %d\n", res.StepsExecuted)
	fmt.Printf("  成功: %d\n", res.StepsSucceeded)
	fmt.Printf("  失敗: %d\n", res.StepsFailed)
	fmt.Printf("目標達成: %s\n", yesNo(res.GoalAchieved, "はい", "いいえ"))
	fmt.Printf("実行時間: %.1f秒\n", res.TotalTimeSeconds)
	if res.Error != "" {
		fmt.Printf("エラー: %s\n", res.Error)
	}
	fmt.Println(rule)
}

func printPlayResult(res *workflow.ExecutionResult) {
	rule := strings.Repeat("=", 50)
	fmt.Println("\n" + rule)
	fmt.Printf("結果: %s\n", yesNo(res.Success, "成功", "失敗"))
	fmt.Printf("ステップ数: %d (成功: %d, 失敗: %d)\n",
		res.StepsExecuted, res.StepsSucceeded, res.StepsFailed)
	fmt.Printf("実行時間: %.1f秒\n", res.TotalTimeSeconds)
	if res.Error != "" {
		fmt.Printf("エラー: %s\n", res.Error)
	}
	fmt.Println(rule)
}

func yesNo(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
