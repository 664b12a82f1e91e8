// Package cli assembles the agent command tree: learning, replay,
// autonomous execution, reporting and the always-on daemons.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/logger"
)

// NewRootCmd builds the agent command tree. Flags are bound per
// invocation so tests can build independent trees.
func NewRootCmd() *cobra.Command {
	var verbose bool
	var configFile string

	root := &cobra.Command{
		Use:   "agent",
		Short: "デスクトップ操作の学習・自律再現エージェント",
		Long: "操作履歴キャプチャからワークフローを学習し、目標テキストや\n" +
			"ワークフローIDから操作を自律的に再現するエージェント。",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetVerbose(verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "詳細ログ出力")
	root.PersistentFlags().StringVar(&configFile, "config", "", "設定ファイル (YAML)")

	root.AddCommand(
		newLearnCmd(&configFile),
		newListCmd(&configFile),
		newRunCmd(&configFile),
		newPlayCmd(&configFile),
		newWatchCmd(&configFile),
		newReportCmd(&configFile),
		newStatsCmd(&configFile),
		newPipelineCmd(&configFile),
	)
	return root
}

// Execute runs the CLI until completion or SIGINT/SIGTERM and returns
// the process exit code. Only the fatal configuration conditions produce
// a non-zero exit; execution failures are reported in the output.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
