package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/capture"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/config"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/daemon"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/extract"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/pipeline"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/refine"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/report"
)

func newWatchCmd(configFile *string) *cobra.Command {
	var background bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "常時学習モード（新規キャプチャの自動検出・学習）",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.LoadAgent(*configFile)
			if err != nil {
				return err
			}
			adapter, err := newOracle(ctx, cfg)
			if err != nil {
				return err
			}
			watcher, err := capture.NewWatcher(cfg.ScreenshotDir, capture.AgentProcessedLog)
			if err != nil {
				return err
			}
			defer watcher.Close()
			st, fb, err := openStores(cfg.WorkflowDir)
			if err != nil {
				return err
			}

			var (
				metrics  *daemon.Metrics
				analyzer extract.Analyzer = adapter
			)
			if addr := os.Getenv("PIPELINE_METRICS_ADDR"); addr != "" {
				metrics = daemon.NewMetrics()
				if srv := metrics.Serve(addr); srv != nil {
					defer srv.Close()
				}
				analyzer = metrics.InstrumentAnalyzer(analyzer)
			}

			ex := extract.New(watcher, st, analyzer, extract.Options{MinConfidence: cfg.MinConfidence})
			learner := daemon.NewLearner(ex, refine.New(st, fb), report.NewGenerator(st, fb),
				daemon.LearnerOptions{Metrics: metrics, Events: watcher.Events()})

			fmt.Println("常時学習モード起動")
			fmt.Printf("  監視先: %s\n", cfg.ScreenshotDir)
			fmt.Printf("  ポーリング間隔: %d秒\n", int(daemon.DefaultPollInterval.Seconds()))
			fmt.Printf("  リファイン間隔: %dサイクル\n", daemon.DefaultRefineEvery)
			fmt.Println("  停止: Ctrl+C")
			fmt.Println()

			if background {
				done := make(chan struct{})
				go func() {
					learner.Run(ctx)
					close(done)
				}()
				fmt.Println("[background] バックグラウンドで常時学習を起動しました")
				<-ctx.Done()
				learner.Stop()
				select {
				case <-done:
				case <-time.After(5 * time.Second):
				}
			} else {
				learner.Run(ctx)
			}
			fmt.Println("\n停止しました")
			return nil
		},
	}

	cmd.Flags().BoolVar(&background, "background", false, "バックグラウンド起動")
	return cmd
}

func newPipelineCmd(configFile *string) *cobra.Command {
	var (
		watchDir string
		provider string
		model    string
		once     bool
	)

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "スキルパイプライン（キャプチャからSKILL.mdを自動生成）",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.LoadAgent(*configFile)
			if err != nil {
				return err
			}
			pcfg, err := config.LoadPipeline(*configFile)
			if err != nil {
				return err
			}
			if watchDir != "" {
				pcfg.WatchDir = watchDir
			}
			if provider != "" {
				pcfg.AIProvider = provider
			}
			if model != "" {
				pcfg.AIModel = model
			}

			client, err := providersClient(ctx, cfg, pcfg.AIProvider, pcfg.AIModel)
			if err != nil {
				return err
			}
			watcher, err := capture.NewWatcher(pcfg.WatchDir, capture.PipelineProcessedLog)
			if err != nil {
				return err
			}
			defer watcher.Close()

			metrics := daemon.NewMetrics()
			if srv := metrics.Serve(pcfg.MetricsAddr); srv != nil {
				defer srv.Close()
			}

			pl := pipeline.New(watcher, oracle.NewAdapter(client), pipeline.NewSkillWriter(pcfg.SkillsDir),
				pipeline.Options{
					SessionGap:    float64(pcfg.SessionGap),
					SessionMax:    pcfg.SessionMax,
					MinConfidence: pcfg.MinConfidence,
					PollInterval:  time.Duration(pcfg.PollSec * float64(time.Second)),
					Guard:         daemon.NewResourceGuard(float64(pcfg.CPULimit), float64(pcfg.MemLimitMB), pcfg.WatchDir),
					Cleanup:       daemon.NewCleanupManager(pcfg.WatchDir),
					Metrics:       metrics,
				})

			if once {
				pl.RunOnce(ctx)
				return nil
			}
			pl.Run(ctx)
			return nil
		},
	}

	cmd.Flags().StringVar(&watchDir, "watch-dir", "", "監視ディレクトリ")
	cmd.Flags().StringVar(&provider, "provider", "", "AIプロバイダ (gemini/openai/azure)")
	cmd.Flags().StringVar(&model, "model", "", "AIモデル")
	cmd.Flags().BoolVar(&once, "once", false, "1サイクルだけ実行して終了")
	return cmd
}
