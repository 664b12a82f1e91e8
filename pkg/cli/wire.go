package cli

import (
	"context"
	"path/filepath"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/config"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/execute"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/observe"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle/providers"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/probe"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/recovery"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/store"
)

// openStores opens the workflow store and its feedback store. Failure
// here is the unwritable-store-dir fatal condition.
func openStores(workflowDir string) (*store.WorkflowStore, *store.FeedbackStore, error) {
	st, err := store.NewWorkflowStore(workflowDir)
	if err != nil {
		return nil, nil, err
	}
	fb, err := store.NewFeedbackStore(filepath.Join(workflowDir, "feedback"))
	if err != nil {
		return nil, nil, err
	}
	return st, fb, nil
}

// newOracle builds the configured oracle adapter. Missing credentials
// surface as the missing-API-key fatal condition; callers that can run
// degraded handle the error themselves.
func newOracle(ctx context.Context, cfg *config.AgentConfig) (*oracle.Adapter, error) {
	client, err := providers.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return oracle.NewAdapter(client), nil
}

// providersClient builds an oracle client for an explicit provider and
// model, as the pipeline command does when its knobs differ from the
// agent defaults.
func providersClient(ctx context.Context, cfg *config.AgentConfig, provider, model string) (oracle.Client, error) {
	return providers.NewWithProvider(ctx, cfg, provider, model)
}

// newExecutor assembles the execution loop. A nil adapter runs without
// verification, vision fallback or autonomous selection.
func newExecutor(cfg *config.AgentConfig, st *store.WorkflowStore, fb *store.FeedbackStore, adapter *oracle.Adapter) *execute.Executor {
	p := probe.NewExecProbe(cfg.ProbeCommand, nil)
	obs := observe.NewObserver(cfg.ScreenshotDir, p, nil)
	learner := recovery.NewLearner(filepath.Join(cfg.WorkflowDir, recovery.PatternsFile))

	var orc execute.Oracle
	if adapter != nil {
		orc = adapter
	}
	return execute.New(cfg, st, fb, orc, p, obs, learner, execute.Options{})
}
