// Package providers wires the configured provider into an oracle client.
// It sits beside the provider subpackages so that pkg/oracle itself never
// imports them.
package providers

import (
	"context"
	"fmt"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/config"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/errors"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle/azure"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle/gemini"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle/openai"
)

// New builds the client the config selects. Missing credentials surface as
// MISSING_API_KEY, one of the few fatal conditions.
func New(ctx context.Context, cfg *config.AgentConfig) (oracle.Client, error) {
	return NewWithProvider(ctx, cfg, cfg.Provider, cfg.Model())
}

// NewWithProvider overrides the configured provider and model, for callers
// that carry their own provider knobs beside the shared credentials.
func NewWithProvider(ctx context.Context, cfg *config.AgentConfig, provider, model string) (oracle.Client, error) {
	switch provider {
	case config.ProviderAzure:
		deployment := model
		if deployment == "" {
			deployment = cfg.AzureDeploymentID
		}
		return azure.New(azure.Options{
			APIKey:       cfg.AzureOpenAIKey,
			Endpoint:     cfg.AzureOpenAIEndpoint,
			DeploymentID: deployment,
			MaxTokens:    cfg.MaxOutputTokens,
		})
	case config.ProviderOpenAI:
		return openai.New(openai.Options{
			APIKey:    cfg.OpenAIAPIKey,
			Model:     model,
			MaxTokens: cfg.MaxOutputTokens,
		})
	case config.ProviderGemini, "":
		return gemini.New(ctx, gemini.Options{
			APIKey:    cfg.GeminiAPIKey,
			Model:     model,
			MaxTokens: cfg.MaxOutputTokens,
		})
	}
	return nil, errors.New(errors.CodeConfigurationInvalid, "oracle",
		fmt.Sprintf("unknown provider %q", provider), nil)
}
