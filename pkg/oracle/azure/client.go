// Package azure implements the oracle client on an Azure OpenAI deployment.
package azure

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/errors"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
)

// jsonOnlyInstruction nudges deployments without a JSON response mode.
const jsonOnlyInstruction = "出力は必ずJSONオブジェクトのみとし、説明文やコードフェンスを含めないでください。"

// Options configure the client.
type Options struct {
	APIKey       string
	Endpoint     string
	DeploymentID string
	MaxTokens    int
	Temperature  float32
}

// Client calls an Azure OpenAI chat deployment.
type Client struct {
	api  *azopenai.Client
	opts Options
}

// New builds a client. Key, endpoint, and deployment ID are all required.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New(errors.CodeMissingAPIKey, "oracle", "AZURE_OPENAI_KEY is not set", nil)
	}
	if opts.Endpoint == "" || opts.DeploymentID == "" {
		return nil, errors.New(errors.CodeConfigurationInvalid, "oracle",
			"AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_DEPLOYMENT_ID are required", nil)
	}

	keyCredential := azcore.NewKeyCredential(opts.APIKey)
	api, err := azopenai.NewClientWithKeyCredential(opts.Endpoint, keyCredential, nil)
	if err != nil {
		return nil, errors.New(errors.CodeConfigurationInvalid, "oracle", "azure openai client creation failed", err)
	}
	return &Client{api: api, opts: opts}, nil
}

// Name implements oracle.Client.
func (c *Client) Name() string { return "azure" }

// Complete implements oracle.Client. System text and the JSON-only
// instruction are folded into the user message; the deployment decides how
// to honor them.
func (c *Client) Complete(ctx context.Context, req oracle.Request) (string, error) {
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + prompt
	}
	if req.ForceJSON {
		prompt = jsonOnlyInstruction + "\n\n" + prompt
	}

	chatOpts := azopenai.ChatCompletionsOptions{
		DeploymentName: to.Ptr(c.opts.DeploymentID),
		Messages: []azopenai.ChatRequestMessageClassification{
			&azopenai.ChatRequestUserMessage{
				Content: azopenai.NewChatRequestUserMessageContent(prompt),
			},
		},
	}
	if req.MaxTokens > 0 {
		chatOpts.MaxTokens = to.Ptr(int32(req.MaxTokens))
	} else if c.opts.MaxTokens > 0 {
		chatOpts.MaxTokens = to.Ptr(int32(c.opts.MaxTokens))
	}
	if req.Temperature > 0 {
		chatOpts.Temperature = to.Ptr(req.Temperature)
	} else if c.opts.Temperature > 0 {
		chatOpts.Temperature = to.Ptr(c.opts.Temperature)
	}

	resp, err := c.api.GetChatCompletions(ctx, chatOpts, nil)
	if err != nil {
		return "", mapError(err)
	}
	if len(resp.Choices) > 0 && resp.Choices[0].Message.Content != nil {
		return *resp.Choices[0].Message.Content, nil
	}
	return "", errors.New(errors.CodeOracleUnreachable, "oracle", "no completion received", nil)
}

func mapError(err error) error {
	var respErr *azcore.ResponseError
	if stderrors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusTooManyRequests:
			return errors.New(errors.CodeRateLimited, "oracle", "azure openai rate limited", err)
		case respErr.StatusCode >= http.StatusInternalServerError:
			return errors.New(errors.CodeOracleUnreachable, "oracle", "azure openai unavailable", err)
		}
		return err
	}
	return errors.New(errors.CodeOracleUnreachable, "oracle", "azure openai request failed", err)
}
