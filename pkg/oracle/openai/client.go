// Package openai implements the oracle client on the OpenAI chat API.
package openai

import (
	"context"
	stderrors "errors"
	"net/http"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/errors"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
)

const defaultModel = "gpt-5"

// Options configure the client.
type Options struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Client calls the OpenAI chat completions API.
type Client struct {
	api  *gopenai.Client
	opts Options
}

// New builds a client. The API key is required.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New(errors.CodeMissingAPIKey, "oracle", "OPENAI_API_KEY is not set", nil)
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	return &Client{api: gopenai.NewClient(opts.APIKey), opts: opts}, nil
}

// Name implements oracle.Client.
func (c *Client) Name() string { return "openai" }

// Complete implements oracle.Client.
func (c *Client) Complete(ctx context.Context, req oracle.Request) (string, error) {
	messages := make([]gopenai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, gopenai.ChatCompletionMessage{
			Role:    gopenai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, gopenai.ChatCompletionMessage{
		Role:    gopenai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := gopenai.ChatCompletionRequest{
		Model:    c.opts.Model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	} else if c.opts.MaxTokens > 0 {
		chatReq.MaxTokens = c.opts.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	} else if c.opts.Temperature > 0 {
		chatReq.Temperature = c.opts.Temperature
	}
	if req.ForceJSON {
		chatReq.ResponseFormat = &gopenai.ChatCompletionResponseFormat{
			Type: gopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", mapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(errors.CodeOracleUnreachable, "oracle", "no completion received", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// mapError classifies API errors so the retry layer can tell transient
// failures from permanent ones.
func mapError(err error) error {
	var apiErr *gopenai.APIError
	if stderrors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return errors.New(errors.CodeRateLimited, "oracle", "openai rate limited", err)
		case apiErr.HTTPStatusCode >= http.StatusInternalServerError:
			return errors.New(errors.CodeOracleUnreachable, "oracle", "openai unavailable", err)
		}
		return err
	}
	return errors.New(errors.CodeOracleUnreachable, "oracle", "openai request failed", err)
}
