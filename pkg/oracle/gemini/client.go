// Package gemini implements the oracle client on the Gemini API.
package gemini

import (
	"context"
	stderrors "errors"
	"net/http"

	"google.golang.org/genai"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/domain/errors"
	"github.com/kazuyaegusa/8891-screen-shot/pkg/oracle"
)

const defaultModel = "gemini-2.5-flash"

// Options configure the client.
type Options struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Client calls the Gemini generate-content API.
type Client struct {
	api  *genai.Client
	opts Options
}

// New builds a client. The API key is required.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New(errors.CodeMissingAPIKey, "oracle", "GEMINI_API_KEY is not set", nil)
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}

	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.New(errors.CodeConfigurationInvalid, "oracle", "gemini client creation failed", err)
	}
	return &Client{api: api, opts: opts}, nil
}

// Name implements oracle.Client.
func (c *Client) Name() string { return "gemini" }

// Complete implements oracle.Client.
func (c *Client) Complete(ctx context.Context, req oracle.Request) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.ForceJSON {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	} else if c.opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.opts.MaxTokens)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	} else if c.opts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(c.opts.Temperature)
	}

	resp, err := c.api.Models.GenerateContent(ctx, c.opts.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", mapError(err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New(errors.CodeOracleUnreachable, "oracle", "no completion received", nil)
	}
	return text, nil
}

func mapError(err error) error {
	var apiErr genai.APIError
	if stderrors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return errors.New(errors.CodeRateLimited, "oracle", "gemini rate limited", err)
		case apiErr.Code >= http.StatusInternalServerError:
			return errors.New(errors.CodeOracleUnreachable, "oracle", "gemini unavailable", err)
		}
		return err
	}
	return errors.New(errors.CodeOracleUnreachable, "oracle", "gemini request failed", err)
}
