// Package openai adapts OpenAI's Chat Completions API to llm.Client. The
// same Client also backs llm/cerebras and llm/custom via an alternate
// BaseURL, since both are OpenAI-compatible endpoints.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/coursetutor/ragdebate/llm"
	"github.com/coursetutor/ragdebate/ragerr"
)

const defaultModel = "gpt-4o"

// Client implements llm.Client against any OpenAI-compatible endpoint.
type Client struct {
	apiKey    string
	modelName string
	baseURL   string
	provider  string
}

// New constructs a Client. An empty baseURL uses the official OpenAI
// endpoint. Errors are labelled "openai", or "openai-compatible" when a
// baseURL is given (as for Cerebras and custom endpoints).
func New(apiKey, modelName, baseURL string) *Client {
	if modelName == "" {
		modelName = defaultModel
	}
	provider := "openai"
	if baseURL != "" {
		provider = "openai-compatible"
	}
	return &Client{apiKey: apiKey, modelName: modelName, baseURL: baseURL, provider: provider}
}

func (c *Client) sdk() openaisdk.Client {
	opts := []option.RequestOption{option.WithAPIKey(c.apiKey)}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	return openaisdk.NewClient(opts...)
}

func (c *Client) params(req llm.Request) openaisdk.ChatCompletionNewParams {
	p := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(c.modelName),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage(req.Prompt),
		},
	}
	if req.HasTemp {
		p.Temperature = openaisdk.Float(req.Temperature)
	}
	return p
}

// Generate implements llm.Client.
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: %s API key is required", ragerr.ErrFatal, c.provider)
	}

	client := c.sdk()
	resp, err := client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return "", c.translateError(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream implements llm.Client using the SDK's native SSE streaming.
func (c *Client) GenerateStream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: %s API key is required", ragerr.ErrFatal, c.provider)
	}

	client := c.sdk()
	sdkStream := client.Chat.Completions.NewStreaming(ctx, c.params(req))

	return func(yield func(llm.Chunk, error) bool) {
		defer sdkStream.Close()

		for sdkStream.Next() {
			chunk := sdkStream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			if !yield(llm.Chunk{Text: text}, nil) {
				return
			}
		}
		if err := sdkStream.Err(); err != nil {
			yield(llm.Chunk{}, c.translateError(err))
		}
	}, nil
}

func (c *Client) translateError(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return fmt.Errorf("%w: %s", ragerr.ErrRateLimited, ragerr.RateLimitMessage(c.provider))
		case 500, 502, 503:
			return fmt.Errorf("%w: %s", ragerr.ErrTransient, apiErr.Error())
		}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") {
		return fmt.Errorf("%w: %s", ragerr.ErrTransient, err.Error())
	}
	return fmt.Errorf("%w: %s", ragerr.ErrFatal, err.Error())
}
