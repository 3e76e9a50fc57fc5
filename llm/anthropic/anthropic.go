// Package anthropic adapts Anthropic's Messages API to llm.Client, with a
// streaming variant.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/coursetutor/ragdebate/llm"
	"github.com/coursetutor/ragdebate/ragerr"
)

const defaultModel = "claude-sonnet-4-5-20250929"

const defaultMaxTokens = 4096

// Client implements llm.Client for Claude models.
type Client struct {
	apiKey    string
	modelName string
	sdk       *anthropicsdk.Client
}

// New constructs a Client. An empty modelName uses defaultModel.
func New(apiKey, modelName string) *Client {
	if modelName == "" {
		modelName = defaultModel
	}
	sdk := anthropicsdk.NewClient(option.WithAPIKey(apiKey))
	return &Client{apiKey: apiKey, modelName: modelName, sdk: &sdk}
}

// Generate implements llm.Client.
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: anthropic API key is required", ragerr.ErrFatal)
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.modelName),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.HasTemp {
		params.Temperature = anthropicsdk.Float(req.Temperature)
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", translateError(err)
	}

	var out string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			out += tb.Text
		}
	}
	return out, nil
}

// GenerateStream implements llm.Client using the SDK's native SSE streaming.
func (c *Client) GenerateStream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: anthropic API key is required", ragerr.ErrFatal)
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.modelName),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.HasTemp {
		params.Temperature = anthropicsdk.Float(req.Temperature)
	}

	sdkStream := c.sdk.Messages.NewStreaming(ctx, params)

	return func(yield func(llm.Chunk, error) bool) {
		defer sdkStream.Close()

		for sdkStream.Next() {
			event := sdkStream.Current()
			delta, ok := event.AsAny().(anthropicsdk.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropicsdk.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			if !yield(llm.Chunk{Text: text.Text}, nil) {
				return
			}
		}
		if err := sdkStream.Err(); err != nil {
			yield(llm.Chunk{}, translateError(err))
		}
	}, nil
}

func translateError(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return fmt.Errorf("%w: %s", ragerr.ErrRateLimited, ragerr.RateLimitMessage("anthropic"))
		case 500, 502, 503, 529:
			return fmt.Errorf("%w: %s", ragerr.ErrTransient, apiErr.Error())
		}
	}
	return fmt.Errorf("%w: %s", ragerr.ErrFatal, err.Error())
}
