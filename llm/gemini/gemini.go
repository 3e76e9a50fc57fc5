// Package gemini adapts Google's Gemini API to llm.Client, with a
// streaming variant. Gemini is the default provider family when a model
// name matches no other prefix.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/coursetutor/ragdebate/llm"
	"github.com/coursetutor/ragdebate/ragerr"
)

const defaultModel = "gemini-2.5-flash"

// Client implements llm.Client for Gemini models.
type Client struct {
	apiKey    string
	modelName string
}

// New constructs a Client. An empty modelName uses defaultModel.
func New(apiKey, modelName string) *Client {
	if modelName == "" {
		modelName = defaultModel
	}
	return &Client{apiKey: apiKey, modelName: modelName}
}

func (c *Client) newGenModel(ctx context.Context, req llm.Request) (*genai.Client, *genai.GenerativeModel, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ragerr.ErrFatal, err.Error())
	}
	m := client.GenerativeModel(c.modelName)
	if req.HasTemp {
		t := float32(req.Temperature)
		m.Temperature = &t
	}
	return client, m, nil
}

// Generate implements llm.Client.
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: gemini API key is required", ragerr.ErrFatal)
	}

	client, m, err := c.newGenModel(ctx, req)
	if err != nil {
		return "", err
	}
	defer client.Close()

	resp, err := m.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		var safetyErr *SafetyFilterError
		if errors.As(err, &safetyErr) {
			return "", fmt.Errorf("%w: %s", ragerr.ErrFatal, safetyErr.Error())
		}
		return "", translateError(err)
	}

	return extractText(resp), nil
}

// GenerateStream implements llm.Client using Gemini's native streaming iterator.
func (c *Client) GenerateStream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: gemini API key is required", ragerr.ErrFatal)
	}

	client, m, err := c.newGenModel(ctx, req)
	if err != nil {
		return nil, err
	}

	sdkIter := m.GenerateContentStream(ctx, genai.Text(req.Prompt))

	return func(yield func(llm.Chunk, error) bool) {
		defer client.Close()

		for {
			resp, err := sdkIter.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				yield(llm.Chunk{}, translateError(err))
				return
			}
			text := extractText(resp)
			if text == "" {
				continue
			}
			if !yield(llm.Chunk{Text: text}, nil) {
				return
			}
		}
	}, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			out += string(t)
		}
	}
	return out
}

func translateError(err error) error {
	return fmt.Errorf("%w: %s", ragerr.ErrTransient, err.Error())
}

// SafetyFilterError represents a Gemini safety filter block, surfaced as
// ragerr.ErrFatal (not retried) since the prompt itself must change.
type SafetyFilterError struct {
	Category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.Category
}
