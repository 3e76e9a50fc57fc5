// Package llm provides a uniform sync/streaming interface over multiple
// LLM provider families.
package llm

import (
	"context"
	"strings"

	"github.com/coursetutor/ragdebate/ragerr"
)

// Request is a single-shot generation request. Temperature is optional:
// it is sent only when HasTemp is true (zero included); otherwise the
// provider default applies.
type Request struct {
	Prompt      string
	Temperature float64
	HasTemp     bool
}

// Chunk is one ordered piece of a streamed response. Concatenating Text
// across all chunks of a stream reconstructs the full response.
type Chunk struct {
	Text string
}

// Stream is a finite, non-restartable, ordered sequence of chunks. Yield
// returns false to stop iteration early; implementations must release
// provider resources (close the underlying SDK stream) when that happens.
type Stream func(yield func(Chunk, error) bool)

// Client is the capability-set abstraction over a single LLM provider:
// generate and generate_stream, nothing else. Variants are Gemini,
// OpenAI, Anthropic, Cerebras, and OpenAI-compatible custom endpoints;
// dispatch between them is by model-name prefix, see Select.
type Client interface {
	// Generate performs a synchronous single-shot completion.
	//
	// Returns ragerr.ErrRateLimited wrapping a human-readable message
	// (never retried), ragerr.ErrTransient for 5xx/overloaded responses
	// (retryable by the caller), or ragerr.ErrFatal otherwise.
	Generate(ctx context.Context, req Request) (string, error)

	// GenerateStream performs a streaming completion. The returned Stream
	// must be consumed to completion or abandoned; ctx cancellation (by
	// the caller stopping iteration) must propagate to the provider call.
	GenerateStream(ctx context.Context, req Request) (Stream, error)
}

// Select dispatches to a provider family by model-name prefix: gemini,
// gpt, claude, or qwen/cerebras, defaulting to Gemini when the prefix is
// unrecognized. Names prefixed "custom-" are routed by the caller to
// llm/custom directly (Select does not have access to the per-course API
// key needed there).
func Select(modelName string, providers Providers) (Client, error) {
	name := strings.ToLower(modelName)
	switch {
	case strings.HasPrefix(name, "claude"):
		if providers.Anthropic == nil {
			return nil, ragerr.ErrFatal
		}
		return providers.Anthropic, nil
	case strings.HasPrefix(name, "gpt"):
		if providers.OpenAI == nil {
			return nil, ragerr.ErrFatal
		}
		return providers.OpenAI, nil
	case strings.HasPrefix(name, "qwen"), strings.HasPrefix(name, "cerebras"):
		if providers.Cerebras == nil {
			return nil, ragerr.ErrFatal
		}
		return providers.Cerebras, nil
	case strings.HasPrefix(name, "gemini"):
		if providers.Gemini == nil {
			return nil, ragerr.ErrFatal
		}
		return providers.Gemini, nil
	default:
		if providers.Gemini != nil {
			return providers.Gemini, nil
		}
		return nil, ragerr.ErrFatal
	}
}

// Providers bundles one constructed Client per recognized family. A nil
// field means that family is unconfigured; Select returns ragerr.ErrFatal
// if the request resolves to a nil field.
type Providers struct {
	Gemini    Client
	OpenAI    Client
	Anthropic Client
	Cerebras  Client
}
