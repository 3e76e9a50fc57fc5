// Package custom adapts per-course custom model endpoints (model names
// prefixed "custom-") to llm.Client by reusing llm/openai against the
// course's stored base URL and API key. Unlike the other provider
// families, Select cannot route these on its own: the base URL and key
// are course-scoped data, not process configuration, so the caller looks
// them up and constructs the Client directly.
package custom

import (
	"github.com/coursetutor/ragdebate/llm"
	"github.com/coursetutor/ragdebate/llm/openai"
)

// New constructs an llm.Client for a course-specific OpenAI-compatible
// endpoint. modelName is typically the "custom-" prefixed name with the
// prefix stripped before being sent to the endpoint.
func New(apiKey, modelName, baseURL string) llm.Client {
	return openai.New(apiKey, modelName, baseURL)
}
