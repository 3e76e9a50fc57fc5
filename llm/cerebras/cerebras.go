// Package cerebras adapts Cerebras's OpenAI-compatible inference API to
// llm.Client by reusing llm/openai against Cerebras's base URL. Select
// routes model names prefixed "qwen" or "cerebras" here.
package cerebras

import (
	"github.com/coursetutor/ragdebate/llm"
	"github.com/coursetutor/ragdebate/llm/openai"
)

const defaultBaseURL = "https://api.cerebras.ai/v1"

const defaultModel = "qwen-3-32b"

// New constructs an llm.Client bound to Cerebras's chat-completions
// endpoint. An empty modelName uses defaultModel.
func New(apiKey, modelName string) llm.Client {
	if modelName == "" {
		modelName = defaultModel
	}
	return openai.New(apiKey, modelName, defaultBaseURL)
}
