// Command ragdebate is a minimal CLI that drives a single debate run
// against an in-memory course corpus and prints each Event as an SSE
// frame to stdout.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/coursetutor/ragdebate/config"
	"github.com/coursetutor/ragdebate/llm"
	"github.com/coursetutor/ragdebate/llm/anthropic"
	"github.com/coursetutor/ragdebate/llm/cerebras"
	"github.com/coursetutor/ragdebate/llm/gemini"
	"github.com/coursetutor/ragdebate/llm/openai"
	"github.com/coursetutor/ragdebate/retrieval/memstore"
	"github.com/coursetutor/ragdebate/stream"
)

func main() {
	query := flag.String("query", "", "the student's question")
	courseID := flag.String("course", "demo-course", "course identifier to scope retrieval to")
	model := flag.String("model", "gemini-2.5-flash", "model name for both base and heavy calls, dispatched by prefix")
	flag.Parse()

	if *query == "" {
		fmt.Fprintln(os.Stderr, "usage: ragdebate -query \"...\" [-course demo-course] [-model gemini-2.5-flash]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	providers := buildProviders(cfg)
	client, err := llm.Select(*model, providers)
	if err != nil {
		log.Fatalf("llm: no provider configured for model %q: %v", *model, err)
	}

	store := seedDemoCorpus(*courseID)

	orch := &stream.Orchestrator{}
	req := stream.Request{
		Query:                     *query,
		CourseID:                  *courseID,
		SessionID:                 "cli-session",
		MaxRounds:                 cfg.DefaultMaxRounds,
		RetrievalQualityThreshold: cfg.RetrievalQualityThresh,
		Store:                     store,
		BaseModel:                 client,
		HeavyModel:                client,
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	for ev, err := range orch.Run(context.Background(), req) {
		if err != nil {
			log.Printf("debate run failed: %v", err)
		}
		if encErr := stream.EncodeTo(w, ev); encErr != nil {
			log.Fatalf("encode event: %v", encErr)
		}
		w.Flush()
	}
}

func buildProviders(cfg config.Config) llm.Providers {
	var providers llm.Providers
	if cfg.GeminiAPIKey != "" {
		providers.Gemini = gemini.New(cfg.GeminiAPIKey, "")
	}
	if cfg.OpenAIAPIKey != "" {
		providers.OpenAI = openai.New(cfg.OpenAIAPIKey, "", "")
	}
	if cfg.AnthropicAPIKey != "" {
		providers.Anthropic = anthropic.New(cfg.AnthropicAPIKey, "")
	}
	if cfg.CerebrasAPIKey != "" {
		providers.Cerebras = cerebras.New(cfg.CerebrasAPIKey, "")
	}
	return providers
}

// seedDemoCorpus builds a tiny in-memory course corpus so the CLI is
// runnable without a live Qdrant instance. Embeddings are a trivial
// bag-of-first-letters vector; good enough to demonstrate the pipeline,
// not a real retrieval system.
func seedDemoCorpus(courseID string) *memstore.Store {
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return toyEmbedding(text), nil
	}
	st := memstore.New(embed)
	for i, doc := range demoDocuments {
		st.Add(memstore.Document{
			CourseID: courseID,
			Content:  doc,
			Vector:   toyEmbedding(doc),
			Source:   fmt.Sprintf("demo-doc:chunk_%d", i),
		})
	}
	return st
}

var demoDocuments = []string{
	"A pointer holds the memory address of a value rather than the value itself.",
	"Garbage collection reclaims memory for objects no longer reachable from any root.",
	"Recursion solves a problem by reducing it to smaller instances of the same problem.",
}

func toyEmbedding(text string) []float32 {
	var v [26]float32
	for _, r := range text {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		} else if r >= 'A' && r <= 'Z' {
			v[r-'A']++
		}
	}
	out := make([]float32, len(v))
	copy(out, v[:])
	return out
}
