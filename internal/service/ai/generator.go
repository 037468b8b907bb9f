package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/zhouzirui/haven/backend/internal/config"
	"github.com/zhouzirui/haven/backend/internal/metrics"
)

// FallbackReply is substituted whenever generation fails.
const FallbackReply = "Sorry, I am having trouble responding right now."

// Generator produces one supportive reply for a user message.
type Generator interface {
	Generate(ctx context.Context, userText string) (string, error)
}

// BuildPrompt frames the service as a supportive mental-health assistant and
// embeds the user's literal text.
func BuildPrompt(userText string) string {
	return fmt.Sprintf(
		"You are a mental health support chatbot. A user said: \"%s\". How would you respond in a caring, supportive way?",
		userText,
	)
}

// NewGenerator builds the provider selected by cfg.Provider.
func NewGenerator(ctx context.Context, cfg config.GenerationConfig, arkCfg config.AIConfig) (Generator, error) {
	var (
		gen Generator
		err error
	)

	switch cfg.Provider {
	case "", "cohere":
		gen = NewCohereClient(cfg.APIKey, cfg.Model, cfg.MaxTokens, WithEndpoint(cfg.Endpoint), WithTimeout(cfg.Timeout))
	case "openai":
		gen = NewOpenAIGenerator(cfg.APIKey, cfg.OpenAIBaseURL, cfg.Model, cfg.MaxTokens)
	case "ark":
		chatModel, mErr := arkCfg.NewChatModel(ctx)
		if mErr != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", mErr)
		}
		gen, err = NewChainGenerator(ctx, chatModel)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	provider := cfg.Provider
	if provider == "" {
		provider = "cohere"
	}
	return Instrument(gen, provider), nil
}

type instrumented struct {
	next     Generator
	provider string
}

// Instrument records call outcome and latency for next under provider.
func Instrument(next Generator, provider string) Generator {
	return &instrumented{next: next, provider: provider}
}

func (g *instrumented) Generate(ctx context.Context, userText string) (string, error) {
	start := time.Now()
	reply, err := g.next.Generate(ctx, userText)
	metrics.ObserveGeneration(g.provider, err == nil, time.Since(start))
	return reply, err
}
