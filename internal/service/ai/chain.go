package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// ChainGenerator runs the prompt through an eino chat template + chat model chain.
type ChainGenerator struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewChainGenerator compiles the chain around chatModel.
func NewChainGenerator(ctx context.Context, chatModel model.ChatModel) (*ChainGenerator, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage("{prompt}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChainGenerator{chain: runnable}, nil
}

func (g *ChainGenerator) Generate(ctx context.Context, userText string) (string, error) {
	response, err := g.chain.Invoke(ctx, map[string]any{
		"prompt": BuildPrompt(userText),
	})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", errors.New("blank chain response")
	}
	return strings.TrimSpace(response.Content), nil
}
