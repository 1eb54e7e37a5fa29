package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	apiKeyEnvVariable = "VERIFLOW_OPENAI_KEY"
	modelEnvVariable  = "VERIFLOW_OPENAI_MODEL"
	defaultModel      = "gpt-4o-mini"
)

// Completer abstracts the chat-completion call so the analyzer can be tested
// without network access.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAIClient calls the hosted completion API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClientFromEnv builds a client from environment configuration.
// Returns an error when no API key is configured; callers typically fall back
// to running without the AI module.
func NewOpenAIClientFromEnv() (*OpenAIClient, error) {
	key := strings.TrimSpace(os.Getenv(apiKeyEnvVariable))
	if key == "" {
		return nil, errors.New(apiKeyEnvVariable + " is not set")
	}
	model := strings.TrimSpace(os.Getenv(modelEnvVariable))
	if model == "" {
		model = defaultModel
	}
	return &OpenAIClient{client: openai.NewClient(key), model: model}, nil
}

// Complete runs one chat-completion round trip.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("completion call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
