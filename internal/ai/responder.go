// Package ai wraps the OpenAI chat completion API behind the responder
// interface the reply worker consumes.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"gitlab.com/sayabot/api/crm-lead-router/internal/config"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
)

// defaultPrompt is used when a tenant has no prompt of its own.
const defaultPrompt = "Ты вежливый ассистент отдела продаж. Отвечай кратко, на языке клиента, и уточняй детали заявки."

// OpenAIResponder produces assistant replies through the OpenAI API.
type OpenAIResponder struct {
	client openai.Client
	model  string
}

// NewOpenAIResponder creates a responder from the AI config.
func NewOpenAIResponder(cfg config.AIConfig) *OpenAIResponder {
	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &OpenAIResponder{client: client, model: cfg.Model}
}

// Respond turns the stored conversation history into a completion call.
// The caller owns the deadline on ctx.
func (r *OpenAIResponder) Respond(ctx context.Context, systemPrompt string, history []model.ConversationMessage) (string, error) {
	prompt := systemPrompt
	if prompt == "" {
		prompt = defaultPrompt
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, openai.SystemMessage(prompt))
	for _, m := range history {
		switch m.Role {
		case model.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case model.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    r.model,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
