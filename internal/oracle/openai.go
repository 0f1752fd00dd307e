package oracle

import (
	"context"
	"errors"
	"strings"

	"github.com/ashureev/mbti-assistant/internal/domain"
	"github.com/sashabaranov/go-openai"
)

// OpenAICompleter calls any OpenAI-compatible chat completions endpoint.
type OpenAICompleter struct {
	client        *openai.Client
	chatModel     string
	analysisModel string
}

// NewOpenAICompleter creates a completer. baseURL may be empty.
func NewOpenAICompleter(apiKey, baseURL, chatModel, analysisModel string) (*OpenAICompleter, error) {
	if apiKey == "" {
		return nil, newError(KindConfig, errors.New("OPENAI_API_KEY is not configured"))
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAICompleter{
		client:        openai.NewClientWithConfig(cfg),
		chatModel:     chatModel,
		analysisModel: analysisModel,
	}, nil
}

func (o *OpenAICompleter) Name() string { return "openai" }

// Complete implements Completer.
func (o *OpenAICompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(p.History)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	for _, t := range p.History {
		role := openai.ChatMessageRoleUser
		if t.Role == domain.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	if p.Input != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.Input})
	}

	model := o.chatModel
	if p.Tier == TierAnalysis {
		model = o.analysisModel
	}
	req := openai.ChatCompletionRequest{
		Model:               model,
		Messages:            msgs,
		Temperature:         p.Temperature,
		MaxCompletionTokens: int(p.MaxTokens),
	}
	if p.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", newError(KindMalformed, errors.New("openai returned no content"))
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAI(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return newError(kindForStatus(apiErr.HTTPStatusCode), err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return newError(kindForStatus(reqErr.HTTPStatusCode), err)
	}
	return newError(KindUnavailable, err)
}
