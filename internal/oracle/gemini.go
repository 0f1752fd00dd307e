package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ashureev/mbti-assistant/internal/domain"
	"google.golang.org/genai"
)

// GeminiCompleter calls the Gemini API.
type GeminiCompleter struct {
	client        *genai.Client
	chatModel     string
	analysisModel string
}

// NewGeminiCompleter creates a completer backed by the Gemini Developer API.
func NewGeminiCompleter(ctx context.Context, apiKey, chatModel, analysisModel string) (*GeminiCompleter, error) {
	if apiKey == "" {
		return nil, newError(KindConfig, errors.New("GEMINI_API_KEY is not configured"))
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return &GeminiCompleter{
		client:        client,
		chatModel:     chatModel,
		analysisModel: analysisModel,
	}, nil
}

func (g *GeminiCompleter) Name() string { return "gemini" }

// Complete implements Completer.
func (g *GeminiCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	contents := make([]*genai.Content, 0, len(p.History)+1)
	for _, t := range p.History {
		role := genai.Role(genai.RoleUser)
		if t.Role == domain.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}
	if p.Input != "" {
		contents = append(contents, genai.NewContentFromText(p.Input, genai.RoleUser))
	}

	temp := p.Temperature
	topP := float32(0.9)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
		Temperature:       &temp,
		TopP:              &topP,
		MaxOutputTokens:   p.MaxTokens,
	}
	if p.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	model := g.chatModel
	if p.Tier == TierAnalysis {
		model = g.analysisModel
	}

	res, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", classifyGemini(err)
	}
	text := res.Text()
	if text == "" {
		return "", newError(KindMalformed, errors.New("gemini returned empty text"))
	}
	return text, nil
}

func classifyGemini(err error) *Error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return newError(kindForStatus(apiErr.Code), err)
	}
	return newError(KindUnavailable, err)
}

// kindForStatus maps a provider HTTP status onto a failure kind.
func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusBadRequest, code == http.StatusUnauthorized,
		code == http.StatusForbidden, code == http.StatusNotFound:
		return KindConfig
	default:
		return KindUnavailable
	}
}
