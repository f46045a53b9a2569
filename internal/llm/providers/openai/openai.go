// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/participadf/ouvidoria/internal/llm"
)

func init() {
	llm.Register("openai", func() llm.Provider {
		return &Provider{}
	})
}

// Provider serves any OpenAI-compatible chat endpoint (Ollama /v1, vLLM, LM Studio).
type Provider struct {
	name           string
	defaultBaseURL string

	client       openai.Client
	defaultModel string
	temperature  float64
	topP         float64
	maxTokens    int
}

func (p *Provider) Initialize(cfg llm.Config) error {
	if cfg.Model == "" {
		return errors.New("openai-compatible model not configured")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = p.defaultBaseURL
	}
	apiKey := cfg.APIKey
	if apiKey == "" && p.defaultBaseURL != "" {
		return fmt.Errorf("%s requires an API key", p.GetName())
	}
	if apiKey == "" {
		// local servers ignore the key but the SDK always sends one
		apiKey = "local"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}

	p.client = openai.NewClient(opts...)
	p.defaultModel = cfg.Model
	p.temperature = cfg.Temperature
	p.topP = cfg.TopP
	p.maxTokens = cfg.MaxTokens
	return nil
}

func (p *Provider) GetName() string {
	if p.name != "" {
		return p.name
	}
	return "openai"
}

func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    msgs,
		Temperature: openai.Float(first(req.Temperature, p.temperature)),
		TopP:        openai.Float(first(req.TopP, p.topP)),
	}
	if n := req.MaxTokens; n > 0 || p.maxTokens > 0 {
		if n == 0 {
			n = p.maxTokens
		}
		params.MaxTokens = openai.Int(int64(n))
	}
	if req.JSONFormat {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.mapError(err, req.JSONFormat)
	}
	if len(resp.Choices) == 0 {
		return nil, &llm.StatusError{Provider: p.GetName(), StatusCode: http.StatusBadGateway, Body: "empty choices"}
	}

	return &llm.ChatResponse{
		Text:         resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		PromptTokens: int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TokensUsed:   int(resp.Usage.TotalTokens),
		ModelName:    resp.Model,
	}, nil
}

func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, p.mapError(err, false)
	}
	names := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

func (p *Provider) mapError(err error, jsonFormat bool) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		statusErr := &llm.StatusError{Provider: p.GetName(), StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
		if jsonFormat && apiErr.StatusCode == http.StatusBadRequest &&
			strings.Contains(strings.ToLower(apiErr.Error()), "response_format") {
			return fmt.Errorf("%w: %w", llm.ErrFormatUnsupported, statusErr)
		}
		return statusErr
	}
	return llm.ClassifyTransport(err)
}

func first(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}
