// internal/llm/providers/anthropic/anthropic.go
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/participadf/ouvidoria/internal/llm"
)

const defaultMaxTokens = 1024

// conversationOpener stands in for the first user turn; the Messages API rejects an empty list.
const conversationOpener = "Olá."

func init() {
	llm.Register("anthropic", func() llm.Provider {
		return &Provider{}
	})
}

// Messager is the slice of the SDK client the provider uses.
type Messager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Provider calls the Anthropic Messages API. JSON output is requested through the instructions only.
type Provider struct {
	messages     Messager
	models       *anthropic.ModelService
	defaultModel string
	temperature  float64
	maxTokens    int
}

func (p *Provider) Initialize(cfg llm.Config) error {
	if cfg.APIKey == "" {
		return errors.New("anthropic API key not configured")
	}
	if cfg.Model == "" {
		return errors.New("anthropic model not configured")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	p.messages = &client.Messages
	p.models = &client.Models
	p.defaultModel = cfg.Model
	p.temperature = cfg.Temperature
	p.maxTokens = cfg.MaxTokens
	if p.maxTokens <= 0 {
		p.maxTokens = defaultMaxTokens
	}
	return nil
}

// WithMessager swaps the SDK transport, for tests.
func (p *Provider) WithMessager(m Messager) *Provider {
	p.messages = m
	return p
}

func (p *Provider) GetName() string {
	return "anthropic"
}

func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	var system []anthropic.TextBlockParam
	var msgs []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			if len(msgs) == 0 {
				msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(conversationOpener)))
			}
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != anthropic.MessageParamRoleUser {
		msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(conversationOpener)))
	}

	resp, err := p.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		System:      system,
		Messages:    msgs,
		Temperature: anthropic.Float(firstNonZero(req.Temperature, p.temperature)),
	})
	if err != nil {
		return nil, mapError(err)
	}

	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}

	return &llm.ChatResponse{
		Text:         sb.String(),
		FinishReason: string(resp.StopReason),
		PromptTokens: int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		TokensUsed:   int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		ModelName:    string(resp.Model),
	}, nil
}

func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	if p.models == nil {
		return []string{p.defaultModel}, nil
	}
	page, err := p.models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, mapError(err)
	}
	names := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

func mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &llm.StatusError{Provider: "anthropic", StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
	}
	return llm.ClassifyTransport(err)
}

func firstNonZero(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}
