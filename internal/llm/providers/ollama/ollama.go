// internal/llm/providers/ollama/ollama.go
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/participadf/ouvidoria/internal/llm"
)

const maxErrorBody = 4096

func init() {
	llm.Register("ollama", func() llm.Provider {
		return &Provider{baseURL: "http://localhost:11434"}
	})
}

// Provider talks to Ollama's native API.
type Provider struct {
	baseURL      string
	client       *http.Client
	defaultModel string
	temperature  float64
	topP         float64
	numCtx       int
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  chatOptions   `json:"options"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumCtx      int     `json:"num_ctx,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (p *Provider) Initialize(cfg llm.Config) error {
	if cfg.BaseURL != "" {
		p.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Model == "" {
		return errors.New("ollama model not configured")
	}
	p.defaultModel = cfg.Model
	p.temperature = cfg.Temperature
	p.topP = cfg.TopP
	p.numCtx = cfg.NumCtx
	// deadlines come from the caller's context
	p.client = &http.Client{}
	return nil
}

func (p *Provider) GetName() string {
	return "ollama"
}

func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := chatRequest{
		Model:    model,
		Messages: req.Messages,
		Stream:   false,
		Options: chatOptions{
			Temperature: pick(req.Temperature, p.temperature),
			TopP:        pick(req.TopP, p.topP),
			NumCtx:      pickInt(req.NumCtx, p.numCtx),
			NumPredict:  req.MaxTokens,
		},
	}
	if req.JSONFormat {
		body.Format = "json"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &llm.StatusError{Provider: "ollama", StatusCode: resp.StatusCode, Body: string(raw)}
		if req.JSONFormat && (resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity) {
			return nil, fmt.Errorf("%w: %w", llm.ErrFormatUnsupported, statusErr)
		}
		return nil, statusErr
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, llm.ClassifyTransport(fmt.Errorf("decode ollama response: %w", err))
	}

	return &llm.ChatResponse{
		Text:         out.Message.Content,
		FinishReason: out.DoneReason,
		PromptTokens: out.PromptEvalCount,
		OutputTokens: out.EvalCount,
		TokensUsed:   out.PromptEvalCount + out.EvalCount,
		ModelName:    out.Model,
	}, nil
}

// ListModels reads /api/tags.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, llm.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &llm.StatusError{Provider: "ollama", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var tags struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		names = append(names, name)
	}
	return names, nil
}

func pick(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}

func pickInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}
