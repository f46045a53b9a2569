// internal/services/generator_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/participadf/ouvidoria/internal/errors"
	"github.com/participadf/ouvidoria/internal/llm"
	"github.com/participadf/ouvidoria/internal/models"
	"github.com/participadf/ouvidoria/internal/prompt"
	"github.com/participadf/ouvidoria/internal/utils"
)

const (
	upstreamExcerptLen = 300
	healthTimeout      = 5 * time.Second
)

// GeneratorOptions configures calls to the language model.
type GeneratorOptions struct {
	Provider     string
	BaseURL      string
	Model        string
	Temperature  float64
	TopP         float64
	NumCtx       int
	MaxTokens    int
	Timeout      time.Duration
	HistoryLimit int

	// Usage, when set, is told about every successful call.
	Usage UsageRecorder
}

// GeneratorReply is the structured reply recovered from the model.
type GeneratorReply struct {
	Message  string
	Intent   string
	Patch    map[string]interface{}
	Fallback bool
}

// HealthStatus describes whether the generator can serve the configured model.
type HealthStatus struct {
	OK             bool     `json:"ok"`
	Reachable      bool     `json:"reachable"`
	Provider       string   `json:"provider"`
	BaseURL        string   `json:"base_url,omitempty"`
	Model          string   `json:"model"`
	ModelAvailable bool     `json:"model_available"`
	Models         []string `json:"models,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// GeneratorService sends grounded conversations to the model and turns its output
// into a reply the assistant can trust structurally.
type GeneratorService struct {
	provider llm.Provider
	opts     GeneratorOptions
	metrics  *utils.APIMetrics
	logger   *utils.Logger
}

// NewGeneratorService wraps an initialized provider.
func NewGeneratorService(provider llm.Provider, opts GeneratorOptions, metrics *utils.APIMetrics, logger *utils.Logger) *GeneratorService {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Provider == "" {
		opts.Provider = provider.GetName()
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	if metrics == nil {
		metrics = utils.NewAPIMetrics(nil, logger)
	}
	return &GeneratorService{provider: provider, opts: opts, metrics: metrics, logger: logger}
}

// Model returns the configured model name.
func (g *GeneratorService) Model() string {
	return g.opts.Model
}

// Send runs one generation. Transport and upstream failures come back as AppErrors;
// unreadable output comes back as a fallback reply.
func (g *GeneratorService) Send(ctx context.Context, history []models.ChatTurn, grounding string) (*GeneratorReply, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	turns := prompt.SanitizeHistory(history, g.opts.HistoryLimit)
	msgs := make([]llm.Message, 0, len(turns)+1)
	msgs = append(msgs, llm.Message{Role: models.RoleSystem, Content: grounding})
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}

	req := llm.ChatRequest{
		Messages:    msgs,
		Model:       g.opts.Model,
		Temperature: g.opts.Temperature,
		TopP:        g.opts.TopP,
		NumCtx:      g.opts.NumCtx,
		MaxTokens:   g.opts.MaxTokens,
		JSONFormat:  true,
	}

	start := time.Now()
	resp, err := g.provider.Chat(ctx, req)
	if errors.Is(err, llm.ErrFormatUnsupported) {
		g.logger.Warn("generator rejected structured output, retrying without it", map[string]interface{}{
			"provider": g.opts.Provider,
			"model":    g.opts.Model,
		})
		g.metrics.RecordFormatRetry(g.opts.Provider)
		req.JSONFormat = false
		resp, err = g.provider.Chat(ctx, req)
	}

	tokens := 0
	if resp != nil {
		tokens = resp.TokensUsed
	}
	g.metrics.RecordGeneratorCall(g.opts.Provider, g.opts.Model, tokens, time.Since(start), err)

	if err != nil {
		return nil, g.mapError(err)
	}
	if g.opts.Usage != nil {
		g.opts.Usage.RecordUsage(tokens)
	}
	return g.parseReply(resp.Text), nil
}

func (g *GeneratorService) mapError(err error) error {
	var statusErr *llm.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewUnavailableError(fmt.Sprintf(
			"O gerador de texto (%s, modelo %s) não respondeu em %s. Tente novamente em instantes.",
			g.opts.Provider, g.opts.Model, g.opts.Timeout), err)
	case errors.Is(err, context.Canceled):
		return apperrors.NewUnavailableError("A requisição ao gerador de texto foi cancelada.", err)
	case errors.Is(err, llm.ErrUnreachable):
		return apperrors.NewUnavailableError(fmt.Sprintf(
			"Não foi possível conectar ao gerador de texto (%s) em %s. Verifique se o serviço está em execução e se o modelo %s está disponível.",
			g.opts.Provider, g.opts.BaseURL, g.opts.Model), err)
	case errors.As(err, &statusErr):
		return apperrors.NewUpstreamError(fmt.Sprintf(
			"O gerador de texto respondeu com erro (HTTP %d): %s",
			statusErr.StatusCode, apperrors.Excerpt(strings.TrimSpace(statusErr.Body), upstreamExcerptLen)), err)
	default:
		return apperrors.NewUpstreamError(fmt.Sprintf(
			"Falha ao chamar o gerador de texto: %s",
			apperrors.Excerpt(err.Error(), upstreamExcerptLen)), err)
	}
}

// parseReply validates the recovered object's shape and falls back when it cannot be used.
func (g *GeneratorService) parseReply(text string) *GeneratorReply {
	obj, ok := ExtractObject(text)
	if !ok {
		g.logger.Warn("generator output is not JSON, using fallback", map[string]interface{}{
			"model":  g.opts.Model,
			"length": len(text),
		})
		return FallbackReply()
	}

	rawMsg, hasMsg := obj["assistant_message"]
	rawPatch, hasPatch := obj["draft_patch"]
	if rawMsg == nil {
		hasMsg = false
	}
	if !hasMsg && !hasPatch {
		g.logger.Warn("generator output misses the reply keys, using fallback", map[string]interface{}{
			"model": g.opts.Model,
		})
		return FallbackReply()
	}

	msg := ""
	if hasMsg {
		s, isString := rawMsg.(string)
		if !isString {
			g.logger.Warn("generator assistant_message is not a string, using fallback", map[string]interface{}{
				"model": g.opts.Model,
			})
			return FallbackReply()
		}
		msg = s
	}

	patch, _ := rawPatch.(map[string]interface{})
	if patch == nil {
		patch = map[string]interface{}{}
	}
	intent, _ := obj["intent"].(string)

	return &GeneratorReply{Message: msg, Intent: intent, Patch: patch}
}

// FallbackReply is the deterministic answer used when the model's output is unusable.
func FallbackReply() *GeneratorReply {
	return &GeneratorReply{
		Message:  prompt.FallbackMessage,
		Intent:   string(models.IntentOther),
		Patch:    map[string]interface{}{},
		Fallback: true,
	}
}

// Health probes the backend without failing; the result is informational.
func (g *GeneratorService) Health(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	status := HealthStatus{Provider: g.opts.Provider, BaseURL: g.opts.BaseURL, Model: g.opts.Model}
	names, err := g.provider.ListModels(ctx)
	if err != nil {
		status.Error = apperrors.Excerpt(err.Error(), upstreamExcerptLen)
		return status
	}

	status.Reachable = true
	status.Models = names
	for _, n := range names {
		if n == g.opts.Model || n == g.opts.Model+":latest" {
			status.ModelAvailable = true
			break
		}
	}
	status.OK = status.ModelAvailable
	if !status.ModelAvailable {
		status.Error = fmt.Sprintf("modelo %s não encontrado no gerador", g.opts.Model)
	}
	return status
}
