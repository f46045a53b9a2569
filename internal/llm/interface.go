// internal/llm/interface.go
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Message is one chat message sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the provider-neutral chat call.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	NumCtx      int       `json:"num_ctx,omitempty"`
	// JSONFormat asks the backend to constrain output to a JSON object.
	JSONFormat bool `json:"json_format,omitempty"`
}

// ChatResponse is the provider-neutral reply.
type ChatResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
}

// Config is what a provider needs to reach its backend.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	TopP        float64
	NumCtx      int
	MaxTokens   int
}

// Provider is implemented by every generator backend.
type Provider interface {
	Initialize(cfg Config) error

	GetName() string

	// Chat runs one non-streaming completion.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ListModels reports the models the backend can serve.
	ListModels(ctx context.Context) ([]string, error)
}

// ProviderFactory creates an uninitialized provider.
type ProviderFactory func() Provider

var (
	providersMu sync.RWMutex
	providers   = make(map[string]ProviderFactory)
)

// Register makes a provider available by name; providers call it from init.
func Register(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// GetProvider creates and initializes the named provider.
func GetProvider(name string, cfg Config) (Provider, error) {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	provider := factory()
	if err := provider.Initialize(cfg); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", name, err)
	}
	return provider, nil
}

// ListProviders returns the registered provider names, sorted.
func ListProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
