// internal/llm/providers/openai/presets.go
package openai

import "github.com/participadf/ouvidoria/internal/llm"

// hostedEndpoints are OpenAI-compatible services selectable by provider name.
// GENERATOR_BASE_URL still overrides the default endpoint.
var hostedEndpoints = map[string]string{
	"openrouter":   "https://openrouter.ai/api/v1",
	"grok":         "https://api.x.ai/v1",
	"qwen":         "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"githubmodels": "https://models.inference.ai.azure.com",
	"glm":          "https://open.bigmodel.cn/api/paas/v4",
	"google":       "https://generativelanguage.googleapis.com/v1beta/openai",
}

func init() {
	for name, baseURL := range hostedEndpoints {
		name, baseURL := name, baseURL
		llm.Register(name, func() llm.Provider {
			return &Provider{name: name, defaultBaseURL: baseURL}
		})
	}
}
