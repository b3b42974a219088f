package factories

import (
	"errors"

	llmhandler "soulagent/handlers/llm"
	openaillm "soulagent/services/openai/llm"
)

// LLMFactoryConfig holds provider-specific configs for LLM service construction.
// Set exactly one provider config; the rest should be left nil.
// Every provider speaks the OpenAI-compatible protocol and is served by the
// same OpenAI service with a provider base URL.
type LLMFactoryConfig struct {
	OpenAIConfig     *openaillm.Config `json:"openai,omitempty"`
	GroqConfig       *openaillm.Config `json:"groq,omitempty"`
	TogetherConfig   *openaillm.Config `json:"together,omitempty"`
	DeepSeekConfig   *openaillm.Config `json:"deepseek,omitempty"`
	OpenRouterConfig *openaillm.Config `json:"openrouter,omitempty"`
}

type llmProvider struct {
	baseURL string
	model   string
}

var llmProviders = map[string]llmProvider{
	"openai":     {"", "gpt-4o-mini"},
	"groq":       {openaillm.GroqBaseURL, openaillm.DefaultGroqModel},
	"together":   {"https://api.together.xyz/v1", "meta-llama/Llama-3.3-70B-Instruct-Turbo"},
	"deepseek":   {"https://api.deepseek.com/v1", "deepseek-chat"},
	"openrouter": {"https://openrouter.ai/api/v1", "meta-llama/llama-3.3-70b-instruct"},
}

// selected returns the single configured provider.
func (c LLMFactoryConfig) selected() (string, *openaillm.Config) {
	switch {
	case c.OpenAIConfig != nil:
		return "openai", c.OpenAIConfig
	case c.GroqConfig != nil:
		return "groq", c.GroqConfig
	case c.TogetherConfig != nil:
		return "together", c.TogetherConfig
	case c.DeepSeekConfig != nil:
		return "deepseek", c.DeepSeekConfig
	case c.OpenRouterConfig != nil:
		return "openrouter", c.OpenRouterConfig
	}
	return "", nil
}

// BuildOpenAIService constructs the OpenAI-compatible service selected by
// config, filling in the provider's base URL and model when unset.
func BuildOpenAIService(config LLMFactoryConfig) (*openaillm.OpenAILLMService, error) {
	name, cfg := config.selected()
	if cfg == nil {
		return nil, errors.New("LLMFactoryConfig: no provider config specified")
	}
	c := *cfg
	p := llmProviders[name]
	if c.BaseURL == "" {
		c.BaseURL = p.baseURL
	}
	if c.Model == "" {
		c.Model = p.model
	}
	return openaillm.NewOpenAILLMService(c), nil
}

// BuildLLMService is BuildOpenAIService typed for the LLM handler.
func BuildLLMService(config LLMFactoryConfig) (llmhandler.LLMService, error) {
	return BuildOpenAIService(config)
}
