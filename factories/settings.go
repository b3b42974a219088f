package factories

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"

	"soulagent/storage"
	"soulagent/transports/livekit"
)

type ServerConfig struct {
	Addr string `json:"addr"`
}

type InterviewConfig struct {
	// QuestionsFile is a YAML interview definition. Empty uses the built-in
	// Zoey questions.
	QuestionsFile string `json:"questions_file,omitempty"`
}

type LiveKitSettings struct {
	URL             string `json:"url,omitempty"`
	TokenTTLSeconds int    `json:"token_ttl_seconds,omitempty"`
}

// SettingsConfig is the top-level config loaded from settings.json.
type SettingsConfig struct {
	Server    ServerConfig    `json:"server"`
	Session   SessionConfig   `json:"session"`
	Interview InterviewConfig `json:"interview"`
	Storage   storage.Config  `json:"storage"`
	LiveKit   LiveKitSettings `json:"livekit"`
	// Extraction selects the model for biodata extraction. Nil reuses the
	// session's LLM provider.
	Extraction            *LLMFactoryConfig `json:"extraction,omitempty"`
	LogDir                string            `json:"log_dir,omitempty"`
	SessionTimeoutSeconds int               `json:"session_timeout_seconds"`
}

// DefaultSettingsConfig returns a SettingsConfig pre-filled with provider defaults.
func DefaultSettingsConfig() SettingsConfig {
	return SettingsConfig{
		Server:                ServerConfig{Addr: ":8080"},
		Session:               DefaultSessionConfig(),
		Storage:               storage.DefaultConfig(),
		SessionTimeoutSeconds: int(DefaultPipelineConfig().Timeout / time.Second),
	}
}

// SettingsConfigFromJSON parses a JSON blob into a SettingsConfig on top of
// the defaults. The session section is parsed by SessionConfigFromJSON.
func SettingsConfigFromJSON(data []byte) (SettingsConfig, error) {
	var raw struct {
		Session json.RawMessage `json:"session,omitempty"`
	}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}

	cfg := DefaultSettingsConfig()
	if len(raw.Session) > 0 {
		sc, err := SessionConfigFromJSON(raw.Session)
		if err != nil {
			return SettingsConfig{}, fmt.Errorf("settings: %w", err)
		}
		cfg.Session = sc
	}

	var rest struct {
		Server                *ServerConfig     `json:"server"`
		Interview             *InterviewConfig  `json:"interview"`
		Storage               *storage.Config   `json:"storage"`
		LiveKit               *LiveKitSettings  `json:"livekit"`
		Extraction            *LLMFactoryConfig `json:"extraction"`
		LogDir                *string           `json:"log_dir"`
		SessionTimeoutSeconds *int              `json:"session_timeout_seconds"`
	}
	rest.Server, rest.Interview, rest.Storage, rest.LiveKit = &cfg.Server, &cfg.Interview, &cfg.Storage, &cfg.LiveKit
	rest.LogDir, rest.SessionTimeoutSeconds = &cfg.LogDir, &cfg.SessionTimeoutSeconds
	if err := sonic.Unmarshal(data, &rest); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}
	cfg.Extraction = rest.Extraction
	return cfg, nil
}

// SettingsConfigFromFile reads and parses a SettingsConfig from a JSON file.
func SettingsConfigFromFile(path string) (SettingsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettingsConfig(), fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsConfigFromJSON(data)
}

// InjectAPIKeys applies credentials to the session providers and the
// extraction provider.
func (c *SettingsConfig) InjectAPIKeys(keys APIKeys) {
	c.Session.InjectAPIKeys(keys)
	if c.Extraction != nil {
		InjectLLMKeys(c.Extraction, keys)
	}
}

// ExtractionLLM returns the provider used for biodata extraction: a
// non-streaming, deterministic copy of the session provider unless one is
// configured.
func (c SettingsConfig) ExtractionLLM() LLMFactoryConfig {
	if c.Extraction != nil {
		return *c.Extraction
	}
	name, sel := c.Session.LLM.ServiceConfig.selected()
	if sel == nil {
		return defaultLLMService()
	}
	cp := *sel
	cp.Streaming = false
	cp.Temperature = 0
	cp.MaxTokens = 512

	var out LLMFactoryConfig
	switch name {
	case "openai":
		out.OpenAIConfig = &cp
	case "groq":
		out.GroqConfig = &cp
	case "together":
		out.TogetherConfig = &cp
	case "deepseek":
		out.DeepSeekConfig = &cp
	case "openrouter":
		out.OpenRouterConfig = &cp
	}
	return out
}

func (c SettingsConfig) PipelineConfig() PipelineConfig {
	cfg := DefaultPipelineConfig()
	cfg.Timeout = time.Duration(c.SessionTimeoutSeconds) * time.Second
	return cfg
}

// LiveKitConfig combines the settings with credentials from the environment.
func (c SettingsConfig) LiveKitConfig(apiKey, apiSecret string) livekit.Config {
	return livekit.Config{
		URL:       c.LiveKit.URL,
		APIKey:    apiKey,
		APISecret: apiSecret,
		TokenTTL:  time.Duration(c.LiveKit.TokenTTLSeconds) * time.Second,
	}
}
