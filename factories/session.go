package factories

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"soulagent/core"
	interviewhandler "soulagent/handlers/interview"
	llmhandler "soulagent/handlers/llm"
	stthandler "soulagent/handlers/stt"
	transporthandler "soulagent/handlers/transport"
	ttshandler "soulagent/handlers/tts"
	"soulagent/interview"
	deepgramstt "soulagent/services/deepgram/stt"
	elevenlabs "soulagent/services/elevenlabs/tts"
	openaillm "soulagent/services/openai/llm"
)

// SessionTTSConfig bundles TTS handler config with primary and optional fallback service factory configs.
type SessionTTSConfig struct {
	HandlerConfig          ttshandler.TTSConfig `json:"handler"`
	ServiceConfig          TTSFactoryConfig     `json:"service"`
	FallbackServiceConfigs []TTSFactoryConfig   `json:"fallbacks,omitempty"`
}

// BuildHandler constructs a TTSHandler with primary and fallback services wired up.
func (c SessionTTSConfig) BuildHandler(logger *core.Logger) (*ttshandler.TTSHandler, error) {
	primary, err := BuildTTSService(c.ServiceConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("tts primary service: %w", err)
	}
	handler := ttshandler.NewTTSHandler(primary, c.HandlerConfig, logger)
	for i, fbCfg := range c.FallbackServiceConfigs {
		fb, err := BuildTTSService(fbCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("tts fallback[%d]: %w", i, err)
		}
		handler.WithBackupService(fb)
	}
	return handler, nil
}

// SessionSTTConfig bundles STT handler config with primary and optional fallback service factory configs.
type SessionSTTConfig struct {
	HandlerConfig          stthandler.STTConfig `json:"handler"`
	ServiceConfig          STTFactoryConfig     `json:"service"`
	FallbackServiceConfigs []STTFactoryConfig   `json:"fallbacks,omitempty"`
}

// BuildHandler constructs an STTHandler with primary and fallback services wired up.
func (c SessionSTTConfig) BuildHandler(logger *core.Logger) (*stthandler.STTHandler, error) {
	primary, err := BuildSTTService(c.ServiceConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("stt primary service: %w", err)
	}
	handler := stthandler.NewSTTHandler(primary, c.HandlerConfig, logger)
	for i, fbCfg := range c.FallbackServiceConfigs {
		fb, err := BuildSTTService(fbCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("stt fallback[%d]: %w", i, err)
		}
		handler.WithBackupService(fb)
	}
	return handler, nil
}

// SessionLLMConfig bundles LLM handler config with primary and optional fallback service factory configs.
type SessionLLMConfig struct {
	HandlerConfig          llmhandler.LLMHandlerConfig `json:"handler"`
	ServiceConfig          LLMFactoryConfig            `json:"service"`
	FallbackServiceConfigs []LLMFactoryConfig          `json:"fallbacks,omitempty"`
}

// BuildHandler constructs an LLMHandler with primary and fallback services wired up.
func (c SessionLLMConfig) BuildHandler(logger *core.Logger) (*llmhandler.LLMHandler, error) {
	primary, err := BuildLLMService(c.ServiceConfig)
	if err != nil {
		return nil, fmt.Errorf("llm primary service: %w", err)
	}
	handler := llmhandler.NewLLMHandler(primary, c.HandlerConfig, logger)
	for i, fbCfg := range c.FallbackServiceConfigs {
		fb, err := BuildLLMService(fbCfg)
		if err != nil {
			return nil, fmt.Errorf("llm fallback[%d]: %w", i, err)
		}
		handler.WithBackupService(fb)
	}
	return handler, nil
}

// SessionConfig is the per-session pipeline configuration: one provider
// stack plus the transport's output format.
type SessionConfig struct {
	TTS       SessionTTSConfig                 `json:"tts"`
	STT       SessionSTTConfig                 `json:"stt"`
	LLM       SessionLLMConfig                 `json:"llm"`
	Transport transporthandler.TransportConfig `json:"transport"`
}

func defaultSTTService() STTFactoryConfig {
	return STTFactoryConfig{DeepgramConfig: deepgramstt.DefaultConfig()}
}

func defaultLLMService() LLMFactoryConfig {
	groq := openaillm.DefaultGroqConfig()
	return LLMFactoryConfig{GroqConfig: &groq}
}

func defaultTTSService() TTSFactoryConfig {
	el := elevenlabs.DefaultConfig()
	return TTSFactoryConfig{ElevenLabsConfig: &el}
}

// DefaultSessionConfig returns Deepgram STT, Groq LLM and ElevenLabs TTS
// with handler defaults. API keys are injected separately.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TTS: SessionTTSConfig{
			HandlerConfig: ttshandler.DefaultConfig(),
			ServiceConfig: defaultTTSService(),
		},
		STT: SessionSTTConfig{
			HandlerConfig: stthandler.DefaultConfig(),
			ServiceConfig: defaultSTTService(),
		},
		LLM: SessionLLMConfig{
			HandlerConfig: llmhandler.DefaultConfig(),
			ServiceConfig: defaultLLMService(),
		},
		Transport: transporthandler.DefaultConfig(),
	}
}

// SessionConfigFromJSON parses a JSON blob into a SessionConfig on top of
// the defaults. Naming an LLM provider replaces the default Groq one; the
// named provider starts from the default generation settings.
func SessionConfigFromJSON(data []byte) (SessionConfig, error) {
	var peek struct {
		LLM struct {
			Service map[string]json.RawMessage `json:"service"`
		} `json:"llm"`
	}
	if err := sonic.Unmarshal(data, &peek); err != nil {
		return SessionConfig{}, fmt.Errorf("session config: %w", err)
	}

	cfg := DefaultSessionConfig()
	if len(peek.LLM.Service) > 0 {
		cfg.LLM.ServiceConfig = LLMFactoryConfig{}
		for name := range peek.LLM.Service {
			base := openaillm.DefaultGroqConfig()
			base.BaseURL, base.Model = "", ""
			switch name {
			case "openai":
				cfg.LLM.ServiceConfig.OpenAIConfig = &base
			case "groq":
				groq := openaillm.DefaultGroqConfig()
				cfg.LLM.ServiceConfig.GroqConfig = &groq
			case "together":
				cfg.LLM.ServiceConfig.TogetherConfig = &base
			case "deepseek":
				cfg.LLM.ServiceConfig.DeepSeekConfig = &base
			case "openrouter":
				cfg.LLM.ServiceConfig.OpenRouterConfig = &base
			}
		}
	}

	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return SessionConfig{}, fmt.Errorf("session config: %w", err)
	}
	if _, sel := cfg.LLM.ServiceConfig.selected(); sel == nil {
		return SessionConfig{}, errors.New("session config: no known llm provider")
	}
	return cfg, nil
}

// APIKeys holds provider credentials read from the environment.
type APIKeys struct {
	Deepgram   string
	OpenAI     string
	Groq       string
	Together   string
	DeepSeek   string
	OpenRouter string
	ElevenLabs string
}

// InjectAPIKeys applies API credentials to all configured providers (primary
// and fallbacks) where the config does not carry one.
func (c *SessionConfig) InjectAPIKeys(keys APIKeys) {
	injectSTTKeys(&c.STT.ServiceConfig, keys)
	for i := range c.STT.FallbackServiceConfigs {
		injectSTTKeys(&c.STT.FallbackServiceConfigs[i], keys)
	}
	InjectLLMKeys(&c.LLM.ServiceConfig, keys)
	for i := range c.LLM.FallbackServiceConfigs {
		InjectLLMKeys(&c.LLM.FallbackServiceConfigs[i], keys)
	}
	injectTTSKeys(&c.TTS.ServiceConfig, keys)
	for i := range c.TTS.FallbackServiceConfigs {
		injectTTSKeys(&c.TTS.FallbackServiceConfigs[i], keys)
	}
}

func injectSTTKeys(cfg *STTFactoryConfig, keys APIKeys) {
	if cfg.DeepgramConfig != nil && cfg.DeepgramConfig.APIKey == "" {
		cfg.DeepgramConfig.APIKey = keys.Deepgram
	}
}

// InjectLLMKeys applies the relevant API key to a single LLMFactoryConfig.
func InjectLLMKeys(cfg *LLMFactoryConfig, keys APIKeys) {
	name, c := cfg.selected()
	if c == nil || c.APIKey != "" {
		return
	}
	switch name {
	case "openai":
		c.APIKey = keys.OpenAI
	case "groq":
		c.APIKey = keys.Groq
	case "together":
		c.APIKey = keys.Together
	case "deepseek":
		c.APIKey = keys.DeepSeek
	case "openrouter":
		c.APIKey = keys.OpenRouter
	}
}

func injectTTSKeys(cfg *TTSFactoryConfig, keys APIKeys) {
	if cfg.ElevenLabsConfig != nil && cfg.ElevenLabsConfig.APIKey == "" {
		cfg.ElevenLabsConfig.APIKey = keys.ElevenLabs
	}
}

// SessionDeps are the process-wide collaborators every interview uses.
type SessionDeps struct {
	Definition *interview.Definition
	Messages   interview.MessageLogger
	Extractor  interview.BiodataExtractor
	Status     interview.StatusRecorder
	Observer   interview.Observer
}

// BuildHandlers constructs the pipeline for one session, in order:
//
//	TransportInput → STT → Interview → LLM → TTS → TransportOutput
func (c SessionConfig) BuildHandlers(job Job, deps SessionDeps, logger *core.Logger) ([]core.IHandler, error) {
	if deps.Definition == nil {
		deps.Definition = interview.DefaultDefinition()
	}
	logger = logger.With(map[string]interface{}{"session_id": job.SessionID})

	sttHandler, err := c.STT.BuildHandler(logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	llmHandler, err := c.LLM.BuildHandler(logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	ttsHandler, err := c.TTS.BuildHandler(logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	interviewHandler, err := interviewhandler.NewInterviewHandler(interview.Config{
		SessionID: job.SessionID,
		Script:    deps.Definition.Script,
		Questions: deps.Definition.Questions,
		Messages:  deps.Messages,
		Extractor: deps.Extractor,
		Status:    deps.Status,
		Observer:  deps.Observer,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	transportConfig := c.Transport
	transportConfig.SessionID = job.SessionID
	transportConfig.Questions = deps.Definition.Questions.Keys()
	wrapper := transporthandler.NewTransportHandlerWrapper(job.Transport, transportConfig, logger)

	return []core.IHandler{
		wrapper.GetInputHandler(),
		sttHandler,
		interviewHandler,
		llmHandler,
		ttsHandler,
		wrapper.GetOutputHandler(),
	}, nil
}

// HandlerBuilder returns a builder that assembles BuildHandlers for each job.
func (c SessionConfig) HandlerBuilder(deps SessionDeps, logger *core.Logger) HandlerBuilder {
	return func(job Job, base *core.Logger) ([]core.IHandler, error) {
		if base == nil {
			base = logger
		}
		return c.BuildHandlers(job, deps, base)
	}
}
