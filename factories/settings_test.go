package factories

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	openaillm "soulagent/services/openai/llm"
)

func TestDefaultSettingsConfig(t *testing.T) {
	cfg := DefaultSettingsConfig()

	require.NotNil(t, cfg.Session.STT.ServiceConfig.DeepgramConfig)
	assert.Equal(t, "nova-2-general", cfg.Session.STT.ServiceConfig.DeepgramConfig.Model)
	require.NotNil(t, cfg.Session.LLM.ServiceConfig.GroqConfig)
	assert.Equal(t, openaillm.DefaultGroqModel, cfg.Session.LLM.ServiceConfig.GroqConfig.Model)
	require.NotNil(t, cfg.Session.TTS.ServiceConfig.ElevenLabsConfig)
	assert.Equal(t, "Zjz30d9v1e5xCxNVTni6", cfg.Session.TTS.ServiceConfig.ElevenLabsConfig.VoiceID)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 15*time.Minute, cfg.PipelineConfig().Timeout)
}

func TestSettingsConfigFromJSON_Overrides(t *testing.T) {
	cfg, err := SettingsConfigFromJSON([]byte(`{
		"server": {"addr": ":9000"},
		"interview": {"questions_file": "questions.yaml"},
		"storage": {"driver": "postgres", "dsn": "postgres://localhost/soul"},
		"session_timeout_seconds": 60,
		"session": {
			"stt": {"service": {"deepgram": {"language": "en-GB"}}},
			"llm": {"service": {"openai": {"model": "gpt-4o"}}}
		}
	}`))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "questions.yaml", cfg.Interview.QuestionsFile)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, time.Minute, cfg.PipelineConfig().Timeout)

	dg := cfg.Session.STT.ServiceConfig.DeepgramConfig
	assert.Equal(t, "en-GB", dg.Language)
	assert.Equal(t, "nova-2-general", dg.Model)

	assert.Nil(t, cfg.Session.LLM.ServiceConfig.GroqConfig)
	require.NotNil(t, cfg.Session.LLM.ServiceConfig.OpenAIConfig)
	assert.Equal(t, "gpt-4o", cfg.Session.LLM.ServiceConfig.OpenAIConfig.Model)
	assert.True(t, cfg.Session.LLM.ServiceConfig.OpenAIConfig.Streaming)
}

func TestSettingsConfigFromJSON_Errors(t *testing.T) {
	_, err := SettingsConfigFromJSON([]byte(`{`))
	assert.Error(t, err)

	_, err = SettingsConfigFromJSON([]byte(`{"session": {"llm": {"service": {"anthropic": {}}}}}`))
	assert.ErrorContains(t, err, "no known llm provider")
}

func TestSettingsConfig_InjectAPIKeys(t *testing.T) {
	cfg := DefaultSettingsConfig()
	cfg.Session.TTS.FallbackServiceConfigs = []TTSFactoryConfig{defaultTTSService()}
	cfg.Session.TTS.ServiceConfig.ElevenLabsConfig.APIKey = "from-file"

	cfg.InjectAPIKeys(APIKeys{Deepgram: "dg", Groq: "gq", ElevenLabs: "el"})

	assert.Equal(t, "dg", cfg.Session.STT.ServiceConfig.DeepgramConfig.APIKey)
	assert.Equal(t, "gq", cfg.Session.LLM.ServiceConfig.GroqConfig.APIKey)
	assert.Equal(t, "from-file", cfg.Session.TTS.ServiceConfig.ElevenLabsConfig.APIKey)
	assert.Equal(t, "el", cfg.Session.TTS.FallbackServiceConfigs[0].ElevenLabsConfig.APIKey)
}

func TestSettingsConfig_ExtractionLLM(t *testing.T) {
	cfg := DefaultSettingsConfig()
	cfg.InjectAPIKeys(APIKeys{Groq: "gq"})

	ex := cfg.ExtractionLLM()
	require.NotNil(t, ex.GroqConfig)
	assert.False(t, ex.GroqConfig.Streaming)
	assert.Equal(t, "gq", ex.GroqConfig.APIKey)
	// The session config is untouched.
	assert.True(t, cfg.Session.LLM.ServiceConfig.GroqConfig.Streaming)

	svc, err := BuildOpenAIService(ex)
	require.NoError(t, err)
	assert.NotNil(t, svc)

	_, err = BuildOpenAIService(LLMFactoryConfig{})
	assert.Error(t, err)
}
