package factories

import (
	"errors"

	"soulagent/core"
	ttshandler "soulagent/handlers/tts"
	elevenlabs "soulagent/services/elevenlabs/tts"
)

// TTSFactoryConfig holds provider-specific configs for TTS service construction.
type TTSFactoryConfig struct {
	ElevenLabsConfig *elevenlabs.ElevenLabsTTSConfig `json:"elevenlabs,omitempty"`
}

// BuildTTSService constructs a TTSService from the given factory config.
func BuildTTSService(config TTSFactoryConfig, logger *core.Logger) (ttshandler.TTSService, error) {
	if config.ElevenLabsConfig != nil {
		return elevenlabs.NewElevenLabsTTS(*config.ElevenLabsConfig, logger), nil
	}
	return nil, errors.New("TTSFactoryConfig: no provider config specified")
}
