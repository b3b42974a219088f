package factories

import (
	"errors"

	"soulagent/core"
	stthandler "soulagent/handlers/stt"
	deepgramstt "soulagent/services/deepgram/stt"
)

// STTFactoryConfig holds provider-specific configs for STT service construction.
type STTFactoryConfig struct {
	DeepgramConfig *deepgramstt.DeepgramConfig `json:"deepgram,omitempty"`
}

// BuildSTTService constructs an ISTTService from the given factory config.
func BuildSTTService(config STTFactoryConfig, logger *core.Logger) (stthandler.ISTTService, error) {
	if config.DeepgramConfig != nil {
		// The service fills defaults into the config it is given.
		cfg := *config.DeepgramConfig
		return deepgramstt.NewDeepgramSTTService(&cfg, logger), nil
	}
	return nil, errors.New("STTFactoryConfig: no provider config specified")
}
