package transport

import "soulagent/core"

type TransportConfig struct {
	SessionID      string                   `json:"-"`
	OutSampleRate  int                      `json:"out_sample_rate"`
	OutChannels    int                      `json:"out_channels"`
	OutAudioFormat core.AudioEncodingFormat `json:"out_audio_format"`
	// Questions is announced to the client in session_ready.
	Questions []string `json:"-"`
	// SendInterim mirrors interim STT text as non-final transcripts.
	SendInterim bool `json:"send_interim"`
}

// DefaultConfig sends 16 kHz mono linear PCM.
func DefaultConfig() TransportConfig {
	return TransportConfig{
		OutSampleRate:  16000,
		OutChannels:    1,
		OutAudioFormat: core.PCM,
		SendInterim:    true,
	}
}
