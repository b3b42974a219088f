package tts

import "soulagent/core"

type TTSOutputEvent struct {
	AudioChunk core.AudioChunk
}

func (e *TTSOutputEvent) GetId() string {
	return "tts.output"
}

// TTSSpeakEvent makes the TTS stage speak Text verbatim, bypassing LLM chunk
// accumulation.
type TTSSpeakEvent struct {
	Text string
}

func (e *TTSSpeakEvent) GetId() string {
	return "tts.speak"
}
