package stt

type STTInterimOutputEvent struct {
	Text string
}

func (e *STTInterimOutputEvent) GetId() string {
	return "stt.interim_output"
}

// STTFinalOutputEvent carries one completed user turn: every finalized
// segment up to the end-of-speech signal, joined.
type STTFinalOutputEvent struct {
	Text string
}

func (e *STTFinalOutputEvent) GetId() string {
	return "stt.final_output"
}
