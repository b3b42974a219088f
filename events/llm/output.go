package llm

import "soulagent/core"

// LLMGenerateResponseEvent asks the LLM stage to generate and stream a reply
// for Context. Fallback is spoken instead when generation yields no text.
type LLMGenerateResponseEvent struct {
	Context  core.LLMContext `json:"context"`
	Fallback string          `json:"fallback,omitempty"`
}

func (*LLMGenerateResponseEvent) GetId() string {
	return "llm.generate_response"
}

type LLMResponseStartedEvent struct{}

func (e *LLMResponseStartedEvent) GetId() string {
	return "llm.response_started"
}

type LLMResponseChunkEvent struct {
	Chunk string // A chunk of the LLM response text.
}

func (e *LLMResponseChunkEvent) GetId() string {
	return "llm.response_chunk"
}

type LLMResponseCompletedEvent struct {
	FullText string // The complete LLM response text.
}

func (e *LLMResponseCompletedEvent) GetId() string {
	return "llm.response_completed"
}

// LLMAssistantTurnEvent re-enters the pipeline from the top after a reply was
// generated so upstream stages (the interview stage keeps the chat history)
// see the assistant's turn.
type LLMAssistantTurnEvent struct {
	Text string
}

func (e *LLMAssistantTurnEvent) GetId() string {
	return "llm.assistant_turn"
}
