package protocol

import "encoding/json"

// MessageType names a JSON text frame on the session socket. Binary frames
// carry raw audio in the negotiated format and have no envelope.
type MessageType string

const (
	// Client -> agent
	MsgUserText    MessageType = "user_text"
	MsgAudioFormat MessageType = "audio_format"
	MsgHangup      MessageType = "hangup"

	// Agent -> client
	MsgSessionReady      MessageType = "session_ready"
	MsgTranscript        MessageType = "transcript"
	MsgAnswer            MessageType = "answer"
	MsgInterviewComplete MessageType = "interview_complete"
	MsgError             MessageType = "error"
)

// Envelope is the outer JSON wrapper for all text frames.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Client -> agent payloads ---

// UserTextPayload is a typed user turn.
type UserTextPayload struct {
	Text string `json:"text"`
}

// AudioFormatPayload describes the audio the client sends from now on.
type AudioFormatPayload struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"` // linear16, mulaw or alaw
}

type HangupPayload struct {
	Reason string `json:"reason,omitempty"`
}

// --- Agent -> client payloads ---

// SessionReadyPayload is sent once the pipeline runs. The audio fields
// describe the agent's binary output frames.
type SessionReadyPayload struct {
	SessionID  string   `json:"session_id"`
	SampleRate int      `json:"sample_rate"`
	Channels   int      `json:"channels"`
	Encoding   string   `json:"encoding"`
	Questions  []string `json:"questions,omitempty"`
}

// TranscriptPayload mirrors one spoken or typed line.
type TranscriptPayload struct {
	Role  string `json:"role"` // user or assistant
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type AnswerPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Index int    `json:"index"`
	Total int    `json:"total"`
}

type InterviewCompletePayload struct {
	Complete bool              `json:"complete"`
	Answers  map[string]string `json:"answers"`
	Keys     []string          `json:"keys"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
