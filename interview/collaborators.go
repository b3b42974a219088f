package interview

import (
	"context"

	"soulagent/core"
)

// OutputChannel is how the controller talks to the user. Speak says a fixed
// line verbatim; RequestGeneratedReply asks the language model to phrase the
// next question in the persona's voice.
type OutputChannel interface {
	Speak(ctx context.Context, text string) error
	RequestGeneratedReply(ctx context.Context, instruction string) error
}

// MessageLogger persists conversation lines for a session.
type MessageLogger interface {
	LogMessage(ctx context.Context, sessionID string, role core.LLMMessageRole, text string) error
}

// BiodataExtractor turns a session's logged conversation into a profile.
type BiodataExtractor interface {
	ExtractBiodata(ctx context.Context, sessionID string) error
}

// StatusRecorder persists how far an interview got before it was handed to
// extraction, so a partial session is never mistaken for a finished one.
type StatusRecorder interface {
	RecordStatus(ctx context.Context, sessionID string, answered, total int) error
}

// AnswerListener is told about each recorded answer before the interview
// moves on. It runs with the controller locked and must not call back into
// it.
type AnswerListener interface {
	OnAnswer(ctx context.Context, answer TurnResult, total int)
}

// Observer receives controller milestones, typically for metrics.
type Observer interface {
	AnswerRecorded(key string)
	TurnIgnored(reason string)
	InterviewFinished(complete bool)
	OutputFailed(op string)
	CollaboratorFailed(name string)
}

type nopObserver struct{}

func (nopObserver) AnswerRecorded(string)     {}
func (nopObserver) TurnIgnored(string)        {}
func (nopObserver) InterviewFinished(bool)    {}
func (nopObserver) OutputFailed(string)       {}
func (nopObserver) CollaboratorFailed(string) {}
