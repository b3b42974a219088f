package interview

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soulagent/core"
	interviewevents "soulagent/events/interview"
	"soulagent/events/llm"
	"soulagent/events/session"
	"soulagent/events/stt"
	"soulagent/events/transport"
	"soulagent/events/tts"
	"soulagent/interview"
)

type countingExtractor struct {
	mu    sync.Mutex
	calls []string
}

func (e *countingExtractor) ExtractBiodata(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, sessionID)
	return nil
}

func (e *countingExtractor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type harness struct {
	handler   *InterviewHandler
	extractor *countingExtractor
	in        chan *core.EventPacket
	next      chan *core.EventPacket
	top       chan *core.EventPacket
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	questions, err := interview.NewQuestionSet([]interview.Question{
		{Prompt: "What is your name?", Key: "name"},
		{Prompt: "Where is your dream city?", Key: "city"},
	})
	require.NoError(t, err)

	extractor := &countingExtractor{}
	h, err := NewInterviewHandler(interview.Config{
		SessionID: "s1",
		Script:    interview.DefaultScript(),
		Questions: questions,
		Extractor: extractor,
	}, core.NewNopLogger())
	require.NoError(t, err)

	hs := &harness{
		handler:   h,
		extractor: extractor,
		in:        make(chan *core.EventPacket, 8),
		next:      make(chan *core.EventPacket, 32),
		top:       make(chan *core.EventPacket, 8),
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, h.Initialize(hs.in, hs.next, hs.top, ctx))
	require.NoError(t, h.Start())
	return hs
}

func (hs *harness) send(event core.IEvent) {
	hs.in <- core.NewEventPacket(event, core.EventRelayDestinationNextService, "test")
}

func recv(t *testing.T, ch <-chan *core.EventPacket) core.IEvent {
	t.Helper()
	select {
	case p := <-ch:
		return p.Event
	case <-time.After(time.Second):
		t.Fatal("timed out")
		return nil
	}
}

func TestInterviewHandler_RunsInterview(t *testing.T) {
	hs := newHarness(t)

	hs.send(&session.SessionStartedEvent{SessionID: "s1"})
	assert.Equal(t, interview.DefaultGreeting, recv(t, hs.next).(*tts.TTSSpeakEvent).Text)
	gen := recv(t, hs.next).(*llm.LLMGenerateResponseEvent)
	assert.Equal(t, "What is your name?", gen.Fallback)
	assert.IsType(t, &session.SessionStartedEvent{}, recv(t, hs.next))

	hs.send(&stt.STTFinalOutputEvent{Text: "Ann"})
	assert.Equal(t, "Ann", recv(t, hs.next).(*stt.STTFinalOutputEvent).Text)
	assert.Equal(t, "Okay, I have that your name is Ann.", recv(t, hs.next).(*tts.TTSSpeakEvent).Text)
	answer := recv(t, hs.next).(*interviewevents.AnswerRecordedEvent)
	assert.Equal(t, interviewevents.AnswerRecordedEvent{SessionID: "s1", Key: "name", Value: "Ann", Index: 0, Total: 2}, *answer)
	assert.Equal(t, "Where is your dream city?", recv(t, hs.next).(*llm.LLMGenerateResponseEvent).Fallback)

	hs.send(&transport.TransportTextInputEvent{Text: "Paris"})
	assert.IsType(t, &transport.TransportTextInputEvent{}, recv(t, hs.next))
	assert.Equal(t, "Okay, I have that your city is Paris.", recv(t, hs.next).(*tts.TTSSpeakEvent).Text)
	// The last answer is announced before the completion line.
	assert.Equal(t, "city", recv(t, hs.next).(*interviewevents.AnswerRecordedEvent).Key)
	assert.Equal(t, interview.DefaultCompletion, recv(t, hs.next).(*tts.TTSSpeakEvent).Text)

	done := recv(t, hs.next).(*interviewevents.InterviewCompletedEvent)
	assert.True(t, done.Complete)
	assert.Equal(t, map[string]string{"name": "Ann", "city": "Paris"}, done.Answers)
	assert.Equal(t, []string{"name", "city"}, done.Keys)
	assert.Equal(t, 1, hs.extractor.count())

	// Ending a completed session does not extract again.
	hs.send(&session.SessionEndedEvent{SessionID: "s1", Reason: "hangup"})
	assert.IsType(t, &session.SessionEndedEvent{}, recv(t, hs.next))
	assert.Equal(t, "hangup", recv(t, hs.next).(*core.EndCallEvent).Reason)
	assert.Equal(t, 1, hs.extractor.count())
	assert.Empty(t, hs.top)
}

func TestInterviewHandler_IgnoresTurnsBeforeStart(t *testing.T) {
	hs := newHarness(t)

	hs.send(&stt.STTFinalOutputEvent{Text: "hello?"})
	hs.send(&stt.STTInterimOutputEvent{Text: "hel"})

	assert.IsType(t, &stt.STTFinalOutputEvent{}, recv(t, hs.next))
	assert.IsType(t, &stt.STTInterimOutputEvent{}, recv(t, hs.next))
	assert.Equal(t, 0, hs.handler.Controller().Snapshot().Cursor)
}

func TestInterviewHandler_SessionEndExtractsPartialOnce(t *testing.T) {
	hs := newHarness(t)

	hs.send(&session.SessionStartedEvent{SessionID: "s1"})
	hs.send(&stt.STTFinalOutputEvent{Text: "Ann"})
	hs.send(&session.SessionEndedEvent{SessionID: "s1", Reason: "disconnect"})
	hs.send(&session.SessionEndedEvent{SessionID: "s1", Reason: "disconnect"})

	var completed []*interviewevents.InterviewCompletedEvent
	ended, endCalls := 0, 0
	for ended < 2 {
		switch e := recv(t, hs.next).(type) {
		case *interviewevents.InterviewCompletedEvent:
			require.Zero(t, endCalls, "completion must precede EndCall")
			completed = append(completed, e)
		case *core.EndCallEvent:
			endCalls++
		case *session.SessionEndedEvent:
			ended++
		}
	}

	require.Len(t, completed, 1)
	assert.False(t, completed[0].Complete)
	assert.Equal(t, map[string]string{"name": "Ann"}, completed[0].Answers)
	assert.Equal(t, 1, hs.extractor.count())
	assert.Equal(t, 1, endCalls)
	assert.Empty(t, hs.top)
}

func TestInterviewHandler_GeneratedReplySeesHistory(t *testing.T) {
	hs := newHarness(t)

	hs.send(&session.SessionStartedEvent{SessionID: "s1"})
	for i := 0; i < 3; i++ {
		recv(t, hs.next)
	}
	hs.send(&llm.LLMAssistantTurnEvent{Text: "Ahh, so what should I call you?"})
	hs.send(&stt.STTFinalOutputEvent{Text: "Ann"})

	recv(t, hs.next) // stt final
	recv(t, hs.next) // ack
	recv(t, hs.next) // answer recorded
	gen := recv(t, hs.next).(*llm.LLMGenerateResponseEvent)

	msgs := gen.Context.Messages
	require.Len(t, msgs, 6)
	assert.Equal(t, core.LLMMessage{Role: core.LLMMessageRoleSystem, Message: interview.DefaultInstructions}, msgs[0])
	assert.Equal(t, interview.DefaultGreeting, msgs[1].Message)
	assert.Equal(t, core.LLMMessage{Role: core.LLMMessageRoleAssistant, Message: "Ahh, so what should I call you?"}, msgs[2])
	assert.Equal(t, core.LLMMessage{Role: core.LLMMessageRoleUser, Message: "Ann"}, msgs[3])
	assert.Equal(t, "Okay, I have that your name is Ann.", msgs[4].Message)
	assert.Equal(t, core.LLMMessageRoleSystem, msgs[5].Role)
	assert.Contains(t, msgs[5].Message, "Where is your dream city?")
}

func TestNewInterviewHandler_RequiresQuestions(t *testing.T) {
	_, err := NewInterviewHandler(interview.Config{SessionID: "s1"}, core.NewNopLogger())
	assert.ErrorIs(t, err, interview.ErrNoQuestions)
}
