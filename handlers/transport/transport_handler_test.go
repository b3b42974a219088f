package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soulagent/core"
	interviewevents "soulagent/events/interview"
	"soulagent/events/session"
	"soulagent/events/stt"
	"soulagent/events/transport"
	"soulagent/events/tts"
	"soulagent/protocol"
)

type sentMessage struct {
	msgType protocol.MessageType
	payload interface{}
}

type fakeTransport struct {
	mu       sync.Mutex
	media    chan<- core.MediaChunk
	closed   chan<- string
	ready    chan struct{}
	messages []sentMessage
	audio    []core.AudioChunk
	cleanups int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{ready: make(chan struct{})}
}

func (f *fakeTransport) Init(ctx context.Context) error { return nil }
func (f *fakeTransport) Reset() error                   { return nil }
func (f *fakeTransport) Cleanup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return nil
}

func (f *fakeTransport) StartReceiving(out chan<- core.MediaChunk, closed chan<- string) {
	f.media, f.closed = out, closed
	close(f.ready)
}

func (f *fakeTransport) SendAudio(chunk core.AudioChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, chunk)
	return nil
}

func (f *fakeTransport) SendMessage(msgType protocol.MessageType, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sentMessage{msgType, payload})
	return nil
}

func (f *fakeTransport) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.messages...)
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

func testConfig() TransportConfig {
	cfg := DefaultConfig()
	cfg.SessionID = "s1"
	cfg.Questions = []string{"name", "height"}
	return cfg
}

func TestTransportInputHandler_SessionLifecycle(t *testing.T) {
	svc := newFakeTransport()
	h := NewTransportHandlerWrapper(svc, testConfig(), core.NewNopLogger()).GetInputHandler()

	in := make(chan *core.EventPacket, 4)
	next := make(chan *core.EventPacket, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.Initialize(in, next, make(chan *core.EventPacket, 4), ctx))
	require.NoError(t, h.Start())
	<-svc.ready

	started := recv(t, next).(*session.SessionStartedEvent)
	assert.Equal(t, "s1", started.SessionID)

	msgs := svc.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.MsgSessionReady, msgs[0].msgType)
	assert.Equal(t, protocol.SessionReadyPayload{
		SessionID: "s1", SampleRate: 16000, Channels: 1, Encoding: "linear16", Questions: []string{"name", "height"},
	}, msgs[0].payload)

	pcm := []byte{1, 2}
	svc.media <- core.MediaChunk{Audio: core.AudioChunk{Data: &pcm, SampleRate: 16000, Channels: 1}}
	assert.IsType(t, &transport.TransportAudioInputEvent{}, recv(t, next))

	svc.media <- core.MediaChunk{Text: core.TextChunk{Text: "typed"}}
	assert.Equal(t, "typed", recv(t, next).(*transport.TransportTextInputEvent).Text)

	svc.closed <- "hangup"
	ended := recv(t, next).(*session.SessionEndedEvent)
	assert.Equal(t, "hangup", ended.Reason)
}

func TestTransportOutputHandler_MirrorsToClient(t *testing.T) {
	svc := newFakeTransport()
	h := NewTransportHandlerWrapper(svc, testConfig(), core.NewNopLogger()).GetOutputHandler()

	in := make(chan *core.EventPacket, 8)
	next := make(chan *core.EventPacket, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.Initialize(in, next, make(chan *core.EventPacket, 4), ctx))
	require.NoError(t, h.Start())

	stereo := []byte{10, 0, 20, 0}
	events := []core.IEvent{
		&tts.TTSSpeakEvent{Text: "Hello"},
		&tts.TTSOutputEvent{AudioChunk: core.AudioChunk{Data: &stereo, SampleRate: 16000, Channels: 2, Format: core.PCM}},
		&stt.STTInterimOutputEvent{Text: "An"},
		&stt.STTFinalOutputEvent{Text: "Ann"},
		&interviewevents.AnswerRecordedEvent{SessionID: "s1", Key: "name", Value: "Ann", Index: 0, Total: 2},
		&interviewevents.InterviewCompletedEvent{SessionID: "s1", Complete: false, Answers: map[string]string{"name": "Ann"}, Keys: []string{"name"}},
	}
	for _, e := range events {
		in <- core.NewEventPacket(e, core.EventRelayDestinationNextService, "test")
	}
	for range events {
		recv(t, next)
	}

	assert.Equal(t, []sentMessage{
		{protocol.MsgTranscript, protocol.TranscriptPayload{Role: "assistant", Text: "Hello", Final: true}},
		{protocol.MsgTranscript, protocol.TranscriptPayload{Role: "user", Text: "An", Final: false}},
		{protocol.MsgTranscript, protocol.TranscriptPayload{Role: "user", Text: "Ann", Final: true}},
		{protocol.MsgAnswer, protocol.AnswerPayload{Key: "name", Value: "Ann", Index: 0, Total: 2}},
		{protocol.MsgInterviewComplete, protocol.InterviewCompletePayload{Complete: false, Answers: map[string]string{"name": "Ann"}, Keys: []string{"name"}}},
	}, svc.sent())

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.audio, 1)
	assert.Equal(t, []byte{15, 0}, *svc.audio[0].Data)
	assert.Equal(t, 1, svc.audio[0].Channels)
}

func TestTransportOutputHandler_DoesNotOwnService(t *testing.T) {
	svc := newFakeTransport()
	w := NewTransportHandlerWrapper(svc, testConfig(), core.NewNopLogger())

	require.NoError(t, w.GetOutputHandler().Cleanup())
	require.NoError(t, w.GetInputHandler().Cleanup())
	assert.Equal(t, 1, svc.cleanups)
}
