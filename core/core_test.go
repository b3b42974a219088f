package core

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type answerEvent struct {
	Key string `json:"key"`
}

func (e *answerEvent) GetId() string   { return "test.answer" }
func (e *answerEvent) ExternalOutput() {}

type internalEvent struct{}

func (e *internalEvent) GetId() string { return "test.internal" }

func TestExternalEventHandler_Broadcast(t *testing.T) {
	events := NewExternalEventHandler(NewNopLogger())
	srv := httptest.NewServer(events)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return events.Observers() == 1 }, time.Second, 10*time.Millisecond)

	events.Broadcast("s1", NewEventPacket(&internalEvent{}, EventRelayDestinationNextService, "test"))
	events.Broadcast("s1", NewEventPacket(&answerEvent{Key: "name"}, EventRelayDestinationNextService, "test"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		ID        string      `json:"id"`
		SessionID string      `json:"session_id"`
		Payload   answerEvent `json:"payload"`
	}
	require.NoError(t, sonic.Unmarshal(data, &got))
	assert.Equal(t, "test.answer", got.ID)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "name", got.Payload.Key)

	conn.Close()
	assert.Eventually(t, func() bool { return events.Observers() == 0 }, time.Second, 10*time.Millisecond)
}

type flakyService struct {
	name    string
	initErr error
	cleaned bool
}

func (s *flakyService) Init(ctx context.Context) error { return s.initErr }
func (s *flakyService) Cleanup() error                 { s.cleaned = true; return nil }
func (s *flakyService) Reset() error                   { return nil }

func TestBaseHandler_FailoverToBackup(t *testing.T) {
	primary := &flakyService{name: "primary"}
	backup := &flakyService{name: "backup"}
	h := NewBaseHandler("stt", primary, []IService{backup}, NewNopLogger())

	switched := make(chan IService, 1)
	h.SetServiceSwitchedFunc(func(s IService) { switched <- s })

	in := make(chan *EventPacket)
	next := make(chan *EventPacket, 4)
	top := make(chan *EventPacket, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.Initialize(in, next, top, ctx))

	h.HandleError(errors.New("socket closed"))

	select {
	case s := <-switched:
		assert.Same(t, backup, s)
	case <-time.After(time.Second):
		t.Fatal("no failover")
	}
	assert.Same(t, backup, h.Service())
	assert.True(t, primary.cleaned)
	assert.Equal(t, "socket closed", (<-top).Event.(*WarningEvent).Error)

	h.HandleError(errors.New("backup gone too"))
	select {
	case p := <-top:
		assert.Equal(t, "stt", p.Event.(*CriticalErrorEvent).Handler)
	case <-time.After(time.Second):
		t.Fatal("no critical error")
	}
}

func TestBaseHandler_ForwardsWithoutHandleFunc(t *testing.T) {
	h := NewBaseHandler("pass", nil, nil, NewNopLogger())
	in := make(chan *EventPacket, 1)
	next := make(chan *EventPacket)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.Initialize(in, next, make(chan *EventPacket, 1), ctx))
	h.StartEventLoop()

	in <- NewEventPacket(&internalEvent{}, EventRelayDestinationNextService, "test")
	select {
	case p := <-next:
		assert.Equal(t, "test.internal", p.Event.GetId())
	case <-time.After(time.Second):
		t.Fatal("packet not forwarded")
	}

	cancel()
	assert.ErrorIs(t, h.Emit(NewEventPacket(&internalEvent{}, EventRelayDestinationNextService, "test")), context.Canceled)
}

func TestAudioChunk_Duration(t *testing.T) {
	pcm := make([]byte, 32000)
	chunk := AudioChunk{Data: &pcm, SampleRate: 16000, Channels: 1, Format: PCM}
	assert.InDelta(t, 1.0, chunk.GetDurationInSeconds(), 1e-9)

	chunk.Format = ULAW
	assert.InDelta(t, 2.0, chunk.GetDurationInSeconds(), 1e-9)

	assert.Equal(t, ULAW, ParseAudioEncodingFormat(ULAW.String()))
	assert.Equal(t, PCM, ParseAudioEncodingFormat("opus"))
}

func TestLLMContext_Clone(t *testing.T) {
	var c LLMContext
	c.AddSystemMessage("be brief")
	c.AddAssistantMessage("What is your name?")

	clone := c.Clone()
	clone.AddUserMessage("Ann")
	assert.Len(t, c.Messages, 2)
	assert.Equal(t, "What is your name?", clone.GetLastAssistantMessage())
}
