package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soulagent/core"
	"soulagent/protocol"
)

// pair returns a service wrapping the server side of a connection and the
// client side.
func pair(t *testing.T) (*WebSocketService, *websocket.Conn) {
	t.Helper()
	serverConn := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConn <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	svc := NewWebSocketService(<-serverConn, DefaultAudioFormat(), core.NewNopLogger())
	require.NoError(t, svc.Init(context.Background()))
	t.Cleanup(func() { svc.Cleanup() })
	return svc, client
}

func sendEnvelope(t *testing.T, c *websocket.Conn, msgType protocol.MessageType, payload interface{}) {
	t.Helper()
	data, err := protocol.Marshal(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, data))
}

func nextChunk(t *testing.T, ch <-chan core.MediaChunk) core.MediaChunk {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chunk")
		return core.MediaChunk{}
	}
}

func TestWebSocketService_ReceivesAudioAndText(t *testing.T) {
	svc, client := pair(t)
	out := make(chan core.MediaChunk, 4)
	closed := make(chan string, 1)
	svc.StartReceiving(out, closed)

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{1, 0, 2, 0}))
	chunk := nextChunk(t, out)
	require.NotNil(t, chunk.Audio.Data)
	assert.Equal(t, []byte{1, 0, 2, 0}, *chunk.Audio.Data)
	assert.Equal(t, 16000, chunk.Audio.SampleRate)
	assert.Equal(t, core.PCM, chunk.Audio.Format)

	sendEnvelope(t, client, protocol.MsgAudioFormat, protocol.AudioFormatPayload{SampleRate: 8000, Channels: 1, Encoding: "mulaw"})
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{0xff}))
	chunk = nextChunk(t, out)
	assert.Equal(t, 8000, chunk.Audio.SampleRate)
	assert.Equal(t, core.ULAW, chunk.Audio.Format)

	sendEnvelope(t, client, protocol.MsgUserText, protocol.UserTextPayload{Text: "My name is Ann"})
	assert.Equal(t, "My name is Ann", nextChunk(t, out).Text.Text)

	sendEnvelope(t, client, protocol.MsgHangup, nil)
	select {
	case reason := <-closed:
		assert.Equal(t, ReasonHangup, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("no hangup")
	}
}

func TestWebSocketService_RejectsUnknownMessages(t *testing.T) {
	svc, client := pair(t)
	svc.StartReceiving(make(chan core.MediaChunk, 1), make(chan string, 1))

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	msgType, raw, err := protocol.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgError, msgType)
	p, err := protocol.UnmarshalPayload[protocol.ErrorPayload](raw)
	require.NoError(t, err)
	assert.Contains(t, p.Message, "dance")
}

func TestWebSocketService_SendsMessagesAndAudio(t *testing.T) {
	svc, client := pair(t)

	require.NoError(t, svc.SendMessage(protocol.MsgTranscript, protocol.TranscriptPayload{Role: "assistant", Text: "Hello", Final: true}))
	pcm := []byte{9, 9}
	require.NoError(t, svc.SendAudio(core.AudioChunk{Data: &pcm}))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, `{"type":"transcript","payload":{"role":"assistant","text":"Hello","final":true}}`, string(data))

	kind, data, err = client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, pcm, data)
}

func TestWebSocketService_DisconnectAndCleanup(t *testing.T) {
	svc, client := pair(t)
	closed := make(chan string, 1)
	svc.StartReceiving(make(chan core.MediaChunk, 1), closed)

	client.Close()
	select {
	case reason := <-closed:
		assert.Equal(t, ReasonDisconnect, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect")
	}

	svc.Cleanup()
	assert.ErrorIs(t, svc.SendMessage(protocol.MsgError, nil), websocket.ErrCloseSent)
}
