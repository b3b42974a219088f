package elevenlabs

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soulagent/core"
)

func fakeElevenLabs(t *testing.T, received chan<- elTextMessage) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("xi-api-key"))
		assert.Equal(t, "/"+DefaultVoiceID+"/stream-input", r.URL.Path)
		assert.Equal(t, DefaultModelID, r.URL.Query().Get("model_id"))
		assert.Equal(t, "pcm_16000", r.URL.Query().Get("output_format"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var bos elBOSMessage
		if err := conn.ReadJSON(&bos); err != nil {
			return
		}
		for {
			var msg elTextMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
			if msg.Flush {
				audio := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
				out, _ := sonic.Marshal(map[string]interface{}{"audio": audio, "isFinal": false})
				conn.WriteMessage(websocket.TextMessage, out)
			}
		}
	}))
}

func TestElevenLabs_BufferFlushAndAudio(t *testing.T) {
	received := make(chan elTextMessage, 8)
	srv := fakeElevenLabs(t, received)
	defer srv.Close()

	svc := NewElevenLabsTTS(ElevenLabsTTSConfig{
		APIKey:  "secret",
		BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}, core.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Init(ctx))
	defer svc.Cleanup()

	out := make(chan core.AudioChunk, 4)
	errs := make(chan error, 4)
	require.NoError(t, svc.StartTTSSession(out, errs))

	require.NoError(t, svc.BufferText("Okay, I have that your name is Ann."))
	require.NoError(t, svc.BufferText("   "))
	require.NoError(t, svc.Flush())

	assert.Equal(t, elTextMessage{Text: "Okay, I have that your name is Ann. "}, <-received)
	assert.Equal(t, elTextMessage{Text: " ", Flush: true}, <-received)

	select {
	case chunk := <-out:
		assert.Equal(t, []byte{1, 2, 3, 4}, *chunk.Data)
		assert.Equal(t, 16000, chunk.SampleRate)
		assert.Equal(t, core.PCM, chunk.Format)
	case <-time.After(2 * time.Second):
		t.Fatal("no audio")
	}
}

func TestElevenLabs_Validation(t *testing.T) {
	svc := NewElevenLabsTTS(ElevenLabsTTSConfig{}, core.NewNopLogger())
	assert.Error(t, svc.Init(context.Background()))
	assert.Error(t, svc.StartTTSSession(make(chan core.AudioChunk), make(chan error)))
	assert.Error(t, svc.Flush())
	assert.NoError(t, svc.Reset())
}

func TestOutputFormat(t *testing.T) {
	f, rate := outputFormat(16000)
	assert.Equal(t, "pcm_16000", f)
	assert.Equal(t, 16000, rate)

	f, rate = outputFormat(8000)
	assert.Equal(t, "pcm_24000", f)
	assert.Equal(t, 24000, rate)
}
