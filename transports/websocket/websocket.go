package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"soulagent/core"
	"soulagent/protocol"
)

var ErrNoConnection = errors.New("websocket: no connection")

const (
	ReasonHangup     = "hangup"
	ReasonDisconnect = "disconnect"

	writeTimeout = 5 * time.Second
)

// AudioFormat describes raw audio carried in binary frames.
type AudioFormat struct {
	SampleRate int
	Channels   int
	Encoding   core.AudioEncodingFormat
}

// DefaultAudioFormat is 16 kHz mono linear PCM.
func DefaultAudioFormat() AudioFormat {
	return AudioFormat{SampleRate: 16000, Channels: 1, Encoding: core.PCM}
}

// WebSocketService is the session transport for one client connection.
// Binary frames carry audio, text frames carry protocol envelopes.
type WebSocketService struct {
	conn   *websocket.Conn
	logger *core.Logger
	mu     sync.Mutex // protects writes

	formatMu sync.RWMutex
	inFormat AudioFormat

	closeOnce sync.Once
	done      chan struct{}
}

// NewWebSocketService wraps an already upgraded connection. in is the format
// assumed for inbound audio until the client sends audio_format.
func NewWebSocketService(conn *websocket.Conn, in AudioFormat, logger *core.Logger) *WebSocketService {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &WebSocketService{
		conn:     conn,
		logger:   logger.With(map[string]interface{}{"component": "ws_transport"}),
		inFormat: in,
		done:     make(chan struct{}),
	}
}

func (ws *WebSocketService) Init(ctx context.Context) error {
	if ws.conn == nil {
		return ErrNoConnection
	}
	return nil
}

// Cleanup sends a close frame and closes the connection.
func (ws *WebSocketService) Cleanup() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.done)
		if ws.conn == nil {
			return
		}
		ws.mu.Lock()
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
			time.Now().Add(writeTimeout))
		ws.mu.Unlock()
		err = ws.conn.Close()
	})
	return err
}

func (ws *WebSocketService) Reset() error {
	return nil
}

// InputFormat returns the format currently assumed for inbound audio.
func (ws *WebSocketService) InputFormat() AudioFormat {
	ws.formatMu.RLock()
	defer ws.formatMu.RUnlock()
	return ws.inFormat
}

// StartReceiving reads the connection in a goroutine. Audio and typed text
// go to outputChan. closedChan receives one reason when the client hangs up
// or the connection drops.
func (ws *WebSocketService) StartReceiving(outputChan chan<- core.MediaChunk, closedChan chan<- string) {
	if ws.conn == nil {
		closedChan <- ReasonDisconnect
		return
	}
	go func() {
		reason := ReasonDisconnect
		defer func() {
			select {
			case closedChan <- reason:
			default:
			}
		}()

		for {
			messageType, msg, err := ws.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					ws.logger.Debug("read ended", "error", err)
				}
				return
			}

			var chunk core.MediaChunk
			switch messageType {
			case websocket.BinaryMessage:
				if len(msg) == 0 {
					continue
				}
				f := ws.InputFormat()
				chunk.Audio = core.AudioChunk{
					Data:       &msg,
					SampleRate: f.SampleRate,
					Channels:   f.Channels,
					Format:     f.Encoding,
					Timestamp:  time.Now(),
				}
			case websocket.TextMessage:
				text, hangup := ws.handleControl(msg)
				if hangup != "" {
					reason = hangup
					return
				}
				if text == "" {
					continue
				}
				chunk.Text = core.TextChunk{Text: text}
			default:
				continue
			}

			select {
			case outputChan <- chunk:
			case <-ws.done:
				return
			}
		}
	}()
}

// handleControl applies one envelope. It returns typed user text, or a
// non-empty hangup reason.
func (ws *WebSocketService) handleControl(msg []byte) (text string, hangup string) {
	msgType, raw, err := protocol.Unmarshal(msg)
	if err != nil {
		ws.replyError(err)
		return "", ""
	}

	switch msgType {
	case protocol.MsgUserText:
		p, err := protocol.UnmarshalPayload[protocol.UserTextPayload](raw)
		if err != nil {
			ws.replyError(err)
			return "", ""
		}
		return p.Text, ""
	case protocol.MsgAudioFormat:
		p, err := protocol.UnmarshalPayload[protocol.AudioFormatPayload](raw)
		if err != nil {
			ws.replyError(err)
			return "", ""
		}
		if p.SampleRate <= 0 || p.Channels < 1 || p.Channels > 2 {
			ws.replyError(errors.New("audio_format: unsupported sample rate or channel count"))
			return "", ""
		}
		ws.formatMu.Lock()
		ws.inFormat = AudioFormat{
			SampleRate: p.SampleRate,
			Channels:   p.Channels,
			Encoding:   core.ParseAudioEncodingFormat(p.Encoding),
		}
		ws.formatMu.Unlock()
		ws.logger.Info("client audio format", "sample_rate", p.SampleRate, "channels", p.Channels, "encoding", p.Encoding)
		return "", ""
	case protocol.MsgHangup:
		p, _ := protocol.UnmarshalPayload[protocol.HangupPayload](raw)
		if p.Reason != "" {
			return "", p.Reason
		}
		return "", ReasonHangup
	default:
		ws.replyError(errors.New("unknown message type " + string(msgType)))
		return "", ""
	}
}

func (ws *WebSocketService) replyError(err error) {
	ws.logger.Warn("bad client message", "error", err)
	_ = ws.SendMessage(protocol.MsgError, protocol.ErrorPayload{Message: err.Error()})
}

// SendMessage writes one envelope as a text frame.
func (ws *WebSocketService) SendMessage(msgType protocol.MessageType, payload interface{}) error {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		return err
	}
	return ws.write(websocket.TextMessage, data)
}

// SendAudio writes the chunk's bytes as one binary frame.
func (ws *WebSocketService) SendAudio(chunk core.AudioChunk) error {
	if chunk.Data == nil || len(*chunk.Data) == 0 {
		return nil
	}
	return ws.write(websocket.BinaryMessage, *chunk.Data)
}

func (ws *WebSocketService) write(messageType int, data []byte) error {
	select {
	case <-ws.done:
		return websocket.ErrCloseSent
	default:
	}
	if ws.conn == nil {
		return ErrNoConnection
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	_ = ws.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.conn.WriteMessage(messageType, data)
}
