package elevenlabs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"soulagent/core"
)

const (
	defaultBaseURL = "wss://api.elevenlabs.io/v1/text-to-speech"
	DefaultVoiceID = "Zjz30d9v1e5xCxNVTni6"
	DefaultModelID = "eleven_multilingual_v2"
)

// ElevenLabsTTSConfig holds configuration for the ElevenLabs TTS service
type ElevenLabsTTSConfig struct {
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	VoiceID    string `json:"voice_id"`
	ModelID    string `json:"model_id"`
	SampleRate int    `json:"sample_rate"`

	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// ElevenLabsTTS streams text over the ElevenLabs stream-input WebSocket and
// relays the synthesized PCM. One connection serves the whole session; each
// Flush closes a generation without closing the socket.
type ElevenLabsTTS struct {
	config ElevenLabsTTSConfig
	logger *core.Logger

	mu          sync.RWMutex
	writeMu     sync.Mutex
	reconnectMu sync.Mutex
	conn        *websocket.Conn
	session     *ttsSession
	ctx         context.Context
	cancel      context.CancelFunc
}

type ttsSession struct {
	outChan   chan<- core.AudioChunk
	errorChan chan<- error
}

type (
	elBOSMessage struct {
		Text             string          `json:"text"`
		VoiceSettings    elVoiceSettings `json:"voice_settings"`
		GenerationConfig elGenConfig     `json:"generation_config"`
	}

	elVoiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
	}

	elGenConfig struct {
		ChunkLengthSchedule []int `json:"chunk_length_schedule"`
	}

	elTextMessage struct {
		Text  string `json:"text"`
		Flush bool   `json:"flush,omitempty"`
	}

	elServerMessage struct {
		Audio   string `json:"audio"`
		IsFinal bool   `json:"isFinal"`
		Error   string `json:"error"`
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
)

// DefaultConfig is the Zoey voice at 16 kHz.
func DefaultConfig() ElevenLabsTTSConfig {
	return ElevenLabsTTSConfig{
		BaseURL:         defaultBaseURL,
		VoiceID:         DefaultVoiceID,
		ModelID:         DefaultModelID,
		SampleRate:      16000,
		Stability:       0.5,
		SimilarityBoost: 0.75,
	}
}

func NewElevenLabsTTS(config ElevenLabsTTSConfig, logger *core.Logger) *ElevenLabsTTS {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.VoiceID == "" {
		config.VoiceID = DefaultVoiceID
	}
	if config.ModelID == "" {
		config.ModelID = DefaultModelID
	}
	if config.SampleRate == 0 {
		config.SampleRate = 16000
	}
	if config.Stability == 0 {
		config.Stability = 0.5
	}
	if config.SimilarityBoost == 0 {
		config.SimilarityBoost = 0.75
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &ElevenLabsTTS{
		config: config,
		logger: logger.With(map[string]interface{}{"service": "elevenlabs_tts"}),
	}
}

// outputFormat maps the configured sample rate to an ElevenLabs output_format.
func outputFormat(sampleRate int) (string, int) {
	switch sampleRate {
	case 16000, 22050, 24000, 44100:
		return fmt.Sprintf("pcm_%d", sampleRate), sampleRate
	default:
		return "pcm_24000", 24000
	}
}

func (e *ElevenLabsTTS) Init(ctx context.Context) error {
	if e.config.APIKey == "" {
		return errors.New("elevenlabs: API key is required")
	}
	e.mu.Lock()
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()
	return nil
}

func (e *ElevenLabsTTS) Cleanup() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	e.closeConnectionLocked()
	e.session = nil
	return nil
}

// StartTTSSession opens the stream and starts relaying audio to outChan.
func (e *ElevenLabsTTS) StartTTSSession(outChan chan<- core.AudioChunk, errorChan chan<- error) error {
	if outChan == nil || errorChan == nil {
		return errors.New("elevenlabs: output and error channels are required")
	}
	e.mu.RLock()
	initialized := e.ctx != nil
	e.mu.RUnlock()
	if !initialized {
		return errors.New("elevenlabs: service not initialized")
	}

	conn, err := e.establishConnection()
	if err != nil {
		return err
	}

	session := &ttsSession{outChan: outChan, errorChan: errorChan}
	e.mu.Lock()
	e.closeConnectionLocked()
	e.conn = conn
	e.session = session
	e.mu.Unlock()

	go e.handleIncomingMessages(session)
	go e.heartbeat()
	return nil
}

// BufferText queues text for synthesis. ElevenLabs generates once its chunk
// schedule is met or on Flush.
func (e *ElevenLabsTTS) BufferText(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	return e.send(elTextMessage{Text: text})
}

// Flush forces generation of everything buffered so far.
func (e *ElevenLabsTTS) Flush() error {
	return e.send(elTextMessage{Text: " ", Flush: true})
}

// Reset drops any pending generation by reopening the stream.
func (e *ElevenLabsTTS) Reset() error {
	e.mu.RLock()
	active := e.session != nil
	e.mu.RUnlock()
	if !active {
		return nil
	}
	return e.reconnect()
}

func (e *ElevenLabsTTS) establishConnection() (*websocket.Conn, error) {
	const maxRetries = 3
	const baseDelay = 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(attempt)
			e.logger.Info("retrying connection", "attempt", attempt+1, "error", lastErr)
			select {
			case <-e.ctx.Done():
				return nil, e.ctx.Err()
			case <-time.After(delay):
			}
		}
		conn, err := e.dialConnection()
		if err != nil {
			lastErr = err
			continue
		}
		if err := e.writeJSON(conn, e.bos()); err != nil {
			conn.Close()
			lastErr = fmt.Errorf("send BOS: %w", err)
			continue
		}
		return conn, nil
	}
	return nil, fmt.Errorf("elevenlabs: connect after %d attempts: %w", maxRetries, lastErr)
}

func (e *ElevenLabsTTS) dialConnection() (*websocket.Conn, error) {
	format, _ := outputFormat(e.config.SampleRate)
	url := fmt.Sprintf("%s/%s/stream-input?model_id=%s&output_format=%s",
		strings.TrimRight(e.config.BaseURL, "/"), e.config.VoiceID, e.config.ModelID, format)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.DialContext(e.ctx, url, map[string][]string{
		"xi-api-key": {e.config.APIKey},
	})
	if err != nil {
		return nil, err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	return conn, nil
}

func (e *ElevenLabsTTS) bos() elBOSMessage {
	return elBOSMessage{
		Text: " ",
		VoiceSettings: elVoiceSettings{
			Stability:       e.config.Stability,
			SimilarityBoost: e.config.SimilarityBoost,
		},
		GenerationConfig: elGenConfig{
			ChunkLengthSchedule: []int{120, 160, 250, 290},
		},
	}
}

func (e *ElevenLabsTTS) handleIncomingMessages(session *ttsSession) {
	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		e.mu.RLock()
		conn := e.conn
		current := e.session == session
		e.mu.RUnlock()
		if !current {
			return
		}
		if conn == nil {
			if err := e.reconnect(); err != nil {
				e.sendError(session, err)
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-e.ctx.Done():
				return
			default:
			}
			e.mu.RLock()
			replaced := e.conn != conn
			e.mu.RUnlock()
			if replaced {
				// Reset swapped the connection underneath us.
				continue
			}
			e.logger.Info("read failed, reconnecting", "error", err)
			if rerr := e.reconnect(); rerr != nil {
				e.sendError(session, rerr)
				return
			}
			continue
		}
		if messageType == websocket.TextMessage {
			e.handleTextMessage(message, session)
		}
	}
}

func (e *ElevenLabsTTS) handleTextMessage(message []byte, session *ttsSession) {
	var msg elServerMessage
	if err := sonic.Unmarshal(message, &msg); err != nil {
		e.logger.Debug("unparseable message", "error", err)
		return
	}
	if msg.Error != "" {
		e.sendError(session, fmt.Errorf("elevenlabs: %s: %s (code %d)", msg.Error, msg.Message, msg.Code))
		return
	}
	if msg.Audio == "" {
		return
	}
	data, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		e.logger.Debug("undecodable audio", "error", err)
		return
	}
	_, rate := outputFormat(e.config.SampleRate)
	chunk := core.AudioChunk{
		Data:       &data,
		SampleRate: rate,
		Channels:   1,
		Format:     core.PCM,
		Timestamp:  time.Now(),
	}
	select {
	case session.outChan <- chunk:
	case <-e.ctx.Done():
	}
}

func (e *ElevenLabsTTS) reconnect() error {
	e.reconnectMu.Lock()
	defer e.reconnectMu.Unlock()

	e.mu.Lock()
	e.closeConnectionLocked()
	e.mu.Unlock()

	conn, err := e.establishConnection()
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	return nil
}

func (e *ElevenLabsTTS) sendError(session *ttsSession, err error) {
	select {
	case session.errorChan <- err:
	default:
		e.logger.Warn("dropping error, channel full", "error", err)
	}
}

func (e *ElevenLabsTTS) send(msg elTextMessage) error {
	e.mu.RLock()
	conn := e.conn
	e.mu.RUnlock()
	if conn == nil {
		return errors.New("elevenlabs: no active session")
	}
	return e.writeJSON(conn, msg)
}

func (e *ElevenLabsTTS) writeJSON(conn *websocket.Conn, msg interface{}) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("elevenlabs: marshal: %w", err)
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (e *ElevenLabsTTS) heartbeat() {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.mu.RLock()
			conn := e.conn
			e.mu.RUnlock()
			if conn == nil {
				continue
			}
			e.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			e.writeMu.Unlock()
			if err != nil {
				e.logger.Info("heartbeat failed", "error", err)
			}
		}
	}
}

// closeConnectionLocked must be called with mu held.
func (e *ElevenLabsTTS) closeConnectionLocked() {
	if e.conn == nil {
		return
	}
	e.writeMu.Lock()
	e.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
	e.writeMu.Unlock()
	e.conn.Close()
	e.conn = nil
}
