package stt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"soulagent/core"
	"soulagent/utils/audio"
)

const (
	defaultBaseURL    = "wss://api.deepgram.com"
	inputSampleRate   = 16000
	keepAliveInterval = 8 * time.Second
)

// DeepgramSTTService streams caller audio to Deepgram's live endpoint and
// emits one transcript per user turn. Finalized segments are collected until
// Deepgram reports end of speech (speech_final or UtteranceEnd).
type DeepgramSTTService struct {
	config *DeepgramConfig
	logger *core.Logger

	conn        *websocket.Conn
	connMu      sync.Mutex
	isConnected bool

	outChan               chan<- string
	interimOutputChan     chan<- string
	fatalServiceErrorChan chan<- error

	turn        turnAssembler
	done        <-chan struct{}
	reconnectMu sync.Mutex
}

// DeepgramConfig holds the live transcription options. Zero durations leave
// the decision to Deepgram.
type DeepgramConfig struct {
	APIKey          string            `json:"api_key"`
	BaseURL         string            `json:"base_url"`
	Model           string            `json:"model"`
	Language        string            `json:"language"`
	InterimResults  bool              `json:"interim_results"`
	Punctuate       bool              `json:"punctuate"`
	SmartFormat     bool              `json:"smart_format"`
	FillerWords     bool              `json:"filler_words"`
	ProfanityFilter bool              `json:"profanity_filter"`
	Numerals        bool              `json:"numerals"`
	EndpointingMs   int               `json:"endpointing_ms"`
	UtteranceEndMs  int               `json:"utterance_end_ms"`
	Keyterms        []string          `json:"keyterms"`
	Extra           map[string]string `json:"extra"`

	ReconnectDelayMs int `json:"reconnect_delay_ms"`
}

// DefaultConfig returns the conversational defaults: nova-2-general, en-US,
// interim results, smart formatting and filler words kept.
func DefaultConfig() *DeepgramConfig {
	return &DeepgramConfig{
		BaseURL:          defaultBaseURL,
		Model:            "nova-2-general",
		Language:         "en-US",
		InterimResults:   true,
		Punctuate:        true,
		SmartFormat:      true,
		FillerWords:      true,
		ProfanityFilter:  false,
		EndpointingMs:    300,
		UtteranceEndMs:   1000,
		ReconnectDelayMs: 5000,
	}
}

// NewDeepgramSTTService creates a new Deepgram STT service instance.
// Use DefaultConfig() to get a config with sensible defaults and override only what you need.
func NewDeepgramSTTService(config *DeepgramConfig, logger *core.Logger) *DeepgramSTTService {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if logger == nil {
		logger = core.GetLogger()
	}

	return &DeepgramSTTService{
		config: config,
		logger: logger.With(map[string]interface{}{"service": "deepgram_stt"}),
	}
}

func (d *DeepgramSTTService) Init(ctx context.Context) error {
	if d.config.APIKey == "" {
		return errors.New("deepgram: API key is required")
	}
	d.done = ctx.Done()
	return nil
}

func (d *DeepgramSTTService) Cleanup() error {
	d.closeConnection()
	d.logger.Info("Deepgram STT service cleaned up")
	return nil
}

// Reset drops any half-assembled turn and asks Deepgram to finalize what it
// has buffered.
func (d *DeepgramSTTService) Reset() error {
	d.turn.reset()
	return d.Flush()
}

func (d *DeepgramSTTService) Flush() error {
	return d.writeControl("Finalize")
}

// StartTranscriptionSession connects in the background and keeps the
// connection alive until the Init context is done.
func (d *DeepgramSTTService) StartTranscriptionSession(
	outChan chan<- string,
	interimOutputChan chan<- string,
	fatalServiceErrorChan chan<- error,
) {
	d.outChan = outChan
	d.interimOutputChan = interimOutputChan
	d.fatalServiceErrorChan = fatalServiceErrorChan

	go d.runSession()
}

// SendTranscriptionAudio converts chunk to 16 kHz mono linear16 and sends it.
func (d *DeepgramSTTService) SendTranscriptionAudio(chunk core.AudioChunk) error {
	converted, err := audio.ConvertAudioChunk(chunk, core.PCM, 1, inputSampleRate)
	if err != nil {
		return fmt.Errorf("deepgram: convert audio: %w", err)
	}

	d.connMu.Lock()
	defer d.connMu.Unlock()
	if !d.isConnected || d.conn == nil {
		return errors.New("deepgram: not connected")
	}
	if err := d.conn.WriteMessage(websocket.BinaryMessage, *converted.Data); err != nil {
		d.isConnected = false
		return fmt.Errorf("deepgram: send audio: %w", err)
	}
	return nil
}

func (d *DeepgramSTTService) runSession() {
	delay := time.Duration(d.config.ReconnectDelayMs) * time.Millisecond
	for {
		select {
		case <-d.done:
			return
		default:
		}

		err := d.connectAndListen()
		if err == nil {
			continue
		}
		select {
		case <-d.done:
			return
		default:
		}
		d.logger.Warn("deepgram session dropped", "error", err)
		if d.fatalServiceErrorChan != nil {
			select {
			case d.fatalServiceErrorChan <- fmt.Errorf("deepgram session: %w", err):
			default:
			}
		}

		select {
		case <-time.After(delay):
		case <-d.done:
			return
		}
	}
}

func (d *DeepgramSTTService) connectAndListen() error {
	d.reconnectMu.Lock()
	defer d.reconnectMu.Unlock()

	wsURL, err := d.buildWebSocketURL()
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}

	headers := map[string][]string{
		"Authorization": {"Token " + d.config.APIKey},
	}
	conn, _, err := websocket.DefaultDialer.DialContext(context.Background(), wsURL, headers)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	d.connMu.Lock()
	d.conn = conn
	d.isConnected = true
	d.connMu.Unlock()
	defer d.closeConnection()

	d.logger.Info("connected to Deepgram", "model", d.config.Model)

	stopKeepAlive := make(chan struct{})
	defer close(stopKeepAlive)
	go d.keepAlive(stopKeepAlive)

	for {
		select {
		case <-d.done:
			return nil
		default:
		}
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-d.done:
				return nil
			default:
			}
			return fmt.Errorf("read: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := d.handleMessage(message); err != nil {
			d.logger.Debug("ignoring deepgram message", "error", err)
		}
	}
}

func (d *DeepgramSTTService) buildWebSocketURL() (string, error) {
	base, err := url.Parse(strings.TrimRight(d.config.BaseURL, "/") + "/v1/listen")
	if err != nil {
		return "", err
	}

	q := base.Query()
	if d.config.Model != "" {
		q.Set("model", d.config.Model)
	}
	if d.config.Language != "" {
		q.Set("language", d.config.Language)
	}
	q.Set("interim_results", strconv.FormatBool(d.config.InterimResults))
	q.Set("punctuate", strconv.FormatBool(d.config.Punctuate))
	q.Set("smart_format", strconv.FormatBool(d.config.SmartFormat))
	q.Set("filler_words", strconv.FormatBool(d.config.FillerWords))
	q.Set("profanity_filter", strconv.FormatBool(d.config.ProfanityFilter))
	q.Set("numerals", strconv.FormatBool(d.config.Numerals))

	q.Set("encoding", core.PCM.String())
	q.Set("sample_rate", strconv.Itoa(inputSampleRate))
	q.Set("channels", "1")

	if d.config.EndpointingMs > 0 {
		q.Set("endpointing", strconv.Itoa(d.config.EndpointingMs))
	}
	// utterance_end_ms is only honoured together with interim results
	if d.config.UtteranceEndMs > 0 && d.config.InterimResults {
		q.Set("utterance_end_ms", strconv.Itoa(d.config.UtteranceEndMs))
	}
	for _, keyterm := range d.config.Keyterms {
		q.Add("keyterm", keyterm)
	}
	for key, value := range d.config.Extra {
		q.Set(key, value)
	}

	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (d *DeepgramSTTService) handleMessage(message []byte) error {
	var base struct {
		Type string `json:"type"`
	}
	if err := sonic.Unmarshal(message, &base); err != nil {
		return fmt.Errorf("parse message type: %w", err)
	}

	switch base.Type {
	case "Results":
		var result ListenV1Results
		if err := sonic.Unmarshal(message, &result); err != nil {
			return fmt.Errorf("parse results: %w", err)
		}
		d.processResults(result)
	case "UtteranceEnd":
		d.emitTurn()
	case "Metadata", "SpeechStarted":
	default:
		return fmt.Errorf("unknown message type %q", base.Type)
	}
	return nil
}

func (d *DeepgramSTTService) processResults(result ListenV1Results) {
	if len(result.Channel.Alternatives) == 0 {
		return
	}
	transcript := result.Channel.Alternatives[0].Transcript

	if !result.IsFinal && !result.FromFinalize {
		if transcript != "" {
			d.send(d.interimOutputChan, d.turn.preview(transcript))
		}
		return
	}

	d.turn.add(transcript)
	if result.SpeechFinal || result.FromFinalize {
		d.emitTurn()
	}
}

func (d *DeepgramSTTService) emitTurn() {
	if text, ok := d.turn.take(); ok {
		d.logger.Debug("user turn transcribed", "text", text)
		d.send(d.outChan, text)
	}
}

func (d *DeepgramSTTService) send(ch chan<- string, text string) {
	if ch == nil {
		return
	}
	select {
	case ch <- text:
	case <-d.done:
	}
}

func (d *DeepgramSTTService) keepAlive(stop <-chan struct{}) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-stop:
			return
		case <-ticker.C:
			_ = d.writeControl("KeepAlive")
		}
	}
}

func (d *DeepgramSTTService) writeControl(msgType string) error {
	msg, err := sonic.Marshal(ListenV1Control{Type: msgType})
	if err != nil {
		return fmt.Errorf("deepgram: marshal %s: %w", msgType, err)
	}
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if !d.isConnected || d.conn == nil {
		return nil
	}
	return d.conn.WriteMessage(websocket.TextMessage, msg)
}

func (d *DeepgramSTTService) closeConnection() {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	if d.conn != nil {
		if msg, err := sonic.Marshal(ListenV1Control{Type: "CloseStream"}); err == nil {
			_ = d.conn.WriteMessage(websocket.TextMessage, msg)
		}
		_ = d.conn.Close()
		d.conn = nil
	}
	d.isConnected = false
}

// turnAssembler joins finalized segments into one user turn.
type turnAssembler struct {
	mu       sync.Mutex
	segments []string
}

func (t *turnAssembler) add(segment string) {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return
	}
	t.mu.Lock()
	t.segments = append(t.segments, segment)
	t.mu.Unlock()
}

// preview is the turn so far plus the current interim hypothesis.
func (t *turnAssembler) preview(interim string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(strings.Join(append(append([]string(nil), t.segments...), interim), " "))
}

func (t *turnAssembler) take() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.segments) == 0 {
		return "", false
	}
	text := strings.Join(t.segments, " ")
	t.segments = nil
	return text, true
}

func (t *turnAssembler) reset() {
	t.mu.Lock()
	t.segments = nil
	t.mu.Unlock()
}

type ListenV1Results struct {
	Type         string  `json:"type"`
	Duration     float64 `json:"duration"`
	Start        float64 `json:"start"`
	IsFinal      bool    `json:"is_final"`
	SpeechFinal  bool    `json:"speech_final"`
	FromFinalize bool    `json:"from_finalize,omitempty"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// ListenV1Control covers KeepAlive, Finalize and CloseStream.
type ListenV1Control struct {
	Type string `json:"type"`
}
