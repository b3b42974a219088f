package tts

import (
	"context"

	"soulagent/core"
	"soulagent/events/llm"
	"soulagent/events/tts"
)

type TTSConfig struct {
	BreakWords    []string `json:"break_words"`     // Markers that let buffered LLM text go to synthesis early.
	MinTextLength int      `json:"min_text_length"` // Text shorter than this waits for more chunks.
}

// DefaultConfig returns a TTSConfig with sensible defaults.
func DefaultConfig() TTSConfig {
	return TTSConfig{
		BreakWords:    []string{".", "!", "?", ";", ":"},
		MinTextLength: 20,
	}
}

type TTSService interface {
	core.IService
	StartTTSSession(outChan chan<- core.AudioChunk, errorChan chan<- error) error
	BufferText(text string) error
	Flush() error
}

// TTSHandler synthesizes two kinds of input: fixed lines (TTSSpeakEvent),
// spoken verbatim, and streamed LLM replies, sent in sentence-sized pieces.
// Every inbound event is relayed after handling.
type TTSHandler struct {
	*core.BaseHandler
	config            TTSConfig
	aggregator        *textAggregator
	audioChunkOutChan chan core.AudioChunk
	errorChan         chan error

	// Reply state, touched only by the event loop.
	streaming bool // between LLMResponseStarted and LLMResponseCompleted
	buffered  bool // part of the current reply already went to the service
	stale     bool // a fixed line interrupted the reply; drop the rest of it
}

func NewTTSHandler(service TTSService, config TTSConfig, logger *core.Logger) *TTSHandler {
	if len(config.BreakWords) == 0 {
		config.BreakWords = DefaultConfig().BreakWords
	}
	h := &TTSHandler{
		BaseHandler: core.NewBaseHandler("tts", service, nil, logger),
		config:      config,
		aggregator:  newTextAggregator(config.BreakWords, config.MinTextLength),
	}
	h.SetHandleEventFunc(h.HandleEvent)
	h.SetServiceSwitchedFunc(func(svc core.IService) {
		if err := svc.(TTSService).StartTTSSession(h.audioChunkOutChan, h.errorChan); err != nil {
			h.HandleError(err)
		}
	})
	return h
}

// WithBackupService registers a fallback service used when the primary fails.
func (h *TTSHandler) WithBackupService(service TTSService) *TTSHandler {
	h.BackupServices = append(h.BackupServices, service)
	return h
}

func (h *TTSHandler) Initialize(
	inputChan <-chan *core.EventPacket,
	outputNextChan chan<- *core.EventPacket,
	outputTopChan chan<- *core.EventPacket,
	ctx context.Context,
) error {
	h.audioChunkOutChan = make(chan core.AudioChunk, 32)
	h.errorChan = make(chan error, 4)
	return h.BaseHandler.Initialize(inputChan, outputNextChan, outputTopChan, ctx)
}

func (h *TTSHandler) Start() error {
	if err := h.Service().(TTSService).StartTTSSession(h.audioChunkOutChan, h.errorChan); err != nil {
		return err
	}
	go h.audioLoop()
	h.StartEventLoop()
	return nil
}

func (h *TTSHandler) audioLoop() {
	for {
		select {
		case chunk := <-h.audioChunkOutChan:
			h.SendPacket(core.NewEventPacket(&tts.TTSOutputEvent{AudioChunk: chunk}, core.EventRelayDestinationNextService, h.Name))
		case err := <-h.errorChan:
			h.HandleError(err)
		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *TTSHandler) HandleEvent(eventPacket *core.EventPacket) error {
	var err error
	switch event := eventPacket.Event.(type) {
	case *tts.TTSSpeakEvent:
		// A reply still streaming is superseded by the line and is not
		// spliced into it.
		if h.streaming {
			err = h.dropReply()
		}
		if err == nil {
			err = h.speak(event.Text)
		}
	case *llm.LLMResponseStartedEvent:
		h.aggregator.drain()
		h.streaming, h.buffered, h.stale = true, false, false
	case *llm.LLMResponseChunkEvent:
		if h.stale {
			break
		}
		if text, ready := h.aggregator.add(event.Chunk); ready {
			h.buffered = true
			err = h.buffer(text)
		}
	case *llm.LLMResponseCompletedEvent:
		stale := h.stale
		h.streaming, h.buffered, h.stale = false, false, false
		if stale {
			h.aggregator.drain()
			break
		}
		err = h.speak(h.aggregator.drain())
	}
	h.SendPacket(eventPacket)
	if err != nil {
		h.HandleError(err)
	}
	return err
}

// dropReply discards the rest of the streaming reply. Text the service
// already holds is cleared with a reset.
func (h *TTSHandler) dropReply() error {
	h.aggregator.drain()
	h.stale = true
	if !h.buffered {
		return nil
	}
	h.buffered = false
	return h.Service().Reset()
}

func (h *TTSHandler) buffer(text string) error {
	text = normalizeTextForTTS(text)
	if text == "" {
		return nil
	}
	return h.Service().(TTSService).BufferText(text)
}

func (h *TTSHandler) speak(text string) error {
	if err := h.buffer(text); err != nil {
		return err
	}
	return h.Service().(TTSService).Flush()
}
