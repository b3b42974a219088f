package llm

import (
	"strings"
	"sync"
	"sync/atomic"

	"soulagent/core"
	"soulagent/events/llm"
)

type LLMHandlerConfig struct {
	// UseFallback speaks the request's fallback text when generation produced
	// nothing, so the caller still hears the question.
	UseFallback bool `json:"use_fallback"`
}

func DefaultConfig() LLMHandlerConfig {
	return LLMHandlerConfig{UseFallback: true}
}

type LLMService interface {
	core.IService
	// RunCompletion blocks until the reply is complete or the service is
	// reset, writing text deltas to outChan.
	RunCompletion(context core.LLMContext, outChan chan<- string, errChan chan<- error)
}

// LLMHandler turns LLMGenerateResponseEvent into a streamed reply:
// LLMResponseStartedEvent, chunks, then LLMResponseCompletedEvent. The full
// reply is also sent to the top of the pipeline as an LLMAssistantTurnEvent so
// upstream stages can keep the conversation history.
type LLMHandler struct {
	*core.BaseHandler
	config LLMHandlerConfig
	genMu  sync.Mutex
	latest atomic.Uint64
}

func NewLLMHandler(service LLMService, config LLMHandlerConfig, logger *core.Logger) *LLMHandler {
	h := &LLMHandler{
		BaseHandler: core.NewBaseHandler("llm", service, nil, logger),
		config:      config,
	}
	h.SetHandleEventFunc(h.HandleEvent)
	return h
}

// WithBackupService registers a fallback service used when the primary fails.
// Returns the handler to allow chaining.
func (h *LLMHandler) WithBackupService(service LLMService) *LLMHandler {
	h.BackupServices = append(h.BackupServices, service)
	return h
}

func (h *LLMHandler) Start() error {
	h.StartEventLoop()
	return nil
}

func (h *LLMHandler) HandleEvent(packet *core.EventPacket) error {
	e, ok := packet.Event.(*llm.LLMGenerateResponseEvent)
	if !ok {
		h.SendPacket(packet)
		return nil
	}

	// A newer request supersedes whatever is still streaming.
	id := h.latest.Add(1)
	if err := h.Service().Reset(); err != nil {
		h.Logger.Warn("reset before generation failed", "error", err)
	}
	go h.generate(e, id)
	return nil
}

func (h *LLMHandler) generate(e *llm.LLMGenerateResponseEvent, id uint64) {
	h.genMu.Lock()
	defer h.genMu.Unlock()

	svc, ok := h.Service().(LLMService)
	if !ok {
		return
	}
	h.emit(&llm.LLMResponseStartedEvent{}, core.EventRelayDestinationNextService)

	out := make(chan string, 16)
	go func() {
		defer close(out)
		svc.RunCompletion(e.Context, out, h.FatalServiceErrorChan)
	}()

	var full strings.Builder
	for chunk := range out {
		full.WriteString(chunk)
		h.emit(&llm.LLMResponseChunkEvent{Chunk: chunk}, core.EventRelayDestinationNextService)
	}

	text := strings.TrimSpace(full.String())
	superseded := h.latest.Load() != id
	if text == "" && h.config.UseFallback && e.Fallback != "" && !superseded {
		h.Logger.Warn("empty generation, speaking fallback")
		text = e.Fallback
		h.emit(&llm.LLMResponseChunkEvent{Chunk: text}, core.EventRelayDestinationNextService)
	}

	h.emit(&llm.LLMResponseCompletedEvent{FullText: text}, core.EventRelayDestinationNextService)
	if text != "" {
		h.emit(&llm.LLMAssistantTurnEvent{Text: text}, core.EventRelayDestinationTopService)
	}
}

func (h *LLMHandler) emit(event core.IEvent, dest core.EventRelayDestination) {
	h.SendPacket(core.NewEventPacket(event, dest, h.Name))
}
