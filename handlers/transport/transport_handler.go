package transport

import (
	"soulagent/core"
	interviewevents "soulagent/events/interview"
	"soulagent/events/llm"
	"soulagent/events/session"
	"soulagent/events/stt"
	"soulagent/events/transport"
	"soulagent/events/tts"
	"soulagent/protocol"
	"soulagent/utils/audio"
)

type TransportService interface {
	core.IService
	StartReceiving(outputChan chan<- core.MediaChunk, closedChan chan<- string)
	SendAudio(chunk core.AudioChunk) error
	SendMessage(msgType protocol.MessageType, payload interface{}) error
}

// TransportHandlerWrapper shares one service between the input handler at
// the head of the pipeline and the output handler at its tail.
type TransportHandlerWrapper struct {
	service TransportService
	config  TransportConfig
	logger  *core.Logger
}

func NewTransportHandlerWrapper(service TransportService, config TransportConfig, logger *core.Logger) *TransportHandlerWrapper {
	return &TransportHandlerWrapper{
		service: service,
		config:  config,
		logger:  logger,
	}
}

func (w *TransportHandlerWrapper) GetInputHandler() *TransportInputHandler {
	h := &TransportInputHandler{
		BaseHandler: core.NewBaseHandler("transport_input", w.service, nil, w.logger),
		config:      w.config,
	}
	h.SetHandleEventFunc(h.HandleEvent)
	return h
}

func (w *TransportHandlerWrapper) GetOutputHandler() *TransportOutputHandler {
	// The output side must not close the connection a second time.
	h := &TransportOutputHandler{
		BaseHandler: core.NewBaseHandler("transport_output", nil, nil, w.logger),
		service:     w.service,
		config:      w.config,
	}
	h.SetHandleEventFunc(h.HandleEvent)
	return h
}

// TransportInputHandler turns client frames into pipeline events. It opens
// the session with SessionStartedEvent and closes it with SessionEndedEvent.
type TransportInputHandler struct {
	*core.BaseHandler
	config TransportConfig
}

func (h *TransportInputHandler) Start() error {
	h.StartEventLoop()

	svc := h.Service().(TransportService)
	if err := svc.SendMessage(protocol.MsgSessionReady, protocol.SessionReadyPayload{
		SessionID:  h.config.SessionID,
		SampleRate: h.config.OutSampleRate,
		Channels:   h.config.OutChannels,
		Encoding:   h.config.OutAudioFormat.String(),
		Questions:  h.config.Questions,
	}); err != nil {
		h.Logger.Warn("session_ready not delivered", "error", err)
	}
	h.SendPacket(core.NewEventPacket(&session.SessionStartedEvent{SessionID: h.config.SessionID}, core.EventRelayDestinationNextService, h.Name))

	mediaChan := make(chan core.MediaChunk, 32)
	closedChan := make(chan string, 1)
	svc.StartReceiving(mediaChan, closedChan)
	go h.receiveLoop(mediaChan, closedChan)
	return nil
}

func (h *TransportInputHandler) receiveLoop(mediaChan <-chan core.MediaChunk, closedChan <-chan string) {
	for {
		select {
		case chunk := <-mediaChan:
			if chunk.Audio.Data != nil {
				h.SendPacket(core.NewEventPacket(&transport.TransportAudioInputEvent{AudioChunk: chunk.Audio}, core.EventRelayDestinationNextService, h.Name))
			}
			if chunk.Text.Text != "" {
				h.SendPacket(core.NewEventPacket(&transport.TransportTextInputEvent{Text: chunk.Text.Text}, core.EventRelayDestinationNextService, h.Name))
			}
		case reason := <-closedChan:
			h.Logger.Info("client gone", "reason", reason)
			h.SendPacket(core.NewEventPacket(&session.SessionEndedEvent{SessionID: h.config.SessionID, Reason: reason}, core.EventRelayDestinationNextService, h.Name))
			return
		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *TransportInputHandler) HandleEvent(eventPacket *core.EventPacket) error {
	h.SendPacket(eventPacket)
	return nil
}

// TransportOutputHandler sends synthesized audio and mirrors transcripts and
// interview progress to the client.
type TransportOutputHandler struct {
	*core.BaseHandler
	service TransportService
	config  TransportConfig
}

func (h *TransportOutputHandler) Start() error {
	h.StartEventLoop()
	return nil
}

func (h *TransportOutputHandler) HandleEvent(eventPacket *core.EventPacket) error {
	var err error
	switch event := eventPacket.Event.(type) {
	case *tts.TTSOutputEvent:
		var chunk core.AudioChunk
		chunk, err = audio.ConvertAudioChunk(event.AudioChunk, h.config.OutAudioFormat, h.config.OutChannels, h.config.OutSampleRate)
		if err != nil {
			h.Logger.Warn("audio conversion failed", "error", err)
			break
		}
		err = h.service.SendAudio(chunk)
	case *tts.TTSSpeakEvent:
		err = h.transcript("assistant", event.Text, true)
	case *llm.LLMResponseCompletedEvent:
		err = h.transcript("assistant", event.FullText, true)
	case *stt.STTFinalOutputEvent:
		err = h.transcript("user", event.Text, true)
	case *transport.TransportTextInputEvent:
		err = h.transcript("user", event.Text, true)
	case *stt.STTInterimOutputEvent:
		if h.config.SendInterim {
			err = h.transcript("user", event.Text, false)
		}
	case *interviewevents.AnswerRecordedEvent:
		err = h.service.SendMessage(protocol.MsgAnswer, protocol.AnswerPayload{
			Key:   event.Key,
			Value: event.Value,
			Index: event.Index,
			Total: event.Total,
		})
	case *interviewevents.InterviewCompletedEvent:
		err = h.service.SendMessage(protocol.MsgInterviewComplete, protocol.InterviewCompletePayload{
			Complete: event.Complete,
			Answers:  event.Answers,
			Keys:     event.Keys,
		})
	}
	if err != nil {
		// The client may already be gone; the input side ends the session.
		h.Logger.Debug("output not delivered", "event", eventPacket.Event.GetId(), "error", err)
	}

	h.SendPacket(eventPacket)
	return nil
}

func (h *TransportOutputHandler) transcript(role, text string, final bool) error {
	if text == "" {
		return nil
	}
	return h.service.SendMessage(protocol.MsgTranscript, protocol.TranscriptPayload{Role: role, Text: text, Final: final})
}
