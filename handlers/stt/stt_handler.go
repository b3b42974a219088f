package stt

import (
	"context"

	"soulagent/core"
	"soulagent/events/stt"
	"soulagent/events/transport"
	"soulagent/utils/audio"
)

type STTConfig struct {
	RequiredSampleRate  int                      `json:"required_sample_rate"`
	RequiredChannels    int                      `json:"required_channels"`
	RequiredAudioFormat core.AudioEncodingFormat `json:"required_audio_format"`
}

// DefaultConfig is 16 kHz mono linear PCM.
func DefaultConfig() STTConfig {
	return STTConfig{
		RequiredSampleRate:  16000,
		RequiredChannels:    1,
		RequiredAudioFormat: core.PCM,
	}
}

type ISTTService interface {
	core.IService
	StartTranscriptionSession(outChan chan<- string, interimOutputChan chan<- string, fatalServiceErrorChan chan<- error)
	SendTranscriptionAudio(chunk core.AudioChunk) error
}

// STTHandler feeds caller audio to the transcription service and emits one
// STTFinalOutputEvent per completed user turn. Audio packets stop here.
type STTHandler struct {
	*core.BaseHandler
	messageOutChan chan string
	interimOutChan chan string
	config         STTConfig
}

func NewSTTHandler(service ISTTService, config STTConfig, logger *core.Logger) *STTHandler {
	h := &STTHandler{
		BaseHandler: core.NewBaseHandler("stt", service, nil, logger),
		config:      config,
	}
	h.SetHandleEventFunc(h.HandleEvent)
	h.SetServiceSwitchedFunc(func(svc core.IService) {
		svc.(ISTTService).StartTranscriptionSession(h.messageOutChan, h.interimOutChan, h.FatalServiceErrorChan)
	})
	return h
}

// WithBackupService registers a fallback used when the active service fails.
func (h *STTHandler) WithBackupService(service ISTTService) *STTHandler {
	h.BackupServices = append(h.BackupServices, service)
	return h
}

func (h *STTHandler) Initialize(
	inputChan <-chan *core.EventPacket,
	outputNextChan chan<- *core.EventPacket,
	outputTopChan chan<- *core.EventPacket,
	ctx context.Context,
) error {
	h.messageOutChan = make(chan string, 8)
	h.interimOutChan = make(chan string, 8)
	return h.BaseHandler.Initialize(inputChan, outputNextChan, outputTopChan, ctx)
}

func (h *STTHandler) Start() error {
	go h.eventLoop()
	h.StartEventLoop()
	h.Service().(ISTTService).StartTranscriptionSession(h.messageOutChan, h.interimOutChan, h.FatalServiceErrorChan)
	return nil
}

func (h *STTHandler) eventLoop() {
	for {
		select {
		case text := <-h.messageOutChan:
			h.Logger.Info("user turn transcribed", "chars", len(text))
			h.SendPacket(core.NewEventPacket(&stt.STTFinalOutputEvent{Text: text}, core.EventRelayDestinationNextService, h.Name))
		case text := <-h.interimOutChan:
			h.SendPacket(core.NewEventPacket(&stt.STTInterimOutputEvent{Text: text}, core.EventRelayDestinationNextService, h.Name))
		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *STTHandler) HandleEvent(eventPacket *core.EventPacket) error {
	event, ok := eventPacket.Event.(*transport.TransportAudioInputEvent)
	if !ok {
		h.SendPacket(eventPacket)
		return nil
	}

	chunk, err := audio.ConvertAudioChunk(event.AudioChunk, h.config.RequiredAudioFormat, h.config.RequiredChannels, h.config.RequiredSampleRate)
	if err != nil {
		return err
	}
	// Dropped audio while the service reconnects is expected; the service
	// itself reports lost sessions on the fatal channel.
	if err := h.Service().(ISTTService).SendTranscriptionAudio(chunk); err != nil {
		h.Logger.Debug("audio not delivered", "error", err)
	}
	return nil
}
