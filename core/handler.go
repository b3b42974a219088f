package core

import (
	"context"
	"errors"
	"sync"
)

// ErrNoBackupService is returned when a failed service has no fallback left.
var ErrNoBackupService = errors.New("no backup services available")

type IService interface {
	Init(ctx context.Context) error
	Cleanup() error
	Reset() error
}

type IHandler interface {
	Initialize(
		inputChan <-chan *EventPacket,
		outputNextChan chan<- *EventPacket,
		outputTopChan chan<- *EventPacket,
		ctx context.Context,
	) error // Wires the handler into the pipeline and initializes its service.
	Start() error // Starts the handler's loops. Must not block.
	HandleEvent(packet *EventPacket) error

	Cleanup() error // Cleans up resources used by the handler.
	Reset() error   // Resets the handler to its initial state.
}

// BaseHandler carries the plumbing shared by every pipeline stage: channel
// wiring, service failover and packet relaying. Stages embed it and register
// their HandleEvent with SetHandleEventFunc.
type BaseHandler struct {
	Name                  string
	BackupServices        []IService
	Ctx                   context.Context
	InputChan             <-chan *EventPacket
	FatalServiceErrorChan chan error
	Logger                *Logger

	serviceMu       sync.RWMutex
	service         IService
	outputNextChan  chan<- *EventPacket
	outputTopChan   chan<- *EventPacket
	handleEventFunc func(*EventPacket) error
	onSwitch        func(IService)
}

func NewBaseHandler(name string, service IService, backupServices []IService, logger *Logger) *BaseHandler {
	if logger == nil {
		logger = GetLogger()
	}
	return &BaseHandler{
		Name:           name,
		service:        service,
		BackupServices: backupServices,
		Logger:         logger.With(map[string]interface{}{"handler": name}),
	}
}

func (h *BaseHandler) Initialize(
	inputChan <-chan *EventPacket,
	outputNextChan chan<- *EventPacket,
	outputTopChan chan<- *EventPacket,
	ctx context.Context,
) error {
	h.InputChan = inputChan
	h.outputNextChan = outputNextChan
	h.outputTopChan = outputTopChan
	h.FatalServiceErrorChan = make(chan error, 8)
	h.Ctx = ctx
	if h.Logger == nil {
		h.Logger = GetLogger().With(map[string]interface{}{"handler": h.Name})
	}
	go h.fatalErrorHandlerLoop()

	if svc := h.Service(); svc != nil {
		return svc.Init(ctx)
	}
	return nil
}

// Service returns the currently active service, which changes after a
// failover.
func (h *BaseHandler) Service() IService {
	h.serviceMu.RLock()
	defer h.serviceMu.RUnlock()
	return h.service
}

// SetHandleEventFunc registers the function the default event loop calls for
// every inbound packet.
func (h *BaseHandler) SetHandleEventFunc(fn func(*EventPacket) error) {
	h.handleEventFunc = fn
}

// SetServiceSwitchedFunc registers a hook run after a backup service took
// over, typically to restart the stage's streaming session on it.
func (h *BaseHandler) SetServiceSwitchedFunc(fn func(IService)) {
	h.onSwitch = fn
}

// StartEventLoop consumes InputChan in a goroutine, one packet at a time.
func (h *BaseHandler) StartEventLoop() {
	go func() {
		for {
			select {
			case packet, ok := <-h.InputChan:
				if !ok {
					return
				}
				if h.handleEventFunc == nil {
					h.SendPacket(packet)
					continue
				}
				if err := h.handleEventFunc(packet); err != nil {
					h.Logger.With(map[string]interface{}{
						"event": packet.Event.GetId(),
						"error": err,
					}).Warn("event handling failed")
				}
			case <-h.Ctx.Done():
				return
			}
		}
	}()
}

func (h *BaseHandler) Cleanup() error {
	if svc := h.Service(); svc != nil {
		return svc.Cleanup()
	}
	return nil
}

func (h *BaseHandler) Reset() error {
	if svc := h.Service(); svc != nil {
		return svc.Reset()
	}
	return nil
}

// SwitchToBackupService promotes the first backup service and initializes it.
func (h *BaseHandler) SwitchToBackupService() error {
	h.serviceMu.Lock()
	defer h.serviceMu.Unlock()

	if len(h.BackupServices) == 0 {
		return ErrNoBackupService
	}
	next := h.BackupServices[0]
	h.BackupServices = h.BackupServices[1:]
	if err := next.Init(h.Ctx); err != nil {
		return err
	}
	if h.service != nil {
		_ = h.service.Cleanup()
	}
	h.service = next
	return nil
}

// SendPacket relays a packet according to its destination. It gives up when
// the pipeline context is cancelled.
func (h *BaseHandler) SendPacket(packet *EventPacket) {
	_ = h.Emit(packet)
}

// Emit is SendPacket with the cancellation error surfaced to the caller.
func (h *BaseHandler) Emit(packet *EventPacket) error {
	out := h.outputNextChan
	if packet.Destination == EventRelayDestinationTopService {
		out = h.outputTopChan
	}
	if out == nil {
		return errors.New(h.Name + ": handler not initialized")
	}
	select {
	case out <- packet:
		return nil
	case <-h.Ctx.Done():
		return h.Ctx.Err()
	}
}

// HandleError reports a service failure to the failover loop.
func (h *BaseHandler) HandleError(err error) {
	if err == nil {
		return
	}
	select {
	case h.FatalServiceErrorChan <- err:
	case <-h.Ctx.Done():
	}
}

func (h *BaseHandler) fatalErrorHandlerLoop() {
	for {
		select {
		case err := <-h.FatalServiceErrorChan:
			logger := h.Logger.With(map[string]interface{}{"error": err})
			if switchErr := h.SwitchToBackupService(); switchErr != nil {
				logger.With(map[string]interface{}{"switch_error": switchErr}).Error("service failed")
				h.SendPacket(NewEventPacket(
					&CriticalErrorEvent{Handler: h.Name, Error: err.Error()},
					EventRelayDestinationTopService, h.Name,
				))
				continue
			}
			logger.Warn("service failed, switched to backup")
			if h.onSwitch != nil {
				h.onSwitch(h.Service())
			}
			h.SendPacket(NewEventPacket(
				&WarningEvent{Handler: h.Name, Error: err.Error()},
				EventRelayDestinationTopService, h.Name,
			))
		case <-h.Ctx.Done():
			return
		}
	}
}
