package runner

import (
	"context"
	"errors"
	"sync"

	"soulagent/core"
)

const channelBuffer = 100

// Runner chains handlers: each handler's next output feeds the following
// handler's input. Packets sent to the top destination are re-injected at the
// first handler, except for the control events the runner consumes itself.
type Runner struct {
	Handlers []core.IHandler
	// Finished is closed once an EndCallEvent leaves the last handler or
	// reaches the top, or Stop runs.
	Finished chan struct{}

	logger     *core.Logger
	onExternal func(*core.EventPacket)

	ctx            context.Context
	cancel         context.CancelFunc
	inputChans     []chan *core.EventPacket
	topOutputChan  chan *core.EventPacket
	lastOutputChan chan *core.EventPacket

	finishOnce sync.Once
	stopOnce   sync.Once
}

func NewRunner(handlers []core.IHandler, logger *core.Logger) *Runner {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Runner{
		Handlers: handlers,
		Finished: make(chan struct{}),
		logger:   logger.With(map[string]interface{}{"component": "runner"}),
	}
}

// OnExternalOutput registers a callback for IExternalOutputEvent packets that
// leave the last handler. Call before Start.
func (r *Runner) OnExternalOutput(fn func(*core.EventPacket)) {
	r.onExternal = fn
}

// Start wires and starts every handler. Cancelling ctx stops the pipeline.
func (r *Runner) Start(ctx context.Context) error {
	if len(r.Handlers) == 0 {
		return errors.New("runner: no handlers")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.topOutputChan = make(chan *core.EventPacket, channelBuffer)
	r.lastOutputChan = make(chan *core.EventPacket, channelBuffer)

	r.inputChans = make([]chan *core.EventPacket, len(r.Handlers))
	for i := range r.inputChans {
		r.inputChans[i] = make(chan *core.EventPacket, channelBuffer)
	}

	for i, handler := range r.Handlers {
		outputNextChan := r.lastOutputChan
		if i < len(r.Handlers)-1 {
			outputNextChan = r.inputChans[i+1]
		}

		if err := handler.Initialize(r.inputChans[i], outputNextChan, r.topOutputChan, r.ctx); err != nil {
			r.cancel()
			return err
		}
	}

	// Handlers start only after the whole chain is wired so that nothing is
	// emitted into an uninitialized stage.
	for _, handler := range r.Handlers {
		if err := handler.Start(); err != nil {
			r.cancel()
			return err
		}
	}

	go r.listenToOutputs()
	return nil
}

func (r *Runner) listenToOutputs() {
	for {
		select {
		case packet := <-r.lastOutputChan:
			r.processFinalOutput(packet)
		case packet := <-r.topOutputChan:
			r.processTopOutput(packet)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Runner) processFinalOutput(packet *core.EventPacket) {
	if r.onExternal != nil && core.IsExternalOutput(packet.Event) {
		r.onExternal(packet)
	}
	if event, ok := packet.Event.(*core.EndCallEvent); ok {
		r.logger.Info("call ended", "reason", event.Reason)
		r.finish()
	}
}

func (r *Runner) processTopOutput(packet *core.EventPacket) {
	switch event := packet.Event.(type) {
	case *core.CriticalErrorEvent:
		r.logger.With(map[string]interface{}{
			"handler": event.Handler,
			"error":   event.Error,
		}).Error("stage failed with no backup left")
	case *core.WarningEvent:
		r.logger.With(map[string]interface{}{
			"handler": event.Handler,
			"error":   event.Error,
		}).Warn("stage switched to backup service")
	case *core.EndCallEvent:
		r.logger.Info("call ended", "reason", event.Reason)
		r.finish()
	default:
		select {
		case r.inputChans[0] <- packet:
		case <-r.ctx.Done():
		}
	}
}

// Inject enters a packet at the head of the pipeline, as if a handler had
// sent it to the top. It gives up when the pipeline is stopped.
func (r *Runner) Inject(packet *core.EventPacket) error {
	if r.ctx == nil {
		return errors.New("runner: not started")
	}
	if err := r.ctx.Err(); err != nil {
		return err
	}
	select {
	case r.inputChans[0] <- packet:
		return nil
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

func (r *Runner) finish() {
	r.finishOnce.Do(func() { close(r.Finished) })
}

// Stop cancels the pipeline and cleans up every handler. It is safe to call
// more than once.
func (r *Runner) Stop() error {
	var errs []error
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		for _, handler := range r.Handlers {
			if err := handler.Cleanup(); err != nil {
				errs = append(errs, err)
			}
		}
		r.finish()
	})
	return errors.Join(errs...)
}

func (r *Runner) Reset() error {
	var errs []error
	for _, handler := range r.Handlers {
		if err := handler.Reset(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
