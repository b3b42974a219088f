package factories

import (
	"context"
	"time"

	"soulagent/core"
	"soulagent/events/session"
	interviewhandler "soulagent/handlers/interview"
	transporthandler "soulagent/handlers/transport"
	"soulagent/runner"
)

// PipelineConfig configures a Pipeline's lifecycle behaviour.
type PipelineConfig struct {
	// Timeout ends a session that runs longer. Zero disables it.
	Timeout time.Duration
	// DrainTimeout bounds the end-of-session work (partial extraction) after
	// a timeout or shutdown.
	DrainTimeout time.Duration
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Timeout:      15 * time.Minute,
		DrainTimeout: interviewhandler.DefaultEndTimeout + 5*time.Second,
	}
}

// Job is one client session.
type Job struct {
	SessionID string
	Transport transporthandler.TransportService
}

// HandlerBuilder creates the ordered handler slice for a single job.
type HandlerBuilder func(job Job, logger *core.Logger) ([]core.IHandler, error)

// SessionMetrics is told about every session run.
type SessionMetrics interface {
	SessionStarted() func(result string)
}

// Pipeline builds and runs a handler pipeline per job.
type Pipeline struct {
	config     PipelineConfig
	builder    HandlerBuilder
	logger     *core.Logger
	onExternal func(sessionID string, packet *core.EventPacket)
	metrics    SessionMetrics
}

// NewPipeline creates a Pipeline that uses builder to construct handlers per-job.
func NewPipeline(builder HandlerBuilder, config PipelineConfig, logger *core.Logger) *Pipeline {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Pipeline{
		builder: builder,
		config:  config,
		logger:  logger,
	}
}

// WithExternalOutput registers fn for external output events of every job.
func (p *Pipeline) WithExternalOutput(fn func(sessionID string, packet *core.EventPacket)) *Pipeline {
	p.onExternal = fn
	return p
}

func (p *Pipeline) WithMetrics(m SessionMetrics) *Pipeline {
	p.metrics = m
	return p
}

// Run builds a handler pipeline for a single job and blocks until the
// session is over. Cancelling ctx or hitting the timeout ends the session
// gracefully: handlers see a SessionEndedEvent and get DrainTimeout to
// finish before the pipeline is stopped.
func (p *Pipeline) Run(job Job, ctx context.Context) error {
	// Use per-session logger if available, otherwise fall back to pipeline logger.
	base := core.SessionLoggerFromContext(ctx)
	if base == nil {
		base = p.logger
	}
	logger := base.With(map[string]any{"component": "pipeline", "session_id": job.SessionID})

	select {
	case <-ctx.Done():
		logger.Info("context already cancelled, skipping job")
		return nil
	default:
	}

	if job.Transport == nil {
		logger.Warn("nil transport service, skipping job")
		return nil
	}

	result := "failed"
	if p.metrics != nil {
		done := p.metrics.SessionStarted()
		defer func() { done(result) }()
	}

	handlers, err := p.builder(job, base)
	if err != nil {
		logger.With(map[string]any{"error": err}).Error("failed to build handlers")
		return err
	}

	r := runner.NewRunner(handlers, base)
	if p.onExternal != nil {
		r.OnExternalOutput(func(packet *core.EventPacket) { p.onExternal(job.SessionID, packet) })
	}
	// The runner outlives ctx so that the session can drain.
	if err := r.Start(context.WithoutCancel(ctx)); err != nil {
		logger.With(map[string]any{"error": err}).Error("runner failed to start")
		return err
	}
	defer func() {
		if err := r.Stop(); err != nil {
			logger.With(map[string]any{"error": err}).Warn("runner cleanup failed")
		}
	}()

	logger.Info("runner started, waiting for completion")

	var timerC <-chan time.Time
	if p.config.Timeout > 0 {
		timer := time.NewTimer(p.config.Timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case <-ctx.Done():
		logger.Info("context cancelled, ending session")
		p.drain(r, job, "shutdown", logger)
		result = "shutdown"
		return nil

	case <-timerC:
		logger.Warn("timeout reached, ending session")
		p.drain(r, job, "timeout", logger)
		result = "timeout"
		return context.DeadlineExceeded

	case <-r.Finished:
		logger.Info("runner finished")
		result = "ended"
		return nil
	}
}

func (p *Pipeline) drain(r *runner.Runner, job Job, reason string, logger *core.Logger) {
	ended := core.NewEventPacket(&session.SessionEndedEvent{SessionID: job.SessionID, Reason: reason}, core.EventRelayDestinationTopService, "pipeline")
	if err := r.Inject(ended); err != nil {
		return
	}
	wait := p.config.DrainTimeout
	if wait <= 0 {
		wait = DefaultPipelineConfig().DrainTimeout
	}
	select {
	case <-r.Finished:
	case <-time.After(wait):
		logger.Warn("session did not drain in time")
	}
}
