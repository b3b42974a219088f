package factories

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soulagent/core"
	interviewevents "soulagent/events/interview"
	"soulagent/events/session"
	"soulagent/protocol"
)

type nopTransport struct{}

func (nopTransport) Init(ctx context.Context) error                       { return nil }
func (nopTransport) Cleanup() error                                       { return nil }
func (nopTransport) Reset() error                                         { return nil }
func (nopTransport) StartReceiving(chan<- core.MediaChunk, chan<- string) {}
func (nopTransport) SendAudio(core.AudioChunk) error                      { return nil }
func (nopTransport) SendMessage(protocol.MessageType, interface{}) error  { return nil }

// endingHandler ends the call when it sees the session end, like the
// interview stage does.
type endingHandler struct {
	*core.BaseHandler
	mu      sync.Mutex
	reasons []string
}

func newEndingHandler() *endingHandler {
	h := &endingHandler{BaseHandler: core.NewBaseHandler("ending", nil, nil, core.NewNopLogger())}
	h.SetHandleEventFunc(h.HandleEvent)
	return h
}

func (h *endingHandler) Start() error {
	h.StartEventLoop()
	return nil
}

func (h *endingHandler) HandleEvent(p *core.EventPacket) error {
	if e, ok := p.Event.(*session.SessionEndedEvent); ok {
		h.mu.Lock()
		h.reasons = append(h.reasons, e.Reason)
		h.mu.Unlock()
		h.SendPacket(core.NewEventPacket(&interviewevents.InterviewCompletedEvent{SessionID: e.SessionID}, core.EventRelayDestinationNextService, h.Name))
		h.SendPacket(core.NewEventPacket(&core.EndCallEvent{Reason: e.Reason}, core.EventRelayDestinationNextService, h.Name))
	}
	return nil
}

func (h *endingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.reasons...)
}

type fakeSessionMetrics struct {
	mu      sync.Mutex
	results []string
}

func (m *fakeSessionMetrics) SessionStarted() func(string) {
	return func(result string) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.results = append(m.results, result)
	}
}

func TestPipeline_TimeoutDrainsSession(t *testing.T) {
	h := newEndingHandler()
	metrics := &fakeSessionMetrics{}
	var external []string
	var extMu sync.Mutex

	p := NewPipeline(func(job Job, logger *core.Logger) ([]core.IHandler, error) {
		return []core.IHandler{h}, nil
	}, PipelineConfig{Timeout: 50 * time.Millisecond, DrainTimeout: time.Second}, core.NewNopLogger()).
		WithMetrics(metrics).
		WithExternalOutput(func(sessionID string, packet *core.EventPacket) {
			extMu.Lock()
			defer extMu.Unlock()
			external = append(external, sessionID+":"+packet.Event.GetId())
		})

	err := p.Run(Job{SessionID: "s1", Transport: nopTransport{}}, context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"timeout"}, h.seen())
	assert.Equal(t, []string{"timeout"}, metrics.results)

	assert.Eventually(t, func() bool {
		extMu.Lock()
		defer extMu.Unlock()
		return len(external) == 1 && external[0] == "s1:interview.completed"
	}, time.Second, 10*time.Millisecond)
}

func TestPipeline_ShutdownDrainsSession(t *testing.T) {
	h := newEndingHandler()
	p := NewPipeline(func(job Job, logger *core.Logger) ([]core.IHandler, error) {
		return []core.IHandler{h}, nil
	}, PipelineConfig{DrainTimeout: time.Second}, core.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(Job{SessionID: "s1", Transport: nopTransport{}}, ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop")
	}
	assert.Equal(t, []string{"shutdown"}, h.seen())
}

func TestPipeline_BuildErrorAndSkips(t *testing.T) {
	boom := errors.New("no deepgram key")
	metrics := &fakeSessionMetrics{}
	p := NewPipeline(func(job Job, logger *core.Logger) ([]core.IHandler, error) {
		return nil, boom
	}, PipelineConfig{}, core.NewNopLogger()).WithMetrics(metrics)

	assert.ErrorIs(t, p.Run(Job{SessionID: "s1", Transport: nopTransport{}}, context.Background()), boom)
	assert.Equal(t, []string{"failed"}, metrics.results)

	assert.NoError(t, p.Run(Job{SessionID: "s1"}, context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, p.Run(Job{SessionID: "s1", Transport: nopTransport{}}, ctx))
}

func TestSessionConfig_BuildHandlers(t *testing.T) {
	cfg := DefaultSessionConfig()
	handlers, err := cfg.BuildHandlers(Job{SessionID: "s1", Transport: nopTransport{}}, SessionDeps{}, core.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, handlers, 6)

	cfg.TTS.ServiceConfig = TTSFactoryConfig{}
	_, err = cfg.BuildHandlers(Job{SessionID: "s1", Transport: nopTransport{}}, SessionDeps{}, core.NewNopLogger())
	assert.ErrorContains(t, err, "tts primary service")
}
