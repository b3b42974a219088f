package interview

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"soulagent/core"
	interviewevents "soulagent/events/interview"
	"soulagent/events/llm"
	"soulagent/events/session"
	"soulagent/events/stt"
	"soulagent/events/transport"
	"soulagent/events/tts"
	"soulagent/interview"
)

// DefaultEndTimeout bounds the partial extraction run when a session ends.
// The pipeline context is usually already cancelled at that point.
const DefaultEndTimeout = 30 * time.Second

const nextQuestionInstruction = "Ask the user the next question: %q. Ask only this one question, in your own words, in one or two short sentences."

// InterviewHandler drives an interview.Controller from pipeline events and
// is the controller's output channel: spoken lines leave as TTSSpeakEvent and
// generated replies as LLMGenerateResponseEvent.
type InterviewHandler struct {
	*core.BaseHandler
	controller *interview.Controller
	endTimeout time.Duration

	historyMu sync.Mutex
	history   core.LLMContext

	endOnce sync.Once
}

// NewInterviewHandler builds the controller from cfg with the handler as its
// output channel and answer listener. cfg.Output and cfg.Listener are
// ignored.
func NewInterviewHandler(cfg interview.Config, logger *core.Logger) (*InterviewHandler, error) {
	h := &InterviewHandler{
		BaseHandler: core.NewBaseHandler("interview", nil, nil, logger),
		endTimeout:  DefaultEndTimeout,
	}
	cfg.Output = h
	cfg.Listener = h
	if cfg.Logger == nil {
		cfg.Logger = h.Logger
	}
	controller, err := interview.NewController(cfg)
	if err != nil {
		return nil, fmt.Errorf("interview handler: %w", err)
	}
	h.controller = controller
	h.SetHandleEventFunc(h.HandleEvent)
	return h, nil
}

// WithEndTimeout overrides DefaultEndTimeout.
func (h *InterviewHandler) WithEndTimeout(d time.Duration) *InterviewHandler {
	h.endTimeout = d
	return h
}

func (h *InterviewHandler) Controller() *interview.Controller {
	return h.controller
}

func (h *InterviewHandler) Start() error {
	h.StartEventLoop()
	return nil
}

func (h *InterviewHandler) HandleEvent(packet *core.EventPacket) error {
	switch e := packet.Event.(type) {
	case *session.SessionStartedEvent:
		h.controller.OnSessionStart(h.Ctx)
		h.SendPacket(packet)
	case *stt.STTFinalOutputEvent:
		h.SendPacket(packet)
		h.userTurn(e.Text)
	case *transport.TransportTextInputEvent:
		h.SendPacket(packet)
		h.userTurn(e.Text)
	case *llm.LLMAssistantTurnEvent:
		// Generated replies come back from the LLM stage via the top of the
		// pipeline. They only feed the history.
		h.remember(core.LLMMessageRoleAssistant, e.Text)
	case *session.SessionEndedEvent:
		h.SendPacket(packet)
		h.end(e.Reason)
	default:
		h.SendPacket(packet)
	}
	return nil
}

func (h *InterviewHandler) userTurn(text string) {
	h.remember(core.LLMMessageRoleUser, text)

	result := h.controller.OnUserTurnCompleted(h.Ctx, core.LLMMessageRoleUser, text)
	if result.Completed {
		h.SendPacket(core.NewEventPacket(completedEvent(h.controller.Snapshot()), core.EventRelayDestinationNextService, h.Name))
	}
}

// OnAnswer implements interview.AnswerListener. The event goes out right
// after the acknowledgement, ahead of the next question or the completion
// line.
func (h *InterviewHandler) OnAnswer(ctx context.Context, answer interview.TurnResult, total int) {
	h.SendPacket(core.NewEventPacket(&interviewevents.AnswerRecordedEvent{
		SessionID: h.controller.SessionID(),
		Key:       answer.Key,
		Value:     answer.Value,
		Index:     answer.Index,
		Total:     total,
	}, core.EventRelayDestinationNextService, h.Name))
}

func (h *InterviewHandler) end(reason string) {
	h.endOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.endTimeout)
		defer cancel()

		h.Logger.Info("session ended", "reason", reason)
		if h.controller.OnSessionEnd(ctx) {
			h.SendPacket(core.NewEventPacket(completedEvent(h.controller.Snapshot()), core.EventRelayDestinationNextService, h.Name))
		}
		// EndCall follows the final events down the chain so that the
		// output stage has delivered them before the runner finishes.
		h.SendPacket(core.NewEventPacket(&core.EndCallEvent{Reason: reason}, core.EventRelayDestinationNextService, h.Name))
	})
}

func completedEvent(snap interview.Snapshot) *interviewevents.InterviewCompletedEvent {
	return &interviewevents.InterviewCompletedEvent{
		SessionID: snap.SessionID,
		Complete:  snap.Phase == interview.PhaseComplete,
		Answers:   snap.Answers,
		Keys:      snap.Keys,
	}
}

// Speak implements interview.OutputChannel.
func (h *InterviewHandler) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.remember(core.LLMMessageRoleAssistant, text)
	return h.Emit(core.NewEventPacket(&tts.TTSSpeakEvent{Text: text}, core.EventRelayDestinationNextService, h.Name))
}

// RequestGeneratedReply implements interview.OutputChannel. The LLM sees the
// persona, the conversation so far and an instruction naming the question;
// the question itself is the fallback line.
func (h *InterviewHandler) RequestGeneratedReply(ctx context.Context, instruction string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.Emit(core.NewEventPacket(&llm.LLMGenerateResponseEvent{
		Context:  h.replyContext(instruction),
		Fallback: instruction,
	}, core.EventRelayDestinationNextService, h.Name))
}

func (h *InterviewHandler) replyContext(question string) core.LLMContext {
	h.historyMu.Lock()
	defer h.historyMu.Unlock()

	var c core.LLMContext
	c.AddSystemMessage(h.controller.Script().Instructions)
	c.Messages = append(c.Messages, h.history.Messages...)
	c.AddSystemMessage(fmt.Sprintf(nextQuestionInstruction, question))
	return c
}

func (h *InterviewHandler) remember(role core.LLMMessageRole, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	h.historyMu.Lock()
	defer h.historyMu.Unlock()
	switch role {
	case core.LLMMessageRoleUser:
		h.history.AddUserMessage(text)
	default:
		h.history.AddAssistantMessage(text)
	}
}

// History returns a copy of the conversation kept for generated replies.
func (h *InterviewHandler) History() core.LLMContext {
	h.historyMu.Lock()
	defer h.historyMu.Unlock()
	return h.history.Clone()
}
