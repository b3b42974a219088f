package interview

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"soulagent/core"
)

var (
	ErrMissingSessionID = errors.New("interview: session id is required")
	ErrMissingOutput    = errors.New("interview: output channel is required")
)

// Phase is where the interview currently stands.
type Phase int

const (
	PhaseGreeting Phase = iota
	PhaseAwaitingAnswer
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseGreeting:
		return "greeting"
	case PhaseAwaitingAnswer:
		return "awaiting_answer"
	case PhaseComplete:
		return "complete"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Ignore reasons reported to the Observer.
const (
	IgnoredNotUser    = "not_user"
	IgnoredNotStarted = "not_started"
	IgnoredComplete   = "complete"
)

type Config struct {
	SessionID string
	Script    Script
	Questions *QuestionSet
	Output    OutputChannel

	// Optional.
	Messages  MessageLogger
	Extractor BiodataExtractor
	Status    StatusRecorder
	Listener  AnswerListener
	Observer  Observer
	Logger    *core.Logger
}

// TurnResult describes what a user turn did to the interview.
type TurnResult struct {
	Accepted  bool
	Key       string
	Value     string
	Index     int // zero-based index of the answered question
	Completed bool
}

// Snapshot is a copy of the interview state.
type Snapshot struct {
	SessionID string
	Phase     Phase
	Cursor    int
	Total     int
	Answers   map[string]string
	Keys      []string // answered keys in question order
	Extracted bool
}

// Controller runs one scripted interview: it greets, records one answer per
// user turn under the current question's key, acknowledges it, and moves on
// until every question is answered. All entry points are serialized, so
// turns are applied strictly in arrival order.
//
// At every return the number of answers equals the cursor, and the cursor
// never exceeds the number of questions.
type Controller struct {
	mu sync.Mutex

	sessionID string
	script    Script
	questions *QuestionSet
	out       OutputChannel
	messages  MessageLogger
	extractor BiodataExtractor
	status    StatusRecorder
	listener  AnswerListener
	observer  Observer
	logger    *core.Logger

	phase     Phase
	cursor    int
	answers   map[string]string
	extracted bool
	ended     bool
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.SessionID == "" {
		return nil, ErrMissingSessionID
	}
	if cfg.Output == nil {
		return nil, ErrMissingOutput
	}
	if cfg.Questions == nil || cfg.Questions.Len() == 0 {
		return nil, ErrNoQuestions
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.GetLogger()
	}

	return &Controller{
		sessionID: cfg.SessionID,
		script:    cfg.Script.withDefaults(),
		questions: cfg.Questions,
		out:       cfg.Output,
		messages:  cfg.Messages,
		extractor: cfg.Extractor,
		status:    cfg.Status,
		listener:  cfg.Listener,
		observer:  observer,
		logger:    logger.With(map[string]interface{}{"session_id": cfg.SessionID}),
		answers:   make(map[string]string, cfg.Questions.Len()),
	}, nil
}

// OnSessionStart speaks the greeting and asks for the first question to be
// phrased. It only acts once, from the greeting phase.
func (c *Controller) OnSessionStart(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseGreeting {
		c.logger.Debug("session start ignored", "phase", c.phase.String())
		return
	}
	c.phase = PhaseAwaitingAnswer
	c.logger.Info("interview started", "questions", c.questions.Len())

	c.speak(ctx, c.script.Greeting)
	c.requestReply(ctx, c.questions.At(0).Prompt)
}

// OnUserTurnCompleted applies one finished conversational turn. Only user
// turns received while awaiting an answer are recorded; the text is stored
// verbatim, empty or not.
func (c *Controller) OnUserTurnCompleted(ctx context.Context, role core.LLMMessageRole, text string) TurnResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if role != core.LLMMessageRoleUser {
		c.observer.TurnIgnored(IgnoredNotUser)
		return TurnResult{}
	}
	switch c.phase {
	case PhaseGreeting:
		c.logger.Debug("user turn before session start ignored")
		c.observer.TurnIgnored(IgnoredNotStarted)
		return TurnResult{}
	case PhaseComplete:
		c.logger.Debug("user turn after completion ignored")
		c.observer.TurnIgnored(IgnoredComplete)
		return TurnResult{}
	}

	q := c.questions.At(c.cursor)
	result := TurnResult{Accepted: true, Key: q.Key, Value: text, Index: c.cursor}

	c.logMessage(ctx, core.LLMMessageRoleUser, text)
	c.answers[q.Key] = text

	ack := c.script.Acknowledge(q.Key, text)
	c.speak(ctx, ack)
	c.logMessage(ctx, core.LLMMessageRoleAssistant, ack)

	c.cursor++
	c.observer.AnswerRecorded(q.Key)
	c.logger.Info("answer recorded", "key", q.Key, "answered", c.cursor, "total", c.questions.Len())
	c.notifyAnswer(ctx, result)

	if c.cursor < c.questions.Len() {
		c.requestReply(ctx, c.questions.At(c.cursor).Prompt)
		return result
	}

	c.phase = PhaseComplete
	result.Completed = true
	c.logger.Info("interview complete")
	c.observer.InterviewFinished(true)

	c.speak(ctx, c.script.Completion)
	c.logMessage(ctx, core.LLMMessageRoleAssistant, c.script.Completion)
	c.extract(ctx)
	return result
}

// OnSessionEnd runs extraction over the partial answers when the session
// ends before the interview completed. A session with no answers has
// nothing to extract. It leaves the interview state as is and reports
// whether extraction was started.
func (c *Controller) OnSessionEnd(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseComplete || c.ended {
		return false
	}
	c.ended = true
	c.logger.Info("session ended before completion", "answered", c.cursor, "total", c.questions.Len())
	c.observer.InterviewFinished(false)
	if c.cursor == 0 {
		return false
	}
	return c.extract(ctx)
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	answers := make(map[string]string, len(c.answers))
	for k, v := range c.answers {
		answers[k] = v
	}
	keys := make([]string, 0, c.cursor)
	for i := 0; i < c.cursor; i++ {
		keys = append(keys, c.questions.At(i).Key)
	}
	return Snapshot{
		SessionID: c.sessionID,
		Phase:     c.phase,
		Cursor:    c.cursor,
		Total:     c.questions.Len(),
		Answers:   answers,
		Keys:      keys,
		Extracted: c.extracted,
	}
}

func (c *Controller) SessionID() string {
	return c.sessionID
}

func (c *Controller) Script() Script {
	return c.script
}

func (c *Controller) speak(ctx context.Context, text string) {
	if err := guard(func() error { return c.out.Speak(ctx, text) }); err != nil {
		c.logger.Warn("speak failed", "error", err)
		c.observer.OutputFailed("speak")
	}
}

func (c *Controller) requestReply(ctx context.Context, prompt string) {
	if err := guard(func() error { return c.out.RequestGeneratedReply(ctx, prompt) }); err != nil {
		c.logger.Warn("generated reply request failed", "error", err)
		c.observer.OutputFailed("generate_reply")
	}
}

func (c *Controller) logMessage(ctx context.Context, role core.LLMMessageRole, text string) {
	if c.messages == nil {
		return
	}
	err := guard(func() error { return c.messages.LogMessage(ctx, c.sessionID, role, text) })
	if err != nil {
		c.logger.Warn("message logging failed", "role", string(role), "error", err)
		c.observer.CollaboratorFailed("message_log")
	}
}

func (c *Controller) notifyAnswer(ctx context.Context, answer TurnResult) {
	if c.listener == nil {
		return
	}
	err := guard(func() error {
		c.listener.OnAnswer(ctx, answer, c.questions.Len())
		return nil
	})
	if err != nil {
		c.logger.Warn("answer listener failed", "error", err)
		c.observer.CollaboratorFailed("answer_listener")
	}
}

// extract is called with mu held and runs at most once per interview. The
// status goes first so the extractor can see whether the interview finished.
func (c *Controller) extract(ctx context.Context) bool {
	if c.extracted {
		return false
	}
	c.extracted = true
	if c.status != nil {
		err := guard(func() error { return c.status.RecordStatus(ctx, c.sessionID, c.cursor, c.questions.Len()) })
		if err != nil {
			c.logger.Error("interview status not saved", "error", err)
			c.observer.CollaboratorFailed("interview_status")
		}
	}
	if c.extractor == nil {
		return false
	}
	if err := guard(func() error { return c.extractor.ExtractBiodata(ctx, c.sessionID) }); err != nil {
		c.logger.Error("biodata extraction failed", "error", err)
		c.observer.CollaboratorFailed("biodata_extractor")
	}
	return true
}

// guard turns a collaborator panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
