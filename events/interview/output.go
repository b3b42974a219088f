package interview

// AnswerRecordedEvent is published after each accepted answer.
type AnswerRecordedEvent struct {
	SessionID string `json:"session_id"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
}

func (e *AnswerRecordedEvent) GetId() string { return "interview.answer_recorded" }

func (e *AnswerRecordedEvent) ExternalOutput() {}

// InterviewCompletedEvent is published once per session: when the last
// question is answered (Complete=true) or when the session ends early with
// partial answers.
type InterviewCompletedEvent struct {
	SessionID string            `json:"session_id"`
	Complete  bool              `json:"complete"`
	Answers   map[string]string `json:"answers"`
	Keys      []string          `json:"keys"`
}

func (e *InterviewCompletedEvent) GetId() string { return "interview.completed" }

func (e *InterviewCompletedEvent) ExternalOutput() {}
