package session

// SessionStartedEvent is emitted by the transport once the client is
// connected and the session identifier is known.
type SessionStartedEvent struct {
	SessionID string `json:"session_id"`
}

func (e *SessionStartedEvent) GetId() string { return "session.started" }

// SessionEndedEvent is emitted when the client disconnects or the session is
// otherwise torn down.
type SessionEndedEvent struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

func (e *SessionEndedEvent) GetId() string { return "session.ended" }
