package core

// CriticalErrorEvent is emitted when a handler's service failed and no
// backup service was left to switch to.
type CriticalErrorEvent struct {
	Handler string `json:"handler"`
	Error   string `json:"error"`
}

func (e *CriticalErrorEvent) GetId() string {
	return "shared.critical_error"
}

type WarningEvent struct {
	Handler string `json:"handler"`
	Error   string `json:"error"`
}

func (e *WarningEvent) GetId() string {
	return "shared.warning"
}

// EndCallEvent is fired when the session is over. The runner closes Finished
// when it leaves the last handler or is sent to the top.
type EndCallEvent struct {
	Reason string `json:"reason"`
}

func (e *EndCallEvent) GetId() string {
	return "shared.end_call"
}
