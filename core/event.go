package core

type IEvent interface {
	GetId() string // Returns the unique identifier of the event.
}

// IExternalOutputEvent is implemented by events that leave the pipeline:
// the runner hands them to its external output callback once they reach
// the end of the chain, in addition to normal relaying.
type IExternalOutputEvent interface {
	IEvent
	ExternalOutput()
}

// IsExternalOutput reports whether e should be published outside the pipeline.
func IsExternalOutput(e IEvent) bool {
	_, ok := e.(IExternalOutputEvent)
	return ok
}
