package core

import (
	"time"

	"github.com/google/uuid"
)

type EventRelayDestination int

const (
	EventRelayDestinationNextService EventRelayDestination = iota + 1 // Pass to the next service in the pipeline.
	EventRelayDestinationTopService                                   // Re-enter the pipeline at the first handler so every stage observes the event.
)

type EventPacket struct {
	Event       IEvent
	Destination EventRelayDestination
	Uid         string    // Unique identifier for tracking the event packet.
	Relayer     string    // Identifier of the handler that emitted the event.
	CreatedAt   time.Time // Emission time, used for stage latency metrics.
}

func NewEventPacket(event IEvent, destination EventRelayDestination, relayer string) *EventPacket {
	return &EventPacket{
		Event:       event,
		Destination: destination,
		Uid:         uuid.NewString(),
		Relayer:     relayer,
		CreatedAt:   time.Now(),
	}
}
