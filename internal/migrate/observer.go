package migrate

import "time"

// EventKind tells what happened to a step.
type EventKind string

const (
	StepStarted  EventKind = "started"
	StepFinished EventKind = "finished"
	StepFailed   EventKind = "failed"
)

// Event reports progress of a migration, one step at a time.
type Event struct {
	Kind        EventKind     `json:"kind"`
	Version     int           `json:"version"`
	Description string        `json:"description"`
	Error       string        `json:"error,omitempty"`
	Elapsed     time.Duration `json:"elapsed,omitempty"`
}

// Observer receives migration events. Observe is called synchronously from
// the migrating goroutine and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) Observe(Event) {}
