package agent

import "github.com/chriskillpack/iris/backend"

type EventKind int

const (
	EventModelCall EventKind = iota
	EventModelResponse
	EventAction
	EventActionResult
	EventDone
	EventAborted
)

// Event reports progress of a run. Which fields are set depends on Kind.
type Event struct {
	Kind  EventKind
	RunID string
	Turn  int

	Stop    backend.StopReason
	Text    string
	Request *backend.ActionRequest
	Result  *backend.ActionResult
}

// Observer is called synchronously, from the goroutine running the loop, for
// every event of a run.
type Observer func(Event)

func (a *Agent) notify(ev Event) {
	if a.observer != nil {
		a.observer(ev)
	}
}
