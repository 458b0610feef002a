package orchestrator

import "github.com/ginjaninja78/tabular-import/internal/types"

// EventType names a lifecycle milestone of a run.
type EventType string

const (
	// EventFileAccepted is raised once the records of a run are accepted.
	EventFileAccepted EventType = "file_accepted"

	// EventBatchPosted is raised after each chunk the service accepted.
	EventBatchPosted EventType = "batch_posted"

	// EventCompleted is raised when the job finished, with or without
	// rejected rows.
	EventCompleted EventType = "completed"

	// EventFailed is raised when the run ended as FAILED.
	EventFailed EventType = "failed"

	// EventCancelled is raised instead of EventFailed when the run ended
	// because its context was cancelled.
	EventCancelled EventType = "cancelled"
)

// Terminal reports whether t ends a run. Exactly one terminal event is
// raised per run.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventFailed || t == EventCancelled
}

// Event is one lifecycle notification.
type Event struct {
	Type EventType

	// Offset is the index of the first record of the posted chunk, for
	// EventBatchPosted.
	Offset int

	// Result is the live result of the run. Observers must not modify it
	// or keep it past the callback.
	Result *types.UploadResult
}

// Observer receives lifecycle events synchronously, on the goroutine
// driving the run.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) { f(e) }
