// Package batch drives an ordered queue of description tasks through one
// provider client: sequentially, with an inter-item delay, cooperative
// cancellation at item boundaries, and per-item failure isolation.
package batch

import (
	"github.com/fpang/media-describe/internal/provider"
)

// State is a task's lifecycle state. Transitions are monotonic:
// Pending → Running → one terminal state, never revisited. The runner is the
// sole mutator of task state while a run is in flight.
type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
	Skipped
	Cancelled
)

// String returns the state's display name.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Skipped || s == Cancelled
}

// Task is one unit of work: one image, one provider, one model, one prompt.
// Its lifecycle is independent of how it is scheduled; the runner mutates it
// and nothing else does.
type Task struct {
	// Path is the image file to describe.
	Path string

	// MIMEType is the image's MIME type.
	MIMEType string

	// Model, PromptStyle and CustomPrompt identify the work for idempotent
	// skip checks and for tagging the stored result.
	Model        string
	PromptStyle  string
	CustomPrompt string

	// Prompt is the resolved prompt text sent to the provider.
	Prompt string

	// SystemPrompt is the backend-level instruction sent with the prompt.
	SystemPrompt string

	// MetadataContext is the optional fact sheet appended to the prompt.
	MetadataContext string

	// State is the task's lifecycle state.
	State State

	// Attempts counts runner invocations of the provider for this task.
	// Retries inside the provider client are not visible here.
	Attempts int

	// ErrKind names the failure category for terminal failures, or the
	// skip reason ("already_described", "auth_short_circuit").
	ErrKind string

	// Err is the final error for Failed tasks.
	Err error

	// Result holds the description for Succeeded tasks.
	Result *provider.Description
}

// setState advances the task's state. Terminal states are never overwritten;
// a violation indicates a runner bug and is ignored rather than propagated.
func (t *Task) setState(next State) {
	if t.State.Terminal() {
		return
	}
	t.State = next
}

// Progress is one batch progress event, emitted at item boundaries so a UI
// can render "N of M" without polling. Result is set on finish events for
// succeeded tasks, letting the owning context apply it to the workspace.
type Progress struct {
	// Index is the 1-based position of the current task.
	Index int

	// Total is the queue length.
	Total int

	// Path is the current item.
	Path string

	// State is the task state after this event.
	State State

	// Err is the task's failure, nil otherwise.
	Err error

	// Result is the description for succeeded finish events.
	Result *provider.Description
}

// Summary reports batch outcome counts.
type Summary struct {
	Succeeded int
	Failed    int
	Skipped   int
	Cancelled int

	// AuthFailed is true when the run short-circuited after an auth error;
	// every remaining task was skipped because the credential is bad for
	// all of them.
	AuthFailed bool
}

// Total returns the number of tasks accounted for.
func (s Summary) Total() int {
	return s.Succeeded + s.Failed + s.Skipped + s.Cancelled
}
