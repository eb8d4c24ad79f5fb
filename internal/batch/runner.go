package batch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-describe/internal/jsonutil"
	"github.com/fpang/media-describe/internal/provider"
)

// Skip reasons recorded in Task.ErrKind for Skipped tasks.
const (
	SkipAlreadyDescribed = "already_described"
	SkipAuthShortCircuit = "auth_short_circuit"
)

// ProgressFunc receives batch progress events. Called on the runner's
// goroutine; implementations that feed a UI must marshal to their own
// context and must not block for long.
type ProgressFunc func(Progress)

// SkipFunc decides whether a task's work already exists (idempotent skip).
// Checked before the provider is invoked.
type SkipFunc func(*Task) bool

// Runner executes a task queue against one provider client. The client is
// pinned for the whole run: availability and model lists are never refreshed
// mid-batch.
type Runner struct {
	// Client is the provider all tasks run against.
	Client provider.Client

	// Delay is the pause between consecutive provider calls. Zero means no
	// delay (tests); production callers pass the configured inter-item delay.
	Delay time.Duration

	// OnProgress receives an event at every item boundary. Optional.
	OnProgress ProgressFunc

	// SkipDone marks tasks whose result already exists as Skipped without
	// a provider call. Optional.
	SkipDone SkipFunc
}

// Run drives the queue to completion, one task at a time, in order.
//
// Cancellation is cooperative and checked only at item boundaries: a task
// that has started runs to its own success or failure, and every task not
// yet started is marked Cancelled. A per-item failure never aborts the
// queue, with one exception: after the first auth failure, every remaining
// task is marked Skipped, since a bad credential fails them all identically.
func (r *Runner) Run(ctx context.Context, tasks []*Task) Summary {
	var summary Summary
	total := len(tasks)

	log.Info().
		Str("provider", r.Client.Name()).
		Int("tasks", total).
		Msg("Batch run starting")

	madeProviderCall := false
	for i, task := range tasks {
		// Boundary cancellation check: never pre-empt a task in flight.
		if ctx.Err() != nil {
			r.cancelRemaining(tasks[i:], i, total, &summary)
			break
		}

		if summary.AuthFailed {
			task.setState(Skipped)
			task.ErrKind = SkipAuthShortCircuit
			summary.Skipped++
			r.emit(Progress{Index: i + 1, Total: total, Path: task.Path, State: task.State})
			continue
		}

		if r.SkipDone != nil && r.SkipDone(task) {
			task.setState(Skipped)
			task.ErrKind = SkipAlreadyDescribed
			summary.Skipped++
			log.Debug().Str("path", task.Path).Msg("Already described, skipping")
			r.emit(Progress{Index: i + 1, Total: total, Path: task.Path, State: task.State})
			continue
		}

		// Space out provider calls to stay under burst rate limits.
		if madeProviderCall && r.Delay > 0 {
			select {
			case <-ctx.Done():
				r.cancelRemaining(tasks[i:], i, total, &summary)
				return summary
			case <-time.After(r.Delay):
			}
		}

		r.runOne(ctx, task, i+1, total, &summary)
		madeProviderCall = true
	}

	log.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("cancelled", summary.Cancelled).
		Msg("Batch run finished")
	return summary
}

// runOne executes a single task to a terminal state.
func (r *Runner) runOne(ctx context.Context, task *Task, index, total int, summary *Summary) {
	task.setState(Running)
	task.Attempts++
	r.emit(Progress{Index: index, Total: total, Path: task.Path, State: task.State})

	result, err := r.Client.Describe(ctx, provider.DescribeRequest{
		ImagePath:       task.Path,
		MIMEType:        task.MIMEType,
		Model:           task.Model,
		Prompt:          task.Prompt,
		SystemPrompt:    task.SystemPrompt,
		MetadataContext: task.MetadataContext,
	})
	if err != nil {
		kind := provider.KindOf(err)
		task.setState(Failed)
		task.Err = err
		task.ErrKind = kind.String()
		summary.Failed++
		if kind == provider.KindAuth {
			// Every remaining call with this credential will fail the
			// same way; skip them instead of burning the queue.
			summary.AuthFailed = true
			log.Error().Str("path", task.Path).Err(err).
				Msg("Auth failure, skipping remaining tasks for this provider")
		} else {
			log.Warn().Str("path", task.Path).Str("kind", task.ErrKind).Err(err).
				Msg("Task failed, continuing batch")
		}
		r.emit(Progress{Index: index, Total: total, Path: task.Path, State: task.State, Err: err})
		return
	}

	result.Text = jsonutil.StripMarkdownFences(result.Text)
	task.setState(Succeeded)
	task.Result = result
	summary.Succeeded++
	r.emit(Progress{Index: index, Total: total, Path: task.Path, State: task.State, Result: result})
}

// cancelRemaining marks every unstarted task Cancelled.
func (r *Runner) cancelRemaining(remaining []*Task, startIndex, total int, summary *Summary) {
	log.Warn().Int("remaining", len(remaining)).Msg("Batch cancelled")
	for j, task := range remaining {
		task.setState(Cancelled)
		summary.Cancelled++
		r.emit(Progress{Index: startIndex + j + 1, Total: total, Path: task.Path, State: task.State})
	}
}

func (r *Runner) emit(p Progress) {
	if r.OnProgress != nil {
		r.OnProgress(p)
	}
}
