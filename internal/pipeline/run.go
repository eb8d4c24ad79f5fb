// Package pipeline sequences the media workflow stages (discover, extract
// frames, convert formats, describe, generate report) over an input
// directory, with an append-only status log that makes a crashed or partial
// run resumable.
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/fpang/media-describe/internal/batch"
)

// Stage is one phase of the media pipeline.
type Stage string

const (
	StageDiscover       Stage = "discover"
	StageExtractFrames  Stage = "extract"
	StageConvertFormats Stage = "convert"
	StageDescribe       Stage = "describe"
	StageGenerateReport Stage = "html"
)

// AllStages is the full ordered stage list.
var AllStages = []Stage{
	StageDiscover,
	StageExtractFrames,
	StageConvertFormats,
	StageDescribe,
	StageGenerateReport,
}

// StageStatus tracks a stage's progress within one run. Statuses advance
// monotonically; a stage only starts after its predecessors are Completed or
// SkippedAlreadyDone.
type StageStatus string

const (
	StatusNotStarted StageStatus = "not_started"
	StatusRunning    StageStatus = "running"
	StatusCompleted  StageStatus = "completed"
	StatusFailed     StageStatus = "failed"

	// StatusSkippedAlreadyDone marks a stage that was not needed: no
	// inputs for it, already completed in a prior run, or not requested.
	// The skip is recorded so the status log distinguishes it from a
	// stage that never ran.
	StatusSkippedAlreadyDone StageStatus = "skipped"
)

// StageRecord is one stage's outcome within a run.
type StageRecord struct {
	Stage  Stage
	Status StageStatus
	Err    error
}

// Run describes one pipeline invocation. Identity derives from the start
// timestamp plus the provider/model/prompt tuple; the tuple is pinned for
// the whole run.
type Run struct {
	ID          string
	Started     time.Time
	Provider    string
	Model       string
	PromptStyle string
	InputRoot   string
	OutputRoot  string

	Stages []StageRecord

	// DescribeSummary is the batch outcome of the Describe stage, zero if
	// the stage did not run.
	DescribeSummary batch.Summary
}

// newRun creates a run record with all stages NotStarted.
func newRun(providerName, model, promptStyle, inputRoot, outputRoot string) *Run {
	r := &Run{
		ID:          uuid.NewString(),
		Started:     time.Now().UTC(),
		Provider:    providerName,
		Model:       model,
		PromptStyle: promptStyle,
		InputRoot:   inputRoot,
		OutputRoot:  outputRoot,
	}
	for _, s := range AllStages {
		r.Stages = append(r.Stages, StageRecord{Stage: s, Status: StatusNotStarted})
	}
	return r
}

// setStage advances a stage's status. Terminal stage statuses are never
// overwritten.
func (r *Run) setStage(stage Stage, status StageStatus, err error) {
	for i := range r.Stages {
		if r.Stages[i].Stage != stage {
			continue
		}
		current := r.Stages[i].Status
		if current == StatusCompleted || current == StatusFailed || current == StatusSkippedAlreadyDone {
			return
		}
		r.Stages[i].Status = status
		r.Stages[i].Err = err
		return
	}
}

// StageStatusOf returns the recorded status for a stage.
func (r *Run) StageStatusOf(stage Stage) StageStatus {
	for _, rec := range r.Stages {
		if rec.Stage == stage {
			return rec.Status
		}
	}
	return StatusNotStarted
}

// Failed reports whether any stage failed.
func (r *Run) Failed() bool {
	for _, rec := range r.Stages {
		if rec.Status == StatusFailed {
			return true
		}
	}
	return false
}
