package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// LogFileName is the status log file kept under the output root.
const LogFileName = "run.log.jsonl"

// logEntry is one line of the status log. Stage transitions carry Stage and
// Status; per-item describe outcomes carry Item and Outcome. Every entry
// carries the run ID and the provider/model/prompt tuple so a later run can
// tell which prior work applies to it.
type logEntry struct {
	Time        time.Time `json:"time"`
	RunID       string    `json:"run_id"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	PromptStyle string    `json:"prompt_style"`

	Stage  string `json:"stage,omitempty"`
	Status string `json:"status,omitempty"`

	Item    string `json:"item,omitempty"`
	Outcome string `json:"outcome,omitempty"`

	Error string `json:"error,omitempty"`
}

// runLog appends status entries for one run to the shared log file. The log
// is append-only; a crashed run leaves its partial history in place and a
// later run reads it back to decide what is already done.
type runLog struct {
	path string
	run  *Run
}

func openRunLog(outputRoot string, run *Run) (*runLog, error) {
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &runLog{path: filepath.Join(outputRoot, LogFileName), run: run}, nil
}

// Stage records a stage status transition.
func (l *runLog) Stage(stage Stage, status StageStatus, stageErr error) {
	e := l.base()
	e.Stage = string(stage)
	e.Status = string(status)
	if stageErr != nil {
		e.Error = stageErr.Error()
	}
	l.append(e)
}

// Item records a per-item describe outcome ("succeeded", "failed",
// "skipped", "cancelled").
func (l *runLog) Item(itemPath, outcome string, itemErr error) {
	e := l.base()
	e.Stage = string(StageDescribe)
	e.Item = itemPath
	e.Outcome = outcome
	if itemErr != nil {
		e.Error = itemErr.Error()
	}
	l.append(e)
}

func (l *runLog) base() logEntry {
	return logEntry{
		Time:        time.Now().UTC(),
		RunID:       l.run.ID,
		Provider:    l.run.Provider,
		Model:       l.run.Model,
		PromptStyle: l.run.PromptStyle,
	}
}

// append writes one line. Each entry is flushed and synced before the stage
// work it describes proceeds, so the log survives a crash mid-stage.
func (l *runLog) append(e logEntry) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn().Err(err).Str("path", l.path).Msg("Failed to open status log")
		return
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal status log entry")
		return
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Warn().Err(err).Str("path", l.path).Msg("Failed to append status log entry")
		return
	}
	_ = f.Sync()
}

// PriorState is what earlier runs with the same provider/model/prompt tuple
// already accomplished, reconstructed from the status log. The log, not the
// contents of the output directory, decides what gets skipped on resume.
type PriorState struct {
	// CompletedStages holds stages a prior run finished (Completed or
	// SkippedAlreadyDone).
	CompletedStages map[Stage]bool

	// DescribedItems holds item paths whose description succeeded in a
	// prior run.
	DescribedItems map[string]bool
}

// ReadPriorState replays the status log under outputRoot, keeping only
// entries whose provider/model/prompt tuple matches. A missing log file
// yields an empty state. Malformed lines (a crash can truncate the final
// line) are skipped.
func ReadPriorState(outputRoot, providerName, model, promptStyle string) (*PriorState, error) {
	state := &PriorState{
		CompletedStages: make(map[Stage]bool),
		DescribedItems:  make(map[string]bool),
	}

	path := filepath.Join(outputRoot, LogFileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return nil, fmt.Errorf("failed to open status log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lines := 0
	for scanner.Scan() {
		lines++
		var e logEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			log.Debug().Int("line", lines).Err(err).Msg("Skipping malformed status log line")
			continue
		}
		if e.Provider != providerName || e.Model != model || e.PromptStyle != promptStyle {
			continue
		}

		switch {
		case e.Item != "" && e.Outcome == "succeeded":
			state.DescribedItems[e.Item] = true
		case e.Stage != "" && e.Item == "":
			switch StageStatus(e.Status) {
			case StatusCompleted, StatusSkippedAlreadyDone:
				state.CompletedStages[Stage(e.Stage)] = true
			case StatusRunning, StatusFailed:
				// A re-run of a stage invalidates its earlier completion.
				delete(state.CompletedStages, Stage(e.Stage))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read status log: %w", err)
	}

	log.Debug().
		Str("path", path).
		Int("lines", lines).
		Int("completed_stages", len(state.CompletedStages)).
		Int("described_items", len(state.DescribedItems)).
		Msg("Replayed status log")
	return state, nil
}
