package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-describe/internal/batch"
	"github.com/fpang/media-describe/internal/mediafile"
	"github.com/fpang/media-describe/internal/prompts"
	"github.com/fpang/media-describe/internal/provider"
	"github.com/fpang/media-describe/internal/report"
	"github.com/fpang/media-describe/internal/workspace"
)

// Output directory layout under the output root.
const (
	framesDirName    = "frames"
	convertedDirName = "converted"
	workspaceName    = "workspace.json"
	reportName       = "report.html"
)

// Options configures one pipeline run. The provider/model/prompt tuple is
// pinned at submission and never changes mid-run.
type Options struct {
	// InputRoot is the directory to process.
	InputRoot string

	// OutputRoot holds frames, converted images, the workspace document,
	// the report, and the status log. Defaults to
	// InputRoot/media-describe-output.
	OutputRoot string

	// Model is the vision model identifier.
	Model string

	// PromptStyle names a built-in prompt style; CustomPrompt overrides it.
	PromptStyle  string
	CustomPrompt string

	// Steps selects which stages run. Empty means all. Discover always
	// runs; it is how the pipeline learns what the other stages work on.
	Steps []Stage

	// FrameInterval is the seconds between extracted video frames.
	FrameInterval int

	// InterItemDelay spaces out provider calls during the describe stage.
	InterItemDelay time.Duration

	// SkipMetadata disables the EXIF/ffprobe fact sheet in prompts.
	SkipMetadata bool

	// ArchivePath, when set, bundles the output root into a tar.zst
	// archive after the report stage.
	ArchivePath string

	// OnProgress receives describe-stage progress events. Optional.
	OnProgress batch.ProgressFunc
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.OutputRoot == "" {
		opts.OutputRoot = filepath.Join(opts.InputRoot, "media-describe-output")
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = mediafile.DefaultFrameInterval
	}
	return opts
}

func (o *Options) wants(stage Stage) bool {
	if len(o.Steps) == 0 {
		return true
	}
	for _, s := range o.Steps {
		if s == stage {
			return true
		}
	}
	return false
}

// Orchestrator runs the pipeline stages in order against one provider client
// and one workspace. Stages run strictly sequentially; a stage failure aborts
// the run, while per-item describe failures do not.
type Orchestrator struct {
	Client    provider.Client
	Workspace *workspace.Workspace
}

// New builds an orchestrator.
func New(client provider.Client, ws *workspace.Workspace) *Orchestrator {
	return &Orchestrator{Client: client, Workspace: ws}
}

// Execute runs the pipeline. The returned Run records every stage's status;
// the error is non-nil only when a stage failed and the run aborted. Per-item
// describe failures are reported in the run's DescribeSummary instead.
//
// Runs are resumable: the status log under the output root records what
// earlier runs with the same provider/model/prompt tuple completed, and those
// stages and items are skipped. The log, not the output directory contents,
// is the source of truth for what is done.
func (o *Orchestrator) Execute(ctx context.Context, opts Options) (*Run, error) {
	opts = opts.withDefaults()

	prompt, err := prompts.Resolve(opts.PromptStyle, opts.CustomPrompt)
	if err != nil {
		return nil, err
	}
	if err := o.loadWorkspace(opts); err != nil {
		return nil, err
	}

	run := newRun(o.Client.Name(), opts.Model, opts.PromptStyle, opts.InputRoot, opts.OutputRoot)

	prior, err := ReadPriorState(opts.OutputRoot, run.Provider, run.Model, run.PromptStyle)
	if err != nil {
		return nil, err
	}
	rlog, err := openRunLog(opts.OutputRoot, run)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("run_id", run.ID).
		Str("provider", run.Provider).
		Str("model", run.Model).
		Str("prompt_style", run.PromptStyle).
		Str("input", opts.InputRoot).
		Str("output", opts.OutputRoot).
		Msg("Pipeline run starting")

	found, err := o.discover(run, rlog, opts)
	if err != nil {
		return run, err
	}

	if err := o.extractFrames(ctx, run, rlog, prior, opts, found); err != nil {
		return run, err
	}
	if err := o.convertFormats(ctx, run, rlog, prior, opts, found); err != nil {
		return run, err
	}
	if err := o.describe(ctx, run, rlog, prior, opts, prompt); err != nil {
		return run, err
	}
	// Runs that skip the describe stage still discover items; persist them
	// before the report reads the document back.
	if err := o.saveWorkspace(opts); err != nil {
		return run, err
	}
	if err := o.generateReport(run, rlog, opts); err != nil {
		return run, err
	}

	log.Info().Str("run_id", run.ID).Msg("Pipeline run finished")
	return run, nil
}

// loadWorkspace adopts the document a previous run saved under the output
// root, so a resumed run keeps earlier descriptions and frame items instead
// of overwriting them with an empty document. A caller-provided workspace
// that already has content takes precedence over the disk copy.
func (o *Orchestrator) loadWorkspace(opts Options) error {
	if o.Workspace == nil {
		o.Workspace = workspace.New()
	}
	if o.Workspace.Len() > 0 {
		return nil
	}
	path := filepath.Join(opts.OutputRoot, workspaceName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat workspace document %s: %w", path, err)
	}
	ws, err := workspace.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load prior workspace: %w", err)
	}
	o.Workspace = ws
	return nil
}

// discover scans the input root and registers every supported file in the
// workspace. Convertible files are not added as items; the convert stage adds
// their JPEG outputs instead.
func (o *Orchestrator) discover(run *Run, rlog *runLog, opts Options) ([]mediafile.Found, error) {
	run.setStage(StageDiscover, StatusRunning, nil)
	rlog.Stage(StageDiscover, StatusRunning, nil)

	found, err := mediafile.Scan(opts.InputRoot, mediafile.ScanOptions{})
	if err != nil {
		run.setStage(StageDiscover, StatusFailed, err)
		rlog.Stage(StageDiscover, StatusFailed, err)
		return nil, fmt.Errorf("discover stage failed: %w", err)
	}

	o.Workspace.AddDirectoryPath(opts.InputRoot)
	for _, f := range found {
		switch f.Kind {
		case mediafile.KindImage:
			o.Workspace.EnsureItem(f.Path, workspace.ItemImage, "")
		case mediafile.KindVideo:
			o.Workspace.EnsureItem(f.Path, workspace.ItemVideo, "")
		}
	}

	run.setStage(StageDiscover, StatusCompleted, nil)
	rlog.Stage(StageDiscover, StatusCompleted, nil)
	return found, nil
}

// extractFrames runs ffmpeg frame extraction for every discovered video. When
// a prior run already completed the stage, existing frames are registered in
// the workspace without invoking ffmpeg.
func (o *Orchestrator) extractFrames(ctx context.Context, run *Run, rlog *runLog, prior *PriorState, opts Options, found []mediafile.Found) error {
	videos := filterKind(found, mediafile.KindVideo)
	framesRoot := filepath.Join(opts.OutputRoot, framesDirName)

	if !opts.wants(StageExtractFrames) || len(videos) == 0 {
		o.skipStage(run, rlog, StageExtractFrames)
		return nil
	}
	if prior.CompletedStages[StageExtractFrames] {
		for _, video := range videos {
			o.registerFrames(video, mediafile.ExistingFrames(video, framesRoot))
		}
		o.skipStage(run, rlog, StageExtractFrames)
		return nil
	}

	run.setStage(StageExtractFrames, StatusRunning, nil)
	rlog.Stage(StageExtractFrames, StatusRunning, nil)

	for _, video := range videos {
		frames, err := mediafile.ExtractFrames(ctx, video, framesRoot, opts.FrameInterval)
		if err != nil {
			run.setStage(StageExtractFrames, StatusFailed, err)
			rlog.Stage(StageExtractFrames, StatusFailed, err)
			return fmt.Errorf("extract stage failed: %w", err)
		}
		o.registerFrames(video, frames)
	}

	run.setStage(StageExtractFrames, StatusCompleted, nil)
	rlog.Stage(StageExtractFrames, StatusCompleted, nil)
	return nil
}

func (o *Orchestrator) registerFrames(video string, frames []string) {
	for _, frame := range frames {
		o.Workspace.EnsureItem(frame, workspace.ItemFrame, video)
	}
}

// convertFormats converts HEIC/TIFF/BMP files to JPEG. The JPEG outputs, not
// the originals, become describable workspace items.
func (o *Orchestrator) convertFormats(ctx context.Context, run *Run, rlog *runLog, prior *PriorState, opts Options, found []mediafile.Found) error {
	convertibles := filterKind(found, mediafile.KindConvertible)
	convertedDir := filepath.Join(opts.OutputRoot, convertedDirName)

	if !opts.wants(StageConvertFormats) || len(convertibles) == 0 {
		o.skipStage(run, rlog, StageConvertFormats)
		return nil
	}
	if prior.CompletedStages[StageConvertFormats] {
		for _, path := range convertibles {
			base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			o.Workspace.EnsureItem(filepath.Join(convertedDir, base+".jpg"), workspace.ItemImage, "")
		}
		o.skipStage(run, rlog, StageConvertFormats)
		return nil
	}

	run.setStage(StageConvertFormats, StatusRunning, nil)
	rlog.Stage(StageConvertFormats, StatusRunning, nil)

	for _, path := range convertibles {
		outPath, err := mediafile.Convert(ctx, path, convertedDir)
		if err != nil {
			run.setStage(StageConvertFormats, StatusFailed, err)
			rlog.Stage(StageConvertFormats, StatusFailed, err)
			return fmt.Errorf("convert stage failed: %w", err)
		}
		o.Workspace.EnsureItem(outPath, workspace.ItemImage, "")
	}

	run.setStage(StageConvertFormats, StatusCompleted, nil)
	rlog.Stage(StageConvertFormats, StatusCompleted, nil)
	return nil
}

// describe sends every describable workspace item to the provider through a
// batch run. Items whose (provider, model, prompt style) tuple already exists
// in the workspace or in the status log are skipped without a provider call.
// Per-item failures do not fail the stage; cancellation does.
func (o *Orchestrator) describe(ctx context.Context, run *Run, rlog *runLog, prior *PriorState, opts Options, prompt string) error {
	if !opts.wants(StageDescribe) {
		o.skipStage(run, rlog, StageDescribe)
		return nil
	}

	tasks := o.buildTasks(run, opts, prompt)
	if len(tasks) == 0 {
		o.skipStage(run, rlog, StageDescribe)
		return nil
	}

	run.setStage(StageDescribe, StatusRunning, nil)
	rlog.Stage(StageDescribe, StatusRunning, nil)

	runner := &batch.Runner{
		Client: o.Client,
		Delay:  opts.InterItemDelay,
		SkipDone: func(t *batch.Task) bool {
			if prior.DescribedItems[t.Path] {
				return true
			}
			return o.Workspace.HasDescription(t.Path, run.Provider, run.Model, run.PromptStyle)
		},
		OnProgress: func(p batch.Progress) {
			o.recordProgress(run, rlog, p)
			if opts.OnProgress != nil {
				opts.OnProgress(p)
			}
		},
	}
	run.DescribeSummary = runner.Run(ctx, tasks)

	// Persist descriptions before deciding the stage outcome, so results
	// from a cancelled batch survive.
	if err := o.saveWorkspace(opts); err != nil {
		run.setStage(StageDescribe, StatusFailed, err)
		rlog.Stage(StageDescribe, StatusFailed, err)
		return err
	}

	if ctx.Err() != nil {
		run.setStage(StageDescribe, StatusFailed, ctx.Err())
		rlog.Stage(StageDescribe, StatusFailed, ctx.Err())
		return fmt.Errorf("describe stage cancelled: %w", ctx.Err())
	}

	run.setStage(StageDescribe, StatusCompleted, nil)
	rlog.Stage(StageDescribe, StatusCompleted, nil)
	return nil
}

// buildTasks turns the workspace's describable items into a task queue, in
// workspace insertion order.
func (o *Orchestrator) buildTasks(run *Run, opts Options, prompt string) []*batch.Task {
	var tasks []*batch.Task
	for _, item := range o.Workspace.DescribableItems() {
		mime, err := mediafile.MIMEType(item.FilePath)
		if err != nil {
			log.Warn().Str("path", item.FilePath).Err(err).Msg("Skipping item with unknown MIME type")
			continue
		}
		tasks = append(tasks, &batch.Task{
			Path:            item.FilePath,
			MIMEType:        mime,
			Model:           run.Model,
			PromptStyle:     run.PromptStyle,
			CustomPrompt:    opts.CustomPrompt,
			Prompt:          prompt,
			SystemPrompt:    prompts.SystemPrompt,
			MetadataContext: o.factContext(item, opts),
		})
	}
	return tasks
}

// factContext builds the metadata fact sheet for an item's prompt. Frames
// inherit their parent video's facts. Metadata failures degrade to an empty
// context rather than failing the task.
func (o *Orchestrator) factContext(item *workspace.Item, opts Options) string {
	if opts.SkipMetadata {
		return ""
	}
	var facts *mediafile.FactSheet
	var err error
	if item.ItemType == workspace.ItemFrame && item.ParentVideo != "" {
		facts, err = mediafile.VideoFacts(item.ParentVideo)
	} else {
		facts, err = mediafile.ImageFacts(item.FilePath)
	}
	if err != nil {
		log.Debug().Str("path", item.FilePath).Err(err).Msg("No metadata facts for item")
		return ""
	}
	return facts.PromptContext()
}

// recordProgress applies terminal describe events to the workspace and the
// status log. Runner.Run is synchronous, so this executes on the driving
// goroutine and the single-writer workspace discipline holds.
func (o *Orchestrator) recordProgress(run *Run, rlog *runLog, p batch.Progress) {
	switch p.State {
	case batch.Succeeded:
		result := workspace.NewDescriptionResult(
			p.Result.Text, run.Provider, run.Model, run.PromptStyle, "")
		if err := o.Workspace.AddDescription(p.Path, result); err != nil {
			log.Error().Str("path", p.Path).Err(err).Msg("Failed to record description")
			return
		}
		rlog.Item(p.Path, "succeeded", nil)
	case batch.Failed:
		rlog.Item(p.Path, "failed", p.Err)
	case batch.Skipped:
		rlog.Item(p.Path, "skipped", nil)
	case batch.Cancelled:
		rlog.Item(p.Path, "cancelled", nil)
	}
}

func (o *Orchestrator) saveWorkspace(opts Options) error {
	if !o.Workspace.Modified() {
		return nil
	}
	path := filepath.Join(opts.OutputRoot, workspaceName)
	if err := o.Workspace.Save(path); err != nil {
		return fmt.Errorf("failed to save workspace: %w", err)
	}
	return nil
}

// generateReport renders the HTML gallery and, when requested, the tar.zst
// archive of the output root.
func (o *Orchestrator) generateReport(run *Run, rlog *runLog, opts Options) error {
	if !opts.wants(StageGenerateReport) {
		o.skipStage(run, rlog, StageGenerateReport)
		return nil
	}

	run.setStage(StageGenerateReport, StatusRunning, nil)
	rlog.Stage(StageGenerateReport, StatusRunning, nil)

	reportPath := filepath.Join(opts.OutputRoot, reportName)
	if err := report.Generate(o.Workspace, run.Provider, run.Model, reportPath); err != nil {
		run.setStage(StageGenerateReport, StatusFailed, err)
		rlog.Stage(StageGenerateReport, StatusFailed, err)
		return fmt.Errorf("report stage failed: %w", err)
	}

	if opts.ArchivePath != "" {
		if err := report.Archive(opts.OutputRoot, opts.ArchivePath); err != nil {
			run.setStage(StageGenerateReport, StatusFailed, err)
			rlog.Stage(StageGenerateReport, StatusFailed, err)
			return fmt.Errorf("report stage failed: %w", err)
		}
	}

	run.setStage(StageGenerateReport, StatusCompleted, nil)
	rlog.Stage(StageGenerateReport, StatusCompleted, nil)
	return nil
}

func (o *Orchestrator) skipStage(run *Run, rlog *runLog, stage Stage) {
	run.setStage(stage, StatusSkippedAlreadyDone, nil)
	rlog.Stage(stage, StatusSkippedAlreadyDone, nil)
	log.Debug().Str("stage", string(stage)).Msg("Stage skipped")
}

func filterKind(found []mediafile.Found, kind mediafile.Kind) []string {
	var out []string
	for _, f := range found {
		if f.Kind == kind {
			out = append(out, f.Path)
		}
	}
	return out
}
